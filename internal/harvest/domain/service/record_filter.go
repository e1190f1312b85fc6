package service

import (
	"encoding/json"
	"fmt"

	"catalog-harvester/internal/harvest/domain/model"

	"github.com/google/cel-go/cel"
)

// RecordFilter evaluates a CEL expression against source records. The
// expression sees one variable, record, with keys id, title, source_url and
// data (the decoded record payload).
type RecordFilter struct {
	expression string
	program    cel.Program
}

// NewRecordFilter compiles expression. An empty expression yields a nil filter
// that accepts every record.
func NewRecordFilter(expression string) (*RecordFilter, error) {
	if expression == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, fmt.Errorf("CEL filter must return a bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return &RecordFilter{expression: expression, program: program}, nil
}

// Expression returns the source text of the filter.
func (f *RecordFilter) Expression() string {
	if f == nil {
		return ""
	}
	return f.expression
}

// Accept reports whether record passes the filter. A nil filter accepts everything.
func (f *RecordFilter) Accept(record model.SourceRecord) (bool, error) {
	if f == nil {
		return true, nil
	}

	var data interface{}
	if len(record.Raw) > 0 {
		if err := json.Unmarshal(record.Raw, &data); err != nil {
			return false, fmt.Errorf("failed to decode record payload: %w", err)
		}
	}

	out, _, err := f.program.Eval(map[string]interface{}{
		"record": map[string]interface{}{
			"id":         record.ID,
			"title":      record.Title,
			"source_url": record.SourceURL,
			"data":       data,
		},
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean value")
	}
	return result, nil
}
