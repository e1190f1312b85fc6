package persistence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	sharedErrors "catalog-harvester/internal/shared/errors"
)

// FileReportSink writes the run report as indented JSON. The file is
// replaced atomically so readers never see a partial report.
type FileReportSink struct {
	path string
}

var _ repository.ReportSink = (*FileReportSink)(nil)

// NewFileReportSink creates a sink writing to path.
func NewFileReportSink(path string) *FileReportSink {
	return &FileReportSink{path: path}
}

// Name implements repository.ReportSink.
func (s *FileReportSink) Name() string { return "file" }

// WriteReport implements repository.ReportSink.
func (s *FileReportSink) WriteReport(_ context.Context, report *model.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return sharedErrors.NewInternalError("failed to serialize run report").WithCause(err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return sharedErrors.NewInfrastructureError("failed to create report directory").WithCause(err)
	}
	tmp, err := os.CreateTemp(dir, ".report-*.json")
	if err != nil {
		return sharedErrors.NewInfrastructureError("failed to create report file").WithCause(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return sharedErrors.NewInfrastructureError("failed to write report file").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		return sharedErrors.NewInfrastructureError("failed to write report file").WithCause(err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return sharedErrors.NewInfrastructureError("failed to replace report file").WithCause(err)
	}
	return nil
}
