package repository

import (
	"context"

	"catalog-harvester/internal/harvest/domain/model"
)

// ReportSink receives run reports. Sinks are write-only; runs never read them back.
type ReportSink interface {
	Name() string
	WriteReport(ctx context.Context, report *model.RunReport) error
}

// ItemSink is implemented by sinks that also want per-item results as they happen.
type ItemSink interface {
	WriteItem(ctx context.Context, runID string, item model.ItemResult) error
}
