package persistence

import (
	"context"
	"encoding/json"

	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	sharedErrors "catalog-harvester/internal/shared/errors"
	"catalog-harvester/internal/shared/logger"

	"github.com/redis/go-redis/v9"
)

// streamAdder is the part of *redis.Client the sink uses.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisReportSink appends run reports and item results to a Redis stream.
// The stream is trimmed approximately to maxLen entries.
type RedisReportSink struct {
	client streamAdder
	stream string
	maxLen int64
	log    logger.Logger
}

var (
	_ repository.ReportSink = (*RedisReportSink)(nil)
	_ repository.ItemSink   = (*RedisReportSink)(nil)
)

// NewRedisReportSink creates a sink writing to stream.
func NewRedisReportSink(client streamAdder, stream string, maxLen int64, log logger.Logger) *RedisReportSink {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisReportSink{
		client: client,
		stream: stream,
		maxLen: maxLen,
		log:    log.WithComponent("redis-report-sink"),
	}
}

// Name implements repository.ReportSink.
func (s *RedisReportSink) Name() string { return "redis" }

// WriteReport implements repository.ReportSink.
func (s *RedisReportSink) WriteReport(ctx context.Context, report *model.RunReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return sharedErrors.NewInternalError("failed to serialize run report").WithCause(err)
	}
	return s.add(ctx, map[string]interface{}{
		"type":      "run",
		"run_id":    report.RunID,
		"harvester": report.Harvester,
		"status":    string(report.Status),
		"total":     report.Stats.Total,
		"upserts":   report.Stats.Upserts,
		"failures":  report.Stats.Failures,
		"report":    payload,
	})
}

// WriteItem implements repository.ItemSink.
func (s *RedisReportSink) WriteItem(ctx context.Context, runID string, item model.ItemResult) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return sharedErrors.NewInternalError("failed to serialize item result").WithCause(err)
	}
	return s.add(ctx, map[string]interface{}{
		"type":      "item",
		"run_id":    runID,
		"record_id": item.RecordID,
		"status":    string(item.Status),
		"item":      payload,
	})
}

func (s *RedisReportSink) add(ctx context.Context, values map[string]interface{}) error {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: s.maxLen > 0,
		Values: values,
	}).Result()
	if err != nil {
		s.log.WithContext(ctx).Errorf("Failed to append %s entry to stream %s: %v", values["type"], s.stream, err)
		return sharedErrors.NewInfrastructureError("failed to write report to redis").WithCause(err)
	}
	s.log.WithContext(ctx).Debugf("Appended %s entry %s to stream %s", values["type"], id, s.stream)
	return nil
}
