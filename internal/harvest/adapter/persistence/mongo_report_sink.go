package persistence

import (
	"context"
	"time"

	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	sharedErrors "catalog-harvester/internal/shared/errors"
	"catalog-harvester/internal/shared/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// reportCollection is the part of *mongo.Collection the sink uses.
type reportCollection interface {
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
}

// MongoReportSink stores one document per run keyed by run id. A report
// written twice for the same run replaces the earlier document.
type MongoReportSink struct {
	collection reportCollection
	client     *mongo.Client
	log        logger.Logger
}

var _ repository.ReportSink = (*MongoReportSink)(nil)

// NewMongoReportSink connects to uri and writes into database.collection.
func NewMongoReportSink(ctx context.Context, uri, database, collection string, log logger.Logger) (*MongoReportSink, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, sharedErrors.NewInfrastructureError("failed to connect to mongodb").WithCause(err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, sharedErrors.NewInfrastructureError("failed to ping mongodb").WithCause(err)
	}
	sink := newMongoReportSink(client.Database(database).Collection(collection), log)
	sink.client = client
	return sink, nil
}

func newMongoReportSink(collection reportCollection, log logger.Logger) *MongoReportSink {
	if log == nil {
		log = logger.Nop()
	}
	return &MongoReportSink{collection: collection, log: log.WithComponent("mongo-report-sink")}
}

// Name implements repository.ReportSink.
func (s *MongoReportSink) Name() string { return "mongodb" }

// WriteReport implements repository.ReportSink.
func (s *MongoReportSink) WriteReport(ctx context.Context, report *model.RunReport) error {
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": report.RunID}, report, options.Replace().SetUpsert(true))
	if err != nil {
		s.log.WithContext(ctx).Errorf("Failed to store run report %s: %v", report.RunID, err)
		return sharedErrors.NewInfrastructureError("failed to write report to mongodb").WithCause(err)
	}
	s.log.WithContext(ctx).Debugf("Stored run report %s", report.RunID)
	return nil
}

// Close disconnects the client opened by NewMongoReportSink.
func (s *MongoReportSink) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
