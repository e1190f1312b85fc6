package model

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Stage names a step of the per-run state machine.
type Stage string

const (
	StageInit            Stage = "INIT"
	StageEnsureMainGroup Stage = "ENSURE_MAIN_GROUP"
	StageFetchSource     Stage = "FETCH_SOURCE"
	StageFilter          Stage = "FILTER"
	StageResolveEntities Stage = "RESOLVE_ENTITIES"
	StageMap             Stage = "MAP"
	StageMirrorResources Stage = "MIRROR_RESOURCES"
	StageReconcile       Stage = "RECONCILE"
	StageSummarize       Stage = "SUMMARIZE"
)

// ItemStatus is the outcome of one item pipeline.
type ItemStatus string

const (
	ItemStatusUpserted ItemStatus = "UPSERTED"
	ItemStatusFailed   ItemStatus = "FAILED"
	ItemStatusFiltered ItemStatus = "FILTERED"
)

// RunStatus is the outcome of a whole run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// RunStats holds the counters of one run. It is owned by a single
// orchestrator run and safe for concurrent updates from item pipelines.
type RunStats struct {
	startedAt      time.Time
	total          atomic.Int64
	upserts        atomic.Int64
	failures       atomic.Int64
	filtered       atomic.Int64
	mirrored       atomic.Int64
	mirrorDegraded atomic.Int64
}

// NewRunStats starts the run clock at now.
func NewRunStats(now time.Time) *RunStats {
	return &RunStats{startedAt: now}
}

func (s *RunStats) IncTotal()          { s.total.Add(1) }
func (s *RunStats) IncUpserts()        { s.upserts.Add(1) }
func (s *RunStats) IncFailures()       { s.failures.Add(1) }
func (s *RunStats) IncFiltered()       { s.filtered.Add(1) }
func (s *RunStats) IncMirrored()       { s.mirrored.Add(1) }
func (s *RunStats) IncMirrorDegraded() { s.mirrorDegraded.Add(1) }

// StatsSnapshot is an immutable copy of RunStats.
type StatsSnapshot struct {
	Total          int64         `json:"total" bson:"total"`
	Upserts        int64         `json:"upserts" bson:"upserts"`
	Failures       int64         `json:"failures" bson:"failures"`
	Filtered       int64         `json:"filtered" bson:"filtered"`
	Mirrored       int64         `json:"mirrored" bson:"mirrored"`
	MirrorDegraded int64         `json:"mirror_degraded" bson:"mirror_degraded"`
	StartedAt      time.Time     `json:"started_at" bson:"started_at"`
	Elapsed        time.Duration `json:"elapsed" bson:"elapsed"`
}

// Snapshot copies the counters, measuring elapsed time up to now.
func (s *RunStats) Snapshot(now time.Time) StatsSnapshot {
	return StatsSnapshot{
		Total:          s.total.Load(),
		Upserts:        s.upserts.Load(),
		Failures:       s.failures.Load(),
		Filtered:       s.filtered.Load(),
		Mirrored:       s.mirrored.Load(),
		MirrorDegraded: s.mirrorDegraded.Load(),
		StartedAt:      s.startedAt,
		Elapsed:        now.Sub(s.startedAt),
	}
}

// Summary renders the human readable run line.
func (s StatsSnapshot) Summary() string {
	return fmt.Sprintf("total=%d, upserts=%d, failures=%d (%.2fs)",
		s.Total, s.Upserts, s.Failures, s.Elapsed.Seconds())
}

// ItemResult records what happened to one source record.
type ItemResult struct {
	RecordID    string     `json:"record_id" bson:"record_id"`
	DatasetName string     `json:"dataset_name,omitempty" bson:"dataset_name,omitempty"`
	Status      ItemStatus `json:"status" bson:"status"`
	Stage       Stage      `json:"stage,omitempty" bson:"stage,omitempty"`
	Error       string     `json:"error,omitempty" bson:"error,omitempty"`
	ErrorType   string     `json:"error_type,omitempty" bson:"error_type,omitempty"`
	// Degradations lists resources that kept their source URL.
	Degradations []string      `json:"degradations,omitempty" bson:"degradations,omitempty"`
	Duration     time.Duration `json:"duration" bson:"duration"`
}

// RunReport is the machine-readable outcome of a run written to report sinks.
type RunReport struct {
	RunID      string        `json:"run_id" bson:"_id"`
	Harvester  string        `json:"harvester" bson:"harvester"`
	DryRun     bool          `json:"dry_run" bson:"dry_run"`
	Status     RunStatus     `json:"status" bson:"status"`
	StartedAt  time.Time     `json:"started_at" bson:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty" bson:"finished_at,omitempty"`
	Stats      StatsSnapshot `json:"stats" bson:"stats"`
	Items      []ItemResult  `json:"items,omitempty" bson:"items,omitempty"`
	Orphans    []string      `json:"orphans,omitempty" bson:"orphans,omitempty"`
	Error      string        `json:"error,omitempty" bson:"error,omitempty"`
}

// ItemLog collects item results from concurrent pipelines.
type ItemLog struct {
	mu    sync.Mutex
	items []ItemResult
}

// Add appends one result.
func (l *ItemLog) Add(r ItemResult) {
	l.mu.Lock()
	l.items = append(l.items, r)
	l.mu.Unlock()
}

// Items returns a copy of the collected results.
func (l *ItemLog) Items() []ItemResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ItemResult(nil), l.items...)
}
