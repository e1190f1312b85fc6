package http

import (
	"context"
	"sync"
	"time"

	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/usecase"
	"catalog-harvester/internal/shared/eventbus"
)

// StatusTracker follows run events and keeps the latest run's progress for
// the status endpoints.
type StatusTracker struct {
	mu        sync.RWMutex
	current   *model.RunReport
	counts    map[model.ItemStatus]int64
	lastItem  time.Time
	completed *model.RunReport
}

// RunStatus is the /stats response.
type RunStatus struct {
	Running   bool                       `json:"running"`
	Current   *model.RunReport           `json:"current,omitempty"`
	Progress  map[model.ItemStatus]int64 `json:"progress,omitempty"`
	LastItem  *time.Time                 `json:"last_item_at,omitempty"`
	Completed *model.RunReport           `json:"last_completed,omitempty"`
}

// NewStatusTracker creates an idle tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{counts: make(map[model.ItemStatus]int64)}
}

// Subscribe registers the tracker's handlers on bus.
func (t *StatusTracker) Subscribe(bus eventbus.EventBusInterface) {
	bus.Subscribe(eventbus.EventTypeRunStarted, t.onRunStarted)
	bus.Subscribe(eventbus.EventTypeItemProcessed, t.onItemProcessed)
	bus.Subscribe(eventbus.EventTypeRunCompleted, t.onRunCompleted)
}

func (t *StatusTracker) onRunStarted(_ context.Context, event eventbus.Event) error {
	report, ok := event.Data().(*model.RunReport)
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = withoutItems(report)
	t.counts = make(map[model.ItemStatus]int64)
	t.lastItem = time.Time{}
	return nil
}

func (t *StatusTracker) onItemProcessed(_ context.Context, event eventbus.Event) error {
	item, ok := event.Data().(usecase.ItemEvent)
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil || t.current.RunID != item.RunID {
		return nil
	}
	t.counts[item.Item.Status]++
	t.lastItem = event.Timestamp()
	return nil
}

func (t *StatusTracker) onRunCompleted(_ context.Context, event eventbus.Event) error {
	report, ok := event.Data().(*model.RunReport)
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = withoutItems(report)
	if t.current != nil && t.current.RunID == report.RunID {
		t.current = nil
	}
	return nil
}

// Status returns a copy of the tracked state.
func (t *StatusTracker) Status() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status := RunStatus{Running: t.current != nil}
	if t.current != nil {
		cp := *t.current
		status.Current = &cp
		status.Progress = make(map[model.ItemStatus]int64, len(t.counts))
		for k, v := range t.counts {
			status.Progress[k] = v
		}
		if !t.lastItem.IsZero() {
			last := t.lastItem
			status.LastItem = &last
		}
	}
	if t.completed != nil {
		cp := *t.completed
		status.Completed = &cp
	}
	return status
}

// withoutItems keeps the status payload small; per-item results go to the report sinks.
func withoutItems(report *model.RunReport) *model.RunReport {
	cp := *report
	cp.Items = nil
	return &cp
}
