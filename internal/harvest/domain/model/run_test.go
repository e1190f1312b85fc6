package model

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunStats_ConcurrentCounters(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	stats := NewRunStats(start)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stats.IncTotal()
			if i%5 == 0 {
				stats.IncFailures()
				return
			}
			stats.IncUpserts()
		}(i)
	}
	wg.Wait()

	snap := stats.Snapshot(start.Add(1500 * time.Millisecond))
	assert.Equal(t, int64(50), snap.Total)
	assert.Equal(t, int64(40), snap.Upserts)
	assert.Equal(t, int64(10), snap.Failures)
	assert.Equal(t, "total=50, upserts=40, failures=10 (1.50s)", snap.Summary())
}

func TestCanonicalDataset_ExtrasAndResources(t *testing.T) {
	ds := &CanonicalDataset{Name: "main--a"}
	ds.SetExtra("Source URL", "https://src/a")
	ds.SetExtra("Source URL", "https://src/b")
	ds.SetExtra("Category", "")
	v, ok := ds.Extra("Source URL")
	assert.True(t, ok)
	assert.Equal(t, "https://src/b", v)
	assert.Len(t, ds.Extras, 1)

	pos := 1
	ds.Resources = []CanonicalResource{{Name: "data.csv", URL: "https://src/data.csv", Position: &pos}}
	clone := ds.Clone()
	*clone.Resources[0].Position = 7
	clone.Resources[0].URL = "https://blob/data.csv"

	assert.Equal(t, "https://src/data.csv", ds.Resources[0].URL)
	assert.Equal(t, 1, *ds.Resources[0].Position)
}

func TestTagsFromStrings(t *testing.T) {
	tags := TagsFromStrings([]string{"health", " ", "health", "transport "})
	assert.Equal(t, []Tag{{Name: "health"}, {Name: "transport"}}, tags)
}

func TestSourceRecord_Label(t *testing.T) {
	assert.Equal(t, "abc", SourceRecord{ID: "abc", Title: "T"}.Label())
	assert.Equal(t, "T", SourceRecord{Title: "T"}.Label())
	assert.Equal(t, "<unidentified>", SourceRecord{}.Label())
}
