// Package pipeline drives the staged article processor: a generic batch
// driver per stage plus the orchestrator that runs the stages in order.
package pipeline

import (
	"context"
	"time"

	"marketbrief/internal/core"
)

// Outcome is the per-article result a stage reports to the driver. Each
// stage package keeps its own richer result type; this is the common
// projection the accounting works on.
type Outcome struct {
	URL        string
	Skipped    bool
	SkipReason string
	Status     core.Status
	Err        error
}

// StageFunc processes one batch and returns an outcome per input article.
type StageFunc func(ctx context.Context, batch []*core.Article) ([]Outcome, error)

// StageProcessor is the generic driver for one pipeline stage: it splits
// the input into batches, pauses between them, and aggregates skip and
// status accounting. BatchSize 0 means the whole input in one batch.
type StageProcessor struct {
	Name      string
	Number    string // display order tag: "1", "1.5", "2", ...
	BatchSize int
	Delay     time.Duration
	Run       StageFunc
}

// StageStats aggregates one stage run.
type StageStats struct {
	Name      string
	Number    string
	Total     int
	Processed int
	Errors    int
	Skips     map[string]int
	Statuses  map[core.Status]int
}

// Execute runs the stage over all articles. A failed batch counts every
// article in it as an error and the run continues with the next batch;
// per-article errors inside a successful batch are counted individually.
func (sp *StageProcessor) Execute(ctx context.Context, articles []*core.Article) StageStats {
	stats := StageStats{
		Name:     sp.Name,
		Number:   sp.Number,
		Total:    len(articles),
		Skips:    map[string]int{},
		Statuses: map[core.Status]int{},
	}

	size := sp.BatchSize
	if size <= 0 {
		size = len(articles)
	}

	for start := 0; start < len(articles); start += size {
		end := start + size
		if end > len(articles) {
			end = len(articles)
		}
		batch := articles[start:end]

		if start > 0 && sp.Delay > 0 {
			select {
			case <-ctx.Done():
				stats.Errors += len(articles) - start
				return stats
			case <-time.After(sp.Delay):
			}
		}

		outcomes, err := sp.Run(ctx, batch)
		if err != nil {
			stats.Errors += len(batch)
			continue
		}
		for _, o := range outcomes {
			switch {
			case o.Err != nil:
				stats.Errors++
			case o.Skipped:
				stats.Skips[o.SkipReason]++
			default:
				stats.Processed++
			}
			if o.Status != "" {
				stats.Statuses[o.Status]++
			}
		}
	}
	return stats
}
