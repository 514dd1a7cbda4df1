package cmd

import (
	"sync"
	"time"

	"github.com/pmbstyle/alicerag/internal/index"
	"github.com/pmbstyle/alicerag/internal/ui"
)

// stageFor maps sync pipeline stages onto renderer stages.
func stageFor(s index.Stage) ui.Stage {
	switch s {
	case index.StageScanning:
		return ui.StageScanning
	case index.StageChunking:
		return ui.StageChunking
	case index.StageEmbedding:
		return ui.StageEmbedding
	case index.StageIndexing:
		return ui.StageIndexing
	default:
		return ui.StageScanning
	}
}

// uiReporter bridges sync progress onto a terminal renderer and
// accumulates per-stage wall time for the completion summary.
type uiReporter struct {
	renderer ui.Renderer

	mu        sync.Mutex
	stage     index.Stage
	stageFrom time.Time
	timings   ui.StageTimings
}

func newUIReporter(r ui.Renderer) *uiReporter {
	return &uiReporter{renderer: r, stageFrom: time.Now()}
}

// Update implements index.Reporter.
func (p *uiReporter) Update(ev index.ProgressEvent) {
	p.mu.Lock()
	if ev.Stage != p.stage {
		p.recordLocked(time.Now())
		p.stage = ev.Stage
	}
	p.mu.Unlock()

	p.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:       stageFor(ev.Stage),
		Current:     ev.Current,
		Total:       ev.Total,
		CurrentFile: ev.Path,
	})
}

// Timings closes out the current stage and returns the accumulated
// durations.
func (p *uiReporter) Timings() ui.StageTimings {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordLocked(time.Now())
	return p.timings
}

func (p *uiReporter) recordLocked(now time.Time) {
	d := now.Sub(p.stageFrom)
	p.stageFrom = now
	switch p.stage {
	case index.StageScanning:
		p.timings.Scan += d
	case index.StageChunking:
		p.timings.Chunk += d
	case index.StageEmbedding:
		p.timings.Embed += d
	case index.StageIndexing:
		p.timings.Index += d
	}
}

// multiReporter fans one progress stream out to several reporters.
type multiReporter []index.Reporter

// Update implements index.Reporter.
func (m multiReporter) Update(ev index.ProgressEvent) {
	for _, r := range m {
		r.Update(ev)
	}
}
