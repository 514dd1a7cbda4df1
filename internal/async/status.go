// Package async runs indexing in the background and tracks its
// progress, both in memory for the serving process and as a status
// file other processes can read.
package async

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"

	"github.com/pmbstyle/alicerag/internal/index"
	"github.com/pmbstyle/alicerag/internal/store"
)

// RunStatus is the overall state of the last indexing run.
type RunStatus string

const (
	// StatusIdle means no run has started yet.
	StatusIdle RunStatus = "idle"
	// StatusIndexing means a run is in progress.
	StatusIndexing RunStatus = "indexing"
	// StatusReady means the last run completed and search serves the
	// full index.
	StatusReady RunStatus = "ready"
	// StatusError means the last run failed.
	StatusError RunStatus = "error"
)

// persistInterval throttles mid-run status file writes. Stage changes
// and run boundaries always write.
const persistInterval = 200 * time.Millisecond

// Snapshot is one point-in-time view of indexing progress. It is also
// the schema of the status.json file in the data directory.
type Snapshot struct {
	RunID          string    `json:"run_id,omitempty"`
	Status         RunStatus `json:"status"`
	Stage          string    `json:"stage,omitempty"`
	FilesTotal     int       `json:"files_total"`
	FilesProcessed int       `json:"files_processed"`
	CurrentPath    string    `json:"current_path,omitempty"`
	ProgressPct    float64   `json:"progress_pct"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
	Error          string    `json:"error,omitempty"`
}

// Stalled reports whether the snapshot describes a run that claims to
// be indexing but has not updated within the threshold, which is what
// a crashed writer leaves behind.
func (s *Snapshot) Stalled(now time.Time, threshold time.Duration) bool {
	return s.Status == StatusIndexing && now.Sub(s.UpdatedAt) > threshold
}

// Tracker follows indexing progress. It implements index.Reporter, so
// it attaches to the engine as its progress sink, and it mirrors every
// state change into status.json so status commands and other processes
// can see a run they don't own.
type Tracker struct {
	statusPath string

	mu             sync.RWMutex
	runID          string
	status         RunStatus
	stage          index.Stage
	filesTotal     int
	filesProcessed int
	currentPath    string
	startedAt      time.Time
	errMsg         string
	lastPersist    time.Time
}

var _ index.Reporter = (*Tracker)(nil)

// NewTracker creates a tracker persisting into the given data
// directory. An empty dataDir keeps the tracker memory-only.
func NewTracker(dataDir string) *Tracker {
	t := &Tracker{status: StatusIdle}
	if dataDir != "" {
		t.statusPath = store.StatusPath(dataDir)
	}
	return t
}

// StartRun begins a new run and returns its id. Counters reset; the
// status file is written immediately.
func (t *Tracker) StartRun() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runID = uuid.NewString()
	t.status = StatusIndexing
	t.stage = index.StageScanning
	t.filesTotal = 0
	t.filesProcessed = 0
	t.currentPath = ""
	t.startedAt = time.Now()
	t.errMsg = ""
	t.persistLocked(true)
	return t.runID
}

// Update records one progress event. Called from the indexing loop, so
// the status file write is throttled; a stage change writes through.
func (t *Tracker) Update(ev index.ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stageChanged := ev.Stage != t.stage
	t.stage = ev.Stage
	t.filesTotal = ev.Total
	t.filesProcessed = ev.Current
	t.currentPath = ev.Path
	t.persistLocked(stageChanged)
}

// Done ends the current run: ready on nil, error otherwise. The status
// file is written immediately.
func (t *Tracker) Done(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.currentPath = ""
	if err != nil {
		t.status = StatusError
		t.errMsg = err.Error()
	} else {
		t.status = StatusReady
	}
	t.persistLocked(true)
}

// IsIndexing reports whether a run is in progress.
func (t *Tracker) IsIndexing() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status == StatusIndexing
}

// Snapshot returns the current progress.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	snap := Snapshot{
		RunID:          t.runID,
		Status:         t.status,
		Stage:          string(t.stage),
		FilesTotal:     t.filesTotal,
		FilesProcessed: t.filesProcessed,
		CurrentPath:    t.currentPath,
		StartedAt:      t.startedAt,
		UpdatedAt:      time.Now(),
		Error:          t.errMsg,
	}
	if t.status == StatusIdle {
		snap.Stage = ""
	}
	if t.filesTotal > 0 {
		snap.ProgressPct = float64(t.filesProcessed) / float64(t.filesTotal) * 100
	}
	if !t.startedAt.IsZero() {
		snap.ElapsedSeconds = int(time.Since(t.startedAt).Seconds())
	}
	return snap
}

// persistLocked writes status.json atomically. Best effort: a failed
// write is logged and never surfaces into the run.
func (t *Tracker) persistLocked(force bool) {
	if t.statusPath == "" {
		return
	}
	now := time.Now()
	if !force && now.Sub(t.lastPersist) < persistInterval {
		return
	}
	t.lastPersist = now

	data, err := json.MarshalIndent(t.snapshotLocked(), "", "  ")
	if err != nil {
		slog.Debug("status_persist_failed", "error", err)
		return
	}
	if err := renameio.WriteFile(t.statusPath, data, 0o644); err != nil {
		slog.Debug("status_persist_failed", "path", t.statusPath, "error", err)
	}
}

// ReadStatus reads the persisted status from a data directory. A
// missing file is an idle status, not an error.
func ReadStatus(dataDir string) (*Snapshot, error) {
	data, err := os.ReadFile(store.StatusPath(dataDir))
	if os.IsNotExist(err) {
		return &Snapshot{Status: StatusIdle}, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
