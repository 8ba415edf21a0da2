package progress

import (
	"time"
)

// Event statuses as emitted by the extractor and the segment pipeline.
const (
	EventDownloading = "downloading"
	EventFinished    = "finished"
)

// Event is an extractor-native progress event: raw byte counters plus the
// human-readable speed/ETA strings the tool already formats.
type Event struct {
	Status          string
	DownloadedBytes int64
	TotalBytes      int64
	Speed           string
	ETA             string
	Filename        string
}

// Snapshot is the polling-friendly record surfaced to clients.
// Percent is nil when the total size is unknown rather than guessed.
type Snapshot struct {
	JobID           string    `json:"job_id"`
	Status          string    `json:"status"`
	Percent         *float64  `json:"percent,omitempty"`
	Speed           string    `json:"speed,omitempty"`
	ETA             string    `json:"eta,omitempty"`
	Filename        string    `json:"filename,omitempty"`
	DownloadedBytes int64     `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64     `json:"total_bytes,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Sink receives normalized snapshots. Sinks must not block; slow consumers
// are expected to buffer or drop on their own.
type Sink func(Snapshot)

// Reporter maps extractor progress events for one job into snapshots and
// fans them out to its sinks. It holds no state beyond what it is given.
type Reporter struct {
	jobID string
	sinks []Sink
}

// NewReporter creates a reporter for a single job.
func NewReporter(jobID string, sinks ...Sink) *Reporter {
	return &Reporter{jobID: jobID, sinks: sinks}
}

// Handle normalizes one event and delivers it to every sink.
func (r *Reporter) Handle(ev Event) {
	snap := Snapshot{
		JobID:           r.jobID,
		Status:          ev.Status,
		Speed:           ev.Speed,
		ETA:             ev.ETA,
		Filename:        ev.Filename,
		DownloadedBytes: ev.DownloadedBytes,
		TotalBytes:      ev.TotalBytes,
		UpdatedAt:       time.Now(),
	}

	switch {
	case ev.Status == EventFinished:
		pct := 100.0
		snap.Percent = &pct
	case ev.TotalBytes > 0:
		pct := float64(ev.DownloadedBytes) / float64(ev.TotalBytes) * 100
		if pct > 100 {
			pct = 100
		}
		snap.Percent = &pct
	}

	for _, sink := range r.sinks {
		sink(snap)
	}
}

// Percent returns the normalized percent for an event, or false when the
// total is unknown.
func Percent(ev Event) (float64, bool) {
	if ev.Status == EventFinished {
		return 100, true
	}
	if ev.TotalBytes <= 0 {
		return 0, false
	}
	pct := float64(ev.DownloadedBytes) / float64(ev.TotalBytes) * 100
	if pct > 100 {
		pct = 100
	}
	return pct, true
}
