package processor

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	apperrors "github.com/streamvault/backend/internal/errors"
	"github.com/streamvault/backend/internal/extractor"
	"github.com/streamvault/backend/internal/logger"
	"github.com/streamvault/backend/internal/metrics"
	"github.com/streamvault/backend/internal/progress"
	"github.com/streamvault/backend/internal/queue"
	"github.com/streamvault/backend/internal/segment"
	"github.com/streamvault/backend/internal/storage"
	"github.com/streamvault/backend/internal/supervisor"
)

// Processor executes one job end to end: it picks the pipeline for the
// job's kind, runs it under the supervisor, and optionally uploads the
// finished artifact to object storage.
type Processor struct {
	extractor   extractor.MediaExtractor
	supervisor  *supervisor.Supervisor
	segments    *segment.Pipeline
	storage     *storage.Client
	downloadDir string
	sinks       []progress.Sink
	log         *logger.Logger
}

// Config holds the processor's collaborators. Storage may be nil; artifacts
// then stay on local disk only.
type Config struct {
	Extractor      extractor.MediaExtractor
	Supervisor     *supervisor.Supervisor
	HTTPClient     *http.Client
	Storage        *storage.Client
	DownloadDir    string
	SegmentWorkers int
	Sinks          []progress.Sink
	Logger         *logger.Logger
}

// New creates a processor.
func New(cfg *Config) *Processor {
	log := cfg.Logger
	if log == nil {
		log = logger.Default().WithComponent("processor")
	}
	return &Processor{
		extractor:   cfg.Extractor,
		supervisor:  cfg.Supervisor,
		segments:    segment.NewPipeline(cfg.HTTPClient, cfg.SegmentWorkers, log),
		storage:     cfg.Storage,
		downloadDir: cfg.DownloadDir,
		sinks:       cfg.Sinks,
		log:         log,
	}
}

// Run is the queue's Runner: it executes one job and returns the artifact
// path. All crash-safety policy lives in the supervisor.
func (p *Processor) Run(ctx context.Context, job *queue.Job, onProgress func(float64)) (string, error) {
	reporter := p.reporterFor(job, onProgress)

	path, err := p.supervisor.Execute(ctx, job.ID, func(taskCtx context.Context) (string, error) {
		if job.Kind == queue.KindSegmentedStream {
			return p.runSegmented(taskCtx, job, reporter)
		}
		return p.runExtractor(taskCtx, job, reporter)
	})
	if err != nil {
		return "", err
	}

	if p.storage != nil {
		key, upErr := p.storage.UploadArtifact(ctx, job.ID, path)
		if upErr != nil {
			// Local artifact is intact; the job still succeeds.
			p.log.WithJob(job.ID).Error(ctx, "artifact upload failed", upErr)
		} else {
			p.log.WithJob(job.ID).Info(ctx, "artifact uploaded", map[string]interface{}{"key": key})
		}
	}
	return path, nil
}

// runExtractor handles every kind the external tool serves directly.
func (p *Processor) runExtractor(ctx context.Context, job *queue.Job, reporter *progress.Reporter) (string, error) {
	opts := p.applyKind(job)
	ctx = extractor.WithJobID(ctx, job.ID)
	return p.extractor.Download(ctx, job.URL, opts, reporter.Handle)
}

// runSegmented handles manifest-driven streams through the fetch/assemble
// pipeline.
func (p *Processor) runSegmented(ctx context.Context, job *queue.Job, reporter *progress.Reporter) (string, error) {
	output := filepath.Join(p.downloadDir, fmt.Sprintf("%s.ts", job.ID))

	result, err := p.segments.Download(ctx, job.URL, output, func(done, total int) {
		reporter.Handle(progress.Event{
			Status:          progress.EventDownloading,
			DownloadedBytes: int64(done),
			TotalBytes:      int64(total),
			Filename:        output,
		})
	})
	if err != nil {
		return "", err
	}
	if len(result.Dropped) > 0 {
		metrics.Default().AddSegmentsDropped(len(result.Dropped))
		p.log.WithJob(job.ID).Warn(ctx, "stream assembled with missing segments", map[string]interface{}{
			"dropped": len(result.Dropped),
			"total":   result.Total,
		})
	}
	reporter.Handle(progress.Event{Status: progress.EventFinished, Filename: output})
	return output, nil
}

// applyKind fills in the option defaults each job kind implies without
// overriding anything the submitter set explicitly.
func (p *Processor) applyKind(job *queue.Job) extractor.Options {
	opts := job.Options

	switch job.Kind {
	case queue.KindAudio:
		opts.AudioOnly = true
		opts.NoPlaylist = true
	case queue.KindVideo, queue.KindLive:
		opts.NoPlaylist = true
	case queue.KindVideoMerge:
		opts.NoPlaylist = true
		if opts.MergeFormat == "" {
			opts.MergeFormat = "mp4"
		}
	case queue.KindPlaylistAudio:
		opts.AudioOnly = true
		opts.NoPlaylist = false
	case queue.KindPlaylistVideo:
		opts.NoPlaylist = false
	}

	if opts.OutputTemplate == "" {
		opts.OutputTemplate = filepath.Join(p.downloadDir, "%(title)s.%(ext)s")
	}
	return opts
}

// reporterFor builds the per-job reporter: the queue's coarse percent plus
// every configured snapshot sink.
func (p *Processor) reporterFor(job *queue.Job, onProgress func(float64)) *progress.Reporter {
	sinks := make([]progress.Sink, 0, len(p.sinks)+1)
	sinks = append(sinks, func(s progress.Snapshot) {
		if s.Percent != nil && onProgress != nil {
			onProgress(*s.Percent)
		}
	})
	sinks = append(sinks, p.sinks...)
	return progress.NewReporter(job.ID, sinks...)
}

// Probe verifies the extractor binary is usable; wired into health checks.
func (p *Processor) Probe() error {
	if y, ok := p.extractor.(*extractor.YTDLP); ok {
		return y.CheckBinary()
	}
	if p.extractor == nil {
		return apperrors.InternalError("no extractor configured")
	}
	return nil
}
