package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/streamvault/backend/internal/errors"
	"github.com/streamvault/backend/internal/logger"
	"github.com/streamvault/backend/internal/progress"
)

// ProcessRegistry tracks the external process spawned for a job so the
// supervisor can reap it on timeout or cancellation.
type ProcessRegistry interface {
	Register(jobID string, cmd *exec.Cmd)
	Release(jobID string)
}

// YTDLP runs the yt-dlp binary. It is safe for concurrent use; each call
// spawns its own process.
type YTDLP struct {
	binPath  string
	registry ProcessRegistry
	log      *logger.Logger
}

// NewYTDLP creates a client for the given binary path. An empty path means
// "yt-dlp" resolved from PATH. registry may be nil for untracked calls.
func NewYTDLP(binPath string, registry ProcessRegistry, log *logger.Logger) *YTDLP {
	if binPath == "" {
		binPath = "yt-dlp"
	}
	if log == nil {
		log = logger.Default().WithComponent("ytdlp")
	}
	return &YTDLP{binPath: binPath, registry: registry, log: log}
}

// CheckBinary verifies the binary resolves on PATH.
func (y *YTDLP) CheckBinary() error {
	if _, err := exec.LookPath(y.binPath); err != nil {
		return apperrors.ExtractionError(fmt.Sprintf("%s not found on PATH", y.binPath)).WithCause(err)
	}
	return nil
}

// ExtractInfo resolves a URL into metadata without downloading anything.
// Playlists are resolved flat so a 500-entry playlist does not trigger 500
// metadata fetches.
func (y *YTDLP) ExtractInfo(ctx context.Context, url string, opts Options) (*Metadata, error) {
	args := []string{"-J", "--no-warnings"}
	if opts.NoPlaylist {
		args = append(args, "--no-playlist")
	} else {
		args = append(args, "--flat-playlist")
	}
	args = appendExtraFlags(args, opts.Extra)
	args = append(args, url)

	cmd := exec.CommandContext(ctx, y.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.ExtractionError(extractorFailureMessage(stderr.String())).WithCause(err)
	}
	if stdout.Len() == 0 {
		return nil, apperrors.ExtractionError("extractor returned empty metadata")
	}

	var raw rawInfo
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, apperrors.ExtractionError("extractor returned unparseable metadata").WithCause(err)
	}

	meta := raw.toMetadata()
	ScoreFormats(meta.Formats)
	return meta, nil
}

// Download retrieves the media for a URL and returns the final artifact path.
// Progress lines on stdout are parsed into events; the process is registered
// with the registry for the lifetime of the call when jobID is present in ctx
// via WithJobID.
func (y *YTDLP) Download(ctx context.Context, url string, opts Options, onProgress func(progress.Event)) (string, error) {
	args := y.downloadArgs(url, opts)

	cmd := exec.CommandContext(ctx, y.binPath, args...)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", apperrors.DownloadError("failed to attach to extractor output").WithCause(err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", apperrors.DownloadError("failed to start extractor").WithCause(err)
	}

	jobID := JobIDFromContext(ctx)
	if y.registry != nil && jobID != "" {
		y.registry.Register(jobID, cmd)
		defer y.registry.Release(jobID)
	}

	parser := newProgressParser()
	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if ev, ok := parser.parse(line); ok && onProgress != nil {
			onProgress(ev)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", apperrors.DownloadError(extractorFailureMessage(stderr.String())).WithCause(err)
	}

	path := parser.finalPath()
	if path == "" {
		return "", apperrors.DownloadError("extractor finished without reporting an output file")
	}
	path = y.sanitizeArtifact(ctx, path)
	if onProgress != nil {
		onProgress(progress.Event{Status: progress.EventFinished, Filename: path})
	}
	return path, nil
}

// sanitizeArtifact renames the finished file to a cleaned basename. The
// extractor's --restrict-filenames covers its own templates, but merger and
// post-processor outputs can still carry characters object storage and
// presigned URLs choke on. A failed rename keeps the original path; the
// artifact is intact either way.
func (y *YTDLP) sanitizeArtifact(ctx context.Context, path string) string {
	base := filepath.Base(path)
	clean := SanitizeFilename(base)
	if clean == base {
		return path
	}
	cleaned := filepath.Join(filepath.Dir(path), clean)
	if err := os.Rename(path, cleaned); err != nil {
		y.log.Warn(ctx, "failed to rename artifact to sanitized name", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return path
	}
	return cleaned
}

func (y *YTDLP) downloadArgs(url string, opts Options) []string {
	args := []string{
		"--newline",
		"--no-warnings",
		"--restrict-filenames",
		"--retries", "3",
		"--fragment-retries", "10",
		"--socket-timeout", "30",
	}
	if opts.NoPlaylist {
		args = append(args, "--no-playlist")
	}
	if opts.PlaylistItems != "" {
		args = append(args, "--playlist-items", opts.PlaylistItems)
	}

	format := opts.Format
	if format == "" {
		format = FormatForQuality(opts.Quality, opts.AudioOnly)
	}
	args = append(args, "-f", format)

	if opts.AudioOnly {
		audioFormat := opts.AudioFormat
		if audioFormat == "" {
			audioFormat = "mp3"
		}
		args = append(args, "--extract-audio", "--audio-format", audioFormat)
	} else if opts.MergeFormat != "" {
		args = append(args, "--merge-output-format", opts.MergeFormat)
	}

	if opts.OutputTemplate != "" {
		args = append(args, "-o", opts.OutputTemplate)
	}
	if opts.RateLimit != "" {
		args = append(args, "--limit-rate", opts.RateLimit)
	}
	args = appendExtraFlags(args, opts.Extra)
	return append(args, url)
}

func appendExtraFlags(args []string, extra map[string]string) []string {
	for flag, value := range extra {
		if !strings.HasPrefix(flag, "--") {
			continue
		}
		if value == "" {
			args = append(args, flag)
		} else {
			args = append(args, flag, value)
		}
	}
	return args
}

// extractorFailureMessage keeps the tail of stderr, which is where yt-dlp
// puts the actionable error line.
func extractorFailureMessage(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return "extractor process failed"
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	if len(last) > 500 {
		last = last[:500]
	}
	return last
}

// jobIDKey carries the job ID into Download so the process can be tracked.
type jobIDKey struct{}

// WithJobID attaches a job ID to the context for process registration.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobIDFromContext extracts the job ID, or "" when absent.
func JobIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(jobIDKey{}).(string); ok {
		return v
	}
	return ""
}

// rawInfo mirrors the subset of yt-dlp's -J output the service uses.
type rawInfo struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Uploader   string     `json:"uploader"`
	Duration   float64    `json:"duration"`
	Thumbnail  string     `json:"thumbnail"`
	WebpageURL string     `json:"webpage_url"`
	Extractor  string     `json:"extractor"`
	IsLive     bool       `json:"is_live"`
	Type       string     `json:"_type"`
	Formats    []Format   `json:"formats"`
	Entries    []rawEntry `json:"entries"`
}

type rawEntry struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
	Uploader string  `json:"uploader"`
}

func (r *rawInfo) toMetadata() *Metadata {
	meta := &Metadata{
		ID:         r.ID,
		Title:      r.Title,
		Uploader:   r.Uploader,
		Duration:   r.Duration,
		Thumbnail:  r.Thumbnail,
		WebpageURL: r.WebpageURL,
		Extractor:  r.Extractor,
		IsLive:     r.IsLive,
		Formats:    r.Formats,
		IsPlaylist: r.Type == "playlist",
	}
	for _, e := range r.Entries {
		meta.Entries = append(meta.Entries, PlaylistEntry(e))
	}
	return meta
}

// Progress line shapes emitted by yt-dlp with --newline:
//
//	[download]  42.5% of  9.53MiB at  500.00KiB/s ETA 00:19
//	[download] Destination: downloads/Title.mp4
//	[Merger] Merging formats into "downloads/Title.mp4"
//	[ExtractAudio] Destination: downloads/Title.mp3
//	[download] downloads/Title.mp4 has already been downloaded
var (
	progressLineRe = regexp.MustCompile(`^\[download\]\s+([\d.]+)% of ~?\s*([\d.]+)(B|KiB|MiB|GiB|TiB)(?:\s+at\s+(\S+))?(?:\s+ETA\s+(\S+))?`)
	destinationRe  = regexp.MustCompile(`^\[download\] Destination: (.+)$`)
	mergerRe       = regexp.MustCompile(`^\[Merger\] Merging formats into "(.+)"$`)
	extractAudioRe = regexp.MustCompile(`^\[ExtractAudio\] Destination: (.+)$`)
	alreadyRe      = regexp.MustCompile(`^\[download\] (.+) has already been downloaded`)
)

type progressParser struct {
	destination string
	merged      string
	audio       string
}

func newProgressParser() *progressParser {
	return &progressParser{}
}

func (p *progressParser) parse(line string) (progress.Event, bool) {
	if m := destinationRe.FindStringSubmatch(line); m != nil {
		p.destination = m[1]
		return progress.Event{}, false
	}
	if m := mergerRe.FindStringSubmatch(line); m != nil {
		p.merged = m[1]
		return progress.Event{}, false
	}
	if m := extractAudioRe.FindStringSubmatch(line); m != nil {
		p.audio = m[1]
		return progress.Event{}, false
	}
	if m := alreadyRe.FindStringSubmatch(line); m != nil {
		p.destination = m[1]
		return progress.Event{}, false
	}
	m := progressLineRe.FindStringSubmatch(line)
	if m == nil {
		return progress.Event{}, false
	}

	pct, _ := strconv.ParseFloat(m[1], 64)
	size, _ := strconv.ParseFloat(m[2], 64)
	total := int64(size * float64(byteUnit(m[3])))
	ev := progress.Event{
		Status:          progress.EventDownloading,
		DownloadedBytes: int64(pct / 100 * float64(total)),
		TotalBytes:      total,
		Speed:           m[4],
		ETA:             m[5],
		Filename:        p.currentFile(),
	}
	return ev, true
}

// finalPath prefers the most-processed artifact: the post-processor outputs
// supersede the raw download destination.
func (p *progressParser) finalPath() string {
	if p.audio != "" {
		return p.audio
	}
	if p.merged != "" {
		return p.merged
	}
	return p.destination
}

func (p *progressParser) currentFile() string {
	if p.destination != "" {
		return p.destination
	}
	return ""
}

func byteUnit(unit string) int64 {
	switch unit {
	case "KiB":
		return 1 << 10
	case "MiB":
		return 1 << 20
	case "GiB":
		return 1 << 30
	case "TiB":
		return 1 << 40
	default:
		return 1
	}
}
