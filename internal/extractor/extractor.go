package extractor

import (
	"context"
	"sort"

	"github.com/streamvault/backend/internal/progress"
)

// Options is the typed configuration handed to the extractor. The core only
// interprets Format, OutputTemplate, and the merge keys for its own filename
// bookkeeping; everything else passes through. Extra is the escape hatch for
// tool-specific flags the core does not model.
type Options struct {
	Format         string
	OutputTemplate string
	Quality        string
	AudioOnly      bool
	AudioFormat    string
	MergeFormat    string
	NoPlaylist     bool
	PlaylistItems  string
	RateLimit      string
	Extra          map[string]string
}

// Format describes one stream variant offered by the source.
type Format struct {
	FormatID     string  `json:"format_id"`
	Ext          string  `json:"ext"`
	Resolution   string  `json:"resolution,omitempty"`
	Height       int     `json:"height,omitempty"`
	Width        int     `json:"width,omitempty"`
	FPS          float64 `json:"fps,omitempty"`
	VCodec       string  `json:"vcodec,omitempty"`
	ACodec       string  `json:"acodec,omitempty"`
	TBR          float64 `json:"tbr,omitempty"`
	Filesize     int64   `json:"filesize,omitempty"`
	FormatNote   string  `json:"format_note,omitempty"`
	QualityScore float64 `json:"quality_score"`
}

// PlaylistEntry is a flat playlist item: enough to submit a follow-up job.
type PlaylistEntry struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration,omitempty"`
	Uploader string  `json:"uploader,omitempty"`
}

// Metadata is the resolved description of a URL.
type Metadata struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Uploader   string          `json:"uploader,omitempty"`
	Duration   float64         `json:"duration,omitempty"`
	Thumbnail  string          `json:"thumbnail,omitempty"`
	WebpageURL string          `json:"webpage_url,omitempty"`
	Extractor  string          `json:"extractor,omitempty"`
	IsLive     bool            `json:"is_live,omitempty"`
	Formats    []Format        `json:"formats,omitempty"`
	Entries    []PlaylistEntry `json:"entries,omitempty"`
	IsPlaylist bool            `json:"is_playlist,omitempty"`
}

// MediaExtractor is the external capability that resolves a URL into stream
// metadata or performs the actual retrieval. Both calls are synchronous and
// are executed off the scheduling loop.
type MediaExtractor interface {
	ExtractInfo(ctx context.Context, url string, opts Options) (*Metadata, error)
	Download(ctx context.Context, url string, opts Options, onProgress func(progress.Event)) (string, error)
}

// Quality presets recognized in Options.Quality. Anything else falls through
// to "best".
const (
	QualityBest  = "best"
	QualityWorst = "worst"
	Quality2160p = "2160p"
	Quality1080p = "1080p"
	Quality720p  = "720p"
	Quality480p  = "480p"
)

// FormatForQuality maps a preset to a yt-dlp format selector.
func FormatForQuality(quality string, audioOnly bool) string {
	if audioOnly {
		if quality == QualityWorst {
			return "worstaudio/worst"
		}
		return "bestaudio/best"
	}
	switch quality {
	case QualityWorst:
		return "worstvideo+worstaudio/worst"
	case Quality2160p:
		return "bestvideo[height<=2160]+bestaudio/best[height<=2160]"
	case Quality1080p:
		return "bestvideo[height<=1080]+bestaudio/best[height<=1080]"
	case Quality720p:
		return "bestvideo[height<=720]+bestaudio/best[height<=720]"
	case Quality480p:
		return "bestvideo[height<=480]+bestaudio/best[height<=480]"
	default:
		return "bestvideo+bestaudio/best"
	}
}

// ScoreFormats computes a comparable quality score for each format and sorts
// the slice best-first. Height dominates; bitrate breaks ties.
func ScoreFormats(formats []Format) {
	for i := range formats {
		formats[i].QualityScore = float64(formats[i].Height)*10 + formats[i].TBR
	}
	sort.SliceStable(formats, func(i, j int) bool {
		return formats[i].QualityScore > formats[j].QualityScore
	})
}
