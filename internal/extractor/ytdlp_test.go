package extractor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/streamvault/backend/internal/progress"
)

func TestProgressParser_DownloadLine(t *testing.T) {
	p := newProgressParser()

	if _, ok := p.parse("[download] Destination: downloads/Some_Title.mp4"); ok {
		t.Error("destination line should not emit an event")
	}

	ev, ok := p.parse("[download]  42.5% of  10.00MiB at  500.00KiB/s ETA 00:19")
	if !ok {
		t.Fatal("expected a progress event")
	}
	if ev.Status != progress.EventDownloading {
		t.Errorf("expected downloading status, got %s", ev.Status)
	}
	if ev.TotalBytes != 10*1024*1024 {
		t.Errorf("expected total 10MiB, got %d", ev.TotalBytes)
	}
	wantDownloaded := int64(0.425 * 10 * 1024 * 1024)
	if ev.DownloadedBytes != wantDownloaded {
		t.Errorf("expected downloaded %d, got %d", wantDownloaded, ev.DownloadedBytes)
	}
	if ev.Speed != "500.00KiB/s" {
		t.Errorf("expected speed 500.00KiB/s, got %q", ev.Speed)
	}
	if ev.ETA != "00:19" {
		t.Errorf("expected ETA 00:19, got %q", ev.ETA)
	}
	if ev.Filename != "downloads/Some_Title.mp4" {
		t.Errorf("expected filename from destination line, got %q", ev.Filename)
	}
}

func TestProgressParser_EstimatedTotal(t *testing.T) {
	p := newProgressParser()
	ev, ok := p.parse("[download]   1.0% of ~  2.00GiB at  1.00MiB/s ETA 33:00")
	if !ok {
		t.Fatal("expected a progress event for estimated totals")
	}
	if ev.TotalBytes != 2*1024*1024*1024 {
		t.Errorf("expected 2GiB total, got %d", ev.TotalBytes)
	}
}

func TestProgressParser_IgnoresNoise(t *testing.T) {
	p := newProgressParser()
	noise := []string{
		"[youtube] abc123: Downloading webpage",
		"[info] Available formats for abc123:",
		"",
		"WARNING: unable to extract channel id",
	}
	for _, line := range noise {
		if _, ok := p.parse(line); ok {
			t.Errorf("line %q should not produce an event", line)
		}
	}
}

func TestProgressParser_FinalPathPrecedence(t *testing.T) {
	p := newProgressParser()
	p.parse("[download] Destination: downloads/clip.f137.mp4")
	if p.finalPath() != "downloads/clip.f137.mp4" {
		t.Errorf("expected destination, got %q", p.finalPath())
	}

	p.parse(`[Merger] Merging formats into "downloads/clip.mp4"`)
	if p.finalPath() != "downloads/clip.mp4" {
		t.Errorf("merger output should win, got %q", p.finalPath())
	}

	p.parse("[ExtractAudio] Destination: downloads/clip.mp3")
	if p.finalPath() != "downloads/clip.mp3" {
		t.Errorf("extract-audio output should win, got %q", p.finalPath())
	}
}

func TestProgressParser_AlreadyDownloaded(t *testing.T) {
	p := newProgressParser()
	p.parse("[download] downloads/old.mp4 has already been downloaded")
	if p.finalPath() != "downloads/old.mp4" {
		t.Errorf("expected already-downloaded path, got %q", p.finalPath())
	}
}

func TestDownloadArgs(t *testing.T) {
	y := NewYTDLP("", nil, nil)

	t.Run("audio job", func(t *testing.T) {
		args := y.downloadArgs("https://example.com/v", Options{
			AudioOnly:      true,
			NoPlaylist:     true,
			OutputTemplate: "downloads/%(title)s.%(ext)s",
		})
		joined := strings.Join(args, " ")
		for _, want := range []string{
			"--no-playlist",
			"-f bestaudio/best",
			"--extract-audio --audio-format mp3",
			"-o downloads/%(title)s.%(ext)s",
		} {
			if !strings.Contains(joined, want) {
				t.Errorf("args missing %q: %s", want, joined)
			}
		}
		if args[len(args)-1] != "https://example.com/v" {
			t.Error("URL must be the last argument")
		}
	})

	t.Run("video merge job", func(t *testing.T) {
		args := y.downloadArgs("https://example.com/v", Options{
			Quality:     Quality720p,
			MergeFormat: "mp4",
		})
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, "-f bestvideo[height<=720]+bestaudio/best[height<=720]") {
			t.Errorf("quality preset not applied: %s", joined)
		}
		if !strings.Contains(joined, "--merge-output-format mp4") {
			t.Errorf("merge format not applied: %s", joined)
		}
	})

	t.Run("explicit format wins over preset", func(t *testing.T) {
		args := y.downloadArgs("u", Options{Format: "137+140", Quality: Quality1080p})
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, "-f 137+140") {
			t.Errorf("explicit format ignored: %s", joined)
		}
	})

	t.Run("extra flags pass through", func(t *testing.T) {
		args := y.downloadArgs("u", Options{Extra: map[string]string{
			"--proxy":      "http://localhost:3128",
			"--geo-bypass": "",
			"not-a-flag":   "dropped",
		}})
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, "--proxy http://localhost:3128") {
			t.Errorf("valued extra flag missing: %s", joined)
		}
		if !strings.Contains(joined, "--geo-bypass") {
			t.Errorf("bare extra flag missing: %s", joined)
		}
		if strings.Contains(joined, "not-a-flag") {
			t.Errorf("non-flag key should be dropped: %s", joined)
		}
	})
}

func TestFormatForQuality(t *testing.T) {
	tests := []struct {
		quality   string
		audioOnly bool
		want      string
	}{
		{QualityBest, false, "bestvideo+bestaudio/best"},
		{QualityWorst, false, "worstvideo+worstaudio/worst"},
		{Quality2160p, false, "bestvideo[height<=2160]+bestaudio/best[height<=2160]"},
		{Quality1080p, false, "bestvideo[height<=1080]+bestaudio/best[height<=1080]"},
		{Quality720p, false, "bestvideo[height<=720]+bestaudio/best[height<=720]"},
		{Quality480p, false, "bestvideo[height<=480]+bestaudio/best[height<=480]"},
		{"weird", false, "bestvideo+bestaudio/best"},
		{Quality1080p, true, "bestaudio/best"},
		{QualityWorst, true, "worstaudio/worst"},
	}
	for _, tt := range tests {
		if got := FormatForQuality(tt.quality, tt.audioOnly); got != tt.want {
			t.Errorf("FormatForQuality(%q, %v) = %q, want %q", tt.quality, tt.audioOnly, got, tt.want)
		}
	}
}

func TestSanitizeArtifact(t *testing.T) {
	y := NewYTDLP("yt-dlp", nil, nil)
	dir := t.TempDir()

	messy := filepath.Join(dir, "Café: Nights?.mp4")
	if err := os.WriteFile(messy, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := y.sanitizeArtifact(context.Background(), messy)
	want := filepath.Join(dir, "Cafe_ Nights_.mp4")
	if got != want {
		t.Fatalf("sanitizeArtifact = %q, want %q", got, want)
	}
	if _, err := os.Stat(got); err != nil {
		t.Fatalf("renamed artifact missing: %v", err)
	}
	if _, err := os.Stat(messy); !os.IsNotExist(err) {
		t.Error("original file should be gone after rename")
	}

	// Already-clean names come back untouched.
	clean := filepath.Join(dir, "plain_name.mp4")
	if err := os.WriteFile(clean, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := y.sanitizeArtifact(context.Background(), clean); got != clean {
		t.Errorf("clean path should be returned as-is, got %q", got)
	}
}

func TestScoreFormats(t *testing.T) {
	formats := []Format{
		{FormatID: "low", Height: 360, TBR: 700},
		{FormatID: "high", Height: 1080, TBR: 4500},
		{FormatID: "mid", Height: 720, TBR: 2500},
		{FormatID: "audio", Height: 0, TBR: 128},
	}

	ScoreFormats(formats)

	wantOrder := []string{"high", "mid", "low", "audio"}
	for i, want := range wantOrder {
		if formats[i].FormatID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, formats[i].FormatID)
		}
	}
	if formats[0].QualityScore <= formats[1].QualityScore {
		t.Error("scores should strictly decrease for distinct heights")
	}
}

func TestExtractorFailureMessage(t *testing.T) {
	stderr := "WARNING: something minor\nERROR: [youtube] abc: Video unavailable"
	got := extractorFailureMessage(stderr)
	if got != "ERROR: [youtube] abc: Video unavailable" {
		t.Errorf("expected last stderr line, got %q", got)
	}

	if got := extractorFailureMessage(""); got != "extractor process failed" {
		t.Errorf("empty stderr should yield a generic message, got %q", got)
	}
}
