package extractor

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "My Video.mp4", "My Video.mp4"},
		{"reserved chars", `What? A "Test": 1/2.mp4`, "What_ A _Test__ 1_2.mp4"},
		{"collapsed whitespace", "too   many\t spaces.mkv", "too many spaces.mkv"},
		{"accents folded", "Café Olé.mp3", "Cafe Ole.mp3"},
		{"trailing dots", "ends badly...", "ends badly"},
		{"empty becomes placeholder", "....", "download"},
		{"null bytes dropped", "bad\x00name.mp4", "badname.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeFilename(tt.input)
			if got != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeFilename_CapsLengthKeepingExtension(t *testing.T) {
	long := strings.Repeat("a", 400) + ".mp4"
	got := SanitizeFilename(long)

	if len(got) > maxFilenameLen {
		t.Errorf("sanitized name is %d bytes, cap is %d", len(got), maxFilenameLen)
	}
	if !strings.HasSuffix(got, ".mp4") {
		t.Errorf("extension lost: %q", got)
	}
}
