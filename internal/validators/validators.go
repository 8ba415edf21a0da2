package validators

import (
	"net/url"
	"strings"

	"github.com/streamvault/backend/internal/queue"
)

// ValidationResult contains the result of submission URL validation
type ValidationResult struct {
	Valid bool   `json:"valid"`
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

func invalid(rawURL, msg string) ValidationResult {
	return ValidationResult{Valid: false, URL: rawURL, Error: msg}
}

// ValidateSubmission checks a job URL before it enters the queue. The
// extractor handles the long tail of site support, so this only rejects
// URLs that can never work: bad schemes, missing hosts, and non-manifest
// URLs for segmented jobs.
func ValidateSubmission(rawURL string, kind queue.Kind) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return invalid(rawURL, "url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return invalid(rawURL, "invalid URL format")
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
		rawURL = parsed.String()
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return invalid(rawURL, "invalid URL scheme")
	}
	if parsed.Host == "" {
		return invalid(rawURL, "URL has no host")
	}
	if parsed.User != nil {
		return invalid(rawURL, "URLs with embedded credentials are not accepted")
	}

	if kind == queue.KindSegmentedStream && !looksLikeManifest(parsed) {
		return invalid(rawURL, "segmented jobs require an HLS manifest URL")
	}

	return ValidationResult{Valid: true, URL: rawURL}
}

// looksLikeManifest accepts .m3u8 paths and manifest-bearing query params.
// Some CDNs serve playlists from extensionless paths with the manifest
// name in the query string.
func looksLikeManifest(parsed *url.URL) bool {
	path := strings.ToLower(parsed.Path)
	if strings.HasSuffix(path, ".m3u8") || strings.HasSuffix(path, ".m3u") {
		return true
	}
	return strings.Contains(strings.ToLower(parsed.RawQuery), "m3u8")
}
