package segment

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/streamvault/backend/internal/errors"
)

// Segment is one ordered piece of a stream. Index defines reassembly order.
// Segments are ephemeral; they exist only for the duration of one download.
type Segment struct {
	Index     int
	URL       string
	Encrypted bool
}

// KeyInfo is the manifest's encryption declaration.
type KeyInfo struct {
	Method string
	URI    string
	IV     string // hex, possibly 0x-prefixed; empty means derive per segment
}

// Manifest is a parsed media playlist.
type Manifest struct {
	Segments []Segment
	Key      *KeyInfo
}

// FetchManifest retrieves and parses a media playlist. A 401 is reported
// distinctly: URLs with embedded expiring credentials cannot be refreshed at
// this layer, so retrying is pointless.
func FetchManifest(ctx context.Context, client *http.Client, manifestURL string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, apperrors.ManifestError("invalid manifest URL").WithCause(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, apperrors.ManifestError("manifest fetch failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, apperrors.ManifestError("manifest fetch unauthorized").
			WithDetails(map[string]any{
				"status": resp.StatusCode,
				"hint":   "stream credentials have likely expired; obtain a fresh URL",
			})
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.ManifestError(fmt.Sprintf("manifest fetch returned HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, apperrors.ManifestError("manifest read failed").WithCause(err)
	}

	return ParseManifest(resp.Request.URL, string(body))
}

// ParseManifest extracts ordered segment URLs and the encryption context
// from an M3U8 media playlist. Relative URIs resolve against base.
func ParseManifest(base *url.URL, body string) (*Manifest, error) {
	if !strings.HasPrefix(strings.TrimSpace(body), "#EXTM3U") {
		return nil, apperrors.ManifestError("not an M3U8 playlist")
	}

	m := &Manifest{}
	encrypted := false

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#EXT-X-KEY:") {
			key := parseKeyLine(strings.TrimPrefix(line, "#EXT-X-KEY:"), base)
			if key.Method == "NONE" {
				encrypted = false
				continue
			}
			m.Key = key
			encrypted = true
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		segURL, err := resolveURL(base, line)
		if err != nil {
			continue
		}
		m.Segments = append(m.Segments, Segment{
			Index:     len(m.Segments),
			URL:       segURL,
			Encrypted: encrypted,
		})
	}

	if len(m.Segments) == 0 {
		return nil, apperrors.ManifestError("playlist contains no segments")
	}
	return m, nil
}

// parseKeyLine parses the attribute list of an EXT-X-KEY tag.
func parseKeyLine(attrs string, base *url.URL) *KeyInfo {
	key := &KeyInfo{}
	for _, attr := range splitAttributes(attrs) {
		name, value, ok := strings.Cut(attr, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch name {
		case "METHOD":
			key.Method = value
		case "URI":
			if resolved, err := resolveURL(base, value); err == nil {
				key.URI = resolved
			} else {
				key.URI = value
			}
		case "IV":
			key.IV = value
		}
	}
	return key
}

// splitAttributes splits on commas outside quoted values.
func splitAttributes(s string) []string {
	var out []string
	var cur strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ',' && !inQuote:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func resolveURL(base *url.URL, ref string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if base == nil {
		return parsed.String(), nil
	}
	return base.ResolveReference(parsed).String(), nil
}
