package segment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	apperrors "github.com/streamvault/backend/internal/errors"
	"github.com/streamvault/backend/internal/logger"
)

// fetchTier is one pass over the outstanding segments: a worker count and a
// per-segment timeout. Later tiers trade concurrency for patience.
type fetchTier struct {
	workers int
	timeout time.Duration
}

// The initial pass runs wide with a short timeout; the two retry tiers
// narrow down and wait longer. Segments still missing after the last tier
// are dropped rather than failing the stream.
var defaultTiers = []fetchTier{
	{workers: 8, timeout: 15 * time.Second},
	{workers: 4, timeout: 30 * time.Second},
	{workers: 2, timeout: 60 * time.Second},
}

// FetchResult describes what one stream download recovered.
type FetchResult struct {
	Dir       string
	Files     []string // segment files in index order
	Recovered int
	Dropped   []int // indices lost after all retry tiers
	Total     int
}

// Fetcher downloads a stream's segments into a directory with a bounded
// worker pool and escalating retry tiers.
type Fetcher struct {
	client    *http.Client
	decryptor *Decryptor
	tiers     []fetchTier
	log       *logger.Logger
}

// NewFetcher creates a fetcher. initialWorkers overrides the first tier's
// pool size when positive; the retry tiers are fixed.
func NewFetcher(client *http.Client, initialWorkers int, log *logger.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = logger.Default().WithComponent("segments")
	}
	tiers := make([]fetchTier, len(defaultTiers))
	copy(tiers, defaultTiers)
	if initialWorkers > 0 {
		tiers[0].workers = initialWorkers
	}
	return &Fetcher{
		client:    client,
		decryptor: NewDecryptor(client),
		tiers:     tiers,
		log:       log,
	}
}

// Fetch resolves the manifest and downloads every segment into dir. Progress
// is reported as segments complete. Per-segment failures never abort the
// batch; whatever the retry tiers cannot recover is dropped.
func (f *Fetcher) Fetch(ctx context.Context, manifestURL, dir string, onProgress func(done, total int)) (*FetchResult, error) {
	manifest, err := FetchManifest(ctx, f.client, manifestURL)
	if err != nil {
		return nil, err
	}

	var enc *EncryptionContext
	if manifest.Key != nil {
		key, err := f.decryptor.FetchKey(ctx, manifest.Key.URI)
		if err != nil {
			return nil, err
		}
		iv, err := ParseIV(manifest.Key.IV)
		if err != nil {
			return nil, apperrors.ManifestError("unparseable IV attribute").WithCause(err)
		}
		enc = &EncryptionContext{Key: key, IV: iv}
	}

	total := len(manifest.Segments)
	recovered := make(map[int]string, total)
	var mu sync.Mutex

	report := func() {
		if onProgress != nil {
			mu.Lock()
			done := len(recovered)
			mu.Unlock()
			onProgress(done, total)
		}
	}

	outstanding := manifest.Segments
	for tierIdx, tier := range f.tiers {
		if len(outstanding) == 0 {
			break
		}
		if tierIdx > 0 {
			f.log.Warn(ctx, "retrying failed segments", map[string]interface{}{
				"tier":    tierIdx,
				"count":   len(outstanding),
				"workers": tier.workers,
				"timeout": tier.timeout.String(),
			})
		}

		failed := f.runTier(ctx, tier, outstanding, enc, dir, func(index int, path string) {
			mu.Lock()
			recovered[index] = path
			mu.Unlock()
			report()
		})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		outstanding = failed
	}

	if len(recovered) == 0 {
		return nil, apperrors.DownloadError("no segments recovered from stream")
	}

	result := &FetchResult{Dir: dir, Recovered: len(recovered), Total: total}
	for _, seg := range outstanding {
		result.Dropped = append(result.Dropped, seg.Index)
	}
	sort.Ints(result.Dropped)
	if len(result.Dropped) > 0 {
		f.log.Warn(ctx, "segments dropped after all retry tiers", map[string]interface{}{
			"dropped": result.Dropped,
			"total":   total,
		})
	}

	indices := make([]int, 0, len(recovered))
	for idx := range recovered {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		result.Files = append(result.Files, recovered[idx])
	}
	return result, nil
}

// runTier downloads the given segments with a bounded pool and returns the
// ones that failed.
func (f *Fetcher) runTier(ctx context.Context, tier fetchTier, segments []Segment, enc *EncryptionContext, dir string, onDone func(index int, path string)) []Segment {
	jobs := make(chan Segment)
	var failedMu sync.Mutex
	var failed []Segment

	var wg sync.WaitGroup
	for w := 0; w < tier.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seg := range jobs {
				path, err := f.fetchOne(ctx, seg, enc, dir, tier.timeout)
				if err != nil {
					if ctx.Err() == nil {
						f.log.Debug(ctx, "segment fetch failed", map[string]interface{}{
							"index": seg.Index,
							"error": err.Error(),
						})
					}
					failedMu.Lock()
					failed = append(failed, seg)
					failedMu.Unlock()
					continue
				}
				onDone(seg.Index, path)
			}
		}()
	}

	for _, seg := range segments {
		select {
		case jobs <- seg:
		case <-ctx.Done():
			failedMu.Lock()
			failed = append(failed, seg)
			failedMu.Unlock()
		}
	}
	close(jobs)
	wg.Wait()

	sort.Slice(failed, func(i, j int) bool { return failed[i].Index < failed[j].Index })
	return failed
}

// fetchOne downloads and, when needed, decrypts a single segment to disk.
func (f *Fetcher) fetchOne(ctx context.Context, seg Segment, enc *EncryptionContext, dir string, timeout time.Duration) (string, error) {
	segCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(segCtx, http.MethodGet, seg.URL, nil)
	if err != nil {
		return "", apperrors.SegmentFetchError(seg.Index, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", apperrors.SegmentFetchError(seg.Index, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.SegmentFetchError(seg.Index, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.SegmentFetchError(seg.Index, err)
	}

	if seg.Encrypted && enc != nil {
		data, err = Decrypt(data, enc, seg.Index)
		if err != nil {
			return "", apperrors.SegmentFetchError(seg.Index, err)
		}
	}

	path := filepath.Join(dir, fmt.Sprintf("seg_%05d.ts", seg.Index))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", apperrors.SegmentFetchError(seg.Index, err)
	}
	return path, nil
}
