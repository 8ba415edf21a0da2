package segment

import (
	"context"
	"net/http"
	"os"

	"github.com/streamvault/backend/internal/logger"
)

// Pipeline is the full segmented-stream download: parse, fetch with retry
// tiers, assemble. The temporary segment directory is removed on every exit
// path.
type Pipeline struct {
	fetcher   *Fetcher
	assembler *Assembler
	log       *logger.Logger
}

// NewPipeline wires a fetcher and assembler with shared defaults.
func NewPipeline(client *http.Client, initialWorkers int, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Default().WithComponent("segments")
	}
	return &Pipeline{
		fetcher:   NewFetcher(client, initialWorkers, log),
		assembler: NewAssembler(log),
		log:       log,
	}
}

// Download fetches the stream behind manifestURL and assembles it into
// outputPath. Progress reports completed segments against the total. The
// returned result describes recovery counts; its file paths are gone by the
// time it returns.
func (p *Pipeline) Download(ctx context.Context, manifestURL, outputPath string, onProgress func(done, total int)) (*FetchResult, error) {
	dir, err := os.MkdirTemp("", "segments-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	result, err := p.fetcher.Fetch(ctx, manifestURL, dir, onProgress)
	if err != nil {
		return nil, err
	}

	if err := p.assembler.Assemble(ctx, dir, result.Files, outputPath); err != nil {
		return nil, err
	}
	return result, nil
}
