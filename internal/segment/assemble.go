package segment

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	apperrors "github.com/streamvault/backend/internal/errors"
	"github.com/streamvault/backend/internal/logger"
)

// Assembler turns an ordered set of segment files into one container file.
// The primary path runs ffmpeg's concat demuxer; when that fails, a direct
// byte concatenation of the transport-stream segments stands in.
type Assembler struct {
	ffmpegPath string
	log        *logger.Logger
}

// NewAssembler resolves ffmpeg from PATH. A missing binary is not an error;
// assembly then always uses the concat fallback.
func NewAssembler(log *logger.Logger) *Assembler {
	if log == nil {
		log = logger.Default().WithComponent("assembler")
	}
	a := &Assembler{log: log}
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		a.ffmpegPath = path
	}
	return a
}

// Assemble merges files (already sorted by segment index) into outputPath.
func (a *Assembler) Assemble(ctx context.Context, dir string, files []string, outputPath string) error {
	if len(files) == 0 {
		return apperrors.DownloadError("nothing to assemble")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return apperrors.StorageError("cannot create output directory").WithCause(err)
	}

	if a.ffmpegPath != "" {
		err := a.muxWithFFmpeg(ctx, dir, files, outputPath)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Warn(ctx, "ffmpeg merge failed, falling back to direct concat", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return a.concat(files, outputPath)
}

// muxWithFFmpeg writes a concat manifest and remuxes without re-encoding.
func (a *Assembler) muxWithFFmpeg(ctx context.Context, dir string, files []string, outputPath string) error {
	listPath := filepath.Join(dir, "concat.txt")
	var list strings.Builder
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			abs = f
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return fmt.Errorf("write concat manifest: %w", err)
	}

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, a.ffmpegPath, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outputPath)
		return fmt.Errorf("ffmpeg concat: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// concat appends the segment files byte-for-byte. Valid for transport
// streams, which are designed to be joinable.
func (a *Assembler) concat(files []string, outputPath string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return apperrors.StorageError("cannot create output file").WithCause(err)
	}
	defer out.Close()

	for _, f := range files {
		if err := appendFile(out, f); err != nil {
			os.Remove(outputPath)
			return apperrors.DownloadError(fmt.Sprintf("concat failed at %s", filepath.Base(f))).WithCause(err)
		}
	}
	return nil
}

func appendFile(dst io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}
