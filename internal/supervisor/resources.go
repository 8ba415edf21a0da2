package supervisor

import (
	"context"

	"github.com/shirou/gopsutil/v4/mem"

	apperrors "github.com/streamvault/backend/internal/errors"
	"github.com/streamvault/backend/internal/logger"
)

// ResourceGuard is the coarse pre-flight check run before a job starts. It
// is best-effort, not accounting: when probing itself fails the guard fails
// open and lets the job proceed.
type ResourceGuard struct {
	memoryFloor uint64 // bytes; 0 disables the check
	log         *logger.Logger
}

// NewResourceGuard creates a guard that requires at least floorMB of
// available memory before admitting a job.
func NewResourceGuard(floorMB uint64, log *logger.Logger) *ResourceGuard {
	if log == nil {
		log = logger.Default().WithComponent("resources")
	}
	return &ResourceGuard{
		memoryFloor: floorMB * 1024 * 1024,
		log:         log,
	}
}

// Check returns ResourceExhausted when available memory sits below the
// configured floor.
func (g *ResourceGuard) Check(ctx context.Context) error {
	if g.memoryFloor == 0 {
		return nil
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		g.log.Warn(ctx, "memory probe failed, proceeding anyway", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	if vm.Available < g.memoryFloor {
		return apperrors.ResourceExhausted("insufficient available memory to start job").
			WithDetails(map[string]any{
				"available_bytes": vm.Available,
				"floor_bytes":     g.memoryFloor,
			})
	}
	return nil
}
