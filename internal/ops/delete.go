package ops

import (
	"context"
	"sort"

	"github.com/arkstor/gatewayfs/driver"
	"github.com/arkstor/gatewayfs/internal/pathutil"
	"github.com/arkstor/gatewayfs/internal/task"
)

// Delete implements spec §4.4.5: a file deletes directly with no
// task; a directory deletes directly if the driver's delete is
// recursive, otherwise it is enumerated and deleted depth-first under
// a task. Returns a non-empty task id only for the depth-first case.
func (e *Engine) Delete(ctx context.Context, virtualPath string, ownerID string) (string, error) {
	ref, inner, err := e.resolveFile(virtualPath)
	if err != nil {
		return "", err
	}
	mt := ref.Mount()
	drv := ref.Driver()

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	entries, listErr := drv.List(ctx, inner)
	if listErr != nil {
		// Not a directory: delete the file directly.
		cerr := classify(listErr)
		if cerr.Kind == driver.KindNotADirectory {
			defer ref.Release()
			err := withRetry(ctx, drv, e.Cfg.RetryBaseBackoff, func() error { return drv.Delete(ctx, inner) })
			if err == nil {
				e.InvalidateListing(pathutil.Join(mt.MountPath, inner))
			}
			return "", err
		}
		ref.Release()
		return "", cerr
	}

	// It's a directory: try a single recursive delete call first.
	err = drv.Delete(ctx, inner)
	if err == nil {
		ref.Release()
		e.InvalidateListing(pathutil.Join(mt.MountPath, inner))
		return "", nil
	}
	if classify(err).Kind != driver.KindUnsupported {
		ref.Release()
		return "", err
	}

	// Driver doesn't support recursive delete: depth-first under a task.
	taskID := e.Tasks.Submit(ctx, task.Spec{
		Kind:       task.KindDelete,
		SourceRef:  virtualPath,
		OwnerID:    ownerID,
		DriverName: mt.DriverKind,
		Cancelable: true,
	}, func(runCtx context.Context, ctrl *task.Control, report func(done, total uint64)) error {
		defer ref.Release()
		total := uint64(len(entries))
		var done uint64
		if err := deleteRecursive(runCtx, ctrl, drv, inner, entries, &done, total, report); err != nil {
			return err
		}
		return drv.Delete(runCtx, inner)
	})
	return taskID, nil
}

func deleteRecursive(ctx context.Context, ctrl *task.Control, drv driver.Driver, inner string, entries []driver.Entry, done *uint64, total uint64, report func(done, total uint64)) error {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	for _, ent := range entries {
		if err := ctrl.WaitIfPaused(ctx); err != nil {
			return err
		}
		if ctrl.Cancelled() {
			return context.Canceled
		}
		child := pathutil.Join(inner, ent.Name)
		if ent.IsDir {
			childEntries, err := drv.List(ctx, child)
			if err != nil && classify(err).Kind != driver.KindNotFound {
				return err
			}
			total += uint64(len(childEntries))
			if err := deleteRecursive(ctx, ctrl, drv, child, childEntries, done, total, report); err != nil {
				return err
			}
			if err := drv.Delete(ctx, child); err != nil && classify(err).Kind != driver.KindNotFound {
				return err
			}
		} else {
			if err := drv.Delete(ctx, child); err != nil && classify(err).Kind != driver.KindNotFound {
				return err
			}
		}
		*done++
		report(*done, total)
	}
	return nil
}
