package ops

import (
	"context"

	"github.com/arkstor/gatewayfs/driver"
	"github.com/arkstor/gatewayfs/internal/pathutil"
)

// CreateDir implements spec §4.4.6: a pass-through to the driver
// after resolution. Pre-existing directories are treated as success,
// per spec §9's open-question recommendation.
func (e *Engine) CreateDir(ctx context.Context, virtualPath string) error {
	ref, inner, err := e.resolveFile(virtualPath)
	if err != nil {
		return err
	}
	defer ref.Release()
	mt := ref.Mount()

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	err = withRetry(ctx, ref.Driver(), e.Cfg.RetryBaseBackoff, func() error {
		return ref.Driver().CreateDir(ctx, inner)
	})
	if err != nil {
		if classify(err).Kind == driver.KindAlreadyExists {
			return nil
		}
		return err
	}
	e.InvalidateListing(pathutil.Join(mt.MountPath, inner))
	return nil
}

// Rename implements spec §4.4.6: a same-directory rename passes
// through to the driver directly (no task) when it advertises
// CapRename; otherwise, and for a newName that lands in another
// directory (possibly on another driver), it runs as a Move task
// whose id is returned.
func (e *Engine) Rename(ctx context.Context, virtualPath, newName string) (string, error) {
	np, err := pathutil.Normalize(virtualPath)
	if err != nil {
		return "", err
	}
	dst, err := pathutil.Normalize(pathutil.Join(pathutil.Dir(np), newName))
	if err != nil {
		return "", err
	}
	if pathutil.Dir(dst) != pathutil.Dir(np) {
		return e.Move(ctx, np, dst, MoveOptions{})
	}

	ref, inner, err := e.resolveFile(np)
	if err != nil {
		return "", err
	}
	if ref.Driver().Capabilities().Has(driver.CapRename) {
		mt := ref.Mount()
		ctx, cancel := e.withTimeout(ctx)
		defer cancel()
		err := withRetry(ctx, ref.Driver(), e.Cfg.RetryBaseBackoff, func() error {
			return ref.Driver().Rename(ctx, inner, newName)
		})
		ref.Release()
		if err != nil {
			if classify(err).Kind != driver.KindUnsupported {
				return "", err
			}
		} else {
			e.InvalidateListing(pathutil.Join(mt.MountPath, inner))
			return "", nil
		}
	} else {
		ref.Release()
	}

	return e.Move(ctx, np, dst, MoveOptions{})
}
