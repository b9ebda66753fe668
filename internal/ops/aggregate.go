package ops

import (
	"context"

	"github.com/arkstor/gatewayfs/driver"
	"github.com/arkstor/gatewayfs/internal/applog"
	"github.com/arkstor/gatewayfs/internal/vfs"
)

// MountSpaceInfo pairs a mount's space usage with its identity, for
// the admin "storage usage summary" the original source exposes
// (original_source's aggregate space_info() across mounts, supplemented
// into this engine per SPEC_FULL.md's domain-stack wiring).
type MountSpaceInfo struct {
	Mount vfs.Mount
	Space *driver.SpaceInfo
	Err   string
}

// AggregateSpaceInfo calls SpaceInfo on every enabled mount that
// supports it, collecting failures per-mount instead of failing the
// whole summary if one backend is unreachable.
func (e *Engine) AggregateSpaceInfo(ctx context.Context) []MountSpaceInfo {
	mounts := e.Mounts.Mounts()
	out := make([]MountSpaceInfo, 0, len(mounts))
	for _, mt := range mounts {
		res, err := e.Mounts.Resolve(mt.MountPath)
		if err != nil || res.Overlay {
			continue
		}
		drv := res.Ref.Driver()
		if !drv.Capabilities().Has(driver.CapSpaceInfo) {
			res.Ref.Release()
			continue
		}
		info, serr := drv.SpaceInfo(ctx)
		res.Ref.Release()
		item := MountSpaceInfo{Mount: mt}
		if serr != nil {
			applog.Errorf(applog.Fields{"mount": mt.ID}, "space_info: %v", serr)
			item.Err = classify(serr).Error()
		} else {
			item.Space = info
		}
		out = append(out, item)
	}
	return out
}
