// Package ops is the File Operations Engine: the component that turns
// a virtual path and an operation into resolved driver calls, retry
// and fallback logic, task submission, and listing-cache maintenance,
// per spec §4.4. It is grounded on the teacher's top-level fs package
// (the thing that turns an Fs + remote string into actual transfers)
// and fs.Pacer for its retry shape, composed with internal/vfs for
// resolution and internal/task for anything long-running.
package ops

import (
	"context"
	"regexp"

	"github.com/pkg/errors"

	"github.com/arkstor/gatewayfs/driver"
	"github.com/arkstor/gatewayfs/internal/applog"
	"github.com/arkstor/gatewayfs/internal/cache"
	"github.com/arkstor/gatewayfs/internal/config"
	"github.com/arkstor/gatewayfs/internal/task"
	"github.com/arkstor/gatewayfs/internal/vfs"
)

// ErrIsDirectory and ErrIsOverlay surface operations attempted against
// the wrong kind of path.
var (
	ErrIsDirectory = errors.New("path names a directory")
	ErrIsOverlay   = errors.New("path names a synthetic overlay directory")
)

// Engine wires the Mount Manager, the listing cache, and the Task
// Manager into the operations spec §4.4 describes. One Engine serves
// the whole gateway process.
type Engine struct {
	Mounts *vfs.Manager
	Tasks  *task.Manager
	Cache  *cache.ListCache
	Cfg    config.Config

	locks     pathLocks
	hideRules []*regexp.Regexp
}

// New builds an Engine from its collaborators.
func New(mounts *vfs.Manager, tasks *task.Manager, lc *cache.ListCache, cfg config.Config) *Engine {
	return &Engine{Mounts: mounts, Tasks: tasks, Cache: lc, Cfg: cfg}
}

// SetHideRules installs the meta collaborator's name-hiding regexes,
// applied to every List result per spec §4.4.1 step 4.
func (e *Engine) SetHideRules(patterns []string) error {
	rules := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return errors.Wrapf(err, "compile hide rule %q", p)
		}
		rules = append(rules, re)
	}
	e.hideRules = rules
	return nil
}

func (e *Engine) isHidden(name string) bool {
	for _, re := range e.hideRules {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// resolveFile resolves virtualPath and fails if it names an overlay
// directory, since overlays have no backing driver to act on.
func (e *Engine) resolveFile(virtualPath string) (*vfs.Ref, string, error) {
	res, err := e.Mounts.Resolve(virtualPath)
	if err != nil {
		return nil, "", err
	}
	if res.Overlay {
		return nil, "", ErrIsOverlay
	}
	return res.Ref, res.InnerPath, nil
}

func logOp(op, virtualPath string, err error) {
	if err != nil {
		applog.Errorf(applog.Fields{"op": op, "path": virtualPath}, "%v", err)
		return
	}
	applog.Debugf(applog.Fields{"op": op, "path": virtualPath}, "ok")
}

// classify normalizes any error returned by a driver call into a
// *driver.Error, per spec §7's "drivers that cannot classify default
// to Permanent".
func classify(err error) *driver.Error {
	return driver.AsError(err)
}

// withTimeout wraps ctx with the configured operation timeout for
// control-plane calls (list, mkdir, rename, delete), per spec §5's
// default 60s control-operation timeout.
func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	d := e.Cfg.OperationTimeout
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
