package ops

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/arkstor/gatewayfs/driver"
	"github.com/arkstor/gatewayfs/internal/pathutil"
	"github.com/arkstor/gatewayfs/internal/vfs"
)

// List implements spec §4.4.1: resolve, call the driver, rewrite
// paths to virtual space, merge in any overlay children, apply hide
// rules, sort, and cache briefly.
func (e *Engine) List(ctx context.Context, virtualPath string) ([]driver.Entry, error) {
	np, err := pathutil.Normalize(virtualPath)
	if err != nil {
		return nil, err
	}

	res, err := e.Mounts.Resolve(np)
	if err != nil {
		if err == vfs.ErrNotFound {
			return nil, err
		}
		return nil, err
	}

	// Pure overlay: the virtual path is strictly above every mount
	// beneath it and isn't itself covered by any mount.
	if res.Overlay {
		return overlayEntries(np, res.OverlayChildren), nil
	}
	defer res.Ref.Release()

	mt := res.Ref.Mount()
	if cached, ok := e.Cache.Get(mt.ID, res.InnerPath); ok {
		return e.finishList(np, mt, cached, e.Mounts.ListOverlay(np)), nil
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	drv := res.Ref.Driver()
	var entries []driver.Entry
	err = withRetry(ctx, drv, e.Cfg.RetryBaseBackoff, func() error {
		var listErr error
		entries, listErr = drv.List(ctx, res.InnerPath)
		return listErr
	})
	if err != nil {
		logOp("list", np, err)
		return nil, err
	}

	ttl := e.Cfg.ListingCacheTTL
	if mt.CacheTTL > 0 {
		ttl = mt.CacheTTL
	}
	e.Cache.Set(mt.ID, res.InnerPath, entries, ttl)

	// Nested mounts below this directory contribute synthetic children
	// too (spec §4.4.1 step 1's merge case), taking precedence over a
	// same-named driver entry.
	nested := e.Mounts.ListOverlay(np)
	return e.finishList(np, mt, entries, nested), nil
}

func overlayEntries(virtualPath string, children []string) []driver.Entry {
	out := make([]driver.Entry, 0, len(children))
	for _, name := range children {
		out = append(out, driver.Entry{
			Name:  name,
			Path:  pathutil.Join(virtualPath, name),
			IsDir: true,
		})
	}
	return out
}

// finishList rewrites paths, merges nested-mount overlay entries,
// applies hide rules, and sorts.
func (e *Engine) finishList(virtualPath string, mt vfs.Mount, entries []driver.Entry, nestedChildren []string) []driver.Entry {
	overlaid := make(map[string]bool, len(nestedChildren))
	out := make([]driver.Entry, 0, len(entries)+len(nestedChildren))
	for _, name := range nestedChildren {
		if e.isHidden(name) {
			continue
		}
		overlaid[name] = true
		out = append(out, driver.Entry{
			Name:  name,
			Path:  pathutil.Join(virtualPath, name),
			IsDir: true,
		})
	}
	for _, ent := range entries {
		if e.isHidden(ent.Name) || overlaid[ent.Name] {
			continue
		}
		ent.Path = pathutil.Join(virtualPath, ent.Name)
		out = append(out, ent)
	}
	sortEntries(out)
	return out
}

// sortEntries implements spec §4.4.1 step 5: directories first, then
// case-insensitive natural order (numeric runs compared numerically).
func sortEntries(entries []driver.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDir != b.IsDir {
			return a.IsDir
		}
		return naturalLess(a.Name, b.Name)
	})
}

func naturalLess(a, b string) bool {
	al, bl := strings.ToLower(a), strings.ToLower(b)
	i, j := 0, 0
	for i < len(al) && j < len(bl) {
		ca, cb := al[i], bl[j]
		if isDigitByte(ca) && isDigitByte(cb) {
			ni, na := scanNumber(al, i)
			nj, nb := scanNumber(bl, j)
			if na != nb {
				return na < nb
			}
			i, j = ni, nj
			continue
		}
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	return len(al)-i < len(bl)-j
}

func isDigitByte(b byte) bool { return unicode.IsDigit(rune(b)) }

func scanNumber(s string, start int) (next int, n int64) {
	i := start
	for i < len(s) && isDigitByte(s[i]) {
		n = n*10 + int64(s[i]-'0')
		i++
	}
	return i, n
}

// InvalidateListing drops the cached listing for the directory
// containing virtualPath, called after any mutating operation lands
// there per spec §4.4.1 step 6.
func (e *Engine) InvalidateListing(virtualPath string) {
	np, err := pathutil.Normalize(virtualPath)
	if err != nil {
		return
	}
	parent := pathutil.Dir(np)
	res, err := e.Mounts.Resolve(parent)
	if err != nil || res.Overlay {
		return
	}
	defer res.Ref.Release()
	e.Cache.Invalidate(res.Ref.Mount().ID, res.InnerPath)
}
