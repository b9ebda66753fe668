package driver

import "time"

// Entry is the uniform listing element the engine builds from driver
// results. Path is always virtual by the time it reaches a caller; drivers
// populate it with the inner (driver-relative) path and the engine rewrites
// it, see internal/ops.rewritePath.
type Entry struct {
	Name       string            `json:"name"`
	Path       string            `json:"path"`
	Size       uint64            `json:"size"`
	IsDir      bool              `json:"is_dir"`
	Modified   *time.Time        `json:"modified,omitempty"`
	Created    *time.Time        `json:"created,omitempty"`
	Hashes     map[string]string `json:"hashes,omitempty"`
	Thumbnail  string            `json:"thumbnail,omitempty"`
	RawURL     string            `json:"raw_url,omitempty"`
	Provider   string            `json:"provider,omitempty"`
	ID         string            `json:"id,omitempty"`
	Extra      map[string]any    `json:"extra,omitempty"`
}

// Range is a half-open [Start, End) byte interval. End of -1 means
// "read to end" (unknown length).
type Range struct {
	Start int64
	End   int64
}

// ToEnd reports whether the range has no declared upper bound.
func (r Range) ToEnd() bool {
	return r.End < 0
}

// SpaceInfo reports backend capacity in bytes, when known.
type SpaceInfo struct {
	Total uint64
	Used  uint64
	Free  uint64
}
