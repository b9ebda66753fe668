package ops

import (
	"context"
	"testing"
)

func TestListSortsDirectoriesFirstThenNatural(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/cloud"))
	fs := driverAt(t, mgr, "/cloud")
	fs.PutRaw("b.txt", []byte("b"))
	fs.PutRaw("a.txt", []byte("a"))
	fs.PutRaw("dir2/x", []byte("x"))
	fs.PutRaw("dir10/x", []byte("x"))

	entries, err := engine.List(context.Background(), "/cloud")
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{"dir2", "dir10", "a.txt", "b.txt"}
	if len(names) != len(want) {
		t.Fatalf("got entries %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d = %q, want %q (full: %v)", i, names[i], want[i], names)
		}
	}
}

func TestListHidesNamesMatchingHideRules(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/cloud"))
	fs := driverAt(t, mgr, "/cloud")
	fs.PutRaw("visible.txt", []byte("v"))
	fs.PutRaw(".hidden", []byte("h"))

	if err := engine.SetHideRules([]string{`^\.`}); err != nil {
		t.Fatalf("SetHideRules: %v", err)
	}

	entries, err := engine.List(context.Background(), "/cloud")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, e := range entries {
		if e.Name == ".hidden" {
			t.Errorf("hidden entry %q leaked into List results", e.Name)
		}
	}
}

func TestListOverlayDirectoryMergesNestedMountNames(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/cloud/one"), memMount("b", "/cloud/two"))
	_ = mgr

	entries, err := engine.List(context.Background(), "/cloud")
	if err != nil {
		t.Fatalf("List on overlay: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
		if !e.IsDir {
			t.Errorf("overlay child %q should be reported as a directory", e.Name)
		}
	}
	if len(names) != 2 || names[0] != "one" || names[1] != "two" {
		t.Errorf("got overlay children %v, want [one two]", names)
	}
}

func TestListUsesCacheOnSecondCall(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/cloud"))
	fs := driverAt(t, mgr, "/cloud")
	fs.PutRaw("f.txt", []byte("1"))

	if _, err := engine.List(context.Background(), "/cloud"); err != nil {
		t.Fatalf("first List: %v", err)
	}

	// Queue a fault that would fail a second driver.List call; a cache
	// hit must avoid calling the driver again.
	fs.Faults["List"] = append(fs.Faults["List"], errListShouldNotBeCalled)

	if _, err := engine.List(context.Background(), "/cloud"); err != nil {
		t.Fatalf("second (cached) List: %v", err)
	}
}

func TestInvalidateListingForcesDriverReload(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/cloud"))
	fs := driverAt(t, mgr, "/cloud")
	fs.PutRaw("f.txt", []byte("1"))

	if _, err := engine.List(context.Background(), "/cloud"); err != nil {
		t.Fatalf("first List: %v", err)
	}

	fs.PutRaw("g.txt", []byte("2"))
	engine.InvalidateListing("/cloud/g.txt")

	entries, err := engine.List(context.Background(), "/cloud")
	if err != nil {
		t.Fatalf("List after invalidate: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries after invalidate, want 2", len(entries))
	}
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

var errListShouldNotBeCalled = sentinelErr("List should not have been called: cache hit expected")
