package ops

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"
)

func TestJoinArchivePathRejectsPathTraversal(t *testing.T) {
	cases := []struct {
		base, entry string
		wantOK      bool
	}{
		{"/two/dir", "a.txt", true},
		{"/two/dir", "sub/a.txt", true},
		{"/two/dir", "../sibling.txt", false},
		{"/two/dir", "../../etc/passwd", false},
		{"/two/dir", "a/../../escape.txt", false},
		{"/", "../../etc/passwd", true}, // nothing to escape above root
	}
	for _, c := range cases {
		got, ok := joinArchivePath(c.base, c.entry)
		if ok != c.wantOK {
			t.Errorf("joinArchivePath(%q, %q) ok=%v (dst %q), want ok=%v", c.base, c.entry, ok, got, c.wantOK)
		}
	}
}

func TestExtractZipSkipsPathTraversalEntry(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/one"), memMount("b", "/two"))
	fsA := driverAt(t, mgr, "/one")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("sub/a.txt")
	if err != nil {
		t.Fatalf("zip.Create: %v", err)
	}
	w.Write([]byte("safe"))
	w, err = zw.Create("../../evil.txt")
	if err != nil {
		t.Fatalf("zip.Create: %v", err)
	}
	w.Write([]byte("malicious"))
	if err := zw.Close(); err != nil {
		t.Fatalf("zip.Close: %v", err)
	}
	fsA.PutRaw("archive.zip", buf.Bytes())

	fsB := driverAt(t, mgr, "/two")
	fsB.PutRaw("dir/.keep", nil)

	taskID, err := engine.Extract(context.Background(), "/one/archive.zip", "/two/dir", "")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	tk := waitTaskDone(t, engine.Tasks, taskID)
	if tk.LastError != "" {
		t.Fatalf("extract failed: %s", tk.LastError)
	}

	if _, err := fsB.OpenReader(context.Background(), "dir/sub/a.txt", nil); err != nil {
		t.Errorf("expected safe entry to be extracted: %v", err)
	}
	if _, err := fsB.OpenReader(context.Background(), "evil.txt", nil); err == nil {
		t.Errorf("path-traversal entry escaped the destination directory")
	}
}
