package ops

import (
	"context"
	"crypto/md5"
	"fmt"
	"strings"
	"testing"

	"github.com/arkstor/gatewayfs/driver"
)

func TestPutStreamsAndCreatesFile(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/cloud"))
	fs := driverAt(t, mgr, "/cloud")

	body := "hello world"
	taskID, err := engine.Put(context.Background(), "/cloud/f.txt", strings.NewReader(body), int64(len(body)), PutOptions{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	waitTaskDone(t, engine.Tasks, taskID)

	data, err := fs.OpenReader(context.Background(), "f.txt", nil)
	if err != nil {
		t.Fatalf("OpenReader after Put: %v", err)
	}
	defer data.Close()
	if data.Size() != int64(len(body)) {
		t.Errorf("got size %d, want %d", data.Size(), len(body))
	}
}

func TestPutResolvesNameConflictWithCounterSuffix(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/cloud"))
	fs := driverAt(t, mgr, "/cloud")
	fs.PutRaw("f.txt", []byte("existing"))

	taskID, err := engine.Put(context.Background(), "/cloud/f.txt", strings.NewReader("new"), 3, PutOptions{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	tk := waitTaskDone(t, engine.Tasks, taskID)
	if tk.DestRef != "/cloud/f (1).txt" {
		t.Errorf("got DestRef %q, want a counter-suffixed name", tk.DestRef)
	}
}

func TestPutOverwriteSkipsConflictResolution(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/cloud"))
	fs := driverAt(t, mgr, "/cloud")
	fs.PutRaw("f.txt", []byte("old"))

	taskID, err := engine.Put(context.Background(), "/cloud/f.txt", strings.NewReader("new"), 3, PutOptions{Overwrite: true})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	waitTaskDone(t, engine.Tasks, taskID)

	rd, err := fs.OpenReader(context.Background(), "f.txt", nil)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer rd.Close()
	buf := make([]byte, rd.Size())
	_, _ = rd.Read(buf)
	if string(buf) != "new" {
		t.Errorf("got content %q, want overwrite to have replaced it with %q", buf, "new")
	}
}

func TestPutInstantUploadSkipsTransfer(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/cloud"))
	fs := driverAt(t, mgr, "/cloud")

	body := []byte("same bytes everywhere")
	sum := md5.Sum(body)
	digest := fmt.Sprintf("%x", sum[:])
	fs.InstantHashes = map[string]bool{digest: true}

	taskID, err := engine.Put(context.Background(), "/cloud/f.txt", strings.NewReader(string(body)), int64(len(body)), PutOptions{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	waitTaskDone(t, engine.Tasks, taskID)

	if fs.InstantHits() != 1 {
		t.Errorf("got %d instant-upload hits, want 1", fs.InstantHits())
	}
}

func TestPutFallsBackToTempFileWhenOpenWriterUnsupported(t *testing.T) {
	engine, mgr := newTestEngine(t, memMount("a", "/cloud"))
	fs := driverAt(t, mgr, "/cloud")
	fs.WithCapabilities(driver.CapList | driver.CapRead | driver.CapWriteWhole | driver.CapDelete | driver.CapMkdir)

	body := "buffered upload"
	taskID, err := engine.Put(context.Background(), "/cloud/f.txt", strings.NewReader(body), int64(len(body)), PutOptions{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	tk := waitTaskDone(t, engine.Tasks, taskID)
	if tk.LastError != "" {
		t.Fatalf("Put via temp-file fallback failed: %s", tk.LastError)
	}

	rd, err := fs.OpenReader(context.Background(), "f.txt", nil)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer rd.Close()
	if rd.Size() != int64(len(body)) {
		t.Errorf("got size %d, want %d", rd.Size(), len(body))
	}
}
