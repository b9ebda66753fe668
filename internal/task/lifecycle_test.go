package task

import (
	"context"
	"testing"
	"time"
)

func waitForState(t *testing.T, m *Manager, id string, want State, timeout time.Duration) Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		tk, ok := m.Get(id)
		if !ok {
			t.Fatalf("task %s vanished", id)
		}
		if tk.State == want {
			return tk
		}
		time.Sleep(2 * time.Millisecond)
	}
	tk, _ := m.Get(id)
	t.Fatalf("task %s never reached state %s, stuck at %s", id, want, tk.State)
	return Task{}
}

func TestSubmitRunsToSuccess(t *testing.T) {
	m := NewManager()
	defer m.Close()

	id := m.Submit(context.Background(), Spec{Kind: KindCopy}, func(ctx context.Context, ctrl *Control, report func(done, total uint64)) error {
		report(1, 1)
		return nil
	})

	tk := waitForState(t, m, id, StateSucceeded, time.Second)
	if tk.Progress.BytesDone != 1 {
		t.Errorf("got BytesDone=%d, want 1", tk.Progress.BytesDone)
	}
}

func TestSubmitRunFailurePropagates(t *testing.T) {
	m := NewManager()
	defer m.Close()

	id := m.Submit(context.Background(), Spec{Kind: KindCopy}, func(ctx context.Context, ctrl *Control, report func(done, total uint64)) error {
		return context.DeadlineExceeded
	})

	tk := waitForState(t, m, id, StateFailed, time.Second)
	if tk.LastError == "" {
		t.Errorf("expected LastError to be set on a failed task")
	}
}

func TestCancelStopsARunningTask(t *testing.T) {
	m := NewManager()
	defer m.Close()

	started := make(chan struct{})
	id := m.Submit(context.Background(), Spec{Kind: KindCopy, Cancelable: true}, func(ctx context.Context, ctrl *Control, report func(done, total uint64)) error {
		close(started)
		<-ctrl.Context().Done()
		return ctrl.Context().Err()
	})

	<-started
	if !m.Cancel(id) {
		t.Fatalf("Cancel returned false")
	}
	waitForState(t, m, id, StateCancelled, time.Second)
}

func TestCancelCleanupFailureProducesFailedNotCancelled(t *testing.T) {
	m := NewManager()
	defer m.Close()

	started := make(chan struct{})
	id := m.Submit(context.Background(), Spec{Kind: KindUpload, Cancelable: true}, func(ctx context.Context, ctrl *Control, report func(done, total uint64)) error {
		close(started)
		<-ctrl.Context().Done()
		return &CancelCleanupError{Err: context.DeadlineExceeded}
	})

	<-started
	if !m.Cancel(id) {
		t.Fatalf("Cancel returned false")
	}
	tk := waitForState(t, m, id, StateFailed, time.Second)
	if tk.LastError == "" {
		t.Errorf("expected LastError to describe the cleanup failure")
	}
}

func TestPauseResumeGatesARunningTask(t *testing.T) {
	m := NewManager()
	defer m.Close()

	started := make(chan struct{})
	gate := make(chan struct{})
	resumed := make(chan struct{})
	id := m.Submit(context.Background(), Spec{Kind: KindCopy, Pausable: true}, func(ctx context.Context, ctrl *Control, report func(done, total uint64)) error {
		close(started)
		<-gate
		if err := ctrl.WaitIfPaused(ctx); err != nil {
			return err
		}
		close(resumed)
		return nil
	})

	// Hold the runner before WaitIfPaused until the pause has landed, so
	// it cannot finish before Pause is called.
	<-started
	if !m.Pause(id) {
		t.Fatalf("Pause returned false")
	}
	waitForState(t, m, id, StatePaused, time.Second)
	close(gate)

	select {
	case <-resumed:
		t.Fatalf("runner proceeded past WaitIfPaused while paused")
	case <-time.After(20 * time.Millisecond):
	}

	if !m.Resume(id) {
		t.Fatalf("Resume returned false")
	}
	waitForState(t, m, id, StateSucceeded, time.Second)
}

func TestAddBytesMovedDuringRunningTaskLetsItSucceed(t *testing.T) {
	m := NewManager()
	defer m.Close()

	proceed := make(chan struct{})
	id := m.Submit(context.Background(), Spec{Kind: KindCopy}, func(ctx context.Context, ctrl *Control, report func(done, total uint64)) error {
		<-proceed
		return nil
	})

	m.AddBytesMoved(42)
	close(proceed)
	waitForState(t, m, id, StateSucceeded, time.Second)
}

func TestChildTaskIsLinkedToParent(t *testing.T) {
	m := NewManager()
	defer m.Close()

	parentID := m.Submit(context.Background(), Spec{Kind: KindMove}, func(ctx context.Context, ctrl *Control, report func(done, total uint64)) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	childID := m.Submit(context.Background(), Spec{Kind: KindCopy, ParentID: parentID}, func(ctx context.Context, ctrl *Control, report func(done, total uint64)) error {
		return nil
	})
	waitForState(t, m, childID, StateSucceeded, time.Second)

	parent, ok := m.Get(parentID)
	if !ok {
		t.Fatalf("parent task vanished")
	}
	found := false
	for _, c := range parent.ChildIDs {
		if c == childID {
			found = true
		}
	}
	if !found {
		t.Errorf("parent.ChildIDs = %v, want it to include %s", parent.ChildIDs, childID)
	}
}

func TestPerDriverConcurrencyLimitSerializesTasks(t *testing.T) {
	m := NewManagerWithLimits(4, 1)
	defer m.Close()

	var active int32
	maxActive := make(chan int32, 2)
	run := func(ctx context.Context, ctrl *Control, report func(done, total uint64)) error {
		active++
		maxActive <- active
		time.Sleep(15 * time.Millisecond)
		active--
		return nil
	}

	id1 := m.Submit(context.Background(), Spec{Kind: KindCopy, DriverName: "d"}, run)
	id2 := m.Submit(context.Background(), Spec{Kind: KindCopy, DriverName: "d"}, run)

	waitForState(t, m, id1, StateSucceeded, time.Second)
	waitForState(t, m, id2, StateSucceeded, time.Second)

	close(maxActive)
	var sawTwo bool
	for v := range maxActive {
		if v > 1 {
			sawTwo = true
		}
	}
	if sawTwo {
		t.Errorf("two tasks against the same driver ran concurrently under a per-driver cap of 1")
	}
}
