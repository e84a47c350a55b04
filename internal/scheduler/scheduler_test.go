package scheduler_test

import (
	"sync"
	"testing"
	"time"

	"github.com/snehjoshi/notifyq/internal/scheduler"
	"github.com/snehjoshi/notifyq/internal/types"
)

// recordingDeliverer captures every BeginExecute call made through it,
// standing in for internal/delivery.WebhookTransport in these tests.
type recordingDeliverer struct {
	mu    sync.Mutex
	calls []call
}

type call struct {
	ntype           types.NotificationType
	cr              types.CheckResult
	forced, reminder bool
	author, text    string
}

func (d *recordingDeliverer) deliver(_ *types.Notification, ntype types.NotificationType, cr types.CheckResult, forced, reminder bool, author, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call{ntype, cr, forced, reminder, author, text})
}

func (d *recordingDeliverer) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *recordingDeliverer) last() call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[len(d.calls)-1]
}

func newSchedulerForTest() *scheduler.Scheduler {
	s := scheduler.New("test", nil, scheduler.WithWorkerCount(4))
	s.Start()
	return s
}

// eligibleHardProblem builds a Checkable whose current state satisfies
// EligibilityPolicy for a fresh Soft→Hard problem transition.
func eligibleHardProblem(name string) *types.Checkable {
	c := types.NewCheckable(name)
	c.Transition(types.StateSoft, 2, types.CheckResult{State: 2, Output: "retrying"})
	c.Transition(types.StateHard, 2, types.CheckResult{State: 2, Output: "problem"})
	return c
}

func TestOnStateChange_S1_ProblemScheduling(t *testing.T) {
	s := newSchedulerForTest()
	defer s.Stop()

	d := &recordingDeliverer{}
	c := eligibleHardProblem("host1!disk")
	n := types.NewNotification("host1!disk-notify", c, 300, d.deliver)
	n.SetNextNotificationTime(9999999999) // far future: stays in idle for the test

	s.OnStateChange(c, c.LastCheckResult(), types.StateHard)

	if d.len() != 1 {
		t.Fatalf("expected exactly one BeginExecute call, got %d", d.len())
	}
	if d.last().ntype != types.NotificationProblem {
		t.Fatalf("expected Problem notification, got %v", d.last().ntype)
	}

	st := s.Snapshot()
	if st.Idle != 1 {
		t.Fatalf("expected idle=1 after problem state change, got %d", st.Idle)
	}
}

func TestOnStateChange_S2_RecoveryEviction(t *testing.T) {
	s := newSchedulerForTest()
	defer s.Stop()

	d := &recordingDeliverer{}
	c := eligibleHardProblem("host1!disk")
	n := types.NewNotification("host1!disk-notify", c, 300, d.deliver)
	n.SetNextNotificationTime(9999999999)

	s.OnStateChange(c, c.LastCheckResult(), types.StateHard)
	if s.Snapshot().Idle != 1 {
		t.Fatalf("setup: expected idle=1 before recovery")
	}

	c.Transition(types.StateHard, 0, types.CheckResult{State: 0, Output: "recovered"})
	s.OnStateChange(c, c.LastCheckResult(), types.StateHard)

	if d.len() != 2 {
		t.Fatalf("expected 2 BeginExecute calls total, got %d", d.len())
	}
	if d.last().ntype != types.NotificationRecovery {
		t.Fatalf("expected Recovery notification, got %v", d.last().ntype)
	}
	if st := s.Snapshot(); st.Idle != 0 {
		t.Fatalf("expected idle=0 after recovery, got %d", st.Idle)
	}
}

func TestOnAcknowledgementSet_S4_PassThrough(t *testing.T) {
	s := newSchedulerForTest()
	defer s.Stop()

	d := &recordingDeliverer{}
	c := types.NewCheckable("host1!disk")
	_ = types.NewNotification("host1!disk-notify", c, 300, d.deliver)

	before := s.Snapshot()
	s.OnAcknowledgementSet(c, "alice", "working on it")

	if d.len() != 1 {
		t.Fatalf("expected one BeginExecute call, got %d", d.len())
	}
	got := d.last()
	if got.ntype != types.NotificationAcknowledgement || got.author != "alice" || got.text != "working on it" {
		t.Fatalf("unexpected ack call: %+v", got)
	}
	after := s.Snapshot()
	if before != after {
		t.Fatalf("expected no set mutation from ack, before=%+v after=%+v", before, after)
	}
}

func TestOnStateChange_S5_DowntimeSuppression(t *testing.T) {
	s := newSchedulerForTest()
	defer s.Stop()

	d := &recordingDeliverer{}
	c := eligibleHardProblem("host1!disk")
	c.SetInDowntime(true)
	_ = types.NewNotification("host1!disk-notify", c, 300, d.deliver)

	s.OnStateChange(c, c.LastCheckResult(), types.StateHard)

	if d.len() != 0 {
		t.Fatalf("expected no BeginExecute call during downtime, got %d", d.len())
	}
	if st := s.Snapshot(); st.Idle != 0 {
		t.Fatalf("expected idle=0 during downtime suppression, got %d", st.Idle)
	}
}

func TestSchedulerLoop_S3_TimerFire(t *testing.T) {
	s := newSchedulerForTest()
	defer s.Stop()

	var fired sync.WaitGroup
	fired.Add(1)
	var once sync.Once

	deliver := func(n *types.Notification, ntype types.NotificationType, cr types.CheckResult, forced, reminder bool, author, text string) {
		once.Do(fired.Done)
	}

	c := eligibleHardProblem("host1!disk")
	n := types.NewNotification("host1!disk-notify", c, 300, deliver)
	n.SetNextNotificationTime(nowSecondsForTest() - 1) // already due

	s.OnNextNotificationChanged(n)

	waitOrTimeout(t, &fired, 200*time.Millisecond, "dispatch did not fire within 200ms")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if st := s.Snapshot(); st.Idle == 1 && st.Pending == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected notification back in idle after dispatch, got %+v", s.Snapshot())
}

func TestStop_S6_DrainsPendingBeforeReturning(t *testing.T) {
	s := newSchedulerForTest()

	started := make(chan struct{})
	release := make(chan struct{})
	deliver := func(n *types.Notification, ntype types.NotificationType, cr types.CheckResult, forced, reminder bool, author, text string) {
		close(started)
		<-release
	}

	c := eligibleHardProblem("host1!disk")
	n := types.NewNotification("host1!disk-notify", c, 300, deliver)
	n.SetNextNotificationTime(nowSecondsForTest() - 1)

	s.OnNextNotificationChanged(n)
	waitOrTimeoutChan(t, started, 200*time.Millisecond, "dispatch never started")

	stopDone := make(chan error, 1)
	go func() { stopDone <- s.Stop() }()

	select {
	case <-stopDone:
		t.Fatal("Stop returned before the in-flight dispatch released")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	select {
	case err := <-stopDone:
		if err != nil {
			t.Fatalf("Stop returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after dispatch released")
	}
}

func TestOnConfigObjectChange_RestoresIdleWhenEligible(t *testing.T) {
	s := newSchedulerForTest()
	defer s.Stop()

	d := &recordingDeliverer{}
	c := eligibleHardProblem("host1!disk")
	n := types.NewNotification("host1!disk-notify", c, 300, d.deliver)
	n.SetNextNotificationTime(9999999999)

	n.SetActive(false)
	s.OnConfigObjectChange(n)
	if st := s.Snapshot(); st.Idle != 0 {
		t.Fatalf("expected idle=0 while inactive, got %d", st.Idle)
	}

	n.SetActive(true)
	s.OnConfigObjectChange(n)
	if st := s.Snapshot(); st.Idle != 1 {
		t.Fatalf("expected idle=1 after reactivation, got %d", st.Idle)
	}
}

func nowSecondsForTest() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration, msg string) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal(msg)
	}
}

func waitOrTimeoutChan(t *testing.T, ch chan struct{}, d time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal(msg)
	}
}
