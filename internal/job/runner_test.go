package job

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sedlock/sedlock/internal/device"
	"github.com/sedlock/sedlock/internal/lifecycle"
	"github.com/sedlock/sedlock/internal/sedutil"
)

func init() {
	logrus.SetOutput(ioutil.Discard)
}

// recordingNotifier records notifications in order.
type recordingNotifier struct {
	mu      sync.Mutex
	events  []string
	updated [][]int
	fields  device.Field
}

func (n *recordingNotifier) record(e string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) OnOperationStart(op lifecycle.Operation, drives int) {
	n.record(fmt.Sprintf("start %s %d", op, drives))
}

func (n *recordingNotifier) OnOperationSuccess(message string) {
	n.record("success: " + message)
}

func (n *recordingNotifier) OnOperationFailure(message string) {
	n.record("failure: " + message)
}

func (n *recordingNotifier) OnOperationTimeout() {
	n.record("timeout")
}

func (n *recordingNotifier) OnRegistryUpdated(indices []int, fields device.Field) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, indices)
	n.fields |= fields
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

// manualTimer hands the watchdog a channel the test fires.
type manualTimer struct {
	requested chan time.Duration
	fire      chan time.Time
}

func newManualTimer() *manualTimer {
	return &manualTimer{requested: make(chan time.Duration, 1), fire: make(chan time.Time, 1)}
}

func (m *manualTimer) start(d time.Duration) (<-chan time.Time, func() bool) {
	m.requested <- d
	return m.fire, func() bool { return true }
}

func lockedDevices(n int) []device.Device {
	devices := make([]device.Device, n)
	for i := range devices {
		devices[i] = device.Device{
			Handle:         fmt.Sprintf("/dev/sd%c", 'b'+i),
			Vendor:         "Samsung SSD 860",
			Serial:         fmt.Sprintf("S3Z9NB0K%06d", i),
			Salt:           fmt.Sprintf("S3Z9NB0K%06d", i),
			MSID:           "MSID",
			TCG:            true,
			LockingEnabled: true,
			Setup:          true,
			Locked:         true,
			PBAVersion:     device.NotAvailable,
		}
	}
	return devices
}

func unlockTask(ctx context.Context, t lifecycle.Target) (lifecycle.Result, error) {
	u := device.NewUpdate(t.Index, t.Device).SetLocked(false)
	return lifecycle.Result{Update: u, Message: "unlocked " + t.Device.Handle}, nil
}

type fixture struct {
	runner   *Runner
	notifier *recordingNotifier
	timer    *manualTimer
	metrics  *Metrics
}

func newFixture(t *testing.T, devices []device.Device) fixture {
	t.Helper()
	n := &recordingNotifier{}
	m := NewMetrics(prometheus.NewRegistry())
	r := NewRunner(device.NewRegistryState(devices), NewDispatcher(4), n, m)
	tm := newManualTimer()
	r.timer = tm.start
	return fixture{runner: r, notifier: n, timer: tm, metrics: m}
}

func (f fixture) targets(t *testing.T, set device.Set, n int) []lifecycle.Target {
	t.Helper()
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	targets, err := f.runner.Targets(set, indices)
	require.NoError(t, err)
	return targets
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunner_Success(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t, lockedDevices(2))

	h := f.runner.Start(ctx, New(lifecycle.OpUnlock, f.targets(t, device.Locked, 2), unlockTask))
	require.NoError(t, f.runner.Dispatcher.RunUntil(ctx, h.Settled()))

	assert.Equal(t, 60*time.Second, <-f.timer.requested)
	assert.Equal(t, []string{
		"start unlock 2",
		"success: unlocked /dev/sdb\nunlocked /dev/sdc",
	}, f.notifier.Events())
	assert.Equal(t, [][]int{{0, 1}}, f.notifier.updated)
	assert.Equal(t, device.FieldLocked, f.notifier.fields)
	assert.Empty(t, f.runner.Registry.Indices(device.Locked))
	assert.False(t, h.TimedOut())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Jobs.WithLabelValues("unlock", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.DeviceOps.WithLabelValues("unlock", "success")))
}

func TestRunner_FailuresAreAggregated(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t, lockedDevices(3))

	var order []string
	task := func(ctx context.Context, t lifecycle.Target) (lifecycle.Result, error) {
		order = append(order, t.Device.Handle)
		if t.Device.Handle == "/dev/sdc" {
			return lifecycle.Result{}, &sedutil.AuthError{Reason: sedutil.ErrNotAuthorized}
		}
		return unlockTask(ctx, t)
	}

	h := f.runner.Start(ctx, New(lifecycle.OpUnlock, f.targets(t, device.Locked, 3), task))
	require.NoError(t, f.runner.Dispatcher.RunUntil(ctx, h.Settled()))

	assert.Equal(t, []string{"/dev/sdb", "/dev/sdc", "/dev/sdd"}, order, "one failure does not stop the batch")
	events := f.notifier.Events()
	require.Len(t, events, 2)
	assert.Contains(t, events[1], "failure: The operation failed for the following drives: /dev/sdc")
	assert.Contains(t, events[1], "unlocked /dev/sdd")

	locked := f.runner.Registry.Indices(device.Locked)
	require.Len(t, locked, 1)
	d, _ := f.runner.Registry.Device(locked[0])
	assert.Equal(t, "/dev/sdc", d.Handle)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Jobs.WithLabelValues("unlock", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DeviceOps.WithLabelValues("unlock", "failure")))
}

func TestRunner_Timeout(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t, lockedDevices(5))

	gate := make(chan struct{})
	task := func(ctx context.Context, t lifecycle.Target) (lifecycle.Result, error) {
		<-gate
		return unlockTask(ctx, t)
	}
	j := New(lifecycle.OpUnlock, f.targets(t, device.Locked, 5), task)
	j.Budget = 6 * time.Second

	h := f.runner.Start(ctx, j)
	assert.Equal(t, 30*time.Second, <-f.timer.requested)

	// the worker is still blocked when the budget runs out
	f.timer.fire <- time.Time{}
	require.NoError(t, f.runner.Dispatcher.RunOnce(ctx))

	assert.Equal(t, []string{"start unlock 5", "timeout"}, f.notifier.Events())
	assert.True(t, h.TimedOut())
	assert.Len(t, f.runner.Registry.Indices(device.Locked), 5, "registry untouched while the worker runs")
	select {
	case <-h.Settled():
	default:
		t.Fatal("timeout should settle the job")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Jobs.WithLabelValues("unlock", "timeout")))

	// the worker completes late
	close(gate)
	<-h.Done()
	require.NoError(t, f.runner.Dispatcher.RunOnce(ctx))

	assert.Equal(t, []string{"start unlock 5", "timeout"}, f.notifier.Events(), "late result is discarded")
	assert.Empty(t, f.runner.Registry.Indices(device.Locked), "late updates still reach the registry")
	assert.Len(t, h.Report().Outcomes, 5)
}

func TestRunner_FinishedBeforeTimerFires(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t, lockedDevices(1))

	h := f.runner.Start(ctx, New(lifecycle.OpUnlock, f.targets(t, device.Locked, 1), unlockTask))
	<-h.Done()
	f.timer.fire <- time.Time{}
	require.NoError(t, f.runner.Dispatcher.RunUntil(ctx, h.Settled()))

	assert.Equal(t, 0, f.runner.Dispatcher.Drain())
	assert.NotContains(t, f.notifier.Events(), "timeout")
}

func TestRunner_EscrowWriteFailureStillUpdates(t *testing.T) {
	ctx := testContext(t)
	f := newFixture(t, lockedDevices(1))

	task := func(ctx context.Context, t lifecycle.Target) (lifecycle.Result, error) {
		res, _ := unlockTask(ctx, t)
		return res, &lifecycle.EscrowWriteError{Handle: t.Device.Handle, Err: errors.New("no volume")}
	}

	h := f.runner.Start(ctx, New(lifecycle.OpUnlock, f.targets(t, device.Locked, 1), task))
	require.NoError(t, f.runner.Dispatcher.RunUntil(ctx, h.Settled()))

	assert.Empty(t, f.runner.Registry.Indices(device.Locked))
	assert.Contains(t, f.notifier.Events()[1], "failure:")
}

func TestJob_Timeout(t *testing.T) {
	targets := make([]lifecycle.Target, 3)
	assert.Equal(t, 90*time.Second, New(lifecycle.OpLock, targets, unlockTask).Timeout())
	assert.Equal(t, 1350*time.Second, New(lifecycle.OpPBAWrite, targets, unlockTask).Timeout())
}
