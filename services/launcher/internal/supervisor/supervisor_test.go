//go:build unix

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gofbot/gofbot-launcher/pkg/shared/defs"
	"github.com/gofbot/gofbot-launcher/services/launcher/internal/botconfig"
	"github.com/gofbot/gofbot-launcher/services/launcher/internal/monitor"
	"github.com/gofbot/gofbot-launcher/services/launcher/internal/processHelpers"
)

type recordingNotifier struct {
	events     chan string
	err        error
	panics     bool
	startDelay time.Duration
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(chan string, 32)}
}

func (n *recordingNotifier) record(event string) error {
	n.events <- event
	if n.panics {
		panic("notifier down")
	}
	return n.err
}

func (n *recordingNotifier) BotStarted(info defs.DisplayInfo) error {
	time.Sleep(n.startDelay)
	return n.record(defs.EventBotStarted + ":" + strings.Join(info.Users, ","))
}

func (n *recordingNotifier) BotKilled() error {
	return n.record(defs.EventBotKilled)
}

func (n *recordingNotifier) FatalError(detail string) error {
	return n.record(defs.EventFatalError + ":" + detail)
}

// next waits for the next event.
func (n *recordingNotifier) next(t *testing.T) string {
	t.Helper()
	select {
	case e := <-n.events:
		return e
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for notification")
		return ""
	}
}

// quiet asserts no further event arrives for a short while.
func (n *recordingNotifier) quiet(t *testing.T) {
	t.Helper()
	select {
	case e := <-n.events:
		t.Fatalf("unexpected notification %q", e)
	case <-time.After(300 * time.Millisecond):
	}
}

type fakeSynthesizer struct {
	err   error
	calls atomic.Int32
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, botPath string, opts defs.LaunchOptions) (*botconfig.WorkerConfig, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return botconfig.NewWorkerConfig([]byte(fmt.Sprintf(`{"username": %q}`, opts.Options.PTCUsername))), nil
}

type countingLauncher struct {
	inner Launcher
	calls atomic.Int32
}

func (c *countingLauncher) Launch(ctx context.Context, botPath string, cfg *botconfig.WorkerConfig) (*processHelpers.Worker, defs.DisplayInfo, error) {
	c.calls.Add(1)
	return c.inner.Launch(ctx, botPath, cfg)
}

type countingTerminator struct {
	mu   sync.Mutex
	pids []int
}

func (c *countingTerminator) terminate(pid int) processHelpers.TerminationResult {
	c.mu.Lock()
	c.pids = append(c.pids, pid)
	c.mu.Unlock()
	return processHelpers.TerminateGroup(pid)
}

func (c *countingTerminator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pids)
}

type fixture struct {
	sup        *Supervisor
	notifier   *recordingNotifier
	synth      *fakeSynthesizer
	launcher   *countingLauncher
	terminator *countingTerminator
}

func newFixture(t *testing.T, script string, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pokecli.sh"), []byte(script), 0o755))

	f := &fixture{
		notifier:   newRecordingNotifier(),
		synth:      &fakeSynthesizer{},
		terminator: &countingTerminator{},
		launcher: &countingLauncher{
			inner: processHelpers.NewLauncher(processHelpers.WithInterpreter("sh"), processHelpers.WithEntryPoint("./pokecli.sh")),
		},
	}
	opts = append([]Option{WithTerminator(f.terminator.terminate)}, opts...)
	f.sup = New(dir, f.synth, f.launcher, f.notifier, opts...)
	t.Cleanup(f.sup.Stop)
	return f
}

func ptcOptions(user string) defs.LaunchOptions {
	return defs.LaunchOptions{Auth: defs.AuthPTC, Options: defs.LoginOptions{PTCUsername: user, PTCPassword: "pikachu"}}
}

func waitForExit(t *testing.T, sup *Supervisor) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sup.Status().LastExitCode != nil
	}, 10*time.Second, 20*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, "exec sleep 30\n")
	assert.Equal(t, StateIdle, f.sup.State())

	info, err := f.sup.Start(context.Background(), ptcOptions("ash"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ash"}, info.Users)
	assert.Equal(t, StateRunning, f.sup.State())
	assert.Equal(t, defs.EventBotStarted+":ash", f.notifier.next(t))

	status := f.sup.Status()
	assert.Equal(t, "running", status.State)
	assert.NotEmpty(t, status.WorkerId)
	assert.Greater(t, status.ProcessId, 0)
	assert.NotNil(t, status.StartedAt)

	f.sup.Stop()
	assert.Equal(t, StateIdle, f.sup.State())
	assert.Equal(t, defs.EventBotKilled, f.notifier.next(t))
	assert.Equal(t, 1, f.terminator.count())

	// the exit that follows the stop is not reported again
	waitForExit(t, f.sup)
	f.notifier.quiet(t)
	assert.Empty(t, f.sup.Status().WorkerId)
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	f := newFixture(t, "exec sleep 30\n")

	_, err := f.sup.Start(context.Background(), ptcOptions("ash"))
	require.NoError(t, err)
	f.notifier.next(t)

	_, err = f.sup.Start(context.Background(), ptcOptions("misty"))
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, KindAlreadyRunning, ErrorKind(err))
	assert.Equal(t, int32(1), f.launcher.calls.Load())
	assert.Equal(t, int32(1), f.synth.calls.Load())
	assert.Equal(t, StateRunning, f.sup.State())
	f.notifier.quiet(t)
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	f := newFixture(t, "exit 0\n")

	f.sup.Stop()
	f.sup.Stop()

	assert.Equal(t, 0, f.terminator.count())
	assert.Equal(t, StateIdle, f.sup.State())
	f.notifier.quiet(t)
}

func TestSynthesisFailureSpawnsNothing(t *testing.T) {
	tests := []struct {
		err  error
		kind string
	}{
		{fmt.Errorf("wrap: %w", botconfig.ErrConfigMissing), KindConfigMissing},
		{fmt.Errorf("wrap: %w", botconfig.ErrConfigParse), KindConfigParse},
		{fmt.Errorf("wrap: %w", botconfig.ErrInvalidOptions), KindBadRequest},
		{errors.New("disk on fire"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			f := newFixture(t, "exec sleep 30\n")
			f.synth.err = tt.err

			_, err := f.sup.Start(context.Background(), ptcOptions("ash"))
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.kind, ErrorKind(err))
			assert.Equal(t, int32(0), f.launcher.calls.Load())
			assert.Equal(t, StateIdle, f.sup.State())
			f.notifier.quiet(t)
		})
	}
}

func TestMissingConfigWithRealSynthesizer(t *testing.T) {
	dir := t.TempDir()
	launcher := &countingLauncher{inner: processHelpers.NewLauncher(processHelpers.WithInterpreter("sh"))}
	notifier := newRecordingNotifier()
	sup := New(dir, botconfig.NewSynthesizer(), launcher, notifier)

	_, err := sup.Start(context.Background(), ptcOptions("ash"))
	require.ErrorIs(t, err, botconfig.ErrConfigMissing)
	assert.Equal(t, int32(0), launcher.calls.Load())
	assert.Equal(t, StateIdle, sup.State())
}

func TestLaunchFailureReturnsToIdle(t *testing.T) {
	f := newFixture(t, "exit 0\n")
	f.launcher.inner = processHelpers.NewLauncher(processHelpers.WithInterpreter(filepath.Join(t.TempDir(), "missing")))

	_, err := f.sup.Start(context.Background(), ptcOptions("ash"))
	require.ErrorIs(t, err, processHelpers.ErrLaunch)
	assert.Equal(t, KindLaunch, ErrorKind(err))
	assert.Equal(t, StateIdle, f.sup.State())

	// the slot is free again
	f.launcher.inner = processHelpers.NewLauncher(processHelpers.WithInterpreter("sh"), processHelpers.WithEntryPoint("./pokecli.sh"))
	_, err = f.sup.Start(context.Background(), ptcOptions("ash"))
	require.NoError(t, err)
}

func TestUnsolicitedExitAfterFatalError(t *testing.T) {
	f := newFixture(t, "echo 'ERROR: invalid credentials' 1>&2\nexit 1\n")

	_, err := f.sup.Start(context.Background(), ptcOptions("ash"))
	require.NoError(t, err)

	var events []string
	for len(events) == 0 || events[len(events)-1] != defs.EventBotKilled {
		events = append(events, f.notifier.next(t))
	}
	f.notifier.quiet(t)

	assert.Equal(t, []string{
		defs.EventBotStarted + ":ash",
		defs.EventFatalError + ":ERROR: invalid credentials",
		defs.EventBotKilled,
	}, events)

	assert.Equal(t, StateIdle, f.sup.State())
	assert.Equal(t, 0, f.terminator.count())
	status := f.sup.Status()
	require.NotNil(t, status.LastExitCode)
	assert.Equal(t, 1, *status.LastExitCode)

	// a stop after the worker is gone has nothing to do
	f.sup.Stop()
	assert.Equal(t, 0, f.terminator.count())
	f.notifier.quiet(t)
}

func TestFatalErrorWaitsForStartAnnouncement(t *testing.T) {
	f := newFixture(t, "echo 'ERROR: login failed' 1>&2\nexec sleep 30\n")
	f.notifier.startDelay = 300 * time.Millisecond

	_, err := f.sup.Start(context.Background(), ptcOptions("ash"))
	require.NoError(t, err)

	assert.Equal(t, defs.EventBotStarted+":ash", f.notifier.next(t))
	assert.Equal(t, defs.EventFatalError+":ERROR: login failed", f.notifier.next(t))
}

func TestExitWithLiveHelperFreesSlot(t *testing.T) {
	// the helper keeps the output pipes open after the worker is gone
	f := newFixture(t, "sleep 5 &\nexit 3\n", WithMonitor(monitor.New(monitor.WithDrainGrace(100*time.Millisecond))))

	_, err := f.sup.Start(context.Background(), ptcOptions("ash"))
	require.NoError(t, err)
	assert.Equal(t, defs.EventBotStarted+":ash", f.notifier.next(t))
	assert.Equal(t, defs.EventBotKilled, f.notifier.next(t))

	assert.Equal(t, StateIdle, f.sup.State())
	status := f.sup.Status()
	require.NotNil(t, status.LastExitCode)
	assert.Equal(t, 3, *status.LastExitCode)

	_, err = f.sup.Start(context.Background(), ptcOptions("misty"))
	require.NoError(t, err)
	assert.Equal(t, defs.EventBotStarted+":misty", f.notifier.next(t))
}

func TestNotifierFailuresAreAbsorbed(t *testing.T) {
	f := newFixture(t, "exec sleep 30\n")
	f.notifier.err = errors.New("bridge closed")

	_, err := f.sup.Start(context.Background(), ptcOptions("ash"))
	require.NoError(t, err)
	f.notifier.next(t)

	f.notifier.panics = true
	assert.NotPanics(t, f.sup.Stop)
	assert.Equal(t, defs.EventBotKilled, f.notifier.next(t))
	assert.Equal(t, StateIdle, f.sup.State())
}

func TestNilNotifier(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pokecli.sh"), []byte("exec sleep 30\n"), 0o755))
	sup := New(dir, &fakeSynthesizer{}, processHelpers.NewLauncher(processHelpers.WithInterpreter("sh"), processHelpers.WithEntryPoint("./pokecli.sh")), nil)

	_, err := sup.Start(context.Background(), ptcOptions("ash"))
	require.NoError(t, err)
	assert.NotPanics(t, sup.Stop)
}

func TestShutdownIsIdempotent(t *testing.T) {
	f := newFixture(t, "exec sleep 30\n")

	_, err := f.sup.Start(context.Background(), ptcOptions("ash"))
	require.NoError(t, err)
	f.notifier.next(t)

	f.sup.Shutdown("window-all-closed")
	f.sup.Shutdown("will-quit")

	assert.Equal(t, defs.EventBotKilled, f.notifier.next(t))
	assert.Equal(t, 1, f.terminator.count())
	f.notifier.quiet(t)
}

func TestConcurrentStartsLaunchOnce(t *testing.T) {
	f := newFixture(t, "exec sleep 30\n")

	var wg sync.WaitGroup
	var ok, rejected atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.sup.Start(context.Background(), ptcOptions("ash"))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyRunning):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(7), rejected.Load())
	assert.Equal(t, int32(1), f.launcher.calls.Load())
}

func TestPrometheusMetrics(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")
	f := newFixture(t, "exec sleep 30\n", WithMetrics(pmc))

	_, err := f.sup.Start(context.Background(), ptcOptions("ash"))
	require.NoError(t, err)
	_, err = f.sup.Start(context.Background(), ptcOptions("ash"))
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.running))

	f.sup.Stop()

	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.starts))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.startFailures.WithLabelValues(KindAlreadyRunning)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.stops.WithLabelValues("group")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pmc.running))

	count, err := testutil.GatherAndCount(pmc.Registry(), "test_worker_starts_total", "test_worker_stops_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
