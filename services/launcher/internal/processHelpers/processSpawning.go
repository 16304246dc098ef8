package processHelpers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/gofbot/gofbot-launcher/pkg/shared/defs"
	"github.com/gofbot/gofbot-launcher/services/launcher/internal/botconfig"
)

const (
	DefaultInterpreter = "python"
	DefaultEntryPoint  = "./pokecli.py"
)

// ResolveInterpreter picks the python binary. Windows builds ship their own
// interpreter under <appRoot>/pywin; everywhere else the name is resolved
// through PATH.
func ResolveInterpreter(goos, appRoot, name string) string {
	if goos == "windows" {
		return filepath.Join(appRoot, "pywin", "python.exe")
	}
	if name == "" {
		return DefaultInterpreter
	}
	return name
}

// Launcher spawns the bot. It never waits for the bot to become ready.
type Launcher struct {
	interpreter string
	entryPoint  string
	appRoot     string
	goos        string
	env         []string
	logger      *slog.Logger
}

type LauncherOption func(*Launcher)

func WithInterpreter(name string) LauncherOption {
	return func(l *Launcher) {
		l.interpreter = name
	}
}

func WithEntryPoint(path string) LauncherOption {
	return func(l *Launcher) {
		l.entryPoint = path
	}
}

func WithAppRoot(dir string) LauncherOption {
	return func(l *Launcher) {
		l.appRoot = dir
	}
}

// WithGOOS overrides the platform used for interpreter resolution.
func WithGOOS(goos string) LauncherOption {
	return func(l *Launcher) {
		l.goos = goos
	}
}

// WithEnv appends KEY=value pairs to the inherited environment.
func WithEnv(env ...string) LauncherOption {
	return func(l *Launcher) {
		l.env = append(l.env, env...)
	}
}

func WithLogger(logger *slog.Logger) LauncherOption {
	return func(l *Launcher) {
		l.logger = logger
	}
}

func NewLauncher(opts ...LauncherOption) *Launcher {
	l := &Launcher{
		interpreter: DefaultInterpreter,
		entryPoint:  DefaultEntryPoint,
		goos:        runtime.GOOS,
		env:         []string{"PYTHONUNBUFFERED=1"},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Command builds the bot command without starting it.
func (l *Launcher) Command(botPath string) *exec.Cmd {
	cmd := exec.Command(ResolveInterpreter(l.goos, l.appRoot, l.interpreter), l.entryPoint)
	cmd.Dir = botPath
	cmd.Env = append(os.Environ(), l.env...)
	// own process group so helpers forked by the bot can be signalled together
	setSysProcAttr(cmd)
	return cmd
}

// Launch starts the bot in botPath and returns its handle together with the map
// settings derived from cfg. Both pipes must be drained or closed by the
// caller; they stay open for as long as any process in the group holds them.
func (l *Launcher) Launch(ctx context.Context, botPath string, cfg *botconfig.WorkerConfig) (*Worker, defs.DisplayInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, defs.DisplayInfo{}, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	cmd := l.Command(botPath)

	// The read ends belong to the worker handle rather than to cmd, so Wait
	// never closes them while a forked helper still holds the write ends.
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		return nil, defs.DisplayInfo{}, fmt.Errorf("%w: stdout pipe: %v", ErrLaunch, err)
	}
	stderrRead, stderrWrite, err := os.Pipe()
	if err != nil {
		closeAll(stdoutRead, stdoutWrite)
		return nil, defs.DisplayInfo{}, fmt.Errorf("%w: stderr pipe: %v", ErrLaunch, err)
	}
	cmd.Stdout = stdoutWrite
	cmd.Stderr = stderrWrite

	err = cmd.Start()
	closeAll(stdoutWrite, stderrWrite)
	if err != nil {
		closeAll(stdoutRead, stderrRead)
		return nil, defs.DisplayInfo{}, fmt.Errorf("%w: %s: %v", ErrLaunch, cmd.Path, err)
	}

	w := newWorker(uuid.New().String(), cmd)
	w.Stdout = stdoutRead
	w.Stderr = stderrRead
	w.Started = time.Now()

	l.logger.Info("Started worker",
		"workerId", w.ID,
		"pid", w.PID(),
		"interpreter", cmd.Path,
		"entryPoint", l.entryPoint,
		"dir", botPath,
	)

	return w, cfg.DisplayInfo(), nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
