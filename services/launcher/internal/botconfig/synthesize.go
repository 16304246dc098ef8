package botconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/gofbot/gofbot-launcher/pkg/shared/defs"
)

// ControlServerURL is where the worker's embedded websocket server listens.
const ControlServerURL = "0.0.0.0:7894"

var embeddedServer = map[string]any{
	"start_embedded_server": true,
	"server_url":            ControlServerURL,
	"remote_control":        true,
}

// defaultLiveStats is prepended when the config has no UpdateLiveStats task.
const defaultLiveStats = `{
    "type": "UpdateLiveStats",
    "config": {
        "min_interval": 1,
        "enabled": true,
        "stats": ["login", "uptime", "km_walked", "level_stats", "xp_earned", "xp_per_hour"],
        "terminal_log": true,
        "terminal_title": false
    }
}`

var prettyOptions = &pretty.Options{Width: 80, Prefix: "", Indent: "    ", SortKeys: true}

// Synthesizer merges launch options into the worker's persisted config.
type Synthesizer struct {
	logger      *slog.Logger
	lockTimeout time.Duration
}

type Option func(*Synthesizer)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Synthesizer) {
		s.logger = logger
	}
}

// WithLockTimeout bounds how long Synthesize waits for another launcher
// process holding the config lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		s.lockTimeout = d
	}
}

func NewSynthesizer(opts ...Option) *Synthesizer {
	s := &Synthesizer{
		logger:      slog.Default(),
		lockTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize rewrites <botPath>/configs/config.json with opts folded in and
// regenerates userdata.js. The returned config is what was written.
func (s *Synthesizer) Synthesize(ctx context.Context, botPath string, opts defs.LaunchOptions) (*WorkerConfig, error) {
	path := ConfigPath(botPath)

	if err := EnsurePresent(path); err != nil {
		return nil, err
	}

	lock, err := s.lock(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("Failed to release config lock", "path", lock.Path(), "error", err)
		}
	}()

	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	merged, err := Merge(doc, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if err := writeAtomic(path, merged); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	cfg := NewWorkerConfig(merged)

	if err := WriteUserdata(botPath, cfg); err != nil {
		return nil, err
	}

	s.logger.Info("Synthesized worker config",
		"path", path,
		"auth_service", cfg.AuthService(),
		"username", cfg.Username(),
		"live_stats_tasks", len(cfg.LiveStatsTasks()),
	)
	return cfg, nil
}

func (s *Synthesizer) lock(ctx context.Context, path string) (*flock.Flock, error) {
	lock := flock.New(path + ".lock")

	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquiring config lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("timeout waiting for config lock %s", lock.Path())
	}
	return lock, nil
}

// Merge applies opts to a config document and returns the pretty-printed
// result. It is pure; Synthesize handles the files around it.
func Merge(doc []byte, opts defs.LaunchOptions) ([]byte, error) {
	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrConfigParse)
	}
	if !gjson.ParseBytes(doc).IsObject() {
		return nil, fmt.Errorf("%w: top level is not an object", ErrConfigParse)
	}
	if err := validate(doc); err != nil {
		return nil, err
	}

	var err error
	set := func(path string, value any) {
		if err == nil {
			doc, err = sjson.SetBytes(doc, path, value)
		}
	}
	setRaw := func(path string, raw []byte) {
		if err == nil {
			doc, err = sjson.SetRawBytes(doc, path, raw)
		}
	}

	set("websocket_server", true)
	set("websocket", embeddedServer)

	username, password := opts.Options.PTCUsername, opts.Options.PTCPassword
	if opts.Auth == defs.AuthGoogle {
		username, password = opts.Options.GoogleUsername, opts.Options.GooglePassword
	}
	set("auth_service", opts.Auth)
	set("username", username)
	set("password", password)
	set("gmapkey", opts.Options.GoogleMapsAPI)

	// walk is left alone unless a usable speed was supplied
	if opts.Options.WalkSpeed.Usable() {
		set("walk", opts.Options.WalkSpeed.Value)
	}

	location := bytes.TrimSpace(opts.Location)
	switch {
	case len(location) == 0:
		if err == nil {
			doc, err = sjson.DeleteBytes(doc, "location")
		}
	case !json.Valid(location):
		return nil, fmt.Errorf("%w: location is not valid JSON", ErrInvalidOptions)
	default:
		setRaw("location", location)
	}

	if err == nil {
		var tasks []byte
		tasks, err = normalizeTasks(gjson.GetBytes(doc, "tasks"))
		setRaw("tasks", tasks)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	return pretty.PrettyOptions(doc, prettyOptions), nil
}

// normalizeTasks keeps the first UpdateLiveStats task (prepending the default
// one if there is none), drops any later duplicates, and forces it enabled
// with terminal_title off.
func normalizeTasks(tasks gjson.Result) ([]byte, error) {
	if tasks.Exists() && !tasks.IsArray() {
		return nil, fmt.Errorf("tasks is not an array")
	}

	entries := make([][]byte, 0, len(tasks.Array())+1)
	found := false
	for _, task := range tasks.Array() {
		if task.Get("type").String() != liveStatsTask {
			entries = append(entries, []byte(task.Raw))
			continue
		}
		if found {
			continue
		}
		found = true
		fixed, err := forceLiveStats([]byte(task.Raw))
		if err != nil {
			return nil, err
		}
		entries = append(entries, fixed)
	}
	if !found {
		fixed, err := forceLiveStats([]byte(defaultLiveStats))
		if err != nil {
			return nil, err
		}
		entries = append([][]byte{fixed}, entries...)
	}

	out := []byte{'['}
	out = append(out, bytes.Join(entries, []byte{','})...)
	return append(out, ']'), nil
}

func forceLiveStats(task []byte) ([]byte, error) {
	task, err := sjson.SetBytes(task, "config.enabled", true)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(task, "config.terminal_title", false)
}
