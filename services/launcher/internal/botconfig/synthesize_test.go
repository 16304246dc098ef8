package botconfig

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/gofbot/gofbot-launcher/pkg/shared/defs"
)

func ptcOptions() defs.LaunchOptions {
	return defs.LaunchOptions{
		Auth: defs.AuthPTC,
		Options: defs.LoginOptions{
			PTCUsername:    "ash",
			PTCPassword:    "pikachu",
			GoogleUsername: "misty@gmail.com",
			GooglePassword: "starmie",
			GoogleMapsAPI:  "KEY",
		},
		Location: json.RawMessage(`{"lat":1,"lng":2}`),
	}
}

// newBotDir lays out a bot directory with the given config.json content and a
// userdata.js template.
func newBotDir(t *testing.T, config string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "web", "config"), 0o755))
	if config != "" {
		require.NoError(t, os.WriteFile(ConfigPath(dir), []byte(config), 0o644))
	}
	require.NoError(t, os.WriteFile(UserdataPath(dir)+".example", []byte("var userInfo = {};"), 0o644))
	return dir
}

func readConfig(t *testing.T, botPath string) gjson.Result {
	t.Helper()
	data, err := os.ReadFile(ConfigPath(botPath))
	require.NoError(t, err)
	require.True(t, gjson.ValidBytes(data))
	return gjson.ParseBytes(data)
}

func TestSynthesizePTCScenario(t *testing.T) {
	dir := newBotDir(t, `{"tasks": []}`)

	cfg, err := NewSynthesizer().Synthesize(context.Background(), dir, ptcOptions())
	require.NoError(t, err)

	doc := readConfig(t, dir)
	assert.Equal(t, "ptc", doc.Get("auth_service").String())
	assert.Equal(t, "ash", doc.Get("username").String())
	assert.Equal(t, "pikachu", doc.Get("password").String())
	assert.Equal(t, "KEY", doc.Get("gmapkey").String())
	assert.JSONEq(t, `{"lat":1,"lng":2}`, doc.Get("location").Raw)

	tasks := doc.Get("tasks").Array()
	require.Len(t, tasks, 1)
	assert.Equal(t, "UpdateLiveStats", tasks[0].Get("type").String())
	assert.True(t, tasks[0].Get("config.enabled").Bool())
	assert.False(t, tasks[0].Get("config.terminal_title").Bool())
	assert.True(t, tasks[0].Get("config.terminal_title").Exists())
	assert.Equal(t, int64(1), tasks[0].Get("config.min_interval").Int())

	assert.True(t, doc.Get("websocket_server").Bool())
	assert.Equal(t, "0.0.0.0:7894", doc.Get("websocket.server_url").String())
	assert.True(t, doc.Get("websocket.start_embedded_server").Bool())
	assert.True(t, doc.Get("websocket.remote_control").Bool())

	assert.Equal(t, "ash", cfg.Username())
	onDisk, err := os.ReadFile(ConfigPath(dir))
	require.NoError(t, err)
	assert.Equal(t, string(onDisk), string(cfg.Bytes()))
}

func TestSynthesizeGoogleCredentials(t *testing.T) {
	dir := newBotDir(t, `{"tasks": [], "username": "stale", "password": "stale"}`)
	opts := ptcOptions()
	opts.Auth = defs.AuthGoogle

	cfg, err := NewSynthesizer().Synthesize(context.Background(), dir, opts)
	require.NoError(t, err)

	assert.Equal(t, "google", cfg.AuthService())
	assert.Equal(t, "misty@gmail.com", cfg.Username())
	assert.Equal(t, "starmie", cfg.Password())
	assert.NotEqual(t, "ash", cfg.Username())
	assert.NotEqual(t, "pikachu", cfg.Password())
}

func TestSynthesizeOverwritesStaleCredentials(t *testing.T) {
	dir := newBotDir(t, `{"tasks": [], "username": "old", "password": "old"}`)
	opts := ptcOptions()
	opts.Options.PTCUsername = ""
	opts.Options.PTCPassword = ""

	cfg, err := NewSynthesizer().Synthesize(context.Background(), dir, opts)
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Username())
	assert.Equal(t, "", cfg.Password())
}

func TestSynthesizeLiveStatsExactlyOnce(t *testing.T) {
	tests := []struct {
		name  string
		tasks string
		order []string
	}{
		{
			name:  "none",
			tasks: `[{"type": "MoveToFort", "config": {"enabled": true}}]`,
			order: []string{"UpdateLiveStats", "MoveToFort"},
		},
		{
			name:  "one disabled with title",
			tasks: `[{"type": "HandleSoftBan"}, {"type": "UpdateLiveStats", "config": {"enabled": false, "terminal_title": true, "min_interval": 10}}]`,
			order: []string{"HandleSoftBan", "UpdateLiveStats"},
		},
		{
			name:  "duplicates",
			tasks: `[{"type": "UpdateLiveStats", "config": {"enabled": false}}, {"type": "CatchPokemon"}, {"type": "UpdateLiveStats", "config": {"terminal_title": true}}]`,
			order: []string{"UpdateLiveStats", "CatchPokemon"},
		},
		{
			name:  "missing config object",
			tasks: `[{"type": "UpdateLiveStats"}]`,
			order: []string{"UpdateLiveStats"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newBotDir(t, `{"tasks": `+tt.tasks+`}`)

			cfg, err := NewSynthesizer().Synthesize(context.Background(), dir, ptcOptions())
			require.NoError(t, err)

			live := cfg.LiveStatsTasks()
			require.Len(t, live, 1)
			assert.True(t, live[0].Get("config.enabled").Bool())
			assert.Equal(t, "false", live[0].Get("config.terminal_title").Raw)

			var order []string
			for _, task := range cfg.Get("tasks").Array() {
				order = append(order, task.Get("type").String())
			}
			assert.Equal(t, tt.order, order)
		})
	}
}

func TestSynthesizeKeepsExistingLiveStatsSettings(t *testing.T) {
	dir := newBotDir(t, `{"tasks": [{"type": "UpdateLiveStats", "config": {"enabled": false, "min_interval": 10, "stats": ["uptime"]}}]}`)

	cfg, err := NewSynthesizer().Synthesize(context.Background(), dir, ptcOptions())
	require.NoError(t, err)

	live := cfg.LiveStatsTasks()
	require.Len(t, live, 1)
	assert.Equal(t, int64(10), live[0].Get("config.min_interval").Int())
	assert.Equal(t, `["uptime"]`, strings.Join(strings.Fields(live[0].Get("config.stats").Raw), ""))
}

func TestSynthesizeIsIdempotent(t *testing.T) {
	dir := newBotDir(t, `{"tasks": [{"type": "MoveToFort"}], "extra": {"b": 2, "a": 1}}`)
	s := NewSynthesizer()

	first, err := s.Synthesize(context.Background(), dir, ptcOptions())
	require.NoError(t, err)
	second, err := s.Synthesize(context.Background(), dir, ptcOptions())
	require.NoError(t, err)

	assert.Equal(t, string(first.Bytes()), string(second.Bytes()))
	assert.Len(t, second.LiveStatsTasks(), 1)
	assert.Len(t, second.Get("tasks").Array(), 2)
}

func TestSynthesizePreservesUnknownKeysSorted(t *testing.T) {
	dir := newBotDir(t, `{"zeta": true, "tasks": [], "alpha": {"nested": [1, 2]}}`)

	cfg, err := NewSynthesizer().Synthesize(context.Background(), dir, ptcOptions())
	require.NoError(t, err)

	assert.True(t, cfg.Get("zeta").Bool())
	assert.Equal(t, int64(2), cfg.Get("alpha.nested.1").Int())

	text := string(cfg.Bytes())
	assert.Less(t, strings.Index(text, `"alpha"`), strings.Index(text, `"zeta"`))
	assert.Contains(t, text, "\n    \"alpha\"")
}

func TestSynthesizeWalkSpeed(t *testing.T) {
	tests := []struct {
		name  string
		speed string
		want  float64
	}{
		{name: "number", speed: `4.16`, want: 4.16},
		{name: "string", speed: `"7.5"`, want: 7.5},
		{name: "zero keeps previous", speed: `0`, want: 3},
		{name: "empty keeps previous", speed: `""`, want: 3},
		{name: "garbage keeps previous", speed: `"fast"`, want: 3},
		{name: "infinity keeps previous", speed: `"Infinity"`, want: 3},
		{name: "negative inf keeps previous", speed: `"-inf"`, want: 3},
		{name: "nan keeps previous", speed: `"NaN"`, want: 3},
		{name: "absent keeps previous", speed: ``, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newBotDir(t, `{"tasks": [], "walk": 3}`)

			raw := `{"auth": "ptc", "options": {"ptc_username": "ash"`
			if tt.speed != "" {
				raw += `, "walk_speed": ` + tt.speed
			}
			raw += `}}`
			var opts defs.LaunchOptions
			require.NoError(t, json.Unmarshal([]byte(raw), &opts))

			cfg, err := NewSynthesizer().Synthesize(context.Background(), dir, opts)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, cfg.Get("walk").Float(), 1e-9)
			assert.InDelta(t, tt.want, readConfig(t, dir).Get("walk").Float(), 1e-9)
		})
	}
}

func TestSynthesizeAbsentLocationRemovesKey(t *testing.T) {
	dir := newBotDir(t, `{"tasks": [], "location": "old place"}`)
	opts := ptcOptions()
	opts.Location = nil

	cfg, err := NewSynthesizer().Synthesize(context.Background(), dir, opts)
	require.NoError(t, err)
	assert.False(t, cfg.Get("location").Exists())
}

func TestSynthesizeInvalidLocation(t *testing.T) {
	content := `{"tasks": [], "location": "old place"}`
	dir := newBotDir(t, content)
	opts := ptcOptions()
	opts.Location = json.RawMessage(`{"lat": 1,`)

	_, err := NewSynthesizer().Synthesize(context.Background(), dir, opts)
	require.ErrorIs(t, err, ErrInvalidOptions)
	assert.NotErrorIs(t, err, ErrConfigParse)

	data, readErr := os.ReadFile(ConfigPath(dir))
	require.NoError(t, readErr)
	assert.Equal(t, content, string(data))
}

func TestSynthesizeInstallsExampleConfig(t *testing.T) {
	dir := newBotDir(t, "")
	example := `{"tasks": [{"type": "MoveToFort"}], "from_example": true}`
	require.NoError(t, os.WriteFile(ConfigPath(dir)+".example", []byte(example), 0o644))

	cfg, err := NewSynthesizer().Synthesize(context.Background(), dir, ptcOptions())
	require.NoError(t, err)

	assert.True(t, cfg.Get("from_example").Bool())
	assert.NoFileExists(t, ConfigPath(dir)+".example")
	assert.FileExists(t, ConfigPath(dir))
}

func TestSynthesizeMissingConfig(t *testing.T) {
	dir := newBotDir(t, "")

	_, err := NewSynthesizer().Synthesize(context.Background(), dir, ptcOptions())
	require.ErrorIs(t, err, ErrConfigMissing)
	assert.NoFileExists(t, ConfigPath(dir))
}

func TestSynthesizeMalformedConfig(t *testing.T) {
	tests := map[string]string{
		"not json":        `{"tasks": [`,
		"not an object":   `[1, 2, 3]`,
		"tasks an object": `{"tasks": {"type": "UpdateLiveStats"}}`,
		"task a string":   `{"tasks": ["UpdateLiveStats"]}`,
		"walk a string":   `{"tasks": [], "walk": "fast"}`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			dir := newBotDir(t, content)

			_, err := NewSynthesizer().Synthesize(context.Background(), dir, ptcOptions())
			require.ErrorIs(t, err, ErrConfigParse)

			data, readErr := os.ReadFile(ConfigPath(dir))
			require.NoError(t, readErr)
			assert.Equal(t, content, string(data), "malformed config must not be rewritten")
		})
	}
}

func TestSynthesizeCreatesMissingTasks(t *testing.T) {
	dir := newBotDir(t, `{}`)

	cfg, err := NewSynthesizer().Synthesize(context.Background(), dir, ptcOptions())
	require.NoError(t, err)
	assert.Len(t, cfg.Get("tasks").Array(), 1)
}

func TestSynthesizeWritesUserdata(t *testing.T) {
	dir := newBotDir(t, `{"tasks": []}`)

	_, err := NewSynthesizer().Synthesize(context.Background(), dir, ptcOptions())
	require.NoError(t, err)

	data, err := os.ReadFile(UserdataPath(dir))
	require.NoError(t, err)
	script := string(data)
	assert.Contains(t, script, `users: ["ash"],`)
	assert.Contains(t, script, `gMapsAPIKey: "KEY",`)
	assert.Contains(t, script, `zoom: 16,`)
	assert.Contains(t, script, `addInventory: 5000`)
	assert.NoFileExists(t, UserdataPath(dir)+".example")
}

func TestSynthesizeMissingUserdataTemplate(t *testing.T) {
	dir := newBotDir(t, `{"tasks": []}`)
	require.NoError(t, os.Remove(UserdataPath(dir)+".example"))

	_, err := NewSynthesizer().Synthesize(context.Background(), dir, ptcOptions())
	require.ErrorIs(t, err, ErrConfigMissing)
}

func TestRenderUserdataEscapes(t *testing.T) {
	script, err := RenderUserdata(defs.DisplayInfo{Users: []string{`a"b`}, Zoom: 16, GMapsAPIKey: "k</script>"})
	require.NoError(t, err)
	assert.NotContains(t, string(script), `a"b`)
	assert.NotContains(t, string(script), `</script>`)
}

func TestDisplayInfo(t *testing.T) {
	cfg := NewWorkerConfig([]byte(`{"username": "ash", "gmapkey": "KEY"}`))
	info := cfg.DisplayInfo()

	assert.Equal(t, []string{"ash"}, info.Users)
	assert.Equal(t, 16, info.Zoom)
	assert.Equal(t, "KEY", info.GMapsAPIKey)
	assert.Equal(t, ".png", info.ImageExt)
	assert.True(t, info.UserZoom)
	assert.True(t, info.UserFollow)
	assert.True(t, info.BotPath)
	assert.True(t, info.StrokeOn)
	assert.False(t, info.ActionsEnabled)
}
