package botconfig

import (
	"github.com/tidwall/gjson"

	"github.com/gofbot/gofbot-launcher/pkg/shared/defs"
)

const liveStatsTask = "UpdateLiveStats"

// Map view defaults shared by the bot-started payload and userdata.js
const (
	defaultZoom     = 16
	defaultImageExt = ".png"
)

// WorkerConfig is the synthesized worker configuration. The document is kept
// as raw JSON so keys the launcher does not know about survive a rewrite.
type WorkerConfig struct {
	raw []byte
}

// NewWorkerConfig wraps an already valid document.
func NewWorkerConfig(raw []byte) *WorkerConfig {
	return &WorkerConfig{raw: raw}
}

// Bytes returns the document as written to disk.
func (c *WorkerConfig) Bytes() []byte {
	return c.raw
}

func (c *WorkerConfig) Get(path string) gjson.Result {
	return gjson.GetBytes(c.raw, path)
}

func (c *WorkerConfig) AuthService() string { return c.Get("auth_service").String() }
func (c *WorkerConfig) Username() string    { return c.Get("username").String() }
func (c *WorkerConfig) Password() string    { return c.Get("password").String() }
func (c *WorkerConfig) MapKey() string      { return c.Get("gmapkey").String() }

// LiveStatsTasks returns every tasks[] entry of type UpdateLiveStats.
func (c *WorkerConfig) LiveStatsTasks() []gjson.Result {
	var out []gjson.Result
	for _, task := range c.Get("tasks").Array() {
		if task.Get("type").String() == liveStatsTask {
			out = append(out, task)
		}
	}
	return out
}

// DisplayInfo projects the config into what the map view needs.
func (c *WorkerConfig) DisplayInfo() defs.DisplayInfo {
	return defs.DisplayInfo{
		Users:          []string{c.Username()},
		Zoom:           defaultZoom,
		UserZoom:       true,
		UserFollow:     true,
		BotPath:        true,
		ImageExt:       defaultImageExt,
		GMapsAPIKey:    c.MapKey(),
		ActionsEnabled: false,
		StrokeOn:       true,
	}
}
