package botconfig

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/gofbot/gofbot-launcher/pkg/shared/defs"
)

var userdataTmpl = template.Must(template.New("userdata.js").Parse(`var userInfo = {
    users: [{{range $i, $u := .Users}}{{if $i}}, {{end}}"{{js $u}}"{{end}}],
    zoom: {{.Zoom}},
    userZoom: {{.UserZoom}},
    userFollow: {{.UserFollow}},
    imageExt: "{{js .ImageExt}}",
    gMapsAPIKey: "{{js .GMapsAPIKey}}",
    actionsEnabled: {{.ActionsEnabled}}
};

var dataUpdates = {
    updateTrainer: 1000,
    addCatchable: 1000,
    addInventory: 5000
};`))

// RenderUserdata produces the userdata.js script for the given map settings.
func RenderUserdata(info defs.DisplayInfo) ([]byte, error) {
	var buf bytes.Buffer
	if err := userdataTmpl.Execute(&buf, info); err != nil {
		return nil, fmt.Errorf("render userdata.js: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteUserdata installs the userdata.js template if needed and overwrites it
// with the settings of cfg.
func WriteUserdata(botPath string, cfg *WorkerConfig) error {
	path := UserdataPath(botPath)
	if err := EnsurePresent(path); err != nil {
		return err
	}
	script, err := RenderUserdata(cfg.DisplayInfo())
	if err != nil {
		return err
	}
	if err := writeAtomic(path, script); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
