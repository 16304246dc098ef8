package defs

import (
	"encoding/json"
	"time"
)

// Bridge event names, inbound and outbound
const (
	EventStartBot      = "start-bot"
	EventStopBot       = "stop-bot"
	EventKillBot       = "kill-bot" // legacy alias of stop-bot
	EventBotStarted    = "bot-started"
	EventBotKilled     = "bot-killed"
	EventFatalError    = "fatal-error"
	EventStartBotError = "start-bot-error"
)

const (
	AuthGoogle = "google"
	AuthPTC    = "ptc"
)

// LoginOptions carries the per-scheme credentials and the optional tuning values
// typed into the login form.
type LoginOptions struct {
	PTCUsername    string    `json:"ptc_username,omitempty"`
	PTCPassword    string    `json:"ptc_password,omitempty"`
	GoogleUsername string    `json:"google_username,omitempty"`
	GooglePassword string    `json:"google_password,omitempty"`
	GoogleMapsAPI  string    `json:"google_maps_api,omitempty"`
	WalkSpeed      WalkSpeed `json:"walk_speed,omitzero"`
}

// LaunchOptions is the payload of a start-bot command
type LaunchOptions struct {
	Auth     string          `json:"auth"`
	Options  LoginOptions    `json:"options"`
	Location json.RawMessage `json:"location,omitempty"`
}

// DisplayInfo is what the map view needs once the worker is up
type DisplayInfo struct {
	Users          []string `json:"users"`
	Zoom           int      `json:"zoom"`
	UserZoom       bool     `json:"userZoom"`
	UserFollow     bool     `json:"userFollow"`
	BotPath        bool     `json:"botPath"`
	ImageExt       string   `json:"imageExt"`
	GMapsAPIKey    string   `json:"gMapsAPIKey"`
	ActionsEnabled bool     `json:"actionsEnabled"`
	StrokeOn       bool     `json:"strokeOn"`
}

// Envelope is a single message on the bridge websocket
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type FatalErrorBody struct {
	Detail string `json:"detail"`
}

type StartErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// BotStatus is returned by GET /bot
type BotStatus struct {
	State        string     `json:"state"`
	WorkerId     string     `json:"workerId,omitempty"`
	ProcessId    int        `json:"processId,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	UptimeSecs   float64    `json:"uptimeSecs,omitempty"`
	IsReachable  bool       `json:"isReachable"`
	LastExitCode *int       `json:"lastExitCode,omitempty"`
}
