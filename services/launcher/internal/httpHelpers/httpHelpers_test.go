package httpHelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorKind(rec, http.StatusConflict, "bot is already running", "already_running")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"msg": "bot is already running", "kind": "already_running"}, body)
}

func TestWriteJSONUnencodable(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteOutput(rec, map[string]any{"bad": make(chan int)})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWriteTimings(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteTimings(rec, Timings{"synth-time": 1500 * time.Microsecond, "launch-time": 2 * time.Millisecond})
	assert.Equal(t, "launch-time;dur=2.00,synth-time;dur=1.50", rec.Header().Get("Server-Timing"))

	rec = httptest.NewRecorder()
	WriteTimings(rec, nil)
	assert.Empty(t, rec.Header().Get("Server-Timing"))
}

func TestReadJSON(t *testing.T) {
	var dst struct {
		Auth string `json:"auth"`
	}

	req := httptest.NewRequest(http.MethodPost, "/bot", strings.NewReader(`{"auth":"google"}`))
	require.NoError(t, ReadJSON(req, &dst))
	assert.Equal(t, "google", dst.Auth)

	req = httptest.NewRequest(http.MethodPost, "/bot", strings.NewReader(""))
	require.NoError(t, ReadJSON(req, &dst))

	req = httptest.NewRequest(http.MethodPost, "/bot", strings.NewReader("{"))
	require.Error(t, ReadJSON(req, &dst))
}
