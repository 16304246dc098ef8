package defs

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// WalkSpeed accepts a JSON number or a numeric string. Set reports whether the
// field was present at all.
type WalkSpeed struct {
	Value float64
	Set   bool
	raw   string
}

func NewWalkSpeed(v float64) WalkSpeed {
	return WalkSpeed{Value: v, Set: true}
}

// Usable is true when the speed should be written to the worker config: it was
// supplied and is a finite non-zero number.
func (w WalkSpeed) Usable() bool {
	return w.Set && w.Value != 0 && finite(w.Value)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (w WalkSpeed) IsZero() bool {
	return !w.Set
}

func (w *WalkSpeed) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*w = WalkSpeed{}
		return nil
	}

	var s string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}

	s = strings.TrimSpace(s)
	w.raw = s
	w.Set = s != ""
	if !w.Set {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// unparsable input is kept as "supplied but unusable"
		w.Value = math.NaN()
		return nil
	}
	w.Value = v
	return nil
}

func (w WalkSpeed) MarshalJSON() ([]byte, error) {
	if !w.Set {
		return []byte("null"), nil
	}
	if !finite(w.Value) {
		return json.Marshal(w.raw)
	}
	return json.Marshal(w.Value)
}
