package domain

import (
	"encoding/json"
	"time"
)

// ClaimState is the state of a time-bounded claim window.
type ClaimState string

const (
	ClaimIdle      ClaimState = "idle"
	ClaimActive    ClaimState = "active"
	ClaimClaimable ClaimState = "claimable"
)

// ClaimWindow is a farming session. Start and end are either both set or both
// nil; the zero value is an idle window.
type ClaimWindow struct {
	start *time.Time
	end   *time.Time
}

// NewClaimWindow opens a window of length d starting at start.
func NewClaimWindow(start time.Time, d time.Duration) ClaimWindow {
	end := start.Add(d)
	return ClaimWindow{start: &start, end: &end}
}

// ClaimWindowFromBounds rebuilds a window from stored columns. A half-set pair is
// treated as idle.
func ClaimWindowFromBounds(start, end *time.Time) ClaimWindow {
	if start == nil || end == nil {
		return ClaimWindow{}
	}
	return ClaimWindow{start: cloneTime(start), end: cloneTime(end)}
}

func (w ClaimWindow) Start() *time.Time { return w.start }
func (w ClaimWindow) End() *time.Time   { return w.end }

func (w ClaimWindow) IsIdle() bool { return w.start == nil }

func (w ClaimWindow) State(now time.Time) ClaimState {
	if w.end == nil {
		return ClaimIdle
	}
	if now.Before(*w.end) {
		return ClaimActive
	}
	return ClaimClaimable
}

type claimWindowJSON struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

func (w ClaimWindow) MarshalJSON() ([]byte, error) {
	return json.Marshal(claimWindowJSON{Start: w.start, End: w.end})
}

func (w *ClaimWindow) UnmarshalJSON(b []byte) error {
	var v claimWindowJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*w = ClaimWindowFromBounds(v.Start, v.End)
	return nil
}
