package models

import (
	"math"
	"time"
)

// LastCheckedLayout is the timestamp layout used in persisted snapshots
const LastCheckedLayout = "2006-01-02 15:04:05"

// Simple-mode statuses. Plugin mode uses the verdict names (OK, WARNING, ERROR, CRITICAL).
const (
	StatusHealthy = "healthy"
	StatusError   = "error"
)

// HealthSnapshot is the latest evaluation result for a single service
type HealthSnapshot struct {
	Status           string  `json:"status" bson:"status"`
	LastChecked      string  `json:"last_checked" bson:"last_checked"`
	Error            *string `json:"error" bson:"error"`
	Restarted        bool    `json:"restarted" bson:"restarted"`
	Logs             string  `json:"logs" bson:"logs"`
	Plugin           string  `json:"plugin,omitempty" bson:"plugin,omitempty"`
	RestartsInWindow int     `json:"restarts_in_window" bson:"restarts_in_window"`
	PassID           string  `json:"pass_id,omitempty" bson:"pass_id,omitempty"`
}

// ErrorText returns the error summary or an empty string
func (s HealthSnapshot) ErrorText() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}

// Snapshots maps service name to its latest snapshot
type Snapshots map[string]HealthSnapshot

// Clone returns a shallow copy of the map
func (s Snapshots) Clone() Snapshots {
	out := make(Snapshots, len(s))
	for name, snap := range s {
		out[name] = snap
	}
	return out
}

// RestartHistory maps service name to restart times in unix seconds, oldest first
type RestartHistory map[string][]float64

// UnixSeconds converts t to fractional unix seconds
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromUnixSeconds converts fractional unix seconds back to a time
func FromUnixSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}

// Alert is sent to the alerting endpoint when a service needs emergency action
type Alert struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	Plugin    string    `json:"plugin"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
