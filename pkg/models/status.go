package models

import "time"

// ServerStatus is the last known reachability of the prediction backend.
// A zero LastCheck means no check has run yet.
type ServerStatus struct {
	IsOnline  bool      `json:"is_online"`
	LastCheck time.Time `json:"last_check"`
	Error     string    `json:"error,omitempty"`
}

// Message renders the status as a short human-readable line.
func (s ServerStatus) Message() string {
	if s.IsOnline {
		return "connected"
	}
	if s.Error != "" {
		return "disconnected: " + s.Error
	}
	return "disconnected"
}
