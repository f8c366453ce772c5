package models

import "time"

// SessionEventType identifies what a SessionEvent carries
type SessionEventType string

const (
	EventFrame     SessionEventType = "frame"
	EventProgress  SessionEventType = "progress"
	EventMediaInfo SessionEventType = "mediainfo"
	EventFinish    SessionEventType = "finish"
)

// SessionEvent is one pipeline event fanned out to session subscribers
type SessionEvent struct {
	Type     SessionEventType `json:"type"`
	Key      string           `json:"key"`
	Time     time.Time        `json:"time"`
	Stream   string           `json:"stream,omitempty"`
	Frame    *FrameMessage    `json:"frame,omitempty"`
	Line     string           `json:"line,omitempty"`
	Inputs   []*MediaInfo     `json:"inputs,omitempty"`
	ExitCode *int             `json:"exitCode,omitempty"`
}
