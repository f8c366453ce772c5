package models

import "sync"

// SessionState represents the lifecycle state of a transcode session
type SessionState string

const (
	SessionStateIdle     SessionState = "idle"
	SessionStateStarting SessionState = "starting"
	SessionStateReady    SessionState = "ready"
	SessionStateFailed   SessionState = "failed"
)

// ProcessStats is a resource snapshot of one child process
type ProcessStats struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
}

// SessionInfo represents session metadata returned by the API
type SessionInfo struct {
	Key          string        `json:"key"`
	State        string        `json:"state"`
	Source       string        `json:"source,omitempty"`
	PipelineID   string        `json:"pipelineId,omitempty"`
	StartedAt    string        `json:"startedAt,omitempty"`
	LastActivity string        `json:"lastActivity,omitempty"`
	IdleSeconds  int           `json:"idleSeconds,omitempty"`
	Transcoder   *ProcessStats `json:"transcoder,omitempty"`
	Segmenter    *ProcessStats `json:"segmenter,omitempty"`
	LastFrame    *FrameMessage `json:"lastFrame,omitempty"`
	LastError    string        `json:"lastError,omitempty"`
}

// Progress tracks the most recent progress report of a running pipeline.
// It is written from diagnostic reader goroutines and read by API handlers.
type Progress struct {
	mu        sync.RWMutex
	lastFrame *FrameMessage
	frames    uint64
}

// Update records a new frame report
func (p *Progress) Update(msg FrameMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastFrame = &msg
	p.frames++
}

// LastFrame safely returns a copy of the latest frame report
func (p *Progress) LastFrame() *FrameMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastFrame == nil {
		return nil
	}
	msg := *p.lastFrame
	return &msg
}

// Reports returns the number of frame reports seen so far
func (p *Progress) Reports() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.frames
}
