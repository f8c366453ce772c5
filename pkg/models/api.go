package models

// StartSessionRequest represents a request to start transcoding a source file
type StartSessionRequest struct {
	Source string `json:"source" binding:"required"` // Path relative to the media directory
}

// StartSessionResponse represents the response to a successful start
type StartSessionResponse struct {
	Key         string `json:"key"`
	PlaylistURL string `json:"playlistUrl"`
}

// SessionListResponse represents a list of sessions
type SessionListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
	Total    int           `json:"total"`
}

// ProbeResponse represents the media inputs found in a source file
type ProbeResponse struct {
	Source string       `json:"source"`
	Inputs []*MediaInfo `json:"inputs"`
}
