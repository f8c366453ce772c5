package models

import (
	"strconv"
	"time"
)

// MediaInfo describes one input reported by the transcoder's diagnostic banner.
// It is filled in while the diagnostic stream is scanned and is not modified
// after the scan finishes.
type MediaInfo struct {
	Index        int               `json:"index"`
	Format       string            `json:"format"`
	Source       string            `json:"source"`
	Duration     time.Duration     `json:"duration"`
	BitrateKbs   int64             `json:"bitrateKbs"`
	VideoStreams []VideoStreamInfo `json:"videoStreams"`
	AudioStreams []AudioStreamInfo `json:"audioStreams"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// VideoStreamInfo is a single video stream of an input.
type VideoStreamInfo struct {
	Index    int    `json:"index"`
	Language string `json:"language,omitempty"`
	Encoder  string `json:"encoder"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Default  bool   `json:"default"`
}

// AudioStreamInfo is a single audio stream of an input.
type AudioStreamInfo struct {
	Index     int    `json:"index"`
	Language  string `json:"language,omitempty"`
	Encoder   string `json:"encoder"`
	Frequency int    `json:"frequency"` // Sample rate in Hz
	Channels  string `json:"channels"`  // e.g. "stereo", "5.1(side)"
	Default   bool   `json:"default"`
}

// Resolution returns the stream size formatted as WxH.
func (v VideoStreamInfo) Resolution() string {
	return strconv.Itoa(v.Width) + "x" + strconv.Itoa(v.Height)
}

// DefaultAudio returns the audio stream flagged as default, if any.
func (m *MediaInfo) DefaultAudio() (AudioStreamInfo, bool) {
	for _, a := range m.AudioStreams {
		if a.Default {
			return a, true
		}
	}
	return AudioStreamInfo{}, false
}
