package models

import "time"

// FrameMessage is one parsed transcoder progress line.
type FrameMessage struct {
	Frame      int64         `json:"frame"`      // Frames encoded so far
	FPS        float64       `json:"fps"`        // Current encoding rate
	Quality    float64       `json:"quality"`    // Encoder quantizer (q=)
	SizeKB     int64         `json:"sizeKb"`     // Output size so far in kB
	Time       time.Duration `json:"time"`       // Presentation time reached
	BitrateKbs float64       `json:"bitrateKbs"` // Output bitrate in kbit/s
	Duplicated int64         `json:"duplicated"` // Duplicated frames (dup=)
	Dropped    int64         `json:"dropped"`    // Dropped frames (drop=)
}
