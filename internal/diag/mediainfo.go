package diag

import (
	"regexp"
	"strings"

	"rapidmedia/pkg/models"
)

var (
	inputPattern    = regexp.MustCompile(`^Input #(\d+), (.+), from '(.*)':\s*$`)
	outputPattern   = regexp.MustCompile(`^Output #\d+, `)
	durationPattern = regexp.MustCompile(`^\s*Duration: (N/A|\d+:\d{2}:\d{2}(?:\.\d+)?),(?: start: [-\d.]+,)? bitrate: (?:(\d+) kb/s|N/A)`)
	videoPattern    = regexp.MustCompile(`^\s*Stream #\d+[:.](\d+)(?:\[0x[0-9a-fA-F]+\])?(?:\((\w+)\))?: Video: (\w+).*?\b(\d{2,5})x(\d{2,5})\b`)
	audioPattern    = regexp.MustCompile(`^\s*Stream #\d+[:.](\d+)(?:\[0x[0-9a-fA-F]+\])?(?:\((\w+)\))?: Audio: (\w+).*?(\d+) Hz, ([^,]+)`)
	// Container metadata sits at four spaces of indent under the input line;
	// stream metadata is indented further.
	metadataPattern = regexp.MustCompile(`^ {4}([^\s:][^:]*?)\s*: (.*)$`)
)

// MediaInfoParser accumulates one MediaInfo per "Input #N" banner line.
// Stream lines attach to the most recent input; lines seen before any input
// are dropped. A parser is used by a single scan and is not safe for
// concurrent use while that scan runs.
type MediaInfoParser struct {
	results []*models.MediaInfo
	cursor  *models.MediaInfo
}

// NewMediaInfoScanner returns a scanner running only the media-info rules.
func NewMediaInfoScanner(p *MediaInfoParser) *Scanner {
	return &Scanner{Rules: p.Rules()}
}

// Results returns the inputs seen so far, in banner order. Call it after
// the scan has finished.
func (p *MediaInfoParser) Results() []*models.MediaInfo {
	return p.results
}

// Rules returns the media-info rules in match order.
func (p *MediaInfoParser) Rules() []Rule {
	return []Rule{
		{Name: "input", Pattern: inputPattern, Handle: p.input},
		{Name: "output", Pattern: outputPattern, Handle: p.output},
		{Name: "duration", Pattern: durationPattern, Handle: p.duration},
		{Name: "video", Pattern: videoPattern, Handle: p.video},
		{Name: "audio", Pattern: audioPattern, Handle: p.audio},
		{Name: "metadata", Pattern: metadataPattern, Handle: p.metadata},
	}
}

func (p *MediaInfoParser) input(line string, m []string) error {
	f := fields{rule: "input", line: line}
	info := &models.MediaInfo{
		Index:  f.small("index", m[1]),
		Format: m[2],
		Source: m[3],
	}
	if f.err != nil {
		return f.err
	}
	p.results = append(p.results, info)
	p.cursor = info
	return nil
}

// Stream lines under an output banner describe what we produce, not the input.
func (p *MediaInfoParser) output(string, []string) error {
	p.cursor = nil
	return nil
}

func (p *MediaInfoParser) duration(line string, m []string) error {
	if p.cursor == nil {
		return nil
	}
	f := fields{rule: "duration", line: line}
	d := f.clock("duration", m[1])
	bitrate := f.integer("bitrate", m[2])
	if f.err != nil {
		return f.err
	}
	p.cursor.Duration = d
	p.cursor.BitrateKbs = bitrate
	return nil
}

func (p *MediaInfoParser) video(line string, m []string) error {
	if p.cursor == nil {
		return nil
	}
	f := fields{rule: "video", line: line}
	stream := models.VideoStreamInfo{
		Index:    f.small("index", m[1]),
		Language: m[2],
		Encoder:  m[3],
		Width:    f.small("width", m[4]),
		Height:   f.small("height", m[5]),
		Default:  isDefault(line),
	}
	if f.err != nil {
		return f.err
	}
	p.cursor.VideoStreams = append(p.cursor.VideoStreams, stream)
	return nil
}

func (p *MediaInfoParser) audio(line string, m []string) error {
	if p.cursor == nil {
		return nil
	}
	f := fields{rule: "audio", line: line}
	stream := models.AudioStreamInfo{
		Index:     f.small("index", m[1]),
		Language:  m[2],
		Encoder:   m[3],
		Frequency: f.small("frequency", m[4]),
		Channels:  strings.TrimSpace(m[5]),
		Default:   isDefault(line),
	}
	if f.err != nil {
		return f.err
	}
	p.cursor.AudioStreams = append(p.cursor.AudioStreams, stream)
	return nil
}

func (p *MediaInfoParser) metadata(_ string, m []string) error {
	if p.cursor == nil || len(p.cursor.VideoStreams)+len(p.cursor.AudioStreams) > 0 {
		return nil
	}
	if p.cursor.Metadata == nil {
		p.cursor.Metadata = make(map[string]string)
	}
	p.cursor.Metadata[m[1]] = strings.TrimSpace(m[2])
	return nil
}

func isDefault(line string) bool {
	return strings.Contains(line, "(default)")
}
