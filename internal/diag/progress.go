package diag

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"rapidmedia/pkg/models"
)

// frame=  123 fps= 25 q=28.0 size=    1234kB time=00:00:12.34 bitrate= 800.0kbits/s dup=0 drop=1 speed=1.0x
var progressPattern = regexp.MustCompile(
	`frame=\s*(\d+)\s+fps=\s*([\d.]+)\s+q=\s*(-?[\d.]+)\s+L?size=\s*(\d+)\s*[kK]i?B\s+` +
		`time=\s*(-?\d+:\d{2}:\d{2}(?:\.\d+)?|N/A)\s+bitrate=\s*(?:([\d.]+)\s*kbits/s|N/A)` +
		`(?:\s+dup=\s*(\d+)\s+drop=\s*(\d+))?`)

// ProgressRule matches a frame progress line and hands the parsed message to
// onFrame.
func ProgressRule(onFrame func(models.FrameMessage)) Rule {
	return Rule{
		Name:    "progress",
		Pattern: progressPattern,
		Handle: func(line string, m []string) error {
			msg, err := frameFromMatch(line, m)
			if err != nil {
				return err
			}
			if onFrame != nil {
				onFrame(msg)
			}
			return nil
		},
	}
}

// NewProgressScanner builds the progress parser: frame lines go to onFrame,
// everything else to onProgress.
func NewProgressScanner(onFrame func(models.FrameMessage), onProgress func(string)) *Scanner {
	return &Scanner{
		Rules: []Rule{ProgressRule(onFrame)},
		Raw:   onProgress,
	}
}

// ParseProgress parses one progress line. ok is false when the line is not
// a progress line or one of its fields is malformed.
func ParseProgress(line string) (msg models.FrameMessage, ok bool, err error) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return models.FrameMessage{}, false, nil
	}
	msg, err = frameFromMatch(line, m)
	return msg, err == nil, err
}

func frameFromMatch(line string, m []string) (models.FrameMessage, error) {
	f := fields{rule: "progress", line: line}
	msg := models.FrameMessage{
		Frame:      f.integer("frame", m[1]),
		FPS:        f.decimal("fps", m[2]),
		Quality:    f.decimal("q", m[3]),
		SizeKB:     f.integer("size", m[4]),
		Time:       f.clock("time", m[5]),
		BitrateKbs: f.decimal("bitrate", m[6]),
		Duplicated: f.integer("dup", m[7]),
		Dropped:    f.integer("drop", m[8]),
	}
	return msg, f.err
}

// fields parses numeric submatches, remembering the first failure. Empty
// values (optional groups, N/A) parse as zero.
type fields struct {
	rule string
	line string
	err  error
}

func (f *fields) fail(field string, err error) {
	if f.err == nil {
		f.err = &ParseError{Rule: f.rule, Field: field, Line: f.line, Err: err}
	}
}

func (f *fields) integer(name, v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		f.fail(name, err)
	}
	return n
}

func (f *fields) small(name, v string) int {
	return int(f.integer(name, v))
}

func (f *fields) decimal(name, v string) float64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		f.fail(name, err)
	}
	return n
}

func (f *fields) clock(name, v string) time.Duration {
	if v == "" || v == "N/A" {
		return 0
	}
	d, err := parseClock(v)
	if err != nil {
		f.fail(name, err)
	}
	return d
}

var errClock = errors.New("malformed clock value")

// parseClock parses [-]HH:MM:SS[.frac] without going through float seconds,
// so centisecond values survive exactly.
func parseClock(v string) (time.Duration, error) {
	neg := strings.HasPrefix(v, "-")
	v = strings.TrimPrefix(v, "-")

	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return 0, errClock
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	secPart, fracPart, _ := strings.Cut(parts[2], ".")
	seconds, err := strconv.Atoi(secPart)
	if err != nil {
		return 0, err
	}

	var nanos int
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		nanos, err = strconv.Atoi(fracPart + strings.Repeat("0", 9-len(fracPart)))
		if err != nil {
			return 0, err
		}
	}

	d := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(nanos)
	if neg {
		d = -d
	}
	return d, nil
}
