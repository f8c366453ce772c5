// Package diag turns the free-text diagnostic output of the transcoder and
// segmenter into structured events.
package diag

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
)

// maxLineSize bounds a single diagnostic line. Longer lines are cut at this
// size and the rest of them is skipped.
const maxLineSize = 1 << 20

// Rule pairs a line pattern with the handler for its submatches.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Handle  func(line string, match []string) error
}

// Scanner classifies lines against an ordered rule set. The first matching
// rule wins; lines matching nothing go to Raw.
type Scanner struct {
	Rules []Rule
	// Raw receives lines that matched no rule. Nil drops them.
	Raw func(line string)
	// OnLine runs for every line before classification.
	OnLine func(line string)
	// OnError receives handler failures. The scan continues with the next line.
	OnError func(line string, err error)
}

// Scan reads r until end of stream, feeding each non-empty line. It returns
// the read error that stopped it (nil at EOF); callers treat that as the
// end of the diagnostic channel, not a failure. The writer is never left
// blocked by an overlong line.
func (s *Scanner) Scan(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	sc.Split(truncateLines(maxLineSize))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		s.Feed(line)
	}
	return sc.Err()
}

// Feed classifies a single line.
func (s *Scanner) Feed(line string) {
	if s.OnLine != nil {
		s.OnLine(line)
	}
	for _, rule := range s.Rules {
		match := rule.Pattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		if err := rule.Handle(line, match); err != nil && s.OnError != nil {
			s.OnError(line, err)
		}
		return
	}
	if s.Raw != nil {
		s.Raw(line)
	}
}

// ScanLines is a bufio.SplitFunc that ends a line at either '\r' or '\n'.
// ffmpeg rewrites its progress line in place with '\r', so splitting on '\n'
// alone would hold progress back until the stream ends.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// truncateLines wraps ScanLines so that a line reaching max bytes is
// returned cut short and its remainder, up to the next terminator, is
// consumed without being returned.
func truncateLines(max int) bufio.SplitFunc {
	skipping := false
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if skipping {
			if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
				skipping = false
				return i + 1, nil, nil
			}
			return len(data), nil, nil
		}
		advance, token, err := ScanLines(data, atEOF)
		if advance == 0 && token == nil && err == nil && len(data) >= max {
			skipping = true
			return len(data), data[:max], nil
		}
		return advance, token, err
	}
}

// ParseError reports a malformed numeric field in an otherwise matching line.
type ParseError struct {
	Rule  string
	Field string
	Line  string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("diag %s: field %s in %q: %v", e.Rule, e.Field, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
