// Package transcoder holds the default ffmpeg command lines and checks that
// the configured binaries run.
package transcoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"rapidmedia/internal/process"
)

// Default argument templates. Placeholders are expanded by segmenter.Expand.
const (
	// DefaultTranscodeArgs converts the source into an MPEG-TS stream on stdout.
	DefaultTranscodeArgs = "-hide_banner -nostdin -i {input} " +
		"-map 0:v:0 -map 0:a:0? -c:v libx264 -preset veryfast -tune zerolatency " +
		"-c:a aac -ac 2 -f mpegts pipe:1"

	// DefaultProbeArgs prints the input banner and exits.
	DefaultProbeArgs = "-hide_banner -nostdin -i {input}"

	// DefaultSegmentArgs reads MPEG-TS on stdin and writes an HLS index plus
	// numbered chunks into the working directory.
	DefaultSegmentArgs = "-hide_banner -nostdin -i pipe:0 -c copy -f hls " +
		"-hls_time {duration} -hls_list_size {window} -hls_flags delete_segments " +
		"-hls_segment_filename {prefix}%d.{chunk_ext} {index}"
)

// DefaultCheckTimeout bounds CheckAvailable.
const DefaultCheckTimeout = 10 * time.Second

var errNoVersion = errors.New("no version output")

// CheckAvailable runs "<path> -version" and returns the first line it
// prints.
func CheckAvailable(path string, logger zerolog.Logger) (string, error) {
	proc, err := process.Spawn(path, []string{"-version"},
		process.WithName("version-check"), process.WithLogger(logger))
	if err != nil {
		return "", err
	}
	defer proc.Destroy()
	_ = proc.Stdin().Close()

	type result struct {
		line string
		err  error
	}
	out := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(proc.Stdout()).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			out <- result{err: err}
			return
		}
		out <- result{line: strings.TrimSpace(line)}
	}()

	select {
	case r := <-out:
		if r.err != nil || r.line == "" {
			return "", fmt.Errorf("%s -version: %w", path, errNoVersion)
		}
		if code := proc.Wait(); code != 0 {
			return "", fmt.Errorf("%s -version: exit code %d", path, code)
		}
		logger.Debug().Str("path", path).Str("version", r.line).Msg("binary is available")
		return r.line, nil
	case <-time.After(DefaultCheckTimeout):
		return "", fmt.Errorf("%s -version: timed out after %s", path, DefaultCheckTimeout)
	}
}
