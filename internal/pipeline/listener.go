package pipeline

import "rapidmedia/pkg/models"

// Stream identifies one of the diagnostic channels of a pipeline.
type Stream string

const (
	ProducerStderr Stream = "producer_stderr"
	ConsumerStdout Stream = "consumer_stdout"
	ConsumerStderr Stream = "consumer_stderr"
)

// Listener receives pipeline events. Methods are called from the
// pipeline's reader goroutines, possibly concurrently, and must not block
// or call back into the pipeline's Destroy or Wait.
type Listener interface {
	// OnFrame receives a parsed progress line.
	OnFrame(stream Stream, msg models.FrameMessage)
	// OnProgress receives any diagnostic line that matched no rule.
	OnProgress(stream Stream, line string)
	// OnMediaInfo receives the inputs described on the producer's stderr,
	// once that stream has ended.
	OnMediaInfo(infos []*models.MediaInfo)
	// OnFinish receives the final exit code after every task has stopped,
	// before Wait returns.
	OnFinish(exitCode int)
}

// NopListener ignores every event. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) OnFrame(Stream, models.FrameMessage) {}
func (NopListener) OnProgress(Stream, string)           {}
func (NopListener) OnMediaInfo([]*models.MediaInfo)     {}
func (NopListener) OnFinish(int)                        {}

// MultiListener fans events out to every listener in order.
type MultiListener []Listener

func (ml MultiListener) OnFrame(stream Stream, msg models.FrameMessage) {
	for _, l := range ml {
		l.OnFrame(stream, msg)
	}
}

func (ml MultiListener) OnProgress(stream Stream, line string) {
	for _, l := range ml {
		l.OnProgress(stream, line)
	}
}

func (ml MultiListener) OnMediaInfo(infos []*models.MediaInfo) {
	for _, l := range ml {
		l.OnMediaInfo(infos)
	}
}

func (ml MultiListener) OnFinish(exitCode int) {
	for _, l := range ml {
		l.OnFinish(exitCode)
	}
}
