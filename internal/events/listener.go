package events

import (
	"time"

	"rapidmedia/internal/pipeline"
	"rapidmedia/pkg/models"
)

// Listener publishes the events of one session's pipelines
type Listener struct {
	broker *Broker
	key    string
}

var _ pipeline.Listener = (*Listener)(nil)

// ListenerFor returns a pipeline listener publishing under key. Its
// signature matches session.ListenerFactory.
func (b *Broker) ListenerFor(key string) pipeline.Listener {
	return &Listener{broker: b, key: key}
}

func (l *Listener) publish(ev models.SessionEvent) {
	ev.Key = l.key
	ev.Time = time.Now().UTC()
	l.broker.Publish(ev)
}

func (l *Listener) OnFrame(stream pipeline.Stream, msg models.FrameMessage) {
	l.publish(models.SessionEvent{Type: models.EventFrame, Stream: string(stream), Frame: &msg})
}

func (l *Listener) OnProgress(stream pipeline.Stream, line string) {
	l.publish(models.SessionEvent{Type: models.EventProgress, Stream: string(stream), Line: line})
}

func (l *Listener) OnMediaInfo(infos []*models.MediaInfo) {
	l.publish(models.SessionEvent{Type: models.EventMediaInfo, Inputs: infos})
}

func (l *Listener) OnFinish(exitCode int) {
	l.publish(models.SessionEvent{Type: models.EventFinish, ExitCode: &exitCode})
}
