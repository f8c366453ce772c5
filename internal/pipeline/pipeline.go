// Package pipeline runs a producer process whose standard output is piped
// into a consumer process, while parsing the diagnostic output of both.
package pipeline

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"rapidmedia/internal/diag"
	"rapidmedia/internal/metrics"
	"rapidmedia/internal/process"
	"rapidmedia/pkg/models"
)

// Role selects the rule set applied to the producer's stderr.
type Role string

const (
	// RoleTranscode parses progress lines and input banners.
	RoleTranscode Role = "transcode"
	// RoleProbe parses input banners only.
	RoleProbe Role = "probe"
)

// DefaultKillWait bounds how long Destroy waits for killed processes to be
// reaped after every task has stopped.
const DefaultKillWait = 5 * time.Second

// ErrDestroyed is returned by Start on a pipeline that was already destroyed.
var ErrDestroyed = errors.New("pipeline destroyed")

// ErrStarted is returned by a second call to Start.
var ErrStarted = errors.New("pipeline already started")

// Command is an executable and its arguments.
type Command struct {
	Path string
	Args []string
}

// Config describes a pipeline.
type Config struct {
	// ID labels the pipeline in logs; a random UUID is used when empty.
	ID       string
	Producer Command
	// Consumer is optional. Without it the producer's output is discarded
	// and Wait reports the producer's exit code.
	Consumer Command
	Role     Role
	// Dir is the working directory of both processes.
	Dir      string
	Listener Listener
	// OnLine runs for every diagnostic line on any stream, before the line
	// is classified. It must not block.
	OnLine   func(stream Stream, line string)
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	KillWait time.Duration
}

// Pipeline owns the two processes, the byte copier and one parser per
// diagnostic stream.
type Pipeline struct {
	id       string
	cfg      Config
	listener Listener
	logger   zerolog.Logger

	mu        sync.Mutex
	started   bool
	destroyed bool
	finished  bool // done closed without ever starting
	producer  *process.Process
	consumer  *process.Process

	tasksDone chan struct{}
	done      chan struct{}
	exitCode  int

	destroyOnce sync.Once
	startedAt   time.Time
	progress    models.Progress
	bytesPiped  atomic.Int64
}

// New prepares a pipeline. Nothing runs until Start.
func New(cfg Config) *Pipeline {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Role == "" {
		cfg.Role = RoleTranscode
	}
	if cfg.KillWait <= 0 {
		cfg.KillWait = DefaultKillWait
	}
	listener := cfg.Listener
	if listener == nil {
		listener = NopListener{}
	}
	return &Pipeline{
		id:        cfg.ID,
		cfg:       cfg,
		listener:  listener,
		logger:    cfg.Logger.With().Str("pipeline_id", cfg.ID).Logger(),
		tasksDone: make(chan struct{}),
		done:      make(chan struct{}),
		exitCode:  -1,
	}
}

// ID returns the pipeline's identifier.
func (p *Pipeline) ID() string { return p.id }

// Start spawns both processes and launches the copy and parser tasks. It
// returns without waiting for them. Spawn failures are returned as
// *process.SpawnError and leave nothing running.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		p.finishUnstarted()
		return ErrDestroyed
	}
	if p.started || p.finished {
		return ErrStarted
	}

	producer, err := process.Spawn(p.cfg.Producer.Path, p.cfg.Producer.Args,
		process.WithName("producer"), process.WithDir(p.cfg.Dir), process.WithLogger(p.logger))
	if err != nil {
		p.finishUnstarted()
		return err
	}
	// The producer reads its own input file; give it EOF on stdin.
	_ = producer.Stdin().Close()
	p.cfg.Metrics.RecordProcessStart()

	var consumer *process.Process
	if p.cfg.Consumer.Path != "" {
		consumer, err = process.Spawn(p.cfg.Consumer.Path, p.cfg.Consumer.Args,
			process.WithName("consumer"), process.WithDir(p.cfg.Dir), process.WithLogger(p.logger))
		if err != nil {
			producer.Destroy()
			p.cfg.Metrics.RecordProcessExit("producer", producer.Wait())
			p.finishUnstarted()
			return err
		}
		p.cfg.Metrics.RecordProcessStart()
	}

	p.producer = producer
	p.consumer = consumer
	p.started = true
	p.startedAt = time.Now()

	var g errgroup.Group
	g.Go(p.copyOutput)
	g.Go(func() error {
		p.scanProducer(producer.Stderr())
		return nil
	})
	if consumer != nil {
		g.Go(p.stopProducerAfterConsumer)
		g.Go(func() error {
			p.scan(ConsumerStdout, consumer.Stdout(), p.consumerScanner(ConsumerStdout))
			return nil
		})
		g.Go(func() error {
			p.scan(ConsumerStderr, consumer.Stderr(), p.consumerScanner(ConsumerStderr))
			return nil
		})
	}
	go p.supervise(&g)

	ev := p.logger.Info().Str("role", string(p.cfg.Role)).Int("producer_pid", producer.Pid())
	if consumer != nil {
		ev = ev.Int("consumer_pid", consumer.Pid())
	}
	ev.Msg("pipeline started")
	return nil
}

// finishUnstarted releases Wait and Destroy callers of a pipeline that will
// never run. Callers hold p.mu.
func (p *Pipeline) finishUnstarted() {
	if p.finished {
		return
	}
	p.finished = true
	close(p.tasksDone)
	close(p.done)
}

// copyOutput moves the producer's stdout into the consumer's stdin and
// closes both ends when either side fails or the producer finishes.
func (p *Pipeline) copyOutput() error {
	var dst io.Writer = io.Discard
	if p.consumer != nil {
		dst = p.consumer.Stdin()
	}
	_, err := io.Copy(&countingWriter{w: dst, p: p}, p.producer.Stdout())
	_ = p.producer.Stdout().Close()
	if p.consumer != nil {
		_ = p.consumer.Stdin().Close()
	}
	if err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Debug().Err(err).Msg("copy stopped")
	}
	return nil
}

// stopProducerAfterConsumer kills a producer that outlives its consumer;
// with nobody reading its output it would otherwise block forever.
func (p *Pipeline) stopProducerAfterConsumer() error {
	<-p.consumer.Exited()
	select {
	case <-p.producer.Exited():
	default:
		p.logger.Debug().Msg("consumer exited first, stopping producer")
		p.producer.Kill()
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	p *Pipeline
}

func (cw *countingWriter) Write(b []byte) (int, error) {
	n, err := cw.w.Write(b)
	cw.p.bytesPiped.Add(int64(n))
	cw.p.cfg.Metrics.RecordBytesPiped(n)
	return n, err
}

func (p *Pipeline) scanProducer(r io.Reader) {
	media := &diag.MediaInfoParser{}
	sc := p.newScanner(ProducerStderr)
	if p.cfg.Role == RoleTranscode {
		sc.Rules = append(sc.Rules, diag.ProgressRule(p.frameHandler(ProducerStderr)))
	}
	sc.Rules = append(sc.Rules, media.Rules()...)

	p.scan(ProducerStderr, r, sc)
	p.listener.OnMediaInfo(media.Results())
}

func (p *Pipeline) consumerScanner(stream Stream) *diag.Scanner {
	sc := p.newScanner(stream)
	sc.Rules = []diag.Rule{diag.ProgressRule(p.frameHandler(stream))}
	return sc
}

func (p *Pipeline) newScanner(stream Stream) *diag.Scanner {
	return &diag.Scanner{
		OnLine: func(line string) {
			if p.cfg.OnLine != nil {
				p.cfg.OnLine(stream, line)
			}
		},
		Raw: func(line string) {
			if strings.Contains(strings.ToLower(line), "error") {
				p.logger.Warn().Str("stream", string(stream)).Msg(line)
			} else {
				p.logger.Debug().Str("stream", string(stream)).Msg(line)
			}
			p.listener.OnProgress(stream, line)
		},
		OnError: func(line string, err error) {
			rule := "unknown"
			var parseErr *diag.ParseError
			if errors.As(err, &parseErr) {
				rule = parseErr.Rule
			}
			p.cfg.Metrics.RecordParseError(rule)
			p.logger.Debug().Err(err).Str("stream", string(stream)).Msg("diagnostic line dropped")
		},
	}
}

func (p *Pipeline) frameHandler(stream Stream) func(models.FrameMessage) {
	return func(msg models.FrameMessage) {
		p.progress.Update(msg)
		p.cfg.Metrics.RecordFrame()
		p.listener.OnFrame(stream, msg)
	}
}

func (p *Pipeline) scan(stream Stream, r io.Reader, sc *diag.Scanner) {
	if err := sc.Scan(r); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Debug().Err(err).Str("stream", string(stream)).Msg("diagnostic stream ended")
		// Keep the pipe flowing so the child never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, r)
	}
}

// supervise waits for every task and both processes, reports the exit code
// to the listener and then releases Wait.
func (p *Pipeline) supervise(g *errgroup.Group) {
	_ = g.Wait()
	close(p.tasksDone)

	producerCode := p.producer.Wait()
	p.producer.Destroy()
	p.cfg.Metrics.RecordProcessExit("producer", producerCode)

	code := producerCode
	if p.consumer != nil {
		code = p.consumer.Wait()
		p.consumer.Destroy()
		p.cfg.Metrics.RecordProcessExit("consumer", code)
	}

	p.logger.Info().
		Int("exit_code", code).
		Int("producer_exit_code", producerCode).
		Int64("bytes_piped", p.bytesPiped.Load()).
		Dur("runtime", time.Since(p.startedAt)).
		Msg("pipeline finished")
	p.listener.OnFinish(code)

	p.exitCode = code
	close(p.done)
}

// Destroy kills both processes and waits until no task touches their
// streams any more. It is idempotent and safe before Start, during Start,
// and after Wait.
func (p *Pipeline) Destroy() {
	p.mu.Lock()
	p.destroyed = true
	started := p.started
	if !started {
		p.finishUnstarted()
	}
	p.mu.Unlock()

	if !started {
		return
	}

	p.destroyOnce.Do(func() {
		p.producer.Destroy()
		if p.consumer != nil {
			p.consumer.Destroy()
		}
	})

	<-p.tasksDone
	select {
	case <-p.done:
	case <-time.After(p.cfg.KillWait):
		p.logger.Warn().Dur("wait", p.cfg.KillWait).Msg("processes not reaped after kill")
	}
}

// Wait blocks until the consumer has exited and every task has finished,
// and returns the consumer's exit code (-1 if it was killed or never ran).
func (p *Pipeline) Wait() int {
	<-p.done
	return p.exitCode
}

// Done is closed when Wait would return.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Producer returns the producer process, nil before Start.
func (p *Pipeline) Producer() *process.Process {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.producer
}

// Consumer returns the consumer process, nil before Start or when the
// pipeline has none.
func (p *Pipeline) Consumer() *process.Process {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consumer
}

// StartedAt returns when Start spawned the processes.
func (p *Pipeline) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// LastFrame returns the most recent progress report, if any.
func (p *Pipeline) LastFrame() *models.FrameMessage { return p.progress.LastFrame() }

// BytesPiped returns how many bytes the copier has delivered so far.
func (p *Pipeline) BytesPiped() int64 { return p.bytesPiped.Load() }
