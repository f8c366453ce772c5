// Package process launches external programs with piped standard streams and
// guarantees they can be torn down, including any children they fork.
package process

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"rapidmedia/internal/logging"
)

// Process is a running child program. The parent holds the write end of the
// child's stdin and the read ends of its stdout and stderr.
type Process struct {
	name   string
	cmd    *exec.Cmd
	logger zerolog.Logger

	stdin  *os.File
	stdout *os.File
	stderr *os.File

	exited   chan struct{}
	exitCode int
	// survivors is set at reap time when forked children outlived the
	// leader. Only then is the group id known to still be held.
	survivors bool

	destroyOnce sync.Once
}

type options struct {
	name   string
	dir    string
	env    []string
	logger *zerolog.Logger
}

// Option customises Spawn.
type Option func(*options)

// WithName sets the label used in logs (defaults to the executable path).
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDir sets the working directory of the child.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(o *options) { o.env = append(o.env, env...) }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// Spawn starts path with args. All three standard streams are connected to
// pipes owned by the returned Process. Failures to launch are reported as
// *SpawnError.
func Spawn(path string, args []string, opts ...Option) (*Process, error) {
	o := options{name: path}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.WithComponent("process")
	if o.logger != nil {
		logger = *o.logger
	}

	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}
	// A relative path names a file in our working directory, not the child's.
	if !filepath.IsAbs(resolved) {
		if resolved, err = filepath.Abs(resolved); err != nil {
			return nil, &SpawnError{Path: path, Err: err}
		}
	}

	cmd := exec.Command(resolved, args...)
	cmd.Dir = o.dir
	if len(o.env) > 0 {
		cmd.Env = append(os.Environ(), o.env...)
	}
	setGroup(cmd)

	pipes, err := openPipes()
	if err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}
	cmd.Stdin = pipes.stdinR
	cmd.Stdout = pipes.stdoutW
	cmd.Stderr = pipes.stderrW

	if err := cmd.Start(); err != nil {
		pipes.closeChild()
		pipes.closeParent()
		return nil, &SpawnError{Path: path, Err: err}
	}
	// The child has its own copies now; keeping ours open would hide EOF.
	pipes.closeChild()

	p := &Process{
		name:   o.name,
		cmd:    cmd,
		logger: logger.With().Str("proc", o.name).Int("pid", cmd.Process.Pid).Logger(),
		stdin:  pipes.stdinW,
		stdout: pipes.stdoutR,
		stderr: pipes.stderrR,
		exited: make(chan struct{}),
	}
	track(p)
	go p.reap()

	p.logger.Debug().Str("path", resolved).Strs("args", args).Msg("process started")
	return p, nil
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	p.exitCode = exitCode(p.cmd, err)
	p.survivors = groupAlive(p.cmd.Process.Pid)
	close(p.exited)
	p.logger.Debug().Int("exit_code", p.exitCode).Msg("process exited")
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Name returns the log label of the process.
func (p *Process) Name() string { return p.name }

// Pid returns the OS process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Stdin is the write end of the child's standard input.
func (p *Process) Stdin() *os.File { return p.stdin }

// Stdout is the read end of the child's standard output.
func (p *Process) Stdout() *os.File { return p.stdout }

// Stderr is the read end of the child's standard error.
func (p *Process) Stderr() *os.File { return p.stderr }

// Exited is closed once the child has terminated and been reaped.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Wait blocks until the child terminates and returns its exit code. A child
// killed by a signal reports -1.
func (p *Process) Wait() int {
	<-p.exited
	return p.exitCode
}

// Kill signals the child's process group but leaves the parent's stream
// ends open, so readers still drain whatever was already written.
func (p *Process) Kill() {
	select {
	case <-p.exited:
	default:
		killGroup(p.cmd.Process)
	}
}

// Destroy kills the child and its process group and closes the parent's
// stream ends so blocked readers and writers return immediately. It is safe
// to call more than once and after the child has already exited.
func (p *Process) Destroy() {
	p.destroyOnce.Do(func() {
		select {
		case <-p.exited:
			// Forked children may still hold the pipes. With none left
			// the pid may already belong to someone else.
			if p.survivors {
				killGroup(p.cmd.Process)
			}
		default:
			killGroup(p.cmd.Process)
			p.logger.Debug().Msg("process killed")
		}
		_ = p.stdin.Close()
		_ = p.stdout.Close()
		_ = p.stderr.Close()
		untrack(p)
	})
}

type pipeSet struct {
	stdinR, stdinW   *os.File
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
}

func openPipes() (*pipeSet, error) {
	ps := &pipeSet{}
	var err error
	if ps.stdinR, ps.stdinW, err = os.Pipe(); err != nil {
		return nil, err
	}
	if ps.stdoutR, ps.stdoutW, err = os.Pipe(); err != nil {
		ps.closeChild()
		ps.closeParent()
		return nil, err
	}
	if ps.stderrR, ps.stderrW, err = os.Pipe(); err != nil {
		ps.closeChild()
		ps.closeParent()
		return nil, err
	}
	return ps, nil
}

func (ps *pipeSet) closeChild() {
	closeFiles(ps.stdinR, ps.stdoutW, ps.stderrW)
}

func (ps *pipeSet) closeParent() {
	closeFiles(ps.stdinW, ps.stdoutR, ps.stderrR)
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
