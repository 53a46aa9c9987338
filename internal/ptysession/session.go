// Package ptysession runs the wrapped CLI under a pseudo-terminal. It owns
// the master fd, forwards the child's raw output, and answers the terminal
// device queries the child sends so it never hangs probing capabilities.
package ptysession

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Default channel and terminal parameters, overridable through Options.
const (
	DefaultTerm         = "xterm-256color"
	DefaultOutputBuffer = 100
	defaultKillWait     = 3 * time.Second
)

// SpawnError reports which stage of session startup failed. Spawn failures
// are fatal and never retried.
type SpawnError struct {
	Stage string // "openpty" or "spawn"
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start session (%s): %v", e.Stage, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Options configures a session.
type Options struct {
	Command []string // argv; Command[0] is resolved via PATH
	Rows    int
	Cols    int
	Term    string   // TERM for the child, DefaultTerm when empty
	Env     []string // extra environment entries appended to os.Environ
	Dir     string   // child working directory, inherited when empty

	// OutputBuffer is the capacity of the Output channel.
	OutputBuffer int

	// KillWait is how long Close waits after SIGTERM before SIGKILL.
	KillWait time.Duration
}

// Session is a running child on a PTY. Reads happen on an internal
// goroutine; Write, Resize and Close may be called from the orchestrator.
type Session struct {
	master *os.File
	cmd    *exec.Cmd

	output chan []byte
	done   chan struct{}

	killWait time.Duration

	// writeMu serializes master writes: the orchestrator injects input
	// while the read goroutine answers device queries, and a reply must
	// never land inside another write's short-write retry loop.
	writeMu sync.Mutex

	mu       sync.Mutex
	rows     int
	cols     int
	closed   bool
	exitCode int
}

// Start allocates the PTY pair and spawns the child on its slave side.
func Start(opts Options) (*Session, error) {
	if len(opts.Command) == 0 {
		return nil, &SpawnError{Stage: "spawn", Err: fmt.Errorf("empty command")}
	}
	rows, cols := opts.Rows, opts.Cols
	if rows < 1 {
		rows = 24
	}
	if cols < 1 {
		cols = 80
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, &SpawnError{Stage: "openpty", Err: err}
	}
	pty.Setsize(master, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})

	term := opts.Term
	if term == "" {
		term = DefaultTerm
	}
	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), "TERM="+term)
	cmd.Env = append(cmd.Env, opts.Env...)
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		master.Close()
		slave.Close()
		return nil, &SpawnError{Stage: "spawn", Err: err}
	}
	// The child holds its own copy of the slave side.
	slave.Close()

	bufSize := opts.OutputBuffer
	if bufSize <= 0 {
		bufSize = DefaultOutputBuffer
	}
	killWait := opts.KillWait
	if killWait <= 0 {
		killWait = defaultKillWait
	}
	s := &Session{
		master:   master,
		cmd:      cmd,
		output:   make(chan []byte, bufSize),
		done:     make(chan struct{}),
		killWait: killWait,
		rows:     rows,
		cols:     cols,
		exitCode: -1,
	}

	go s.readLoop()
	go s.wait()
	return s, nil
}

// Output delivers the child's output with device queries removed. The
// channel closes when the child side of the PTY goes away.
func (s *Session) Output() <-chan []byte { return s.output }

// Done is closed after the child has been reaped.
func (s *Session) Done() <-chan struct{} { return s.done }

// ExitStatus returns the child's exit code, or -1 before Done.
func (s *Session) ExitStatus() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Write sends bytes to the child's stdin, retrying short writes. Whole
// calls are atomic with respect to each other.
func (s *Session) Write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for len(data) > 0 {
		n, err := s.master.Write(data)
		data = data[n:]
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return fmt.Errorf("write to child: %w", err)
		}
	}
	return nil
}

// WriteText sends text without a trailing newline, leaving it as editable
// input in the child's prompt.
func (s *Session) WriteText(text string) error {
	return s.Write([]byte(text))
}

// WriteLine sends text followed by a newline so the child submits it.
func (s *Session) WriteLine(text string) error {
	if len(text) == 0 || text[len(text)-1] != '\n' {
		text += "\n"
	}
	return s.Write([]byte(text))
}

// Resize propagates a new window size to the PTY and nudges the child with
// SIGWINCH. Some programs only re-read the size on the signal.
func (s *Session) Resize(rows, cols int) error {
	if rows < 1 || cols < 1 {
		return fmt.Errorf("resize to %dx%d rejected", rows, cols)
	}
	s.mu.Lock()
	s.rows, s.cols = rows, cols
	s.mu.Unlock()
	if err := pty.Setsize(s.master, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("set pty size: %w", err)
	}
	if s.cmd.Process != nil {
		s.cmd.Process.Signal(syscall.SIGWINCH)
	}
	return nil
}

// Size returns the last size applied to the PTY.
func (s *Session) Size() (rows, cols int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.cols
}

// Close shuts the session down: SIGTERM, a bounded wait, then SIGKILL, then
// the master fd. Safe to call more than once and after the child exited.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case <-s.done:
	default:
		if s.cmd.Process != nil {
			s.cmd.Process.Signal(syscall.SIGTERM)
		}
		select {
		case <-s.done:
		case <-time.After(s.killWait):
			if s.cmd.Process != nil {
				s.cmd.Process.Kill()
			}
			<-s.done
		}
	}
	return s.master.Close()
}

// readLoop drains the master fd, answers device queries inline, and hands
// sanitized chunks to the orchestrator. EIO means the child closed its side
// of the PTY, which is the normal end of stream on Linux.
func (s *Session) readLoop() {
	defer close(s.output)
	answerer := newQueryAnswerer(s.Size)
	buf := make([]byte, 4096)
	for {
		n, err := s.master.Read(buf)
		if n > 0 {
			out, replies := answerer.process(buf[:n])
			if len(replies) > 0 {
				s.Write(replies)
			}
			if len(out) > 0 {
				chunk := make([]byte, len(out))
				copy(chunk, out)
				s.output <- chunk
			}
		}
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return
		}
	}
}

// wait reaps the child and records its exit code.
func (s *Session) wait() {
	err := s.cmd.Wait()
	code := 0
	if err != nil {
		code = 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
			if code < 0 { // killed by signal
				if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
					code = 128 + int(ws.Signal())
				}
			}
		}
	}
	s.mu.Lock()
	s.exitCode = code
	s.mu.Unlock()
	close(s.done)
}

var _ io.Writer = (*writerAdapter)(nil)

// writerAdapter lets a Session stand in where an io.Writer is expected,
// e.g. as a control-channel sink for injected text.
type writerAdapter struct{ s *Session }

// Writer returns an io.Writer view of the child's stdin.
func (s *Session) Writer() io.Writer { return &writerAdapter{s} }

func (w *writerAdapter) Write(p []byte) (int, error) {
	if err := w.s.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
