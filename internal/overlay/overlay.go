// Package overlay is the orchestration core: it wraps the child CLI in a
// PTY, passes its output through untouched, injects transcribed speech as
// keystrokes, and keeps one reserved status row at the bottom of the
// screen. One goroutine each for input, PTY reads, and output; at most one
// voice job; everything meets in the Run loop.
package overlay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"voxterm/internal/activitylog"
	"voxterm/internal/config"
	"voxterm/internal/control"
	"voxterm/internal/prompt"
	"voxterm/internal/ptysession"
	"voxterm/internal/transcript"
	"voxterm/internal/version"
	"voxterm/internal/voice"
)

const (
	tickInterval    = 50 * time.Millisecond
	shutdownTimeout = time.Second
)

// childSession is the slice of ptysession.Session the engine drives.
// Narrow so tests can substitute a fake child.
type childSession interface {
	Output() <-chan []byte
	Done() <-chan struct{}
	ExitStatus() int
	Write(data []byte) error
	WriteText(text string) error
	WriteLine(text string) error
	Resize(rows, cols int) error
	Close() error
}

// sensitivityAdjuster is implemented by recorders with a tunable VAD
// threshold. Recorders without one simply ignore the hotkeys.
type sensitivityAdjuster interface {
	AdjustSensitivity(deltaDB float64) float64
}

// Engine owns a single wrapped session from spawn to exit.
type Engine struct {
	Config      *config.Config
	Command     []string
	Recorder    voice.Recorder
	Transcriber voice.Transcriber
	Log         *activitylog.Logger

	// Stdin/Stdout default to the process's own. Control is an optional
	// attached frontend stream.
	Stdin   io.Reader
	Stdout  io.Writer
	Control io.ReadWriter

	// SessionID tags control events and log entries. Generated when empty.
	SessionID string

	startSession func(ptysession.Options) (childSession, error)
	termSize     func() (cols, rows int, ok bool)

	// run state, touched only by the Run goroutine
	sess           childSession
	writer         *Writer
	coord          *voice.Coordinator
	detector       *prompt.Detector
	queue          *transcript.Queue
	status         *Status
	renderer       *StatusRenderer
	enc            *control.Encoder
	ctrlCmds       <-chan control.Command
	transcriptIdle time.Duration
	cols           int
	rows           int
	pendingResize  bool
	promptReady    bool
	// first master write failure; passthrough integrity is gone past it,
	// so it ends the session
	ioErr error
	// insert-mode injection parked in the child's prompt, waiting for the
	// user to submit
	insertPending bool

	nTranscripts int
	nCancelled   int
	nErrors      int
}

// Run wraps the configured command and blocks until the session ends.
// The returned code mirrors the child's exit status.
func (e *Engine) Run() (exitCode int, err error) {
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if e.Stdin == nil {
		e.Stdin = os.Stdin
	}
	if e.Stdout == nil {
		e.Stdout = os.Stdout
	}
	if e.Log == nil {
		e.Log = activitylog.Nop()
	}
	if e.startSession == nil {
		e.startSession = func(opts ptysession.Options) (childSession, error) {
			return ptysession.Start(opts)
		}
	}
	if e.termSize == nil {
		e.termSize = func() (cols, rows int, ok bool) {
			f, isFile := e.Stdout.(*os.File)
			if !isFile || !isatty.IsTerminal(f.Fd()) {
				return 0, 0, false
			}
			c, r, err := term.GetSize(int(f.Fd()))
			if err != nil {
				return 0, 0, false
			}
			return c, r, true
		}
	}
	if e.SessionID == "" {
		e.SessionID = control.NewSessionID()
	}

	e.rows, e.cols = 24, 80
	if c, r, ok := e.termSize(); ok {
		e.cols, e.rows = c, r
	}
	profile := termenv.Ascii
	if f, ok := e.Stdout.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		profile = termenv.NewOutput(f).Profile
	}
	if e.rows < 2 {
		return 1, fmt.Errorf("terminal too small: need at least 2 rows, have %d", e.rows)
	}

	// Raw mode so every keystroke reaches the parser; restored on the way
	// out even when the loop errors.
	if f, ok := e.Stdin.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		state, rawErr := term.MakeRaw(int(f.Fd()))
		if rawErr != nil {
			return 1, fmt.Errorf("set raw mode: %w", rawErr)
		}
		defer term.Restore(int(f.Fd()), state)
	}

	sess, err := e.startSession(ptysession.Options{
		Command:      e.Command,
		Rows:         e.rows - 1,
		Cols:         e.cols,
		Term:         cfg.Term,
		OutputBuffer: cfg.PtyChannel,
	})
	if err != nil {
		return 127, err
	}
	e.sess = sess

	e.writer = NewWriter(e.Stdout, cfg.WriterChannel, e.rows, e.cols)
	e.coord = voice.NewCoordinator(e.Recorder, e.Transcriber)
	e.detector = prompt.New(time.Duration(cfg.AutoVoiceIdleMs)*time.Millisecond,
		cfg.CompiledPromptRegex(), time.Now())
	e.transcriptIdle = time.Duration(cfg.TranscriptIdleMs) * time.Millisecond
	e.queue = transcript.NewQueue(cfg.QueueCapacity)
	e.status = NewStatus(0)
	e.status.AutoVoice = cfg.AutoVoice
	if mode, ok := transcript.ParseSendMode(cfg.SendMode); ok {
		e.status.SendMode = mode
	}
	e.renderer = NewStatusRenderer(profile)

	if e.Control != nil {
		e.enc = control.NewEncoder(e.Control)
		e.ctrlCmds = control.NewReader(e.Control, func(parseErr error) {
			e.enc.SendError(parseErr.Error())
		}).Commands()
		e.sendCapabilities()
	}

	e.Log.SessionStart(e.Command, e.status.SendMode.String(), e.status.AutoVoice)
	e.pushStatus()

	inputCh := make(chan Event, cfg.InputChannel)
	go ReadInput(e.Stdin, inputCh)

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	output := sess.Output()
	running := true
	for running {
		select {
		case ev, ok := <-inputCh:
			if !ok {
				inputCh = nil
				continue
			}
			running = e.handleInput(ev)
		case chunk, ok := <-output:
			if !ok {
				output = nil
				running = false
				continue
			}
			e.writer.Send(Passthrough(chunk))
			e.detector.Feed(chunk, time.Now())
			e.promptReady = false
		case <-sess.Done():
			running = false
		case res := <-e.coord.Results():
			e.handleVoiceResult(res)
		case <-e.coord.Transcribing():
			// A stale phase tick can trail a finished job; only a live
			// capture moves to transcribing.
			if e.status.State == StateListening {
				e.setState(StateTranscribing)
			}
		case cmd, ok := <-e.ctrlCmds:
			if !ok {
				e.ctrlCmds = nil
				continue
			}
			running = e.handleCommand(cmd)
		case <-winch:
			e.pendingResize = true
		case <-interrupt:
			running = false
		case now := <-ticker.C:
			e.tick(now)
		}
		if e.ioErr != nil {
			running = false
		}
	}

	return e.shutdown()
}

// handleInput dispatches one keyboard event. Returns false to quit.
func (e *Engine) handleInput(ev Event) bool {
	now := time.Now()
	switch ev.Kind {
	case EvBytes:
		if !e.noteChildWrite(e.sess.Write(ev.Data), now) {
			return false
		}
	case EvEnter:
		if !e.noteChildWrite(e.sess.Write([]byte{'\r'}), now) {
			return false
		}
		if e.insertPending {
			e.insertPending = false
			e.detector.NoteActivity(now)
		}
	case EvQuit:
		return false
	case EvStartVoice:
		e.startJob(voice.TriggerManual, now)
	case EvCancelVoice:
		if !e.coord.Cancel() {
			e.setMessage("no capture to cancel", now)
		}
	case EvToggleAutoVoice:
		e.status.AutoVoice = !e.status.AutoVoice
		e.modeChanged()
	case EvToggleSendMode:
		if e.status.SendMode == transcript.SendAuto {
			e.status.SendMode = transcript.SendInsert
		} else {
			e.status.SendMode = transcript.SendAuto
		}
		e.modeChanged()
	case EvSensitivityUp:
		e.adjustSensitivity(+3, now)
	case EvSensitivityDown:
		e.adjustSensitivity(-3, now)
	case EvHelp:
		e.setMessage(helpText, now)
	}
	return true
}

// handleCommand dispatches one control-channel command. Returns false to
// quit.
func (e *Engine) handleCommand(cmd control.Command) bool {
	now := time.Now()
	switch cmd.Cmd {
	case control.CmdStartVoice:
		e.startJob(voice.TriggerManual, now)
	case control.CmdCancel:
		e.coord.Cancel()
	case control.CmdSetSendMode:
		mode, ok := transcript.ParseSendMode(cmd.SendMode)
		if !ok {
			e.enc.SendError(fmt.Sprintf("bad send_mode %q", cmd.SendMode))
			return true
		}
		e.status.SendMode = mode
		e.modeChanged()
	case control.CmdSetAutoVoice:
		e.status.AutoVoice = cmd.AutoVoice
		e.modeChanged()
	case control.CmdSendText:
		if cmd.Submit {
			if !e.noteChildWrite(e.sess.WriteLine(cmd.Text), now) {
				return false
			}
			e.detector.NoteActivity(now)
			e.promptReady = false
		} else if !e.noteChildWrite(e.sess.WriteText(cmd.Text), now) {
			return false
		}
	case control.CmdGetCapabilities:
		e.sendCapabilities()
	case control.CmdQuit:
		return false
	}
	return true
}

// noteChildWrite records a master write failure. Passthrough integrity is
// gone past the first one, so the session gets one status message, one
// error event, and then shuts down. Reports whether the write succeeded.
func (e *Engine) noteChildWrite(err error, now time.Time) bool {
	if err == nil {
		return true
	}
	if e.ioErr == nil {
		e.ioErr = err
		e.Log.JobError("session", err.Error())
		e.sendEvent(control.Event{Event: control.EventError, Message: err.Error()})
		e.setMessage("child write failed: "+err.Error(), now)
	}
	return false
}

// tick drives everything time-based: pending resize, idle detection,
// transcript flushing, auto-voice arming, and transient message expiry.
func (e *Engine) tick(now time.Time) {
	// Resize signals coalesce: however many arrived since the last tick,
	// the child sees one Resize at the latest observed size.
	if e.pendingResize {
		e.pendingResize = false
		e.applyResize()
	}
	switch e.detector.Tick(now) {
	case prompt.PromptReady, prompt.IdleReady:
		e.promptReady = true
		e.onReady(now)
	}
	// Queued transcripts flush on a shorter quiet window than auto-voice
	// arming; a busy child only needs a brief pause to accept input.
	if e.queue.Len() > 0 && !e.insertPending && e.detector.QuietFor(now) >= e.transcriptIdle {
		e.flushQueue(now)
	}
	if e.status.ExpireMessage(now) {
		e.pushStatus()
	}
}

// onReady fires when the child looks idle at its prompt: queued transcripts
// go first, then auto-voice re-arms.
func (e *Engine) onReady(now time.Time) {
	if e.insertPending {
		return
	}
	if e.queue.Len() > 0 {
		e.flushQueue(now)
		return
	}
	if e.status.AutoVoice && e.status.State == StateIdle {
		e.startJob(voice.TriggerAuto, now)
	}
}

// flushQueue injects queued transcripts oldest-first. Auto entries submit
// and keep going; an insert entry parks in the prompt and stops the flush
// until the user sends it.
func (e *Engine) flushQueue(now time.Time) {
	for {
		entry, ok := e.queue.Dequeue()
		if !ok {
			break
		}
		if entry.Mode == transcript.SendAuto {
			if !e.noteChildWrite(e.sess.WriteLine(entry.Text), now) {
				break
			}
			e.detector.NoteActivity(now)
			e.promptReady = false
		} else {
			if !e.noteChildWrite(e.sess.WriteText(entry.Text), now) {
				break
			}
			e.insertPending = true
			e.promptReady = false
			break
		}
	}
	e.pushStatus()
}

func (e *Engine) startJob(trigger voice.Trigger, now time.Time) {
	if e.Recorder == nil || e.Transcriber == nil {
		e.setMessage("voice pipeline not configured", now)
		return
	}
	err := e.coord.Start(trigger)
	if errors.Is(err, voice.ErrBusy) {
		e.setMessage("capture already running", now)
		return
	}
	if err != nil {
		e.setMessage(err.Error(), now)
		return
	}
	e.setState(StateListening)
	e.sendEvent(control.Event{Event: control.EventJobStarted, Trigger: trigger.String()})
}

func (e *Engine) handleVoiceResult(res voice.Result) {
	now := time.Now()
	e.coord.Observe(res)
	e.setState(StateIdle)
	e.sendEvent(control.Event{Event: control.EventJobEnded, Outcome: res.Outcome.String()})

	switch res.Outcome {
	case voice.OutcomeTranscript:
		e.nTranscripts++
		e.Log.Transcript(res.Trigger.String(), len(res.Text), res.Elapsed, res.Text)
		e.sendEvent(control.Event{Event: control.EventTranscript, Text: res.Text})
		dropped := e.queue.Enqueue(transcript.Pending{
			Text:      res.Text,
			Mode:      e.status.SendMode,
			CreatedAt: now,
		})
		if dropped {
			e.Log.QueueDrop(e.queue.Dropped())
			e.sendEvent(control.Event{Event: control.EventQueueDropped, Dropped: e.queue.Dropped()})
			e.setMessage("transcript queue full (oldest dropped)", now)
		}
		if e.promptReady && !e.insertPending {
			e.flushQueue(now)
		}
	case voice.OutcomeEmpty:
		e.setMessage("no speech detected", now)
	case voice.OutcomeCancelled:
		e.nCancelled++
		e.setMessage("capture cancelled", now)
	case voice.OutcomeError:
		e.nErrors++
		e.Log.JobError(res.Trigger.String(), res.Err.Error())
		e.sendEvent(control.Event{Event: control.EventError, Message: res.Err.Error()})
		e.setMessage("capture failed: "+res.Err.Error(), now)
	}
	e.pushStatus()
}

func (e *Engine) adjustSensitivity(deltaDB float64, now time.Time) {
	adj, ok := e.Recorder.(sensitivityAdjuster)
	if !ok {
		e.setMessage("recorder has no sensitivity control", now)
		return
	}
	e.setMessage(fmt.Sprintf("sensitivity %.0f dB", adj.AdjustSensitivity(deltaDB)), now)
}

func (e *Engine) applyResize() {
	cols, rows, ok := e.termSize()
	if !ok || rows < 2 {
		return
	}
	e.rows, e.cols = rows, cols
	e.writer.Send(ResizeScreen(rows, cols))
	e.sess.Resize(rows-1, cols)
	e.pushStatus()
}

func (e *Engine) setState(s EngineState) {
	if e.status.State == s {
		return
	}
	e.Log.StateChange(e.status.State.String(), s.String())
	e.status.State = s
	e.pushStatus()
}

func (e *Engine) setMessage(msg string, now time.Time) {
	e.status.SetMessage(msg, now)
	e.pushStatus()
}

func (e *Engine) modeChanged() {
	auto := e.status.AutoVoice
	e.sendEvent(control.Event{
		Event:     control.EventModeChanged,
		SendMode:  e.status.SendMode.String(),
		AutoVoice: &auto,
	})
	e.pushStatus()
}

func (e *Engine) pushStatus() {
	e.status.QueueLen = e.queue.Len()
	e.writer.Send(StatusUpdate(e.renderer.Render(e.status, e.cols)))
}

func (e *Engine) sendEvent(ev control.Event) {
	if e.enc == nil {
		return
	}
	ev.SessionID = e.SessionID
	e.enc.Send(ev)
}

func (e *Engine) sendCapabilities() {
	auto := e.status.AutoVoice
	e.sendEvent(control.Event{
		Event:     control.EventCapabilities,
		Version:   version.Version,
		SendMode:  e.status.SendMode.String(),
		AutoVoice: &auto,
		Hotkeys: map[string]string{
			"start_voice":      "ctrl+r",
			"cancel":           "ctrl+g",
			"toggle_send_mode": "ctrl+t",
			"toggle_auto":      "ctrl+v",
			"quit":             "ctrl+q",
			"help":             "?",
		},
	})
}

// shutdown tears the session down in order: voice job, writer, child.
func (e *Engine) shutdown() (int, error) {
	e.coord.Cancel()
	e.writer.Shutdown(shutdownTimeout)
	e.sess.Close()

	select {
	case <-e.sess.Done():
	case <-time.After(shutdownTimeout):
	}
	code := e.sess.ExitStatus()
	if code < 0 {
		code = 0
	}

	exit := code
	e.sendEvent(control.Event{Event: control.EventSessionEnded, ExitCode: &exit})
	e.Log.SessionSummary(e.nTranscripts, e.nCancelled, e.nErrors, e.queue.Dropped(), code)
	return code, nil
}
