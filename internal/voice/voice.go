// Package voice runs one capture-and-transcribe job at a time on a worker
// goroutine. Audio capture and speech-to-text are external collaborators;
// this package only owns the job lifecycle.
package voice

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// ErrBusy is returned by Start while a job is already active. A new request
// never replaces or queues behind a running job; the caller surfaces a
// status message instead.
var ErrBusy = errors.New("voice capture already in progress")

// StopFlag is the cooperative cancellation signal shared between the
// orchestrator and the job goroutine. Recorder implementations should test
// it at least once per audio frame.
type StopFlag struct {
	v atomic.Bool
}

// Set requests cancellation.
func (f *StopFlag) Set() { f.v.Store(true) }

// IsSet reports whether cancellation was requested.
func (f *StopFlag) IsSet() bool { return f.v.Load() }

// TestAndClear reports and consumes a pending cancellation request.
func (f *StopFlag) TestAndClear() bool { return f.v.Swap(false) }

// Recorder captures one utterance of audio. Implementations block until
// end-of-speech, an error, or the stop flag is set, and must poll the flag
// at frame granularity.
type Recorder interface {
	Record(stop *StopFlag) ([]byte, error)
}

// Transcriber converts captured audio to text.
type Transcriber interface {
	Transcribe(audio []byte) (string, error)
}

// Trigger records whether a job was started by hotkey or by auto-voice.
type Trigger int

const (
	TriggerManual Trigger = iota
	TriggerAuto
)

// String returns the label used in status messages and the activity log.
func (t Trigger) String() string {
	if t == TriggerAuto {
		return "auto"
	}
	return "manual"
}

// Outcome classifies how a job ended.
type Outcome int

const (
	// OutcomeTranscript means speech was captured and transcribed.
	OutcomeTranscript Outcome = iota
	// OutcomeEmpty means capture ended with no recognizable speech.
	OutcomeEmpty
	// OutcomeCancelled means the stop flag ended the job. Not an error.
	OutcomeCancelled
	// OutcomeError means capture or transcription failed.
	OutcomeError
)

// String returns the label used in status messages and control events.
func (o Outcome) String() string {
	switch o {
	case OutcomeTranscript:
		return "transcript"
	case OutcomeEmpty:
		return "empty"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "error"
	}
}

// Result is the single message a job sends back when it finishes.
type Result struct {
	Outcome Outcome
	Text    string
	Trigger Trigger
	Err     error
	Elapsed time.Duration
}

// Coordinator enforces the at-most-one-job invariant and hands results back
// on a channel the orchestrator selects on. All methods are called from the
// orchestrator goroutine only; the stop flag is the sole state shared with
// the worker.
type Coordinator struct {
	recorder    Recorder
	transcriber Transcriber

	results      chan Result
	transcribing chan struct{}
	stop         *StopFlag
	active       bool
}

// NewCoordinator wires the external collaborators.
func NewCoordinator(rec Recorder, tr Transcriber) *Coordinator {
	return &Coordinator{
		recorder:     rec,
		transcriber:  tr,
		results:      make(chan Result, 1),
		transcribing: make(chan struct{}, 1),
	}
}

// Results is the channel completed jobs report on. At most one result is
// outstanding at a time.
func (c *Coordinator) Results() <-chan Result { return c.results }

// Transcribing fires when a job moves from capture to speech-to-text, so
// the status row can show the phase change.
func (c *Coordinator) Transcribing() <-chan struct{} { return c.transcribing }

// Active reports whether a job is running (its result not yet consumed
// by Observe).
func (c *Coordinator) Active() bool { return c.active }

// Start launches a capture job. Returns ErrBusy while one is active.
func (c *Coordinator) Start(trigger Trigger) error {
	if c.active {
		return ErrBusy
	}
	if c.recorder == nil || c.transcriber == nil {
		return errors.New("voice pipeline not configured")
	}
	c.active = true
	stop := &StopFlag{}
	c.stop = stop
	go c.run(trigger, stop)
	return nil
}

// Cancel sets the stop flag of the active job. Returns false when idle.
func (c *Coordinator) Cancel() bool {
	if !c.active || c.stop == nil {
		return false
	}
	c.stop.Set()
	return true
}

// Observe marks the job finished. The orchestrator calls it for every value
// received from Results.
func (c *Coordinator) Observe(Result) {
	c.active = false
	c.stop = nil
}

// run does the blocking work off the orchestrator goroutine and sends back
// exactly one result. Collaborator panics are not recovered: they indicate
// a broken collaborator, not a capture failure.
func (c *Coordinator) run(trigger Trigger, stop *StopFlag) {
	start := time.Now()
	finish := func(r Result) {
		r.Trigger = trigger
		r.Elapsed = time.Since(start)
		c.results <- r
	}

	audio, err := c.recorder.Record(stop)
	if stop.IsSet() {
		finish(Result{Outcome: OutcomeCancelled})
		return
	}
	if err != nil {
		finish(Result{Outcome: OutcomeError, Err: fmt.Errorf("record: %w", err)})
		return
	}
	if len(audio) == 0 {
		finish(Result{Outcome: OutcomeEmpty})
		return
	}

	// The STT call can be slow; honor a cancel that raced the recorder.
	if stop.IsSet() {
		finish(Result{Outcome: OutcomeCancelled})
		return
	}
	select {
	case c.transcribing <- struct{}{}:
	default:
	}
	text, err := c.transcriber.Transcribe(audio)
	if stop.IsSet() {
		finish(Result{Outcome: OutcomeCancelled})
		return
	}
	if err != nil {
		finish(Result{Outcome: OutcomeError, Err: fmt.Errorf("transcribe: %w", err)})
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		finish(Result{Outcome: OutcomeEmpty})
		return
	}
	finish(Result{Outcome: OutcomeTranscript, Text: text})
}
