// Package prompt watches the wrapped CLI's output to decide when it is idle
// and showing its input prompt, so voice capture can be armed automatically.
package prompt

import (
	"regexp"
	"strings"
	"time"
)

// State is the learning state of the detector.
type State int

const (
	// Unlearned means no prompt line has been recorded yet.
	Unlearned State = iota
	// Learned means the first idle line has been recorded as the pattern.
	Learned
	// Overridden means a user-supplied regex replaces learning entirely.
	Overridden
)

// String returns a short label for logs and status output.
func (s State) String() string {
	switch s {
	case Learned:
		return "learned"
	case Overridden:
		return "overridden"
	default:
		return "unlearned"
	}
}

// Signal is the outcome of an idle evaluation.
type Signal int

const (
	// None means nothing fired.
	None Signal = iota
	// PromptReady means the current line matches the known prompt.
	PromptReady
	// IdleReady means output has been quiet long enough to assume readiness
	// even without a prompt match.
	IdleReady
)

// ansi parser states, carried across Feed calls so sequences split over
// chunk boundaries are still stripped.
const (
	scanText = iota
	scanEsc
	scanCSI
	scanOSC
	scanOSCEsc
)

// Detector tracks the child's output line by line and fires readiness
// signals on idle. It is owned by the orchestrator goroutine.
type Detector struct {
	state    State
	pattern  string
	override *regexp.Regexp

	current  []byte
	lastLine string

	startedAt    time.Time
	lastOutputAt time.Time
	quietDone    bool // a signal (or a learn) already fired this quiet period

	idleWindow time.Duration
	scan       int
}

// New creates a detector. A non-nil override regex puts the detector in the
// Overridden state for its whole lifetime; otherwise it starts Unlearned and
// records the first idle line it sees.
func New(idleWindow time.Duration, override *regexp.Regexp, now time.Time) *Detector {
	d := &Detector{
		idleWindow: idleWindow,
		override:   override,
		startedAt:  now,
	}
	if override != nil {
		d.state = Overridden
	}
	return d
}

// Feed consumes a chunk of raw child output. Control sequences are stripped
// before line tracking; any output re-arms the quiet period.
func (d *Detector) Feed(chunk []byte, now time.Time) {
	if len(chunk) == 0 {
		return
	}
	d.lastOutputAt = now
	d.quietDone = false
	for _, b := range chunk {
		switch d.scan {
		case scanEsc:
			switch b {
			case '[':
				d.scan = scanCSI
			case ']':
				d.scan = scanOSC
			default:
				// Two-byte escape (ESC 7, ESC =, ...): done.
				d.scan = scanText
			}
		case scanCSI:
			if b >= 0x40 && b <= 0x7e {
				d.scan = scanText
			}
		case scanOSC:
			if b == 0x07 {
				d.scan = scanText
			} else if b == 0x1b {
				d.scan = scanOSCEsc
			}
		case scanOSCEsc:
			if b == '\\' {
				d.scan = scanText
			} else {
				d.scan = scanOSC
			}
		default:
			switch b {
			case 0x1b:
				d.scan = scanEsc
			case '\n':
				d.lastLine = string(d.current)
				d.current = d.current[:0]
			case '\r':
				// The child redraws its prompt line with CR; restart it.
				d.current = d.current[:0]
			case 0x08:
				if len(d.current) > 0 {
					d.current = d.current[:len(d.current)-1]
				}
			default:
				if b >= 0x20 || b == '\t' {
					d.current = append(d.current, b)
				}
			}
		}
	}
}

// Tick evaluates idleness at now and returns at most one signal per quiet
// period. Learning the first idle line consumes the period without firing.
func (d *Detector) Tick(now time.Time) Signal {
	if d.quietDone {
		return None
	}
	quiet := d.QuietFor(now)
	if quiet < d.idleWindow {
		return None
	}
	line := d.CurrentLine()

	switch d.state {
	case Overridden:
		if d.override.MatchString(line) {
			d.quietDone = true
			return PromptReady
		}
	case Learned:
		if line != "" && line == d.pattern {
			d.quietDone = true
			return PromptReady
		}
	case Unlearned:
		if line != "" {
			d.pattern = line
			d.state = Learned
			d.quietDone = true
			return None
		}
	}

	// Fallback so auto capture is never permanently blocked: a second idle
	// window with no match counts as ready. With no output at all the first
	// window is already decisive.
	if d.lastOutputAt.IsZero() || quiet >= 2*d.idleWindow {
		d.quietDone = true
		return IdleReady
	}
	return None
}

// QuietFor returns how long the child has produced no output as of now.
func (d *Detector) QuietFor(now time.Time) time.Duration {
	since := d.startedAt
	if !d.lastOutputAt.IsZero() {
		since = d.lastOutputAt
	}
	return now.Sub(since)
}

// NoteActivity re-arms the quiet period without feeding output, e.g. after a
// transcript injection the child has not echoed yet.
func (d *Detector) NoteActivity(now time.Time) {
	d.lastOutputAt = now
	d.quietDone = false
}

// Reset discards any learned pattern and returns to Unlearned. A configured
// override is kept: it bypasses learning for the session's lifetime.
func (d *Detector) Reset() {
	if d.state == Overridden {
		return
	}
	d.state = Unlearned
	d.pattern = ""
}

// State returns the current learning state.
func (d *Detector) State() State { return d.state }

// Pattern returns the learned prompt line ("" until learned).
func (d *Detector) Pattern() string { return d.pattern }

// CurrentLine returns the stripped, trimmed in-progress line.
func (d *Detector) CurrentLine() string {
	return strings.TrimSpace(string(d.current))
}

// LastLine returns the most recently completed stripped line.
func (d *Detector) LastLine() string {
	return strings.TrimSpace(d.lastLine)
}
