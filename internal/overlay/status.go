package overlay

import (
	"fmt"
	"strings"
	"time"

	"github.com/muesli/termenv"

	"voxterm/internal/transcript"
)

// EngineState is what the status row reports about the voice pipeline.
type EngineState int

const (
	StateIdle EngineState = iota
	StateListening
	StateTranscribing
)

// String returns the label used in the status row and the activity log.
func (s EngineState) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	default:
		return "idle"
	}
}

// helpText is shown as a transient message on the help hotkey.
const helpText = "^R voice  ^G cancel  ^T send mode  ^V auto-voice  ^]/^\\ sensitivity  ^Q quit"

// Status is the model behind the reserved bottom row. Owned by the
// orchestrator; the writer only ever sees rendered strings.
type Status struct {
	State     EngineState
	SendMode  transcript.SendMode
	AutoVoice bool
	QueueLen  int

	message    string
	messageAt  time.Time
	messageTTL time.Duration
}

// NewStatus returns a Status whose transient messages last ttl.
func NewStatus(ttl time.Duration) *Status {
	if ttl <= 0 {
		ttl = 4 * time.Second
	}
	return &Status{messageTTL: ttl}
}

// SetMessage replaces the transient message.
func (s *Status) SetMessage(msg string, now time.Time) {
	s.message = msg
	s.messageAt = now
}

// ExpireMessage clears a transient message past its ttl. Reports whether
// the row needs a redraw.
func (s *Status) ExpireMessage(now time.Time) bool {
	if s.message == "" || now.Sub(s.messageAt) < s.messageTTL {
		return false
	}
	s.message = ""
	return true
}

// Message returns the current transient message.
func (s *Status) Message() string { return s.message }

// StatusRenderer styles the status row for a given terminal profile. With
// termenv.Ascii the output is plain text, which also keeps tests exact.
type StatusRenderer struct {
	profile termenv.Profile
}

func NewStatusRenderer(profile termenv.Profile) *StatusRenderer {
	return &StatusRenderer{profile: profile}
}

// Render produces the full status row content, truncated to cols.
func (r *StatusRenderer) Render(s *Status, cols int) string {
	var b strings.Builder

	state := s.State.String()
	glyph := "·"
	color := "8" // bright black
	switch s.State {
	case StateListening:
		glyph, color = "●", "1"
	case StateTranscribing:
		glyph, color = "◐", "3"
	}
	b.WriteString(r.paint(glyph+" "+state, color, s.State != StateIdle))

	b.WriteString(r.dim(" │ "))
	b.WriteString("send:" + s.SendMode.String())

	b.WriteString(r.dim(" │ "))
	if s.AutoVoice {
		b.WriteString(r.paint("voice:auto", "2", false))
	} else {
		b.WriteString("voice:manual")
	}

	if s.QueueLen > 0 {
		b.WriteString(r.dim(" │ "))
		b.WriteString(fmt.Sprintf("queued:%d", s.QueueLen))
	}

	if s.message != "" {
		b.WriteString(r.dim(" │ "))
		b.WriteString(s.message)
	}

	return truncateCells(b.String(), cols)
}

func (r *StatusRenderer) paint(text, color string, bold bool) string {
	st := r.profile.String(text).Foreground(r.profile.Color(color))
	if bold {
		st = st.Bold()
	}
	return st.String()
}

func (r *StatusRenderer) dim(text string) string {
	return r.profile.String(text).Faint().String()
}

// truncateCells trims to at most cols runes of visible text, leaving ANSI
// sequences intact. Wide runes are counted as one cell; the row lives at
// the far left so slight under-fill is harmless.
func truncateCells(s string, cols int) string {
	if cols <= 0 {
		return ""
	}
	var b strings.Builder
	cells := 0
	inEsc := false
	for _, r := range s {
		if inEsc {
			b.WriteRune(r)
			if r >= 0x40 && r <= 0x7e && r != '[' {
				inEsc = false
			}
			continue
		}
		if r == 0x1b {
			inEsc = true
			b.WriteRune(r)
			continue
		}
		if cells >= cols {
			continue
		}
		b.WriteRune(r)
		cells++
	}
	return b.String()
}
