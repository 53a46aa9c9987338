// Package control implements the optional line-oriented JSON channel a
// frontend can attach instead of a raw terminal. Events flow out as
// {"event": ...} lines, commands come in as {"cmd": ...} lines. A session
// with no control channel attached behaves identically; the orchestrator
// just never emits.
package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Event names (wrapper → frontend).
const (
	EventCapabilities = "capabilities"
	EventModeChanged  = "mode_changed"
	EventJobStarted   = "job_started"
	EventJobEnded     = "job_ended"
	EventTranscript   = "transcript"
	EventQueueDropped = "queue_dropped"
	EventError        = "error"
	EventSessionEnded = "session_ended"
)

// Command names (frontend → wrapper).
const (
	CmdStartVoice      = "start_voice"
	CmdCancel          = "cancel"
	CmdSetSendMode     = "set_send_mode"
	CmdSetAutoVoice    = "set_auto_voice"
	CmdSendText        = "send_text"
	CmdGetCapabilities = "get_capabilities"
	CmdQuit            = "quit"
)

// Event is one outbound line. Only the fields relevant to the named event
// are set; omitempty keeps the wire clean.
type Event struct {
	Event     string            `json:"event"`
	SessionID string            `json:"session_id,omitempty"`
	Version   string            `json:"version,omitempty"`
	Hotkeys   map[string]string `json:"hotkeys,omitempty"`
	SendMode  string            `json:"send_mode,omitempty"`
	AutoVoice *bool             `json:"auto_voice,omitempty"`
	Trigger   string            `json:"trigger,omitempty"`
	Outcome   string            `json:"outcome,omitempty"`
	Text      string            `json:"text,omitempty"`
	Dropped   int               `json:"dropped,omitempty"`
	Message   string            `json:"message,omitempty"`
	ExitCode  *int              `json:"exit_code,omitempty"`
}

// Command is one inbound line.
type Command struct {
	Cmd       string `json:"cmd"`
	SendMode  string `json:"send_mode,omitempty"`
	AutoVoice bool   `json:"auto_voice,omitempty"`
	Text      string `json:"text,omitempty"`
	Submit    bool   `json:"submit,omitempty"`
}

// knownCommands gates dispatch; anything else earns an error event.
var knownCommands = map[string]bool{
	CmdStartVoice:      true,
	CmdCancel:          true,
	CmdSetSendMode:     true,
	CmdSetAutoVoice:    true,
	CmdSendText:        true,
	CmdGetCapabilities: true,
	CmdQuit:            true,
}

// ParseCommand decodes one line. A syntactically valid line naming an
// unknown command is an error so the frontend hears about its mistake.
func ParseCommand(line []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(line, &c); err != nil {
		return Command{}, fmt.Errorf("parse command: %w", err)
	}
	if !knownCommands[c.Cmd] {
		return Command{}, fmt.Errorf("unknown command %q", c.Cmd)
	}
	return c, nil
}

// NewSessionID returns the uuid used to correlate a session's events.
func NewSessionID() string { return uuid.NewString() }

// Encoder serializes events one per line. Safe for use from the
// orchestrator and the writer goroutine.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

// Send writes one event line.
func (e *Encoder) Send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// SendError is shorthand for the error event.
func (e *Encoder) SendError(msg string) error {
	return e.Send(Event{Event: EventError, Message: msg})
}

// Reader delivers parsed commands on a channel. Lines that fail to parse
// are reported through onError rather than killing the stream.
type Reader struct {
	commands chan Command
}

// NewReader starts a goroutine that scans r line by line until EOF. The
// returned Reader's channel closes when the stream ends.
func NewReader(r io.Reader, onError func(error)) *Reader {
	cr := &Reader{commands: make(chan Command, 16)}
	go func() {
		defer close(cr.commands)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			cmd, err := ParseCommand([]byte(line))
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			cr.commands <- cmd
		}
	}()
	return cr
}

// Commands is the stream of parsed inbound commands.
func (r *Reader) Commands() <-chan Command { return r.commands }
