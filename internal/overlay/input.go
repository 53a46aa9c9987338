package overlay

import "io"

// EventKind classifies one unit of keyboard input.
type EventKind int

const (
	// EvBytes is passthrough input forwarded to the child verbatim.
	EvBytes EventKind = iota
	EvStartVoice
	EvCancelVoice
	EvToggleAutoVoice
	EvToggleSendMode
	EvSensitivityUp
	EvSensitivityDown
	EvHelp
	EvEnter
	EvQuit
)

// Event is one parsed input unit. Data is set only for EvBytes.
type Event struct {
	Kind EventKind
	Data []byte
}

// Control bytes reserved as hotkeys. Everything else flows to the child.
const (
	keyQuit      = 0x11 // Ctrl+Q
	keyVoice     = 0x12 // Ctrl+R
	keySendMode  = 0x14 // Ctrl+T
	keyAutoVoice = 0x16 // Ctrl+V
	keyCancel    = 0x07 // Ctrl+G
	keySensUp    = 0x1d // Ctrl+]
	keySensDown  = 0x1c // Ctrl+\
	keySensDown2 = 0x1f // Ctrl+_

	maxCSIBuffer = 32
)

// Parser turns raw stdin bytes into events. Escape sequences buffer until
// their final byte so arrow keys and friends reach the child intact; only
// CSI-u encoded Ctrl chords are intercepted. Not safe for concurrent use.
type Parser struct {
	pending []byte
	esc     []byte
	inEsc   bool
	skipLF  bool
}

// Consume parses a chunk and appends the resulting events to out.
func (p *Parser) Consume(chunk []byte, out []Event) []Event {
	for _, b := range chunk {
		if p.inEsc {
			out = p.consumeEscape(b, out)
			continue
		}
		if p.skipLF {
			p.skipLF = false
			if b == 0x0a {
				continue
			}
		}
		switch b {
		case 0x1b:
			p.inEsc = true
			p.esc = append(p.esc[:0], b)
		case keyQuit:
			out = p.emit(out, EvQuit)
		case keyVoice:
			out = p.emit(out, EvStartVoice)
		case keyCancel:
			out = p.emit(out, EvCancelVoice)
		case keyAutoVoice:
			out = p.emit(out, EvToggleAutoVoice)
		case keySendMode:
			out = p.emit(out, EvToggleSendMode)
		case keySensUp:
			out = p.emit(out, EvSensitivityUp)
		case keySensDown, keySensDown2:
			out = p.emit(out, EvSensitivityDown)
		case '?':
			out = p.emit(out, EvHelp)
		case 0x0d, 0x0a:
			out = p.emit(out, EvEnter)
			p.skipLF = b == 0x0d
		default:
			p.pending = append(p.pending, b)
		}
	}
	return out
}

// Flush releases buffered passthrough bytes, including an unfinished escape
// sequence. Call after each read so input is never held hostage.
func (p *Parser) Flush(out []Event) []Event {
	if p.inEsc {
		p.pending = append(p.pending, p.esc...)
		p.esc = p.esc[:0]
		p.inEsc = false
	}
	if len(p.pending) > 0 {
		data := make([]byte, len(p.pending))
		copy(data, p.pending)
		p.pending = p.pending[:0]
		out = append(out, Event{Kind: EvBytes, Data: data})
	}
	return out
}

func (p *Parser) emit(out []Event, kind EventKind) []Event {
	out = p.Flush(out)
	return append(out, Event{Kind: kind})
}

func (p *Parser) consumeEscape(b byte, out []Event) []Event {
	p.esc = append(p.esc, b)

	// Two-byte escapes (ESC a, alt-keys) pass straight through.
	if len(p.esc) == 2 && b != '[' {
		p.pending = append(p.pending, p.esc...)
		p.esc = p.esc[:0]
		p.inEsc = false
		return out
	}

	if len(p.esc) >= 3 && b >= 0x40 && b <= 0x7e {
		if kind, ok := parseCSIu(p.esc); ok {
			// CSI-u key report; never reaches the child.
			p.esc = p.esc[:0]
			p.inEsc = false
			if kind >= 0 {
				out = p.emit(out, EventKind(kind))
			}
			return out
		}
		p.pending = append(p.pending, p.esc...)
		p.esc = p.esc[:0]
		p.inEsc = false
		return out
	}

	if len(p.esc) > maxCSIBuffer {
		p.pending = append(p.pending, p.esc...)
		p.esc = p.esc[:0]
		p.inEsc = false
	}
	return out
}

// parseCSIu recognizes kitty/CSI-u key reports (ESC [ code ; mods u) with
// purely numeric params. Returns ok for every such sequence so it can be
// swallowed; kind is -1 unless a Ctrl-modified hotkey chord matched.
func parseCSIu(seq []byte) (kind int, ok bool) {
	if len(seq) < 4 || seq[len(seq)-1] != 'u' {
		return -1, false
	}
	params := seq[2 : len(seq)-1]
	for _, b := range params {
		if (b < '0' || b > '9') && b != ';' {
			return -1, false
		}
	}

	code, mods := 0, 0
	field := &code
	for _, b := range params {
		if b == ';' {
			if field == &mods {
				break
			}
			field = &mods
			continue
		}
		*field = *field*10 + int(b-'0')
	}
	// The CSI-u modifier mask uses bit 4 for Ctrl.
	if mods&4 == 0 {
		return -1, true
	}
	switch code | 0x20 { // lowercase letters
	case 'r':
		return int(EvStartVoice), true
	case 'g':
		return int(EvCancelVoice), true
	case 'v':
		return int(EvToggleAutoVoice), true
	case 't':
		return int(EvToggleSendMode), true
	case 'q':
		return int(EvQuit), true
	case '?':
		return int(EvHelp), true
	}
	return -1, true
}

// ReadInput pumps parsed events from r onto ch until read error or EOF,
// then closes ch. Runs on its own goroutine.
func ReadInput(r io.Reader, ch chan<- Event) {
	defer close(ch)
	var parser Parser
	buf := make([]byte, 1024)
	events := make([]Event, 0, 16)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			events = parser.Consume(buf[:n], events[:0])
			events = parser.Flush(events)
			for _, ev := range events {
				ch <- ev
			}
		}
		if err != nil {
			return
		}
	}
}
