package overlay

import (
	"strings"
	"testing"
	"time"

	"github.com/muesli/termenv"

	"voxterm/internal/transcript"
)

var statusT0 = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func plainRenderer() *StatusRenderer {
	return NewStatusRenderer(termenv.Ascii)
}

func TestRender_IdleDefaults(t *testing.T) {
	s := NewStatus(0)
	row := plainRenderer().Render(s, 120)
	for _, want := range []string{"idle", "send:auto", "voice:manual"} {
		if !strings.Contains(row, want) {
			t.Errorf("row %q missing %q", row, want)
		}
	}
	if strings.Contains(row, "queued") {
		t.Errorf("empty queue shown: %q", row)
	}
}

func TestRender_ListeningWithQueue(t *testing.T) {
	s := NewStatus(0)
	s.State = StateListening
	s.SendMode = transcript.SendInsert
	s.AutoVoice = true
	s.QueueLen = 2
	row := plainRenderer().Render(s, 120)
	for _, want := range []string{"listening", "send:insert", "voice:auto", "queued:2"} {
		if !strings.Contains(row, want) {
			t.Errorf("row %q missing %q", row, want)
		}
	}
}

func TestRender_TruncatesToColumns(t *testing.T) {
	s := NewStatus(0)
	s.SetMessage(strings.Repeat("x", 300), statusT0)
	row := plainRenderer().Render(s, 40)
	if n := len([]rune(row)); n > 40 {
		t.Errorf("row is %d cells, want <= 40", n)
	}
}

func TestRender_TruncationKeepsANSIIntact(t *testing.T) {
	r := NewStatusRenderer(termenv.ANSI)
	s := NewStatus(0)
	s.State = StateListening
	row := r.Render(s, 5)
	visible := 0
	inEsc := false
	for _, ch := range row {
		switch {
		case inEsc:
			if ch >= 0x40 && ch <= 0x7e && ch != '[' {
				inEsc = false
			}
		case ch == 0x1b:
			inEsc = true
		default:
			visible++
		}
	}
	if visible > 5 {
		t.Errorf("visible cells = %d, want <= 5 (row %q)", visible, row)
	}
}

func TestStatus_MessageLifecycle(t *testing.T) {
	s := NewStatus(time.Second)
	s.SetMessage("capture failed", statusT0)

	if s.ExpireMessage(statusT0.Add(500 * time.Millisecond)) {
		t.Error("message expired early")
	}
	if !strings.Contains(plainRenderer().Render(s, 120), "capture failed") {
		t.Error("live message not rendered")
	}

	if !s.ExpireMessage(statusT0.Add(1100 * time.Millisecond)) {
		t.Error("message did not expire")
	}
	if s.ExpireMessage(statusT0.Add(2 * time.Second)) {
		t.Error("expiry reported twice")
	}
	if strings.Contains(plainRenderer().Render(s, 120), "capture failed") {
		t.Error("expired message still rendered")
	}
}
