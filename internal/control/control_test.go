package control

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEncoder_OneEventPerLine(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Send(Event{Event: EventJobStarted, Trigger: "manual"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := enc.Send(Event{Event: EventJobEnded, Outcome: "transcript"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("first line not json: %v", err)
	}
	if first["event"] != "job_started" || first["trigger"] != "manual" {
		t.Errorf("first line = %v", first)
	}
	if strings.Contains(lines[0], "outcome") {
		t.Errorf("unset fields leaked onto the wire: %s", lines[0])
	}
}

func TestParseCommand_KnownCommands(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"cmd":"set_send_mode","send_mode":"insert"}`))
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.Cmd != CmdSetSendMode || cmd.SendMode != "insert" {
		t.Errorf("cmd = %+v", cmd)
	}

	cmd, err = ParseCommand([]byte(`{"cmd":"send_text","text":"hello","submit":true}`))
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.Text != "hello" || !cmd.Submit {
		t.Errorf("cmd = %+v", cmd)
	}
}

func TestParseCommand_UnknownCommand(t *testing.T) {
	if _, err := ParseCommand([]byte(`{"cmd":"reboot"}`)); err == nil {
		t.Fatal("unknown command accepted")
	}
	if _, err := ParseCommand([]byte(`not json`)); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestReader_StreamsCommandsAndReportsBadLines(t *testing.T) {
	input := strings.Join([]string{
		`{"cmd":"start_voice"}`,
		``,
		`{"cmd":"nope"}`,
		`{"cmd":"quit"}`,
	}, "\n")

	var parseErrs int
	r := NewReader(strings.NewReader(input), func(error) { parseErrs++ })

	var got []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case cmd, ok := <-r.Commands():
			if !ok {
				if len(got) != 2 || got[0] != CmdStartVoice || got[1] != CmdQuit {
					t.Errorf("commands = %v", got)
				}
				if parseErrs != 1 {
					t.Errorf("parse errors = %d, want 1", parseErrs)
				}
				return
			}
			got = append(got, cmd.Cmd)
		case <-timeout:
			t.Fatal("reader never closed its channel")
		}
	}
}

func TestNewSessionID_Unique(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	if a == "" || a == b {
		t.Errorf("session ids not unique: %q %q", a, b)
	}
}
