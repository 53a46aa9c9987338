package voice

import (
	"testing"
	"time"
)

func TestNewCommandRecorder_ParsesShellQuoting(t *testing.T) {
	r, err := NewCommandRecorder(`rec -q -t raw - "trim 0 30"`)
	if err != nil {
		t.Fatalf("NewCommandRecorder: %v", err)
	}
	argv := r.Command()
	if len(argv) != 6 || argv[0] != "rec" || argv[5] != "trim 0 30" {
		t.Errorf("argv = %v", argv)
	}

	if _, err := NewCommandRecorder(""); err == nil {
		t.Error("empty command accepted")
	}
	if _, err := NewCommandTranscriber(`bad "quote`); err == nil {
		t.Error("unbalanced quote accepted")
	}
}

func TestCommandRecorder_CapturesStdout(t *testing.T) {
	r, err := NewCommandRecorder("/bin/sh -c 'printf audio-bytes'")
	if err != nil {
		t.Fatalf("NewCommandRecorder: %v", err)
	}
	audio, err := r.Record(&StopFlag{})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if string(audio) != "audio-bytes" {
		t.Errorf("audio = %q", audio)
	}
}

func TestCommandRecorder_StopEndsCapture(t *testing.T) {
	r, err := NewCommandRecorder("/bin/sleep 30")
	if err != nil {
		t.Fatalf("NewCommandRecorder: %v", err)
	}
	stop := &StopFlag{}
	go func() {
		time.Sleep(100 * time.Millisecond)
		stop.Set()
	}()

	start := time.Now()
	audio, err := r.Record(stop)
	if err != nil {
		t.Fatalf("Record after stop: %v", err)
	}
	if audio != nil {
		t.Errorf("stopped capture returned audio %q", audio)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("stop took %s, command not terminated", elapsed)
	}
}

func TestCommandRecorder_FailureSurfaces(t *testing.T) {
	r, err := NewCommandRecorder("/bin/sh -c 'exit 9'")
	if err != nil {
		t.Fatalf("NewCommandRecorder: %v", err)
	}
	if _, err := r.Record(&StopFlag{}); err == nil {
		t.Error("failing capture command reported no error")
	}
}

func TestCommandTranscriber_PipesAudioThrough(t *testing.T) {
	tr, err := NewCommandTranscriber("/bin/cat")
	if err != nil {
		t.Fatalf("NewCommandTranscriber: %v", err)
	}
	text, err := tr.Transcribe([]byte("  spoken words \n"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "spoken words" {
		t.Errorf("text = %q", text)
	}
}

func TestCommandPipelineEndToEnd(t *testing.T) {
	rec, err := NewCommandRecorder("/bin/sh -c 'printf \"hello from mic\"'")
	if err != nil {
		t.Fatalf("NewCommandRecorder: %v", err)
	}
	tr, err := NewCommandTranscriber("/bin/cat")
	if err != nil {
		t.Fatalf("NewCommandTranscriber: %v", err)
	}
	c := NewCoordinator(rec, tr)
	if err := c.Start(TriggerManual); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r := waitResult(t, c)
	if r.Outcome != OutcomeTranscript || r.Text != "hello from mic" {
		t.Errorf("result = %v %q", r.Outcome, r.Text)
	}
}
