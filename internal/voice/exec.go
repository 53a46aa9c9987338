package voice

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/shlex"
)

// stopPollInterval is how often a running capture command is checked
// against the stop flag.
const stopPollInterval = 50 * time.Millisecond

// CommandRecorder captures one utterance by running an external command
// (sox, ffmpeg, a VAD script) that writes raw audio to stdout and exits at
// end of speech.
type CommandRecorder struct {
	argv []string
}

// CommandTranscriber converts audio to text by piping it through an
// external speech-to-text command (whisper-cli and friends).
type CommandTranscriber struct {
	argv []string
}

// NewCommandRecorder parses a shell-style command line.
func NewCommandRecorder(cmdline string) (*CommandRecorder, error) {
	argv, err := parseCmdline(cmdline)
	if err != nil {
		return nil, fmt.Errorf("record command: %w", err)
	}
	return &CommandRecorder{argv: argv}, nil
}

// NewCommandTranscriber parses a shell-style command line.
func NewCommandTranscriber(cmdline string) (*CommandTranscriber, error) {
	argv, err := parseCmdline(cmdline)
	if err != nil {
		return nil, fmt.Errorf("transcribe command: %w", err)
	}
	return &CommandTranscriber{argv: argv}, nil
}

func parseCmdline(cmdline string) ([]string, error) {
	argv, err := shlex.Split(cmdline)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return argv, nil
}

// Record runs the capture command until it exits or the stop flag is set.
// A stopped capture returns no audio and no error; the job reports
// Cancelled.
func (r *CommandRecorder) Record(stop *StopFlag) ([]byte, error) {
	cmd := exec.Command(r.argv[0], r.argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	for {
		select {
		case err := <-done:
			if stop.IsSet() {
				return nil, nil
			}
			if err != nil {
				return nil, fmt.Errorf("%s: %w", r.argv[0], err)
			}
			return out.Bytes(), nil
		case <-time.After(stopPollInterval):
			if stop.IsSet() {
				cmd.Process.Signal(syscall.SIGTERM)
				<-done
				return nil, nil
			}
		}
	}
}

// Transcribe pipes the audio through the STT command and returns its
// stdout.
func (t *CommandTranscriber) Transcribe(audio []byte) (string, error) {
	cmd := exec.Command(t.argv[0], t.argv[1:]...)
	cmd.Stdin = bytes.NewReader(audio)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", t.argv[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Command returns the resolved argv, for the doctor report.
func (r *CommandRecorder) Command() []string    { return r.argv }
func (t *CommandTranscriber) Command() []string { return t.argv }
