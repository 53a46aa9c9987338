package ptysession

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// collectOutput drains the session's output channel until it closes.
func collectOutput(t *testing.T, s *Session) []byte {
	t.Helper()
	var buf bytes.Buffer
	timeout := time.After(10 * time.Second)
	for {
		select {
		case chunk, ok := <-s.Output():
			if !ok {
				return buf.Bytes()
			}
			buf.Write(chunk)
		case <-timeout:
			t.Fatalf("timed out draining output; got %q so far", buf.String())
		}
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for child exit")
	}
}

func TestStart_ForwardsChildOutput(t *testing.T) {
	s, err := Start(Options{Command: []string{"/bin/sh", "-c", "printf 'forwarded'"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	out := collectOutput(t, s)
	if !strings.Contains(string(out), "forwarded") {
		t.Errorf("output = %q, want it to contain %q", out, "forwarded")
	}
	waitDone(t, s)
	if code := s.ExitStatus(); code != 0 {
		t.Errorf("exit status = %d, want 0", code)
	}
}

func TestStart_ExitStatusMirrorsChild(t *testing.T) {
	s, err := Start(Options{Command: []string{"/bin/sh", "-c", "exit 3"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	collectOutput(t, s)
	waitDone(t, s)
	if code := s.ExitStatus(); code != 3 {
		t.Errorf("exit status = %d, want 3", code)
	}
}

func TestStart_UnknownCommandIsSpawnError(t *testing.T) {
	_, err := Start(Options{Command: []string{"/nonexistent/definitely-not-here"}})
	if err == nil {
		t.Fatal("Start succeeded for a nonexistent command")
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("err = %T %v, want *SpawnError", err, err)
	}
	if spawnErr.Stage != "spawn" {
		t.Errorf("stage = %q, want spawn", spawnErr.Stage)
	}
}

func TestStart_EmptyCommandRejected(t *testing.T) {
	if _, err := Start(Options{}); err == nil {
		t.Fatal("Start accepted an empty command")
	}
}

func TestSession_AnswersDeviceQueriesInStream(t *testing.T) {
	s, err := Start(Options{Command: []string{"/bin/sh", "-c", `printf 'A\033[5nB'`}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	out := collectOutput(t, s)
	if bytes.Contains(out, []byte("\x1b[5n")) {
		t.Errorf("query leaked into output: %q", out)
	}
	if !strings.Contains(string(out), "AB") {
		t.Errorf("output = %q, want payload around the removed query", out)
	}
}

func TestSession_WriteLineRoundTrip(t *testing.T) {
	s, err := Start(Options{Command: []string{"/bin/cat"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.WriteLine("ping"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}

	deadline := time.After(10 * time.Second)
	var buf bytes.Buffer
	for !strings.Contains(buf.String(), "ping") {
		select {
		case chunk, ok := <-s.Output():
			if !ok {
				t.Fatalf("output closed before echo; got %q", buf.String())
			}
			buf.Write(chunk)
		case <-deadline:
			t.Fatalf("timed out waiting for echo; got %q", buf.String())
		}
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	waitDone(t, s)
}

func TestSession_ConcurrentWritesStayWhole(t *testing.T) {
	s, err := Start(Options{Command: []string{"/bin/cat"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	lineA := strings.Repeat("a", 512)
	lineB := strings.Repeat("b", 512)
	var wg sync.WaitGroup
	for _, line := range []string{lineA, lineB} {
		wg.Add(1)
		go func(l string) {
			defer wg.Done()
			if err := s.WriteLine(l); err != nil {
				t.Errorf("WriteLine: %v", err)
			}
		}(line)
	}
	wg.Wait()

	// cat echoes each submitted line back intact; an interleaved write
	// would mix a and b runs inside one line.
	deadline := time.After(10 * time.Second)
	var buf bytes.Buffer
	for !strings.Contains(buf.String(), lineA) || !strings.Contains(buf.String(), lineB) {
		select {
		case chunk, ok := <-s.Output():
			if !ok {
				t.Fatalf("output closed before both lines arrived; got %d bytes", buf.Len())
			}
			buf.Write(chunk)
		case <-deadline:
			t.Fatalf("timed out waiting for whole lines; got %d bytes", buf.Len())
		}
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s, err := Start(Options{Command: []string{"/bin/sh", "-c", "exit 0"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)
	if err := s.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSession_ResizeUpdatesSize(t *testing.T) {
	s, err := Start(Options{Command: []string{"/bin/cat"}, Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	if err := s.Resize(50, 132); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	rows, cols := s.Size()
	if rows != 50 || cols != 132 {
		t.Errorf("Size = %dx%d, want 50x132", rows, cols)
	}
	if err := s.Resize(0, 80); err == nil {
		t.Error("Resize accepted a zero row count")
	}
}
