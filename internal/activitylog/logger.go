// Package activitylog writes structured JSONL entries about a voice
// session: state changes, transcripts, queue drops, job errors, and an
// exit summary. Opt-in; the zero-value logger is a no-op.
package activitylog

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Logger appends JSONL entries to a log file. All methods are safe for
// concurrent use. When disabled (w is nil), all methods are no-ops.
type Logger struct {
	mu        sync.Mutex
	w         *os.File
	sessionID string

	// logTranscripts gates recording transcript text. Off by default;
	// spoken content stays out of the log unless asked for.
	logTranscripts bool
}

// New creates a Logger that appends to logPath. An empty path or an open
// failure yields a no-op logger, never an error: logging must not stop a
// session from starting.
func New(logPath, sessionID string, logTranscripts bool) *Logger {
	if logPath == "" {
		return &Logger{}
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &Logger{}
	}
	return &Logger{w: f, sessionID: sessionID, logTranscripts: logTranscripts}
}

// Nop returns a disabled logger.
func Nop() *Logger {
	return &Logger{}
}

// Enabled reports whether entries are actually being written.
func (l *Logger) Enabled() bool { return l.w != nil }

// entry is the common envelope for all log lines.
type entry struct {
	Timestamp string `json:"ts"`
	SessionID string `json:"session_id"`
	Event     string `json:"event"`
}

// SessionStart logs the wrapped command and initial settings.
func (l *Logger) SessionStart(command []string, sendMode string, autoVoice bool) {
	l.log(struct {
		entry
		Command   []string `json:"command"`
		SendMode  string   `json:"send_mode"`
		AutoVoice bool     `json:"auto_voice"`
	}{
		entry:     l.entry("session_start"),
		Command:   command,
		SendMode:  sendMode,
		AutoVoice: autoVoice,
	})
}

// StateChange logs an engine state transition.
func (l *Logger) StateChange(from, to string) {
	l.log(struct {
		entry
		From string `json:"from"`
		To   string `json:"to"`
	}{
		entry: l.entry("state_change"),
		From:  from,
		To:    to,
	})
}

// Transcript logs a completed capture. Text is recorded only when the
// logger was opened with logTranscripts.
func (l *Logger) Transcript(trigger string, chars int, latency time.Duration, text string) {
	if !l.logTranscripts {
		text = ""
	}
	l.log(struct {
		entry
		Trigger   string `json:"trigger"`
		Chars     int    `json:"chars"`
		LatencyMs int64  `json:"latency_ms"`
		Text      string `json:"text,omitempty"`
	}{
		entry:     l.entry("transcript"),
		Trigger:   trigger,
		Chars:     chars,
		LatencyMs: latency.Milliseconds(),
		Text:      text,
	})
}

// QueueDrop logs an overflow eviction.
func (l *Logger) QueueDrop(totalDropped int) {
	l.log(struct {
		entry
		TotalDropped int `json:"total_dropped"`
	}{
		entry:        l.entry("queue_drop"),
		TotalDropped: totalDropped,
	})
}

// JobError logs a failed voice job.
func (l *Logger) JobError(trigger, message string) {
	l.log(struct {
		entry
		Trigger string `json:"trigger"`
		Message string `json:"message"`
	}{
		entry:   l.entry("job_error"),
		Trigger: trigger,
		Message: message,
	})
}

// SessionSummary logs cumulative counts at exit.
func (l *Logger) SessionSummary(transcripts, cancelled, errors, dropped, exitCode int) {
	l.log(struct {
		entry
		Transcripts int `json:"transcripts"`
		Cancelled   int `json:"cancelled"`
		Errors      int `json:"errors"`
		Dropped     int `json:"dropped"`
		ExitCode    int `json:"exit_code"`
	}{
		entry:       l.entry("session_summary"),
		Transcripts: transcripts,
		Cancelled:   cancelled,
		Errors:      errors,
		Dropped:     dropped,
		ExitCode:    exitCode,
	})
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	if l.w == nil {
		return nil
	}
	return l.w.Close()
}

func (l *Logger) entry(event string) entry {
	return entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: l.sessionID,
		Event:     event,
	}
}

func (l *Logger) log(v any) {
	if l.w == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	data = append(data, '\n')
	l.mu.Lock()
	l.w.Write(data)
	l.mu.Unlock()
}
