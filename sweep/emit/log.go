package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"
)

// maxErrorMessage bounds error log messages; anything longer is truncated.
const maxErrorMessage = 300

// Logger writes structured JSON log lines, one object per line, with the
// worker log schema:
//
//	{"ts":"...","level":"info","component":"optimize-worker","message":"job started",
//	 "jobId":"...","ownerId":"...","phase":"start","retry":0}
//
// Optional fields are omitted when unset. phase is one of enqueue, start,
// end, error, stop. A nil *Logger is safe to call and logs nothing.
type Logger struct {
	mu        sync.Mutex
	w         io.Writer
	component string
	enabled   bool
}

// NewLogger creates a logger writing to w tagged with the given component.
func NewLogger(w io.Writer, component string) *Logger {
	if w == nil {
		w = os.Stdout
	}
	if component == "" {
		component = "optimize-worker"
	}
	return &Logger{w: w, component: component, enabled: true}
}

// NewLoggerFromEnv creates a stdout logger honoring OBS_ENABLED ("false"
// disables) and WORKER_COMPONENT.
func NewLoggerFromEnv() *Logger {
	l := NewLogger(os.Stdout, os.Getenv("WORKER_COMPONENT"))
	if strings.EqualFold(os.Getenv("OBS_ENABLED"), "false") {
		l.enabled = false
	}
	return l
}

// SetEnabled toggles emission at runtime.
func (l *Logger) SetEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// logFields carries the optional schema fields of one line.
type logFields struct {
	jobID      string
	ownerID    string
	phase      string
	durationMS *float64
	retry      *int
	code       string
	extra      map[string]any
}

func (l *Logger) log(level, message string, f logFields) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return
	}
	payload := map[string]any{
		"ts":        time.Now().UTC().Format("2006-01-02T15:04:05"),
		"level":     strings.ToLower(level),
		"component": l.component,
		"message":   message,
	}
	if f.jobID != "" {
		payload["jobId"] = f.jobID
	}
	if f.ownerID != "" {
		payload["ownerId"] = f.ownerID
	}
	if f.phase != "" {
		payload["phase"] = f.phase
	}
	if f.durationMS != nil {
		payload["duration_ms"] = math.Round(*f.durationMS*100) / 100
	}
	if f.retry != nil {
		payload["retry"] = *f.retry
	}
	if f.code != "" {
		payload["code"] = f.code
	}
	if f.extra != nil {
		payload["extra"] = f.extra
	}
	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(l.w, "{\"error\":\"failed to marshal log line: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.w, "%s\n", data)
}

// Enqueue logs the enqueue phase of a job.
func (l *Logger) Enqueue(jobID, ownerID string) {
	l.log("info", "job enqueued", logFields{jobID: jobID, ownerID: ownerID, phase: "enqueue"})
}

// Start logs the start phase and returns a Timer for the matching End.
func (l *Logger) Start(jobID, ownerID string, retry int) *Timer {
	l.log("info", "job started", logFields{jobID: jobID, ownerID: ownerID, phase: "start", retry: &retry})
	return NewTimer()
}

// End logs the end phase with the elapsed duration.
func (l *Logger) End(jobID, ownerID string, timer *Timer) {
	ms := timer.Ms()
	l.log("info", "job finished", logFields{jobID: jobID, ownerID: ownerID, phase: "end", durationMS: &ms})
}

// Error logs a task failure. code is the task error classification
// (PARAM_ERROR, UPSTREAM_ERROR, INTERNAL_ERROR); the message is truncated.
func (l *Logger) Error(jobID, ownerID, code, message string, retry int) {
	msg := strings.TrimSpace(message)
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	l.log("error", msg, logFields{jobID: jobID, ownerID: ownerID, phase: "error", retry: &retry, code: code})
}

// Stop logs a terminal job transition with the stop reason attached.
func (l *Logger) Stop(jobID, ownerID, status string, reason map[string]any) {
	extra := map[string]any{"status": status}
	if reason != nil {
		extra["reason"] = reason
	}
	l.log("info", "job stopped", logFields{jobID: jobID, ownerID: ownerID, phase: "stop", extra: extra})
}

// Info logs a free-form info line with extra payload.
func (l *Logger) Info(message string, extra map[string]any) {
	l.log("info", message, logFields{extra: extra})
}

// Timer measures elapsed wall time in milliseconds.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Ms returns the elapsed milliseconds.
func (t *Timer) Ms() float64 {
	return float64(time.Since(t.start)) / float64(time.Millisecond)
}

// Mask obscures likely PII for logging. Emails keep the first two characters
// of the local part; digit strings of length 7 or more keep the first three
// and last four digits.
func Mask(value string) string {
	if value == "" {
		return value
	}
	if at := strings.IndexByte(value, '@'); at > 0 && len(value) > 3 {
		name := value[:at]
		domain := value[at+1:]
		if len(name) > 2 {
			name = name[:2]
		}
		return name + "***@" + domain
	}
	if len(value) >= 7 && isDigits(value) {
		return value[:3] + "****" + value[len(value)-4:]
	}
	if len(value) > 3 {
		return value[:3] + "***"
	}
	return "***"
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
