// Package calclog writes the operator-facing workflow event log.
//
// Each event is one human-readable line appended to <root>/logs/calcflow.log:
//
//	2026-03-01 15:30:45 [generated] mgo/SP from OPT (a1b2c3)
package calclog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EventType represents the type of workflow event.
type EventType string

const (
	// EventStarted indicates a workflow was started for a material.
	EventStarted EventType = "started"
	// EventGenerated indicates a new calculation input was created.
	EventGenerated EventType = "generated"
	// EventSubmitted indicates the scheduler accepted a job.
	EventSubmitted EventType = "submitted"
	// EventSubmitFailed indicates the scheduler rejected or timed out.
	EventSubmitFailed EventType = "submit_failed"
	// EventRetried indicates a failed calculation was resubmitted.
	EventRetried EventType = "retried"
	// EventRetryExhausted indicates no retries remain.
	EventRetryExhausted EventType = "retry_exhausted"
	// EventDeferred indicates a candidate waits on an unfinished dependency.
	EventDeferred EventType = "deferred"
	// EventBlocked indicates a required dependency failed.
	EventBlocked EventType = "blocked"
	// EventGenerationFailed indicates the generator produced no input.
	EventGenerationFailed EventType = "generation_failed"
	// EventProcessed indicates a finished calculation was handled.
	EventProcessed EventType = "processed"
	// EventStatus indicates an operator changed a calculation status.
	EventStatus EventType = "status"
)

const timeLayout = "2006-01-02 15:04:05"

// Event represents a single workflow event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Material  string    `json:"material"`
	CalcType  string    `json:"calc_type,omitempty"`
	Context   string    `json:"context,omitempty"`

	// Text is the rendered detail of an event read back from the log.
	Text string `json:"-"`
}

// Subject renders material/calc_type, or just the material.
func (e Event) Subject() string {
	if e.CalcType == "" {
		return e.Material
	}
	return e.Material + "/" + e.CalcType
}

// Logger appends events to the project log file.
type Logger struct {
	logPath string
	mu      sync.Mutex
}

// LogPath returns the log file for a project root.
func LogPath(root string) string {
	return filepath.Join(root, "logs", "calcflow.log")
}

// NewLogger creates a Logger for the given project root.
func NewLogger(root string) *Logger {
	return &Logger{logPath: LogPath(root)}
}

// Path returns the log file path.
func (l *Logger) Path() string {
	return l.logPath
}

// LogEvent appends one event.
func (l *Logger) LogEvent(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.logPath), 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	// O_APPEND keeps lines from concurrent processes intact.
	f, err := os.OpenFile(l.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLogLine(event) + "\n"); err != nil {
		return fmt.Errorf("writing log line: %w", err)
	}
	return nil
}

// Log is a convenience method that creates an Event and logs it.
func (l *Logger) Log(eventType EventType, material, calcType, context string) error {
	return l.LogEvent(Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Material:  material,
		CalcType:  calcType,
		Context:   context,
	})
}

// formatLogLine formats an event as a human-readable log line.
func formatLogLine(e Event) string {
	return fmt.Sprintf("%s [%s] %s %s", e.Timestamp.Format(timeLayout), e.Type, e.Subject(), e.Detail())
}

// Detail is the human-readable description of the event.
func (e Event) Detail() string {
	if e.Text != "" {
		return e.Text
	}
	var detail string
	switch e.Type {
	case EventStarted:
		detail = withContext("workflow started", e.Context)
	case EventGenerated:
		detail = withContext("input generated", e.Context)
	case EventSubmitted:
		if e.Context != "" {
			detail = "submitted as job " + e.Context
		} else {
			detail = "submitted"
		}
	case EventSubmitFailed:
		detail = withContext("submission failed", truncate(e.Context, 120))
	case EventRetried:
		detail = withContext("resubmitted", e.Context)
	case EventRetryExhausted:
		detail = withContext("retries exhausted", e.Context)
	case EventDeferred:
		detail = withContext("deferred", e.Context)
	case EventBlocked:
		detail = withContext("BLOCKED", e.Context)
	case EventGenerationFailed:
		detail = withContext("generation failed", truncate(e.Context, 120))
	case EventProcessed:
		detail = withContext("processed", e.Context)
	case EventStatus:
		detail = withContext("status set", e.Context)
	default:
		detail = withContext(string(e.Type), e.Context)
	}
	return detail
}

func withContext(detail, context string) string {
	if context == "" {
		return detail
	}
	return detail + " (" + context + ")"
}

// truncate shortens a string to max length with ellipsis.
func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// ReadEvents reads all events from the project log.
func ReadEvents(root string) ([]Event, error) {
	content, err := os.ReadFile(LogPath(root)) //nolint:gosec // G304: path is built from the project root
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading log file: %w", err)
	}
	return ParseLogLines(string(content)), nil
}

// ParseLogLines parses log lines back into Events, skipping malformed lines.
// Context is not recovered; the rendered detail is kept in Text.
func ParseLogLines(content string) []Event {
	var events []Event
	for _, line := range strings.Split(content, "\n") {
		if line == "" {
			continue
		}
		if e, err := parseLogLine(line); err == nil {
			events = append(events, e)
		}
	}
	return events
}

func parseLogLine(line string) (Event, error) {
	var event Event
	if len(line) < len(timeLayout)+1 {
		return event, fmt.Errorf("line too short")
	}
	ts, err := time.ParseInLocation(timeLayout, line[:len(timeLayout)], time.Local)
	if err != nil {
		return event, fmt.Errorf("parsing timestamp: %w", err)
	}
	event.Timestamp = ts

	rest := line[len(timeLayout)+1:]
	if !strings.HasPrefix(rest, "[") {
		return event, fmt.Errorf("missing event type")
	}
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return event, fmt.Errorf("unclosed bracket")
	}
	event.Type = EventType(rest[1:end])

	rest = strings.TrimPrefix(rest[end+1:], " ")
	if rest == "" {
		return event, fmt.Errorf("missing subject")
	}
	subject, text, _ := strings.Cut(rest, " ")
	event.Material, event.CalcType, _ = strings.Cut(subject, "/")
	event.Text = text
	return event, nil
}

// TailEvents returns the last n events from the log.
func TailEvents(root string, n int) ([]Event, error) {
	events, err := ReadEvents(root)
	if err != nil {
		return nil, err
	}
	if len(events) <= n {
		return events, nil
	}
	return events[len(events)-n:], nil
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	Type     EventType
	Material string
	Since    time.Time
}

// FilterEvents applies a filter to events.
func FilterEvents(events []Event, f Filter) []Event {
	var result []Event
	for _, e := range events {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Material != "" && e.Material != f.Material {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		result = append(result, e)
	}
	return result
}
