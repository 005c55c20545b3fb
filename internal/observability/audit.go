package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventRackImport      AuditEventType = "rack.import"
	AuditEventAnalyzeStart    AuditEventType = "analyze.start"
	AuditEventAnalyzeComplete AuditEventType = "analyze.complete"
	AuditEventAnalyzeError    AuditEventType = "analyze.error"
	AuditEventValidate        AuditEventType = "compliance.validate"
	AuditEventCacheInvalidate AuditEventType = "cache.invalidate"
	AuditEventPlatformReport  AuditEventType = "report.generate"
	AuditEventWorkflowStart   AuditEventType = "workflow.start"
	AuditEventWorkflowEnd     AuditEventType = "workflow.end"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventType   AuditEventType         `json:"event_type"`
	SessionID   string                 `json:"session_id"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	RackID      string                 `json:"rack_id,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	Success     bool                   `json:"success"`
	Duration    time.Duration          `json:"duration_ms,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	ErrorCode   string                 `json:"error_code,omitempty"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
}

// AuditLogger handles audit event logging.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	userID    string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
	UserID     string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: sessionID,
		userID:    config.UserID,
		enabled:   config.Enabled,
	}, nil
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Fill in defaults
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}
	if event.UserID == "" {
		event.UserID = l.userID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogRackImport logs a rack registration.
func (l *AuditLogger) LogRackImport(ctx context.Context, rackID, path string) {
	l.Log(&AuditEvent{
		EventType: AuditEventRackImport,
		RackID:    rackID,
		Success:   true,
		Message:   fmt.Sprintf("Imported rack %s", path),
		Details: map[string]interface{}{
			"path": path,
		},
	})
}

// LogAnalyzeStart logs the start of a discovery run.
func (l *AuditLogger) LogAnalyzeStart(ctx context.Context, rackID string, force bool) {
	l.Log(&AuditEvent{
		EventType: AuditEventAnalyzeStart,
		RackID:    rackID,
		Success:   true,
		Message:   fmt.Sprintf("Analysis of rack %s started", rackID),
		Details: map[string]interface{}{
			"force": force,
		},
	})
}

// LogAnalyzeComplete logs a finished discovery run.
func (l *AuditLogger) LogAnalyzeComplete(ctx context.Context, rackID string, duration time.Duration, chains, devices int, compliant bool) {
	l.Log(&AuditEvent{
		EventType: AuditEventAnalyzeComplete,
		RackID:    rackID,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Analysis of rack %s completed", rackID),
		Details: map[string]interface{}{
			"chains":                   chains,
			"devices":                  devices,
			"constitutional_compliant": compliant,
		},
	})
}

// LogAnalyzeError logs a fatal discovery failure.
func (l *AuditLogger) LogAnalyzeError(ctx context.Context, rackID string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventAnalyzeError,
		RackID:      rackID,
		Success:     false,
		Message:     fmt.Sprintf("Analysis of rack %s failed", rackID),
		ErrorDetail: err.Error(),
	})
}

// LogValidate logs a per-rack compliance verdict.
func (l *AuditLogger) LogValidate(ctx context.Context, rackID string, compliant bool, issues []string) {
	l.Log(&AuditEvent{
		EventType: AuditEventValidate,
		RackID:    rackID,
		Success:   compliant,
		Message:   fmt.Sprintf("Rack %s compliant=%v", rackID, compliant),
		Details: map[string]interface{}{
			"issues": issues,
		},
	})
}

// LogCacheInvalidate logs a report cache invalidation.
func (l *AuditLogger) LogCacheInvalidate(ctx context.Context, rackID string, keys []string) {
	l.Log(&AuditEvent{
		EventType: AuditEventCacheInvalidate,
		RackID:    rackID,
		Success:   true,
		Message:   fmt.Sprintf("Invalidated %d cache keys", len(keys)),
		Details: map[string]interface{}{
			"keys": keys,
		},
	})
}

// LogPlatformReport logs platform report generation.
func (l *AuditLogger) LogPlatformReport(ctx context.Context, racks int, rate float64, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventPlatformReport,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Platform report: %d racks, %.1f%% compliant", racks, rate),
		Details: map[string]interface{}{
			"rack_count":      racks,
			"compliance_rate": rate,
		},
	})
}

// LogWorkflowStart logs a workflow start event.
func (l *AuditLogger) LogWorkflowStart(ctx context.Context, workflowID, rackID string) {
	l.Log(&AuditEvent{
		EventType:  AuditEventWorkflowStart,
		WorkflowID: workflowID,
		RackID:     rackID,
		Success:    true,
		Message:    fmt.Sprintf("Workflow started for rack %s", rackID),
	})
}

// LogWorkflowEnd logs a workflow completion event.
func (l *AuditLogger) LogWorkflowEnd(ctx context.Context, workflowID, rackID string, success bool, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType:  AuditEventWorkflowEnd,
		WorkflowID: workflowID,
		RackID:     rackID,
		Success:    success,
		Duration:   duration,
		Message:    fmt.Sprintf("Workflow completed for rack %s", rackID),
	})
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}

// Global audit logger instance
var globalAuditLogger *AuditLogger
var auditOnce sync.Once

// InitGlobalAuditLogger initializes the global audit logger.
func InitGlobalAuditLogger(config *AuditConfig) error {
	var err error
	auditOnce.Do(func() {
		globalAuditLogger, err = NewAuditLogger(config)
	})
	return err
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	if globalAuditLogger == nil {
		// Return a disabled logger if not initialized
		return &AuditLogger{enabled: false}
	}
	return globalAuditLogger
}
