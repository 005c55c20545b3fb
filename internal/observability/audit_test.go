package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

// ==================== AuditConfig Tests ====================

func TestDefaultAuditConfig(t *testing.T) {
	cfg := DefaultAuditConfig()
	if !cfg.Enabled {
		t.Fatal("expected enabled by default")
	}
	if cfg.OutputPath != "stdout" {
		t.Fatalf("expected stdout, got %s", cfg.OutputPath)
	}
}

// ==================== AuditLogger Tests ====================

func TestAuditLogger_New_File(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")

	l, err := NewAuditLogger(&AuditConfig{
		Enabled:    true,
		OutputPath: logPath,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Fatal("expected log file to be created")
	}
}

func TestAuditLogger_New_NilConfig(t *testing.T) {
	l, err := NewAuditLogger(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l == nil {
		t.Fatal("expected non-nil logger with default config")
	}
}

func TestAuditLogger_Log_Disabled(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{
		writer:  &buf,
		enabled: false,
	}

	if err := l.Log(&AuditEvent{EventType: AuditEventAnalyzeStart}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() > 0 {
		t.Fatal("expected no output when disabled")
	}
}

func newBufferLogger(buf *bytes.Buffer) *AuditLogger {
	return &AuditLogger{
		writer:    buf,
		sessionID: "test-session",
		userID:    "test-user",
		enabled:   true,
	}
}

func decodeEvent(t *testing.T, buf *bytes.Buffer) AuditEvent {
	t.Helper()
	var event AuditEvent
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	return event
}

func TestAuditLogger_Log_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	err := l.Log(&AuditEvent{
		EventType: AuditEventAnalyzeStart,
		RackID:    "rack-1",
		Success:   true,
		Message:   "test message",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := decodeEvent(t, &buf)
	if event.EventType != AuditEventAnalyzeStart {
		t.Fatalf("expected analyze.start, got %s", event.EventType)
	}
	if event.RackID != "rack-1" {
		t.Fatalf("expected rack-1, got %s", event.RackID)
	}
	if event.SessionID != "test-session" || event.UserID != "test-user" {
		t.Fatalf("defaults not filled: %+v", event)
	}
}

func TestAuditLogger_Log_FillsTimestamp(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{writer: &buf, enabled: true}

	before := time.Now().UTC()
	l.Log(&AuditEvent{EventType: AuditEventAnalyzeStart})
	after := time.Now().UTC()

	event := decodeEvent(t, &buf)
	if event.Timestamp.Before(before) || event.Timestamp.After(after) {
		t.Fatal("timestamp should be set automatically")
	}
}

func TestAuditLogger_SessionID_Generated(t *testing.T) {
	l, _ := NewAuditLogger(&AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	})

	if _, err := uuid.Parse(l.sessionID); err != nil {
		t.Fatalf("expected uuid session id, got %q", l.sessionID)
	}
}

// ==================== Convenience Methods Tests ====================

func TestAuditLogger_ConvenienceMethods(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		log     func(l *AuditLogger)
		want    AuditEventType
		success bool
	}{
		{"import", func(l *AuditLogger) { l.LogRackImport(ctx, "r1", "/racks/bass.adg") }, AuditEventRackImport, true},
		{"analyze_start", func(l *AuditLogger) { l.LogAnalyzeStart(ctx, "r1", true) }, AuditEventAnalyzeStart, true},
		{"analyze_complete", func(l *AuditLogger) { l.LogAnalyzeComplete(ctx, "r1", time.Second, 3, 9, true) }, AuditEventAnalyzeComplete, true},
		{"analyze_error", func(l *AuditLogger) { l.LogAnalyzeError(ctx, "r1", errors.New("bad gzip")) }, AuditEventAnalyzeError, false},
		{"validate_fail", func(l *AuditLogger) { l.LogValidate(ctx, "r1", false, []string{"gap"}) }, AuditEventValidate, false},
		{"invalidate", func(l *AuditLogger) { l.LogCacheInvalidate(ctx, "r1", []string{"a", "b"}) }, AuditEventCacheInvalidate, true},
		{"report", func(l *AuditLogger) { l.LogPlatformReport(ctx, 10, 90, time.Millisecond) }, AuditEventPlatformReport, true},
		{"workflow_start", func(l *AuditLogger) { l.LogWorkflowStart(ctx, "wf-1", "r1") }, AuditEventWorkflowStart, true},
		{"workflow_end", func(l *AuditLogger) { l.LogWorkflowEnd(ctx, "wf-1", "r1", false, time.Minute) }, AuditEventWorkflowEnd, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(newBufferLogger(&buf))

			event := decodeEvent(t, &buf)
			if event.EventType != tt.want {
				t.Fatalf("event type = %s, want %s", event.EventType, tt.want)
			}
			if event.Success != tt.success {
				t.Fatalf("success = %v, want %v", event.Success, tt.success)
			}
		})
	}
}

func TestAuditLogger_LogAnalyzeError_Detail(t *testing.T) {
	var buf bytes.Buffer
	newBufferLogger(&buf).LogAnalyzeError(context.Background(), "r1", errors.New("bad gzip"))

	event := decodeEvent(t, &buf)
	if event.ErrorDetail != "bad gzip" {
		t.Fatalf("error detail = %q", event.ErrorDetail)
	}
}

func TestAuditLogger_Close_File(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")

	l, _ := NewAuditLogger(&AuditConfig{
		Enabled:    true,
		OutputPath: logPath,
	})

	l.Log(&AuditEvent{EventType: AuditEventAnalyzeStart})
	if err := l.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected log content")
	}
}

func TestAuditLogger_Close_Stdout(t *testing.T) {
	l, _ := NewAuditLogger(&AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	})

	// Should not error when closing stdout
	if err := l.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ==================== Global Logger Tests ====================

func TestAudit_DisabledByDefault(t *testing.T) {
	// Reset global state
	globalAuditLogger = nil

	l := Audit()
	if l.enabled {
		t.Fatal("expected disabled logger when not initialized")
	}
}
