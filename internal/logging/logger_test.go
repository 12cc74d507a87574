// Package logging tests for structured logging.
package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

// TestInfoEmitsJSON verifies log entries are structured JSON with
// merged context fields.
func TestInfoEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	Get().SetOutput(&buf)

	Info("sync completed",
		map[string]interface{}{"collection": "tasks"},
		map[string]interface{}{"user_id": "u1"})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}

	if entry["msg"] != "sync completed" {
		t.Errorf("msg = %v, want %q", entry["msg"], "sync completed")
	}
	if entry["collection"] != "tasks" {
		t.Errorf("collection = %v, want tasks", entry["collection"])
	}
	if entry["user_id"] != "u1" {
		t.Errorf("user_id = %v, want u1", entry["user_id"])
	}
}

// TestErrorIncludesCause verifies the error field is attached.
func TestErrorIncludesCause(t *testing.T) {
	var buf bytes.Buffer
	Get().SetOutput(&buf)

	Error("save failed", errTest{})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }
