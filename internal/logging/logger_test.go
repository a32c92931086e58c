package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestNewWritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "autochatd.log")

	logger, err := New(logPath, "work")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hello")
	if err := logger.Sync(); err != nil {
		// Sync on stderr can fail in test environments; the file write is
		// what matters here.
		t.Logf("sync: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["profile"] != "work" {
		t.Errorf("profile field = %v, want work", entry["profile"])
	}
	if _, ok := entry["pid"]; !ok {
		t.Error("pid field missing")
	}
}
