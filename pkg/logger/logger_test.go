package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"production", *ProductionConfig(), false},
		{"bad level", Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", Config{Level: InfoLevel, Format: JSONFormat, Output: FileOutput}, true},
		{"negative rotation", Config{Level: InfoLevel, Format: JSONFormat, Output: FileOutput, File: "x.log", MaxAge: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProfileConfig(t *testing.T) {
	tests := []struct {
		profile Profile
		level   Level
		output  Output
		wantErr bool
	}{
		{"", InfoLevel, StderrOutput, false},
		{DefaultProfile, InfoLevel, StderrOutput, false},
		{DebugProfile, DebugLevel, StderrOutput, false},
		{ProductionProfile, InfoLevel, FileOutput, false},
		{"chatty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.profile), func(t *testing.T) {
			config, err := ProfileConfig(tt.profile)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ProfileConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if config.Level != tt.level || config.Output != tt.output {
				t.Errorf("unexpected preset %+v", config)
			}
			if err := config.Validate(); err != nil {
				t.Errorf("preset should be valid: %v", err)
			}
		})
	}
}

func TestGlobalHelpersUseGlobalLogger(t *testing.T) {
	previous := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(previous) })

	var buf bytes.Buffer
	SetGlobalLogger(NewWithWriter(&buf, InfoLevel, JSONFormat))

	WithComponent("cli").Info("first")
	WithField("rows", 2).Info("second")

	out := buf.String()
	if !strings.Contains(out, `"component":"cli"`) || !strings.Contains(out, `"rows":2`) {
		t.Errorf("expected both fields in output, got %s", out)
	}
}

func TestWithFieldsKeepsFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, DebugLevel, JSONFormat)

	log.WithComponent("normalizer").WithFields(Fields{"dropped": 3}).Info("done")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["component"] != "normalizer" {
		t.Errorf("expected component field, got %v", entry["component"])
	}
	if entry["dropped"] != float64(3) {
		t.Errorf("expected dropped field, got %v", entry["dropped"])
	}
	if entry["msg"] != "done" {
		t.Errorf("expected msg 'done', got %v", entry["msg"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, WarnLevel, TextFormat)

	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn message should be written")
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "etl.log")
	log, err := NewLogger(&Config{Level: InfoLevel, Format: JSONFormat, Output: FileOutput, File: path, MaxSize: 1})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	log.Info("written")
}

func TestProgressTracker(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, InfoLevel, TextFormat)

	tracker := NewProgressTracker(ProgressConfig{
		Operation:   "transactions",
		Total:       10,
		LogInterval: time.Hour,
		Logger:      log,
	})
	tracker.BatchCommitted(4)
	tracker.BatchCommitted(4)
	tracker.BatchCommitted(2)
	tracker.Complete()

	stats := tracker.GetStats()
	if stats.Current != 10 || stats.Batches != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Percentage != 100 {
		t.Errorf("expected 100%%, got %.1f", stats.Percentage)
	}
	if !strings.Contains(buf.String(), "Operation completed") {
		t.Error("expected completion log line")
	}
}

func TestTimedStage(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, InfoLevel, TextFormat)

	want := errors.New("boom")
	if got := TimedStage("warehouse", log, func() error { return want }); got != want {
		t.Errorf("TimedStage returned %v, want %v", got, want)
	}
	if !strings.Contains(buf.String(), "Stage failed") {
		t.Error("expected failure log line")
	}
}
