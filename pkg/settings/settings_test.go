package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFrom_NonExistentAppliesDefaults(t *testing.T) {
	s, err := LoadFrom("/nonexistent/path/settings.yaml")
	if err != nil {
		t.Fatalf("LoadFrom() non-existent should not error: %v", err)
	}
	if s.PortPattern != DefaultPortPattern {
		t.Errorf("PortPattern = %q, want %q", s.PortPattern, DefaultPortPattern)
	}
	if s.BaudRate != DefaultBaudRate {
		t.Errorf("BaudRate = %d, want %d", s.BaudRate, DefaultBaudRate)
	}
	if s.SafetySeconds != DefaultSafetySeconds {
		t.Errorf("SafetySeconds = %d, want %d", s.SafetySeconds, DefaultSafetySeconds)
	}
	if s.MinTickInterval != DefaultMinTickInterval {
		t.Errorf("MinTickInterval = %v, want %v", s.MinTickInterval, DefaultMinTickInterval)
	}
	if s.SerialTimeout != DefaultSerialTimeout {
		t.Errorf("SerialTimeout = %v, want %v", s.SerialTimeout, DefaultSerialTimeout)
	}
	if s.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", s.LogLevel)
	}
	if s.DBPath != "" {
		t.Errorf("DBPath should stay empty with no file, got %q", s.DBPath)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "settings.yaml")

	original := &Settings{
		DBPath:          "/var/lib/gardend/garden.sqlite",
		PortPattern:     `/dev/ttyUSB[0-9]+`,
		BaudRate:        57600,
		SafetySeconds:   15,
		MinTickInterval: 250 * time.Millisecond,
		SerialTimeout:   2 * time.Second,
		LogLevel:        "debug",
		LogJSON:         true,
		EventBusAddr:    "localhost:6379",
	}

	if err := original.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}

	if loaded.DBPath != original.DBPath {
		t.Errorf("DBPath mismatch: got %q, want %q", loaded.DBPath, original.DBPath)
	}
	if loaded.PortPattern != original.PortPattern {
		t.Errorf("PortPattern mismatch: got %q, want %q", loaded.PortPattern, original.PortPattern)
	}
	if loaded.BaudRate != original.BaudRate {
		t.Errorf("BaudRate mismatch: got %d, want %d", loaded.BaudRate, original.BaudRate)
	}
	if loaded.SafetySeconds != original.SafetySeconds {
		t.Errorf("SafetySeconds mismatch: got %d, want %d", loaded.SafetySeconds, original.SafetySeconds)
	}
	if loaded.MinTickInterval != original.MinTickInterval {
		t.Errorf("MinTickInterval mismatch: got %v, want %v", loaded.MinTickInterval, original.MinTickInterval)
	}
	if loaded.SerialTimeout != original.SerialTimeout {
		t.Errorf("SerialTimeout mismatch: got %v, want %v", loaded.SerialTimeout, original.SerialTimeout)
	}
	if loaded.LogLevel != original.LogLevel {
		t.Errorf("LogLevel mismatch: got %q, want %q", loaded.LogLevel, original.LogLevel)
	}
	if loaded.LogJSON != original.LogJSON {
		t.Errorf("LogJSON mismatch: got %v, want %v", loaded.LogJSON, original.LogJSON)
	}
	if loaded.EventBusAddr != original.EventBusAddr {
		t.Errorf("EventBusAddr mismatch: got %q, want %q", loaded.EventBusAddr, original.EventBusAddr)
	}
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "settings.yaml")
	if err := os.WriteFile(path, []byte("db_path: [unterminated"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom() with invalid YAML should error")
	}
}

func TestLoadFrom_PartialFileKeepsOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "settings.yaml")
	if err := os.WriteFile(path, []byte("db_path: /data/garden.sqlite\nbaud_rate: 9600\n"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	s, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if s.DBPath != "/data/garden.sqlite" {
		t.Errorf("DBPath = %q, want /data/garden.sqlite", s.DBPath)
	}
	if s.BaudRate != 9600 {
		t.Errorf("BaudRate = %d, want 9600 (from file)", s.BaudRate)
	}
	if s.PortPattern != DefaultPortPattern {
		t.Errorf("PortPattern = %q, want default %q (unset in file)", s.PortPattern, DefaultPortPattern)
	}
	if s.SafetySeconds != DefaultSafetySeconds {
		t.Errorf("SafetySeconds = %d, want default %d (unset in file)", s.SafetySeconds, DefaultSafetySeconds)
	}
}

func TestSaveTo_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "subdir", "nested", "settings.yaml")

	s := &Settings{DBPath: "garden.sqlite"}
	if err := s.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() should create directories: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("SaveTo() should have created the file")
	}
}

func TestSaveTo_MkdirError(t *testing.T) {
	tmpDir := t.TempDir()

	blockingFile := filepath.Join(tmpDir, "blocker")
	if err := os.WriteFile(blockingFile, []byte("blocking"), 0644); err != nil {
		t.Fatalf("failed to create blocking file: %v", err)
	}

	path := filepath.Join(blockingFile, "subdir", "settings.yaml")
	s := &Settings{DBPath: "garden.sqlite"}

	if err := s.SaveTo(path); err == nil {
		t.Error("SaveTo() should fail when directory creation fails")
	}
}

func TestLoadFrom_ReadError(t *testing.T) {
	tmpDir := t.TempDir()

	dirAsFile := filepath.Join(tmpDir, "settings.yaml")
	if err := os.Mkdir(dirAsFile, 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}

	if _, err := LoadFrom(dirAsFile); err == nil {
		t.Error("LoadFrom() should error when path is a directory")
	}
}

func TestDefaultPath(t *testing.T) {
	originalHome := os.Getenv("HOME")
	defer os.Setenv("HOME", originalHome)

	tmpDir := t.TempDir()
	os.Setenv("HOME", tmpDir)

	path := DefaultPath()
	want := filepath.Join(tmpDir, ".gardend", "settings.yaml")
	if path != want {
		t.Errorf("DefaultPath() = %q, want %q", path, want)
	}
}

func TestLoad_UsesDefaultPath(t *testing.T) {
	originalHome := os.Getenv("HOME")
	defer os.Setenv("HOME", originalHome)

	tmpDir := t.TempDir()
	os.Setenv("HOME", tmpDir)

	s, err := Load()
	if err != nil {
		t.Fatalf("Load() with no settings file should not error: %v", err)
	}
	if s.DBPath != "" {
		t.Errorf("DBPath should be empty with no settings file, got %q", s.DBPath)
	}

	gardendDir := filepath.Join(tmpDir, ".gardend")
	if err := os.MkdirAll(gardendDir, 0755); err != nil {
		t.Fatalf("failed to create .gardend dir: %v", err)
	}
	settingsPath := filepath.Join(gardendDir, "settings.yaml")
	if err := os.WriteFile(settingsPath, []byte("db_path: /var/lib/gardend/garden.sqlite\n"), 0644); err != nil {
		t.Fatalf("failed to write settings file: %v", err)
	}

	s, err = Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if s.DBPath != "/var/lib/gardend/garden.sqlite" {
		t.Errorf("Load() DBPath = %q, want /var/lib/gardend/garden.sqlite", s.DBPath)
	}
}

func TestSave_WritesToDefaultPath(t *testing.T) {
	originalHome := os.Getenv("HOME")
	defer os.Setenv("HOME", originalHome)

	tmpDir := t.TempDir()
	os.Setenv("HOME", tmpDir)

	s := &Settings{DBPath: "/var/lib/gardend/garden.sqlite"}
	if err := s.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	expectedPath := filepath.Join(tmpDir, ".gardend", "settings.yaml")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Fatalf("Save() did not create file at %s", expectedPath)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() after Save() failed: %v", err)
	}
	if loaded.DBPath != s.DBPath {
		t.Errorf("after Save(), DBPath = %q, want %q", loaded.DBPath, s.DBPath)
	}
}
