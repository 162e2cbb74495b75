package testutil

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stagectl/internal/config"
	"stagectl/internal/db"
)

// OpenTestStore opens a sqlite store in a temp directory and creates the
// tables for models. The store is closed when the test ends.
func OpenTestStore(t *testing.T, models ...any) *db.Store {
	t.Helper()

	store, err := db.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}, nil)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.CreateAll(context.Background(), models...); err != nil {
		t.Fatalf("failed to create tables: %v", err)
	}
	return store
}

// CreateTestFile creates a test file with content
func CreateTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}

// CreateCSVFile creates a CSV file with headers and rows
func CreateCSVFile(t *testing.T, dir, name string, headers []string, rows [][]string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(headers); err != nil {
		t.Fatalf("failed to write headers: %v", err)
	}
	if err := writer.WriteAll(rows); err != nil {
		t.Fatalf("failed to write rows: %v", err)
	}
	return path
}

// ReadFile reads a file and returns its content
func ReadFile(t *testing.T, path string) string {
	t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file %s: %v", path, err)
	}
	return string(content)
}

// WaitForCondition polls condition until it holds or timeout passes
func WaitForCondition(t *testing.T, timeout, interval time.Duration, condition func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(interval)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
