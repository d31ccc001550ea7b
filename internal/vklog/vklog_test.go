package vklog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestInitWritesFormattedMessageToFile(t *testing.T) {
	defaultLogger = nil
	once = sync.Once{}

	dir := t.TempDir()
	if err := Init(dir, INFO, "test"); err != nil {
		t.Fatal(err)
	}
	defer Close()

	Info("hello %s", "world")
	Debug("should not appear")

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "hello world") {
		t.Errorf("log file missing Info message, got %q", content)
	}
	if strings.Contains(content, "should not appear") {
		t.Errorf("Debug message should have been filtered below INFO level, got %q", content)
	}
}
