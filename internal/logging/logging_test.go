package logging

import "testing"

func TestNew(t *testing.T) {
	logger, err := New("debug", "json")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !logger.Core().Enabled(-1) {
		t.Fatalf("expected debug level enabled")
	}
	if _, err := New("loud", "console"); err == nil {
		t.Fatalf("expected invalid level error")
	}
	logger, err = New("", "")
	if err != nil {
		t.Fatalf("new default: %v", err)
	}
	_ = logger.Sync()
}
