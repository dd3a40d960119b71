package rlog

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLevel(t *testing.T) {
	if got := New(false, false).GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %v", got)
	}
	if got := New(true, false).GetLevel(); got != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %v", got)
	}
}
