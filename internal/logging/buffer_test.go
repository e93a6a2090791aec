package logging

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestRingBufferEviction(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Add(Entry{Message: string(rune('a' + i)), Time: time.Now()})
	}

	recent := rb.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("Recent() = %d entries, want 3 (buffer size)", len(recent))
	}
	if recent[0].Message != "c" || recent[2].Message != "e" {
		t.Errorf("Recent() = %v, want oldest-first c..e", recent)
	}
}

func TestCaptureHandlerComponent(t *testing.T) {
	rb := NewRingBuffer(10)
	logger := slog.New(newCaptureHandler(rb, discardHandler{}))

	logger.With("component", "capture").Info("session_start", "camera", "camera_35")

	recent := rb.Recent(1)
	if len(recent) != 1 {
		t.Fatal("record not captured")
	}
	e := recent[0]
	if e.Component != "capture" || e.Message != "session_start" {
		t.Errorf("entry = %+v, want component capture", e)
	}
	if e.Attrs["camera"] != "camera_35" {
		t.Errorf("attrs = %v, want camera attr preserved", e.Attrs)
	}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
