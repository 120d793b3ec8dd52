package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 6 * time.Hour, AlignToSlot: true}, zerolog.Nop())
	now := time.Date(2024, 4, 15, 7, 30, 0, 0, time.UTC)
	got := s.nextTick(now)
	want := time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("next tick %s, want %s", got, want)
	}

	onSlot := time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC)
	if got := s.nextTick(onSlot); !got.Equal(onSlot.Add(6 * time.Hour)) {
		t.Fatalf("a tick on the slot boundary should move to the next slot, got %s", got)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Minute}, zerolog.Nop())
	now := time.Date(2024, 4, 15, 7, 30, 17, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected next tick %s", got)
	}
	if got := s.slotStart(now); !got.Equal(now) {
		t.Fatalf("unaligned slot should be the tick time, got %s", got)
	}
}

func TestRunOnStartAndCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	var ticks atomic.Int32
	err := s.Run(ctx, func(ctx context.Context, slot time.Time) error {
		ticks.Add(1)
		cancel()
		return errors.New("tick errors are logged, not returned")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ticks.Load() != 1 {
		t.Fatalf("expected one start-up tick, got %d", ticks.Load())
	}
}

func TestNewRejectsZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
