package fi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestEventQueueReadWrite(t *testing.T) {
	_, fabric, _ := setupTestResources(t, nil)

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	eq, err := fabric.OpenEventQueue(&EventQueueAttr{Size: 2}, WithClock(mock))
	if err != nil {
		t.Fatalf("OpenEventQueue failed: %v", err)
	}
	defer eq.Close()

	if _, err := eq.Read(0); !errors.Is(err, ErrNoEvent) {
		t.Fatalf("expected ErrNoEvent, got %v", err)
	}
	if err := eq.Write(Event{Data: 1, Context: "first"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	mock.Add(time.Second)
	if err := eq.Write(Event{Data: 2}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := eq.Write(Event{Data: 3}); !errors.Is(err, ErrOverrun) {
		t.Fatalf("expected ErrOverrun, got %v", err)
	}
	if eq.Overruns() != 1 {
		t.Fatalf("expected one overrun, got %d", eq.Overruns())
	}

	peeked, err := eq.Read(FlagPeek)
	if err != nil {
		t.Fatalf("peek failed: %v", err)
	}
	if eq.Len() != 2 {
		t.Fatalf("peek must not consume, len=%d", eq.Len())
	}
	first, err := eq.Read(0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if first.Data != peeked.Data || first.Kind != EventUser || first.Context != "first" {
		t.Fatalf("unexpected first event %+v", first)
	}
	second, err := eq.Read(0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := second.Time.Sub(first.Time); got != time.Second {
		t.Fatalf("events should be stamped by the queue clock, delta %v", got)
	}
	if _, err := eq.Read(FlagMore); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for unknown flags, got %v", err)
	}
}

func TestEventQueueReadContext(t *testing.T) {
	_, fabric, _ := setupTestResources(t, nil)

	eq, err := fabric.OpenEventQueue(nil)
	if err != nil {
		t.Fatalf("OpenEventQueue failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := eq.ReadContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = eq.Write(Event{Data: 7})
	}()
	ev := readEvent(t, eq)
	if ev.Data != 7 {
		t.Fatalf("unexpected event %+v", ev)
	}

	done := make(chan error, 1)
	go func() {
		_, err := eq.ReadContext(context.Background())
		done <- err
	}()
	time.Sleep(5 * time.Millisecond)
	if err := eq.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case err := <-done:
		if !errors.As(err, new(ErrInvalidHandle)) {
			t.Fatalf("expected ErrInvalidHandle after Close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ReadContext did not return after Close")
	}
}

func TestEventQueueAttrValidation(t *testing.T) {
	_, fabric, _ := setupTestResources(t, nil)

	if _, err := fabric.OpenEventQueue(&EventQueueAttr{Size: -1}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := fabric.OpenEventQueue(&EventQueueAttr{Flags: 1}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestEventQueueCloseOrdersAgainstBind(t *testing.T) {
	_, fabric, domain := setupTestResources(t, nil)
	for i := 0; i < 50; i++ {
		eq, err := fabric.OpenEventQueue(nil)
		if err != nil {
			t.Fatalf("OpenEventQueue failed: %v", err)
		}
		av, err := domain.OpenAddressVector(nil)
		if err != nil {
			t.Fatalf("OpenAddressVector failed: %v", err)
		}

		bindErr := make(chan error, 1)
		go func() { bindErr <- av.Bind(eq, 0) }()
		closeErr := eq.Close()
		bErr := <-bindErr

		if bErr == nil && closeErr == nil {
			t.Fatalf("iteration %d: Bind and Close both succeeded", i)
		}
		if bErr == nil && !errors.Is(closeErr, ErrBusy) {
			t.Fatalf("iteration %d: expected ErrBusy while bound, got %v", i, closeErr)
		}
		if err := av.Close(); err != nil {
			t.Fatalf("av Close failed: %v", err)
		}
		if err := eq.Close(); err != nil {
			t.Fatalf("eq Close failed: %v", err)
		}
	}
}
