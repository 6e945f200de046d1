package errno

import (
	"errors"
	"strings"
	"testing"
)

func TestFromStatus(t *testing.T) {
	if err := FromStatus(0, "noop"); err != nil {
		t.Fatalf("expected nil error for success status, got %v", err)
	}
	if err := FromStatus(4, "count"); err != nil {
		t.Fatalf("expected positive status to be success, got %v", err)
	}

	err := FromStatus(ErrNoKey.Status(), "fi_mr_reg")
	if !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected errors.Is match ErrNoKey, got %v", err)
	}
	if !strings.Contains(err.Error(), "fi_mr_reg") {
		t.Fatalf("expected operation context in error string, got %q", err)
	}
}

func TestWrapfKeepsCode(t *testing.T) {
	err := ErrInvalid.Wrapf("fi_av_open", "rx_ctx_bits %d out of range", 70)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if !strings.Contains(err.Error(), "rx_ctx_bits 70") {
		t.Fatalf("detail missing from %q", err)
	}
}

func TestErrnoString(t *testing.T) {
	if msg := ErrNotFound.String(); msg == "" || strings.HasPrefix(msg, "unknown") {
		t.Fatalf("unexpected message: %q", msg)
	}
	if msg := Errno(4242).String(); !strings.Contains(msg, "4242") {
		t.Fatalf("unexpected message for unknown code: %q", msg)
	}
}
