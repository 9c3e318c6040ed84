package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func(int) error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func(int) error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanentStops(t *testing.T) {
	sentinel := errors.New("bad request")
	attempts := 0

	err := Retry(context.Background(), 5, 0, func(int) error {
		attempts++
		return Permanent(sentinel)
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("Retry err = %v, want %v", err, sentinel)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times after permanent error, want 1", attempts)
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Hour, func(int) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry err = %v, want context.Canceled", err)
	}
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1)
	if !rl.Allow("a") {
		t.Fatal("first call for key a should be allowed")
	}
	if rl.Allow("a") {
		t.Error("second immediate call for key a should be limited")
	}
	if !rl.Allow("b") {
		t.Error("keys should be limited independently")
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 10; i++ {
		if !rl.Allow("x") {
			t.Fatalf("call %d limited with limiting disabled", i)
		}
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestRateLimiterBoundedKeys(t *testing.T) {
	rl := NewRateLimiter(1)
	rl.maxKeys = 100
	for i := 0; i < 1000; i++ {
		rl.Allow("addr-" + strconv.Itoa(i))
	}
	if n := rl.Len(); n > 100 {
		t.Errorf("Len() = %d, want at most 100", n)
	}
}

func TestRateLimiterSweepsIdleKeys(t *testing.T) {
	// One token per millisecond, so buckets refill almost at once.
	rl := NewRateLimiter(60_000)
	rl.maxKeys = 2
	rl.Allow("a")
	rl.Allow("b")
	time.Sleep(10 * time.Millisecond)

	if !rl.Allow("c") {
		t.Fatal("new key should be allowed")
	}
	if n := rl.Len(); n != 1 {
		t.Errorf("Len() after sweep = %d, want 1", n)
	}

	rl.Allow("d")
	time.Sleep(10 * time.Millisecond)
	rl.Cleanup()
	if n := rl.Len(); n != 0 {
		t.Errorf("Len() after Cleanup = %d, want 0", n)
	}
}

func TestRateLimiterSweepKeepsActiveKeys(t *testing.T) {
	rl := NewRateLimiter(1)
	rl.Allow("a")
	rl.Cleanup()
	if rl.Len() != 1 {
		t.Fatalf("Len() = %d, want active key kept", rl.Len())
	}
	if rl.Allow("a") {
		t.Error("active key lost its limit after Cleanup")
	}
}

func TestRateLimiterUnlimitedTracksNothing(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 50; i++ {
		rl.Allow(strconv.Itoa(i))
	}
	if n := rl.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0 with limiting disabled", n)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "debug", "json").Debug("hello", "k", 1)
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("json logger output = %q", buf.String())
	}

	buf.Reset()
	newLogger(&buf, "warn", "text").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be dropped at warn level, got %q", buf.String())
	}

	if ParseLevel("bogus") != slog.LevelInfo {
		t.Error("unknown level should default to info")
	}
}
