package reliability

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{402, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableNetError(t *testing.T) {
	if !IsRetryableNetError(&net.OpError{Op: "dial", Err: errors.New("connection refused")}) {
		t.Fatalf("dial error should be retryable")
	}
	if IsRetryableNetError(context.Canceled) {
		t.Fatalf("cancellation should not be retryable")
	}
	if IsRetryableNetError(errors.New("decode failed")) {
		t.Fatalf("plain error should not be retryable")
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

func TestPolicyDoRetriesUntilSuccess(t *testing.T) {
	errBusy := errors.New("busy")
	calls := 0
	err := Policy{Attempts: 3, Base: time.Millisecond, Cap: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	}, func(err error) bool { return errors.Is(err, errBusy) })
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestPolicyDoStopsOnPermanentError(t *testing.T) {
	errFatal := errors.New("fatal")
	calls := 0
	err := Policy{Attempts: 5, Base: time.Millisecond, Cap: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		return errFatal
	}, func(error) bool { return false })
	if !errors.Is(err, errFatal) || calls != 1 {
		t.Fatalf("Do() = %v after %d calls, want fatal after 1", err, calls)
	}
}

func TestPolicyDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{Attempts: 5, Base: time.Hour, Cap: time.Hour}.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("busy")
	}, func(error) bool { return true })
	if err == nil || calls != 1 {
		t.Fatalf("Do() = %v after %d calls", err, calls)
	}
}
