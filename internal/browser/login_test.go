package browser

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fakeAutomator(hold time.Duration, fillErr error) (*ChromeAutomator, *atomic.Int32) {
	var closed atomic.Int32
	a := NewChromeAutomator(LoginOptions{Hold: hold})
	a.newSession = func(ctx context.Context) (context.Context, context.CancelFunc) {
		c, cancel := context.WithCancel(ctx)
		return c, func() {
			closed.Add(1)
			cancel()
		}
	}
	a.fill = func(context.Context, string, string, string) error { return fillErr }
	return a, &closed
}

func waitActive(t *testing.T, a *ChromeAutomator) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !a.Active() {
		if time.Now().After(deadline) {
			t.Fatal("session never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoginHoldsUntilRelease(t *testing.T) {
	a, closed := fakeAutomator(time.Hour, nil)

	done := make(chan error, 1)
	go func() { done <- a.Login(context.Background(), "https://x", "u", "p") }()

	waitActive(t, a)
	select {
	case <-done:
		t.Fatal("Login returned before release")
	case <-time.After(50 * time.Millisecond):
	}

	if !a.Release() {
		t.Fatal("Release reported no session")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Login did not return after release")
	}
	if closed.Load() != 1 {
		t.Errorf("browser closed %d times, want 1", closed.Load())
	}
	if a.Active() || a.Release() {
		t.Error("session still active after return")
	}
}

func TestLoginHoldExpires(t *testing.T) {
	a, closed := fakeAutomator(20*time.Millisecond, nil)
	if err := a.Login(context.Background(), "https://x", "u", "p"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if closed.Load() != 1 {
		t.Errorf("browser closed %d times, want 1", closed.Load())
	}
}

func TestLoginContextCancel(t *testing.T) {
	a, closed := fakeAutomator(time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Login(ctx, "https://x", "u", "p") }()
	waitActive(t, a)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Login did not return after cancel")
	}
	if closed.Load() != 1 {
		t.Errorf("browser closed %d times, want 1", closed.Load())
	}
}

func TestLoginFillFailureClosesBrowser(t *testing.T) {
	boom := errors.New("no form")
	a, closed := fakeAutomator(time.Hour, boom)
	err := a.Login(context.Background(), "https://x", "u", "p")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if closed.Load() != 1 {
		t.Errorf("browser closed %d times, want 1", closed.Load())
	}
	if a.Active() {
		t.Error("session left active after failure")
	}
}

func TestSecondLoginWhileHeld(t *testing.T) {
	a, _ := fakeAutomator(time.Hour, nil)
	go a.Login(context.Background(), "https://x", "u", "p")
	waitActive(t, a)
	defer a.Release()

	if err := a.Login(context.Background(), "https://y", "u", "p"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("err = %v, want ErrSessionActive", err)
	}
}

func TestSystemOpener(t *testing.T) {
	var got string
	o := NewSystemOpener()
	o.open = func(u string) error { got = u; return nil }
	if err := o.Open("https://example.com"); err != nil {
		t.Fatal(err)
	}
	if got != "https://example.com" {
		t.Errorf("opened %q", got)
	}

	o.open = func(string) error { return errors.New("no handler") }
	if err := o.Open("https://example.com"); err == nil {
		t.Error("expected error")
	}
}
