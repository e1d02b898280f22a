package channels

import "testing"

func TestBaseChannel_IsAllowed_EmptyAllowList(t *testing.T) {
	c := NewBaseChannel("test", nil)
	if !c.IsAllowed("12345") {
		t.Error("expected empty allowlist to allow everyone")
	}
}

func TestBaseChannel_IsAllowed_ByID(t *testing.T) {
	c := NewBaseChannel("test", []string{"12345"})
	if !c.IsAllowed("12345") {
		t.Error("expected bare id to be allowed")
	}
	if c.IsAllowed("99999") {
		t.Error("expected unlisted id to be rejected")
	}
}

func TestBaseChannel_IsAllowed_CompoundSenderID(t *testing.T) {
	c := NewBaseChannel("test", []string{"12345"})
	if !c.IsAllowed("12345|alice") {
		t.Error("expected compound id|username to match on id")
	}
}

func TestBaseChannel_IsAllowed_ByUsername(t *testing.T) {
	c := NewBaseChannel("test", []string{"@alice"})
	if !c.IsAllowed("12345|alice") {
		t.Error("expected username match to strip leading @")
	}
	if c.IsAllowed("12345|bob") {
		t.Error("expected non-matching username to be rejected")
	}
}

func TestBaseChannel_SetRunning(t *testing.T) {
	c := NewBaseChannel("test", nil)
	if c.IsRunning() {
		t.Error("expected new channel to start not running")
	}
	c.SetRunning(true)
	if !c.IsRunning() {
		t.Error("expected SetRunning(true) to be observed by IsRunning")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("expected short string unchanged, got %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Errorf("expected truncation with ellipsis, got %q", got)
	}
}
