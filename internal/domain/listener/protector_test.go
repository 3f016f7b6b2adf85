package listener

import (
	"testing"
	"time"
)

func TestProtectorAllowsUpToThreshold(t *testing.T) {
	t.Parallel()

	p := NewProtector(3, 30*time.Second)
	base := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

	for i := range 3 {
		allowed, reason := p.Check(100, "delete", base.Add(time.Duration(i)*time.Second))
		if !allowed {
			t.Fatalf("operation %d denied: %s", i, reason)
		}
	}

	allowed, reason := p.Check(100, "delete", base.Add(3*time.Second))
	if allowed {
		t.Fatal("fourth operation in window must trigger the limit")
	}
	if reason != "rate limit triggered" {
		t.Errorf("reason = %q", reason)
	}
	if p.Triggered() != 1 {
		t.Errorf("triggered = %d, want 1", p.Triggered())
	}
}

func TestProtectorBlockExpires(t *testing.T) {
	t.Parallel()

	p := NewProtector(2, 10*time.Second)
	base := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

	p.Check(5, "edit", base)
	p.Check(5, "edit", base.Add(time.Second))
	if allowed, _ := p.Check(5, "edit", base.Add(2*time.Second)); allowed {
		t.Fatal("expected trigger")
	}

	// внутри окна блокировки
	if allowed, reason := p.Check(5, "edit", base.Add(5*time.Second)); allowed || reason != "rate limited" {
		t.Fatalf("inside block: allowed=%v reason=%q", allowed, reason)
	}

	// после истечения блокировки старые таймстампы уже вне окна
	if allowed, _ := p.Check(5, "edit", base.Add(30*time.Second)); !allowed {
		t.Fatal("operation after block expiry must pass")
	}
}

func TestProtectorWindowSlides(t *testing.T) {
	t.Parallel()

	p := NewProtector(2, 10*time.Second)
	base := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

	p.Check(7, "delete", base)
	p.Check(7, "delete", base.Add(time.Second))
	// первый таймстамп выпал из окна, лимит не срабатывает
	if allowed, _ := p.Check(7, "delete", base.Add(11*time.Second)); !allowed {
		t.Fatal("operation after the window slid must pass")
	}
}

func TestProtectorChatsAreIndependent(t *testing.T) {
	t.Parallel()

	p := NewProtector(1, time.Minute)
	base := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

	p.Check(1, "delete", base)
	if allowed, _ := p.Check(1, "delete", base.Add(time.Second)); allowed {
		t.Fatal("chat 1 must be limited")
	}
	if allowed, _ := p.Check(2, "delete", base.Add(time.Second)); !allowed {
		t.Fatal("chat 2 must not be affected by chat 1")
	}

	limited := p.EverLimited()
	if len(limited) != 1 || limited[0] != 1 {
		t.Errorf("ever limited = %v, want [1]", limited)
	}
	blocked := p.CurrentlyBlocked(base.Add(2 * time.Second))
	if len(blocked) != 1 || blocked[0] != 1 {
		t.Errorf("currently blocked = %v, want [1]", blocked)
	}
}
