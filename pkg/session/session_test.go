package session

import "testing"

func TestSession_SetIdentity(t *testing.T) {
	s := New()

	if s.UserID() != "" || s.Token() != "" {
		t.Error("New session should be anonymous")
	}

	s.SetIdentity("u-1", "tok-1")

	if s.UserID() != "u-1" {
		t.Errorf("UserID() = %q, want u-1", s.UserID())
	}
	if s.Token() != "tok-1" {
		t.Errorf("Token() = %q, want tok-1", s.Token())
	}
}

func TestSession_IdentityChangeNotifies(t *testing.T) {
	s := New()

	var seen []string
	s.OnIdentityChange(func(userID string) {
		seen = append(seen, userID)
	})

	s.SetIdentity("u-1", "tok-1")
	// Token refresh for the same user must not notify.
	s.SetIdentity("u-1", "tok-2")
	s.SetIdentity("u-2", "tok-3")
	s.Clear()

	want := []string{"u-1", "u-2", ""}
	if len(seen) != len(want) {
		t.Fatalf("Got %d notifications %v, want %v", len(seen), seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Notification %d = %q, want %q", i, seen[i], want[i])
		}
	}

	if s.Token() != "" {
		t.Error("Clear should drop the token")
	}
}

func TestSession_Unsubscribe(t *testing.T) {
	s := New()

	calls := 0
	unsubscribe := s.OnIdentityChange(func(string) { calls++ })

	s.SetIdentity("u-1", "t")
	unsubscribe()
	s.SetIdentity("u-2", "t")

	if calls != 1 {
		t.Errorf("Subscriber called %d times, want 1", calls)
	}
}
