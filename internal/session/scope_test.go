package session

import "testing"

func TestScopeAllows(t *testing.T) {
	tests := []struct {
		name   string
		scope  Scope
		userID string
		want   bool
	}{
		{"unrestricted sees own", Unrestricted(), "u1", true},
		{"unrestricted sees others", Unrestricted(), "u2", true},
		{"self sees self", SelfOnly("u1"), "u1", true},
		{"self blocks others", SelfOnly("u1"), "u2", false},
		{"self blocks empty", SelfOnly("u1"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.Allows(tt.userID); got != tt.want {
				t.Errorf("Allows(%q) = %v, want %v", tt.userID, got, tt.want)
			}
		})
	}
}

func TestScopeFilterSlice(t *testing.T) {
	records := []*Record{
		{SessionID: "s1", UserID: "u1"},
		{SessionID: "s2", UserID: "u2"},
		{SessionID: "s3", UserID: "u1"},
	}

	got := SelfOnly("u1").FilterSlice(records)
	if len(got) != 2 {
		t.Fatalf("FilterSlice returned %d records, want 2", len(got))
	}
	for _, r := range got {
		if r.UserID != "u1" {
			t.Errorf("FilterSlice leaked record for user %q", r.UserID)
		}
	}

	if got := Unrestricted().FilterSlice(records); len(got) != 3 {
		t.Errorf("unrestricted FilterSlice returned %d records, want 3", len(got))
	}
}

func TestScopeIsNoop(t *testing.T) {
	if !Unrestricted().IsNoop() {
		t.Error("Unrestricted().IsNoop() = false")
	}
	if SelfOnly("u1").IsNoop() {
		t.Error("SelfOnly().IsNoop() = true")
	}
}
