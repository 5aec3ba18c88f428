package types

import "testing"

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		raw    string
		want   Status
		closed bool
	}{
		{"OPEN", StatusOpen, false},
		{"Done", StatusDone, true},
		{"CLOSED", StatusClosed, true},
		{"  Merged ", StatusMerged, true},
		{"IN_REVIEW", StatusInReview, false},
		{"BLOCKED", StatusBlocked, false},
		{"resolved", StatusResolved, true},
		{"ABANDONED", StatusAbandoned, true},
		{"Obsolete", StatusObsolete, true},
		{"weird-custom", Status("weird-custom"), false},
	}

	for _, tt := range tests {
		got := NormalizeStatus(tt.raw)
		if got != tt.want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", tt.raw, got, tt.want)
		}
		if got.IsClosed() != tt.closed {
			t.Errorf("IsClosed(%q) = %v, want %v", got, got.IsClosed(), tt.closed)
		}
	}
}

func TestValidRole(t *testing.T) {
	for _, r := range []Role{RolePlanner, RoleCritic, RoleImplementer, RoleTester, RolePM, RoleScribe} {
		if !ValidRole(r) {
			t.Errorf("ValidRole(%q) = false, want true", r)
		}
	}
	if ValidRole("architect") {
		t.Error("ValidRole(architect) = true, want false")
	}
}

func TestSupportsSchema(t *testing.T) {
	caps := Capabilities{SchemaVersions: []string{"1.0.0", "1.1.0"}}
	if !caps.SupportsSchema("1.0.0") {
		t.Error("expected 1.0.0 to be supported")
	}
	if caps.SupportsSchema("2.0.0") {
		t.Error("did not expect 2.0.0 to be supported")
	}
}

func TestHashBodyDeterministic(t *testing.T) {
	a := HashBody("the same body")
	b := HashBody("the same body")
	if a != b {
		t.Errorf("HashBody not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("HashBody length = %d, want 64 hex chars", len(a))
	}
	if HashBody("different") == a {
		t.Error("different bodies produced identical hashes")
	}
}
