package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"admin":       RoleAdmin,
		" Contractor": RoleContractor,
		"ARCHITECT":   RoleArchitect,
		"investor":    RoleInvestor,
		"supplier":    RoleSupplier,
		"none":        RoleNone,
		"owner":       RoleNone,
		"":            RoleNone,
	}
	for in, want := range cases {
		if got := ParseRole(in); got != want {
			t.Errorf("ParseRole(%q) = %s, want %s", in, got, want)
		}
	}
	if RoleNone.Grantable() || Role(99).Grantable() {
		t.Fatalf("none and out-of-range roles must not be grantable")
	}
	for _, r := range Roles {
		if !r.Grantable() {
			t.Errorf("%s should be grantable", r)
		}
	}
}

func TestRoleJSON(t *testing.T) {
	data, err := json.Marshal(Participant{ID: "a", Role: RoleSupplier, Registered: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"role":"supplier"`) {
		t.Fatalf("role not rendered as text: %s", data)
	}
	var p Participant
	if err := json.Unmarshal(data, &p); err != nil || p.Role != RoleSupplier {
		t.Fatalf("decode: %+v %v", p, err)
	}
}

func TestParseHash(t *testing.T) {
	hexStr := strings.Repeat("ab", 32)
	h, err := ParseHash("0x" + hexStr)
	if err != nil {
		t.Fatal(err)
	}
	if h.String() != hexStr || h.IsZero() {
		t.Fatalf("unexpected hash %s", h)
	}
	if _, err := ParseHash(hexStr[:62]); err == nil {
		t.Fatalf("expected short hash to fail")
	}
	if _, err := ParseHash(strings.Repeat("zz", 32)); err == nil {
		t.Fatalf("expected non-hex to fail")
	}
	zero, err := ParseHash(strings.Repeat("0", 64))
	if err != nil || !zero.IsZero() {
		t.Fatalf("zero hash: %v", err)
	}
	if _, err := ParseHashes([]string{hexStr, "nope"}); err == nil || !strings.Contains(err.Error(), "hashes[1]") {
		t.Fatalf("expected indexed error, got %v", err)
	}
}

func TestParseMilestoneStatus(t *testing.T) {
	if s, ok := ParseMilestoneStatus("revision-required"); !ok || s != StatusRevisionRequired {
		t.Fatalf("got %s %v", s, ok)
	}
	if _, ok := ParseMilestoneStatus("done"); ok {
		t.Fatalf("unknown status accepted")
	}
}

func TestTransitionErrorUnwraps(t *testing.T) {
	err := error(&TransitionError{MilestoneID: 4, From: StatusApproved, Op: "verify"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition")
	}
	if !strings.Contains(err.Error(), "APPROVED") {
		t.Fatalf("message lacks status: %s", err)
	}
}
