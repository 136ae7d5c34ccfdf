package engine

import (
	"errors"
	"testing"

	"buildledger/internal/domain"
)

func TestMilestoneTransition(t *testing.T) {
	cases := []struct {
		op   workflowOp
		from domain.MilestoneStatus
		want domain.MilestoneStatus
	}{
		{opSubmit, domain.StatusNotCreated, domain.StatusSubmitted},
		{opSubmit, domain.StatusRevisionRequired, domain.StatusSubmitted},
		{opSubmit, domain.StatusSubmitted, ""},
		{opSubmit, domain.StatusVerified, ""},
		{opRequestChanges, domain.StatusSubmitted, domain.StatusRevisionRequired},
		{opRequestChanges, domain.StatusVerified, ""},
		{opVerify, domain.StatusSubmitted, domain.StatusVerified},
		{opVerify, domain.StatusRevisionRequired, ""},
		{opApprove, domain.StatusVerified, domain.StatusApproved},
		{opApprove, domain.StatusSubmitted, ""},
		{opApprove, domain.StatusApproved, ""},
	}
	for _, tc := range cases {
		got, err := milestoneTransition(tc.op, 1, tc.from)
		if tc.want == "" {
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("%s from %s: expected invalid transition, got %v", tc.op, tc.from, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%s from %s: got %s (%v), want %s", tc.op, tc.from, got, err, tc.want)
		}
	}
}

func TestWorkflowRoles(t *testing.T) {
	want := map[workflowOp]domain.Role{
		opSubmit:         domain.RoleContractor,
		opRequestChanges: domain.RoleArchitect,
		opVerify:         domain.RoleArchitect,
		opApprove:        domain.RoleInvestor,
	}
	for op, role := range want {
		if op.role() != role {
			t.Errorf("%s: got %s, want %s", op, op.role(), role)
		}
	}
}
