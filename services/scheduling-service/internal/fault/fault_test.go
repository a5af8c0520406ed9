package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{NotFound("appointment %s not found", "a1"), KindNotFound},
		{Conflict("already held"), KindConflict},
		{Validation("window too short"), KindValidation},
		{LeadTime("too close to slot"), KindLeadTime},
		{BadRequest("cannot confirm"), KindBadRequest},
		{Internal(errors.New("boom"), "db failed"), KindInternal},
		{errors.New("plain"), KindInternal},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Fatalf("KindOf(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("reserve: %w", Conflict("already held"))
	if !IsKind(err, KindConflict) {
		t.Fatalf("expected conflict kind through wrap, got %v", KindOf(err))
	}
}

func TestInternalUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal(cause, "db failed")
	if !errors.Is(err, cause) {
		t.Fatal("internal error must unwrap to its cause")
	}
	if err.Error() != "db failed: connection refused" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
