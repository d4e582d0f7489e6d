package metrics

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"pdfcp/internal/domain"
)

func TestOutcome(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{domain.NewValidationError(domain.RuleRequired, "x", "x"), "validation"},
		{&domain.LockedError{Subject: "program", ID: "p"}, "locked"},
		{&domain.ConflictError{ProgramID: "p"}, "conflict"},
		{&domain.ForbiddenError{Action: "unlock"}, "forbidden"},
		{eris.Wrap(domain.ErrNotFound, "get"), "not_found"},
		{&domain.TransportError{Op: "list", Err: assert.AnError}, "transport"},
		{assert.AnError, "error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Outcome(tc.err))
	}
}

func TestHistoryActionKind(t *testing.T) {
	assert.Equal(t, "status_change", domain.StatusChangeAction(domain.StatusVerrouille).Kind())
	assert.Equal(t, "cancellation", domain.CancellationAction(domain.StatusConcerteADP).Kind())
	assert.Equal(t, "unlocked", domain.ActionUnlocked.Kind())
}
