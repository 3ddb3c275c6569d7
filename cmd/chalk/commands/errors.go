package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/chalk/internal/board"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/resolver"
	"github.com/dyluth/chalk/pkg/blackboard"
)

// failure turns a component error into a printed report. Errors outside the
// blackboard sentinels are returned unchanged.
func failure(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, blackboard.ErrNotFound):
		return printer.Error(what+" not found", err.Error(), nil)
	case errors.Is(err, blackboard.ErrClaimConflict):
		return printer.Error(what+" cannot be claimed", err.Error(),
			[]string{"List claimable work:\n  chalk task ready"})
	case errors.Is(err, blackboard.ErrInvalidTransition):
		return printer.Error("invalid status change", err.Error(), nil)
	case errors.Is(err, blackboard.ErrInvalidInput):
		return printer.Error("invalid "+what, err.Error(), nil)
	default:
		return err
	}
}

// resolveID expands a short id of kind (a blackboard.Kind* value).
func resolveID(ctx context.Context, b *board.Board, kind, arg string) (string, error) {
	id, err := resolver.Resolve(ctx, b.Store, kind, arg)
	if err == nil {
		return id, nil
	}

	var amb *resolver.AmbiguousError
	switch {
	case resolver.IsNotFound(err):
		return "", printer.Error(
			fmt.Sprintf("%s with ID '%s' not found", kind, arg),
			"Nothing on the blackboard has that id.",
			[]string{fmt.Sprintf("List %ss:\n  chalk %s list", kind, kind)},
		)
	case errors.As(err, &amb):
		return "", printer.Error(
			fmt.Sprintf("ambiguous %s ID '%s'", kind, arg),
			fmt.Sprintf("Matches:\n%s", amb.Describe()),
			nil,
		)
	default:
		return "", printer.Error(fmt.Sprintf("invalid %s ID '%s'", kind, arg), err.Error(), nil)
	}
}
