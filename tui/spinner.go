package tui

import (
	"context"

	"github.com/charmbracelet/huh/spinner"
)

// ShowSpinner displays a spinner while action runs and returns its error.
// Without a terminal the action runs directly.
func ShowSpinner(ctx context.Context, title string, action func(ctx context.Context) error) error {
	if !HasTTY {
		return action(ctx)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var actionErr error
	err := spinner.New().
		Context(ctx).
		Title(title).
		Action(func() {
			actionErr = action(ctx)
		}).
		Run()
	if actionErr != nil {
		return actionErr
	}
	return err
}
