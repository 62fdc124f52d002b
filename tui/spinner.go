package tui

import (
	"context"

	"github.com/charmbracelet/huh/spinner"
)

// ShowSpinner displays title while action runs and returns its error. The
// action gets a context that is done when ctx is or the user aborts.
func ShowSpinner(ctx context.Context, title string, action func(context.Context) error) error {
	if !HasTTY {
		return action(ctx)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var err error
	if serr := spinner.New().
		Context(ctx).
		Title(title).
		Action(func() { err = action(ctx) }).
		Run(); serr != nil && err == nil {
		err = serr
	}
	return err
}
