package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coop-adventure/sessions/internal/history"
	"github.com/coop-adventure/sessions/internal/session"
)

func newFindCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "find [NAME]",
		Short: "Find a session advertised under NAME and join it",
		Long: `Search for a session advertised under NAME, join the first match and
launch the game client against the resolved address.

Without NAME the most recently joined name is reused.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(cmd.Context(), opts, args, cmd.OutOrStdout())
		},
	}
}

func runFind(ctx context.Context, opts *rootOptions, args []string, out io.Writer) error {
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	hist, err := rt.history.Load()
	if err != nil {
		return err
	}
	name, err := resolveName(args, hist.LastJoined)
	if err != nil {
		return err
	}

	address, err := rt.join(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "joined %q at %s\n", name, address)
	return nil
}

// join runs FindServer and waits for the join outcome. On success it returns
// the address the client travelled to.
func (rt *runtime) join(ctx context.Context, name string) (string, error) {
	joined := make(chan session.Outcome, 1)
	if err := rt.call(func() {
		rt.negotiator.OnServerJoinResult(offerOutcome(joined))
		rt.negotiator.FindServer(name)
	}); err != nil {
		return "", err
	}

	o, err := awaitOutcome(ctx, joined, rt.timeout)
	if err != nil {
		return "", fmt.Errorf("find %q: %w", name, err)
	}
	if !o.OK {
		return "", fmt.Errorf("find %q: %w", name, o.Err)
	}

	var address string
	rt.call(func() {
		address, _ = rt.provider.ResolvedConnectString(rt.negotiator.SessionName())
	})
	if err := rt.history.Update(func(h *history.History) { h.RecordJoined(name, address) }); err != nil {
		return address, err
	}
	return address, nil
}
