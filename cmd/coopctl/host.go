package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coop-adventure/sessions/internal/history"
	"github.com/coop-adventure/sessions/internal/session"
)

func newHostCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "host [NAME]",
		Short: "Host a session advertised under NAME",
		Long: `Host a session advertised under NAME and launch the game server.

Without NAME the most recently hosted name is reused. The session stays up
until the console is closed with "quit" or the process is interrupted.
Console commands: create NAME, destroy, status, quit.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd.Context(), opts, args, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runHost(ctx context.Context, opts *rootOptions, args []string, in io.Reader, out io.Writer) error {
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	hist, err := rt.history.Load()
	if err != nil {
		return err
	}
	name, err := resolveName(args, hist.LastHosted)
	if err != nil {
		return err
	}

	created := make(chan session.Outcome, 4)
	if err := rt.call(func() {
		rt.negotiator.OnServerCreated(offerOutcome(created))
	}); err != nil {
		return err
	}

	if err := rt.create(ctx, name, created); err != nil {
		return err
	}
	fmt.Fprintf(out, "hosting %q via %s\n", name, rt.provider.Kind())
	defer func() {
		if err := rt.destroy(); err != nil {
			fmt.Fprintf(out, "destroy: %v\n", err)
		}
	}()

	return rt.console(ctx, in, out, created)
}

var errCreateInProgress = errors.New("an earlier create is still in progress")

// create issues CreateServer and waits for its outcome. A create that timed
// out may still complete later, so a new one is refused until the negotiator
// settles; outcomes left in created by then belong to earlier operations.
func (rt *runtime) create(ctx context.Context, name string, created <-chan session.Outcome) error {
	var busy bool
	if err := rt.call(func() {
		switch rt.negotiator.State() {
		case session.StateCreating, session.StateDestroying:
			busy = true
			return
		}
		drainOutcomes(created)
		rt.negotiator.CreateServer(name)
	}); err != nil {
		return err
	}
	if busy {
		return fmt.Errorf("create %q: %w", name, errCreateInProgress)
	}
	o, err := awaitOutcome(ctx, created, rt.timeout)
	if err != nil {
		return fmt.Errorf("create %q: %w", name, err)
	}
	if !o.OK {
		return fmt.Errorf("create %q: %w", name, o.Err)
	}
	return rt.history.Update(func(h *history.History) { h.RecordHosted(name) })
}

// destroy tears down the hosted session, if any, and waits for the provider
// to confirm.
func (rt *runtime) destroy() error {
	var err error
	if callErr := rt.call(func() { err = rt.negotiator.DestroyServer() }); callErr != nil {
		return callErr
	}
	if errors.Is(err, session.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}

	deadline := time.Now().Add(rt.timeout)
	for time.Now().Before(deadline) {
		var state session.State
		if err := rt.call(func() { state = rt.negotiator.State() }); err != nil {
			return err
		}
		if state != session.StateDestroying {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return errors.New("timed out waiting for destroy")
}

func (rt *runtime) status() (session.State, bool) {
	var (
		state  session.State
		hosted bool
	)
	rt.call(func() {
		state = rt.negotiator.State()
		ns, ok := rt.provider.NamedSession(rt.negotiator.SessionName())
		hosted = ok && ns.Hosting
	})
	return state, hosted
}

type consoleCommand struct {
	verb string
	arg  string
}

func parseConsoleLine(line string) (consoleCommand, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return consoleCommand{}, false
	}
	verb, arg, _ := strings.Cut(line, " ")
	return consoleCommand{verb: strings.ToLower(verb), arg: strings.TrimSpace(arg)}, true
}

// console reads commands until quit, EOF or ctx is done.
func (rt *runtime) console(ctx context.Context, in io.Reader, out io.Writer, created <-chan session.Outcome) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				// Stdin closed; keep hosting until interrupted.
				<-ctx.Done()
				return nil
			}
		}

		cmd, ok := parseConsoleLine(line)
		if !ok {
			continue
		}
		switch cmd.verb {
		case "create":
			if cmd.arg == "" {
				fmt.Fprintln(out, "usage: create NAME")
				continue
			}
			if err := rt.create(ctx, cmd.arg, created); err != nil {
				fmt.Fprintf(out, "create: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "hosting %q\n", cmd.arg)
		case "destroy":
			if err := rt.destroy(); err != nil {
				fmt.Fprintf(out, "destroy: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "session destroyed")
		case "status":
			state, hosted := rt.status()
			fmt.Fprintf(out, "state=%s hosting=%v\n", state, hosted)
		case "quit", "exit":
			return nil
		default:
			fmt.Fprintf(out, "unknown command %q (create NAME, destroy, status, quit)\n", cmd.verb)
		}
	}
}
