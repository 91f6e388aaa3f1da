package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/coop-adventure/sessions/internal/config"
	"github.com/coop-adventure/sessions/internal/lobby"
	"github.com/coop-adventure/sessions/internal/provider/online"
	"github.com/coop-adventure/sessions/internal/session"
	"github.com/coop-adventure/sessions/internal/tui"
)

func newBrowseCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse advertised sessions and join one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := runBrowser(cmd.Context(), opts)
			if err != nil || name == "" {
				return err
			}
			return runFind(cmd.Context(), opts, []string{name}, cmd.OutOrStdout())
		},
	}
}

type findResult struct {
	search *session.Search
	ok     bool
}

// lister runs provider searches for the browser outside any negotiator.
type lister struct {
	provider   session.Provider
	lanOnly    bool
	timeout    time.Duration
	found      chan findResult
	generation atomic.Uint64
}

func newLister(p session.Provider, cfg *config.Config) *lister {
	l := &lister{
		provider: p,
		lanOnly:  cfg.ProviderKind() == config.ProviderLAN,
		timeout:  operationTimeout(cfg),
		found:    make(chan findResult, 4),
	}
	p.Subscribe(session.Handlers{
		FindComplete: func(s *session.Search, ok bool) {
			select {
			case l.found <- findResult{search: s, ok: ok}:
			default:
			}
		},
	})
	return l
}

// refresh is a tea.Cmd that searches once and yields a tui.ListingMsg.
func (l *lister) refresh() tea.Msg {
	search := &session.Search{
		Generation: l.generation.Add(1),
		Query: session.Query{
			MaxResults:   session.MaxResultsUnlimited,
			PresenceOnly: true,
			LANOnly:      l.lanOnly,
		},
	}
	if err := l.provider.FindSessions(session.LocalSlot, search); err != nil {
		return tui.ListingMsg{Err: err}
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	for {
		select {
		case r := <-l.found:
			if r.search == nil || r.search.Generation != search.Generation {
				continue
			}
			if !r.ok {
				return tui.ListingMsg{Err: errors.New("search failed")}
			}
			return tui.ListingMsg{Results: r.search.Results}
		case <-timer.C:
			return tui.ListingMsg{Err: fmt.Errorf("search timed out after %s", l.timeout)}
		}
	}
}

func listingFromEntries(entries []*lobby.Entry) tui.ListingMsg {
	results := make([]session.SearchResult, 0, len(entries))
	for _, e := range entries {
		results = append(results, e.SearchResult())
	}
	return tui.ListingMsg{Results: results}
}

// runBrowser shows the browser and returns the chosen server name, or "" if
// the user quit without choosing.
func runBrowser(ctx context.Context, opts *rootOptions) (string, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return "", err
	}

	provider, closeProvider, err := openProvider(ctx, cfg, session.Immediate)
	if err != nil {
		return "", err
	}
	defer closeProvider()

	l := newLister(provider, cfg)
	prog := tea.NewProgram(tui.New(cfg.ProviderKind(), l.refresh), tea.WithAltScreen(), tea.WithContext(ctx))

	if op, ok := provider.(*online.Provider); ok {
		if err := op.Watch(func(entries []*lobby.Entry) {
			prog.Send(listingFromEntries(entries))
		}); err != nil {
			return "", err
		}
	}

	final, err := prog.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return "", nil
		}
		return "", err
	}
	name, _ := final.(tui.Model).Chosen()
	return name, nil
}
