package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coop-adventure/sessions/internal/config"
	"github.com/coop-adventure/sessions/internal/history"
	"github.com/coop-adventure/sessions/internal/provider/lan"
	"github.com/coop-adventure/sessions/internal/provider/online"
	"github.com/coop-adventure/sessions/internal/session"
	"github.com/coop-adventure/sessions/internal/travel"
)

type rootOptions struct {
	configPath string
	provider   string
	lobbyURL   string
	token      string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "coopctl",
		Short:        "Host, find and join co-op adventure sessions",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !opts.verbose {
				log.SetOutput(io.Discard)
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Path to config file")
	root.PersistentFlags().StringVarP(&opts.provider, "provider", "p", "", "Session provider: lan or lobby (overrides config)")
	root.PersistentFlags().StringVar(&opts.lobbyURL, "lobby-url", "", "lobbyd websocket URL (overrides config)")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "lobbyd auth token (overrides config)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log provider and negotiator activity")

	root.AddCommand(newHostCmd(opts))
	root.AddCommand(newFindCmd(opts))
	root.AddCommand(newBrowseCmd(opts))
	return root
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, opts *rootOptions) {
	if opts.provider != "" {
		cfg.Session.Provider = opts.provider
	}
	if opts.lobbyURL != "" {
		cfg.Lobby.URL = opts.lobbyURL
	}
	if opts.token != "" {
		cfg.Lobby.Token = opts.token
	}
}

// openProvider builds the configured provider. Completions are posted to
// poster; the returned func releases the provider.
func openProvider(ctx context.Context, cfg *config.Config, poster session.Poster) (session.Provider, func() error, error) {
	switch cfg.ProviderKind() {
	case config.ProviderLAN:
		p := lan.New(lan.Options{
			Port:          cfg.LAN.Port,
			BroadcastAddr: cfg.LAN.BroadcastAddr,
			SearchWindow:  cfg.LAN.SearchWindow,
			GamePort:      cfg.Session.GamePort,
			Interface:     cfg.LAN.Interface,
		}, poster)
		return p, p.Close, nil

	case config.ProviderLobby:
		p, err := online.Dial(ctx, online.Options{
			URL:            cfg.Lobby.URL,
			Token:          cfg.Lobby.Token,
			AdvertiseAddr:  cfg.Lobby.AdvertiseAddr,
			GamePort:       cfg.Session.GamePort,
			OwnerName:      ownerName(),
			RequestTimeout: cfg.Lobby.RequestTimeout,
		}, poster)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown provider %q", cfg.Session.Provider)
}

func ownerName() string {
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return "unknown-host"
}

// operationTimeout bounds how long a single create or find may take.
func operationTimeout(cfg *config.Config) time.Duration {
	if cfg.ProviderKind() == config.ProviderLAN {
		return 2*cfg.LAN.SearchWindow + 5*time.Second
	}
	return 2*cfg.Lobby.RequestTimeout + 5*time.Second
}

// runtime owns the event loop, provider and negotiator for one command.
type runtime struct {
	cfg        *config.Config
	loop       *session.EventLoop
	provider   session.Provider
	negotiator *session.Negotiator
	history    *history.Store
	timeout    time.Duration

	stopLoop      context.CancelFunc
	closeProvider func() error
}

func newRuntime(ctx context.Context, opts *rootOptions) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	// The loop outlives ctx so the session can still be torn down after an
	// interrupt.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loop := session.NewEventLoop(0)
	go loop.Run(loopCtx)

	provider, closeProvider, err := openProvider(ctx, cfg, loop)
	if err != nil {
		stopLoop()
		return nil, err
	}

	rt := &runtime{
		cfg:           cfg,
		loop:          loop,
		provider:      provider,
		history:       history.NewStore(cfg.History.Dir),
		timeout:       operationTimeout(cfg),
		stopLoop:      stopLoop,
		closeProvider: closeProvider,
	}
	err = loop.Call(ctx, func() {
		rt.negotiator = session.NewNegotiator(provider, session.Options{
			SessionName:    cfg.Session.Name,
			ListenMap:      cfg.Session.ListenMap,
			MaxConnections: cfg.Session.MaxConnections,
			Traveler: travel.Command{
				Server: cfg.Travel.ServerCommand,
				Client: cfg.Travel.ClientCommand,
			},
		})
	})
	if err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

// call runs fn on the event loop. It keeps working after the command's
// context is cancelled.
func (rt *runtime) call(fn func()) error {
	ctx, cancel := context.WithTimeout(context.Background(), rt.timeout)
	defer cancel()
	return rt.loop.Call(ctx, fn)
}

func (rt *runtime) close() {
	if rt.negotiator != nil {
		rt.call(rt.negotiator.Close)
	}
	if err := rt.closeProvider(); err != nil {
		log.Printf("coopctl: closing provider: %v", err)
	}
	rt.stopLoop()
}

var errNoName = errors.New("no server name given and none remembered")

// resolveName returns the first argument, or the remembered name when no
// argument is given.
func resolveName(args []string, remembered func() (string, bool)) (string, error) {
	if len(args) > 0 {
		if name := strings.TrimSpace(args[0]); name != "" {
			return name, nil
		}
	}
	if remembered != nil {
		if name, ok := remembered(); ok {
			return name, nil
		}
	}
	return "", errNoName
}

// offerOutcome returns a listener that hands outcomes to ch without ever
// blocking the event loop. Outcomes nobody is waiting for are dropped once ch
// is full.
func offerOutcome(ch chan<- session.Outcome) func(session.Outcome) {
	return func(o session.Outcome) {
		select {
		case ch <- o:
		default:
			log.Printf("coopctl: dropping unread outcome (ok=%v)", o.OK)
		}
	}
}

// drainOutcomes discards outcomes left over from earlier operations.
func drainOutcomes(ch <-chan session.Outcome) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// awaitOutcome waits for one outcome or gives up after timeout.
func awaitOutcome(ctx context.Context, ch <-chan session.Outcome, timeout time.Duration) (session.Outcome, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case o := <-ch:
		return o, nil
	case <-timer.C:
		return session.Outcome{}, fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return session.Outcome{}, ctx.Err()
	}
}
