// Package travel hands the player over to the game once a session is ready:
// the host opens the listen map, clients connect to the resolved address.
package travel

import (
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
)

const (
	// DefaultListenMap is the map a host opens when none is configured.
	DefaultListenMap = "/Game/ThirdPerson/Maps/ThirdPersonMap"

	listenOption = "listen"
)

// Traveler performs the map transitions that follow a successful create or
// join.
type Traveler interface {
	ServerTravel(url string) error
	ClientTravel(address string) error
}

// ListenURL returns mapPath with the listen option appended. An empty path
// falls back to DefaultListenMap.
func ListenURL(mapPath string) string {
	mapPath = strings.TrimSpace(mapPath)
	if mapPath == "" {
		mapPath = DefaultListenMap
	}
	base, opts, hasOpts := strings.Cut(mapPath, "?")
	if hasOpts {
		for _, opt := range strings.Split(opts, "?") {
			if opt == listenOption {
				return mapPath
			}
		}
		return base + "?" + opts + "?" + listenOption
	}
	return base + "?" + listenOption
}

// Log only records the travel request.
type Log struct{}

func (Log) ServerTravel(url string) error {
	log.Printf("travel: server travel to %s", url)
	return nil
}

func (Log) ClientTravel(address string) error {
	log.Printf("travel: client travel to %s", address)
	return nil
}

// Command launches the game binary. Server arguments may contain {url}, the
// listen URL. Client arguments may contain {address}, the connect address;
// {url} is accepted there as well and means the same.
type Command struct {
	Server []string
	Client []string

	// run is swapped in tests.
	run func(name string, args ...string) error
}

func (c Command) ServerTravel(url string) error {
	if len(c.Server) == 0 {
		return Log{}.ServerTravel(url)
	}
	return c.exec(c.Server, strings.NewReplacer("{url}", url))
}

func (c Command) ClientTravel(address string) error {
	if len(c.Client) == 0 {
		return Log{}.ClientTravel(address)
	}
	return c.exec(c.Client, strings.NewReplacer("{address}", address, "{url}", address))
}

func (c Command) exec(argv []string, placeholders *strings.Replacer) error {
	args := make([]string, len(argv))
	for i, a := range argv {
		args[i] = placeholders.Replace(a)
	}
	run := c.run
	if run == nil {
		run = startDetached
	}
	if err := run(args[0], args[1:]...); err != nil {
		return fmt.Errorf("travel: %s: %w", args[0], err)
	}
	log.Printf("travel: launched %s", strings.Join(args, " "))
	return nil
}

func startDetached(name string, args ...string) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return err
	}
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

// Recorder keeps every travel request in memory.
type Recorder struct {
	mu      sync.Mutex
	Servers []string
	Clients []string
}

func (r *Recorder) ServerTravel(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Servers = append(r.Servers, url)
	return nil
}

func (r *Recorder) ClientTravel(address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Clients = append(r.Clients, address)
	return nil
}
