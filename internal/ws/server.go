package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coop-adventure/sessions/internal/config"
	"github.com/coop-adventure/sessions/internal/lobby"
	"github.com/coop-adventure/sessions/internal/observability"
	"github.com/coop-adventure/sessions/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 64 << 10
	pongTimeout    = 60 * time.Second
)

type Server struct {
	config         *config.Config
	store          *lobby.Store
	broadcaster    *Broadcaster
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

func NewServer(cfg *config.Config, store *lobby.Store, broadcaster *Broadcaster) *Server {
	s := &Server{
		config:         cfg,
		store:          store,
		broadcaster:    broadcaster,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", observability.Handler())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	c, err := s.broadcaster.AddClient(uuid.NewString(), conn)
	if err != nil {
		log.Printf("ws rejecting %s: %v", r.RemoteAddr, err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	log.Printf("WebSocket client connected: %s (%s)", r.RemoteAddr, c.id)

	remoteHost, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteHost = r.RemoteAddr
	}

	go func() {
		defer func() {
			if removed := s.store.RemoveOwner(c.id); len(removed) > 0 {
				log.Printf("lobby: %s disconnected, closed %d session(s)", c.id, len(removed))
			}
			if released := s.store.ReleaseGuest(c.id); len(released) > 0 {
				log.Printf("lobby: %s disconnected, released %d slot(s)", c.id, len(released))
			}
			s.broadcaster.RemoveClient(c)
			log.Printf("WebSocket client disconnected: %s", r.RemoteAddr)
		}()

		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPingHandler(func(data string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
			if errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return err
		})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(pongTimeout))

			var env Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				s.broadcaster.Send(c, WSMessage{Type: MsgError, Payload: ErrorPayload{Message: "malformed message"}})
				continue
			}
			s.dispatch(c, env, remoteHost)
		}
	}()
}

func (s *Server) dispatch(c *client, env Envelope, remoteHost string) {
	var res ResultPayload
	switch env.Type {
	case MsgCreate:
		res = s.handleCreate(c, env.Payload, remoteHost)
	case MsgDestroy:
		res = s.handleDestroy(c, env.Payload)
	case MsgFind:
		res = s.handleFind(env.Payload)
	case MsgJoin:
		res = s.handleJoin(c, env.Payload)
	case MsgLeave:
		res = s.handleLeave(c, env.Payload)
	case MsgSubscribe:
		s.broadcaster.Subscribe(c)
		res = ResultPayload{OK: true}
	default:
		s.broadcaster.Send(c, WSMessage{
			Type:    MsgError,
			ID:      env.ID,
			Payload: ErrorPayload{Message: fmt.Sprintf("unknown message type %q", env.Type)},
		})
		return
	}

	observability.RecordRequest(string(env.Type), res.OK)
	s.broadcaster.Send(c, WSMessage{Type: MsgResult, ID: env.ID, Payload: res})
}

func (s *Server) handleCreate(c *client, raw json.RawMessage, remoteHost string) ResultPayload {
	var req CreateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failure(fmt.Errorf("decoding create: %w", err))
	}
	if strings.TrimSpace(req.Name) == "" {
		return failure(errors.New("missing session name"))
	}
	if req.Settings.ServerName() == "" {
		return failure(fmt.Errorf("missing %s attribute", session.AttrServerName))
	}
	if req.Settings.MaxConnections <= 0 {
		req.Settings.MaxConnections = s.config.Session.MaxConnections
	}

	host := strings.TrimSpace(req.AdvertiseAddr)
	if host == "" {
		host = remoteHost
	}
	address := host
	if req.GamePort > 0 {
		address = net.JoinHostPort(host, strconv.Itoa(req.GamePort))
	}

	entry, err := s.store.Add(&lobby.Entry{
		ID:        uuid.NewString(),
		Name:      req.Name,
		OwnerID:   c.id,
		OwnerName: req.OwnerName,
		Address:   address,
		Settings:  req.Settings,
		Players:   1,
	})
	if err != nil {
		return failure(err)
	}
	log.Printf("lobby: %s created %q (%s) at %s", c.id, entry.ServerName(), entry.ID, entry.Address)
	return ResultPayload{OK: true, SessionID: entry.ID}
}

func (s *Server) handleDestroy(c *client, raw json.RawMessage) ResultPayload {
	var req DestroyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failure(fmt.Errorf("decoding destroy: %w", err))
	}
	id, err := s.store.RemoveByName(c.id, req.Name)
	if err != nil {
		return failure(err)
	}
	log.Printf("lobby: %s destroyed %s", c.id, id)
	return ResultPayload{OK: true, SessionID: id}
}

func (s *Server) handleFind(raw json.RawMessage) ResultPayload {
	var req FindRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failure(fmt.Errorf("decoding find: %w", err))
	}
	return ResultPayload{OK: true, Results: s.store.Find(req.Query)}
}

func (s *Server) handleJoin(c *client, raw json.RawMessage) ResultPayload {
	var req JoinRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failure(fmt.Errorf("decoding join: %w", err))
	}
	entry, result := s.store.Join(req.SessionID, c.id)
	res := ResultPayload{OK: result == session.JoinSuccess, JoinResult: &result}
	if entry != nil {
		res.SessionID = entry.ID
		res.Address = entry.Address
	}
	return res
}

func (s *Server) handleLeave(c *client, raw json.RawMessage) ResultPayload {
	var req LeaveRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return failure(fmt.Errorf("decoding leave: %w", err))
	}
	if err := s.store.Leave(req.SessionID, c.id); err != nil {
		return failure(err)
	}
	log.Printf("lobby: %s left %s", c.id, req.SessionID)
	return ResultPayload{OK: true, SessionID: req.SessionID}
}

func failure(err error) ResultPayload {
	return ResultPayload{Error: err.Error()}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	sessions := s.broadcaster.FilterSessions(s.store.GetAll())
	json.NewEncoder(w).Encode(sessions)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"sessions": s.store.Len(),
		"clients":  s.broadcaster.ClientCount(),
	})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Coop-Lobby-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves mux until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, host string, port int, mux *http.ServeMux) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           securityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
