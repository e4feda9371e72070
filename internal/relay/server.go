package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petervdpas/parley/internal/metrics"
	"github.com/petervdpas/parley/internal/proto"
	"github.com/petervdpas/parley/internal/util"
)

const (
	defaultMaxClients      = 1024
	defaultMaxClientsPerIP = 10
)

// CallHistory is the read side of the call log.
type CallHistory interface {
	Recent(n int) ([]CallEvent, error)
}

// Options configures a Server. Zero values pick the defaults.
type Options struct {
	Addr            string
	ExternalURL     string
	AdminPassword   string
	MaxClients      int
	MaxClientsPerIP int
	OutboundBuffer  int

	// Logs serves /logs.json; nil disables it.
	Logs http.HandlerFunc
	// Calls serves /calls.json; nil disables it.
	Calls CallHistory
}

// Server exposes a Hub over websocket plus a small admin/status surface.
type Server struct {
	hub  *Hub
	opts Options
	docs *DocSite

	upgrader websocket.Upgrader
	srv      *http.Server
	addr     string

	mu    sync.Mutex
	conns map[string]*conn
	perIP map[string]int
}

func NewServer(hub *Hub, opts Options) *Server {
	if opts.MaxClients <= 0 {
		opts.MaxClients = defaultMaxClients
	}
	if opts.MaxClientsPerIP <= 0 {
		opts.MaxClientsPerIP = defaultMaxClientsPerIP
	}
	if opts.OutboundBuffer <= 0 {
		opts.OutboundBuffer = defaultOutbuf
	}
	return &Server{
		hub:  hub,
		opts: opts,
		docs: newDocSite(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Participants are native clients and browsers on any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		addr:  opts.Addr,
		conns: map[string]*conn{},
		perIP: map[string]int{},
	}
}

// Handler returns the relay's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/docs", s.docs)
	mux.Handle("/docs/", s.docs)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/sessions.json", s.handleSessionsJSON)
	mux.HandleFunc("/calls.json", s.handleCallsJSON)
	mux.HandleFunc("/logs.json", s.handleLogsJSON)
	mux.HandleFunc("/admin/kick", s.handleKick)

	return mux
}

// Start listens on Options.Addr and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()

	go func() {
		<-ctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
		defer cancel()
		_ = s.srv.Shutdown(shctx)
		s.closeAll()
	}()

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("RELAY: server error: %v", err)
		}
	}()

	log.Printf("RELAY: listening on %s", s.addr)
	return nil
}

func (s *Server) URL() string {
	if s.opts.ExternalURL != "" {
		return strings.TrimRight(s.opts.ExternalURL, "/")
	}
	return "http://" + s.addr
}

// Kick closes a participant's connection with proto.CloseKicked. The session
// is torn down like any other disconnect once the socket closes.
func (s *Server) Kick(id string) bool {
	s.mu.Lock()
	c, ok := s.conns[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	log.Printf("RELAY: kicking session %s", id)
	c.close(proto.CloseKicked, "kicked by operator")
	return true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := util.ExtractIP(r.RemoteAddr)
	if err := s.reserve(ip); err != nil {
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.release(ip)
		log.Printf("RELAY: websocket upgrade from %s failed: %v", ip, err)
		return
	}

	c := newConn(ws, ip, s.opts.OutboundBuffer)
	sess := s.hub.Connect(c)
	c.setSessionID(sess.ID)
	s.track(sess.ID, c)
	go c.writePump()

	defer func() {
		s.hub.Disconnect(sess.ID)
		c.close(websocket.CloseNormalClosure, "")
		s.untrack(sess.ID)
		s.release(ip)
	}()

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("RELAY: session %s read: %v", sess.ID, err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		m, err := proto.Decode(data)
		if err != nil {
			log.Printf("SIGNAL [%s]: %v", sess.ID, err)
			c.Deliver(proto.ErrorMessage(err))
			continue
		}
		s.hub.Dispatch(sess, m)
	}
}

func (s *Server) reserve(ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.perIP {
		total += n
	}
	if total >= s.opts.MaxClients {
		return fmt.Errorf("too many connections (%d)", s.opts.MaxClients)
	}
	if s.perIP[ip] >= s.opts.MaxClientsPerIP {
		return fmt.Errorf("too many connections from %s (%d)", ip, s.opts.MaxClientsPerIP)
	}
	s.perIP[ip]++
	return nil
}

func (s *Server) release(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perIP[ip] <= 1 {
		delete(s.perIP, ip)
		return
	}
	s.perIP[ip]--
}

func (s *Server) track(id string, c *conn) {
	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	list := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		list = append(list, c)
	}
	s.mu.Unlock()
	for _, c := range list {
		c.close(websocket.CloseGoingAway, "relay shutting down")
	}
}

func (s *Server) handleSessionsJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	writeJSON(w, s.hub.Registry.Snapshot())
}

func (s *Server) handleCallsJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	if s.opts.Calls == nil {
		http.Error(w, "call log disabled", http.StatusNotFound)
		return
	}
	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	events, err := s.opts.Calls.Recent(n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleLogsJSON(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if s.opts.Logs == nil {
		http.NotFound(w, r)
		return
	}
	s.opts.Logs(w, r)
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	if !s.Kick(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireAdmin checks HTTP Basic Auth. Returns true if authorized.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.AdminPassword == "" {
		http.Error(w, "admin endpoints disabled", http.StatusForbidden)
		return false
	}
	user, pass, ok := r.BasicAuth()
	if !ok || user != "admin" || subtle.ConstantTimeCompare([]byte(pass), []byte(s.opts.AdminPassword)) != 1 {
		w.Header().Set("WWW-Authenticate", `Basic realm="parley relay"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
