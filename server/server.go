// Package server provides HTTP and WebSocket server infrastructure for the RFID agent.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dotside-studios/rfid-reader-agent/buildinfo"
	"github.com/dotside-studios/rfid-reader-agent/protocol"
	"github.com/dotside-studios/rfid-reader-agent/rfid"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
)

// Config holds the server configuration
type Config struct {
	Controller ReaderController
	Port       int
	APISecret  string // Optional API secret for WebSocket connection

	// MDNS advertises the bridge on the local network.
	MDNS bool

	// TLS configuration (optional)
	CertFile string
	KeyFile  string
	CAFile   string // served at /ca.pem when set

	CommandTimeout time.Duration
	Logger         *log.Logger
}

// TLSEnabled returns true if TLS is configured.
func (c Config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Server manages the HTTP and WebSocket bridge
type Server struct {
	config     Config
	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *log.Logger

	clients    map[*Client]bool
	clientsMux sync.RWMutex
	upgrader   websocket.Upgrader

	handlerRegistry *HandlerRegistry

	// mDNS service for auto-discovery
	mdnsServer *zeroconf.Server

	lastEvent   map[rfid.EventKind]rfid.Event
	lastEventMu sync.RWMutex

	// Held across each broadcast and each late-joiner replay so a new client
	// never sees a replayed event after a newer one.
	eventOrderMu sync.Mutex
}

// New creates a new server instance and registers the RFID command handlers.
func New(config Config) (*Server, error) {
	if config.Controller == nil {
		return nil, errors.New("server: controller is required")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}

	s := &Server{
		config:  config,
		logger:  config.Logger,
		clients: make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		handlerRegistry: NewHandlerRegistry(),
		lastEvent:       make(map[rfid.EventKind]rfid.Event),
	}

	handler := NewRFIDHandler(config.Controller, config.CommandTimeout)
	handler.logger = config.Logger
	if err := handler.Register(s); err != nil {
		return nil, fmt.Errorf("register handlers: %w", err)
	}
	return s, nil
}

// Handle implements HandlerServer interface.
func (s *Server) Handle(messageType string, handler HandlerFunc) error {
	return s.handlerRegistry.Handle(messageType, handler)
}

// StartLifecycle implements HandlerServer interface.
func (s *Server) StartLifecycle(start func(ctx context.Context)) {
	s.handlerRegistry.RegisterLifecycle(start)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMux.RLock()
	defer s.clientsMux.RUnlock()
	return len(s.clients)
}

// LastEvent returns the most recent event of the given kind.
func (s *Server) LastEvent(kind rfid.EventKind) (rfid.Event, bool) {
	s.lastEventMu.RLock()
	defer s.lastEventMu.RUnlock()
	ev, ok := s.lastEvent[kind]
	return ev, ok
}

// BroadcastEvent implements HandlerServer interface.
func (s *Server) BroadcastEvent(ev rfid.Event) {
	s.eventOrderMu.Lock()
	defer s.eventOrderMu.Unlock()

	s.lastEventMu.Lock()
	s.lastEvent[ev.Kind] = ev
	s.lastEventMu.Unlock()

	s.broadcast(EventMessage(ev))
}

// broadcast sends a message to all connected clients. Clients that fail a
// write are dropped; their read loop then ends on the closed connection.
func (s *Server) broadcast(message protocol.WebSocketMessage) {
	s.clientsMux.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMux.RUnlock()

	for _, client := range clients {
		if err := client.WriteJSON(message); err != nil {
			s.logger.Printf("WebSocket write error for %s: %v", client.ShortID(), err)
			s.removeClient(client)
			client.Close()
		}
	}
}

// join replays the current connection state to c, then registers it for
// broadcasts.
func (s *Server) join(c *Client) (int, error) {
	s.eventOrderMu.Lock()
	defer s.eventOrderMu.Unlock()

	if ev, ok := s.LastEvent(rfid.EventConnection); ok {
		if err := c.WriteJSON(EventMessage(ev)); err != nil {
			return 0, err
		}
	}
	return s.addClient(c), nil
}

func (s *Server) addClient(c *Client) int {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	s.clients[c] = true
	return len(s.clients)
}

func (s *Server) removeClient(c *Client) int {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	delete(s.clients, c)
	return len(s.clients)
}

// enableCORS is a middleware that adds CORS headers to responses
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// getOnly rejects every method except GET.
func getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// Handler returns the HTTP routes of the bridge. Requests are served with
// baseCtx, which Start cancels on shutdown.
func (s *Server) Handler(baseCtx context.Context) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(RouteHealth, enableCORS(getOnly(s.handleHealthCheck)))
	mux.HandleFunc(RouteStatus, enableCORS(getOnly(s.handleStatus)))
	if s.config.CAFile != "" {
		mux.HandleFunc(RouteCACert, getOnly(s.handleCACert))
	}

	mux.HandleFunc(RouteWebSocket, func(w http.ResponseWriter, r *http.Request) {
		s.handleWebSocket(w, r.WithContext(baseCtx))
	})

	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(buildinfo.DisplayName + " Running"))
	}))
	return mux
}

// Start starts the HTTP server and blocks until Stop is called.
func (s *Server) Start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		s.cancel()
		return fmt.Errorf("listen on port %d: %w", s.config.Port, err)
	}

	s.httpServer = &http.Server{
		Handler: s.Handler(s.ctx),
	}

	go func() {
		var serveErr error
		if s.config.TLSEnabled() {
			s.logger.Printf("Starting server on %s (TLS)", ln.Addr())
			serveErr = s.httpServer.ServeTLS(ln, s.config.CertFile, s.config.KeyFile)
		} else {
			s.logger.Printf("Starting server on %s", ln.Addr())
			serveErr = s.httpServer.Serve(ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Printf("HTTP server error: %v", serveErr)
			s.cancel()
		}
	}()

	if s.config.MDNS {
		if err := s.startMDNS(); err != nil {
			s.logger.Printf("Warning: Failed to start mDNS service: %v", err)
			s.logger.Printf("Auto-discovery will not be available, but server will continue normally")
		}
	}

	// Start lifecycle handlers (the RFID handler subscribes to controller events)
	s.handlerRegistry.StartLifecycleHandlers(s.ctx)

	<-s.ctx.Done()
	s.logger.Println("Server context cancelled, initiating shutdown...")
	return nil
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop() {
	if s.mdnsServer != nil {
		s.mdnsServer.Shutdown()
		s.mdnsServer = nil
		s.logger.Printf("mDNS service stopped")
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Printf("Server shutdown error: %v", err)
		}
	}

	s.clientsMux.Lock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
	s.clientsMux.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
}

// mdnsTXTRecords returns the text records advertised with the service.
func (s *Server) mdnsTXTRecords() []string {
	scheme := "ws"
	if s.config.TLSEnabled() {
		scheme = "wss"
	}
	secured := "false"
	if s.config.APISecret != "" {
		secured = "true"
	}
	return []string{
		"version=" + buildinfo.Version,
		"protocol=" + protocol.WSTypeRfidEvent + "/v" + buildinfo.ProtocolVersion,
		"path=" + RouteWebSocket,
		"scheme=" + scheme,
		"secret=" + secured,
	}
}

// startMDNS registers the agent as an mDNS service for auto-discovery
func (s *Server) startMDNS() error {
	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, s.config.Port, s.mdnsTXTRecords(), nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mdnsServer = server
	s.logger.Printf("mDNS service registered: %s (%s) on port %d", MDNSServiceName, MDNSServiceType, s.config.Port)
	return nil
}

// handleWebSocket upgrades HTTP connections to WebSocket connections and
// serves commands until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.config.APISecret != "" {
		if r.URL.Query().Get("secret") != s.config.APISecret {
			s.logger.Printf("WebSocket connection rejected: invalid API secret")
			http.Error(w, "Unauthorized: Invalid API secret", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := newClient(conn, r.RemoteAddr)
	total, err := s.join(client)
	if err != nil {
		s.logger.Printf("WebSocket write error for %s: %v", client.ShortID(), err)
		client.Close()
		return
	}
	s.logger.Printf("Client connected: %s from %s (total: %d)", client.ShortID(), r.RemoteAddr, total)

	defer func() {
		client.Close()
		total := s.removeClient(client)
		s.logger.Printf("Client disconnected: %s (total: %d)", client.ShortID(), total)
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Printf("WebSocket read error: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req protocol.WebSocketRequest
		if err := json.Unmarshal(message, &req); err != nil {
			s.logger.Printf("Failed to parse WebSocket message: %v", err)
			SendErrorResponse(client, protocol.WebSocketRequest{},
				protocol.ErrorPayload{Code: protocol.ErrCodeParseError}, "Invalid message format")
			continue
		}

		handler, ok := s.handlerRegistry.Get(req.Type)
		if !ok {
			s.logger.Printf("Unknown message type: %s", req.Type)
			SendErrorResponse(client, protocol.WebSocketRequest{ID: req.ID},
				protocol.ErrorPayload{Code: protocol.ErrCodeUnknownType},
				fmt.Sprintf("Unknown message type: %s", req.Type))
			continue
		}

		// Commands from one client run in order; the controller serializes
		// across clients.
		if err := handler(r.Context(), client, req); err != nil {
			s.logger.Printf("Handler error for message type '%s': %v", req.Type, err)
		}
	}
}

// handleHealthCheck provides a health check endpoint (GET /api/v1/health)
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// handleStatus reports the reader state (GET /api/v1/status)
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), DefaultCommandTimeout)
	defer cancel()

	c := s.config.Controller
	status, err := c.Status(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	name, err := c.ReaderName(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	inventorying, err := c.IsInventorying(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, protocol.AgentStatusResponse{
		Status:       string(status),
		ReaderName:   name,
		Inventorying: inventorying,
		Clients:      s.ClientCount(),
		Version:      buildinfo.FullVersion(),
	})
}

// handleCACert serves the CA certificate so clients can trust the bridge.
func (s *Server) handleCACert(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.config.CAFile)
	if err != nil {
		s.logger.Printf("Failed to read CA certificate: %v", err)
		http.Error(w, "CA certificate not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", "attachment; filename=\"rfid-agent-ca.pem\"")
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
