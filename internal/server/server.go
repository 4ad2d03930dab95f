// Package server publishes a UT330 over HTTP: live readings over WebSocket,
// device operations as a small JSON API, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/ut330-logger/internal/export"
	"github.com/shaunagostinho/ut330-logger/internal/monitor"
	"github.com/shaunagostinho/ut330-logger/internal/ut330"
)

var log = logrus.WithField("component", "server")

// Server polls the device and broadcasts live frames to WebSocket clients.
type Server struct {
	cfg *Config
	dev *ut330.Device
	mon *monitor.Monitor

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	lastMu    sync.RWMutex
	last      *ut330.Offsets
	lastStamp time.Time
	polls     int
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Live      *ut330.Offsets `json:"live,omitempty"`
	Connected bool           `json:"connected"`
	Stamp     int64          `json:"stamp"` // Unix ms
}

// DeviceInfo is the body of GET /api/device.
type DeviceInfo struct {
	Name      string        `json:"name"`
	Config    *ut330.Config `json:"config"`
	Connected bool          `json:"connected"`
}

// New creates a Server for dev. The device observer should already feed mon.
func New(cfg *Config, dev *ut330.Device, mon *monitor.Monitor) *Server {
	return &Server{
		cfg:     cfg,
		dev:     dev,
		mon:     mon,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	mux.HandleFunc("/api/device", s.handleDevice)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/offsets", s.handleOffsets)
	mux.HandleFunc("/api/data", s.handleData)
	mux.HandleFunc("/api/data/delete", s.post(s.dev.DeleteData))
	mux.HandleFunc("/api/time/sync", s.post(s.dev.SyncTime))
	mux.HandleFunc("/api/factory-reset", s.post(s.dev.RestoreFactory))

	mux.Handle("/metrics", s.mon.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// Run starts the HTTP server and the polling loop, and blocks until ctx is
// done or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	go s.pollLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Infof("listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("ws upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	// Last known reading first, so a new page is not blank until the next poll.
	if data, err := json.Marshal(s.snapshot()); err == nil {
		client.send <- data
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	log.Infof("ws client connected (%d total)", n)

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader: only keeps the connection alive and notices the close.
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			log.Infof("ws client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// pollLoop reads the live values every poll interval and broadcasts them.
func (s *Server) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

// poll runs one polling step.
func (s *Server) poll() {
	connected := s.dev.IsConnected()
	s.mon.SetConnected(connected)
	if !connected {
		s.broadcast(Frame{Connected: false, Stamp: time.Now().UnixMilli()})
		return
	}

	live, err := s.dev.ReadOffsets()
	if err != nil {
		log.WithError(err).Warn("live read failed")
		s.broadcast(Frame{Connected: s.dev.IsConnected(), Stamp: time.Now().UnixMilli()})
		return
	}
	now := time.Now()
	s.mon.ObserveLive(live, now)

	s.lastMu.Lock()
	s.last, s.lastStamp = live, now
	s.polls++
	refreshConfig := s.cfg.Server.ConfigEvery > 0 && (s.polls-1)%s.cfg.Server.ConfigEvery == 0
	s.lastMu.Unlock()

	if refreshConfig {
		if c, err := s.dev.ReadConfig(); err == nil {
			s.mon.ObserveConfig(c)
		}
	}
	s.broadcast(Frame{Live: live, Connected: true, Stamp: now.UnixMilli()})
}

func (s *Server) snapshot() Frame {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	f := Frame{Live: s.last, Connected: s.dev.IsConnected(), Stamp: time.Now().UnixMilli()}
	if s.last != nil {
		f.Stamp = s.lastStamp.UnixMilli()
	}
	return f
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name, err := s.dev.ReadDeviceName()
	if err != nil {
		writeError(w, err)
		return
	}
	cfg, err := s.dev.ReadConfig()
	if err != nil {
		writeError(w, err)
		return
	}
	s.mon.ObserveConfig(cfg)
	writeJSON(w, DeviceInfo{Name: name, Config: cfg, Connected: true})
}

// handleConfig returns the config on GET. POST takes a partial config,
// merges it over the current one and writes the result.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.dev.ReadConfig()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, cfg)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		cur, err := s.dev.ReadConfig()
		if err != nil {
			writeError(w, err)
			return
		}
		var next ut330.Config
		if err := mergeJSON(cur, body, &next); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.dev.WriteConfig(next); err != nil {
			writeError(w, err)
			return
		}
		log.Infof("config updated: %+v", next)
		writeJSON(w, map[string]string{"status": "ok"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleOffsets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		o, err := s.dev.ReadOffsets()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, o)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		cur, err := s.dev.ReadOffsets()
		if err != nil {
			writeError(w, err)
			return
		}
		var next ut330.Offsets
		if err := mergeJSON(cur, body, &next); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.dev.WriteOffsets(next); err != nil {
			writeError(w, err)
			return
		}
		log.Infof("offsets updated: T%+.1f H%+.1f P%+.1f",
			next.TemperatureOffset, next.HumidityOffset, next.PressureOffset)
		writeJSON(w, map[string]string{"status": "ok"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleData downloads all stored readings as JSON, or CSV with ?format=csv.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	readings, err := s.dev.ReadData()
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="ut330.csv"`)
		if err := export.WriteCSV(w, readings); err != nil {
			log.WithError(err).Warn("csv export failed")
		}
		return
	}
	writeJSON(w, readings)
}

// post wraps a device command that takes no input.
func (s *Server) post(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := fn(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("write response")
	}
}

// statusFor maps a device error to an HTTP status.
func statusFor(err error) int {
	var ve *ut330.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, ut330.ErrNotConnected), errors.Is(err, ut330.ErrPortClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code != http.StatusBadRequest {
		log.WithError(err).Warn("device request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
