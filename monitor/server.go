package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"strzcam.com/camshm/frame"
	"strzcam.com/camshm/health"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow connections from any origin
	},
}

type client struct {
	conn     *websocket.Conn
	writeMux sync.Mutex
}

// Server exposes pipeline health over HTTP and pushes it to websocket
// subscribers. It is a pure consumer: it maps the shared channels read-only
// through a health probe and never blocks the capture side.
type Server struct {
	port     uint16
	probe    *health.Probe
	interval time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewServer builds a status server probing on the given cadence.
func NewServer(port uint16, probe *health.Probe, interval time.Duration) *Server {
	if interval <= 0 {
		interval = time.Second
	}
	return &Server{
		port:     port,
		probe:    probe,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

func (s *Server) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.probe.Check())
}

func (s *Server) getPreview(framesName string, slots int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w)
		ring, err := frame.OpenRing(framesName, slots)
		if err != nil {
			http.Error(w, "frame ring not available", http.StatusServiceUnavailable)
			return
		}
		defer ring.Close()
		f, ok, err := ring.NewReader().ReadLatest()
		if err != nil || !ok {
			http.Error(w, "no frame yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		if f.Format == frame.FormatJPEG {
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write(f.Data)
			return
		}
		img, err := frame.DecodeImage(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
			return
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
			log.Printf("Error encoding preview: %v", err)
			http.Error(w, "encode failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(buf.Bytes())
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	log.Printf("Status subscriber connected (%d total)", n)

	// Reads are only consumed to notice the close.
	go func() {
		defer s.drop(c)
		conn.SetReadLimit(4096)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		c.conn.Close()
	}
	s.mu.Unlock()
}

func (s *Server) broadcast(rep *health.Report) {
	payload, err := json.Marshal(rep)
	if err != nil {
		log.Printf("Error encoding report: %v", err)
		return
	}
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.writeMux.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := c.conn.WriteMessage(websocket.TextMessage, payload)
		c.writeMux.Unlock()
		if err != nil {
			s.drop(c)
		}
	}
}

// Handler returns the monitor's HTTP surface.
func (s *Server) Handler(framesName string, slots int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.getStatus)
	mux.HandleFunc("/status/ws", s.serveWS)
	mux.HandleFunc("/preview", s.getPreview(framesName, slots))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		html := `
<!DOCTYPE html>
<html>
<head>
    <title>Pipeline Monitor</title>
</head>
<body>
    <h1>Pipeline Monitor ` + fmt.Sprintf("%d", s.port) + `</h1>
	<a href="/status">Status</a>
	<a href="/preview">Preview</a>
</body>
</html>`
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
	})
	return mux
}

// Run starts the probe loop and serves until ctx is done.
func (s *Server) Run(ctx context.Context, framesName string, slots int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(framesName, slots),
	}

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.broadcast(s.probe.Check())
			}
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Monitor listening on :%d", s.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
