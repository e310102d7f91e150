package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"gridarena.ai/internal/observerproto"
	"gridarena.ai/internal/sim/arena"
	"gridarena.ai/internal/sim/control"
	"gridarena.ai/internal/sim/genome"
	"gridarena.ai/internal/sim/metrics"
	"gridarena.ai/internal/sim/round"
	"gridarena.ai/internal/sim/tuning"
)

type Config struct {
	SessionID string
	Genome    genome.Genome
	Tuning    tuning.Tuning

	// Input receives INPUT messages; nil ignores them.
	Input *control.HeldInput
}

// Server fans session events out to websocket observers. It is a round.Sink:
// event methods run on the ticking goroutine and never block.
type Server struct {
	cfg Config
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu        sync.Mutex
	clients   map[uint64]*client
	lastStart []byte
	last      round.Frame
	hasFrame  bool
	report    *metrics.Report
	extra     []func(io.Writer)

	framesTotal  atomic.Uint64
	droppedTotal atomic.Uint64
	inputsTotal  atomic.Uint64
}

type client struct {
	tickOut    chan []byte
	dataOut    chan []byte
	frameEvery uint64
}

func NewServer(cfg Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		cfg:     cfg,
		log:     logger,
		clients: map[uint64]*client{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// AddMetrics appends a writer of extra Prometheus series to GET /metrics.
func (s *Server) AddMetrics(fn func(w io.Writer)) {
	s.mu.Lock()
	s.extra = append(s.extra, fn)
	s.mu.Unlock()
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))

	r.Get("/v1/bootstrap", s.BootstrapHandler())
	r.Get("/v1/report", s.ReportHandler())
	r.Get("/v1/ws", s.WSHandler())
	r.Get("/metrics", s.MetricsHandler())
	return r
}

func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) RoundStarted(e round.RoundStart) {
	b, err := json.Marshal(observerproto.RoundStartMsg{
		Type:            observerproto.TypeRoundStart,
		ProtocolVersion: observerproto.Version,
		RoundStart:      e,
	})
	if err != nil {
		s.log.Printf("encode round start: %v", err)
		return
	}
	s.mu.Lock()
	s.lastStart = b
	s.hasFrame = false
	s.mu.Unlock()
	s.broadcast(b)
}

func (s *Server) Frame(f round.Frame) {
	s.framesTotal.Add(1)

	s.mu.Lock()
	s.last = f
	s.hasFrame = true
	n := len(s.clients)
	s.mu.Unlock()
	if n == 0 {
		return
	}

	b, err := json.Marshal(observerproto.FrameMsg{
		Type:            observerproto.TypeFrame,
		ProtocolVersion: observerproto.Version,
		Frame:           f,
	})
	if err != nil {
		s.log.Printf("encode frame: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.frameEvery > 1 && f.Tick%c.frameEvery != 0 {
			continue
		}
		sendLatest(c.tickOut, b)
	}
}

func (s *Server) RoundEnded(e round.RoundEnd) {
	b, err := json.Marshal(observerproto.RoundEndMsg{
		Type:            observerproto.TypeRoundEnd,
		ProtocolVersion: observerproto.Version,
		RoundEnd:        e,
	})
	if err != nil {
		s.log.Printf("encode round end: %v", err)
		return
	}
	s.broadcast(b)
}

func (s *Server) SessionEnded(r metrics.Report) {
	b, err := json.Marshal(observerproto.SessionEndMsg{
		Type:            observerproto.TypeSessionEnd,
		ProtocolVersion: observerproto.Version,
		Report:          r,
	})
	if err != nil {
		s.log.Printf("encode session end: %v", err)
		return
	}
	s.mu.Lock()
	s.report = &r
	s.mu.Unlock()
	s.broadcast(b)
}

func (s *Server) broadcast(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		select {
		case c.dataOut <- b:
		default:
			s.droppedTotal.Add(1)
		}
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			SessionID:       s.cfg.SessionID,
			Genome:          s.cfg.Genome,
			TickRateHz:      s.cfg.Tuning.TickRateHz,
			FixedStep:       s.cfg.Tuning.FixedStep,
			Manual:          s.cfg.Genome.Agent.UserControl,
			State:           round.StateSetup.String(),
		}
		s.mu.Lock()
		if s.hasFrame {
			resp.Round = s.last.Round
			resp.State = s.last.State.String()
		}
		if s.report != nil {
			resp.State = round.StateSessionEnd.String()
		}
		s.mu.Unlock()

		writeJSON(rw, http.StatusOK, resp)
	}
}

func (s *Server) ReportHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		s.mu.Lock()
		rep := s.report
		s.mu.Unlock()
		if rep == nil {
			writeJSON(rw, http.StatusNotFound, map[string]string{"error": "session still running"})
			return
		}
		writeJSON(rw, http.StatusOK, rep)
	}
}

func (s *Server) MetricsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		s.mu.Lock()
		f, hasFrame := s.last, s.hasFrame
		clients := len(s.clients)
		extra := append([]func(io.Writer){}, s.extra...)
		s.mu.Unlock()
		id := s.cfg.SessionID

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP gridarena_round Current round number.\n")
		fmt.Fprintf(rw, "# TYPE gridarena_round gauge\n")
		fmt.Fprintf(rw, "gridarena_round{session=%q} %d\n", id, f.Round)

		fmt.Fprintf(rw, "# HELP gridarena_wins Rounds won so far.\n")
		fmt.Fprintf(rw, "# TYPE gridarena_wins gauge\n")
		fmt.Fprintf(rw, "gridarena_wins{session=%q} %d\n", id, f.Wins)

		fmt.Fprintf(rw, "# HELP gridarena_time_remaining_seconds Round timer.\n")
		fmt.Fprintf(rw, "# TYPE gridarena_time_remaining_seconds gauge\n")
		fmt.Fprintf(rw, "gridarena_time_remaining_seconds{session=%q} %.3f\n", id, f.Remaining)

		fmt.Fprintf(rw, "# HELP gridarena_collected Targets collected this round.\n")
		fmt.Fprintf(rw, "# TYPE gridarena_collected gauge\n")
		fmt.Fprintf(rw, "gridarena_collected{session=%q} %d\n", id, f.Collected)

		active := 0
		if hasFrame && f.State == round.StateActive {
			active = 1
		}
		fmt.Fprintf(rw, "# HELP gridarena_round_active Whether a round is being played.\n")
		fmt.Fprintf(rw, "# TYPE gridarena_round_active gauge\n")
		fmt.Fprintf(rw, "gridarena_round_active{session=%q} %d\n", id, active)

		fmt.Fprintf(rw, "# HELP gridarena_frames_total Frames published.\n")
		fmt.Fprintf(rw, "# TYPE gridarena_frames_total counter\n")
		fmt.Fprintf(rw, "gridarena_frames_total{session=%q} %d\n", id, s.framesTotal.Load())

		fmt.Fprintf(rw, "# HELP gridarena_observer_clients Connected observers.\n")
		fmt.Fprintf(rw, "# TYPE gridarena_observer_clients gauge\n")
		fmt.Fprintf(rw, "gridarena_observer_clients{session=%q} %d\n", id, clients)

		fmt.Fprintf(rw, "# HELP gridarena_observer_dropped_total Event messages dropped for slow observers.\n")
		fmt.Fprintf(rw, "# TYPE gridarena_observer_dropped_total counter\n")
		fmt.Fprintf(rw, "gridarena_observer_dropped_total{session=%q} %d\n", id, s.droppedTotal.Load())

		fmt.Fprintf(rw, "# HELP gridarena_input_messages_total INPUT messages accepted.\n")
		fmt.Fprintf(rw, "# TYPE gridarena_input_messages_total counter\n")
		fmt.Fprintf(rw, "gridarena_input_messages_total{session=%q} %d\n", id, s.inputsTotal.Load())

		for _, fn := range extra {
			fn(rw)
		}
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		id := s.nextID.Add(1)
		c := &client{
			tickOut:    make(chan []byte, 8),
			dataOut:    make(chan []byte, 256),
			frameEvery: normalizeFrameEvery(sub.FrameEvery),
		}
		s.mu.Lock()
		s.clients[id] = c
		if s.lastStart != nil {
			c.dataOut <- s.lastStart
		}
		s.mu.Unlock()
		s.log.Printf("observer %d connected from %s", id, r.RemoteAddr)
		defer func() {
			s.mu.Lock()
			delete(s.clients, id)
			s.mu.Unlock()
			s.log.Printf("observer %d disconnected", id)
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine. Event messages go first so a ROUND_START precedes its frames.
		writeErr := make(chan error, 1)
		go func() {
			write := func(b []byte) error {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				return conn.WriteMessage(websocket.TextMessage, b)
			}
			for {
				select {
				case b := <-c.dataOut:
					if err := write(b); err != nil {
						writeErr <- err
						return
					}
					continue
				default:
				}
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-c.dataOut:
					if err := write(b); err != nil {
						writeErr <- err
						return
					}
				case b := <-c.tickOut:
					if err := write(b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: SUBSCRIBE updates and INPUT.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := observerproto.DecodeBase(msg)
			if err != nil || base.ProtocolVersion != observerproto.Version {
				continue
			}
			switch base.Type {
			case observerproto.TypeSubscribe:
				var sub observerproto.SubscribeMsg
				if err := json.Unmarshal(msg, &sub); err != nil {
					continue
				}
				s.mu.Lock()
				c.frameEvery = normalizeFrameEvery(sub.FrameEvery)
				s.mu.Unlock()
			case observerproto.TypeInput:
				var in observerproto.InputMsg
				if err := json.Unmarshal(msg, &in); err != nil {
					continue
				}
				s.applyInput(in)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) applyInput(in observerproto.InputMsg) {
	if s.cfg.Input == nil {
		return
	}
	s.inputsTotal.Add(1)
	if strings.TrimSpace(in.Dir) == "" || strings.EqualFold(in.Dir, "none") {
		s.cfg.Input.Release()
		return
	}
	d, ok := arena.ParseDir(in.Dir)
	if !ok {
		return
	}
	s.cfg.Input.Set(d)
}

func normalizeFrameEvery(n int) uint64 {
	if n <= 0 {
		return 1
	}
	if n > 1000 {
		n = 1000
	}
	return uint64(n)
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
