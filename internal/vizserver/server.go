// Package vizserver exposes the running demo over HTTP: a websocket feed of
// JPEG panels (raw frame, depth map, sampled-grid overlay) plus an Opus
// monitor stream, and a small JSON API for reading and updating the mapping
// parameters live.
package vizserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/echolens/sonavision/internal/health"
	"github.com/echolens/sonavision/internal/observe"
	"github.com/echolens/sonavision/internal/pipeline"
	"github.com/echolens/sonavision/pkg/audio"
	"github.com/echolens/sonavision/pkg/audio/opus"
	"github.com/echolens/sonavision/pkg/sonify"
)

// Config assembles a Server.
type Config struct {
	// Params is the live parameter store shared with the pipeline.
	Params *pipeline.ParamStore

	// Slot, when set, is used for drop/stale stats in the websocket feed.
	Slot *pipeline.Slot

	// Health, when set, registers /healthz and /readyz on the server's mux.
	Health *health.Handler

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Server is the visualization and control surface. Create with New, mount
// with Handler, and feed it via PublishSnapshot and PublishAudio from the
// pipeline taps.
type Server struct {
	params  *pipeline.ParamStore
	slot    *pipeline.Slot
	health  *health.Handler
	metrics *observe.Metrics
	hub     *hub

	// encMu serializes the stateful Opus encoder against concurrent taps.
	encMu sync.Mutex
	enc   *opus.Encoder
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Params == nil {
		return nil, fmt.Errorf("vizserver: params store is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	enc, err := opus.NewEncoder()
	if err != nil {
		return nil, fmt.Errorf("vizserver: monitor encoder: %w", err)
	}
	return &Server{
		params:  cfg.Params,
		slot:    cfg.Slot,
		health:  cfg.Health,
		metrics: cfg.Metrics,
		hub:     newHub(cfg.Metrics),
		enc:     enc,
	}, nil
}

// Handler returns the server's routes wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/params", s.handleGetParams)
	mux.HandleFunc("PUT /api/params", s.handlePutParams)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.health != nil {
		s.health.Register(mux)
	}
	return observe.Middleware(s.metrics)(mux)
}

// Clients returns the number of connected websocket viewers.
func (s *Server) Clients() int { return s.hub.count() }

// ─── Pipeline taps ───────────────────────────────────────────────────────────

// envelope is the websocket wire format. Exactly one payload field is set,
// selected by Type. Byte slices marshal as base64 per encoding/json.
type envelope struct {
	Type   string         `json:"type"`
	Panels *panelsPayload `json:"panels,omitempty"`
	Stats  *statsPayload  `json:"stats,omitempty"`
	Audio  *audioPayload  `json:"audio,omitempty"`
}

type panelsPayload struct {
	Seq     uint64 `json:"seq"`
	Frame   []byte `json:"frame"`
	Depth   []byte `json:"depth"`
	Overlay []byte `json:"overlay"`
}

type audioPayload struct {
	Codec   string   `json:"codec"`
	Packets [][]byte `json:"packets"`
}

// PublishSnapshot renders the three panels from a pipeline snapshot and
// broadcasts them with stats. Called once per processed frame; when no client
// is connected it returns before encoding anything.
func (s *Server) PublishSnapshot(snap pipeline.Snapshot) {
	n := s.hub.count()
	if n == 0 {
		return
	}

	frame, err := framePanel(snap.Frame)
	if err != nil {
		slog.Warn("panel encode failed", "panel", "frame", "err", err)
		return
	}
	dm, err := depthPanel(snap.Depth)
	if err != nil {
		slog.Warn("panel encode failed", "panel", "depth", "err", err)
		return
	}
	overlay, err := overlayPanel(snap.Frame, snap.Points)
	if err != nil {
		slog.Warn("panel encode failed", "panel", "overlay", "err", err)
		return
	}

	stats := newStatsPayload(snap, s.slot, n)
	s.send(envelope{
		Type: "panels",
		Panels: &panelsPayload{
			Seq:     snap.Seq,
			Frame:   frame,
			Depth:   dm,
			Overlay: overlay,
		},
		Stats: &stats,
	})
}

// PublishAudio encodes a rendered block into Opus packets and broadcasts
// them. Called once per audio block from the monitor tap.
func (s *Server) PublishAudio(buf audio.Buffer) {
	if s.hub.count() == 0 {
		return
	}

	s.encMu.Lock()
	packets, err := s.enc.Encode(buf)
	s.encMu.Unlock()
	if err != nil {
		slog.Warn("monitor encode failed", "err", err)
		return
	}
	if len(packets) == 0 {
		return
	}
	s.send(envelope{
		Type:  "audio",
		Audio: &audioPayload{Codec: "opus", Packets: packets},
	})
}

func (s *Server) send(env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Warn("envelope marshal failed", "type", env.Type, "err", err)
		return
	}
	s.hub.broadcast(data)
}

// ─── Websocket feed ──────────────────────────────────────────────────────────

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The demo UI is served from arbitrary local origins.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}

	c := s.hub.add()
	defer s.hub.remove(c)
	slog.Info("viewer connected", "client", c.id, "clients", s.hub.count())
	defer slog.Info("viewer disconnected", "client", c.id)

	ctx := r.Context()

	// Viewers only listen; drain reads so pings are answered and closure
	// is noticed.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case msg, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

// ─── Parameter API ───────────────────────────────────────────────────────────

// paramsJSON is the wire mirror of [sonify.Params].
type paramsJSON struct {
	F0         float64 `json:"f0"`
	Alpha      float64 `json:"alpha"`
	Beta       float64 `json:"beta"`
	BlurRadius float64 `json:"blur_radius"`
	DepthScale float64 `json:"depth_scale"`
	Gamma      float64 `json:"gamma"`
	Volume     float64 `json:"volume"`
	Reverb     float64 `json:"reverb"`
	RowStep    int     `json:"row_step"`
	ColStep    int     `json:"col_step"`
}

func toJSON(p sonify.Params) paramsJSON {
	return paramsJSON{
		F0:         p.F0,
		Alpha:      p.Alpha,
		Beta:       p.Beta,
		BlurRadius: p.BlurRadius,
		DepthScale: p.DepthScale,
		Gamma:      p.Gamma,
		Volume:     p.Volume,
		Reverb:     p.Reverb,
		RowStep:    p.RowStep,
		ColStep:    p.ColStep,
	}
}

func (j paramsJSON) toParams() sonify.Params {
	return sonify.Params{
		F0:         j.F0,
		Alpha:      j.Alpha,
		Beta:       j.Beta,
		BlurRadius: j.BlurRadius,
		DepthScale: j.DepthScale,
		Gamma:      j.Gamma,
		Volume:     j.Volume,
		Reverb:     j.Reverb,
		RowStep:    j.RowStep,
		ColStep:    j.ColStep,
	}
}

func (s *Server) handleGetParams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toJSON(s.params.Load()))
}

// handlePutParams replaces the parameter snapshot. The body starts from the
// current values, so a partial JSON object updates only the fields it names.
// The stored result is the clamped snapshot, which is echoed back.
func (s *Server) handlePutParams(w http.ResponseWriter, r *http.Request) {
	body := toJSON(s.params.Load())
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON body: " + err.Error(),
		})
		return
	}

	s.params.Store(body.toParams())
	applied := s.params.Load()
	slog.Info("parameters updated",
		"f0", applied.F0,
		"alpha", applied.Alpha,
		"beta", applied.Beta,
		"volume", applied.Volume,
	)
	writeJSON(w, http.StatusOK, toJSON(applied))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}
