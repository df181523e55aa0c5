package vizserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/echolens/sonavision/internal/health"
	"github.com/echolens/sonavision/internal/pipeline"
	"github.com/echolens/sonavision/pkg/sonify"
	"github.com/echolens/sonavision/pkg/vision"
	"github.com/echolens/sonavision/pkg/vision/depth"
	"github.com/echolens/sonavision/pkg/vision/sample"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(Config{
		Params: pipeline.NewParamStore(sonify.DefaultParams()),
		Health: health.New(
			health.Checker{Name: "video-source", Check: func(context.Context) error { return nil }},
		),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_RequiresParams(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing params store")
	}
}

func TestGetParams_ReturnsCurrentSnapshot(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/params", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got paramsJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.F0 != sonify.DefaultF0 {
		t.Errorf("f0 = %v, want %v", got.F0, sonify.DefaultF0)
	}
	if got.RowStep != sonify.DefaultRowStep {
		t.Errorf("row_step = %d, want %d", got.RowStep, sonify.DefaultRowStep)
	}
}

func TestPutParams_PartialBodyUpdatesOnlyNamedFields(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"f0": 523.25}`)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/api/params", body))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body)
	}
	var got paramsJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.F0 != 523.25 {
		t.Errorf("f0 = %v, want 523.25", got.F0)
	}
	if got.Alpha != sonify.DefaultAlpha {
		t.Errorf("alpha = %v, want untouched default %v", got.Alpha, sonify.DefaultAlpha)
	}

	if live := s.params.Load(); live.F0 != 523.25 {
		t.Errorf("stored F0 = %v, want 523.25", live.F0)
	}
}

func TestPutParams_EchoesClampedValues(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"volume": 3, "f0": 50000, "row_step": 0}`)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/api/params", body))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body)
	}
	var got paramsJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Volume != 1 {
		t.Errorf("volume = %v, want clamped 1", got.Volume)
	}
	if got.F0 != 20000 {
		t.Errorf("f0 = %v, want clamped 20000", got.F0)
	}
	if got.RowStep != 1 {
		t.Errorf("row_step = %d, want clamped 1", got.RowStep)
	}
}

func TestPutParams_RejectsInvalidJSON(t *testing.T) {
	s := newTestServer(t)

	body := strings.NewReader(`{"f0": `)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/api/params", body))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	// A rejected body must not disturb the live parameters.
	if live := s.params.Load(); live != sonify.DefaultParams() {
		t.Errorf("params changed by invalid request: %+v", live)
	}
}

func TestHandler_RegistersHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rr.Code)
		}
	}
}

// ─── Panels ──────────────────────────────────────────────────────────────────

func testSnapshot(t *testing.T) pipeline.Snapshot {
	t.Helper()
	src, err := vision.NewSyntheticSource(vision.PatternDiagonal, 32, 24)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	frame, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	dm := depth.Estimate(frame, 1, 1)
	points := sample.Grid(frame, dm, 4, 4)
	return pipeline.Snapshot{
		Frame:   frame,
		Depth:   dm,
		Points:  points,
		Tones:   len(points),
		Seq:     frame.Seq,
		Elapsed: 2 * time.Millisecond,
	}
}

func TestPanels_EncodeDecodableJPEGs(t *testing.T) {
	snap := testSnapshot(t)

	panels := map[string][]byte{}
	var err error
	if panels["frame"], err = framePanel(snap.Frame); err != nil {
		t.Fatalf("framePanel: %v", err)
	}
	if panels["depth"], err = depthPanel(snap.Depth); err != nil {
		t.Fatalf("depthPanel: %v", err)
	}
	if panels["overlay"], err = overlayPanel(snap.Frame, snap.Points); err != nil {
		t.Fatalf("overlayPanel: %v", err)
	}

	for name, data := range panels {
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("%s panel does not decode: %v", name, err)
		}
		b := img.Bounds()
		if b.Dx() != 32 || b.Dy() != 24 {
			t.Errorf("%s panel = %dx%d, want 32x24", name, b.Dx(), b.Dy())
		}
	}
}

func TestDepthPanel_ZeroMapEncodes(t *testing.T) {
	dm := depth.Map{Width: 8, Height: 8, Depth: make([]float64, 64)}
	data, err := depthPanel(dm)
	if err != nil {
		t.Fatalf("depthPanel: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("zero-map panel does not decode: %v", err)
	}
}

func TestNewStatsPayload(t *testing.T) {
	snap := testSnapshot(t)

	var slot pipeline.Slot
	slot.Publish(&sonify.ToneSet{Seq: 1})
	slot.Publish(&sonify.ToneSet{Seq: 2}) // first set dropped

	got := newStatsPayload(snap, &slot, 3)
	if got.Seq != snap.Seq {
		t.Errorf("Seq = %d, want %d", got.Seq, snap.Seq)
	}
	if got.Tones != len(snap.Points) {
		t.Errorf("Tones = %d, want %d", got.Tones, len(snap.Points))
	}
	if got.FrameMs != 2 {
		t.Errorf("FrameMs = %v, want 2", got.FrameMs)
	}
	if got.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", got.Dropped)
	}
	if got.Width != 32 || got.Height != 24 {
		t.Errorf("dimensions = %dx%d, want 32x24", got.Width, got.Height)
	}
	if got.Clients != 3 {
		t.Errorf("Clients = %d, want 3", got.Clients)
	}
}

// ─── Hub ─────────────────────────────────────────────────────────────────────

func TestHub_BroadcastSkipsSlowClients(t *testing.T) {
	s := newTestServer(t)
	c := s.hub.add()
	defer s.hub.remove(c)

	// Fill the client's queue and keep broadcasting: the hub must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < sendBuffer*3; i++ {
			s.hub.broadcast([]byte("msg"))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}

	if got := len(c.send); got != sendBuffer {
		t.Errorf("queued messages = %d, want full buffer %d", got, sendBuffer)
	}
}

func TestHub_RemoveIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	c := s.hub.add()
	s.hub.remove(c)
	s.hub.remove(c) // second remove must not close the channel twice

	if s.Clients() != 0 {
		t.Errorf("Clients() = %d, want 0", s.Clients())
	}
}

func TestPublishSnapshot_NoViewersSkipsEncoding(t *testing.T) {
	s := newTestServer(t)
	// No clients connected: this must be a cheap no-op, not an error.
	s.PublishSnapshot(testSnapshot(t))
}

// ─── Websocket feed ──────────────────────────────────────────────────────────

func TestWebsocket_ReceivesPanelBroadcast(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The handler registers the client before entering its write loop.
	deadline := time.Now().Add(2 * time.Second)
	for s.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	snap := testSnapshot(t)
	s.PublishSnapshot(snap)

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Errorf("message type = %v, want text", typ)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("envelope decode: %v", err)
	}
	if env.Type != "panels" {
		t.Fatalf("envelope type = %q, want panels", env.Type)
	}
	if env.Panels == nil || env.Panels.Seq != snap.Seq {
		t.Fatalf("panels payload missing or wrong seq: %+v", env.Panels)
	}
	if _, err := jpeg.Decode(bytes.NewReader(env.Panels.Frame)); err != nil {
		t.Errorf("frame panel does not decode after transport: %v", err)
	}
	if env.Stats == nil || env.Stats.Tones != snap.Tones {
		t.Errorf("stats payload missing or wrong tone count: %+v", env.Stats)
	}
}

func TestWebsocket_DisconnectUnregisters(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	conn.Close(websocket.StatusNormalClosure, "done")

	for s.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered after close")
		}
		time.Sleep(time.Millisecond)
	}
}

var errProbe = errors.New("probe failure")

func TestHandler_ReadyzReflectsCheckers(t *testing.T) {
	s, err := New(Config{
		Params: pipeline.NewParamStore(sonify.DefaultParams()),
		Health: health.New(
			health.Checker{Name: "audio-sink", Check: func(context.Context) error { return errProbe }},
		),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}
