package observer

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gridarena.ai/internal/observerproto"
	"gridarena.ai/internal/sim/arena"
	"gridarena.ai/internal/sim/control"
	"gridarena.ai/internal/sim/genome"
	"gridarena.ai/internal/sim/metrics"
	"gridarena.ai/internal/sim/round"
	"gridarena.ai/internal/sim/tuning"
)

func newTestServer(t *testing.T, in *control.HeldInput) (*Server, *httptest.Server) {
	t.Helper()
	g := genome.Defaults()
	g.Normalize()
	s := NewServer(Config{SessionID: "sess-1", Genome: g, Tuning: tuning.Defaults(), Input: in}, nil)
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	sub := observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return conn
}

func readType(t *testing.T, conn *websocket.Conn) (string, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := observerproto.DecodeBase(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return base.Type, b
}

func TestServer_StreamsRoundAndFrames(t *testing.T) {
	s, ts := newTestServer(t, nil)

	s.RoundStarted(round.RoundStart{
		SessionID: "sess-1",
		Round:     1,
		Rounds:    5,
		Arena:     round.ArenaView{Width: 2, Height: 1, Rows: []string{".#"}},
	})

	conn := dial(t, ts)
	typ, b := readType(t, conn)
	if typ != observerproto.TypeRoundStart {
		t.Fatalf("first message type=%s", typ)
	}
	var start observerproto.RoundStartMsg
	if err := json.Unmarshal(b, &start); err != nil {
		t.Fatalf("unmarshal round start: %v", err)
	}
	if start.Round != 1 || start.Arena.Rows[0] != ".#" {
		t.Fatalf("round start mismatch: %+v", start)
	}

	s.Frame(round.Frame{SessionID: "sess-1", Tick: 7, Round: 1, State: round.StateActive, Remaining: 12.5})
	typ, b = readType(t, conn)
	if typ != observerproto.TypeFrame {
		t.Fatalf("type=%s want FRAME", typ)
	}
	var fr observerproto.FrameMsg
	if err := json.Unmarshal(b, &fr); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if fr.Tick != 7 || fr.State != round.StateActive || fr.Remaining != 12.5 {
		t.Fatalf("frame mismatch: %+v", fr.Frame)
	}

	s.RoundEnded(round.RoundEnd{SessionID: "sess-1", Round: 1, Outcome: metrics.Outcome{Round: 1, Cause: metrics.CauseWin, Elapsed: 3}})
	typ, b = readType(t, conn)
	if typ != observerproto.TypeRoundEnd {
		t.Fatalf("type=%s want ROUND_END", typ)
	}
	var end observerproto.RoundEndMsg
	if err := json.Unmarshal(b, &end); err != nil {
		t.Fatalf("unmarshal round end: %v", err)
	}
	if end.Outcome.Cause != metrics.CauseWin {
		t.Fatalf("cause=%v", end.Outcome.Cause)
	}

	s.SessionEnded(metrics.Report{SessionID: "sess-1", TotalRounds: 5, Wins: 1, WinRate: 0.2})
	typ, _ = readType(t, conn)
	if typ != observerproto.TypeSessionEnd {
		t.Fatalf("type=%s want SESSION_END", typ)
	}
}

func TestServer_InputFeedsHeldInput(t *testing.T) {
	in := &control.HeldInput{}
	s, ts := newTestServer(t, in)
	s.RoundStarted(round.RoundStart{Round: 1})

	conn := dial(t, ts)
	if typ, _ := readType(t, conn); typ != observerproto.TypeRoundStart {
		t.Fatalf("type=%s", typ)
	}

	send := func(dir string) {
		msg := observerproto.InputMsg{Type: observerproto.TypeInput, ProtocolVersion: observerproto.Version, Dir: dir}
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write input: %v", err)
		}
	}
	waitFor := func(want arena.Dir, held bool) {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			d, h := in.Direction()
			if h == held && (!held || d == want) {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		d, h := in.Direction()
		t.Fatalf("input=%v held=%v want %v held=%v", d, h, want, held)
	}

	send("left")
	waitFor(arena.DirLeft, true)
	send("UP")
	waitFor(arena.DirUp, true)
	send("")
	waitFor(arena.DirUp, false)
}

func TestServer_RejectsBadSubscribe(t *testing.T) {
	_, ts := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(map[string]string{"type": "HELLO", "protocol_version": observerproto.Version}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestServer_ReportAvailableAfterSessionEnd(t *testing.T) {
	s, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/v1/report")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want 404", resp.StatusCode)
	}

	s.SessionEnded(metrics.Report{SessionID: "sess-1", TotalRounds: 2, Wins: 2, WinRate: 1})

	resp, err = http.Get(ts.URL + "/v1/report")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want 200", resp.StatusCode)
	}
	var rep metrics.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Wins != 2 || rep.WinRate != 1 {
		t.Fatalf("report mismatch: %+v", rep)
	}
}

func TestServer_BootstrapAndMetrics(t *testing.T) {
	s, ts := newTestServer(t, nil)
	s.AddMetrics(func(w io.Writer) { _, _ = io.WriteString(w, "extra_series 1\n") })
	s.Frame(round.Frame{Tick: 3, Round: 2, State: round.StateActive, Wins: 1})

	resp, err := http.Get(ts.URL + "/v1/bootstrap")
	if err != nil {
		t.Fatalf("get bootstrap: %v", err)
	}
	var boot observerproto.BootstrapResponse
	err = json.NewDecoder(resp.Body).Decode(&boot)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode bootstrap: %v", err)
	}
	if boot.SessionID != "sess-1" || boot.Round != 2 || boot.State != "active" || boot.TickRateHz != 50 {
		t.Fatalf("bootstrap mismatch: %+v", boot)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	body := string(b)
	for _, want := range []string{
		`gridarena_round{session="sess-1"} 2`,
		`gridarena_wins{session="sess-1"} 1`,
		`gridarena_round_active{session="sess-1"} 1`,
		`gridarena_frames_total{session="sess-1"} 1`,
		"extra_series 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:1234": true,
		"[::1]:80":       true,
		"10.0.0.2:5555":  false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}

func TestSendLatest_DropsOldest(t *testing.T) {
	ch := make(chan []byte, 1)
	sendLatest(ch, []byte("a"))
	sendLatest(ch, []byte("b"))
	if got := string(<-ch); got != "b" {
		t.Fatalf("got %q want b", got)
	}
}
