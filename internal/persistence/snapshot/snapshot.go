package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"gridarena.ai/internal/sim/arena"
	"gridarena.ai/internal/sim/round"
	"gridarena.ai/internal/sim/spawn"
)

const Version = 1

type Header struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	Round     int    `json:"round"`
}

type ObstacleV1 struct {
	X     int     `json:"x"`
	Y     int     `json:"y"`
	Scale float64 `json:"scale"`
}

// ArenaV1 is the persisted layout of one round.
type ArenaV1 struct {
	Header Header `json:"header"`

	Seed     int64   `json:"seed"`
	Attempts int     `json:"attempts"`
	Solvable bool    `json:"solvable"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	CellSize float64 `json:"cell_size"`
	Walls    bool    `json:"walls"`

	Rows      []string     `json:"rows"`
	Obstacles []ObstacleV1 `json:"obstacles,omitempty"`
	Plan      spawn.Plan   `json:"plan"`
	Digest    string       `json:"digest"`
}

func FromRoundStart(ev round.RoundStart) ArenaV1 {
	a := ArenaV1{
		Header:   Header{Version: Version, SessionID: ev.SessionID, Round: ev.Round},
		Seed:     ev.Seed,
		Attempts: ev.Attempts,
		Solvable: ev.Solvable,
		Width:    ev.Arena.Width,
		Height:   ev.Arena.Height,
		CellSize: ev.Arena.CellSize,
		Walls:    ev.Arena.Walls,
		Rows:     append([]string(nil), ev.Arena.Rows...),
		Plan:     ev.Plan,
		Digest:   ev.Digest,
	}
	for _, o := range ev.Arena.Obstacles {
		a.Obstacles = append(a.Obstacles, ObstacleV1{X: o.Cell.X, Y: o.Cell.Y, Scale: o.Scale})
	}
	return a
}

func (a ArenaV1) Grid() *arena.Grid { return arena.FromRows(a.Rows, a.CellSize) }

// Verify recomputes the layout digest from the stored grid and spawns.
func (a ArenaV1) Verify() error {
	got := round.LayoutDigest(round.Layout{Grid: a.Grid(), Plan: a.Plan})
	if got != a.Digest {
		return fmt.Errorf("digest mismatch: stored %s, computed %s", a.Digest, got)
	}
	return nil
}

func Path(dir, sessionID string, roundIdx int) string {
	return filepath.Join(dir, "snapshots", sessionID, fmt.Sprintf("round-%03d.snap.zst", roundIdx))
}

func WriteArena(path string, snap ArenaV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// ReadHeader returns only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}

func ReadArena(path string) (ArenaV1, error) {
	var snap ArenaV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, err
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// Writer persists an ArenaV1 at every round start.
type Writer struct {
	round.NopSink

	dir    string
	logger *stdlog.Logger
}

func NewWriter(dir string, logger *stdlog.Logger) *Writer {
	if logger == nil {
		logger = stdlog.New(io.Discard, "", 0)
	}
	return &Writer{dir: dir, logger: logger}
}

func (w *Writer) RoundStarted(ev round.RoundStart) {
	p := Path(w.dir, ev.SessionID, ev.Round)
	if err := WriteArena(p, FromRoundStart(ev)); err != nil {
		w.logger.Printf("snapshot %s: %v", p, err)
	}
}
