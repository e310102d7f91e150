package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"gridarena.ai/internal/sim/genome"
	"gridarena.ai/internal/sim/metrics"
	"gridarena.ai/internal/sim/round"
	"gridarena.ai/internal/sim/tuning"
)

// JSONLZstdWriter appends one JSON document per line to a zstd-compressed file.
type JSONLZstdWriter struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

func NewJSONLZstdWriter(path string) *JSONLZstdWriter {
	return &JSONLZstdWriter{path: path}
}

func (w *JSONLZstdWriter) Path() string { return w.path }

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		if err := w.openLocked(); err != nil {
			return err
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) openLocked() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

const (
	EntrySession = "session"
	EntryRound   = "round"
	EntryReport  = "report"
)

// SessionHeader is everything needed to re-run a session headless.
type SessionHeader struct {
	SessionID string        `json:"session_id"`
	Genome    genome.Genome `json:"genome"`
	Tuning    tuning.Tuning `json:"tuning"`
	FixedStep float64       `json:"fixed_step"`
	Realtime  bool          `json:"realtime"`
}

// Entry is one line of a round log.
type Entry struct {
	Type    string          `json:"type"`
	Session *SessionHeader  `json:"session,omitempty"`
	Round   *round.RoundEnd `json:"round,omitempty"`
	Report  *metrics.Report `json:"report,omitempty"`
}

// RoundLogger writes a session's header, every resolved round and the final report.
// It is a round.Sink; write failures are logged once and kept for Err.
type RoundLogger struct {
	round.NopSink

	w      *JSONLZstdWriter
	logger *stdlog.Logger
	err    error
}

// RoundLogPath is where a session's round log lives under dataDir.
func RoundLogPath(dataDir, sessionID string) string {
	return filepath.Join(dataDir, "sessions", sessionID, "rounds.jsonl.zst")
}

func NewRoundLogger(path string, hdr SessionHeader, logger *stdlog.Logger) (*RoundLogger, error) {
	if logger == nil {
		logger = stdlog.New(io.Discard, "", 0)
	}
	l := &RoundLogger{w: NewJSONLZstdWriter(path), logger: logger}
	if err := l.w.Write(Entry{Type: EntrySession, Session: &hdr}); err != nil {
		_ = l.w.Close()
		return nil, fmt.Errorf("round log header: %w", err)
	}
	return l, nil
}

func (l *RoundLogger) RoundEnded(ev round.RoundEnd) {
	l.record(l.w.Write(Entry{Type: EntryRound, Round: &ev}))
}

func (l *RoundLogger) SessionEnded(r metrics.Report) {
	l.record(l.w.Write(Entry{Type: EntryReport, Report: &r}))
}

func (l *RoundLogger) Err() error   { return l.err }
func (l *RoundLogger) Path() string { return l.w.Path() }
func (l *RoundLogger) Close() error { return l.w.Close() }

func (l *RoundLogger) record(err error) {
	if err == nil || l.err != nil {
		return
	}
	l.err = err
	l.logger.Printf("round log %s: %v", l.w.Path(), err)
}

// Log is a decoded round log.
type Log struct {
	Header SessionHeader
	Rounds []round.RoundEnd
	Report *metrics.Report
}

var ErrNoHeader = errors.New("round log has no session header")

func ReadFile(path string) (Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return Log{}, err
	}
	defer f.Close()
	return Read(f)
}

func Read(r io.Reader) (Log, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return Log{}, err
	}
	defer dec.Close()

	var out Log
	seenHeader := false
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		switch e.Type {
		case EntrySession:
			if e.Session != nil {
				out.Header = *e.Session
				seenHeader = true
			}
		case EntryRound:
			if e.Round != nil {
				out.Rounds = append(out.Rounds, *e.Round)
			}
		case EntryReport:
			out.Report = e.Report
		}
	}
	if err := sc.Err(); err != nil {
		return out, err
	}
	if !seenHeader {
		return out, ErrNoHeader
	}
	return out, nil
}
