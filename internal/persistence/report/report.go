// Package report writes the end-of-session metrics file.
package report

import (
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"

	"gridarena.ai/internal/sim/metrics"
	"gridarena.ai/internal/sim/round"
)

const FileName = "metrics.json"

// Path is where a session's report lands under dataDir.
func Path(dataDir, sessionID string) string {
	return filepath.Join(dataDir, "sessions", sessionID, FileName)
}

// WriteFile replaces path atomically with the indented JSON report.
func WriteFile(path string, r metrics.Report) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func ReadFile(path string) (metrics.Report, error) {
	var r metrics.Report
	b, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Sink writes the report when the session ends.
type Sink struct {
	round.NopSink

	path   string
	logger *stdlog.Logger
	err    error
}

func NewSink(path string, logger *stdlog.Logger) *Sink {
	return &Sink{path: path, logger: logger}
}

func (s *Sink) SessionEnded(r metrics.Report) {
	if err := WriteFile(s.path, r); err != nil {
		s.err = err
		if s.logger != nil {
			s.logger.Printf("write report %s: %v", s.path, err)
		}
		return
	}
	if s.logger != nil {
		s.logger.Printf("report written: %s (%s)", s.path, r.Summary())
	}
}

func (s *Sink) Path() string { return s.path }

// Err returns the last write error, if any.
func (s *Sink) Err() error { return s.err }
