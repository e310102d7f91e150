package observerproto

import (
	"encoding/json"

	"gridarena.ai/internal/sim/genome"
	"gridarena.ai/internal/sim/metrics"
	"gridarena.ai/internal/sim/round"
)

// Version is the observer protocol version.
const Version = "1.0"

const (
	TypeSubscribe  = "SUBSCRIBE"
	TypeInput      = "INPUT"
	TypeRoundStart = "ROUND_START"
	TypeFrame      = "FRAME"
	TypeRoundEnd   = "ROUND_END"
	TypeSessionEnd = "SESSION_END"
)

type BaseMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

func DecodeBase(b []byte) (BaseMsg, error) {
	var m BaseMsg
	err := json.Unmarshal(b, &m)
	return m, err
}

// Client -> Server. First message on the connection; may be re-sent to change settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// FrameEvery thins the FRAME stream to every Nth tick.
	FrameEvery int `json:"frame_every,omitempty"`
}

// Client -> Server. Dir is UP, DOWN, LEFT, RIGHT, or empty to release.
type InputMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Dir             string `json:"dir"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string        `json:"protocol_version"`
	SessionID       string        `json:"session_id"`
	Genome          genome.Genome `json:"genome"`
	TickRateHz      int           `json:"tick_rate_hz"`
	FixedStep       float64       `json:"fixed_step"`
	Manual          bool          `json:"manual"`
	Round           int           `json:"round"`
	State           string        `json:"state"`
}

// Server -> Client.
type RoundStartMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	round.RoundStart
}

// Server -> Client. Sent every published tick.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	round.Frame
}

type RoundEndMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	round.RoundEnd
}

type SessionEndMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Report          metrics.Report `json:"report"`
}
