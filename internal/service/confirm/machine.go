// Package confirm turns a noisy per-frame stream of best-candidate
// observations into a de-duplicated stream of confirmed detections.
//
// A label has to be seen on Threshold consecutive ticks before a
// confirmation is attempted. Attempts are written to the log only when no
// other confirmation (of any label) was logged within MinGap.
package confirm

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidThreshold = errors.New("confirm: threshold must be at least 1")
	ErrInvalidGap       = errors.New("confirm: minimum gap must not be negative")
)

const (
	DefaultThreshold = 3
	DefaultMinGap    = 2 * time.Second
)

// Config holds the construction parameters of a Machine.
type Config struct {
	Threshold int           // consecutive same-label ticks needed for an attempt
	MinGap    time.Duration // an attempt is logged only if strictly more than MinGap passed since the last entry
}

// DefaultConfig returns the stock parameters: three ticks, two seconds.
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, MinGap: DefaultMinGap}
}

// Validate reports whether the configuration can drive a Machine.
func (c Config) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidThreshold, c.Threshold)
	}
	if c.MinGap < 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidGap, c.MinGap)
	}
	return nil
}

// Observation is the strongest candidate of a single frame. The zero value
// means nothing crossed the detector's confidence floor.
type Observation struct {
	Label      string
	Confidence float64
}

// Empty reports whether the observation carries no label.
func (o Observation) Empty() bool {
	return o.Label == ""
}

// Confirmation is an accepted entry of the confirmed-detection log.
type Confirmation struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// String renders the entry the way it appears in the session log,
// e.g. "forceps (91.0%) - 14:03:22".
func (c Confirmation) String() string {
	return fmt.Sprintf("%s (%.1f%%) - %s", c.Label, c.Confidence*100, c.Timestamp.Format("15:04:05"))
}

// Machine is the confirmation state machine. It performs no I/O and never
// fails. It is not safe for concurrent use; callers serialise Observe.
type Machine struct {
	cfg Config

	label string
	count int

	log      []Confirmation
	tally    map[string]int
	attempts int
}

// New builds a Machine in the Idle state.
func New(cfg Config) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Machine{
		cfg:   cfg,
		tally: make(map[string]int),
	}, nil
}

// Observe feeds one tick into the machine. It returns the confirmation and
// true when an attempt was made on this tick and passed the acceptance gate.
//
// A failed capture or inference must not be passed in as an empty
// observation: an empty observation resets accumulation, so callers skip
// the call instead.
func (m *Machine) Observe(obs Observation, now time.Time) (Confirmation, bool) {
	if obs.Empty() {
		m.label = ""
		m.count = 0
		return Confirmation{}, false
	}

	if obs.Label == m.label {
		m.count++
	} else {
		m.label = obs.Label
		m.count = 1
	}

	if m.count < m.cfg.Threshold {
		return Confirmation{}, false
	}

	m.attempts++
	m.count = max(1, m.cfg.Threshold-2)

	if !m.accepts(now) {
		return Confirmation{}, false
	}

	c := Confirmation{Label: obs.Label, Confidence: obs.Confidence, Timestamp: now}
	m.log = append(m.log, c)
	m.tally[c.Label]++
	return c, true
}

// accepts is the anti-duplicate gate. It looks at the last logged entry
// regardless of its label.
func (m *Machine) accepts(now time.Time) bool {
	if len(m.log) == 0 {
		return true
	}
	return now.Sub(m.log[len(m.log)-1].Timestamp) > m.cfg.MinGap
}

// Statistics returns a copy of the per-label tally of accepted confirmations.
func (m *Machine) Statistics() map[string]int {
	out := make(map[string]int, len(m.tally))
	for k, v := range m.tally {
		out[k] = v
	}
	return out
}

// Log returns a copy of the confirmed-detection log in acceptance order.
func (m *Machine) Log() []Confirmation {
	out := make([]Confirmation, len(m.log))
	copy(out, m.log)
	return out
}

// Running returns the label currently accumulating support and its count.
// An idle machine returns ("", 0).
func (m *Machine) Running() (string, int) {
	return m.label, m.count
}

func (m *Machine) Threshold() int { return m.cfg.Threshold }

func (m *Machine) MinGap() time.Duration { return m.cfg.MinGap }

// Attempts counts every confirmation attempt, accepted or not.
func (m *Machine) Attempts() int { return m.attempts }

// Rejected counts attempts dropped by the anti-duplicate gate.
func (m *Machine) Rejected() int { return m.attempts - len(m.log) }
