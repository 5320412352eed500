// Package session holds the per-session detection context: the
// confirmation machine, the session's parameters and timing, and what the
// live view last showed.
package session

import (
	"fmt"
	"sync"
	"time"

	"medseen/internal/dto"
	"medseen/internal/service/confirm"
)

// Params are fixed for the lifetime of a session.
type Params struct {
	Confirm         confirm.Config
	ConfidenceFloor float64
}

// Session owns one confirmation machine. Observe and Skip are called by a
// single consumer; the read accessors are safe to call concurrently.
type Session struct {
	id        string
	source    string
	params    Params
	startedAt time.Time

	mu        sync.RWMutex
	machine   *confirm.Machine
	endedAt   time.Time
	last      dto.TickInfo
	ticks     int
	skipped   int
	finished  bool
}

// New creates a session that starts at startedAt.
func New(id, source string, params Params, startedAt time.Time) (*Session, error) {
	m, err := confirm.New(params.Confirm)
	if err != nil {
		return nil, err
	}
	return &Session{
		id:        id,
		source:    source,
		params:    params,
		startedAt: startedAt,
		machine:   m,
		last:      idleTick(params.Confirm.Threshold, startedAt),
	}, nil
}

func idleTick(threshold int, at time.Time) dto.TickInfo {
	return dto.TickInfo{
		Threshold: threshold,
		Progress:  fmt.Sprintf("0/%d", threshold),
		At:        at,
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Source() string       { return s.source }
func (s *Session) Params() Params       { return s.params }
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Observe applies one tick's observation and returns the tick summary and
// the confirmation accepted on this tick, if any.
func (s *Session) Observe(obs confirm.Observation, now time.Time) (dto.TickInfo, *confirm.Confirmation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	attempts := s.machine.Attempts()
	c, ok := s.machine.Observe(obs, now)
	_, count := s.machine.Running()
	threshold := s.machine.Threshold()

	info := idleTick(threshold, now)
	if !obs.Empty() {
		info.Detecting = true
		info.Label = obs.Label
		info.Confidence = obs.Confidence
		info.Count = count
		info.Progress = fmt.Sprintf("%d/%d", count, threshold)
	}
	info.Attempted = s.machine.Attempts() > attempts
	info.Confirmed = ok
	s.last = info

	if !ok {
		return info, nil
	}
	return info, &c
}

// Skip records a tick that produced no observation. The machine is left
// untouched so accumulation survives transient upstream failures.
func (s *Session) Skip(now time.Time) dto.TickInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	s.skipped++

	info := s.last
	info.Skipped = true
	info.Attempted = false
	info.Confirmed = false
	info.At = now
	s.last = info
	return info
}

// Finish marks the session as ended. Later calls keep the first end time.
func (s *Session) Finish(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return
	}
	s.finished = true
	s.endedAt = at
}

// EndedAt returns the end time and whether the session has finished.
func (s *Session) EndedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endedAt, s.finished
}

func (s *Session) Log() []confirm.Confirmation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machine.Log()
}

func (s *Session) Statistics() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machine.Statistics()
}

// Status summarises the session for the API. now is used for the duration
// of a session that is still running.
func (s *Session) Status(now time.Time) dto.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	end := now
	var endedAt *time.Time
	if s.finished {
		end = s.endedAt
		t := s.endedAt
		endedAt = &t
	}

	return dto.SessionStatus{
		Running:         !s.finished,
		ID:              s.id,
		Source:          s.source,
		StartedAt:       s.startedAt,
		EndedAt:         endedAt,
		DurationSeconds: end.Sub(s.startedAt).Seconds(),
		Threshold:       s.params.Confirm.Threshold,
		MinGapMillis:    s.params.Confirm.MinGap.Milliseconds(),
		Confirmations:   len(s.machine.Log()),
		Attempts:        s.machine.Attempts(),
		Rejected:        s.machine.Rejected(),
		Ticks:           s.ticks,
		SkippedTicks:    s.skipped,
		Statistics:      s.machine.Statistics(),
		Last:            s.last,
	}
}
