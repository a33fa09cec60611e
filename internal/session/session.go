// Package session correlates the blocks reported by one device into a
// consistent snapshot and manages the sessions of many devices.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/resident-x/go-v2blocks/internal/codec"
	"github.com/resident-x/go-v2blocks/internal/domain"
	"github.com/resident-x/go-v2blocks/internal/validation"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultProtocolVersion is used until a device reports its version in block 1.
const DefaultProtocolVersion = 2000

// Field names of the protocol info block.
const (
	fieldProtocolVersion = "protocol_version"
	fieldDeviceType      = "device_type"
)

// Options configures sessions. Zero values select defaults.
type Options struct {
	// FallbackVersion is the protocol version used before block 1 arrives.
	FallbackVersion int
	// VersionOverride, when positive, is used for every block and block 1
	// no longer changes the session version.
	VersionOverride int
	// Timeout is the inactivity period after which the manager drops a session.
	Timeout time.Duration
	// CleanupInterval is how often the manager looks for expired sessions.
	CleanupInterval time.Duration

	Validator *validation.AdvancedValidator
	Metrics   *Metrics
	Logger    *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.FallbackVersion <= 0 {
		o.FallbackVersion = DefaultProtocolVersion
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Minute
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = time.Minute
	}
	return o
}

// Outcome is the result of ingesting one block.
type Outcome struct {
	BlockID  uint16                        `json:"block_id"`
	Version  int                           `json:"version"`
	Record   *domain.Record                `json:"record,omitempty"`
	Findings []*validation.ValidationError `json:"findings,omitempty"`
	Err      error                         `json:"-"`
	Kind     string                        `json:"result"`
}

// Payload is one block of a batch.
type Payload struct {
	BlockID uint16
	Data    []byte
}

// Session is the decoding context of one device.
type Session struct {
	ID        string
	DeviceKey string
	CreatedAt time.Time

	decoder domain.BlockDecoder
	opts    Options
	logger  zerolog.Logger

	mutex          sync.RWMutex
	version        int
	deviceType     int
	records        map[uint16]*domain.Record
	lastActivity   time.Time
	blocksReceived int64
	blocksDecoded  int64
	bytesReceived  int64
	errorCount     int64
	warningCount   int64
	lastError      string
	lastErrorKind  string
	lastErrorAt    time.Time
}

// NewSession creates a session for the device identified by deviceKey.
func NewSession(deviceKey string, decoder domain.BlockDecoder, opts Options) *Session {
	opts = opts.withDefaults()
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		DeviceKey:    deviceKey,
		CreatedAt:    now,
		decoder:      decoder,
		opts:         opts,
		records:      make(map[uint16]*domain.Record),
		lastActivity: now,
	}
	s.logger = logger.With().
		Str("component", "session").
		Str("device", deviceKey).
		Str("session_id", s.ID).
		Logger()
	return s
}

// Version returns the protocol version used to decode the next block.
func (s *Session) Version() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.versionLocked()
}

func (s *Session) versionLocked() int {
	switch {
	case s.opts.VersionOverride > 0:
		return s.opts.VersionOverride
	case s.version > 0:
		return s.version
	default:
		return s.opts.FallbackVersion
	}
}

// Ingest decodes one block payload with the session's protocol version and
// stores the record as the latest of its block. A failure is recorded and
// leaves the previous record of the block in place.
func (s *Session) Ingest(blockID uint16, payload []byte) (*Outcome, error) {
	version := s.Version()
	out := &Outcome{BlockID: blockID, Version: version}

	var findings []*validation.ValidationError
	if s.opts.Validator != nil {
		findings = s.opts.Validator.ValidatePayload(blockID, payload).Findings()
	}

	start := time.Now()
	rec, err := s.decoder.Decode(blockID, version, payload)
	elapsed := time.Since(start)
	s.opts.Metrics.observeIngest(blockID, len(payload), elapsed, err)

	out.Kind = codec.Kind(err)
	if err != nil {
		out.Err = err
		out.Findings = findings
		s.recordFailure(blockID, len(payload), err)
		return out, err
	}

	if s.opts.Validator != nil {
		findings = append(findings, s.opts.Validator.ValidateRecord(rec).Findings()...)
	}
	s.opts.Metrics.observeFindings(findings)
	out.Record = rec
	out.Findings = findings

	s.mutex.Lock()
	s.records[blockID] = rec
	s.blocksReceived++
	s.blocksDecoded++
	s.bytesReceived += int64(len(payload))
	s.warningCount += int64(len(findings))
	s.lastActivity = time.Now()
	if blockID == domain.BlockProtocolInfo {
		s.applyProtocolInfo(rec)
	}
	s.mutex.Unlock()

	for _, f := range findings {
		s.logger.Warn().
			Uint16("block", blockID).
			Str("field", f.Field).
			Str("severity", f.Severity).
			Msg(f.Message)
	}
	s.logger.Debug().
		Uint16("block", blockID).
		Int("version", version).
		Int("bytes", len(payload)).
		Dur("elapsed", elapsed).
		Msg("Block ingested")

	return out, nil
}

// applyProtocolInfo adopts the version and device type a device reports.
func (s *Session) applyProtocolInfo(rec *domain.Record) {
	if v, err := rec.Fields.Int(fieldProtocolVersion); err == nil && v > 0 {
		if s.opts.VersionOverride <= 0 && int(v) != s.version {
			s.logger.Info().
				Int("old_version", s.versionLocked()).
				Int64("new_version", v).
				Msg("Protocol version negotiated")
		}
		s.version = int(v)
	}
	if t, err := rec.Fields.Int(fieldDeviceType); err == nil {
		s.deviceType = int(t)
	}
}

func (s *Session) recordFailure(blockID uint16, size int, err error) {
	s.mutex.Lock()
	s.blocksReceived++
	s.bytesReceived += int64(size)
	s.errorCount++
	s.lastError = err.Error()
	s.lastErrorKind = codec.Kind(err)
	s.lastErrorAt = time.Now()
	s.lastActivity = s.lastErrorAt
	s.mutex.Unlock()

	event := s.logger.Error().Err(err).Uint16("block", blockID).Str("kind", codec.Kind(err))
	var trunc *codec.TruncatedGroupError
	if errors.As(err, &trunc) {
		event = event.Int("declared", trunc.Declared).Int("recoverable", trunc.Recoverable)
	}
	event.Msg("Block decode failed")
}

// IngestBatch ingests payloads in order. A failing block does not stop the
// batch; every payload gets an outcome.
func (s *Session) IngestBatch(payloads []Payload) []*Outcome {
	outcomes := make([]*Outcome, 0, len(payloads))
	for _, p := range payloads {
		out, _ := s.Ingest(p.BlockID, p.Data)
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Record returns a copy of the latest record of a block.
func (s *Session) Record(blockID uint16) (*domain.Record, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	rec, ok := s.records[blockID]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Touch marks the session as active.
func (s *Session) Touch() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActivity = time.Now()
}

// IsExpired checks if the session has expired based on inactivity.
func (s *Session) IsExpired(timeout time.Duration) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return time.Since(s.lastActivity) > timeout
}

// SessionStats represents session statistics for external consumption.
type SessionStats struct {
	ID              string        `json:"id"`
	DeviceKey       string        `json:"device_key"`
	ProtocolVersion int           `json:"protocol_version"`
	DeviceType      int           `json:"device_type"`
	CreatedAt       time.Time     `json:"created_at"`
	LastActivity    time.Time     `json:"last_activity"`
	BlocksReceived  int64         `json:"blocks_received"`
	BlocksDecoded   int64         `json:"blocks_decoded"`
	BytesReceived   int64         `json:"bytes_received"`
	ErrorCount      int64         `json:"error_count"`
	WarningCount    int64         `json:"warning_count"`
	LastError       string        `json:"last_error,omitempty"`
	LastErrorKind   string        `json:"last_error_kind,omitempty"`
	LastErrorAt     time.Time     `json:"last_error_at,omitempty"`
	Blocks          []uint16      `json:"blocks"`
	Duration        time.Duration `json:"duration"`
}

// GetStats returns a copy of the session statistics.
func (s *Session) GetStats() SessionStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return SessionStats{
		ID:              s.ID,
		DeviceKey:       s.DeviceKey,
		ProtocolVersion: s.versionLocked(),
		DeviceType:      s.deviceType,
		CreatedAt:       s.CreatedAt,
		LastActivity:    s.lastActivity,
		BlocksReceived:  s.blocksReceived,
		BlocksDecoded:   s.blocksDecoded,
		BytesReceived:   s.bytesReceived,
		ErrorCount:      s.errorCount,
		WarningCount:    s.warningCount,
		LastError:       s.lastError,
		LastErrorKind:   s.lastErrorKind,
		LastErrorAt:     s.lastErrorAt,
		Blocks:          sortedBlocks(s.records),
		Duration:        time.Since(s.CreatedAt),
	}
}

// String identifies the session in logs.
func (s *Session) String() string {
	return fmt.Sprintf("%s(%s)", s.DeviceKey, s.ID)
}
