// Package api provides the HTTP inspection API: schema listing, ad hoc block
// decoding, timer encoding and access to telemetry sessions.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/resident-x/go-v2blocks/internal/codec"
	"github.com/resident-x/go-v2blocks/internal/config"
	"github.com/resident-x/go-v2blocks/internal/domain"
	"github.com/resident-x/go-v2blocks/internal/parser"
	"github.com/resident-x/go-v2blocks/internal/protocol"
	"github.com/resident-x/go-v2blocks/internal/schema"
	"github.com/resident-x/go-v2blocks/internal/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Options carries the collaborators the server exposes.
type Options struct {
	Registry *schema.Registry
	Sessions *session.Manager
	// Gatherer serves /metrics; nil selects the default registry.
	Gatherer prometheus.Gatherer
}

// Server represents the HTTP API server.
type Server struct {
	config    *config.Config
	server    *http.Server
	router    *mux.Router
	registry  *schema.Registry
	decoder   *parser.Parser
	encoder   *protocol.Encoder
	commands  *protocol.CommandBuilder
	responses *protocol.ResponseManager
	sessions  *session.Manager
	queues    *CommandQueueManager
	formats   *FormatConverter
	gatherer  prometheus.Gatherer
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(cfg *config.Config, opts Options) *Server {
	router := mux.NewRouter()
	logger := log.With().Str("component", "api").Logger()

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	apiServer := &Server{
		config:    cfg,
		router:    router,
		registry:  opts.Registry,
		decoder:   parser.NewParser(opts.Registry),
		encoder:   protocol.NewEncoder(opts.Registry),
		commands:  protocol.NewCommandBuilder(byte(cfg.Device.UnitAddress), opts.Registry),
		responses: protocol.NewResponseManager(),
		sessions:  opts.Sessions,
		queues:    NewCommandQueueManager(logger),
		formats:   NewFormatConverter(),
		gatherer:  gatherer,
		logger:    logger,
		startTime: time.Now(),
	}

	apiServer.setupRoutes()

	return apiServer
}

// setupRoutes configures all API endpoint handlers.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Schema tables
	api.HandleFunc("/schema/blocks", s.handleListBlocks).Methods("GET")
	api.HandleFunc("/schema/blocks/{id:[0-9]+}", s.handleGetBlock).Methods("GET")

	// Stateless codec operations
	api.HandleFunc("/blocks/{id:[0-9]+}/decode", s.handleDecode).Methods("POST")
	api.HandleFunc("/timers/encode", s.handleEncodeTimers).Methods("POST")

	// Telemetry sessions
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{key}", s.handleDeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{key}/snapshot", s.handleSnapshot).Methods("GET")
	api.HandleFunc("/sessions/{key}/blocks/{id:[0-9]+}", s.handleIngest).Methods("POST")
	api.HandleFunc("/sessions/{key}/frames", s.handleFrame).Methods("POST")
	api.HandleFunc("/sessions/{key}/timers", s.handleQueueTimers).Methods("POST")
	api.HandleFunc("/sessions/{key}/reads/{id:[0-9]+}", s.handleQueueRead).Methods("POST")
	api.HandleFunc("/sessions/{key}/commands", s.handleQueueFrame).Methods("POST")
	api.HandleFunc("/sessions/{key}/commands", s.handleDrainCommands).Methods("GET")

	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
}

// Handler returns the router serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("host", s.config.API.Host).
			Int("port", s.config.API.Port).
			Msg("Starting HTTP API server")

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	return nil
}

// handleStatus returns server status information.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"status":           "ok",
		"version":          "dev",
		"uptime":           time.Since(s.startTime).String(),
		"blockCount":       len(s.registry.Blocks()),
		"sessionCount":     s.sessions.Count(),
		"fallbackProtocol": s.config.ProtocolVersion,
		"responses":        s.responses.GetMetrics(),
		"unitAddress":      s.commands.Address(),
		"commandQueues":    s.queues.GetQueueCount(),
	}

	s.writeJSON(w, status, http.StatusOK)
}

// handleListBlocks summarizes every registered block.
func (s *Server) handleListBlocks(w http.ResponseWriter, _ *http.Request) {
	ids := s.registry.Blocks()
	result := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		sel, _ := s.registry.Selector(id)
		result = append(result, map[string]interface{}{
			"block":       id,
			"name":        sel.Block.Name,
			"description": sel.Block.Description,
			"writable":    sel.Block.Writable,
			"versions":    sel.Versions(),
		})
	}

	s.writeJSON(w, map[string]interface{}{
		"blocks": result,
		"count":  len(result),
	}, http.StatusOK)
}

// handleGetBlock returns the full table of one block.
func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := s.blockID(w, r)
	if !ok {
		return
	}
	sel, found := s.registry.Selector(id)
	if !found {
		s.writeError(w, fmt.Sprintf("Block %d not found", id), http.StatusNotFound)
		return
	}
	s.writeJSON(w, sel.Block, http.StatusOK)
}

// handleDecode decodes a payload posted in the request body.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	id, ok := s.blockID(w, r)
	if !ok {
		return
	}
	version, ok := s.version(w, r, s.config.ProtocolVersion)
	if !ok {
		return
	}
	payload, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	rec, err := s.decoder.Decode(id, version, payload)
	if err != nil {
		s.writeCodecError(w, err)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"record": rec,
		"bytes":  len(payload),
	}, http.StatusOK)
}

// timerRequest is the body of the timer endpoints.
type timerRequest struct {
	Tasks []domain.TimerTask `json:"tasks"`
}

func (s *Server) readTimers(w http.ResponseWriter, r *http.Request) ([]domain.TimerTask, bool) {
	var req timerRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, fmt.Sprintf("Invalid timer request: %v", err), http.StatusBadRequest)
		return nil, false
	}
	return req.Tasks, true
}

// encodeTimers builds the schedule payload and its write frame.
func (s *Server) encodeTimers(w http.ResponseWriter, version int, tasks []domain.TimerTask) (payload, frame []byte, ok bool) {
	payload, err := s.encoder.EncodeTimers(version, tasks)
	if err != nil {
		s.writeCodecError(w, err)
		return nil, nil, false
	}
	frame, err = s.commands.WriteBlockCommand(domain.BlockTimerSchedule, payload)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return nil, nil, false
	}
	return payload, frame, true
}

// handleEncodeTimers encodes a timer schedule for a protocol version.
func (s *Server) handleEncodeTimers(w http.ResponseWriter, r *http.Request) {
	version, ok := s.version(w, r, s.config.ProtocolVersion)
	if !ok {
		return
	}
	tasks, ok := s.readTimers(w, r)
	if !ok {
		return
	}
	payload, frame, ok := s.encodeTimers(w, version, tasks)
	if !ok {
		return
	}
	slots, _ := s.encoder.TimerSlots(version)

	s.writeJSON(w, map[string]interface{}{
		"version": version,
		"slots":   slots,
		"payload": hex.EncodeToString(payload),
		"frame":   protocol.FormatCommandHex(frame),
	}, http.StatusOK)
}

// handleListSessions returns statistics of every session.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	stats := s.sessions.All()
	s.writeJSON(w, map[string]interface{}{
		"sessions": stats,
		"count":    len(stats),
	}, http.StatusOK)
}

// handleDeleteSession drops a session and its pending commands.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if !s.sessions.Remove(key) {
		s.writeError(w, "Session not found", http.StatusNotFound)
		return
	}
	s.queues.RemoveQueue(key)
	w.WriteHeader(http.StatusNoContent)
}

// handleSnapshot returns the correlated state of a device.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, found := s.sessions.Get(mux.Vars(r)["key"])
	if !found {
		s.writeError(w, "Session not found", http.StatusNotFound)
		return
	}
	snap, err := sess.Snapshot()
	if err != nil {
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, snap, http.StatusOK)
}

// handleIngest feeds a block payload into a device session.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	id, ok := s.blockID(w, r)
	if !ok {
		return
	}
	payload, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	out, err := s.sessions.Ingest(mux.Vars(r)["key"], id, payload)
	s.writeOutcome(w, out, err, nil)
}

// writeOutcome writes the result of an ingest, merged into extra.
func (s *Server) writeOutcome(w http.ResponseWriter, out *session.Outcome, err error, extra map[string]interface{}) {
	body := map[string]interface{}{
		"block_id": out.BlockID,
		"version":  out.Version,
		"result":   out.Kind,
		"record":   out.Record,
		"findings": out.Findings,
	}
	for k, v := range extra {
		body[k] = v
	}
	if err != nil {
		body["error"] = err.Error()
		s.writeJSON(w, body, codecStatus(err))
		return
	}
	s.writeJSON(w, body, http.StatusOK)
}

// handleFrame accepts a raw response frame relayed from the device link. A
// read response is ingested as the block named by the block query parameter;
// a write response acknowledges a queued write.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	frame, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	resp, err := s.responses.HandleIncomingData(frame)
	if err != nil {
		var exc *protocol.ExceptionError
		switch {
		case errors.As(err, &exc):
			s.writeJSON(w, map[string]interface{}{
				"error":    err.Error(),
				"kind":     "device_exception",
				"function": exc.Function,
				"code":     exc.Code,
			}, http.StatusUnprocessableEntity)
		case errors.Is(err, protocol.ErrCRCMismatch):
			s.writeJSON(w, map[string]interface{}{
				"error": err.Error(),
				"kind":  "crc_mismatch",
			}, http.StatusBadRequest)
		default:
			s.writeError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	key := mux.Vars(r)["key"]
	if resp.Function == protocol.FunctionWriteBlock {
		if sess, found := s.sessions.Get(key); found {
			sess.Touch()
		}
		s.writeJSON(w, map[string]interface{}{
			"function":  "write",
			"block_id":  resp.BlockID,
			"registers": resp.Registers,
		}, http.StatusOK)
		return
	}

	raw := r.URL.Query().Get("block")
	id, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		s.writeError(w, "Read responses need a block query parameter", http.StatusBadRequest)
		return
	}
	s.logger.Debug().
		Str("device", key).
		Uint64("block", id).
		Str("payload", protocol.FormatResponse(resp)).
		Msg("Read response received")

	out, err := s.sessions.Ingest(key, uint16(id), resp.Payload)
	s.writeOutcome(w, out, err, map[string]interface{}{"function": "read"})
}

// handleQueueTimers encodes a schedule with the session's negotiated version
// and queues its write frame for the device.
func (s *Server) handleQueueTimers(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	sess, found := s.sessions.Get(key)
	if !found {
		s.writeError(w, "Session not found", http.StatusNotFound)
		return
	}
	tasks, ok := s.readTimers(w, r)
	if !ok {
		return
	}
	_, frame, ok := s.encodeTimers(w, sess.Version(), tasks)
	if !ok {
		return
	}

	s.queue(w, key, domain.BlockTimerSchedule, frame)
}

// handleQueueRead queues a read request for length bytes of a registered block.
func (s *Server) handleQueueRead(w http.ResponseWriter, r *http.Request) {
	id, ok := s.blockID(w, r)
	if !ok {
		return
	}
	if _, found := s.registry.Selector(id); !found {
		s.writeError(w, fmt.Sprintf("Block %d is not registered", id), http.StatusNotFound)
		return
	}
	length, err := strconv.Atoi(r.URL.Query().Get("length"))
	if err != nil {
		s.writeError(w, "Invalid length", http.StatusBadRequest)
		return
	}
	frame, err := s.commands.ReadBlockCommand(id, length)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.queue(w, mux.Vars(r)["key"], id, frame)
}

// handleQueueFrame queues a request frame built elsewhere. The frame must
// carry a valid CRC, a read or write function and this server's unit address.
func (s *Server) handleQueueFrame(w http.ResponseWriter, r *http.Request) {
	frame, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	if err := s.commands.ValidateCommand(frame); err != nil {
		body := map[string]interface{}{"error": err.Error()}
		if errors.Is(err, protocol.ErrCRCMismatch) {
			body["kind"] = "crc_mismatch"
		}
		s.writeJSON(w, body, http.StatusBadRequest)
		return
	}
	info := s.commands.ParseCommandInfo(frame)
	if !info.IsValid {
		s.writeError(w, "Frame is not a read or write request", http.StatusBadRequest)
		return
	}
	if info.Address != s.commands.Address() {
		s.writeError(w, fmt.Sprintf("Frame is addressed to unit %d, not %d", info.Address, s.commands.Address()), http.StatusBadRequest)
		return
	}
	s.queue(w, mux.Vars(r)["key"], info.BlockID, frame)
}

// queue adds a request frame to the device's queue and answers 202 with it.
func (s *Server) queue(w http.ResponseWriter, key string, blockID uint16, frame []byte) {
	cmd := PendingCommand{
		BlockID:  blockID,
		Frame:    frame,
		FrameHex: protocol.FormatCommandHex(frame),
		QueuedAt: time.Now(),
	}
	if err := s.queues.QueueCommand(key, cmd); err != nil {
		s.writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, cmd, http.StatusAccepted)
}

// handleDrainCommands hands the queued frames of a device to its transport.
// A device polling its queue counts as session activity.
func (s *Server) handleDrainCommands(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if sess, found := s.sessions.Get(key); found {
		sess.Touch()
	}
	pending := s.queues.Drain(key)
	s.writeJSON(w, map[string]interface{}{
		"commands": pending,
		"count":    len(pending),
	}, http.StatusOK)
}

func (s *Server) blockID(w http.ResponseWriter, r *http.Request) (uint16, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 16)
	if err != nil {
		s.writeError(w, "Invalid block id", http.StatusBadRequest)
		return 0, false
	}
	return uint16(id), true
}

func (s *Server) version(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		s.writeError(w, "Invalid version", http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	format, err := s.formats.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, "Failed to read request body", http.StatusBadRequest)
		return nil, false
	}
	payload, err := s.formats.Decode(body, format)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return payload, true
}

// codecStatus maps a codec error to an HTTP status.
func codecStatus(err error) int {
	switch {
	case errors.Is(err, codec.ErrUnknownBlock):
		return http.StatusNotFound
	case errors.Is(err, codec.ErrInvalidRecord):
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

// writeCodecError writes a codec error with its kind and, for truncated
// groups, how much of the group was recoverable.
func (s *Server) writeCodecError(w http.ResponseWriter, err error) {
	body := map[string]interface{}{
		"error": err.Error(),
		"kind":  codec.Kind(err),
	}
	var trunc *codec.TruncatedGroupError
	if errors.As(err, &trunc) {
		body["declared"] = trunc.Declared
		body["recoverable"] = trunc.Recoverable
	}
	var overflow *codec.ValueOverflowError
	if errors.As(err, &overflow) {
		body["field"] = overflow.Field
		body["value"] = overflow.Value
	}
	s.writeJSON(w, body, codecStatus(err))
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode error response")
	}
}
