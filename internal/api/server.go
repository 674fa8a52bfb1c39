// Package api exposes the sequencer's status surface: a gorilla/mux REST
// router kept in the shape of internal/api/server.go's original
// Server{router, httpServer} lifecycle, with routes rewritten from the
// teacher's block/tx/cas/gossip endpoints to the batcher/consensus
// operations this spec actually names. spec.md §1 excludes metrics
// *emission*, not a status surface, so /metrics here reports plain
// structured counters rather than wiring a Prometheus exporter.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/rechain/starknet-sequencer/internal/batcher"
	"github.com/rechain/starknet-sequencer/internal/core"
	"github.com/rechain/starknet-sequencer/internal/storage"
)

// consensusStatus is the narrow slice of MultiHeightManager the status
// route needs; kept as an interface so tests can supply a fake manager
// without standing up a real quorum.
type consensusStatus interface {
	CurrentHeight() core.BlockNumber
}

// Server is the REST API surface in front of the batcher facade and the
// consensus manager's status. Grounded on the teacher's Server{router,
// httpServer} struct and respond/writeError JSON helpers.
type Server struct {
	batcher    *batcher.Batcher
	consensus  consensusStatus
	reader     storage.Reader
	httpServer *http.Server
	router     *mux.Router

	startTime time.Time
}

// NewServer creates a new API server wired to b, the consensus manager,
// and a storage reader for height queries.
func NewServer(b *batcher.Batcher, consensus consensusStatus, reader storage.Reader) *Server {
	srv := &Server{
		batcher:   b,
		consensus: consensus,
		reader:    reader,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	srv.routes()
	srv.router.Use(requestIDMiddleware)
	return srv
}

// requestIDHeader is the header carrying the correlation id this
// middleware stamps on every response, matching the teacher's
// uuid.New().String() idiom for generating opaque request/transaction ids
// (internal/security.go, src/gcl/mock_gcl.go), repurposed here for HTTP
// request correlation instead of key/tx identifiers.
const requestIDHeader = "X-Request-Id"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// Router returns the server's handler, letting tests drive routes directly
// through httptest without binding a real listener.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the API server. Blocks until Stop shuts it down or the
// listener fails.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	log.Printf("API server starting on %s", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the API server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods("GET")

	s.router.HandleFunc("/heights/{height:[0-9]+}/start", s.handleStartHeight).Methods("POST")
	s.router.HandleFunc("/proposals/propose", s.handlePropose).Methods("POST")
	s.router.HandleFunc("/proposals/validate", s.handleValidate).Methods("POST")
	s.router.HandleFunc("/proposals/{id:[0-9]+}/content", s.handleSendContent).Methods("POST")
	s.router.HandleFunc("/proposals/{id:[0-9]+}/content", s.handleGetContent).Methods("GET")
	s.router.HandleFunc("/proposals/{id:[0-9]+}/decision", s.handleDecision).Methods("POST")
	s.router.HandleFunc("/sync", s.handleAddSyncBlock).Methods("POST")
}

func (s *Server) respond(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("api: error encoding response: %v", err)
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error, status int) {
	s.respond(w, map[string]string{"error": err.Error()}, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	}, http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	height, err := s.reader.Height(r.Context())
	if err != nil {
		s.writeError(w, err, http.StatusInternalServerError)
		return
	}
	s.respond(w, map[string]interface{}{
		"storage_height":   height,
		"consensus_height": s.consensus.CurrentHeight(),
		"uptime_seconds":   int(time.Since(s.startTime).Seconds()),
	}, http.StatusOK)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	height, _ := s.reader.Height(r.Context())
	s.respond(w, map[string]interface{}{
		"sequencer_storage_height":   height,
		"sequencer_consensus_height": s.consensus.CurrentHeight(),
		"sequencer_uptime_seconds":   int(time.Since(s.startTime).Seconds()),
	}, http.StatusOK)
}

func (s *Server) handleStartHeight(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}
	if err := s.batcher.StartHeight(r.Context(), core.BlockNumber(height)); err != nil {
		s.writeError(w, err, statusForBatcherErr(err))
		return
	}
	s.respond(w, map[string]string{"status": "active"}, http.StatusOK)
}

type proposeRequest struct {
	Height             uint64 `json:"height"`
	DeadlineMillis     int64  `json:"deadline_millis"`
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}
	input := batcher.ProposeBlockInput{
		Height:   core.BlockNumber(req.Height),
		Deadline: deadlineFromMillis(req.DeadlineMillis),
	}
	id, err := s.batcher.ProposeBlock(r.Context(), input)
	if err != nil {
		s.writeError(w, err, statusForBatcherErr(err))
		return
	}
	s.respond(w, map[string]interface{}{"proposal_id": id}, http.StatusOK)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}
	input := batcher.ValidateBlockInput{
		Height:   core.BlockNumber(req.Height),
		Deadline: deadlineFromMillis(req.DeadlineMillis),
	}
	id, err := s.batcher.ValidateBlock(r.Context(), input)
	if err != nil {
		s.writeError(w, err, statusForBatcherErr(err))
		return
	}
	s.respond(w, map[string]interface{}{"proposal_id": id}, http.StatusOK)
}

func deadlineFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().Add(3 * time.Second)
	}
	return time.Now().Add(time.Duration(ms) * time.Millisecond)
}

type sendContentRequest struct {
	Finish bool                  `json:"finish"`
	Txs    []batcher.ProposalTx `json:"txs"`
}

func (s *Server) handleSendContent(w http.ResponseWriter, r *http.Request) {
	id, err := parseProposalID(r)
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}
	var req sendContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}

	content := batcher.ProposalContent{Kind: batcher.ContentTxs, Txs: req.Txs}
	if req.Finish {
		content = batcher.ProposalContent{Kind: batcher.ContentFinish}
	}

	status, err := s.batcher.SendProposalContent(r.Context(), id, content)
	if err != nil {
		s.writeError(w, err, statusForBatcherErr(err))
		return
	}
	s.respond(w, statusPayload(status), http.StatusOK)
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	id, err := parseProposalID(r)
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}
	batch, err := s.batcher.GetProposalContent(r.Context(), id)
	if err != nil {
		s.writeError(w, err, statusForBatcherErr(err))
		return
	}
	payload := statusPayload(batch.Status)
	payload["txs"] = batch.Txs
	s.respond(w, payload, http.StatusOK)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	id, err := parseProposalID(r)
	if err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}
	diff, err := s.batcher.DecisionReached(r.Context(), id)
	if err != nil {
		s.writeError(w, err, statusForBatcherErr(err))
		return
	}
	s.respond(w, map[string]interface{}{"state_diff": diff}, http.StatusOK)
}

func (s *Server) handleAddSyncBlock(w http.ResponseWriter, r *http.Request) {
	var block batcher.SyncBlock
	if err := json.NewDecoder(r.Body).Decode(&block); err != nil {
		s.writeError(w, err, http.StatusBadRequest)
		return
	}
	if err := s.batcher.AddSyncBlock(r.Context(), block); err != nil {
		s.writeError(w, err, http.StatusInternalServerError)
		return
	}
	s.respond(w, map[string]string{"status": "committed"}, http.StatusOK)
}

func parseProposalID(r *http.Request) (core.ProposalId, error) {
	raw, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("api: invalid proposal id: %w", err)
	}
	return core.ProposalId(raw), nil
}

func statusPayload(status batcher.ProposalStatus) map[string]interface{} {
	payload := map[string]interface{}{"status": statusName(status.Kind)}
	if status.Kind == batcher.StatusFinished {
		payload["commitment"] = status.Commitment
	}
	return payload
}

func statusName(kind batcher.ProposalStatusKind) string {
	switch kind {
	case batcher.StatusFinished:
		return "finished"
	case batcher.StatusInvalidProposal:
		return "invalid_proposal"
	default:
		return "processing"
	}
}

// statusForBatcherErr maps the batcher's structured error taxonomy
// (spec.md §4.4) onto an HTTP status, falling back to 500 for anything
// unrecognized.
func statusForBatcherErr(err error) int {
	switch err {
	case batcher.ErrProposalNotFound, batcher.ErrExecutedProposalNotFound:
		return http.StatusNotFound
	case batcher.ErrHeightAlreadyPassed, batcher.ErrStorageNotSynced, batcher.ErrHeightInProgress,
		batcher.ErrNoActiveHeight, batcher.ErrMissingRetrospectiveBlockHash, batcher.ErrProposalAlreadyFinished:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
