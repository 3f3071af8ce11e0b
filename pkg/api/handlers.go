package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rs/cors"

	"github.com/openverify/verify-api/pkg/builder"
	"github.com/openverify/verify-api/pkg/model"
	"github.com/openverify/verify-api/pkg/store"
	"github.com/openverify/verify-api/pkg/sweeper"
	"github.com/openverify/verify-api/pkg/verify"
)

const listPageSize = 50

// VerifyRequest is the submission body for the verify-family routes. Build
// parameters are advisory: the authoritative ones come from the program's
// on-chain registration.
type VerifyRequest struct {
	ProgramID  string   `json:"program_id"`
	Repository string   `json:"repository"`
	Commit     *string  `json:"commit_hash,omitempty"`
	LibName    *string  `json:"lib_name,omitempty"`
	BaseImage  *string  `json:"base_image,omitempty"`
	MountPath  *string  `json:"mount_path,omitempty"`
	BPFFlag    bool     `json:"bpf_flag,omitempty"`
	CargoArgs  []string `json:"cargo_args,omitempty"`
	Signer     *string  `json:"signer,omitempty"`
	WebhookURL string   `json:"webhook_url,omitempty"`
}

// Server wires the HTTP routes over the resolver and its stores.
type Server struct {
	service     *verify.Service
	store       *store.Store
	sweeper     *sweeper.Sweeper
	secret      string
	logsBaseURL string
	logger      *slog.Logger
}

// NewServer builds the HTTP surface.
func NewServer(svc *verify.Service, st *store.Store, sw *sweeper.Sweeper, secret, logsBaseURL string) *Server {
	return &Server{
		service:     svc,
		store:       st,
		sweeper:     sw,
		secret:      secret,
		logsBaseURL: logsBaseURL,
		logger:      slog.Default().With("component", "api"),
	}
}

// Handler assembles the route table. Write routes share a rate limiter;
// webhook routes require the configured secret.
func (s *Server) Handler() http.Handler {
	writes := NewWriteRateLimiter(5, 1024)
	limited := func(h http.HandlerFunc) http.Handler { return writes.Middleware(h) }
	guarded := func(h http.HandlerFunc) http.Handler { return RequireSecret(s.secret, h) }

	mux := http.NewServeMux()
	mux.Handle("POST /verify", limited(s.handleVerify))
	mux.Handle("POST /verify-with-signer", limited(s.handleVerifyWithSigner))
	mux.Handle("POST /verify_sync", limited(s.handleVerifySync))
	mux.Handle("POST /unverify", guarded(s.handleUnverifyHook))
	mux.Handle("POST /pda-updates", guarded(s.handlePdaUpdatesHook))

	mux.HandleFunc("GET /status/{program_id}", s.handleStatus)
	mux.HandleFunc("GET /status-all/{program_id}", s.handleStatusAll)
	mux.HandleFunc("GET /job/{build_id}", s.handleJob)
	mux.HandleFunc("GET /logs/{program_id}", s.handleLogs)
	mux.HandleFunc("GET /verified-programs", s.handleVerifiedPrograms)
	mux.HandleFunc("GET /verified-programs/{page}", s.handleVerifiedPrograms)
	mux.HandleFunc("GET /verified-programs-status", s.handleVerifiedProgramsStatus)
	mux.HandleFunc("GET /background-job/status", s.handleBackgroundJobStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleIndex)

	return cors.AllowAll().Handler(mux)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, false, false)
}

func (s *Server) handleVerifyWithSigner(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, true, false)
}

func (s *Server) handleVerifySync(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, false, true)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, withSigner, sync bool) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}
	if err := req.validate(withSigner); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	var signer *string
	if withSigner {
		signer = req.Signer
	}
	res, err := s.service.Verify(r.Context(), req.ProgramID, signer, req.WebhookURL, sync)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	// Untagged union on the wire: exactly one branch serializes.
	if res.Status != nil {
		WriteJSON(w, http.StatusOK, res.Status)
		return
	}
	WriteJSON(w, http.StatusOK, res.Ack)
}

func (s *Server) handleUnverifyHook(w http.ResponseWriter, r *http.Request) {
	txs, ok := decodeTransactions(w, r)
	if !ok {
		return
	}
	s.service.ProcessUpgrades(r.Context(), txs)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (s *Server) handlePdaUpdatesHook(w http.ResponseWriter, r *http.Request) {
	txs, ok := decodeTransactions(w, r)
	if !ok {
		return
	}
	s.service.ProcessPdaUpdates(r.Context(), txs)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func decodeTransactions(w http.ResponseWriter, r *http.Request) ([]verify.ParsedTransaction, bool) {
	var txs []verify.ParsedTransaction
	if err := json.NewDecoder(r.Body).Decode(&txs); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return nil, false
	}
	return txs, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	programID := r.PathValue("program_id")
	if err := validatePubkey("program_id", programID); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	resp, err := s.service.CheckIsVerified(r.Context(), programID, nil)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	programID := r.PathValue("program_id")
	if err := validatePubkey("program_id", programID); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	resp, err := s.service.GetAllVerificationInfo(r.Context(), programID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	buildID := r.PathValue("build_id")
	b, err := s.store.GetBuild(r.Context(), buildID)
	if store.IsNotFound(err) {
		WriteNotFound(w, "build not found")
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, jobResponse(b.Status))
}

func jobResponse(status model.JobStatus) model.JobResponse {
	switch status {
	case model.JobInProgress:
		return model.JobResponse{Status: model.JobInProgress, Message: "verification in progress"}
	case model.JobCompleted:
		return model.JobResponse{Status: model.JobCompleted, Message: "verification completed"}
	default:
		// Failed, and historical Unused rows read as failed.
		return model.JobResponse{Status: model.JobFailed, Message: "verification failed"}
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	programID := r.PathValue("program_id")
	if err := validatePubkey("program_id", programID); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	l, err := s.store.GetLatestBuildLog(r.Context(), programID)
	if store.IsNotFound(err) {
		WriteNotFound(w, "no build logs found for program")
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp := map[string]string{"file_name": l.ArtifactName}
	if s.logsBaseURL != "" {
		resp["url"] = s.logsBaseURL + "/" + l.ArtifactName
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifiedPrograms(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.PathValue("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteBadRequest(w, "page must be a positive integer")
			return
		}
		page = n
	}
	ids, err := s.store.ListVerifiedPrograms(r.Context(), page, listPageSize)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"verified_programs": ids})
}

func (s *Server) handleVerifiedProgramsStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.service.GetVerifiedProgramsStatus(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleBackgroundJobStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": s.sweeper.Health(r.Context())})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":         "ok",
		"background_job": s.sweeper.Health(r.Context()),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"service": "verify-api",
		"version": "1.0.0",
		"message": "solana program verification api",
	})
}

// writeServiceError maps resolver and store failures onto the wire.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, verify.ErrNoPda) {
		WriteNotFound(w, "program verification PDA not found")
		return
	}
	var serr *store.Error
	if errors.As(err, &serr) {
		WriteInternal(w, "unforeseen database error", err)
		return
	}
	var berr *builder.BuildError
	if errors.As(err, &berr) {
		WriteInternal(w, "unexpected error", err)
		return
	}
	WriteInternal(w, "unexpected error", err)
}
