package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/kensa/internal/harness"
	"github.com/hyperjump/kensa/internal/models"
	"github.com/hyperjump/kensa/internal/search"
	"github.com/hyperjump/kensa/internal/storage"
)

// retrieveBody is the wire form of a retrieval request. Unset alpha, k, mode and
// filter.limit take the configured defaults.
type retrieveBody struct {
	Corpus      string        `json:"corpus"`
	Query       string        `json:"query"`
	Filter      models.Filter `json:"filter"`
	Alpha       *float64      `json:"alpha,omitempty"`
	K           int           `json:"k,omitempty"`
	Mode        models.Mode   `json:"mode,omitempty"`
	Model       string        `json:"model,omitempty"`
	EvidenceIDs []string      `json:"evidence_ids,omitempty"`
}

func (s *Server) toRequest(b retrieveBody) models.RetrieveRequest {
	def := s.config.Retrieval
	req := models.RetrieveRequest{
		Corpus: b.Corpus,
		Query:  b.Query,
		Filter: b.Filter,
		Alpha:  def.DefaultAlpha,
		K:      b.K,
		Mode:   b.Mode,
		Model:  b.Model,
	}
	if b.Alpha != nil {
		req.Alpha = *b.Alpha
	}
	if req.K == 0 {
		req.K = def.DefaultK
	}
	if req.Mode == "" {
		req.Mode = models.Mode(def.Mode)
	}
	if req.Filter.Limit == 0 {
		req.Filter.Limit = def.CandidateLimit
	}
	return req
}

type retrieveResult struct {
	*search.RetrieveResponse
	Parity *models.ParityVerdict `json:"parity,omitempty"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var body retrieveBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := s.toRequest(body)
	s.logger.Debug("retrieve request",
		zap.String("corpus", req.Corpus),
		zap.String("mode", string(req.Mode)),
		zap.Float64("alpha", req.Alpha),
		zap.Int("k", req.K))
	resp, err := s.engine.Retrieve(r.Context(), req)
	if err != nil {
		s.respondFailure(w, "retrieve failed", err)
		return
	}
	out := retrieveResult{RetrieveResponse: resp}
	status := http.StatusOK
	if body.EvidenceIDs != nil {
		v := s.engine.CheckParity(body.EvidenceIDs, resp.TopKIDs())
		out.Parity = &v
		if !v.SubsetOK {
			status = http.StatusConflict
		}
	}
	s.respondJSON(w, status, out)
}

type parityBody struct {
	EvidenceIDs []string `json:"evidence_ids"`
	TopK        []string `json:"top_k"`
}

// handleParity answers 200 with the verdict whether it passes or fails; the verdict is a value here.
func (s *Server) handleParity(w http.ResponseWriter, r *http.Request) {
	var body parityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.respondJSON(w, http.StatusOK, s.engine.CheckParity(body.EvidenceIDs, body.TopK))
}

type verifyBody struct {
	retrieveBody
	Runs int `json:"runs,omitempty"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	runs := body.Runs
	if runs == 0 {
		runs = s.config.Harness.Runs
	}
	// Verification always replays; an unset mode does not fall back to the configured one.
	if body.Mode == "" {
		body.Mode = models.ModeReplay
	}
	report, err := s.harness.Verify(r.Context(), s.toRequest(body.retrieveBody), runs)
	if err != nil {
		s.respondFailure(w, "verify failed", err)
		return
	}
	status := http.StatusOK
	if !report.Deterministic {
		status = http.StatusConflict
	}
	s.respondJSON(w, status, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type corpusStatus struct {
	Name      string `json:"name"`
	Documents int64  `json:"documents"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	names, err := s.catalogs.Corpora()
	if err != nil {
		s.logger.Error("status: list corpora failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	corpora := make([]corpusStatus, 0, len(names))
	for _, name := range names {
		corpora = append(corpora, s.corpusStatus(ctx, name))
	}

	resp := map[string]interface{}{
		"corpora": corpora,
	}
	configInfo := map[string]interface{}{
		"mode":            s.config.Retrieval.Mode,
		"default_alpha":   s.config.Retrieval.DefaultAlpha,
		"default_k":       s.config.Retrieval.DefaultK,
		"candidate_limit": s.config.Retrieval.CandidateLimit,
		"embedding_model": s.config.Embedding.Model,
		"catalog_dir":     s.config.Storage.CatalogDir,
		"ledger_path":     s.config.Storage.LedgerPath,
	}
	paths := []string{s.config.Storage.CatalogDir, s.config.Storage.LedgerPath}
	if s.vectors != nil {
		resp["cached_vectors"] = s.vectors.Len()
		configInfo["vector_cache_path"] = s.vectors.Path()
		paths = append(paths, s.vectors.Path())
	}
	if diskBytes, err := storage.DiskUsageBytes(paths...); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) corpusStatus(ctx context.Context, name string) corpusStatus {
	st := corpusStatus{Name: name}
	err := s.catalogs.View(ctx, name, func(c storage.Catalog) error {
		n, err := c.CountDocuments(ctx)
		st.Documents = n
		return err
	})
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidFilter),
		errors.Is(err, models.ErrInvalidWeight),
		errors.Is(err, models.ErrInvalidK),
		errors.Is(err, models.ErrInvalidMode),
		errors.Is(err, models.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrReplayCacheMiss):
		return http.StatusFailedDependency
	case errors.Is(err, models.ErrCatalogUnavailable),
		errors.Is(err, models.ErrFetchFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrParityViolation),
		errors.Is(err, models.ErrNondeterministic):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondFailure(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

var _ harness.Retriever = (*search.Engine)(nil)
