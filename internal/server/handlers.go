package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/auth"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/cache"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/rag"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/service"
)

// User-facing messages for failed questions.
const (
	msgGenerationFailed = "Answer generation failed. Please try again."
	msgRetrievalFailed  = "Document search failed. Please try again."
	msgInternal         = "internal server error"
)

const readinessTimeout = 2 * time.Second

type api struct {
	Handlers
	logger         *slog.Logger
	maxUploadBytes int64
}

type errorResponse struct {
	Error     string `json:"error"`
	Stage     string `json:"stage,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type queryRequest struct {
	Query         string   `json:"query"`
	TopKRetrieval *int     `json:"top_k_retrieval,omitempty"`
	TopKFinal     *int     `json:"top_k_final,omitempty"`
	MinScore      *float32 `json:"min_score,omitempty"`
	UseReranker   *bool    `json:"use_reranker,omitempty"`
	Temperature   *float32 `json:"temperature,omitempty"`
	MaxTokens     *int     `json:"max_tokens,omitempty"`
	Provider      string   `json:"provider,omitempty"`
}

type sourceResponse struct {
	Label        string   `json:"label"`
	DocumentID   string   `json:"document_id"`
	DocumentName string   `json:"document_name"`
	ChunkIndex   int      `json:"chunk_index"`
	Page         string   `json:"page,omitempty"`
	Text         string   `json:"text"`
	Score        float32  `json:"score"`
	RerankScore  *float32 `json:"rerank_score,omitempty"`
}

type answerResponse struct {
	Query          string           `json:"query"`
	Answer         string           `json:"answer"`
	Outcome        rag.Outcome      `json:"outcome"`
	Success        bool             `json:"success"`
	Message        string           `json:"message,omitempty"`
	Provider       string           `json:"provider"`
	Sources        []sourceResponse `json:"sources"`
	Verification   rag.Verification `json:"verification"`
	Timings        rag.Timings      `json:"timings"`
	CandidateCount int              `json:"candidate_count"`
	Reranked       bool             `json:"reranked"`
	RerankFallback bool             `json:"rerank_fallback"`
	CacheHit       bool             `json:"cache_hit"`
}

type uploadRequest struct {
	Name     string            `json:"name"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type documentResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Status       string            `json:"status"`
	ChunkCount   int               `json:"chunk_count"`
	ContentHash  string            `json:"content_hash"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type documentListResponse struct {
	Documents []documentResponse `json:"documents"`
	Total     int                `json:"total"`
	Offset    int                `json:"offset"`
}

type chunkResponse struct {
	Index     int               `json:"index"`
	Text      string            `json:"text"`
	StartChar int               `json:"start_char"`
	EndChar   int               `json:"end_char"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type queryRecordResponse struct {
	ID               string    `json:"id"`
	Query            string    `json:"query"`
	Provider         string    `json:"provider"`
	Answer           string    `json:"answer"`
	Outcome          string    `json:"outcome"`
	ChunksRetrieved  int       `json:"chunks_retrieved"`
	CacheHit         bool      `json:"cache_hit"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

type statsResponse struct {
	Corpus *service.CorpusStats `json:"corpus"`
	Cache  *cache.Stats         `json:"cache,omitempty"`
}

func (a *api) query(w http.ResponseWriter, r *http.Request) {
	var body queryRequest
	if err := decodeJSON(w, r, &body, 64<<10); err != nil {
		a.writeError(w, r, err)
		return
	}

	req := a.Pipeline.NewRequest(body.Query)
	if body.TopKRetrieval != nil {
		req.TopKRetrieval = *body.TopKRetrieval
	}
	if body.TopKFinal != nil {
		req.TopKFinal = *body.TopKFinal
	}
	if body.MinScore != nil {
		req.MinScore = *body.MinScore
	}
	if body.UseReranker != nil {
		req.UseReranker = *body.UseReranker
	}
	if body.Temperature != nil {
		req.Temperature = *body.Temperature
	}
	if body.MaxTokens != nil {
		req.MaxTokens = *body.MaxTokens
	}
	req.Provider = body.Provider

	answer, err := a.Pipeline.AnswerQuestion(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnswerResponse(answer))
}

func (a *api) info(w http.ResponseWriter, r *http.Request) {
	names, def := a.Pipeline.Providers()
	writeJSON(w, http.StatusOK, map[string]any{
		"providers":        names,
		"default_provider": def,
		"reranker_model":   a.Pipeline.RerankerModel(),
	})
}

func (a *api) listQueries(w http.ResponseWriter, r *http.Request) {
	if a.Queries == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "query history is not enabled"})
		return
	}
	limit, offset, err := pageParams(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	records, total, err := a.Queries.ListQueries(r.Context(), limit, offset)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]queryRecordResponse, len(records))
	for i, rec := range records {
		out[i] = queryRecordResponse{
			ID:               rec.ID.String(),
			Query:            rec.Query,
			Provider:         rec.Provider,
			Answer:           rec.Answer,
			Outcome:          rec.Outcome,
			ChunksRetrieved:  rec.ChunksRetrieved,
			CacheHit:         rec.CacheHit,
			ProcessingTimeMS: rec.ProcessingTimeMS,
			CreatedAt:        rec.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": out, "total": total, "offset": offset})
}

func (a *api) uploadDocument(w http.ResponseWriter, r *http.Request) {
	upload, err := a.readUpload(w, r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	doc, err := a.Documents.Upload(r.Context(), upload.Name, upload.Content, upload.Metadata)
	if err != nil {
		if doc != nil {
			a.logger.Error("document_upload_failed", "document_id", doc.ID, "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":    "indexing failed",
				"document": toDocumentResponse(doc),
			})
			return
		}
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

// readUpload accepts a JSON body or a multipart form with a "file" part.
func (a *api) readUpload(w http.ResponseWriter, r *http.Request) (*uploadRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var body uploadRequest
		if err := decodeJSON(w, r, &body, a.maxUploadBytes); err != nil {
			return nil, err
		}
		if !utf8.ValidString(body.Content) {
			return nil, fmt.Errorf("%w: content must be UTF-8 text", rag.ErrInvalidRequest)
		}
		return &body, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes)
	if err := r.ParseMultipartForm(a.maxUploadBytes); err != nil {
		return nil, fmt.Errorf("%w: %w", rag.ErrInvalidRequest, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: file part is required", rag.ErrInvalidRequest)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: reading upload: %w", rag.ErrInvalidRequest, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: only UTF-8 text documents are supported", rag.ErrInvalidRequest)
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	return &uploadRequest{
		Name:     name,
		Content:  string(data),
		Metadata: map[string]string{"filename": header.Filename},
	}, nil
}

func (a *api) listDocuments(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	page, err := a.Documents.List(r.Context(), limit, offset)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := documentListResponse{
		Documents: make([]documentResponse, len(page.Documents)),
		Total:     page.Total,
		Offset:    page.Offset,
	}
	for i, d := range page.Documents {
		out.Documents[i] = toDocumentResponse(d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) getDocument(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	doc, err := a.Documents.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (a *api) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.Documents.Delete(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) documentChunks(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	chunks, err := a.Documents.Chunks(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]chunkResponse, len(chunks))
	for i, c := range chunks {
		out[i] = chunkResponse{Index: c.Index, Text: c.Text, StartChar: c.StartChar, EndChar: c.EndChar, Metadata: c.Metadata}
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_id": id.String(), "chunks": out})
}

func (a *api) clearCache(w http.ResponseWriter, r *http.Request) {
	if err := a.Pipeline.ClearCache(r.Context()); err != nil {
		a.writeError(w, r, err)
		return
	}
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		a.logger.Info("cache_cleared", "by", p.Subject, "auth_method", p.Method)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats, ok := a.Pipeline.CacheStats(r.Context())
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "response cache is disabled"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	corpus, err := a.Documents.Stats(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := statsResponse{Corpus: corpus}
	if stats, ok := a.Pipeline.CacheStats(r.Context()); ok {
		out.Cache = &stats
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(a.Checks))
	for name, check := range a.Checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": results})
}

// writeError maps service errors to status codes.
func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, msgInternal
	var maxBytes *http.MaxBytesError

	switch {
	case errors.As(err, &maxBytes):
		status, msg = http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, rag.ErrInvalidRequest):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, repository.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, rag.ErrGenerationFailure) && errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, msgGenerationFailed
	case errors.Is(err, rag.ErrGenerationFailure):
		status, msg = http.StatusBadGateway, msgGenerationFailed
	case errors.Is(err, rag.ErrEmbeddingFailure), errors.Is(err, rag.ErrRetrievalFailure):
		status, msg = http.StatusBadGateway, msgRetrievalFailed
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, "request timed out"
	}

	resp := errorResponse{Error: msg, RequestID: middleware.GetReqID(r.Context())}
	var stageErr *service.Error
	if errors.As(err, &stageErr) {
		resp.Stage = stageErr.Stage
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error("request_failed", "path", r.URL.Path, "status", status, "error", err, "request_id", resp.RequestID)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: malformed JSON body: %w", rag.ErrInvalidRequest, err)
	}
	return nil
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("%w: limit must be an integer", rag.ErrInvalidRequest)
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("%w: offset must be an integer", rag.ErrInvalidRequest)
		}
	}
	return limit, offset, nil
}

func documentID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid document id", rag.ErrInvalidRequest)
	}
	return id, nil
}

func toAnswerResponse(a *rag.Answer) answerResponse {
	sources := make([]sourceResponse, len(a.Sources))
	for i, src := range a.Sources {
		s := sourceResponse{Score: src.Score}
		if c := src.Chunk; c != nil {
			s.Label = rag.SourceLabel(src)
			s.DocumentID = c.DocumentID.String()
			s.DocumentName = c.DocumentName
			s.ChunkIndex = c.Index
			s.Page = c.Page()
			s.Text = c.Text
		}
		if src.Reranked {
			score := src.RerankScore
			s.RerankScore = &score
		}
		sources[i] = s
	}
	return answerResponse{
		Query:          a.Query,
		Answer:         a.Text,
		Outcome:        a.Outcome,
		Success:        a.Success,
		Message:        a.Message,
		Provider:       a.Provider,
		Sources:        sources,
		Verification:   a.Verification,
		Timings:        a.Timings,
		CandidateCount: a.CandidateCount,
		Reranked:       a.Reranked,
		RerankFallback: a.RerankFallback,
		CacheHit:       a.CacheHit,
	}
}

func toDocumentResponse(d *repository.Document) documentResponse {
	return documentResponse{
		ID:           d.ID.String(),
		Name:         d.Name,
		Status:       d.Status,
		ChunkCount:   d.ChunkCount,
		ContentHash:  d.ContentHash,
		ErrorMessage: d.ErrorMessage,
		Metadata:     d.Metadata,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}
