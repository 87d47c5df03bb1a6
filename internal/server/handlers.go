package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Divas-Gupta30/market-agent/internal/cache"
	"github.com/Divas-Gupta30/market-agent/internal/graph"
	"github.com/Divas-Gupta30/market-agent/internal/metrics"
)

const (
	sourceCache    = "cache"
	sourceWorkflow = "workflow"
)

type AskRequest struct {
	Question string `json:"question" validate:"required,max=2000"`
}

type Citation struct {
	SourceTag string  `json:"source_tag"`
	Link      string  `json:"link,omitempty"`
	Score     float64 `json:"score"`
}

type AskResponse struct {
	RequestID     string     `json:"request_id"`
	Question      string     `json:"question"`
	Answer        string     `json:"answer"`
	Topic         string     `json:"topic,omitempty"`
	FinalState    string     `json:"final_state"`
	Attempts      int        `json:"attempts"`
	LowConfidence bool       `json:"low_confidence"`
	Sources       []Citation `json:"sources"`
	Source        string     `json:"source"`
	Error         string     `json:"error,omitempty"`
}

type errorResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
}

// streamLine is one NDJSON line of /v1/ask/stream.
type streamLine struct {
	graph.Event
	Response *AskResponse `json:"response,omitempty"`
}

func toResponse(res *graph.Result, requestID string) *AskResponse {
	resp := &AskResponse{
		RequestID:     requestID,
		Question:      res.Question,
		Answer:        res.Generation,
		Topic:         string(res.Topic),
		FinalState:    string(res.FinalState),
		Attempts:      res.Attempts,
		LowConfidence: res.LowConfidence,
		Sources:       make([]Citation, 0, len(res.Documents)),
		Source:        sourceWorkflow,
	}
	for _, d := range res.Documents {
		resp.Sources = append(resp.Sources, Citation{SourceTag: d.SourceTag, Link: d.Link, Score: d.SimilarityScore})
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return resp
}

// cacheable reports whether a run produced an answer worth reusing.
func cacheable(resp *AskResponse) bool {
	return resp.FinalState == string(graph.StateResolved) || resp.FinalState == string(graph.StateOffTopic)
}

func statusFor(resp *AskResponse) int {
	if resp.FinalState == string(graph.StateFailed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (s *Server) decodeAsk(w http.ResponseWriter, r *http.Request) (*AskRequest, bool) {
	id := requestIDFrom(r.Context())
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, errorResponse{RequestID: id, Error: "invalid JSON body", Details: err.Error()})
		return nil, false
	}
	req.Question = strings.TrimSpace(req.Question)
	if err := s.validate.Struct(req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, errorResponse{RequestID: id, Error: "invalid request", Details: validationDetails(err)})
		return nil, false
	}
	return &req, true
}

func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed on '%s'", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}
	id := requestIDFrom(r.Context())

	if resp := s.lookup(r.Context(), req.Question); resp != nil {
		resp.RequestID = id
		writeJSONResponse(w, http.StatusOK, resp)
		return
	}

	res, err := s.asker.Invoke(r.Context(), req.Question)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, errorResponse{RequestID: id, Error: err.Error()})
		return
	}
	resp := toResponse(res, id)
	s.logResult(id, res)
	s.store(r.Context(), req.Question, resp)
	writeJSONResponse(w, statusFor(resp), resp)
}

func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}
	id := requestIDFrom(r.Context())
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	send := func(line streamLine) {
		if err := enc.Encode(line); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if resp := s.lookup(r.Context(), req.Question); resp != nil {
		resp.RequestID = id
		w.Header().Set("Content-Type", "application/x-ndjson")
		send(streamLine{Event: graph.Event{Kind: graph.EventFinal, State: graph.StateName(resp.FinalState), Attempt: resp.Attempts}, Response: resp})
		return
	}

	events, err := s.asker.Stream(r.Context(), req.Question)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, errorResponse{RequestID: id, Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	// Read to the final event even after a disconnect so the result is
	// still logged and cached.
	for ev := range events {
		line := streamLine{Event: ev}
		if ev.Kind == graph.EventFinal && ev.Result != nil {
			line.Response = toResponse(ev.Result, id)
			s.logResult(id, ev.Result)
			s.store(r.Context(), req.Question, line.Response)
		}
		send(line)
	}
}

func (s *Server) lookup(ctx context.Context, question string) *AskResponse {
	if s.cache == nil {
		return nil
	}
	raw, found, err := s.cache.Get(ctx, cache.Key(question, s.fingerprint))
	if err != nil {
		s.log.Warn("cache lookup failed", zap.Error(err))
		return nil
	}
	if !found {
		metrics.CacheMissesTotal.Inc()
		return nil
	}
	var resp AskResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		s.log.Warn("discarding unreadable cache entry", zap.Error(err))
		return nil
	}
	metrics.CacheHitsTotal.Inc()
	resp.Source = sourceCache
	return &resp
}

func (s *Server) store(ctx context.Context, question string, resp *AskResponse) {
	if s.cache == nil || !cacheable(resp) {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.cache.Set(storeCtx, cache.Key(question, s.fingerprint), string(data)); err != nil {
		s.log.Warn("failed to cache answer", zap.Error(err))
	}
}

func (s *Server) logResult(id string, res *graph.Result) {
	fields := []zap.Field{
		zap.String("request_id", id),
		zap.String("final_state", string(res.FinalState)),
		zap.String("topic", string(res.Topic)),
		zap.Int("attempts", res.Attempts),
		zap.Int("documents", len(res.Documents)),
	}
	if res.Err != nil {
		s.log.Error("ask failed", append(fields, zap.Error(res.Err))...)
		return
	}
	s.log.Info("ask completed", fields...)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]string{"status": "healthy"}
	status := http.StatusOK

	for _, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			health[c.Name] = "disconnected"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		health[c.Name] = "connected"
	}

	writeJSONResponse(w, status, health)
}

func writeJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}
