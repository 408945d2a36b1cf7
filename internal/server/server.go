// Package server exposes the generation pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/imagen-go/internal/generate"
	"github.com/comigor/imagen-go/internal/history"
	"github.com/comigor/imagen-go/internal/llm"
	"github.com/comigor/imagen-go/internal/logger"
	"github.com/comigor/imagen-go/internal/stream"
)

// progressInterval is the tick rate of the cosmetic progress estimate
// logged while a batch is in flight.
const progressInterval = 500 * time.Millisecond

// Server wires the HTTP handlers to the pipeline components.
type Server struct {
	gen   *generate.Generator
	llm   *llm.Client
	store *history.Store
}

// New creates a new server.
func New(gen *generate.Generator, client *llm.Client, store *history.Store) *Server {
	return &Server{gen: gen, llm: client, store: store}
}

// Routes returns the request multiplexer.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate", s.handleGenerate)
	mux.HandleFunc("POST /chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("DELETE /history", s.handleHistoryClear)
	mux.HandleFunc("DELETE /history/{id}", s.handleHistoryDelete)
	mux.HandleFunc("GET /download", s.handleDownload)
	return mux
}

type generateRequest struct {
	Prompt string   `json:"prompt"`
	Count  int      `json:"count"`
	Images []string `json:"images"`
}

type generatedRun struct {
	ID              string  `json:"id,omitempty"`
	URL             string  `json:"url,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Error           string  `json:"error,omitempty"`
}

type generateResponse struct {
	Results []generatedRun `json:"results"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Cosmetic progress while the batch runs; it never claims completion.
	progressCtx, stopProgress := context.WithCancel(r.Context())
	go func() {
		for p := range generate.Progress(progressCtx, progressInterval) {
			logger.L.Debug("generation in progress", "percent", p)
		}
	}()

	items := s.gen.Batch(r.Context(), s.store, req.Prompt, req.Images, req.Count)
	stopProgress()

	resp := generateResponse{Results: make([]generatedRun, 0, len(items))}
	for _, it := range items {
		if it.Err != nil {
			var verr *generate.ValidationError
			if errors.As(it.Err, &verr) {
				http.Error(w, verr.Error(), http.StatusBadRequest)
				return
			}
			resp.Results = append(resp.Results, generatedRun{Error: llm.Truncate(it.Err.Error())})
			continue
		}
		resp.Results = append(resp.Results, generatedRun{
			ID:              it.Result.Run.ID,
			URL:             it.Result.Run.PrimaryImageURL,
			DurationSeconds: it.Result.Run.DurationSeconds,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type chatRequest struct {
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, "prompt must not be empty", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	body, err := s.llm.Stream(r.Context(), []openai.ChatCompletionMessage{llm.UserMessage(req.Prompt, req.Images)})
	if err != nil {
		http.Error(w, llm.Truncate(err.Error()), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	var final *stream.Snapshot
	for snap := range stream.Ingest(r.Context(), body) {
		frame, _ := json.Marshal(map[string]any{
			"content": snap.Content,
			"done":    snap.Done,
			"partial": snap.Partial,
		})
		fmt.Fprintf(w, "data: %s\n\n", frame)
		flusher.Flush()
		if snap.Done {
			snapCopy := snap
			final = &snapCopy
		}
	}

	if final != nil {
		s.persistConversation(req.Prompt, *final)
	}
}

// persistConversation stores the finished user/assistant exchange, keeping
// the raw accumulator and the decoded frame trace for diagnostics.
func (s *Server) persistConversation(prompt string, final stream.Snapshot) {
	now := time.Now().UTC()
	user := history.Message{
		ID:              uuid.NewString(),
		Role:            "user",
		FilteredContent: prompt,
		Timestamp:       now,
	}
	trace := make([]json.RawMessage, 0, len(final.Trace))
	for _, p := range final.Trace {
		trace = append(trace, json.RawMessage(p.Text()))
	}
	assistant := history.Message{
		ID:              uuid.NewString(),
		Role:            "assistant",
		FilteredContent: final.Content,
		RawContent:      final.Raw,
		ResponseTrace:   trace,
		Timestamp:       now,
	}
	if err := s.store.AppendMessage(user); err != nil {
		logger.L.Warn("failed to persist user message", "error", err)
	}
	if err := s.store.AppendMessage(assistant); err != nil {
		logger.L.Warn("failed to persist assistant message", "error", err)
	}
}

type historyResponse struct {
	Runs     []history.Run     `json:"runs"`
	Messages []history.Message `json:"messages"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.Runs()
	if err != nil {
		http.Error(w, "failed to read history", http.StatusInternalServerError)
		return
	}
	msgs, err := s.store.Messages()
	if err != nil {
		http.Error(w, "failed to read history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Runs: runs, Messages: msgs})
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.PathValue("id")); err != nil {
		http.Error(w, "failed to delete entry", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(); err != nil {
		http.Error(w, "failed to clear history", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Error("failed to encode response", "error", err)
	}
}
