package viewer

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/thebtf/ctxview/internal/metrics"
	"github.com/thebtf/ctxview/internal/mutator"
	"github.com/thebtf/ctxview/internal/store"
)

// Responses to POST /api/feedback.
const (
	StatusSuccess   = "success"
	StatusPublished = "published"

	messageSaved     = "Feedback added and identity query created"
	messagePublished = "Feedback published for instant processing"
)

// FeedbackRequest is the body of POST /api/feedback.
type FeedbackRequest struct {
	Note      string `json:"note"`
	Type      string `json:"type,omitempty"`
	Category  string `json:"category,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// FeedbackResponse acknowledges a submission.
type FeedbackResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ready",
		"mode":    s.Mode(),
		"version": s.version,
	}
	if s.publisher != nil {
		resp["ws_port"] = s.config.WSPort
	}
	writeJSON(w, resp)
}

// handleDocument serves a JSON document as stored, or its default shape.
func (s *Service) handleDocument(name store.Name) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := s.docs.Raw(r.Context(), name)
		if err != nil {
			log.Error().Err(err).Str("document", string(name)).Msg("Failed to load document")
			http.Error(w, fmt.Sprintf("Error loading %s: %v", name, err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	}
}

func (s *Service) handleMemory(w http.ResponseWriter, r *http.Request) {
	data, err := s.docs.Raw(r.Context(), store.Memory)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "memory.md not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Error loading memory: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (s *Service) handleTTI(w http.ResponseWriter, r *http.Request) {
	stats := metrics.EmptyStats(s.config.TTITargetMS)
	if s.stats != nil {
		stored, ok, err := s.stats.LoadStats(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load TTI stats")
		} else if ok {
			stats = stored
			stats.TargetMS = s.config.TTITargetMS
		}
	}
	writeJSON(w, stats)
}

// handlePostFeedback accepts a submission. In direct mode it is written to
// the feedback log and the identity query slot, and its UX keywords are
// applied before responding. In push mode it is published for the agent.
func (s *Service) handlePostFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Note) == "" {
		http.Error(w, "Missing note field", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	entry := s.mutator.NewEntry(req.Note, req.Type, req.Category, req.Timestamp, mutator.SourceWebForm)

	if s.publisher != nil {
		if err := s.publisher.PublishFeedback(ctx, entry); err != nil {
			log.Error().Err(err).Msg("Failed to publish feedback")
			http.Error(w, fmt.Sprintf("Error publishing feedback: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, FeedbackResponse{Status: StatusPublished, Message: messagePublished})
		return
	}

	if err := s.mutator.AppendFeedback(ctx, entry); err != nil {
		log.Error().Err(err).Msg("Failed to append feedback")
		http.Error(w, fmt.Sprintf("Error adding feedback: %v", err), http.StatusInternalServerError)
		return
	}
	if _, err := s.mutator.SubmitQuery(ctx, entry.Note); err != nil {
		log.Error().Err(err).Msg("Failed to write identity query")
		http.Error(w, fmt.Sprintf("Error adding feedback: %v", err), http.StatusInternalServerError)
		return
	}

	// The submission is stored; a failed UX pass only loses the restyle.
	if updates := s.classifier.UXUpdates(entry.Note); len(updates) > 0 {
		if err := s.mutator.MergeUX(ctx, updates); err != nil {
			log.Warn().Err(err).Msg("Immediate UX update failed")
		}
	}

	log.Info().Str("category", entry.Category).Msg("Feedback received")
	writeJSON(w, FeedbackResponse{Status: StatusSuccess, Message: messageSaved})
}
