// Package server exposes the HTTP surface: the signed webhook endpoint that
// feeds the queue, the poll results API, and a health check.
package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"kakehashi/internal/config"
	"kakehashi/internal/database"
	"kakehashi/internal/logger"
	"kakehashi/internal/messenger"
	"kakehashi/internal/poll"
	"kakehashi/internal/queue"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// Server handles inbound HTTP traffic.
type Server struct {
	store  database.Store
	queue  *queue.Queue
	client messenger.Client
	log    *slog.Logger

	channelSecret string
	skipSignature bool
}

// New creates the server and wires its routes.
func New(store database.Store, q *queue.Queue, client messenger.Client, cfg config.MessengerConfig, log *slog.Logger) *Server {
	return &Server{
		store:         store,
		queue:         q,
		client:        client,
		log:           log.With("component", "server"),
		channelSecret: cfg.ChannelSecret,
		skipSignature: cfg.SkipSignature,
	}
}

// Router builds the HTTP handler with request logging applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/poll/{postID}", s.handlePollResults).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Use(logger.Middleware(s.log))
	return r
}

// handleWebhook verifies the platform signature, splits the delivery into
// events, and enqueues each for asynchronous handling. The platform only
// needs a 200; per-event failures are logged, not surfaced.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to read webhook body", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "unreadable body"})
		return
	}

	if !s.skipSignature {
		signature := r.Header.Get(messenger.SignatureHeader)
		if signature == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "missing signature"})
			return
		}
		if !messenger.ValidateSignature(s.channelSecret, body, signature) {
			s.log.WarnContext(ctx, "Webhook signature mismatch", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid signature"})
			return
		}
	}

	events, err := messenger.ParseWebhook(body)
	if err != nil {
		s.log.WarnContext(ctx, "Malformed webhook body", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed body"})
		return
	}

	for _, event := range events {
		// Immediate feedback while the event waits in the queue.
		if event.UserID != "" {
			if err := s.client.ShowTyping(ctx, event.UserID); err != nil {
				s.log.DebugContext(ctx, "Failed to show processing indicator",
					"user_id", event.UserID, "error", err)
			}
		}
		if err := s.queue.Enqueue(ctx, event.Raw); err != nil {
			s.log.ErrorContext(ctx, "Failed to enqueue event",
				"user_id", event.UserID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

// pollResults is the public shape of a poll's live tally.
type pollResults struct {
	PostID   int64          `json:"postId"`
	Question string         `json:"question"`
	Counts   map[string]int `json:"counts"`
}

func (s *Server) handlePollResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	postID, err := strconv.ParseInt(mux.Vars(r)["postID"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid post id"})
		return
	}

	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to load post", "post_id", postID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}
	if post == nil || !post.IsPoll {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "poll not found"})
		return
	}

	counts, err := s.store.GetVoteCounts(ctx, postID)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to load vote counts", "post_id", postID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, pollResults{
		PostID:   postID,
		Question: poll.ParseQuestion(post.Content),
		Counts:   counts,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
