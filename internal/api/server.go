// Package api implements the operator HTTP surface: the endpoints
// that drive the pipeline plus the WebSocket event feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/stayops/concierge/internal/autoreply"
	"github.com/stayops/concierge/internal/autosend"
	"github.com/stayops/concierge/internal/buildinfo"
	"github.com/stayops/concierge/internal/events"
	"github.com/stayops/concierge/internal/store"
)

// TickCounter exposes pipeline progress for the status page.
type TickCounter interface {
	TickCount() int64
}

// Server is the operator HTTP server.
type Server struct {
	address string
	port    int
	store   *store.Store
	replies *autoreply.Service
	gate    *autosend.Gate
	hub     *events.Hub
	ticks   TickCounter
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates the operator API server.
func NewServer(address string, port int, st *store.Store, replies *autoreply.Service, gate *autosend.Gate, hub *events.Hub, ticks TickCounter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		store:   st,
		replies: replies,
		gate:    gate,
		hub:     hub,
		ticks:   ticks,
		logger:  logger,
	}
}

// writeJSON encodes v to w. Failures usually mean the client hung up.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /messages/{id}/auto-reply", s.handleAutoReply)
	mux.HandleFunc("GET /auto-replies", s.handleListAutoReplies)
	mux.HandleFunc("POST /auto-replies/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /auto-replies/{id}/done", s.handleDone)
	mux.HandleFunc("POST /messages/{id}/intent-label", s.handleAppendLabel)
	mux.HandleFunc("GET /messages/{id}/intent-labels", s.handleLabelHistory)
	mux.HandleFunc("GET /auto-send-stats", s.handleAutoSendStats)
	mux.HandleFunc("GET /events/ws", s.handleWebSocket)
	mux.HandleFunc("GET /status", s.handleStatus)

	return mux
}

// Start begins serving in the calling goroutine.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.address, strconv.Itoa(s.port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("operator API listening", "addr", addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

type autoReplyRequest struct {
	OTA          string `json:"ota"`
	Locale       string `json:"locale"`
	PropertyCode string `json:"property_code"`
	UseLLM       *bool  `json:"use_llm"`
	Force        bool   `json:"force"`
}

func (s *Server) handleAutoReply(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	var req autoReplyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	log, err := s.replies.Suggest(r.Context(), id, autoreply.Options{
		Force:        req.Force,
		UseLLM:       req.UseLLM,
		PropertyCode: req.PropertyCode,
		Locale:       req.Locale,
	})
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		s.logger.Error("auto-reply failed", "message_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "auto-reply failed")
		return
	}
	if log == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"suggestion": nil,
			"reason":     "message does not need a reply",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, replyLogResponse(log))
}

func (s *Server) handleListAutoReplies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	logs, err := s.store.ListRecentReplyLogs(store.ReplyLogFilter{
		Limit:        limit,
		PropertyCode: q.Get("property_code"),
		OTA:          q.Get("ota"),
	})
	if err != nil {
		s.logger.Error("list auto-replies failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	out := make([]map[string]any, 0, len(logs))
	for _, l := range logs {
		out = append(out, replyLogResponse(l))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"auto_replies": out})
}

type approveRequest struct {
	EditedText string `json:"edited_text"`
	By         string `json:"by"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	logID := r.PathValue("id")

	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	log, err := s.replies.Approve(r.Context(), logID, req.EditedText, req.By)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "auto-reply log not found")
		return
	}
	if err != nil {
		s.logger.Error("approve failed", "log_id", logID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "approve failed")
		return
	}
	s.writeJSON(w, http.StatusOK, replyLogResponse(log))
}

type doneRequest struct {
	By string `json:"by"`
}

func (s *Server) handleDone(w http.ResponseWriter, r *http.Request) {
	logID := r.PathValue("id")

	var req doneRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.MarkReplyDone(logID, req.By); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "auto-reply log not found")
			return
		}
		s.logger.Error("mark done failed", "log_id", logID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "mark done failed")
		return
	}
	log, err := s.store.GetReplyLog(logID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	s.writeJSON(w, http.StatusOK, replyLogResponse(log))
}

type labelRequest struct {
	Intent string `json:"intent"`
}

func (s *Server) handleAppendLabel(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	var req labelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Intent == "" {
		s.writeError(w, http.StatusBadRequest, "intent is required")
		return
	}

	// The message must exist before a human label applies.
	if _, err := s.store.GetMessage(id); errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "message not found")
		return
	} else if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	label, err := s.store.AppendLabel(id, req.Intent, "HUMAN")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SetDenormalizedIntent(id, req.Intent); err != nil {
		s.logger.Error("denormalized intent update failed", "message_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "update failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"message_id": label.MessageID,
		"intent":     label.Intent,
		"source":     label.Source,
		"created_at": label.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleLabelHistory(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	if _, err := s.store.GetMessage(id); errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "message not found")
		return
	} else if err != nil {
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	history, err := s.store.LabelHistory(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "history failed")
		return
	}

	out := make([]map[string]any, 0, len(history))
	for _, l := range history {
		out = append(out, map[string]any{
			"intent":     l.Intent,
			"source":     l.Source,
			"created_at": l.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"labels": out})
}

func (s *Server) handleAutoSendStats(w http.ResponseWriter, r *http.Request) {
	propertyCode := r.URL.Query().Get("property_code")
	if propertyCode == "" {
		s.writeError(w, http.StatusBadRequest, "property_code is required")
		return
	}

	stats, err := s.gate.Stats(propertyCode)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}

	out := make([]map[string]any, 0, len(stats))
	for _, st := range stats {
		out = append(out, map[string]any{
			"property_code":  st.PropertyCode,
			"faq_key":        st.FAQKey,
			"total_count":    st.TotalCount,
			"approved_count": st.ApprovedCount,
			"edited_count":   st.EditedCount,
			"approval_rate":  st.ApprovalRate,
			"eligible":       st.Eligible,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"stats": out})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var ticks int64
	if s.ticks != nil {
		ticks = s.ticks.TickCount()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"build":       buildinfo.RuntimeInfo(),
		"clients":     s.hub.ClientCount(),
		"ticks":       ticks,
		"server_time": time.Now().UTC().Format(time.RFC3339),
	})
}

func replyLogResponse(l *store.AutoReplyLog) map[string]any {
	out := map[string]any{
		"id":                l.ID,
		"message_id":        l.MessageID,
		"property_code":     l.PropertyCode,
		"ota":               l.OTA,
		"intent":            l.Intent,
		"fine_intent":       l.FineIntent,
		"intent_confidence": l.IntentConfidence,
		"generation_mode":   l.GenerationMode,
		"reply_text":        l.ReplyText,
		"send_mode":         l.SendMode,
		"faq_keys":          l.FAQKeys,
		"sent":              l.Sent,
		"allow_auto_send":   l.AllowAutoSend,
		"edited":            l.Edited,
		"created_at":        l.CreatedAt.Format(time.RFC3339),
	}
	if !l.SentAt.IsZero() {
		out["sent_at"] = l.SentAt.Format(time.RFC3339)
	}
	if l.Edited {
		out["edited_text"] = l.EditedText
	}
	if l.FailureReason != "" {
		out["failure_reason"] = l.FailureReason
	}
	if !l.DoneAt.IsZero() {
		out["done_at"] = l.DoneAt.Format(time.RFC3339)
		out["done_by"] = l.DoneBy
	}
	return out
}

// decodeBody decodes a JSON request body into v. An empty body means
// "use defaults" and is not an error.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("decode body: %w", err)
}
