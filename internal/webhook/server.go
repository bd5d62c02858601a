package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sleuth-dev/sleuth/internal/approval"
	"github.com/sleuth-dev/sleuth/internal/logging"
)

// maxBodyBytes bounds interaction payloads.
const maxBodyBytes = 1 << 20

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sleuth_webhook_requests_total",
		Help: "Webhook requests by endpoint and status code.",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sleuth_webhook_request_duration_seconds",
		Help:    "Webhook request handling latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sleuth_approval_decisions_total",
		Help: "Out-of-band approval decisions received.",
	}, []string{"decision"})
)

// Config holds the receiver settings.
type Config struct {
	Port          int
	SigningSecret string
	PendingDir    string
}

// Server receives signed approval interactions and writes decision files
// the approval protocol's poller picks up.
type Server struct {
	config Config
	server *http.Server
	router *http.ServeMux
	logger *logging.Logger
	now    func() time.Time
}

// NewServer creates the webhook receiver.
func NewServer(cfg Config) *Server {
	s := &Server{
		config: cfg,
		router: http.NewServeMux(),
		logger: logging.GetLogger("webhook"),
		now:    time.Now,
	}
	s.router.HandleFunc("/slack/interactions", s.handleInteraction)
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start implements lifecycle.Component. The listener runs in its own
// goroutine until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	s.logger.InfoWithFields("webhook receiver listening", logging.Field("port", s.config.Port))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("webhook server failed: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Name implements lifecycle.Component.
func (s *Server) Name() string {
	return "Webhook Receiver"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respond(w, "/health", http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	s.respond(w, "/health", http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

// interactionPayload is the subset of the Slack interaction body we use.
type interactionPayload struct {
	User struct {
		Username string `json:"username"`
		Name     string `json:"name"`
	} `json:"user"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	defer func() {
		requestDuration.WithLabelValues("/slack/interactions").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		s.respond(w, "/slack/interactions", http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.respond(w, "/slack/interactions", http.StatusInternalServerError, map[string]string{"error": "failed to read body"})
		return
	}

	timestamp := r.Header.Get("X-Slack-Request-Timestamp")
	signature := r.Header.Get("X-Slack-Signature")
	if err := VerifySignature(s.config.SigningSecret, timestamp, signature, body, s.now()); err != nil {
		s.logger.WarnWithFields("rejected interaction", logging.Field("error", err.Error()))
		s.respond(w, "/slack/interactions", http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	payload, err := parseInteraction(body)
	if err != nil {
		s.respond(w, "/slack/interactions", http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(payload.Actions) == 0 {
		s.respond(w, "/slack/interactions", http.StatusBadRequest, map[string]string{"error": "no actions in payload"})
		return
	}

	action := payload.Actions[0]
	mutationID := action.Value
	approved := action.ActionID == "approve"

	pendingPath := filepath.Join(s.config.PendingDir, mutationID+"_pending.json")
	if _, err := os.Stat(pendingPath); err != nil {
		s.respond(w, "/slack/interactions", http.StatusNotFound, map[string]string{"error": "no pending approval for mutation"})
		return
	}

	approver := payload.User.Username
	if approver == "" {
		approver = payload.User.Name
	}
	decision := approval.Decision{
		MutationID: mutationID,
		Approved:   approved,
		ApprovedBy: approver,
	}
	if approved {
		decision.ApprovedAt = s.now().UTC()
	} else {
		decision.Reason = "rejected via out-of-band channel"
	}

	data, err := json.Marshal(decision)
	if err != nil {
		s.respond(w, "/slack/interactions", http.StatusInternalServerError, map[string]string{"error": "failed to encode decision"})
		return
	}
	decisionPath := filepath.Join(s.config.PendingDir, mutationID+".json")
	if err := os.WriteFile(decisionPath, data, 0600); err != nil {
		s.logger.ErrorWithErr("failed to write decision file", err)
		s.respond(w, "/slack/interactions", http.StatusInternalServerError, map[string]string{"error": "failed to persist decision"})
		return
	}
	_ = os.Remove(pendingPath)

	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	decisionsTotal.WithLabelValues(outcome).Inc()
	s.logger.InfoWithFields("approval decision received",
		logging.Field("mutation_id", mutationID),
		logging.Field("approved", strconv.FormatBool(approved)),
		logging.Field("by", approver),
	)
	s.respond(w, "/slack/interactions", http.StatusOK, map[string]string{"status": outcome})
}

// parseInteraction decodes the form-encoded Slack interaction body: a
// single "payload" field carrying JSON.
func parseInteraction(body []byte) (*interactionPayload, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("malformed form body")
	}
	raw := values.Get("payload")
	if raw == "" {
		return nil, fmt.Errorf("missing payload field")
	}
	var payload interactionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("malformed interaction payload")
	}
	return &payload, nil
}

func (s *Server) respond(w http.ResponseWriter, endpoint string, status int, body interface{}) {
	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
