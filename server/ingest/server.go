// Package ingest is the thin HTTP submission harness config.ServerConfig
// documents: the out-of-scope production network workers that would accept
// SMTP/Milter/LMTP submissions are outside the core's scope (spec.md §1
// Non-goals), so this package exists only to make the scheduler/accumulator
// core reachable end to end over HTTP, grounded on the teacher's
// server/httpapi package (gorilla/mux routing, bearer-token auth
// middleware, writeJSON/writeError response helpers).
package ingest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/gorilla/mux"

	"github.com/mailscore/core/core/accumulator"
	"github.com/mailscore/core/core/scheduler"
	"github.com/mailscore/core/core/task"
	"github.com/mailscore/core/logger"
)

// Server is the HTTP task-submission API (spec.md §6 "Task submission").
type Server struct {
	addr       string
	apiKey     string
	plan       *scheduler.Plan
	deadlines  *scheduler.DeadlineScheduler
	registry   accumulator.Registry
	accOptions accumulator.Options
	taskTTL    time.Duration
	server     *http.Server
}

// Options holds the server's wiring, analogous to the teacher's
// ServerOptions: everything needed to construct a Server, separated from
// its own internal state.
type Options struct {
	Addr               string
	APIKey             string
	Plan               *scheduler.Plan
	Deadlines          *scheduler.DeadlineScheduler
	Registry           accumulator.Registry
	AccumulatorOptions accumulator.Options
	TaskTimeout        time.Duration
}

// New validates options and builds a Server.
func New(options Options) (*Server, error) {
	if options.APIKey == "" {
		return nil, fmt.Errorf("API key is required for HTTP ingest server")
	}
	if options.Plan == nil {
		return nil, fmt.Errorf("a frozen scheduler plan is required")
	}
	ttl := options.TaskTimeout
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Server{
		addr:       options.Addr,
		apiKey:     options.APIKey,
		plan:       options.Plan,
		deadlines:  options.Deadlines,
		registry:   options.Registry,
		accOptions: options.AccumulatorOptions,
		taskTTL:    ttl,
	}, nil
}

// Start builds and runs a Server, reporting any startup or serve failure
// on errChan, and shutting down gracefully when ctx is canceled.
func Start(ctx context.Context, options Options, errChan chan error) {
	s, err := New(options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP ingest server: %w", err)
		return
	}
	logger.Info("starting HTTP ingest server", "addr", options.Addr)
	if err := s.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP ingest server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	router := s.setupRoutes()
	s.server = &http.Server{Addr: s.addr, Handler: router}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP ingest server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down HTTP ingest server", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)
	router.Use(s.authMiddleware)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/scan", s.handleScan).Methods("POST")
	v1.HandleFunc("/health", s.handleHealth).Methods("GET")

	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info("ingest request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("error encoding ingest response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SymbolResultView is the JSON projection of a single fired symbol result.
type SymbolResultView struct {
	Fired      bool     `json:"fired"`
	Multiplier float64  `json:"multiplier,omitempty"`
	Options    []string `json:"options,omitempty"`
}

// ScanResponse is the JSON body returned from /api/v1/scan (spec.md §6
// "Task submission" result).
type ScanResponse struct {
	TaskID  string                      `json:"task_id"`
	Action  string                      `json:"action"`
	Score   float64                     `json:"score"`
	Message string                      `json:"message,omitempty"`
	Module  string                      `json:"module,omitempty"`
	Symbols map[string]SymbolResultView `json:"symbols"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	entity, err := message.Read(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid RFC 5322 message: "+err.Error())
		return
	}

	headers := collectHeaders(entity.Header)
	body, err := io.ReadAll(entity.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to read message body: "+err.Error())
		return
	}

	msg := &task.Message{Headers: headers, Body: body, Size: int64(len(body))}
	env := envelopeFromRequest(r)
	settings := settingsFromRequest(r)

	deadline := time.Now().Add(s.taskTTL)
	t, cancel := task.New(r.Context(), deadline, msg, env, settings)
	defer cancel()

	acc := accumulator.New(s.registry, s.accOptions)
	t.Accumulator = acc

	result, symbolResults, err := scheduler.Execute(t.Context(), s.plan, t, acc, s.deadlines)
	if err != nil {
		s.writeError(w, http.StatusGatewayTimeout, "scan did not complete: "+err.Error())
		return
	}

	resp := ScanResponse{
		TaskID:  t.ID,
		Action:  result.Action,
		Score:   result.Score,
		Message: result.Message,
		Module:  result.Module,
		Symbols: make(map[string]SymbolResultView, len(symbolResults)),
	}
	for name, res := range symbolResults {
		if !res.Fired {
			continue
		}
		resp.Symbols[name] = SymbolResultView{Fired: res.Fired, Multiplier: res.Multiplier, Options: res.Options}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func collectHeaders(h message.Header) map[string][]string {
	headers := make(map[string][]string)
	fields := h.Fields()
	for fields.Next() {
		key := strings.ToLower(fields.Key())
		headers[key] = append(headers[key], fields.Value())
	}
	return headers
}

func envelopeFromRequest(r *http.Request) task.Envelope {
	return task.Envelope{
		SenderIP: r.Header.Get("X-Sender-IP"),
		HELO:     r.Header.Get("X-Helo"),
		From:     r.Header.Get("X-Mail-From"),
		RCPT:     r.Header.Values("X-Rcpt-To"),
		AuthUser: r.Header.Get("X-Auth-User"),
	}
}

func settingsFromRequest(r *http.Request) task.Settings {
	return task.Settings{
		AllowedIDs:        splitCSVParam(r, "allowed_ids"),
		ForbiddenIDs:      splitCSVParam(r, "forbidden_ids"),
		ExplicitlyEnabled: splitCSVParam(r, "explicit_enabled"),
	}
}

func splitCSVParam(r *http.Request, name string) []string {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
