// Package server exposes the conversion pipeline over HTTP.
//
// Endpoints:
//   - POST /api/convert - convert content into every supported format
//   - POST /api/detect  - guess the format of pasted content
//   - POST /api/tokens  - token counts and a format recommendation
//   - GET  /api/health  - health check
//
// Responses are JSON envelopes: successes carry "success": true, failures
// carry "error". A format mismatch warning rides along on both.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tokenfusion/tokenfusion/internal/config"
	"github.com/tokenfusion/tokenfusion/internal/convert"
	"github.com/tokenfusion/tokenfusion/internal/detect"
	"github.com/tokenfusion/tokenfusion/internal/errors"
	"github.com/tokenfusion/tokenfusion/internal/formats"
	"github.com/tokenfusion/tokenfusion/internal/tokens"
)

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 60 * time.Second
	idleTimeout  = 120 * time.Second
)

// Server is the HTTP API server.
type Server struct {
	router  *http.ServeMux
	server  *http.Server
	limiter *RateLimiter
	cors    *CORSConfig
	ips     *ClientIPResolver

	mu        sync.RWMutex
	cfg       *config.Config
	estimator *tokens.Estimator
}

// NewServer creates a Server from the given configuration.
func NewServer(cfg *config.Config) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		limiter:   NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst),
		cors:      NewCORSConfig(cfg.Server.AllowedOrigins),
		ips:       NewClientIPResolver(cfg.Server.TrustedProxies),
		cfg:       cfg,
		estimator: tokens.NewEstimator(cfg.Tokens.Model),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/convert", s.handleConvert)
	s.router.HandleFunc("POST /api/detect", s.handleDetect)
	s.router.HandleFunc("POST /api/tokens", s.handleTokens)
	s.router.HandleFunc("GET /api/health", s.handleHealth)
}

// ApplyConfig swaps in a new configuration without restarting the listener.
// Rate limits, CORS origins, trusted proxies, the body cap, the token model
// and the input budget all take effect on the next request.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.limiter.SetLimits(cfg.Server.RateLimit, cfg.Server.RateBurst)
	s.cors.SetAllowedOrigins(cfg.Server.AllowedOrigins)
	s.ips.SetTrustedProxies(cfg.Server.TrustedProxies)

	s.mu.Lock()
	if cfg.Tokens.Model != s.cfg.Tokens.Model {
		s.estimator = tokens.NewEstimator(cfg.Tokens.Model)
	}
	s.cfg = cfg
	s.mu.Unlock()

	log.Printf("CONFIG_RELOADED | source=%s model=%s rate=%.1f/s", cfg.Source, cfg.Tokens.Model, cfg.Server.RateLimit)
}

func (s *Server) snapshot() (*config.Config, *tokens.Estimator) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.estimator
}

// Handler returns the router wrapped in the full middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		CORSMiddleware(s.cors),
		RateLimitMiddleware(s.limiter, s.ips),
		RequestLogMiddleware(log.Default(), s.ips),
	)(s.router)
}

// Start runs the listener until Shutdown is called. A clean shutdown
// returns nil.
func (s *Server) Start() error {
	cfg, _ := s.snapshot()
	addr := cfg.Server.Addr()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	log.Printf("SERVER_START | addr=%s model=%s", addr, cfg.Tokens.Model)
	if err := s.server.ListenAndServe(); !stderrors.Is(err, http.ErrServerClosed) {
		return errors.NewServerError(fmt.Sprintf("listen on %s", addr), err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Printf("SERVER_SHUTDOWN | draining connections")
	return s.server.Shutdown(ctx)
}

// ConvertRequest is the request body shared by the convert and tokens
// endpoints. FromFormat defaults to json when omitted.
type ConvertRequest struct {
	Content    string `json:"content"`
	FromFormat string `json:"from_format"`
}

// ConvertResponse is the success envelope for POST /api/convert.
type ConvertResponse struct {
	Success        bool                  `json:"success"`
	JSON           string                `json:"json"`
	TOON           string                `json:"toon"`
	CSV            string                `json:"csv"`
	YAML           string                `json:"yaml"`
	Tokens         map[string]int        `json:"tokens"`
	Recommendation tokens.Recommendation `json:"recommendation"`
	FormatWarning  *convert.Warning      `json:"format_warning,omitempty"`
}

// TokensResponse is the success envelope for POST /api/tokens.
type TokensResponse struct {
	Success        bool                  `json:"success"`
	Tokens         map[string]int        `json:"tokens"`
	Recommendation tokens.Recommendation `json:"recommendation"`
	FormatWarning  *convert.Warning      `json:"format_warning,omitempty"`
}

// DetectResponse is the success envelope for POST /api/detect.
type DetectResponse struct {
	Success bool           `json:"success"`
	Format  formats.Format `json:"format"`
}

// ErrorResponse is the failure envelope for every endpoint.
type ErrorResponse struct {
	Error         string           `json:"error"`
	FormatWarning *convert.Warning `json:"format_warning,omitempty"`
}

// handleConvert handles POST /api/convert.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	cfg, estimator := s.snapshot()

	req, ok := s.decodeRequest(w, r, cfg)
	if !ok {
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "no content provided", nil)
		return
	}

	from, err := parseFromFormat(req.FromFormat)
	if err != nil {
		writeError(w, http.StatusBadRequest, messageFor(err), nil)
		return
	}

	if _, err := estimator.CheckBudget(content, cfg.Tokens.MaxInputTokens); err != nil {
		writeError(w, http.StatusBadRequest, messageFor(err), nil)
		return
	}

	result, err := convert.All(content, from)
	if err != nil {
		var warning *convert.Warning
		if result != nil {
			warning = result.Warning
		}
		writeError(w, statusFor(err), messageFor(err), warning)
		return
	}

	counts := estimator.CountAll(result.Texts)
	writeJSON(w, http.StatusOK, ConvertResponse{
		Success:        true,
		JSON:           result.Texts[formats.JSON],
		TOON:           result.Texts[formats.TOON],
		CSV:            result.Texts[formats.CSV],
		YAML:           result.Texts[formats.YAML],
		Tokens:         countsByName(counts),
		Recommendation: tokens.Recommend(counts),
		FormatWarning:  result.Warning,
	})
}

// handleDetect handles POST /api/detect. Undetectable content is not an
// error; it reports the unknown format.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	cfg, _ := s.snapshot()

	req, ok := s.decodeRequest(w, r, cfg)
	if !ok {
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "no content provided", nil)
		return
	}

	writeJSON(w, http.StatusOK, DetectResponse{
		Success: true,
		Format:  detect.Detect(content),
	})
}

// handleTokens handles POST /api/tokens. The input budget is not enforced
// here; callers asking for a count get one even when the content is over.
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	cfg, estimator := s.snapshot()

	req, ok := s.decodeRequest(w, r, cfg)
	if !ok {
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "no content provided", nil)
		return
	}

	from, err := parseFromFormat(req.FromFormat)
	if err != nil {
		writeError(w, http.StatusBadRequest, messageFor(err), nil)
		return
	}

	result, err := convert.All(content, from)
	if err != nil {
		var warning *convert.Warning
		if result != nil {
			warning = result.Warning
		}
		writeError(w, statusFor(err), messageFor(err), warning)
		return
	}

	counts := estimator.CountAll(result.Texts)
	writeJSON(w, http.StatusOK, TokensResponse{
		Success:        true,
		Tokens:         countsByName(counts),
		Recommendation: tokens.Recommend(counts),
		FormatWarning:  result.Warning,
	})
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeRequest reads and decodes the JSON request body under the
// configured size cap. On failure it writes the error response and
// returns ok=false.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, cfg *config.Config) (ConvertRequest, bool) {
	var req ConvertRequest

	r.Body = http.MaxBytesReader(w, r.Body, cfg.Server.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case stderrors.As(err, &maxErr):
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds the maximum size of %d bytes", maxErr.Limit), nil)
		case stderrors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "no data provided", nil)
		default:
			writeError(w, http.StatusBadRequest, "invalid request body", nil)
		}
		return req, false
	}
	return req, true
}

func parseFromFormat(name string) (formats.Format, error) {
	if name == "" {
		return formats.JSON, nil
	}
	return formats.Parse(name)
}

func countsByName(counts map[formats.Format]int) map[string]int {
	out := make(map[string]int, len(counts))
	for f, n := range counts {
		out[string(f)] = n
	}
	return out
}

// statusFor maps an error to an HTTP status: content problems are the
// caller's, everything else is ours.
func statusFor(err error) int {
	if errors.IsUserError(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// messageFor extracts the envelope message. Decode failures keep their
// cause so the caller can fix the content; internal failures get a
// conversion error prefix and no stack detail.
func messageFor(err error) string {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		return err.Error()
	}

	msg := appErr.Message
	if appErr.Type == errors.ErrorTypeDecode && appErr.Err != nil {
		msg = fmt.Sprintf("%s: %v", appErr.Message, appErr.Err)
	}
	if !errors.IsUserError(err) {
		msg = "conversion error: " + msg
	}
	return msg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, warning *convert.Warning) {
	writeJSON(w, status, ErrorResponse{Error: message, FormatWarning: warning})
}
