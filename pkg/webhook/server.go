package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Signature headers tried in order.
var signatureHeaders = []string{"X-Hub-Signature-256", "X-Hub-Signature", "X-Signature"}

// Event headers tried in order when logging a delivery.
var eventHeaders = []string{"X-GitHub-Event", "X-Event-Key", "X-Atlassian-Webhook-Identifier"}

const maxPayload = 1 << 20

// SecretSource returns the shared secret for a vendor.
type SecretSource interface {
	Secret(vendor string) (string, bool)
}

// EnvSecrets reads HTH_WEBHOOK_SECRET_<VENDOR>.
type EnvSecrets struct{}

func (EnvSecrets) Secret(vendor string) (string, bool) {
	name := "HTH_WEBHOOK_SECRET_" + strings.ToUpper(strings.ReplaceAll(vendor, "-", "_"))
	v := os.Getenv(name)
	return v, v != ""
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Secrets         SecretSource
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
}

// Server is the webhook receiver behind `hth serve`.
type Server struct {
	router  *chi.Mux
	logger  *slog.Logger
	server  *http.Server
	secrets SecretSource
	timeout time.Duration
}

func NewServer(logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Secrets == nil {
		cfg.Secrets = EnvSecrets{}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{logger: logger, secrets: cfg.Secrets, timeout: cfg.ShutdownTimeout}

	router := chi.NewRouter()
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	router.Route("/webhooks", func(r chi.Router) {
		r.Post("/{vendor}", s.receive)
	})

	s.router = router
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) receive(w http.ResponseWriter, r *http.Request) {
	vendor := chi.URLParam(r, "vendor")
	secret, ok := s.secrets.Secret(vendor)
	if !ok {
		http.Error(w, "no secret configured for vendor", http.StatusNotFound)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayload+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(payload) > maxPayload {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := Verify(secret, payload, firstHeader(r.Header, signatureHeaders)); err != nil {
		s.logger.Warn("rejected webhook", "vendor", vendor, "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	s.logger.Info("webhook received",
		"vendor", vendor,
		"event", firstHeader(r.Header, eventHeaders),
		"bytes", len(payload),
	)
	w.WriteHeader(http.StatusAccepted)
}

func firstHeader(h http.Header, names []string) string {
	for _, n := range names {
		if v := h.Get(n); v != "" {
			return v
		}
	}
	return ""
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, req)
			logger.Debug("request",
				"method", req.Method,
				"path", req.URL.Path,
				"remote_ip", req.RemoteAddr,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.server.Addr)
		serverErrors <- s.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		err := s.server.Shutdown(shutdownCtx)
		if err != nil {
			s.logger.Error("graceful shutdown failed", "error", err)
			err = s.server.Close()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	return nil
}
