package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/ssdims/ssdims/pkg/coordinator"
	"github.com/ssdims/ssdims/pkg/log"
	"github.com/ssdims/ssdims/pkg/storage"
	"github.com/ssdims/ssdims/pkg/types"
)

// Coordinator is what the HTTP API needs from the update coordinator.
type Coordinator interface {
	Update(ctx context.Context) (types.CycleStatus, error)
	Status() types.CycleStatus
	Available() bool
	Snapshot(pointID string) (types.PointSnapshot, bool)
	Snapshots() map[string]types.PointSnapshot
	ScanInterval() time.Duration
	SetScanInterval(d time.Duration) error
}

// Server exposes the sensor snapshot, the persisted statistics and a manual
// update trigger over HTTP.
type Server struct {
	coordinator Coordinator
	storage     storage.Database
	metrics     http.Handler

	listenAddr string
	httpServer *http.Server

	updateVerifier      tokenVerifier
	updateAllowedEmails []string
	bypassAuth          bool
	serverName          string
	version             string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(c *coordinator.Coordinator, s storage.Database, version string) *Server {
	srv := &Server{
		coordinator: c,
		storage:     s,
		metrics:     c.Metrics().Handler(),
		serverName:  "ssdims",
		version:     version,
	}

	// get the port from PORT when running in a container platform
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	oidcIssuer := lflag.String("update-oidc-issuer", "https://accounts.google.com", "Issuer of the ID tokens accepted by /api/update")
	oidcAudience := lflag.String("update-oidc-audience", "", "Audience of the ID tokens accepted by /api/update")
	allowedEmails := lflag.String("update-allowed-emails", "", "Comma-delimited list of emails allowed to call /api/update")
	allowUnauthenticated := lflag.Bool("update-allow-unauthenticated", false, "Allow /api/update without an ID token")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *allowedEmails != "" {
			for _, email := range strings.Split(*allowedEmails, ",") {
				if email = strings.TrimSpace(email); email != "" {
					srv.updateAllowedEmails = append(srv.updateAllowedEmails, email)
				}
			}
		}
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), *oidcIssuer)
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("issuer", *oidcIssuer), slog.Any("error", err))
				os.Exit(1)
			}
			srv.updateVerifier = oidcEmailVerifier(provider.Verifier(&oidc.Config{ClientID: *oidcAudience}))
			if len(srv.updateAllowedEmails) == 0 {
				log.Ctx(context.Background()).Error("update-allowed-emails is required with update-oidc-audience")
				os.Exit(1)
			}
		}
		srv.bypassAuth = *allowUnauthenticated
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/status", s.handleStatus)
	apiMux.HandleFunc("GET /api/snapshot", s.handleSnapshots)
	apiMux.HandleFunc("GET /api/snapshot/{pointID}", s.handleSnapshot)
	apiMux.HandleFunc("GET /api/history/statistics", s.handleHistoryStatistics)
	apiMux.Handle("POST /api/update", s.updateAuthMiddleware(http.HandlerFunc(s.handleUpdate)))
	apiMux.Handle("PUT /api/scan-interval", s.updateAuthMiddleware(http.HandlerFunc(s.handleSetScanInterval)))

	mux := http.NewServeMux()
	mux.Handle("/api/", gziphandler.GzipHandler(s.apiHeadersMiddleware(apiMux)))
	mux.Handle("GET /metrics", s.metrics)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(mux)
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        s.listenAddr,
		Handler:     s.setupHandler(),
		ReadTimeout: 15 * time.Second,
		// a manual update waits for the whole cycle
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, struct {
		Error string `json:"error"`
	}{Error: msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) apiHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME-sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")
		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")
		if w.Header().Get("Cache-Control") == "" {
			w.Header().Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}
