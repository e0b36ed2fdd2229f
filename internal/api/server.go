package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pageturner/internal/config"
	"pageturner/internal/pipeline"
	"pageturner/internal/transcribe"
)

// Server is the HTTP API for the book conversion service.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	vision       *transcribe.VisionClient
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, vision *transcribe.VisionClient, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		vision:       vision,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/books", s.handleCaptureBook)
		r.Post("/api/books/import", s.handleImportBook)
		r.Get("/api/jobs/{jobID}", s.handleJobStatus)

		r.Get("/api/books", s.handleListBooks)
		r.Get("/api/books/{bookID}", s.handleGetBook)
		r.Get("/api/books/{bookID}/document", s.handleGetDocument)
		r.Delete("/api/books/{bookID}", s.handleDeleteBook)

		r.Get("/api/stats/recognition", s.handleRecognitionStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
