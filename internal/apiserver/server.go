// Package apiserver implements the worker process's HTTP surface: the
// chi router, middleware, and handlers wired to the content store,
// metadata store, chunk assembler, and conflict engine.
package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/vaultsync/vaultsync/internal/chunkassembler"
	"github.com/vaultsync/vaultsync/internal/conflict"
	"github.com/vaultsync/vaultsync/internal/content"
	"github.com/vaultsync/vaultsync/internal/metadata"
)

// Server is one worker's HTTP server.
type Server struct {
	*http.Server
	router    chi.Router
	content   *content.Store
	meta      *metadata.Store
	chunks    *chunkassembler.Assembler
	conflict  *conflict.Engine
	log       zerolog.Logger
	startedAt time.Time
}

// Deps bundles the components a worker wires into its Server.
type Deps struct {
	Content  *content.Store
	Meta     *metadata.Store
	Chunks   *chunkassembler.Assembler
	Conflict *conflict.Engine
	Log      zerolog.Logger
}

// New builds a Server bound to host:port, with every route configured.
func New(host string, port int, deps Deps) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Client-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		Server: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", host, port),
			Handler: r,
		},
		router:   r,
		content:  deps.Content,
		meta:     deps.Meta,
		chunks:   deps.Chunks,
		conflict:  deps.Conflict,
		log:       deps.Log,
		startedAt: time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/files", func(r chi.Router) {
		r.Get("/", s.handleListFiles)
		r.Post("/upload-safe", s.handleUploadSafe)
		r.Post("/chunk", s.handleUploadChunk)
		r.Get("/{name}/download", s.handleDownload)
		r.Get("/{name}/versions", s.handleListVersions)
		r.Get("/{name}/versions/{version}/download", s.handleDownloadVersion)
		r.Post("/{name}/restore/{version}", s.handleRestore)
		r.Post("/{oldName}/rename", s.handleRename)
		r.Delete("/{name}", s.handleDeleteFile)
	})

	s.router.Route("/conflicts", func(r chi.Router) {
		r.Get("/", s.handleListConflicts)
		r.Get("/{id}/diff", s.handleConflictDiff)
		r.Post("/{id}/resolve", s.handleResolveConflict)
	})
}

// Shutdown gracefully shuts down the underlying HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
