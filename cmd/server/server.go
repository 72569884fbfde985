package server

import (
	"context"
	"net/http"
	"time"

	appkafka "example.com/photoposts/internal/broker"
	"example.com/photoposts/internal/logger"
	"example.com/photoposts/internal/middleware"
	"example.com/photoposts/internal/store"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Options carries the HTTP-facing settings taken from config.
type Options struct {
	Addr        string
	TLSCertFile string
	TLSKeyFile  string
	JWTSecret   []byte
	SessionTTL  time.Duration
	PageSize    int
	CORSOrigins []string
}

type Server struct {
	posts      store.PostStore
	journal    store.JournalInterface // nil when the journal is disabled
	publisher  *appkafka.Publisher
	secret     []byte
	sessionTTL time.Duration
	pageSize   int
}

var logg = logger.New()

// New wires a Server. journal and publisher may be nil.
func New(posts store.PostStore, journal store.JournalInterface, publisher *appkafka.Publisher, opts Options) *Server {
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	return &Server{
		posts:      posts,
		journal:    journal,
		publisher:  publisher,
		secret:     opts.JWTSecret,
		sessionTTL: opts.SessionTTL,
		pageSize:   opts.PageSize,
	}
}

// Router builds the HTTP routes consumed by the photo feed UI.
func (s *Server) Router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.Session(s.secret))

	r.Route("/posts", func(r chi.Router) {
		r.Get("/", s.listPostsHandler)
		r.Post("/", s.createPostHandler)
		r.Get("/{id}", s.getPostHandler)
		r.Patch("/{id}", s.editPostHandler)
		r.Delete("/{id}", s.removePostHandler)
		r.Post("/{id}/like", s.likePostHandler)
		r.Get("/{id}/history", s.historyHandler)
	})

	r.Post("/session", s.createSessionHandler)
	r.Get("/session", s.getSessionHandler)

	return r
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, posts store.PostStore, journal store.JournalInterface, publisher *appkafka.Publisher, opts Options) {
	s := New(posts, journal, publisher, opts)

	srv := &http.Server{
		Addr:         opts.Addr,
		Handler:      s.Router(opts.CORSOrigins),
		ReadTimeout:  10 * time.Second, // prevent slowloris attacks
		WriteTimeout: 10 * time.Second,
	}

	// --- Start server in a goroutine ---
	go func() {
		var err error
		if opts.TLSCertFile != "" && opts.TLSKeyFile != "" {
			logg.Info("server", "Starting HTTPS server on "+opts.Addr)
			err = srv.ListenAndServeTLS(opts.TLSCertFile, opts.TLSKeyFile)
		} else {
			logg.Info("server", "Starting HTTP server on "+opts.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logg.Error("server", "Server stopped unexpectedly", err)
		}
	}()

	// --- Graceful shutdown ---
	<-ctx.Done()
	logg.Info("server", "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server", "Error during server shutdown", err)
	} else {
		logg.Info("server", "Server stopped gracefully")
	}
}
