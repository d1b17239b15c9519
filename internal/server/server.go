package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/TobiSchelling/reviewdigest/internal/database"
	"github.com/TobiSchelling/reviewdigest/internal/pipeline"
	"github.com/TobiSchelling/reviewdigest/internal/window"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Runner executes digest runs. *pipeline.Pipeline implements it.
type Runner interface {
	RunWindow(ctx context.Context, w window.Window, versions []string) (*pipeline.WindowResult, error)
	RunBackfill(ctx context.Context, start, end time.Time, versions []string, opts pipeline.BackfillOptions) (*pipeline.BackfillResult, error)
}

// Store is the read side of the warehouse used by the digest pages.
// *database.DB implements it.
type Store interface {
	GetSummaries() ([]database.SummaryRecord, error)
	GetSummary(start, end time.Time) (*database.SummaryRecord, error)
	GetGrades(start, end time.Time) ([]database.GradeRecord, error)
	GetRecentRuns(limit int) ([]database.RunReport, error)
}

// Options configures a Server.
type Options struct {
	// Versions are the mapping versions /run processes when the request names none.
	Versions []string
	// Getenv supplies fallback request parameters. Defaults to os.Getenv.
	Getenv func(string) string
	// Now is the clock used to pick the canonical last week.
	Now func() time.Time
}

// Server is the HTTP trigger endpoint plus read-only digest pages.
type Server struct {
	runner Runner
	store  Store
	opts   Options
	logger *zap.Logger
	pages  map[string]*template.Template
	router chi.Router
}

// New creates a new Server.
func New(runner Runner, store Store, opts Options, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"display": func(start, end time.Time) string {
			return window.Window{Start: start, End: end}.Display()
		},
		"windowID": func(start, end time.Time) string {
			return window.Window{Start: start, End: end}.ID()
		},
		"date": window.FormatDate,
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so "title" and "content" don't collide.
	pageNames := []string{"index.html", "digest.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{runner: runner, store: store, opts: opts, logger: logger, pages: pages}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/run", s.handleRun)
	r.Post("/run", s.handleRun)

	r.Get("/", s.handleIndex)
	r.Get("/digest/{id}", s.handleDigest)

	s.router = r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.GetSummaries()
	if err != nil {
		s.logger.Error("listing summaries", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	runs, err := s.store.GetRecentRuns(10)
	if err != nil {
		s.logger.Error("listing runs", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, http.StatusOK, "index.html", map[string]any{
		"Summaries": summaries,
		"Runs":      runs,
	})
}

type gradeTable struct {
	Version string
	Grades  []database.GradeRecord
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	win, err := window.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid digest id", http.StatusBadRequest)
		return
	}

	summary, err := s.store.GetSummary(win.Start, win.End)
	if err != nil {
		s.logger.Error("loading summary", zap.String("window", win.ID()), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	grades, err := s.store.GetGrades(win.Start, win.End)
	if err != nil {
		s.logger.Error("loading grades", zap.String("window", win.ID()), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	code := http.StatusOK
	if summary == nil && len(grades) == 0 {
		code = http.StatusNotFound
	}

	// GetGrades orders by version, so consecutive rows group naturally.
	var tables []gradeTable
	for _, g := range grades {
		if len(tables) == 0 || tables[len(tables)-1].Version != g.MappingVersion {
			tables = append(tables, gradeTable{Version: g.MappingVersion})
		}
		last := &tables[len(tables)-1]
		last.Grades = append(last.Grades, g)
	}

	s.render(w, code, "digest.html", map[string]any{
		"Window":  win,
		"Summary": summary,
		"Tables":  tables,
	})
}

func (s *Server) render(w http.ResponseWriter, code int, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template not found", zap.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.logger.Error("rendering template", zap.String("template", name), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", "http://"+addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
