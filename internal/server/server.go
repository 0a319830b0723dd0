// Пакет server — HTTP-сервер File Manager с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/file-manager/internal/api/handlers"
	"github.com/bigkaa/goartstore/file-manager/internal/api/middleware"
	"github.com/bigkaa/goartstore/file-manager/internal/config"
)

// publicPrefixes — пути без аутентификации.
// Health и metrics проверяются Kubernetes напрямую, /s/ — публичные ссылки.
var publicPrefixes = []string{"/health/", "/metrics", "/s/"}

// Server — HTTP-сервер File Manager.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// auth — middleware аутентификации (JWTAuth или TrustedHeaders).
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler, auth func(http.Handler) http.Handler) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, handler, auth),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты API.
func NewRouter(logger *slog.Logger, h *handlers.APIHandler, auth func(http.Handler) http.Handler) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	if auth != nil {
		router.Use(authWithExclusions(auth, publicPrefixes...))
	}

	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Get("/s/{token}", h.ViewShare)
	router.Get("/s/{token}/download", h.DownloadShare)

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			r.Post("/", h.UploadFile)
			r.Get("/", h.ListFiles)
			r.Get("/uuid/{uuid}", h.GetFileByUUID)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetFile)
				r.Patch("/", h.UpdateFile)
				r.Delete("/", h.DeleteFile)
				r.Delete("/purge", h.PurgeFile)
				r.Post("/move", h.MoveFile)
				r.Post("/copy", h.CopyFile)
				r.Post("/archive", h.ArchiveFile)
				r.Post("/restore", h.RestoreFile)
				r.Get("/download", h.DownloadFile)
				r.Get("/integrity", h.VerifyFile)
				r.Post("/versions", h.CreateVersion)
				r.Get("/versions", h.ListVersions)
				r.Post("/thumbnail", h.RegenerateThumbnail)
				r.Post("/shares", h.CreateShare)
				r.Get("/shares", h.ListShares)
			})
		})

		r.Delete("/shares/{id}", h.RevokeShare)

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
			r.Get("/{id}", h.GetCategory)
			r.Patch("/{id}", h.UpdateCategory)
			r.Delete("/{id}", h.DeactivateCategory)
		})

		r.Get("/usage/me", h.GetMyUsage)

		r.Get("/maintenance", h.ListJobs)
		r.Post("/maintenance/{job}", h.RunJob)
	})

	return router
}

// authWithExclusions оборачивает middleware аутентификации, пропуская указанные пути.
// Запросы к путям, начинающимся с любого из excludePrefixes, проходят без проверки.
func authWithExclusions(auth func(http.Handler) http.Handler, excludePrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		protected := auth(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. После этого выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
