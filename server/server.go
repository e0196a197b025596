package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PIIReview/config"
	"PIIReview/internal/station"
	"PIIReview/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter registers every route. When secret is non-empty the API, except health,
// requires a bearer token.
func NewRouter(h *APIHandler, secret string) http.Handler {
	router := mux.NewRouter()
	router.Use(metricsMiddleware)

	router.HandleFunc("/api/health", h.HealthHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/").Subrouter()
	if secret != "" {
		api.Use(AuthMiddleware(secret))
	}

	api.HandleFunc("/api/batch", h.UploadBatchHandler).Methods(http.MethodPost)
	api.HandleFunc("/api/review", h.ReviewHandler).Methods(http.MethodGet)
	api.HandleFunc("/api/review/{direction:next|prev}", h.NavigateHandler).Methods(http.MethodPost)
	api.HandleFunc("/api/channels/{name}/{action}", h.ChannelHandler).Methods(http.MethodPost)

	api.HandleFunc("/api/recording", h.RecordingStateHandler).Methods(http.MethodGet)
	api.HandleFunc("/api/recording/{action}", h.RecordingHandler).Methods(http.MethodPost)

	api.HandleFunc("/api/history", h.HistoryHandler).Methods(http.MethodGet)
	api.HandleFunc("/ws/progress", h.ProgressStreamHandler).Methods(http.MethodGet)

	return corsMiddleware(router)
}

// Start builds a station from cfg and serves the API until SIGINT or SIGTERM.
func Start(cfg *config.Config) error {
	hub := newProgressHub()
	st := station.New(cfg, station.WithTickHook(func(time.Duration) { hub.Notify() }))

	deps := Deps{
		Workspace: st.Workspace,
		Recorder:  st.Recorder,
		Detector:  st.Detector,
		Defaults:  st.DefaultOptions(),
		Hub:       hub,
	}
	// 只有在配置成功时才赋值，避免接口里装着 nil 指针
	if st.Archive != nil {
		deps.Archive = st.Archive
	}
	if st.History != nil {
		deps.History = st.History
	}
	h := NewAPIHandler(cfg, deps)

	// 设置服务器超时; WriteTimeout 为 0，websocket 连接自行设置写超时
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewRouter(h, cfg.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务启动", logger.String("addr", cfg.ListenAddr), logger.Bool("auth", cfg.JWTSecret != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var serveErr error
	select {
	case serveErr = <-errCh:
	case sig := <-quit:
		logger.Info("收到退出信号，正在关闭服务", logger.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.Close()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("HTTP 服务关闭超时", logger.ErrorField(err))
	}
	if err := st.Close(); err != nil {
		logger.Warn("释放媒体资源时出现错误", logger.ErrorField(err))
	}
	logger.Info("服务已关闭")
	return serveErr
}
