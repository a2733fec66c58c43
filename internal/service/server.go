package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server HTTP 服务
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer 创建 HTTP 服务；超时为 0 时不限制
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration, logger *zap.Logger) *Server {
	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}
	return &Server{httpServer: s, logger: logger}
}

// Start 开始监听，正常关闭时返回 nil
func (s *Server) Start() error {
	s.logger.Info("Starting vitalguard-alarm HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping vitalguard-alarm HTTP server")
	return s.httpServer.Shutdown(ctx)
}
