package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// shutdownTimeout 优雅关闭 HTTP 服务的上限
const shutdownTimeout = 10 * time.Second

// Relay 进程内唯一的中继实例：持有大厅、接入层与 HTTP 服务的生命周期
type Relay struct {
	cfg       Config
	log       *zap.SugaredLogger
	metrics   *Metrics
	lobby     *Lobby
	transport *Transport
	handler   http.Handler
}

// NewRelay 按配置组装各组件（不监听端口）
func NewRelay(cfg Config, log *zap.SugaredLogger) *Relay {
	metrics := NewMetrics()
	lobby := NewLobby(cfg.Lobby, cfg.Defaults, metrics, log)
	transport := NewTransport(lobby, cfg.WS, cfg.RateLimit, metrics, log)
	return &Relay{
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		lobby:     lobby,
		transport: transport,
		handler:   NewHTTPHandler(lobby, transport, metrics, log),
	}
}

// Handler HTTP 入口（测试中可直接挂到 httptest.Server）
func (s *Relay) Handler() http.Handler { return s.handler }

// Lobby 大厅实例
func (s *Relay) Lobby() *Lobby { return s.lobby }

// Run 启动事件循环并监听端口，ctx 取消后优雅退出
func (s *Relay) Run(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.lobby.Run(loopCtx)

	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("lobby relay listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.transport.Close()
		s.lobby.Close()
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	// websocket 连接已被 hijack，Shutdown 不会关闭它们
	s.transport.Close()
	err := srv.Shutdown(shutdownCtx)
	s.lobby.Close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
