package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// snapshotTimeout 等待事件循环返回快照的上限
const snapshotTimeout = 2 * time.Second

// NewHTTPHandler 只读旁路接口 + websocket 接入
//
//	GET /         存活检查，固定返回 OK
//	GET /healthz  容器探针
//	GET /players  当前玩家快照（JSON 数组）
//	GET /metrics  Prometheus 指标
//	GET /ws       websocket
func NewHTTPHandler(lobby *Lobby, transport *Transport, metrics *Metrics, log *zap.SugaredLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(openCORS)

	r.Get("/ws", transport.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(requestLogger(log))

		r.Get("/", handleLiveness("OK"))
		r.Get("/healthz", handleLiveness("ok"))
		r.Get("/players", handlePlayers(lobby, log))
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	})
	return r
}

func handleLiveness(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

// handlePlayers 输出事件循环生成的副本，不持有 Registry 引用
func handlePlayers(lobby *Lobby, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
		defer cancel()

		players, err := lobby.Snapshot(ctx)
		if err != nil {
			log.Warnw("players snapshot failed", "error", err)
			http.Error(w, "lobby unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(players)
	}
}

// openCORS 跨域策略完全开放；预检请求直接 204，不进入路由
func openCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(start))
		})
	}
}
