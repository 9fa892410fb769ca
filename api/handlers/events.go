package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/events"
)

// =============================================================================
// 📡 运行事件流 Handler
// =============================================================================

// Subscriber is the part of the event bus the stream endpoint uses.
type Subscriber interface {
	Subscribe(runID string, buffer int, types ...events.Type) *events.Subscription
}

// EventsHandler 通过 WebSocket 推送运行生命周期事件
type EventsHandler struct {
	bus          Subscriber
	origins      []string
	pingInterval time.Duration
	buffer       int
	logger       *zap.Logger
}

// EventsOption 配置 EventsHandler
type EventsOption func(*EventsHandler)

// WithOriginPatterns 允许的跨域来源（websocket.AcceptOptions.OriginPatterns）
func WithOriginPatterns(patterns ...string) EventsOption {
	return func(h *EventsHandler) { h.origins = patterns }
}

// WithPingInterval 设置保活 ping 间隔
func WithPingInterval(d time.Duration) EventsOption {
	return func(h *EventsHandler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithStreamBuffer 设置每个连接的订阅缓冲
func WithStreamBuffer(n int) EventsOption {
	return func(h *EventsHandler) { h.buffer = n }
}

// NewEventsHandler 创建事件流处理器
func NewEventsHandler(bus Subscriber, logger *zap.Logger, opts ...EventsOption) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventsHandler{
		bus:          bus,
		pingInterval: 30 * time.Second,
		buffer:       events.DefaultBuffer,
		logger:       logger.With(zap.String("component", "events_stream")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 注册路由
func (h *EventsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/runs/{id}/events", h.HandleRunEvents)
	mux.HandleFunc("GET /v1/events", h.HandleAllEvents)
}

// HandleRunEvents 推送单个运行的事件，运行结束后正常关闭连接
func (h *EventsHandler) HandleRunEvents(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, r.PathValue("id"))
}

// HandleAllEvents 推送所有运行的事件
func (h *EventsHandler) HandleAllEvents(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, "")
}

func (h *EventsHandler) stream(w http.ResponseWriter, r *http.Request, runID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sub := h.bus.Subscribe(runID, h.buffer)
	defer sub.Close()

	// 客户端不发送数据；CloseRead 处理控制帧并在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())

	h.logger.Debug("event stream opened", zap.String("run_id", runID))

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				h.logger.Debug("event stream ping failed", zap.Error(err))
				return
			}
		case e, ok := <-sub.C():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(wctx, conn, e)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Debug("event stream write failed", zap.Error(err))
				}
				return
			}
			if runID != "" && finalEvent(e.Type) {
				conn.Close(websocket.StatusNormalClosure, string(e.Type))
				return
			}
		}
	}
}

func finalEvent(t events.Type) bool {
	return t == events.RunSucceeded || t == events.RunFailed || t == events.RunAborted
}
