package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/kataras/iris/v12"
	"go.uber.org/zap"

	"github.com/example/localhunt/internal/auth"
	"github.com/example/localhunt/internal/broadcast"
	"github.com/example/localhunt/internal/config"
	"github.com/example/localhunt/internal/datamodels/chat"
	"github.com/example/localhunt/internal/middleware"
	"github.com/example/localhunt/internal/service"
)

const partyKey = "party"

// wsWriteWait 单帧写超时，超时视为连接已断开
const wsWriteWait = 10 * time.Second

var (
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	validate = validator.New()
)

type chatHandler struct {
	svc     *service.ChatService
	hub     *broadcast.Hub
	jwt     *config.JWTConfig
	limiter *middleware.LimiterPool
}

type sendMessageRequest struct {
	PeerID    int64  `json:"peer_id" validate:"required,gt=0"`
	ContextID int64  `json:"context_id" validate:"required,gt=0"`
	Text      string `json:"text" validate:"required"`
}

func registerChatRoutes(p iris.Party, h *chatHandler) {
	// 需要登录的接口只认 Authorization 头
	api := p.Party("/", h.authenticator(false))
	api.Post("/messages", middleware.RateLimitMiddleware(h.limiter, func(ctx iris.Context) string {
		return partyFrom(ctx).String()
	}), h.send)
	api.Delete("/messages/{id:uint64}", h.softDelete)
	api.Get("/conversations", h.listConversations)
	api.Get("/conversations/{peer:int64}/messages", h.history)
	api.Post("/conversations/{peer:int64}/read", h.markRead)

	// 浏览器 websocket 无法设置请求头，只有这里允许 ?token=
	p.Get("/ws", h.authenticator(true), h.live)
}

// authenticator 解析 Authorization 头，把会话方写入 ctx；allowQuery 时头为空可退回 ?token=
func (h *chatHandler) authenticator(allowQuery bool) iris.Handler {
	return func(ctx iris.Context) {
		h.authenticate(ctx, allowQuery)
	}
}

func (h *chatHandler) authenticate(ctx iris.Context, allowQuery bool) {
	token := strings.TrimSpace(strings.TrimPrefix(ctx.GetHeader("Authorization"), "Bearer "))
	if token == "" && allowQuery {
		token = ctx.URLParam("token")
	}
	if token == "" {
		ctx.StopWithJSON(http.StatusUnauthorized, iris.Map{"code": http.StatusUnauthorized, "msg": "missing token"})
		return
	}
	claims, err := auth.ParseToken(h.jwt, token)
	if err != nil {
		ctx.StopWithJSON(http.StatusUnauthorized, iris.Map{"code": http.StatusUnauthorized, "msg": "invalid token"})
		return
	}
	ctx.Values().Set(partyKey, claims.Party())
	ctx.Next()
}

func partyFrom(ctx iris.Context) chat.Party {
	p, _ := ctx.Values().Get(partyKey).(chat.Party)
	return p
}

// writeError 按错误类型映射 HTTP 状态码
func writeError(ctx iris.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrStorage):
		msg = "storage failure"
	}
	ctx.StopWithJSON(status, iris.Map{"code": status, "msg": msg})
}

func badRequest(ctx iris.Context, msg string) {
	ctx.StopWithJSON(http.StatusBadRequest, iris.Map{"code": http.StatusBadRequest, "msg": msg})
}

// send 发送者一方取自令牌
func (h *chatHandler) send(ctx iris.Context) {
	var req sendMessageRequest
	if err := ctx.ReadJSON(&req); err != nil {
		badRequest(ctx, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		badRequest(ctx, err.Error())
		return
	}

	actor := partyFrom(ctx)
	key := chat.KeyFor(actor, req.PeerID)
	m, err := h.svc.Send(ctx.Request().Context(), service.SendRequest{
		RequesterID:    key.RequesterID,
		CounterpartyID: key.CounterpartyID,
		ContextID:      req.ContextID,
		SenderSide:     actor.Side,
		Text:           req.Text,
	})
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(iris.Map{"code": 0, "data": m})
}

func (h *chatHandler) listConversations(ctx iris.Context) {
	list, err := h.svc.ListConversations(ctx.Request().Context(), partyFrom(ctx))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(iris.Map{"code": 0, "data": list})
}

// history ?before_id=&limit= 同时给出时分页，否则返回全部
func (h *chatHandler) history(ctx iris.Context) {
	peer, _ := ctx.Params().GetInt64("peer")

	var beforeID uint64
	if s := ctx.URLParam("before_id"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			badRequest(ctx, "invalid before_id")
			return
		}
		beforeID = v
	}
	var limit int
	if s := ctx.URLParam("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			badRequest(ctx, "invalid limit")
			return
		}
		limit = v
	}

	actor := partyFrom(ctx)
	key := chat.KeyFor(actor, peer)
	list, err := h.svc.History(ctx.Request().Context(), service.HistoryQuery{
		RequesterID:    key.RequesterID,
		CounterpartyID: key.CounterpartyID,
		Viewer:         actor.Side,
		BeforeID:       beforeID,
		Limit:          limit,
	})
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(iris.Map{"code": 0, "data": list})
}

func (h *chatHandler) markRead(ctx iris.Context) {
	peer, _ := ctx.Params().GetInt64("peer")
	n, err := h.svc.MarkRead(ctx.Request().Context(), partyFrom(ctx), peer)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(iris.Map{"code": 0, "data": iris.Map{"updated": n}})
}

func (h *chatHandler) softDelete(ctx iris.Context) {
	id, _ := ctx.Params().GetUint64("id")
	if err := h.svc.SoftDelete(ctx.Request().Context(), partyFrom(ctx), id); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(iris.Map{"code": 0, "msg": "deleted"})
}

// live 实时推送。默认订阅全局主题，?scope=mine 时只推送与自己相关的会话
func (h *chatHandler) live(ctx iris.Context) {
	actor := partyFrom(ctx)
	var filter broadcast.Filter
	if ctx.URLParam("scope") == "mine" {
		filter = broadcast.PartyFilter(actor)
	}

	conn, err := upgrader.Upgrade(ctx.ResponseWriter().Naive(), ctx.Request(), nil)
	if err != nil {
		// Upgrade 已经写回错误响应
		zap.L().Warn("websocket upgrade failed", zap.Stringer("party", actor), zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(filter)
	defer h.hub.Unsubscribe(sub)
	zap.L().Debug("listener connected", zap.Stringer("party", actor), zap.String("subscription", sub.ID))

	// 客户端只读；读循环用于感知断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case m, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(m); err != nil {
				zap.L().Debug("listener write failed", zap.String("subscription", sub.ID), zap.Error(err))
				return
			}
		}
	}
}
