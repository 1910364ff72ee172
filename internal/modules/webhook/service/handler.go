package service

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"option_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Executor interface {
	Execute(ctx context.Context, sig models.Signal) models.Result
}

// Handler принимает сигналы TradingView. Исполнение не привязано к
// соединению: обрыв запроса не прерывает уже начатую сделку.
type Handler struct {
	exec    Executor
	secret  string
	timeout time.Duration
	log     *zap.Logger

	// OnSignal вызывается на каждый разобранный сигнал.
	OnSignal func(time.Time)
}

func NewHandler(exec Executor, secret string, timeout time.Duration, log *zap.Logger) *Handler {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Handler{exec: exec, secret: secret, timeout: timeout, log: log.Named("webhook")}
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/webhook/signal", h.signal)
}

func (h *Handler) signal(c *gin.Context) {
	if h.secret != "" {
		got := c.Query("token")
		if got == "" {
			got = c.GetHeader("X-Webhook-Token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			writeJSON(c, http.StatusUnauthorized, models.Failed("unauthorized", nil))
			return
		}
	}

	body, err := c.GetRawData()
	if err != nil {
		writeJSON(c, http.StatusBadRequest, models.Failed("cannot read body", err))
		return
	}
	var sig models.Signal
	if err := sonic.Unmarshal(body, &sig); err != nil {
		writeJSON(c, http.StatusBadRequest, models.Failed("invalid signal payload", err))
		return
	}

	if h.OnSignal != nil {
		h.OnSignal(time.Now())
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.timeout)
	defer cancel()

	res := h.exec.Execute(ctx, sig)
	h.log.Info("signal handled",
		zap.String("account", sig.AccountName),
		zap.String("action", string(sig.Action)),
		zap.String("tv_id", sig.TvID),
		zap.Bool("success", res.Success),
		zap.String("message", res.Message))
	writeJSON(c, http.StatusOK, res)
}

func writeJSON(c *gin.Context, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Data(status, "application/json; charset=utf-8", data)
}
