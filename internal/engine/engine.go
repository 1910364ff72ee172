// Package engine — точка входа сигнала: проверка, выбор аккаунта и
// действия, вызов жизненного цикла позиции и сборка ответа.
package engine

import (
	"context"
	"fmt"
	"strings"

	"option_bot/internal/engine/lifecycle"
	"option_bot/internal/metrics"
	"option_bot/internal/models"
	"option_bot/internal/notify"
	"option_bot/internal/runner/sessions"
	"option_bot/pkg/tracing"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Engine struct {
	sessions  *sessions.Registry
	lifecycle *lifecycle.Manager
	notifier  notify.Notifier
	log       *zap.Logger
}

func New(reg *sessions.Registry, lm *lifecycle.Manager, n notify.Notifier, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{sessions: reg, lifecycle: lm, notifier: n, log: log.Named("engine")}
}

// Execute никогда не паникует наружу и всегда возвращает Result.
func (e *Engine) Execute(ctx context.Context, sig models.Signal) (res models.Result) {
	span, ctx := tracing.StartSpan(ctx, "engine.Execute",
		opentracing.Tag{Key: "account", Value: sig.AccountName},
		opentracing.Tag{Key: "tv_id", Value: sig.TvID},
	)
	var err error
	action := sig.Action

	defer func() {
		if p := recover(); p != nil {
			e.log.Error("panic in signal execution", zap.Any("panic", p), zap.Stack("stack"))
			err = fmt.Errorf("panic: %v", p)
			res = models.Failed("internal error", err)
		}
		outcome := "ok"
		if !res.Success {
			outcome = "failed"
		}
		metrics.Signals.WithLabelValues(string(action), outcome).Inc()
		tracing.Finish(span, err)
	}()

	if strings.TrimSpace(sig.AccountName) == "" {
		err = models.Errorf(models.ValidationFailure, "account_name is required")
		return models.Failed("invalid signal", err)
	}
	resolved, ok := sig.ResolveAction()
	if !ok {
		err = models.Errorf(models.ValidationFailure, "cannot resolve action (action=%q prev=%q mp=%q side=%q)",
			sig.Action, sig.PrevMarketPosition, sig.MarketPosition, sig.Side)
		return models.Failed("invalid signal", err)
	}
	action = resolved
	span.SetTag("action", string(action))

	sess, err := e.sessions.Get(sig.AccountName)
	if err != nil {
		return models.Failed("account unavailable", err)
	}
	sess.Lock()
	defer sess.Unlock()

	log := e.log.With(zap.String("account", sig.AccountName), zap.String("action", string(action)), zap.String("tv_id", sig.TvID))
	log.Info("signal received", zap.Float64("size", sig.Size), zap.Float64("delta1", sig.Delta1), zap.Int("n", sig.N))

	var out lifecycle.Outcome
	switch {
	case action.IsOpen():
		out, err = e.lifecycle.Open(ctx, sess.Account, sess.Broker, sig, action)
	case action.IsReduce():
		out, err = e.lifecycle.Reduce(ctx, sess.Account, sess.Broker, sig, action)
	case action.IsClose():
		out, err = e.lifecycle.Close(ctx, sess.Account, sess.Broker, sig, action)
	case action.IsStop():
		out, err = e.lifecycle.Stop(ctx, sess.Account, sess.Broker, sig, action)
	default:
		err = models.Errorf(models.ValidationFailure, "unsupported action %s", action)
	}

	res = result(action, out, err)
	if err != nil {
		log.Warn("signal failed", zap.String("kind", string(models.KindOf(err))), zap.Error(err))
		if e.notifier != nil {
			e.notifier.Sendf(ctx, "❌ [%s] %s не выполнен: %v", sig.AccountName, action, errors.Cause(err))
		}
		return res
	}
	log.Info("signal done", zap.String("instrument", out.Instrument), zap.String("order_id", out.Execution.OrderID))
	return res
}

func result(action models.Action, out lifecycle.Outcome, err error) models.Result {
	var res models.Result
	if err != nil {
		kind := models.KindOf(err)
		if kind == "" {
			kind = models.ExecutionFailure
		}
		res = models.Failed(fmt.Sprintf("%s %s failure", action, kind), err)
	} else {
		res = models.Result{Success: true, Message: fmt.Sprintf("%s executed", action)}
		if out.Instrument == "" {
			res.Message = fmt.Sprintf("%s: nothing to do", action)
		}
	}

	res.InstrumentName = models.StrPtr(out.Instrument)
	ex := out.Execution
	res.OrderID = models.StrPtr(ex.OrderID)
	if ex.OrderID != "" {
		res.ExecutedQuantity = models.FloatPtr(ex.ExecutedQuantity)
		px := ex.AveragePrice
		if px == 0 {
			px = ex.Price
		}
		res.ExecutedPrice = models.FloatPtr(px)
	}
	return res
}
