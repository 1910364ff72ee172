package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"option_bot/internal/models"
	deltastore "option_bot/internal/modules/deltastore/service"
	"option_bot/internal/runner"
	"option_bot/internal/runner/sessions"
)

// Reports — ответы на команды бота.
type Reports struct {
	reg     *sessions.Registry
	store   deltastore.Store
	monitor *runner.Monitor
}

func NewReports(reg *sessions.Registry, store deltastore.Store, monitor *runner.Monitor) *Reports {
	return &Reports{reg: reg, store: store, monitor: monitor}
}

// Positions — живые опционные позиции по каждому аккаунту с целевой дельтой из записей.
func (r *Reports) Positions(ctx context.Context) string {
	accounts := r.reg.Enabled()
	if len(accounts) == 0 {
		return "Нет включённых аккаунтов"
	}

	var b strings.Builder
	for i, acc := range accounts {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "📊 %s (%s)\n", acc.Name, acc.Currency)

		s, err := r.reg.Get(acc.Name)
		if err != nil {
			fmt.Fprintf(&b, "  ⚠️ %v\n", err)
			continue
		}
		s.Lock()
		positions, err := s.Broker.Positions(ctx, acc.Currency)
		s.Unlock()
		if err != nil {
			fmt.Fprintf(&b, "  ⚠️ позиции недоступны: %v\n", err)
			continue
		}

		targets := map[string]float64{}
		if recs, err := r.store.Find(ctx, models.DeltaFilter{AccountID: acc.Name, RecordType: models.RecordPosition}); err == nil {
			for _, rec := range recs {
				targets[rec.InstrumentName] = rec.TargetDelta
			}
		}

		n := 0
		for _, p := range positions {
			if p.Kind != models.KindOption || p.Size == 0 {
				continue
			}
			n++
			fmt.Fprintf(&b, "• %s  %s  Δ %s", p.InstrumentName, f2(p.Size), f2(p.Delta))
			if t, ok := targets[p.InstrumentName]; ok {
				fmt.Fprintf(&b, " → цель %s", f2(t))
			}
			if p.IsShort() {
				fmt.Fprintf(&b, "  ROI %s%%", f2(p.ShortROI()*100))
			}
			b.WriteString("\n")
		}
		if n == 0 {
			b.WriteString("  нет позиций\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Status — состояние циклов опроса.
func (r *Reports) Status(_ context.Context) string {
	st := r.monitor.Status()
	names := make([]string, 0, len(st))
	for name := range st {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("🩺 Опрос")
	for _, name := range names {
		s := st[name]
		last := "ещё не было"
		if !s.LastPass.IsZero() {
			last = s.LastPass.UTC().Format("15:04:05 UTC")
		}
		fmt.Fprintf(&b, "\n• %s: проход %s, сбоев подряд %d", name, last, s.ConsecutiveFailures)
		if s.Stopped {
			b.WriteString(" ⛔ остановлен")
		}
	}
	return b.String()
}

func f2(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}
