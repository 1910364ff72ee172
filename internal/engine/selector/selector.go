// Package selector подбирает опционный контракт под целевую дельту.
package selector

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"option_bot/internal/broker"
	"option_bot/internal/engine/spread"
	"option_bot/internal/models"
	"option_bot/pkg/clock"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Mode string

const (
	ModeChainScan     Mode = "chain_scan"
	ModeNearestExpiry Mode = "nearest_expiry"
)

type Config struct {
	DeltaBuffer   float64       // допуск |delta| ≤ |target|·buffer в режиме chain_scan
	MaxCandidates int           // сколько ближайших по дельте брать на проверку котировок
	Expiries      int           // nearest_expiry: сколько экспираций рассматривать
	PerExpiry     int           // nearest_expiry: контрактов на экспирацию
	CacheTTL      time.Duration // 0 — без кеша
}

func DefaultConfig() Config {
	return Config{
		DeltaBuffer:   1.1,
		MaxCandidates: 3,
		Expiries:      2,
		PerExpiry:     2,
		CacheTTL:      5 * time.Minute,
	}
}

type Query struct {
	// CacheKey отделяет кеши разных аккаунтов.
	CacheKey      string
	Currency      string
	OptionType    models.OptionType
	TargetDelta   float64
	MinExpireDays int
}

type Selection struct {
	Candidate   models.Candidate
	Ticker      models.Ticker
	SpreadRatio float64
}

type Selector struct {
	cfg   Config
	clock clock.Clock
	log   *zap.Logger

	chains   *ttlCache[[]models.Instrument]
	expiries *ttlCache[[]time.Time]
	index    *ttlCache[float64]
}

func New(cfg Config, c clock.Clock, log *zap.Logger) *Selector {
	def := DefaultConfig()
	if cfg.DeltaBuffer <= 0 {
		cfg.DeltaBuffer = def.DeltaBuffer
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.Expiries <= 0 {
		cfg.Expiries = def.Expiries
	}
	if cfg.PerExpiry <= 0 {
		cfg.PerExpiry = def.PerExpiry
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{
		cfg:      cfg,
		clock:    c,
		log:      log.Named("selector"),
		chains:   newTTLCache[[]models.Instrument](cfg.CacheTTL, c),
		expiries: newTTLCache[[]time.Time](cfg.CacheTTL, c),
		index:    newTTLCache[float64](cfg.CacheTTL, c),
	}
}

func (s *Selector) Select(ctx context.Context, md broker.MarketData, mode Mode, q Query) (Selection, error) {
	if mode == ModeNearestExpiry {
		return s.NearestExpiry(ctx, md, q)
	}
	return s.ChainScan(ctx, md, q)
}

// ChainScan: ближайшая допустимая экспирация, фильтр по дельте, три
// ближайших к цели, из них — с самым узким спредом.
func (s *Selector) ChainScan(ctx context.Context, md broker.MarketData, q Query) (Selection, error) {
	chain, err := s.chain(ctx, md, q)
	if err != nil {
		return Selection{}, err
	}

	minExpiry := s.clock.Now().Add(time.Duration(q.MinExpireDays) * 24 * time.Hour)
	expiries, err := s.expirations(q, chain)
	if err != nil {
		return Selection{}, err
	}
	var expiry time.Time
	for _, e := range expiries {
		if !e.Before(minExpiry) {
			expiry = e
			break
		}
	}
	if expiry.IsZero() {
		return Selection{}, models.Errorf(models.SelectionFailure,
			"no %s expiry at least %d days out", q.OptionType, q.MinExpireDays)
	}

	byExpiry := filterExpiry(chain, expiry)
	limit := math.Abs(q.TargetDelta) * s.cfg.DeltaBuffer

	scored := make([]scoredInstrument, 0, len(byExpiry))
	for _, inst := range byExpiry {
		g, err := md.Greeks(ctx, inst.Name)
		if err != nil {
			s.log.Debug("greeks unavailable", zap.String("instrument", inst.Name), zap.Error(err))
			continue
		}
		if math.Abs(g.Delta) > limit {
			continue
		}
		scored = append(scored, scoredInstrument{inst: inst, delta: g.Delta, dist: deltaDistance(q.TargetDelta, g.Delta)})
	}
	if len(scored) == 0 {
		return Selection{}, models.Errorf(models.SelectionFailure,
			"no %s within delta %.3f for expiry %s", q.OptionType, limit, expiry.Format("2006-01-02"))
	}

	sortByDistance(scored)
	if len(scored) > s.cfg.MaxCandidates {
		scored = scored[:s.cfg.MaxCandidates]
	}

	var (
		best  *Selection
		bestD float64
	)
	for _, si := range scored {
		t, err := md.Ticker(ctx, si.inst.Name)
		if err != nil || !t.Valid() {
			continue
		}
		sel := newSelection(si, t)
		if best == nil || less(sel.SpreadRatio, si.dist, sel.Candidate.InstrumentName,
			best.SpreadRatio, bestD, best.Candidate.InstrumentName) {
			cp := sel
			best, bestD = &cp, si.dist
		}
	}
	if best == nil {
		return Selection{}, models.Errorf(models.SelectionFailure, "all candidate quotes invalid")
	}
	return *best, nil
}

// NearestExpiry: две экспирации, ближайшие к now+n дней, в каждой по два
// контракта с ближайшей дельтой; победитель по (расстояние дельты, спред).
func (s *Selector) NearestExpiry(ctx context.Context, md broker.MarketData, q Query) (Selection, error) {
	chain, err := s.chain(ctx, md, q)
	if err != nil {
		return Selection{}, err
	}
	expiries, err := s.expirations(q, chain)
	if err != nil {
		return Selection{}, err
	}

	now := s.clock.Now()
	target := now.Add(time.Duration(q.MinExpireDays) * 24 * time.Hour)
	future := make([]time.Time, 0, len(expiries))
	for _, e := range expiries {
		if e.After(now) {
			future = append(future, e)
		}
	}
	if len(future) == 0 {
		return Selection{}, models.Errorf(models.SelectionFailure, "no live %s expiries", q.OptionType)
	}
	sort.SliceStable(future, func(i, j int) bool {
		di, dj := absDur(future[i].Sub(target)), absDur(future[j].Sub(target))
		if di != dj {
			return di < dj
		}
		return future[i].Before(future[j])
	})
	if len(future) > s.cfg.Expiries {
		future = future[:s.cfg.Expiries]
	}

	pool := make([]scoredInstrument, 0, s.cfg.Expiries*s.cfg.PerExpiry)
	for _, e := range future {
		var inExpiry []scoredInstrument
		for _, inst := range filterExpiry(chain, e) {
			g, err := md.Greeks(ctx, inst.Name)
			if err != nil {
				continue
			}
			inExpiry = append(inExpiry, scoredInstrument{inst: inst, delta: g.Delta, dist: deltaDistance(q.TargetDelta, g.Delta)})
		}
		sortByDistance(inExpiry)
		if len(inExpiry) > s.cfg.PerExpiry {
			inExpiry = inExpiry[:s.cfg.PerExpiry]
		}
		pool = append(pool, inExpiry...)
	}

	var (
		best  *Selection
		bestD float64
	)
	for _, si := range pool {
		t, err := md.Ticker(ctx, si.inst.Name)
		if err != nil {
			continue
		}
		sel := newSelection(si, t)
		if sel.SpreadRatio <= 0 || sel.SpreadRatio >= 1 {
			continue
		}
		if best == nil || less(si.dist, sel.SpreadRatio, sel.Candidate.InstrumentName,
			bestD, best.SpreadRatio, best.Candidate.InstrumentName) {
			cp := sel
			best, bestD = &cp, si.dist
		}
	}
	if best == nil {
		return Selection{}, models.Errorf(models.SelectionFailure,
			"no tradable %s near %d days for delta %.3f", q.OptionType, q.MinExpireDays, q.TargetDelta)
	}
	return *best, nil
}

// IndexPrice — цена индекса с кешем.
func (s *Selector) IndexPrice(ctx context.Context, md broker.MarketData, key, currency string) (float64, error) {
	k := key + "|" + strings.ToUpper(currency)
	if v, ok := s.index.Get(k); ok {
		return v, nil
	}
	px, err := md.IndexPrice(ctx, currency)
	if err != nil {
		return 0, errors.Wrapf(err, "index price %s", currency)
	}
	s.index.Set(k, px)
	return px, nil
}

// Instrument ищет контракт по имени в закешированной цепочке.
func (s *Selector) Instrument(ctx context.Context, md broker.MarketData, key, currency, name string) (models.Instrument, error) {
	k := key + "|" + strings.ToUpper(currency)
	all, ok := s.chains.Get(k)
	if ok {
		for _, inst := range all {
			if inst.Name == name {
				return inst, nil
			}
		}
	}
	all, err := md.Instruments(ctx, currency)
	if err != nil {
		return models.Instrument{}, errors.Wrapf(err, "load instruments %s", currency)
	}
	if len(all) > 0 {
		s.chains.Set(k, all)
	}
	for _, inst := range all {
		if inst.Name == name {
			return inst, nil
		}
	}
	return models.Instrument{}, models.Errorf(models.SelectionFailure, "instrument %s not listed", name)
}

// Invalidate сбрасывает все кеши, например после переподключения.
func (s *Selector) Invalidate() {
	s.chains.Purge()
	s.expiries.Purge()
	s.index.Purge()
}

func (s *Selector) chain(ctx context.Context, md broker.MarketData, q Query) ([]models.Instrument, error) {
	k := q.CacheKey + "|" + strings.ToUpper(q.Currency)
	all, ok := s.chains.Get(k)
	if !ok {
		var err error
		all, err = md.Instruments(ctx, q.Currency)
		if err != nil {
			return nil, models.WrapKind(models.SelectionFailure, err, "load option chain")
		}
		if len(all) > 0 {
			s.chains.Set(k, all)
		}
	}

	out := make([]models.Instrument, 0, len(all))
	for _, inst := range all {
		if inst.Kind == models.KindOption && inst.OptionType == q.OptionType {
			out = append(out, inst)
		}
	}
	if len(out) == 0 {
		return nil, models.Errorf(models.SelectionFailure, "empty %s %s chain", q.Currency, q.OptionType)
	}
	return out, nil
}

func (s *Selector) expirations(q Query, chain []models.Instrument) ([]time.Time, error) {
	k := q.CacheKey + "|" + strings.ToUpper(q.Currency) + "|" + string(q.OptionType)
	if v, ok := s.expiries.Get(k); ok {
		return v, nil
	}
	seen := make(map[int64]struct{})
	out := make([]time.Time, 0)
	for _, inst := range chain {
		u := inst.Expiry.Unix()
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, inst.Expiry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	s.expiries.Set(k, out)
	return out, nil
}

type scoredInstrument struct {
	inst  models.Instrument
	delta float64
	dist  float64
}

func newSelection(si scoredInstrument, t models.Ticker) Selection {
	ratio := spread.Ratio(t.Bid, t.Ask)
	return Selection{
		Candidate: models.Candidate{
			InstrumentName:  si.inst.Name,
			OptionType:      si.inst.OptionType,
			Strike:          si.inst.Strike,
			Expiry:          si.inst.Expiry,
			Bid:             t.Bid,
			Ask:             t.Ask,
			Delta:           si.delta,
			UnderlyingPrice: t.UnderlyingPrice,
			SpreadRatio:     ratio,
			Instrument:      si.inst,
		},
		Ticker:      t,
		SpreadRatio: ratio,
	}
}

func filterExpiry(chain []models.Instrument, expiry time.Time) []models.Instrument {
	out := make([]models.Instrument, 0)
	for _, inst := range chain {
		if inst.Expiry.Equal(expiry) {
			out = append(out, inst)
		}
	}
	return out
}

// deltaDistance сравнивает модули: у путов дельта отрицательная.
func deltaDistance(target, delta float64) float64 {
	return math.Abs(math.Abs(target) - math.Abs(delta))
}

func sortByDistance(xs []scoredInstrument) {
	sort.SliceStable(xs, func(i, j int) bool {
		if xs[i].dist != xs[j].dist {
			return xs[i].dist < xs[j].dist
		}
		return xs[i].inst.Name < xs[j].inst.Name
	})
}

// less — лексикографическое сравнение (a1,a2,name) < (b1,b2,name).
func less(a1, a2 float64, an string, b1, b2 float64, bn string) bool {
	if a1 != b1 {
		return a1 < b1
	}
	if a2 != b2 {
		return a2 < b2
	}
	return an < bn
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
