// Package search serves the building list and autocomplete through a result
// cache, warming the neighbouring pages of every page it serves.
package search

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"archimap/internal/cache"
	"archimap/internal/catalog"
	"archimap/internal/textnorm"
	"archimap/pkg/models"
)

var tracer = otel.Tracer("search")

type Options struct {
	TTL               time.Duration
	PrefetchWorkers   int
	PrefetchTimeout   time.Duration
	MaxQueryRunes     int
	AutocompleteMin   int
	AutocompleteLimit int
	Logger            *zap.Logger
}

func (o *Options) setDefaults() {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.PrefetchWorkers <= 0 {
		o.PrefetchWorkers = 2
	}
	if o.PrefetchTimeout <= 0 {
		o.PrefetchTimeout = 10 * time.Second
	}
	if o.MaxQueryRunes <= 0 {
		o.MaxQueryRunes = textnorm.DefaultMaxRunes
	}
	if o.AutocompleteMin <= 0 {
		o.AutocompleteMin = 2
	}
	if o.AutocompleteLimit <= 0 {
		o.AutocompleteLimit = 10
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Page is one page of the building list.
type Page struct {
	Items      []models.Building `json:"items"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	TotalPages int               `json:"total_pages"`
	Query      string            `json:"query"`
}

type Stats struct {
	Backend         string  `json:"backend"`
	Hits            int64   `json:"hits"`
	Misses          int64   `json:"misses"`
	HitRatio        float64 `json:"hit_ratio"`
	Prefetches      int64   `json:"prefetches"`
	PrefetchSkipped int64   `json:"prefetch_skipped"`
	CacheErrors     int64   `json:"cache_errors"`
}

type Service struct {
	db    catalog.Querier
	cache cache.Cache
	opts  Options

	ctx    context.Context
	cancel context.CancelFunc
	slots  chan struct{}
	wg     sync.WaitGroup

	// epoch counts purges. A result read before a purge is not written back;
	// fillMu orders those writes against Purge.
	epoch  atomic.Uint64
	fillMu sync.RWMutex

	hits        atomic.Int64
	misses      atomic.Int64
	prefetches  atomic.Int64
	skipped     atomic.Int64
	cacheErrors atomic.Int64
}

func NewService(db catalog.Querier, c cache.Cache, opts Options) *Service {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		db:     db,
		cache:  c,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		slots:  make(chan struct{}, opts.PrefetchWorkers),
	}
}

// Search returns one page of buildings matching q. Malformed input is
// normalized, never rejected. Pages p-1 and p+1 are warmed in the
// background.
func (s *Service) Search(ctx context.Context, q catalog.ListQuery) (*Page, error) {
	q = q.Normalize()
	q.Search = textnorm.Normalize(q.Search, s.opts.MaxQueryRunes)

	ctx, span := tracer.Start(ctx, "search.Search")
	defer span.End()
	span.SetAttributes(attribute.String("query", q.Key()))

	page, hit, err := s.page(ctx, q)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("cache_hit", hit))
	if hit {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}

	s.prefetchAround(q, page.TotalPages)
	return page, nil
}

// page reads q from the cache or the database, filling the cache on a miss.
func (s *Service) page(ctx context.Context, q catalog.ListQuery) (*Page, bool, error) {
	key := cache.Key("list", q.Key())
	if p, ok := s.cached(ctx, key); ok {
		return p, true, nil
	}

	epoch := s.epoch.Load()
	p := &Page{Page: q.Page, Limit: q.Limit, Query: q.Values().Encode()}
	err := catalog.With(ctx, s.db, func(ctx context.Context, r *catalog.Repo) error {
		var err error
		if p.Total, err = r.Count(ctx, q); err != nil {
			return err
		}
		p.Items, err = r.List(ctx, q)
		return err
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "search")
	}
	p.TotalPages = catalog.TotalPages(p.Total, q.Limit)

	if b, err := json.Marshal(p); err == nil {
		s.store(ctx, epoch, key, b)
	}
	return p, false, nil
}

// store caches b under key unless the cache was purged since epoch was read.
func (s *Service) store(ctx context.Context, epoch uint64, key string, b []byte) {
	s.fillMu.RLock()
	defer s.fillMu.RUnlock()
	if s.epoch.Load() != epoch {
		s.opts.Logger.Debug("skip caching result read before purge", zap.String("key", key))
		return
	}
	if err := s.cache.Set(ctx, key, b, s.opts.TTL); err != nil {
		s.cacheErrors.Add(1)
		s.opts.Logger.Warn("cache set failed", zap.String("backend", s.cache.Name()), zap.Error(err))
	}
}

func (s *Service) cached(ctx context.Context, key string) (*Page, bool) {
	b, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.cacheErrors.Add(1)
		s.opts.Logger.Warn("cache get failed", zap.String("backend", s.cache.Name()), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var p Page
	if err := json.Unmarshal(b, &p); err != nil {
		s.cacheErrors.Add(1)
		return nil, false
	}
	return &p, true
}

func (s *Service) prefetchAround(q catalog.ListQuery, totalPages int) {
	for _, p := range []int{q.Page + 1, q.Page - 1} {
		if p < 1 || p > totalPages {
			continue
		}
		s.prefetch(q.WithPage(p))
	}
}

// prefetch warms q in the background if a slot is free. It never blocks.
func (s *Service) prefetch(q catalog.ListQuery) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	select {
	case s.slots <- struct{}{}:
	default:
		s.skipped.Add(1)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.slots }()

		ctx, cancel := context.WithTimeout(s.ctx, s.opts.PrefetchTimeout)
		defer cancel()

		if _, hit, err := s.page(ctx, q); err != nil {
			s.opts.Logger.Debug("prefetch failed", zap.String("query", q.Key()), zap.Error(err))
		} else if !hit {
			s.prefetches.Add(1)
		}
	}()
}

// Autocomplete suggests titles, architects and prefectures for input.
// Inputs shorter than the minimum return nothing without a query.
func (s *Service) Autocomplete(ctx context.Context, input string) ([]catalog.Suggestion, error) {
	input = textnorm.Normalize(input, s.opts.MaxQueryRunes)
	if textnorm.RuneLen(input) < s.opts.AutocompleteMin {
		return []catalog.Suggestion{}, nil
	}

	key := cache.Key("autocomplete", input)
	if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var out []catalog.Suggestion
		if err := json.Unmarshal(b, &out); err == nil {
			s.hits.Add(1)
			return out, nil
		}
	}

	epoch := s.epoch.Load()
	var out []catalog.Suggestion
	err := catalog.With(ctx, s.db, func(ctx context.Context, r *catalog.Repo) error {
		var err error
		out, err = r.Suggest(ctx, input, s.opts.AutocompleteLimit)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "autocomplete")
	}
	s.misses.Add(1)

	if b, err := json.Marshal(out); err == nil {
		s.store(ctx, epoch, key, b)
	}
	return out, nil
}

func (s *Service) Stats() Stats {
	st := Stats{
		Backend:         s.cache.Name(),
		Hits:            s.hits.Load(),
		Misses:          s.misses.Load(),
		Prefetches:      s.prefetches.Load(),
		PrefetchSkipped: s.skipped.Load(),
		CacheErrors:     s.cacheErrors.Load(),
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRatio = float64(st.Hits) / float64(total)
	}
	return st
}

// Purge empties the result cache, e.g. after the database was replaced.
// Queries still running against the old database do not refill it.
func (s *Service) Purge(ctx context.Context) error {
	s.fillMu.Lock()
	s.epoch.Add(1)
	s.fillMu.Unlock()
	return errors.Wrap(s.cache.Purge(ctx), "purge search cache")
}

// Wait blocks until running prefetches finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close stops prefetching and waits for running prefetches.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}
