// Package remotedb opens the published catalog with the WASM SQLite engine
// reading through a rangefetch.Reader, and hands the connection to queries
// once it is ready.
package remotedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/vfs/readervfs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"archimap/internal/rangefetch"
	"archimap/pkg/models"
	"archimap/pkg/schema"
	"archimap/pkg/utils"
)

var tracer = otel.Tracer("remotedb")

var (
	ErrNotReady     = errors.New("remotedb: database not ready")
	ErrLoadFailed   = errors.New("remotedb: database load failed")
	ErrMissingTable = errors.New("remotedb: required table missing")
	ErrClosed       = errors.New("remotedb: loader closed")
)

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

type ChangeKind string

const (
	ChangeLoaded   ChangeKind = "database.loaded"
	ChangeReloaded ChangeKind = "database.reloaded"
	ChangeFailed   ChangeKind = "database.failed"
)

// Change is delivered to OnChange subscribers after every state transition
// that ends a load.
type Change struct {
	Kind       ChangeKind
	Generation uint64
	Info       models.DatabaseInfo
	Err        error
	At         time.Time
}

type Config struct {
	// Source is an http(s) URL, an s3:// URI or a local path.
	Source   string
	InfoURL  string
	S3Region string
	Client   *http.Client

	Reader rangefetch.Options

	LoadAttempts int
	// RetryInterval spaces background load attempts while the loader is
	// failed.
	RetryInterval time.Duration
	ReadyTimeout  time.Duration
	QueryTimeout  time.Duration
	QuerySlots    int

	// OpenSource overrides source selection; tests use it to inject faults.
	OpenSource func(ctx context.Context) (rangefetch.Source, error)

	Logger *zap.Logger
}

// ConfigFrom maps the file configuration onto a loader Config.
func ConfigFrom(c utils.DatabaseConfig, logger *zap.Logger) Config {
	return Config{
		Source:   c.ReadSource(),
		InfoURL:  c.InfoURL,
		S3Region: c.S3Region,
		Reader: rangefetch.Options{
			ChunkSize:       c.ChunkSize,
			MaxCachedChunks: c.MaxCachedChunks,
			MaxReadAhead:    c.MaxReadAhead,
			Retries:         c.FetchRetries,
			Logger:          logger.Named("rangefetch"),
		},
		LoadAttempts:  c.LoadAttempts,
		RetryInterval: c.RetryInterval,
		ReadyTimeout:  c.ReadyTimeout,
		QueryTimeout:  c.QueryTimeout,
		QuerySlots:    c.QuerySlots,
		Logger:        logger,
	}
}

func (c *Config) setDefaults() {
	if c.LoadAttempts <= 0 {
		c.LoadAttempts = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 10 * time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 15 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.QuerySlots <= 0 {
		c.QuerySlots = 8
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Reader.Logger == nil {
		c.Reader.Logger = c.Logger
	}
}

// vfsSeq numbers readervfs registrations. The registry is process-wide, so
// names must not repeat across loaders.
var vfsSeq atomic.Uint64

// generation is one opened copy of the database. It is closed once it has
// been replaced and its in-flight queries have returned.
type generation struct {
	id        uint64
	vfsName   string
	db        *sql.DB
	reader    *rangefetch.Reader
	info      models.DatabaseInfo
	loadedAt  time.Time
	refs      sync.WaitGroup
	replacing atomic.Bool
}

func (g *generation) close() error {
	err := g.db.Close()
	readervfs.Delete(g.vfsName)
	if cerr := g.reader.Close(); err == nil {
		err = cerr
	}
	return err
}

type Loader struct {
	cfg    Config
	sem    *semaphore.Weighted
	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
	seq    atomic.Uint64

	mu        sync.Mutex
	state     State
	current   *generation
	lastErr   error
	failedAt  time.Time
	retrying  bool
	changed   chan struct{}
	listeners []func(Change)
	closed    bool
	draining  sync.WaitGroup
}

func New(cfg Config) *Loader {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.QuerySlots)),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateIdle,
		changed: make(chan struct{}),
	}
}

// OnChange registers fn to be called after each load or reload finishes.
// Callbacks run on the loading goroutine and must not block.
func (l *Loader) OnChange(fn func(Change)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Load opens the database unless a generation is already ready. Concurrent
// callers share one attempt; ctx only bounds how long this caller waits.
func (l *Loader) Load(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.state == StateReady {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.run(ctx, "load", false)
}

// Reload opens a new generation and swaps it in. The previous generation
// keeps serving until the swap and is closed after its queries drain.
func (l *Loader) Reload(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.mu.Unlock()
	return l.run(ctx, "reload", true)
}

// Start loads in the background and keeps retrying every RetryInterval
// until a generation is ready or the loader is closed. Calling it while a
// retry loop runs does nothing.
func (l *Loader) Start() {
	l.mu.Lock()
	if l.retrying || l.closed {
		l.mu.Unlock()
		return
	}
	l.retrying = true
	l.mu.Unlock()
	go l.keepLoading()
}

func (l *Loader) keepLoading() {
	defer func() {
		l.mu.Lock()
		l.retrying = false
		l.mu.Unlock()
	}()
	for {
		if wait := l.retryWait(); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-l.ctx.Done():
				t.Stop()
				return
			}
		}
		err := l.Load(l.ctx)
		if err == nil || errors.Is(err, ErrClosed) || l.ctx.Err() != nil {
			return
		}
		l.cfg.Logger.Warn("database unavailable, retrying",
			zap.String("source", l.sourceName()),
			zap.Duration("in", l.cfg.RetryInterval),
			zap.Error(err))
	}
}

// retryWait is how long the retry loop still has to wait after the last
// failure.
func (l *Loader) retryWait() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateFailed {
		return 0
	}
	return l.cfg.RetryInterval - time.Since(l.failedAt)
}

func (l *Loader) run(ctx context.Context, key string, reload bool) error {
	ch := l.group.DoChan(key, func() (any, error) {
		return nil, l.load(reload)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loader) load(reload bool) error {
	l.mu.Lock()
	if !reload && l.state == StateReady {
		l.mu.Unlock()
		return nil
	}
	if l.current == nil {
		l.setStateLocked(StateLoading)
	}
	l.mu.Unlock()

	ctx, span := tracer.Start(l.ctx, "remotedb.load")
	defer span.End()
	span.SetAttributes(attribute.Bool("reload", reload))

	start := time.Now()
	attempts := 0
	var gen *generation
	op := func() error {
		attempts++
		g, err := l.open(ctx)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			l.cfg.Logger.Warn("database load attempt failed",
				zap.Int("attempt", attempts),
				zap.String("source", l.sourceName()),
				zap.Error(err))
			return err
		}
		gen = g
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 250 * time.Millisecond
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(l.cfg.LoadAttempts-1)), ctx)

	if err := backoff.Retry(op, b); err != nil {
		span.RecordError(err)
		werr := fmt.Errorf("%w: %w", ErrLoadFailed, err)
		l.mu.Lock()
		l.lastErr = werr
		if l.current == nil {
			l.failedAt = time.Now()
			l.setStateLocked(StateFailed)
		}
		listeners := l.listeners
		l.mu.Unlock()

		l.cfg.Logger.Error("database load failed",
			zap.String("source", l.sourceName()),
			zap.Int("attempts", attempts),
			zap.Error(err))
		notify(listeners, Change{Kind: ChangeFailed, Err: werr, At: time.Now()})
		return werr
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = gen.close()
		return ErrClosed
	}
	old := l.current
	l.current = gen
	l.lastErr = nil
	l.setStateLocked(StateReady)
	listeners := l.listeners
	if old != nil {
		l.draining.Add(1)
	}
	l.mu.Unlock()

	if old != nil {
		go l.retire(old)
	}

	kind := ChangeLoaded
	if old != nil {
		kind = ChangeReloaded
	}
	l.cfg.Logger.Info("database ready",
		zap.String("source", l.sourceName()),
		zap.Uint64("generation", gen.id),
		zap.Int64("size", gen.info.Size),
		zap.Strings("tables", gen.info.Tables),
		zap.Duration("took", time.Since(start)))
	notify(listeners, Change{Kind: kind, Generation: gen.id, Info: gen.info, At: gen.loadedAt})
	return nil
}

func (l *Loader) retire(g *generation) {
	defer l.draining.Done()
	g.refs.Wait()
	if err := g.close(); err != nil {
		l.cfg.Logger.Warn("close retired generation", zap.Uint64("generation", g.id), zap.Error(err))
	}
}

func notify(listeners []func(Change), c Change) {
	for _, fn := range listeners {
		fn(c)
	}
}

func retryable(err error) bool {
	if errors.Is(err, rangefetch.ErrSourceChanged) {
		return true
	}
	if errors.Is(err, ErrMissingTable) {
		return false
	}
	return rangefetch.IsTemporary(err)
}

func (l *Loader) sourceName() string {
	if l.cfg.Source != "" {
		return l.cfg.Source
	}
	return "custom"
}

func (l *Loader) openSource(ctx context.Context) (rangefetch.Source, error) {
	if l.cfg.OpenSource != nil {
		return l.cfg.OpenSource(ctx)
	}
	return OpenSource(ctx, l.cfg.Source, l.cfg.InfoURL, l.cfg.S3Region, l.cfg.Client)
}

// open builds one generation: sidecar, range reader, VFS registration and a
// verified connection pool.
func (l *Loader) open(ctx context.Context) (*generation, error) {
	src, err := l.openSource(ctx)
	if err != nil {
		return nil, err
	}

	var info models.DatabaseInfo
	if is, ok := src.(rangefetch.InfoSource); ok {
		info, err = is.Info(ctx)
		switch {
		case errors.Is(err, rangefetch.ErrNoInfo):
			l.cfg.Logger.Debug("no database-info.json, reading size from source", zap.String("source", src.Name()))
		case err != nil:
			closeSource(src)
			return nil, fmt.Errorf("database info: %w", err)
		}
	}

	opts := l.cfg.Reader
	opts.ExpectedSize = info.Size
	reader, err := rangefetch.NewReader(ctx, src, opts)
	if err != nil {
		closeSource(src)
		return nil, err
	}

	id := l.seq.Add(1)
	name := fmt.Sprintf("archimap-%d.db", vfsSeq.Add(1))
	readervfs.Create(name, reader)

	g := &generation{id: id, vfsName: name, reader: reader}
	db, err := sql.Open("sqlite3", "file:"+name+"?vfs=reader&mode=ro")
	if err != nil {
		readervfs.Delete(name)
		_ = reader.Close()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	db.SetMaxOpenConns(l.cfg.QuerySlots)
	db.SetMaxIdleConns(l.cfg.QuerySlots)
	g.db = db

	if err := l.verify(ctx, g, info); err != nil {
		stale := reader.Stale()
		_ = g.close()
		if stale {
			return nil, fmt.Errorf("%w: %w", rangefetch.ErrSourceChanged, err)
		}
		return nil, err
	}
	g.loadedAt = time.Now()
	return g, nil
}

func (l *Loader) verify(ctx context.Context, g *generation, info models.DatabaseInfo) error {
	var version int
	if err := g.db.QueryRowContext(ctx, `PRAGMA schema_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	tables, err := schema.Tables(ctx, g.db)
	if err != nil {
		return err
	}
	if missing := schema.Missing(tables, schema.Required); len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingTable, missing)
	}

	size, _ := g.reader.Size()
	g.info = models.DatabaseInfo{Size: size, Tables: tables}
	if len(info.Tables) > 0 {
		g.info.Tables = info.Tables
	}
	return nil
}

func closeSource(src rangefetch.Source) {
	if c, ok := src.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

func (l *Loader) setStateLocked(s State) {
	l.state = s
	close(l.changed)
	l.changed = make(chan struct{})
}

// Do runs fn against the current generation. It waits up to ReadyTimeout for
// a pending load, holds one query slot for the duration of fn and bounds fn
// with QueryTimeout. When the source file was replaced under the generation,
// Do fails with ErrNotReady and a reload is started.
func (l *Loader) Do(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	g, err := l.acquire(ctx)
	if err != nil {
		return err
	}
	defer g.refs.Done()

	if g.reader.Stale() {
		l.replaceStale(g)
		return fmt.Errorf("%w: %w", ErrNotReady, rangefetch.ErrSourceChanged)
	}

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)

	qctx, cancel := context.WithTimeout(ctx, l.cfg.QueryTimeout)
	defer cancel()
	err = fn(qctx, g.db)
	if err != nil && g.reader.Stale() {
		l.replaceStale(g)
		return fmt.Errorf("%w: %w: %v", ErrNotReady, rangefetch.ErrSourceChanged, err)
	}
	return err
}

// replaceStale starts one background reload for the current generation once
// its source has changed.
func (l *Loader) replaceStale(g *generation) {
	l.mu.Lock()
	current := l.current == g && !l.closed
	l.mu.Unlock()
	if !current || !g.replacing.CompareAndSwap(false, true) {
		return
	}
	l.cfg.Logger.Warn("database source changed, reloading",
		zap.String("source", l.sourceName()),
		zap.Uint64("generation", g.id))
	go func() {
		if err := l.Reload(l.ctx); err != nil {
			g.replacing.Store(false)
		}
	}()
}

func (l *Loader) acquire(ctx context.Context) (*generation, error) {
	var timer <-chan time.Time
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil, ErrClosed
		}
		switch l.state {
		case StateReady:
			g := l.current
			g.refs.Add(1)
			l.mu.Unlock()
			return g, nil
		case StateFailed:
			err := l.lastErr
			l.mu.Unlock()
			l.Start()
			return nil, err
		}
		idle := l.state == StateIdle
		changed := l.changed
		l.mu.Unlock()
		if idle {
			l.Start()
		}

		if timer == nil {
			t := time.NewTimer(l.cfg.ReadyTimeout)
			defer t.Stop()
			timer = t.C
		}
		select {
		case <-changed:
		case <-timer:
			return nil, ErrNotReady
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type Status struct {
	State      State               `json:"state"`
	Generation uint64              `json:"generation"`
	Source     string              `json:"source"`
	Error      string              `json:"error,omitempty"`
	Info       models.DatabaseInfo `json:"info"`
	LoadedAt   *time.Time          `json:"loaded_at,omitempty"`
	Reader     *rangefetch.Stats   `json:"reader,omitempty"`
}

func (l *Loader) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := Status{State: l.state, Source: l.sourceName()}
	if l.lastErr != nil {
		st.Error = l.lastErr.Error()
	}
	if g := l.current; g != nil {
		st.Generation = g.id
		st.Info = g.info
		at := g.loadedAt
		st.LoadedAt = &at
		rs := g.reader.Stats()
		st.Reader = &rs
	}
	return st
}

func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Info returns the description of the current generation.
func (l *Loader) Info() (models.DatabaseInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return models.DatabaseInfo{}, false
	}
	return l.current.info, true
}

// PurgeChunks drops the chunk cache of the current generation.
func (l *Loader) PurgeChunks() {
	l.mu.Lock()
	g := l.current
	l.mu.Unlock()
	if g != nil {
		g.reader.Purge()
	}
}

// Close stops pending loads and closes every generation once its queries
// have returned.
func (l *Loader) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.cancel()
	g := l.current
	l.current = nil
	l.setStateLocked(StateIdle)
	l.mu.Unlock()

	l.draining.Wait()
	if g == nil {
		return nil
	}
	g.refs.Wait()
	return g.close()
}
