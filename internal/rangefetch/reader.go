package rangefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("rangefetch")

type Options struct {
	ChunkSize       int
	MaxCachedChunks int
	// MaxReadAhead bounds, in chunks, how far a sequential scan prefetches.
	MaxReadAhead   int
	Retries        int
	InitialBackoff time.Duration
	// ExpectedSize is the size announced by the sidecar; zero skips the check.
	ExpectedSize int64
	Logger       *zap.Logger
}

func (o *Options) setDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 64 * 1024
	}
	if o.MaxCachedChunks <= 0 {
		o.MaxCachedChunks = 512
	}
	if o.MaxReadAhead <= 0 {
		o.MaxReadAhead = 16
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 200 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type Stats struct {
	Size          int64   `json:"size"`
	ChunkSize     int     `json:"chunk_size"`
	Requests      int64   `json:"requests"`
	BytesFetched  int64   `json:"bytes_fetched"`
	ChunkHits     int64   `json:"chunk_hits"`
	ChunkMisses   int64   `json:"chunk_misses"`
	Retries       int64   `json:"retries"`
	CachedChunks  int     `json:"cached_chunks"`
	ReadAhead     int     `json:"read_ahead"`
	FetchedRatio  float64 `json:"fetched_ratio"`
	RangeRequests bool    `json:"range_requests"`
	SourceChanged bool    `json:"source_changed"`
}

// Reader is an io.ReaderAt over a Source. It is safe for concurrent use.
type Reader struct {
	src    Source
	opts   Options
	size   int64
	cache  *lru.Cache
	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	lastChunk int64
	window    int

	requests atomic.Int64
	fetched  atomic.Int64
	hits     atomic.Int64
	misses   atomic.Int64
	retries  atomic.Int64
	stale    atomic.Bool
}

// NewReader resolves the file size and checks it against
// opts.ExpectedSize.
func NewReader(ctx context.Context, src Source, opts Options) (*Reader, error) {
	opts.setDefaults()

	cache, err := lru.New(opts.MaxCachedChunks)
	if err != nil {
		return nil, fmt.Errorf("chunk cache: %w", err)
	}

	size, err := src.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("size of %s: %w", src.Name(), err)
	}
	if opts.ExpectedSize > 0 && opts.ExpectedSize != size {
		return nil, fmt.Errorf("%w: info says %d, %s has %d", ErrSizeMismatch, opts.ExpectedSize, src.Name(), size)
	}

	rctx, cancel := context.WithCancel(context.Background())
	return &Reader{
		src:       src,
		opts:      opts,
		size:      size,
		cache:     cache,
		ctx:       rctx,
		cancel:    cancel,
		lastChunk: -2,
		window:    1,
	}, nil
}

func (r *Reader) Size() (int64, error) { return r.size, nil }

func (r *Reader) Source() Source { return r.src }

// ReadAt satisfies io.ReaderAt for the SQLite VFS, which has no context to
// pass. Pending fetches are cancelled by Close.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	return r.ReadAtContext(r.ctx, p, off)
}

func (r *Reader) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("rangefetch: negative offset")
	}
	if r.stale.Load() {
		return 0, fmt.Errorf("%w: %s", ErrSourceChanged, r.src.Name())
	}
	if off >= r.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	end := off + int64(len(p))
	short := false
	if end > r.size {
		end = r.size
		short = true
	}

	cs := int64(r.opts.ChunkSize)
	first, last := off/cs, (end-1)/cs
	ahead := r.readAhead(first, last)
	lastIndex := (r.size - 1) / cs

	got := make(map[int64][]byte)
	n := 0
	for idx := first; idx <= last; idx++ {
		data, ok := got[idx]
		if !ok {
			data, ok = r.cached(idx)
		}
		if !ok {
			count := int64(1)
			for idx+count <= last+ahead && idx+count <= lastIndex && !r.cache.Contains(idx+count) {
				count++
			}
			chunks, err := r.fetchRun(ctx, idx, count)
			if err != nil {
				return n, err
			}
			for i, c := range chunks {
				got[idx+int64(i)] = c
			}
			data = chunks[0]
		}

		chunkStart := idx * cs
		from := int64(0)
		if off > chunkStart {
			from = off - chunkStart
		}
		to := int64(len(data))
		if chunkStart+to > end {
			to = end - chunkStart
		}
		if from > to {
			return n, fmt.Errorf("%w: chunk %d has %d bytes", ErrShortRead, idx, len(data))
		}
		n += copy(p[n:], data[from:to])
	}

	if short {
		return n, io.EOF
	}
	return n, nil
}

// readAhead returns how many chunks past last to fetch. Consecutive reads
// double the window up to MaxReadAhead; a jump resets it.
func (r *Reader) readAhead(first, last int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if first == r.lastChunk || first == r.lastChunk+1 {
		r.window *= 2
		if r.window > r.opts.MaxReadAhead {
			r.window = r.opts.MaxReadAhead
		}
	} else {
		r.window = 1
	}
	r.lastChunk = last
	return int64(r.window - 1)
}

func (r *Reader) cached(idx int64) ([]byte, bool) {
	v, ok := r.cache.Get(idx)
	if !ok {
		return nil, false
	}
	r.hits.Add(1)
	return v.([]byte), true
}

// fetchRun fetches count consecutive chunks starting at start with a single
// request. Concurrent callers asking for the same run share the request.
func (r *Reader) fetchRun(ctx context.Context, start, count int64) ([][]byte, error) {
	key := strconv.FormatInt(start, 10) + "+" + strconv.FormatInt(count, 10)
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.fetch(ctx, start, count)
	})
	if err != nil {
		return nil, err
	}
	return v.([][]byte), nil
}

func (r *Reader) fetch(ctx context.Context, start, count int64) ([][]byte, error) {
	cs := int64(r.opts.ChunkSize)
	off := start * cs
	length := count * cs
	if off+length > r.size {
		length = r.size - off
	}

	ctx, span := tracer.Start(ctx, "rangefetch.fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("source", r.src.Name()),
		attribute.Int64("offset", off),
		attribute.Int64("length", length),
	)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.opts.InitialBackoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.opts.Retries)), ctx)

	var data []byte
	err := backoff.Retry(func() error {
		r.requests.Add(1)
		d, err := r.src.ReadRange(ctx, off, length)
		if err == nil && int64(len(d)) != length {
			err = fmt.Errorf("%w: got %d of %d bytes at %d", ErrShortRead, len(d), length, off)
		}
		if err != nil {
			if !IsTemporary(err) {
				return backoff.Permanent(err)
			}
			r.retries.Add(1)
			r.opts.Logger.Warn("range fetch failed, retrying",
				zap.String("source", r.src.Name()),
				zap.Int64("offset", off),
				zap.Int64("length", length),
				zap.Error(err))
			return err
		}
		data = d
		return nil
	}, b)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrSourceChanged) {
			r.markStale(err)
		}
		return nil, fmt.Errorf("fetch %s [%d,+%d): %w", r.src.Name(), off, length, err)
	}
	r.fetched.Add(int64(len(data)))

	chunks := make([][]byte, 0, count)
	for i := int64(0); i < count; i++ {
		lo := i * cs
		if lo >= int64(len(data)) {
			break
		}
		hi := lo + cs
		if hi > int64(len(data)) {
			hi = int64(len(data))
		}
		c := data[lo:hi:hi]
		r.cache.Add(start+i, c)
		r.misses.Add(1)
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func (r *Reader) Stats() Stats {
	r.mu.Lock()
	window := r.window
	r.mu.Unlock()

	st := Stats{
		Size:          r.size,
		ChunkSize:     r.opts.ChunkSize,
		Requests:      r.requests.Load(),
		BytesFetched:  r.fetched.Load(),
		ChunkHits:     r.hits.Load(),
		ChunkMisses:   r.misses.Load(),
		Retries:       r.retries.Load(),
		CachedChunks:  r.cache.Len(),
		ReadAhead:     window,
		RangeRequests: true,
		SourceChanged: r.stale.Load(),
	}
	if r.size > 0 {
		st.FetchedRatio = float64(st.BytesFetched) / float64(r.size)
	}
	if hs, ok := r.src.(*HTTPSource); ok {
		st.RangeRequests = hs.RangeSupported()
	}
	return st
}

// Stale reports whether the source was replaced since the reader was
// opened. A stale reader fails every read; only a new reader can recover.
func (r *Reader) Stale() bool { return r.stale.Load() }

// markStale drops the cached chunks of the old file so they are never mixed
// with the new one.
func (r *Reader) markStale(err error) {
	if r.stale.Swap(true) {
		return
	}
	r.cache.Purge()
	r.opts.Logger.Warn("source changed under reader",
		zap.String("source", r.src.Name()),
		zap.Error(err))
}

// Purge drops every cached chunk.
func (r *Reader) Purge() {
	r.cache.Purge()
}

// Close cancels fetches started through ReadAt and releases the cache.
func (r *Reader) Close() error {
	r.cancel()
	r.cache.Purge()
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
