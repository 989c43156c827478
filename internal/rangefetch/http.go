package rangefetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"archimap/pkg/models"
)

// HTTPSource reads the file with Range GETs. When the origin ignores the
// Range header and answers 200 with the whole body, the body is kept and
// every later read is served from it.
//
// The version seen by Size is pinned: range requests carry If-Range, and a
// response for a different length, ETag or Last-Modified fails with
// ErrSourceChanged.
type HTTPSource struct {
	URL     string
	InfoURL string
	Client  *http.Client

	mu           sync.Mutex
	full         []byte
	size         int64
	etag         string
	lastModified string
	ranged       bool
}

func NewHTTPSource(rawURL string) *HTTPSource {
	return &HTTPSource{
		URL:     rawURL,
		InfoURL: DefaultInfoURL(rawURL),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// DefaultInfoURL places database-info.json next to the database file.
func DefaultInfoURL(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return ""
	}
	u.Path = path.Join(path.Dir(u.Path), "database-info.json")
	u.RawQuery = ""
	return u.String()
}

func (s *HTTPSource) Name() string { return s.URL }

// RangeSupported is false once the origin has ignored a Range header.
func (s *HTTPSource) RangeSupported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full == nil
}

func (s *HTTPSource) Size(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("build head request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("head %s: %w", s.URL, err)
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK && resp.ContentLength >= 0 {
		s.pin(resp, resp.ContentLength)
		return resp.ContentLength, nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMethodNotAllowed {
		return 0, &StatusError{Code: resp.StatusCode, URL: s.URL}
	}

	// HEAD without a length: ask for a one byte range instead.
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("build length request: %w", err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err = s.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get first byte of %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		_, _, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return 0, err
		}
		if total < 0 {
			return 0, fmt.Errorf("rangefetch: %s does not report its length", s.URL)
		}
		s.pin(resp, total)
		return total, nil
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", s.URL, err)
		}
		s.pin(resp, int64(len(body)))
		s.keepFull(body)
		return int64(len(body)), nil
	default:
		return 0, &StatusError{Code: resp.StatusCode, URL: s.URL}
	}
}

func (s *HTTPSource) ReadRange(ctx context.Context, off, n int64) ([]byte, error) {
	if b, ok := s.fromFull(off, n); ok {
		return b, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+n-1))
	if v := s.validator(); v != "" {
		req.Header.Set("If-Range", v)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, _, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, err
		}
		if err := s.sameVersion(resp, total); err != nil {
			return nil, err
		}
		if start != off {
			return nil, fmt.Errorf("rangefetch: %s answered range starting at %d, asked %d", s.URL, start, off)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, n))
		if err != nil {
			return nil, fmt.Errorf("read range body: %w", err)
		}
		s.mu.Lock()
		s.ranged = true
		s.mu.Unlock()
		return body, nil
	case http.StatusOK:
		// An origin that has served ranges only answers 200 when If-Range
		// no longer matches.
		s.mu.Lock()
		ranged := s.ranged
		s.mu.Unlock()
		if ranged {
			return nil, fmt.Errorf("%w: %s ignored If-Range", ErrSourceChanged, s.URL)
		}
		if err := s.sameVersion(resp, resp.ContentLength); err != nil {
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read full body: %w", err)
		}
		if err := s.sameVersion(nil, int64(len(body))); err != nil {
			return nil, err
		}
		s.keepFull(body)
		b, _ := s.fromFull(off, n)
		return b, nil
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, nil
	default:
		return nil, &StatusError{Code: resp.StatusCode, URL: s.URL}
	}
}

// Info fetches the database-info.json sidecar.
func (s *HTTPSource) Info(ctx context.Context) (models.DatabaseInfo, error) {
	if s.InfoURL == "" {
		return models.DatabaseInfo{}, ErrNoInfo
	}
	return FetchInfo(ctx, s.Client, s.InfoURL)
}

// pin records the version the reader was sized against.
func (s *HTTPSource) pin(resp *http.Response, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size = size
	s.etag = resp.Header.Get("ETag")
	s.lastModified = resp.Header.Get("Last-Modified")
}

// validator is the If-Range value for the pinned version. Weak ETags are
// not allowed there.
func (s *HTTPSource) validator() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.etag != "" && !strings.HasPrefix(s.etag, "W/") {
		return s.etag
	}
	return s.lastModified
}

// sameVersion compares a response with the pinned version. A negative total
// or an empty header is not evidence either way.
func (s *HTTPSource) sameVersion(resp *http.Response, total int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if total >= 0 && s.size > 0 && total != s.size {
		return fmt.Errorf("%w: %s is %d bytes, was %d", ErrSourceChanged, s.URL, total, s.size)
	}
	if resp == nil {
		return nil
	}
	if et := resp.Header.Get("ETag"); et != "" && s.etag != "" && et != s.etag {
		return fmt.Errorf("%w: %s etag %s, was %s", ErrSourceChanged, s.URL, et, s.etag)
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" && s.lastModified != "" && lm != s.lastModified {
		return fmt.Errorf("%w: %s modified %s, was %s", ErrSourceChanged, s.URL, lm, s.lastModified)
	}
	return nil
}

func (s *HTTPSource) keepFull(body []byte) {
	s.mu.Lock()
	s.full = body
	s.mu.Unlock()
}

func (s *HTTPSource) fromFull(off, n int64) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full == nil {
		return nil, false
	}
	size := int64(len(s.full))
	if off >= size {
		return nil, true
	}
	end := off + n
	if end > size {
		end = size
	}
	out := make([]byte, end-off)
	copy(out, s.full[off:end])
	return out, true
}

// FetchInfo downloads and decodes a database-info.json document.
func FetchInfo(ctx context.Context, client *http.Client, infoURL string) (models.DatabaseInfo, error) {
	var info models.DatabaseInfo

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return info, fmt.Errorf("build info request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return info, fmt.Errorf("get %s: %w", infoURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return info, ErrNoInfo
	}
	if resp.StatusCode != http.StatusOK {
		return info, &StatusError{Code: resp.StatusCode, URL: infoURL}
	}

	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, fmt.Errorf("decode %s: %w", infoURL, err)
	}
	return info, nil
}

// parseContentRange parses "bytes start-end/total".
func parseContentRange(h string) (start, end, total int64, err error) {
	bad := fmt.Errorf("rangefetch: malformed Content-Range %q", h)

	rest, ok := strings.CutPrefix(strings.TrimSpace(h), "bytes ")
	if !ok {
		return 0, 0, 0, bad
	}
	rng, tot, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, bad
	}
	a, b, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, bad
	}
	if start, err = strconv.ParseInt(a, 10, 64); err != nil {
		return 0, 0, 0, bad
	}
	if end, err = strconv.ParseInt(b, 10, 64); err != nil {
		return 0, 0, 0, bad
	}
	if tot == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(tot, 10, 64); err != nil {
		return 0, 0, 0, bad
	}
	return start, end, total, nil
}
