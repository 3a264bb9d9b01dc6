package sourcemap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/standardbeagle/errlens/internal/debug"
)

var (
	// ErrUnsupportedScheme is returned for URLs that cannot be fetched.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	// ErrTooLarge is returned when a response exceeds MaxBytes.
	ErrTooLarge = errors.New("response too large")
	// ErrNotPermitted is returned for URLs the resolver may not fetch.
	ErrNotPermitted = errors.New("fetch not permitted")
)

// statusError is a non-2xx HTTP response.
type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.url, e.code)
}

// transient reports whether the failure is worth retrying.
func (e *statusError) transient() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests
}

// isTransient reports whether err should be retried. Timeouts and network
// errors are; client errors, cancellation and unsupported URLs are not.
func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.transient()
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrUnsupportedScheme),
		errors.Is(err, ErrNotPermitted),
		errors.Is(err, ErrTooLarge),
		errors.Is(err, os.ErrNotExist):
		return false
	}
	return true
}

// permit checks target against the fetch policy. from is the script a map
// reference was found in, or empty for the script itself.
func (r *Resolver) permit(target, from string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedScheme, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		if !r.cfg.AllowFiles {
			return fmt.Errorf("%w: %s", ErrNotPermitted, target)
		}
		return nil
	case "http", "https":
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	if r.cfg.Allow == nil || r.cfg.Allow(u) {
		return nil
	}
	if from != "" {
		if f, err := url.Parse(from); err == nil &&
			strings.EqualFold(f.Scheme, u.Scheme) && strings.EqualFold(f.Host, u.Host) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotPermitted, target)
}

// fetch retrieves target, retrying transient failures with a fixed delay.
func (r *Resolver) fetch(ctx context.Context, target string) ([]byte, http.Header, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, nil, errors.Join(lastErr, ctx.Err())
			case <-time.After(r.cfg.RetryDelay):
			}
			debug.Log("sourcemap", "retrying %s (attempt %d/%d)", target, attempt+1, r.cfg.Retries+1)
		}

		body, header, err := r.fetchOnce(ctx, target)
		if err == nil {
			return body, header, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isTransient(err) {
			break
		}
	}
	r.failures.Add(1)
	return nil, nil, lastErr
}

func (r *Resolver) fetchOnce(ctx context.Context, target string) ([]byte, http.Header, error) {
	r.fetches.Add(1)

	u, err := url.Parse(target)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnsupportedScheme, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "file":
		if !r.cfg.AllowFiles {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotPermitted, target)
		}
		return r.readFile(u)
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnsupportedScheme, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, nil, &statusError{url: target, code: resp.StatusCode}
	}

	body, err := r.readLimited(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return body, resp.Header, nil
}

func (r *Resolver) readFile(u *url.URL) ([]byte, http.Header, error) {
	f, err := os.Open(u.Path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	body, err := r.readLimited(f)
	if err != nil {
		return nil, nil, err
	}
	return body, http.Header{}, nil
}

func (r *Resolver) readLimited(rd io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(rd, r.cfg.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > r.cfg.MaxBytes {
		return nil, ErrTooLarge
	}
	return body, nil
}

// cacheKey canonicalises a script URL. Fragments are dropped; the query is
// kept because it commonly versions bundles.
func cacheKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if idx := strings.Index(raw, "#"); idx != -1 {
			raw = raw[:idx]
		}
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}
