// Package remote fetches remote inputs for the fetch host function.
//
// Bodies are stored content-addressed in the object store and their
// metadata (ETag, freshness lifetime) in a MetadataStore, so a later run can
// reuse a fresh response without touching the network or revalidate a stale
// one with If-None-Match.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/openfroyo/stardrive/pkg/engine"
	"github.com/openfroyo/stardrive/pkg/hashing"
	"github.com/openfroyo/stardrive/pkg/stores"
	"github.com/openfroyo/stardrive/pkg/telemetry"
)

const (
	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBodyBytes caps the size of a fetched body.
	DefaultMaxBodyBytes = 32 << 20

	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "stardrive"

	defaultMaxTries = 3
)

// MetadataStore persists per-URL fetch metadata.
type MetadataStore interface {
	GetRemote(ctx context.Context, url string) (*stores.RemoteObject, error)
	PutRemote(ctx context.Context, obj *stores.RemoteObject) error
}

// Options configures a Fetcher.
type Options struct {
	Client       *http.Client
	Metadata     MetadataStore
	Objects      engine.ObjectStore
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64

	// DefaultTTL is the freshness lifetime of responses that carry no
	// Cache-Control or Expires header. Zero means always revalidate.
	DefaultTTL time.Duration

	// MaxTries bounds attempts on transient failures.
	MaxTries uint

	Logger *telemetry.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Fetcher is an HTTP RemoteFetcher with persistent caching.
type Fetcher struct {
	opts  Options
	group singleflight.Group
}

var _ engine.RemoteFetcher = (*Fetcher)(nil)

// NewFetcher creates a Fetcher.
func NewFetcher(opts Options) (*Fetcher, error) {
	if opts.Metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if opts.Objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = defaultMaxTries
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Fetcher{opts: opts}, nil
}

// Fetch returns the content at rawURL. Concurrent fetches of the same URL
// share one request.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*engine.RemoteContent, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	v, err, _ := f.group.Do(rawURL, func() (any, error) {
		return f.fetch(ctx, rawURL)
	})
	if err != nil {
		return nil, err
	}
	return v.(*engine.RemoteContent), nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*engine.RemoteContent, error) {
	logger := f.opts.Logger.WithField("url", rawURL)
	now := f.opts.Now()

	meta, err := f.opts.Metadata.GetRemote(ctx, rawURL)
	if err != nil {
		logger.WithError(err).Warn("Failed to load remote metadata, refetching")
		meta = nil
	}

	var cached []byte
	if meta != nil {
		cached, err = f.opts.Objects.GetObject(ctx, meta.ContentHash)
		if err != nil {
			logger.WithError(err).Debug("Cached remote body unavailable")
			meta, cached = nil, nil
		}
	}

	if meta != nil && meta.Fresh(now) {
		logger.Debug("Remote input is fresh")
		return &engine.RemoteContent{URL: rawURL, Data: cached, ETag: meta.ETag}, nil
	}

	resp, err := f.request(ctx, rawURL, meta)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.status == http.StatusNotModified && meta != nil:
		logger.Debug("Remote input revalidated")
		meta.FetchedAt = now
		meta.ExpiresAt = now.Add(freshness(resp.header, f.opts.DefaultTTL, now))
		if etag := resp.header.Get("ETag"); etag != "" {
			meta.ETag = etag
		}
		if err := f.opts.Metadata.PutRemote(ctx, meta); err != nil {
			logger.WithError(err).Warn("Failed to update remote metadata")
		}
		return &engine.RemoteContent{URL: rawURL, Data: cached, ETag: meta.ETag}, nil

	case resp.status == http.StatusOK:
		hash := hashing.Content(resp.body)
		if err := f.opts.Objects.PutObject(ctx, hash, resp.body); err != nil {
			return nil, engine.NewInternalError("store remote body", err)
		}
		obj := &stores.RemoteObject{
			URL:         rawURL,
			ETag:        resp.header.Get("ETag"),
			ContentHash: hash,
			FetchedAt:   now,
			ExpiresAt:   now.Add(freshness(resp.header, f.opts.DefaultTTL, now)),
		}
		if err := f.opts.Metadata.PutRemote(ctx, obj); err != nil {
			logger.WithError(err).Warn("Failed to save remote metadata")
		}
		logger.Debugf("Fetched remote input (%d bytes)", len(resp.body))
		return &engine.RemoteContent{URL: rawURL, Data: resp.body, ETag: obj.ETag}, nil

	case resp.status == http.StatusNotFound || resp.status == http.StatusGone:
		return nil, engine.NewNotFoundError(rawURL)

	default:
		return nil, engine.NewInternalError(
			fmt.Sprintf("fetch %s: unexpected status %d", rawURL, resp.status), nil)
	}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// request performs a GET, retrying transport errors and 5xx responses.
func (f *Fetcher) request(ctx context.Context, rawURL string, meta *stores.RemoteObject) (*response, error) {
	op := func() (*response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, backoff.Permanent(engine.NewInvalidArgumentError(fmt.Sprintf("bad url %q: %v", rawURL, err)))
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)
		if meta != nil && meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}

		resp, err := f.opts.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("server error: %s", resp.Status)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
		if err != nil {
			return nil, err
		}
		if int64(len(body)) > f.opts.MaxBodyBytes {
			return nil, backoff.Permanent(engine.NewInvalidArgumentError(
				fmt.Sprintf("response from %s exceeds %d bytes", rawURL, f.opts.MaxBodyBytes)))
		}
		return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(f.opts.MaxTries),
	)
	if err != nil {
		var engErr *engine.EngineError
		if errors.As(err, &engErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, engine.NewInternalError("fetch "+rawURL, err)
	}
	return resp, nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return engine.NewInvalidArgumentError(fmt.Sprintf("bad url %q: %v", rawURL, err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return engine.NewInvalidArgumentError(fmt.Sprintf("unsupported url scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return engine.NewInvalidArgumentError(fmt.Sprintf("url %q has no host", rawURL))
	}
	return nil
}
