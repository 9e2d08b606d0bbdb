// Package fetch resolves image URIs to their encoded bytes.
// This package implements:
// - file, http(s) and blob-store URI schemes
// - TTL caching of fetched bytes
// - Context cancellation for remote reads
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/mvanberg/mlarrays/store"
)

// Fetch errors
var (
	ErrUnsupportedScheme = errors.New("unsupported URI scheme")
	ErrNoStore           = errors.New("no blob store attached")
	ErrHTTPStatus        = errors.New("unexpected HTTP status")
)

// MaxFetchSize caps the bytes read from a remote URI (64MB).
const MaxFetchSize = 64 * 1024 * 1024

// Options configures a Fetcher.
type Options struct {
	// Client is the HTTP client for http(s) URIs. Nil means a client
	// with a 30s timeout.
	Client *http.Client
	// Store serves store:// URIs. Nil disables the scheme.
	Store *store.BlobStore
	// CacheTTL enables a TTL cache of fetched bytes when positive.
	CacheTTL time.Duration
	// Logger receives per-fetch debug events.
	Logger zerolog.Logger
}

// Fetcher resolves URIs to encoded image bytes.
type Fetcher struct {
	client *http.Client
	store  *store.BlobStore
	cache  *gocache.Cache
	log    zerolog.Logger
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	var c *gocache.Cache
	if opts.CacheTTL > 0 {
		c = gocache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}

	return &Fetcher{
		client: client,
		store:  opts.Store,
		cache:  c,
		log:    opts.Logger,
	}
}

// Fetch resolves a single URI. Supported schemes: bare paths and file://
// for local files, http:// and https:// for remote files, store://name
// for the attached blob store.
func (f *Fetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if f.cache != nil {
		if cached, ok := f.cache.Get(uri); ok {
			f.log.Debug().Str("uri", uri).Msg("fetch cache hit")
			return cached.([]byte), nil
		}
	}

	data, err := f.fetch(ctx, uri)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		f.cache.Set(uri, data, gocache.DefaultExpiration)
	}
	f.log.Debug().Str("uri", uri).Int("bytes", len(data)).Msg("fetched")
	return data, nil
}

func (f *Fetcher) fetch(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return f.fetchHTTP(ctx, uri)
	case strings.HasPrefix(uri, "store://"):
		return f.fetchStore(strings.TrimPrefix(uri, "store://"))
	case strings.HasPrefix(uri, "file://"):
		return readLocal(strings.TrimPrefix(uri, "file://"))
	case strings.Contains(uri, "://"):
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, uri)
	default:
		return readLocal(uri)
	}
}

func readLocal(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}
	return data, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %q: %w", uri, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %q: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s for %q", ErrHTTPStatus, resp.Status, uri)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %q: %w", uri, err)
	}
	if len(data) > MaxFetchSize {
		return nil, fmt.Errorf("response for %q exceeds %d bytes", uri, MaxFetchSize)
	}
	return data, nil
}

func (f *Fetcher) fetchStore(name string) ([]byte, error) {
	if f.store == nil {
		return nil, fmt.Errorf("%w for store://%s", ErrNoStore, name)
	}
	return f.store.Get(name)
}
