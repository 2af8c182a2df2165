package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	meterName           = "github.com/fixparts/api/internal/platform/secrets"

	sourceCache    = "cache"
	sourceRemote   = "remote"
	sourceFallback = "fallback"
	sourceError    = "error"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// ErrNotFound is returned when neither Secret Manager nor the fallback file holds the reference.
var ErrNotFound = errors.New("secrets: secret not found")

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references (payment provider keys, the database URL, the identity
// signing secret) from Google Secret Manager. Values are cached for a bounded time so rotated
// keys are picked up without a restart. When Secret Manager is unreachable or no project is
// configured, values come from a local KEY=VALUE file.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	projectID  string
	ttl        time.Duration
	now        func() time.Time

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.Mutex
	cache map[string]cachedSecret

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

type fetcherConfig struct {
	logger       *zap.Logger
	projectID    string
	fallbackPath string
	ttl          time.Duration
	now          func() time.Time
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		cfg.logger = logger
	}
}

// WithProject sets the Google Cloud project that owns the secrets.
func WithProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.projectID = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile overrides the local fallback file. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.fallbackPath = strings.TrimSpace(path)
	}
}

// WithCacheTTL bounds how long a resolved value is served from memory.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *fetcherConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithClock injects the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(cfg *fetcherConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) {
		cfg.meter = m
	}
}

// WithSecretManagerClient injects a preconfigured Secret Manager client.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

// WithClientOptions forwards options to the Secret Manager client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created is not fatal; the
// fetcher then serves the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		fallbackPath: defaultFallbackPath,
		ttl:          defaultCacheTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}

	latency, err := meter.Float64Histogram(
		"fixparts.secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution by source"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register latency histogram: %w", err)
	}
	cacheHits, err := meter.Int64Counter(
		"fixparts.secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions served from memory"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register cache counter: %w", err)
	}

	f := &Fetcher{
		logger:       cfg.logger,
		projectID:    cfg.projectID,
		ttl:          cfg.ttl,
		now:          cfg.now,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]cachedSecret),
		latency:      latency,
		cacheHits:    cacheHits,
	}

	switch {
	case cfg.client != nil:
		f.client = cfg.client
	case cfg.projectID != "":
		client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager unavailable, serving fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies the configuration loader's resolver contract.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref (secret://name[?version=N&project=P]).
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	if value, ok := f.cached(parsed.key()); ok {
		f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", maskReference(parsed.canonical))))
		f.observe(ctx, start, sourceCache)
		return value, nil
	}

	project := parsed.project
	if project == "" {
		project = f.projectID
	}
	if project != "" && f.client != nil {
		value, err := f.fetchRemote(ctx, project, parsed)
		if err == nil {
			f.store(parsed.key(), value)
			f.observe(ctx, start, sourceRemote)
			return value, nil
		}
		if !isFallbackError(err) {
			f.observe(ctx, start, sourceError)
			return "", fmt.Errorf("secrets: fetch %s: %w", maskReference(parsed.canonical), err)
		}
		f.logger.Debug("secrets: secret manager unreachable, using fallback",
			zap.String("secret", maskReference(parsed.canonical)), zap.Error(err))
	}

	value, err := f.lookupFallback(parsed)
	if err != nil {
		f.observe(ctx, start, sourceError)
		return "", err
	}
	f.store(parsed.key(), value)
	f.observe(ctx, start, sourceFallback)
	return value, nil
}

// Invalidate drops any cached value for ref so the next Resolve fetches again.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	f.mu.Lock()
	delete(f.cache, parsed.key())
	f.mu.Unlock()
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[key]
	if !ok {
		return "", false
	}
	if !f.now().Before(entry.expiresAt) {
		delete(f.cache, key)
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = cachedSecret{value: value, expiresAt: f.now().Add(f.ttl)}
	f.mu.Unlock()
}

func (f *Fetcher) fetchRemote(ctx context.Context, project string, ref reference) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.versionOrLatest())
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) lookupFallback(ref reference) (string, error) {
	f.fallbackOnce.Do(f.loadFallback)
	if f.fallbackErr != nil {
		return "", f.fallbackErr
	}
	if value, ok := f.fallback[ref.key()]; ok {
		return value, nil
	}
	if value, ok := f.fallback[ref.canonical]; ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, maskReference(ref.canonical))
}

func (f *Fetcher) loadFallback() {
	f.fallback = map[string]string{}
	if f.fallbackPath == "" {
		return
	}
	path, err := filepath.Abs(f.fallbackPath)
	if err != nil {
		path = f.fallbackPath
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.fallbackErr = fmt.Errorf("secrets: open fallback file %s: %w", path, err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rawKey, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		parsed, err := parseReference(strings.TrimSpace(rawKey))
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		f.fallback[parsed.key()] = value
		if parsed.version == "" {
			f.fallback[parsed.canonical] = value
		}
	}
	if err := scanner.Err(); err != nil {
		f.fallbackErr = fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	f.latency.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

func (r reference) versionOrLatest() string {
	if r.version == "" {
		return "latest"
	}
	return r.version
}

func (r reference) key() string {
	return r.canonical + "#" + r.versionOrLatest()
}

// parseReference accepts secret://name and the older sm://name spelling.
func parseReference(ref string) (reference, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	if strings.HasPrefix(trimmed, "sm://") {
		trimmed = "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference: %w", err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, errors.New("secrets: reference has no secret name")
	}
	query := u.Query()
	return reference{
		canonical: "secret://" + name,
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func maskReference(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:8])
}

func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
