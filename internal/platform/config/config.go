package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRequestTimeout       = 20 * time.Second
	defaultShutdownTimeout      = 15 * time.Second
	defaultLogLevel             = "info"
	defaultDatabaseMaxConns     = 10
	defaultCurrency             = "USD"
	defaultReservationTTL       = 15 * time.Minute
	defaultSweepInterval        = time.Minute
	defaultSweepBatchSize       = 100
	defaultAmountTolerance      = "0.01"
	defaultSecurityEnvironment  = "local"
	defaultIdentityClockSkew    = 5 * time.Minute
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultSecretsFallbackFile  = ".secrets.local"
	defaultSecretsCacheTTL      = 10 * time.Minute
)

var productionEnvironments = map[string]struct{}{"prod": {}, "production": {}}

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	PSP           PSPConfig
	Checkout      CheckoutConfig
	Notifications NotificationConfig
	Idempotency   IdempotencyConfig
	Security      SecurityConfig
	Secrets       SecretsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
}

// DatabaseConfig points at the Postgres instance holding orders and stock. An empty URL selects
// the in-memory store, which is only accepted outside production.
type DatabaseConfig struct {
	URL            string
	MaxConns       int32
	MigrateOnStart bool
}

// PSPConfig collects payment provider credentials.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	DefaultCurrency     string
}

// CheckoutConfig tunes reservation expiry and payment reconciliation.
type CheckoutConfig struct {
	ReservationTTL  time.Duration
	SweepInterval   time.Duration
	SweepBatchSize  int
	AmountTolerance decimal.Decimal
}

// NotificationConfig selects the Pub/Sub topic that receives order lifecycle events. Without a
// project the events are only logged.
type NotificationConfig struct {
	ProjectID string
	Topic     string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecurityConfig describes how caller identity headers are trusted.
type SecurityConfig struct {
	Environment    string
	SigningSecret  string
	ClockSkew      time.Duration
	CustomerHeader string
	RoleHeader     string
	EmailHeader    string
}

// SecretsConfig configures the Secret Manager resolver.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
	CacheTTL     time.Duration
}

// Production reports whether the environment requires durable storage and real credentials.
func (c SecurityConfig) Production() bool {
	_, ok := productionEnvironments[strings.ToLower(strings.TrimSpace(c.Environment))]
	return ok
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns the hashed secret identifiers, safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// EnvironmentValues returns the effective key/value environment map after applying the same
// precedence rules as Load (dotenv < OS env < explicit env map). main uses it to build the
// secret fetcher before the configuration itself is loaded.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnvValues))
	for key, value := range dotEnvValues {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory. Identifiers are the
// config field names recorded by the loader (e.g. "PSP.StripeAPIKey").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	if options.secret == nil {
		options.secret = SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		})
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	var invalid []string
	tolerance, err := decimal.NewFromString(stringWithDefault(lookup, "API_CHECKOUT_AMOUNT_TOLERANCE", defaultAmountTolerance))
	if err != nil {
		invalid = append(invalid, "Checkout.AmountTolerance")
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout:  durationWithDefault(lookup, "API_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			LogLevel:        strings.ToLower(stringWithDefault(lookup, "API_LOG_LEVEL", defaultLogLevel)),
		},
		Database: DatabaseConfig{
			URL:            stringWithDefault(lookup, "API_DATABASE_URL", ""),
			MaxConns:       int32(intWithDefault(lookup, "API_DATABASE_MAX_CONNS", defaultDatabaseMaxConns)),
			MigrateOnStart: boolWithDefault(lookup, "API_DATABASE_MIGRATE", true),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			DefaultCurrency:     strings.ToUpper(stringWithDefault(lookup, "API_PSP_DEFAULT_CURRENCY", defaultCurrency)),
		},
		Checkout: CheckoutConfig{
			ReservationTTL:  durationWithDefault(lookup, "API_CHECKOUT_RESERVATION_TTL", defaultReservationTTL),
			SweepInterval:   durationWithDefault(lookup, "API_CHECKOUT_SWEEP_INTERVAL", defaultSweepInterval),
			SweepBatchSize:  intWithDefault(lookup, "API_CHECKOUT_SWEEP_BATCH", defaultSweepBatchSize),
			AmountTolerance: tolerance,
		},
		Notifications: NotificationConfig{
			ProjectID: stringWithDefault(lookup, "API_NOTIFICATIONS_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "API_NOTIFICATIONS_TOPIC", ""),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Security: SecurityConfig{
			Environment:    strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			SigningSecret:  stringWithDefault(lookup, "API_SECURITY_IDENTITY_SIGNING_SECRET", ""),
			ClockSkew:      durationWithDefault(lookup, "API_SECURITY_IDENTITY_CLOCK_SKEW", defaultIdentityClockSkew),
			CustomerHeader: stringWithDefault(lookup, "API_SECURITY_HEADER_CUSTOMER", ""),
			RoleHeader:     stringWithDefault(lookup, "API_SECURITY_HEADER_ROLE", ""),
			EmailHeader:    stringWithDefault(lookup, "API_SECURITY_HEADER_EMAIL", ""),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "API_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "API_SECRETS_FALLBACK_FILE", defaultSecretsFallbackFile),
			CacheTTL:     durationWithDefault(lookup, "API_SECRETS_CACHE_TTL", defaultSecretsCacheTTL),
		},
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Database.URL", &cfg.Database.URL},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Security.SigningSecret", &cfg.Security.SigningSecret},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if strings.TrimSpace(cfg.Server.Port) == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Server.RequestTimeout <= 0 {
		missing = append(missing, "Server.RequestTimeout")
	}
	if cfg.Database.MaxConns <= 0 {
		missing = append(missing, "Database.MaxConns")
	}
	if _, err := currency.ParseISO(cfg.PSP.DefaultCurrency); err != nil {
		missing = append(missing, "PSP.DefaultCurrency")
	}
	if cfg.Checkout.ReservationTTL <= 0 {
		missing = append(missing, "Checkout.ReservationTTL")
	}
	if cfg.Checkout.SweepInterval <= 0 {
		missing = append(missing, "Checkout.SweepInterval")
	}
	if cfg.Checkout.SweepBatchSize <= 0 {
		missing = append(missing, "Checkout.SweepBatchSize")
	}
	if cfg.Checkout.AmountTolerance.IsNegative() {
		missing = append(missing, "Checkout.AmountTolerance")
	}
	if cfg.Notifications.ProjectID != "" && strings.TrimSpace(cfg.Notifications.Topic) == "" {
		missing = append(missing, "Notifications.Topic")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}
	if cfg.Security.Production() {
		if strings.TrimSpace(cfg.Database.URL) == "" {
			missing = append(missing, "Database.URL")
		}
		if strings.TrimSpace(cfg.PSP.StripeAPIKey) == "" {
			missing = append(missing, "PSP.StripeAPIKey")
		}
		if strings.TrimSpace(cfg.PSP.StripeWebhookSecret) == "" {
			missing = append(missing, "PSP.StripeWebhookSecret")
		}
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	var missing []missingSecret
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] != "" {
			continue
		}
		missing = append(missing, missingSecret{name: trimmed, redacted: redactSecretName(trimmed)})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
