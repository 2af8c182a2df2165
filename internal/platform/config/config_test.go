package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func load(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	base := []Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}
	return Load(context.Background(), append(base, opts...)...)
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := load(t, map[string]string{})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("unexpected log level %s", cfg.Server.LogLevel)
	}
	if cfg.Database.URL != "" || cfg.Database.MaxConns != 10 || !cfg.Database.MigrateOnStart {
		t.Errorf("unexpected database defaults %+v", cfg.Database)
	}
	if cfg.PSP.DefaultCurrency != "USD" {
		t.Errorf("expected USD, got %s", cfg.PSP.DefaultCurrency)
	}
	if cfg.Checkout.ReservationTTL != 15*time.Minute {
		t.Errorf("unexpected reservation ttl %s", cfg.Checkout.ReservationTTL)
	}
	if cfg.Checkout.SweepInterval != time.Minute || cfg.Checkout.SweepBatchSize != 100 {
		t.Errorf("unexpected sweep defaults %+v", cfg.Checkout)
	}
	if !cfg.Checkout.AmountTolerance.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("unexpected tolerance %s", cfg.Checkout.AmountTolerance)
	}
	if cfg.Security.Environment != "local" || cfg.Security.Production() {
		t.Errorf("expected local environment, got %s", cfg.Security.Environment)
	}
	if cfg.Security.ClockSkew != defaultIdentityClockSkew {
		t.Errorf("unexpected clock skew %s", cfg.Security.ClockSkew)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults %+v", cfg.Idempotency)
	}
	if cfg.Secrets.FallbackFile != ".secrets.local" {
		t.Errorf("unexpected fallback file %s", cfg.Secrets.FallbackFile)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                      "9090",
		"API_SERVER_REQUEST_TIMEOUT":           "5s",
		"API_LOG_LEVEL":                        "DEBUG",
		"API_DATABASE_URL":                     "secret://database_url",
		"API_DATABASE_MAX_CONNS":               "25",
		"API_DATABASE_MIGRATE":                 "off",
		"API_PSP_STRIPE_API_KEY":               "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET":        "sm://stripe/webhook",
		"API_PSP_DEFAULT_CURRENCY":             "eur",
		"API_CHECKOUT_RESERVATION_TTL":         "30m",
		"API_CHECKOUT_SWEEP_INTERVAL":          "30s",
		"API_CHECKOUT_SWEEP_BATCH":             "50",
		"API_CHECKOUT_AMOUNT_TOLERANCE":        "0.05",
		"API_NOTIFICATIONS_PROJECT_ID":         "fixparts-prod",
		"API_NOTIFICATIONS_TOPIC":              "order-events",
		"API_SECURITY_ENVIRONMENT":             "Production",
		"API_SECURITY_IDENTITY_SIGNING_SECRET": "secret://identity/signing",
		"API_SECURITY_HEADER_CUSTOMER":         "X-Shop-Customer",
		"API_IDEMPOTENCY_TTL":                  "48h",
	}
	secrets := map[string]string{
		"secret://database_url":     "postgres://db/fixparts",
		"secret://stripe/api":       "sk_live",
		"secret://stripe/webhook":   "whsec",
		"secret://identity/signing": "sign-me",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if value, ok := secrets[ref]; ok {
			return value, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := load(t, env, WithSecretResolver(resolver), WithRequiredSecrets("PSP.StripeAPIKey", "Database.URL"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.RequestTimeout != 5*time.Second || cfg.Server.LogLevel != "debug" {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Database.URL != "postgres://db/fixparts" || cfg.Database.MaxConns != 25 || cfg.Database.MigrateOnStart {
		t.Errorf("unexpected database config %+v", cfg.Database)
	}
	if cfg.PSP.StripeAPIKey != "sk_live" || cfg.PSP.StripeWebhookSecret != "whsec" || cfg.PSP.DefaultCurrency != "EUR" {
		t.Errorf("unexpected psp config %+v", cfg.PSP)
	}
	if cfg.Checkout.ReservationTTL != 30*time.Minute || cfg.Checkout.SweepBatchSize != 50 {
		t.Errorf("unexpected checkout config %+v", cfg.Checkout)
	}
	if !cfg.Checkout.AmountTolerance.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("unexpected tolerance %s", cfg.Checkout.AmountTolerance)
	}
	if cfg.Notifications.Topic != "order-events" {
		t.Errorf("unexpected topic %s", cfg.Notifications.Topic)
	}
	if !cfg.Security.Production() || cfg.Security.SigningSecret != "sign-me" || cfg.Security.CustomerHeader != "X-Shop-Customer" {
		t.Errorf("unexpected security config %+v", cfg.Security)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "# local\nexport API_SERVER_PORT=7070\nAPI_NOTIFICATIONS_TOPIC='order-events'\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Notifications.Topic != "order-events" {
		t.Errorf("expected unquoted topic, got %s", cfg.Notifications.Topic)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := load(t, map[string]string{
		"API_CHECKOUT_SWEEP_BATCH":      "0",
		"API_CHECKOUT_AMOUNT_TOLERANCE": "a cent",
		"API_PSP_DEFAULT_CURRENCY":      "DOLLARS",
		"API_NOTIFICATIONS_PROJECT_ID":  "fixparts-dev",
	})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"Checkout.SweepBatchSize", "Checkout.AmountTolerance", "PSP.DefaultCurrency", "Notifications.Topic"} {
		if !slices.Contains(validation.Fields(), field) {
			t.Errorf("expected %s in %v", field, validation.Fields())
		}
	}
}

func TestLoadProductionRequiresDurableDependencies(t *testing.T) {
	_, err := load(t, map[string]string{"API_SECURITY_ENVIRONMENT": "prod"})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := []string{"Database.URL", "PSP.StripeAPIKey", "PSP.StripeWebhookSecret"}
	if got := validation.Fields(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	_, err := load(t, map[string]string{"API_PSP_STRIPE_API_KEY": "secret://missing"})
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Errorf("expected unconfigured resolver cause, got %v", err)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SECRETS_PROJECT_ID=dot-project\nAPI_SECRETS_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_SECRETS_PROJECT_ID", "os-project")
	t.Setenv("API_SECRETS_CACHE_TTL", "1m")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_SECRETS_PROJECT_ID": "override-project",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_SECRETS_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRETS_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRETS_CACHE_TTL"]; got != "1m" {
		t.Fatalf("expected system env ttl, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := load(t, map[string]string{}, WithRequiredSecrets("PSP.StripeWebhookSecret"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expected := redactSecretName("PSP.StripeWebhookSecret")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expected {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		rec := recover()
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if names := missing.Names(); len(names) != 1 || names[0] != "Security.SigningSecret" {
			t.Fatalf("unexpected missing secrets %v", names)
		}
	}()

	_, _ = load(t, map[string]string{}, WithRequiredSecrets("Security.SigningSecret"), WithPanicOnMissingSecrets())
}
