package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Checkout.Currency != "USD" {
		t.Errorf("expected USD, got %s", cfg.Checkout.Currency)
	}
	if cfg.Submission.Timeout != 20*time.Second {
		t.Errorf("expected default submission timeout, got %s", cfg.Submission.Timeout)
	}
	if cfg.Submission.BreakerFailures != defaultBreakerFailures {
		t.Errorf("unexpected breaker failures %d", cfg.Submission.BreakerFailures)
	}
	if cfg.Events.OrderTopic != defaultOrderTopic {
		t.Errorf("unexpected order topic %s", cfg.Events.OrderTopic)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
	if cfg.Submission.OrderAPIURL != "" {
		t.Errorf("expected no order api url, got %s", cfg.Submission.OrderAPIURL)
	}
	if cfg.PSP.WalletOffline {
		t.Errorf("wallet offline mode must be opt-in")
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"CHECKOUT_SERVER_PORT":         "9090",
		"CHECKOUT_SERVER_READ_TIMEOUT": "20s",
		"CHECKOUT_CURRENCY":            "htg",
		"CHECKOUT_SESSION_TTL":         "10m",
		"CHECKOUT_SUBMISSION_TIMEOUT":  "5s",
		"CHECKOUT_BREAKER_FAILURES":    "3",
		"CHECKOUT_PSP_STRIPE_API_KEY":  "sm://stripe/api",
		"CHECKOUT_WALLET_TOKEN":        "secret://wallet/token",
		"CHECKOUT_WALLET_ENDPOINT":     "https://wallet.example.com",
		"CHECKOUT_PUBSUB_PROJECT_ID":   "hf-prod",
		"CHECKOUT_WALLET_OFFLINE":      "true",
	}
	var refs []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		return "resolved:" + ref, nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Fatalf("unexpected server config %#v", cfg.Server)
	}
	if cfg.Checkout.Currency != "HTG" {
		t.Fatalf("expected currency to be upper-cased, got %s", cfg.Checkout.Currency)
	}
	if cfg.Checkout.SessionTTL != 10*time.Minute || cfg.Submission.Timeout != 5*time.Second || cfg.Submission.BreakerFailures != 3 {
		t.Fatalf("unexpected overrides %#v %#v", cfg.Checkout, cfg.Submission)
	}
	if cfg.PSP.StripeAPIKey != "resolved:secret://stripe/api" {
		t.Fatalf("expected sm:// reference to be normalised and resolved, got %s", cfg.PSP.StripeAPIKey)
	}
	if cfg.PSP.WalletToken != "resolved:secret://wallet/token" {
		t.Fatalf("unexpected wallet token %s", cfg.PSP.WalletToken)
	}
	if !cfg.PSP.WalletOffline {
		t.Fatalf("expected wallet offline flag to be parsed")
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 secret lookups, got %v", refs)
	}
	if cfg.Observability.TraceProjectID != "hf-prod" {
		t.Fatalf("expected trace project to default to pubsub project, got %s", cfg.Observability.TraceProjectID)
	}
}

func TestLoadValidationError(t *testing.T) {
	env := map[string]string{
		"CHECKOUT_CURRENCY":         "DOLLARS",
		"CHECKOUT_BREAKER_FAILURES": "0",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := verr.Fields()
	if len(fields) != 2 || fields[0] != "Checkout.Currency" || fields[1] != "Submission.BreakerFailures" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{"CHECKOUT_PSP_STRIPE_API_KEY": "secret://stripe/api"}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var serr *SecretError
	if !errors.As(err, &serr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected resolver not configured, got %v", err)
	}
}

func TestLoadRequiredSecretsMissing(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeAPIKey"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "PSP.StripeAPIKey" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local\nexport CHECKOUT_SERVER_PORT=7000\nCHECKOUT_CATALOG_FILE=\"/srv/catalog.yaml\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("CHECKOUT_SERVER_PORT", "7100")

	cfg, err := Load(context.Background(), WithEnvFile(path))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7100" {
		t.Fatalf("expected OS env to win over .env, got %s", cfg.Server.Port)
	}
	if cfg.Checkout.CatalogFile != "/srv/catalog.yaml" {
		t.Fatalf("expected catalog file from .env, got %s", cfg.Checkout.CatalogFile)
	}

	cfg, err = Load(context.Background(), WithEnvFile(path), WithEnvMap(map[string]string{"CHECKOUT_SERVER_PORT": "7200"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7200" {
		t.Fatalf("expected explicit map to win, got %s", cfg.Server.Port)
	}

	port, err := Lookup("CHECKOUT_SERVER_PORT", WithEnvFile(path), WithoutSystemEnv())
	if err != nil || port != "7000" {
		t.Fatalf("expected lookup to read .env, got %q %v", port, err)
	}
}
