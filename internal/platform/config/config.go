package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultCurrency            = "USD"
	defaultSessionTTL          = 30 * time.Minute
	defaultSessionSweep        = time.Minute
	defaultSubmissionTimeout   = 20 * time.Second
	defaultBreakerFailures     = 5
	defaultBreakerCooldown     = 30 * time.Second
	defaultOrderTopic          = "checkout.order_placed"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
)

// Config captures runtime configuration grouped by concern.
type Config struct {
	Server        ServerConfig
	Checkout      CheckoutConfig
	Submission    SubmissionConfig
	PSP           PSPConfig
	Events        EventsConfig
	Secrets       SecretsConfig
	Idempotency   IdempotencyConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// CheckoutConfig controls the wizard sessions and the catalog they price against.
type CheckoutConfig struct {
	Currency      string
	CatalogFile   string
	SessionTTL    time.Duration
	SweepInterval time.Duration
}

// SubmissionConfig tunes the order submission adapter. An empty OrderAPIURL routes orders
// through the in-process payment providers.
type SubmissionConfig struct {
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	OrderAPIURL     string
}

// PSPConfig holds payment provider credentials. WalletOffline approves wallet charges
// locally when no wallet endpoint is set and is meant for development only.
type PSPConfig struct {
	StripeAPIKey   string
	WalletEndpoint string
	WalletToken    string
	WalletOffline  bool
}

type EventsConfig struct {
	ProjectID  string
	OrderTopic string
}

type SecretsConfig struct {
	ProjectID string
}

type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	CleanupInterval time.Duration
}

type ObservabilityConfig struct {
	TraceProjectID string
}

// SecretResolver resolves secret://project/name style references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists missing or invalid fields.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError wraps a failed secret resolution.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError reports required secrets that resolved to nothing. Names are
// redacted in the message.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	redacted := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		redacted = append(redacted, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(redacted)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(redacted, ", "))
}

// Names returns the field names of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env path. An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that win over the OS environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret fields (e.g. "PSP.StripeAPIKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// Lookup returns a single key using the same precedence as Load. It lets callers build
// dependencies, such as the secret resolver, before the full load.
func Lookup(key string, opts ...Option) (string, error) {
	options := newOptions(opts)
	lookup, err := options.lookup()
	if err != nil {
		return "", err
	}
	value, _ := lookup(key)
	return strings.TrimSpace(value), nil
}

// Load assembles configuration from defaults, .env, the OS environment and an explicit
// map, in increasing precedence, then resolves secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newOptions(opts)
	lookup, err := options.lookup()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "CHECKOUT_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "CHECKOUT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "CHECKOUT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "CHECKOUT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Checkout: CheckoutConfig{
			Currency:      strings.ToUpper(stringWithDefault(lookup, "CHECKOUT_CURRENCY", defaultCurrency)),
			CatalogFile:   stringWithDefault(lookup, "CHECKOUT_CATALOG_FILE", ""),
			SessionTTL:    durationWithDefault(lookup, "CHECKOUT_SESSION_TTL", defaultSessionTTL),
			SweepInterval: durationWithDefault(lookup, "CHECKOUT_SESSION_SWEEP_INTERVAL", defaultSessionSweep),
		},
		Submission: SubmissionConfig{
			Timeout:         durationWithDefault(lookup, "CHECKOUT_SUBMISSION_TIMEOUT", defaultSubmissionTimeout),
			BreakerFailures: intWithDefault(lookup, "CHECKOUT_BREAKER_FAILURES", defaultBreakerFailures),
			BreakerCooldown: durationWithDefault(lookup, "CHECKOUT_BREAKER_COOLDOWN", defaultBreakerCooldown),
			OrderAPIURL:     stringWithDefault(lookup, "CHECKOUT_ORDER_API_URL", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:   stringWithDefault(lookup, "CHECKOUT_PSP_STRIPE_API_KEY", ""),
			WalletEndpoint: stringWithDefault(lookup, "CHECKOUT_WALLET_ENDPOINT", ""),
			WalletToken:    stringWithDefault(lookup, "CHECKOUT_WALLET_TOKEN", ""),
			WalletOffline:  boolWithDefault(lookup, "CHECKOUT_WALLET_OFFLINE", false),
		},
		Events: EventsConfig{
			ProjectID:  stringWithDefault(lookup, "CHECKOUT_PUBSUB_PROJECT_ID", ""),
			OrderTopic: stringWithDefault(lookup, "CHECKOUT_PUBSUB_ORDER_TOPIC", defaultOrderTopic),
		},
		Secrets: SecretsConfig{
			ProjectID: stringWithDefault(lookup, "CHECKOUT_SECRETS_PROJECT_ID", ""),
		},
		Idempotency: IdempotencyConfig{
			Header:          stringWithDefault(lookup, "CHECKOUT_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:             durationWithDefault(lookup, "CHECKOUT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval: durationWithDefault(lookup, "CHECKOUT_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
		},
		Observability: ObservabilityConfig{
			TraceProjectID: stringWithDefault(lookup, "CHECKOUT_TRACE_PROJECT_ID", ""),
		},
	}

	if cfg.Observability.TraceProjectID == "" {
		cfg.Observability.TraceProjectID = cfg.Events.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.WalletToken", &cfg.PSP.WalletToken},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	var missing []string
	seen := make(map[string]struct{})
	for _, name := range options.requiredSecrets {
		name = strings.TrimSpace(name)
		if _, dup := seen[name]; name == "" || dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Config{}, &MissingSecretsError{names: missing}
	}
	return cfg, nil
}

func newOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func (o loaderOptions) lookup() (func(string) (string, bool), error) {
	dotEnv, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if value, ok := o.envMap[key]; ok {
			return value, true
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
}

func validate(cfg Config) error {
	var missing []string
	if strings.TrimSpace(cfg.Server.Port) == "" {
		missing = append(missing, "Server.Port")
	}
	if len(cfg.Checkout.Currency) != 3 {
		missing = append(missing, "Checkout.Currency")
	}
	if cfg.Checkout.SessionTTL <= 0 {
		missing = append(missing, "Checkout.SessionTTL")
	}
	if cfg.Checkout.SweepInterval <= 0 {
		missing = append(missing, "Checkout.SweepInterval")
	}
	if cfg.Submission.Timeout <= 0 {
		missing = append(missing, "Submission.Timeout")
	}
	if cfg.Submission.BreakerFailures <= 0 {
		missing = append(missing, "Submission.BreakerFailures")
	}
	if cfg.Submission.BreakerCooldown <= 0 {
		missing = append(missing, "Submission.BreakerCooldown")
	}
	if cfg.Events.ProjectID != "" && strings.TrimSpace(cfg.Events.OrderTopic) == "" {
		missing = append(missing, "Events.OrderTopic")
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
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "secret://") && !strings.HasPrefix(value, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(value, "sm://"), "secret://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
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

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
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
