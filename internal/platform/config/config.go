package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/currency"
)

const (
	defaultEnvFile             = ".env"
	defaultEnvironment         = "local"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 20 * time.Second
	defaultStoreDriver         = StoreDriverMemory
	defaultPostgresMaxConns    = 20
	defaultPostgresConnTTL     = 30 * time.Minute
	defaultRedisTrackingTTL    = 2 * time.Minute
	defaultSMSTopic            = "order-sms"
	defaultOrderEventsTopic    = "order-events"
	defaultOrderNumberPrefix   = "ORD"
	defaultTrackingPrefix      = "TRK"
	defaultCurrency            = "INR"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
)

// Store drivers accepted by API_STORE_DRIVER.
const (
	StoreDriverMemory    = "memory"
	StoreDriverPostgres  = "postgres"
	StoreDriverFirestore = "firestore"
)

var prefixPattern = regexp.MustCompile(`^[A-Z0-9]{1,8}$`)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Store       StoreConfig
	Postgres    PostgresConfig
	Firestore   FirestoreConfig
	Firebase    FirebaseConfig
	Redis       RedisConfig
	PubSub      PubSubConfig
	Kafka       KafkaConfig
	Orders      OrdersConfig
	Idempotency IdempotencyConfig
	Debug       DebugConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string
}

// PostgresConfig configures the relational store.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// RedisConfig configures the tracking cache and idempotency store. An empty
// Addr disables both and the in-process fallbacks are used.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	TrackingTTL time.Duration
}

// PubSubConfig configures SMS hand-off.
type PubSubConfig struct {
	ProjectID string
	SMSTopic  string
	Enabled   bool
}

// KafkaConfig configures order event publishing. No brokers disables publishing.
type KafkaConfig struct {
	Brokers          []string
	OrderEventsTopic string
}

// OrdersConfig holds order engine settings.
type OrdersConfig struct {
	NumberPrefix    string
	TrackingPrefix  string
	Currency        string
	FlatShippingFee int64
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// DebugConfig toggles diagnostics that must stay off in production.
type DebugConfig struct {
	ExposeErrors bool
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

// ValidationError is returned when configuration fields are missing or invalid.
// Every problem found is reported at once.
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

// MissingSecretsError indicates that one or more required secrets resolved empty.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface. Names are hashed so logs never carry them.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns the hashed secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret-bearing fields (e.g. "Postgres.DSN") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
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

// EnvironmentValues returns the effective environment after applying Load's
// precedence (.env < process environment < explicit map). Callers use it to
// build the secret resolver before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)

	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
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

// Load assembles the application configuration from defaults, the .env file,
// the process environment and secret references, then validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	if options.secret == nil {
		options.secret = SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		})
	}

	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	env := lookupEnv(values)

	cfg := Config{
		Environment: strings.ToLower(env.str("API_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:            env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: env.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(env.str("API_STORE_DRIVER", defaultStoreDriver)),
		},
		Postgres: PostgresConfig{
			DSN:             env.str("API_POSTGRES_DSN", ""),
			MaxOpenConns:    env.integer("API_POSTGRES_MAX_CONNS", defaultPostgresMaxConns),
			ConnMaxLifetime: env.duration("API_POSTGRES_CONN_MAX_LIFETIME", defaultPostgresConnTTL),
			MigrateOnStart:  env.boolean("API_POSTGRES_MIGRATE", true),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Redis: RedisConfig{
			Addr:        env.str("API_REDIS_ADDR", ""),
			Password:    env.str("API_REDIS_PASSWORD", ""),
			DB:          env.integer("API_REDIS_DB", 0),
			TrackingTTL: env.duration("API_REDIS_TRACKING_TTL", defaultRedisTrackingTTL),
		},
		PubSub: PubSubConfig{
			ProjectID: env.str("API_PUBSUB_PROJECT_ID", ""),
			SMSTopic:  env.str("API_PUBSUB_SMS_TOPIC", defaultSMSTopic),
			Enabled:   env.boolean("API_PUBSUB_ENABLED", false),
		},
		Kafka: KafkaConfig{
			Brokers:          env.csv("API_KAFKA_BROKERS"),
			OrderEventsTopic: env.str("API_KAFKA_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
		},
		Orders: OrdersConfig{
			NumberPrefix:    strings.ToUpper(env.str("API_ORDERS_NUMBER_PREFIX", defaultOrderNumberPrefix)),
			TrackingPrefix:  strings.ToUpper(env.str("API_ORDERS_TRACKING_PREFIX", defaultTrackingPrefix)),
			Currency:        strings.ToUpper(env.str("API_ORDERS_CURRENCY", defaultCurrency)),
			FlatShippingFee: int64(env.integer("API_ORDERS_FLAT_SHIPPING_FEE", 0)),
		},
		Idempotency: IdempotencyConfig{
			Header:          env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:             env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval: env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
		},
		Debug: DebugConfig{
			ExposeErrors: env.boolean("API_DEBUG_ERRORS", false),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Postgres.DSN", &cfg.Postgres.DSN},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	add := func(field string) { invalid = append(invalid, field) }

	if cfg.Server.Port == "" {
		add("Server.Port")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		add("Server.ShutdownTimeout")
	}
	if cfg.Firebase.ProjectID == "" {
		add("Firebase.ProjectID")
	}

	switch cfg.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if strings.TrimSpace(cfg.Postgres.DSN) == "" {
			add("Postgres.DSN")
		}
		if cfg.Postgres.MaxOpenConns <= 0 {
			add("Postgres.MaxOpenConns")
		}
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			add("Firestore.ProjectID")
		}
	default:
		add("Store.Driver")
	}

	if cfg.Redis.Addr != "" && cfg.Redis.TrackingTTL <= 0 {
		add("Redis.TrackingTTL")
	}
	if cfg.Redis.DB < 0 {
		add("Redis.DB")
	}
	if cfg.PubSub.Enabled {
		if cfg.PubSub.ProjectID == "" {
			add("PubSub.ProjectID")
		}
		if strings.TrimSpace(cfg.PubSub.SMSTopic) == "" {
			add("PubSub.SMSTopic")
		}
	}
	if len(cfg.Kafka.Brokers) > 0 && strings.TrimSpace(cfg.Kafka.OrderEventsTopic) == "" {
		add("Kafka.OrderEventsTopic")
	}

	if !prefixPattern.MatchString(cfg.Orders.NumberPrefix) {
		add("Orders.NumberPrefix")
	}
	if !prefixPattern.MatchString(cfg.Orders.TrackingPrefix) {
		add("Orders.TrackingPrefix")
	}
	if _, err := currency.ParseISO(cfg.Orders.Currency); err != nil {
		add("Orders.Currency")
	}
	if cfg.Orders.FlatShippingFee < 0 {
		add("Orders.FlatShippingFee")
	}

	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		add("Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		add("Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		add("Idempotency.CleanupInterval")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{})
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
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
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

type lookupEnv map[string]string

func (l lookupEnv) str(key, fallback string) string {
	if value := strings.TrimSpace(l[key]); value != "" {
		return value
	}
	return fallback
}

func (l lookupEnv) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(l[key])); err == nil {
		return d
	}
	return fallback
}

func (l lookupEnv) integer(key string, fallback int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(l[key])); err == nil {
		return parsed
	}
	return fallback
}

func (l lookupEnv) boolean(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(l[key])) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func (l lookupEnv) csv(key string) []string {
	var out []string
	for _, part := range strings.Split(l[key], ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
