package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const minSecretLength = 32

type Config struct {
	Env            string
	ServerPort     int
	PublicBaseURL  string
	RequestTimeout time.Duration
	MaxUploadBytes int64
	Log            LogConfig
	Auth           AuthConfig
	Database       DatabaseConfig
	Storage        StorageConfig
	MQ             MQConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// AuthConfig holds the token signing secret. It is read once at startup and
// must never be logged or serialized.
type AuthConfig struct {
	JWTSecret   string
	TokenTTL    time.Duration
	Issuer      string
	BcryptCost  int
	HashWorkers int
}

type DatabaseConfig struct {
	// URL, when set, takes precedence over the individual fields.
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

type StorageConfig struct {
	// Backend is one of "minio", "gcs" or "bucket".
	Backend string
	Minio   MinioConfig
	GCS     GCSConfig
	// BucketURL is a gocloud.dev blob URL such as file:///var/lib/rentals or mem://.
	BucketURL string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

type MQConfig struct {
	// Backend is one of "", "rabbitmq" or "pubsub". Empty disables events.
	Backend  string
	Channel  string
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string
	PrefetchCount   int
	QueueDurable    bool
	QueueAutoDelete bool
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

// LoadConfig resolves configuration from the environment, then an optional
// YAML file named by CONFIG_FILE, then built-in defaults. A value that is
// present but malformed is an error, never a silent default.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	src := &source{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
		src.k = k
	}

	port := src.int("SERVER_PORT", "server.port", 8080)

	dbConfig := DatabaseConfig{
		URL:      src.str("DATABASE_URL", "database.url", ""),
		Host:     src.str("DB_HOST", "database.host", "localhost"),
		Port:     src.int("DB_PORT", "database.port", 5432),
		User:     src.str("DB_USER", "database.user", "rentals"),
		Password: src.str("DB_PASSWORD", "database.password", "password"),
		DBName:   src.str("DB_NAME", "database.name", "rentals_db"),
		UseSSL:   src.bool("DB_USE_SSL", "database.useSSL", false),
	}

	authConfig := AuthConfig{
		JWTSecret:   strings.TrimSpace(src.str("JWT_SECRET", "auth.jwtSecret", "")),
		TokenTTL:    src.duration("JWT_TTL", "auth.tokenTTL", 24*time.Hour),
		Issuer:      src.str("JWT_ISSUER", "auth.issuer", "leasehold"),
		BcryptCost:  src.int("BCRYPT_COST", "auth.bcryptCost", 10),
		HashWorkers: src.int("HASH_WORKERS", "auth.hashWorkers", runtime.NumCPU()),
	}

	storageConfig := StorageConfig{
		Backend: src.str("STORAGE_BACKEND", "storage.backend", "bucket"),
		Minio: MinioConfig{
			Endpoint:  src.str("MINIO_ENDPOINT", "storage.minio.endpoint", ""),
			AccessKey: src.str("MINIO_ACCESS_KEY", "storage.minio.accessKey", ""),
			SecretKey: src.str("MINIO_SECRET_KEY", "storage.minio.secretKey", ""),
			Bucket:    src.str("MINIO_BUCKET", "storage.minio.bucket", "rentals"),
			UseSSL:    src.bool("MINIO_USE_SSL", "storage.minio.useSSL", false),
		},
		GCS: GCSConfig{
			Bucket:          src.str("GCS_BUCKET", "storage.gcs.bucket", ""),
			ProjectID:       src.str("GCS_PROJECT_ID", "storage.gcs.projectID", ""),
			CredentialsFile: src.str("GCS_CREDENTIALS_FILE", "storage.gcs.credentialsFile", ""),
		},
		BucketURL: src.str("BUCKET_URL", "storage.bucketURL", "file:///var/lib/leasehold/uploads"),
	}

	mqConfig := MQConfig{
		Backend: src.str("MQ_BACKEND", "mq.backend", ""),
		Channel: src.str("MQ_CHANNEL", "mq.channel", "rentals.events"),
		RabbitMQ: RabbitMQConfig{
			URL:             src.str("RABBITMQ_URL", "mq.rabbitmq.url", ""),
			PrefetchCount:   src.int("RABBITMQ_PREFETCH", "mq.rabbitmq.prefetch", 10),
			QueueDurable:    src.bool("RABBITMQ_DURABLE", "mq.rabbitmq.durable", true),
			QueueAutoDelete: src.bool("RABBITMQ_AUTO_DELETE", "mq.rabbitmq.autoDelete", false),
		},
		PubSub: PubSubConfig{
			ProjectID:          src.str("PUBSUB_PROJECT_ID", "mq.pubsub.projectID", ""),
			CredentialsFile:    src.str("PUBSUB_CREDENTIALS_FILE", "mq.pubsub.credentialsFile", ""),
			SubscriptionSuffix: src.str("PUBSUB_SUBSCRIPTION_SUFFIX", "mq.pubsub.subscriptionSuffix", "-sub"),
		},
	}

	cfg := Config{
		Env:            src.str("ENV", "env", "prod"),
		ServerPort:     port,
		PublicBaseURL:  strings.TrimRight(src.str("PUBLIC_BASE_URL", "server.publicBaseURL", fmt.Sprintf("http://localhost:%d", port)), "/"),
		RequestTimeout: src.duration("REQUEST_TIMEOUT", "server.requestTimeout", 60*time.Second),
		MaxUploadBytes: int64(src.int("MAX_UPLOAD_BYTES", "server.maxUploadBytes", 10<<20)),
		Log: LogConfig{
			Level:  src.str("LOG_LEVEL", "log.level", "info"),
			Format: src.str("LOG_FORMAT", "log.format", "json"),
		},
		Auth:     authConfig,
		Database: dbConfig,
		Storage:  storageConfig,
		MQ:       mqConfig,
	}
	if err := errors.Join(src.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration that the server cannot start with.
func (c Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// DSN builds the postgres connection URL.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}

	sslmode := "disable"
	if d.UseSSL {
		sslmode = "require"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		User:   url.UserPassword(d.User, d.Password),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

// LogValue keeps credentials out of structured logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("env", c.Env),
		slog.Int("port", c.ServerPort),
		slog.String("public_base_url", c.PublicBaseURL),
		slog.Duration("token_ttl", c.Auth.TokenTTL),
		slog.Int("hash_workers", c.Auth.HashWorkers),
		slog.String("db_host", c.Database.Host),
		slog.String("db_name", c.Database.DBName),
		slog.String("storage", c.Storage.Backend),
		slog.String("mq", c.MQ.Backend),
	)
}

// String renders the same redacted view as LogValue, so printing a Config
// with fmt never exposes a secret.
func (c Config) String() string {
	return c.LogValue().String()
}

// source looks a setting up in the environment first, then in the optional
// config file. Values that fail to parse are collected in errs.
type source struct {
	k    *koanf.Koanf
	errs []error
}

func (s *source) str(env, key, defaultValue string) string {
	if value, exists := os.LookupEnv(env); exists {
		return value
	}
	if s.k != nil && s.k.Exists(key) {
		return s.k.String(key)
	}
	return defaultValue
}

// raw returns the trimmed setting; an empty value counts as unset.
func (s *source) raw(env, key string) (string, bool) {
	value := strings.TrimSpace(s.str(env, key, ""))
	return value, value != ""
}

func (s *source) invalid(env, raw string, err error) {
	s.errs = append(s.errs, fmt.Errorf("invalid %s %q: %w", env, raw, err))
}

func (s *source) int(env, key string, defaultValue int) int {
	raw, ok := s.raw(env, key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		s.invalid(env, raw, err)
		return defaultValue
	}
	return value
}

func (s *source) bool(env, key string, defaultValue bool) bool {
	raw, ok := s.raw(env, key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		s.invalid(env, raw, err)
		return defaultValue
	}
	return value
}

func (s *source) duration(env, key string, defaultValue time.Duration) time.Duration {
	raw, ok := s.raw(env, key)
	if !ok {
		return defaultValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		s.invalid(env, raw, err)
		return defaultValue
	}
	return value
}
