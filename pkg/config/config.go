package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Storage drivers supported for lesson videos.
const (
	StorageDriverLocal = "local"
	StorageDriverS3    = "s3"
)

type Config struct {
	Env        string
	Port       int
	APIPrefix  string
	AppBaseURL string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	CourseCache   CourseCacheConfig
	Storage       StorageConfig
	Mail          MailConfig
	Payments      PaymentsConfig
	Notifications NotificationsConfig
	PasswordReset PasswordResetConfig
	Maintenance   MaintenanceConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CourseCacheConfig toggles the Redis read-through cache for the catalog.
type CourseCacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// StorageConfig controls where lesson videos are kept and how links are signed.
type StorageConfig struct {
	Driver           string
	Dir              string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
	S3               S3Config
}

// S3Config holds credentials for an S3-compatible bucket.
type S3Config struct {
	Endpoint   string
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	PublicBase string
}

// MailConfig describes the SMTP relay. When disabled messages are only logged.
type MailConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
}

// PaymentsConfig carries Stripe credentials.
type PaymentsConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string
	SuccessURL          string
	CancelURL           string
}

// NotificationsConfig tunes the e-mail dispatch worker pool.
type NotificationsConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// PasswordResetConfig bounds the forgot-password flow.
type PasswordResetConfig struct {
	TokenTTL    time.Duration
	MaxAttempts int
}

// MaintenanceConfig schedules periodic housekeeping.
type MaintenanceConfig struct {
	Enabled  bool
	Schedule string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.AppBaseURL = strings.TrimRight(v.GetString("APP_BASE_URL"), "/")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.CourseCache = CourseCacheConfig{
		Enabled: v.GetBool("ENABLE_COURSE_CACHE"),
		TTL:     parseDuration(v.GetString("COURSE_CACHE_TTL"), 5*time.Minute),
	}

	maxVideoSize := v.GetInt64("VIDEO_MAX_SIZE")
	if maxVideoSize <= 0 {
		maxVideoSize = 500 * 1024 * 1024
	}
	cfg.Storage = StorageConfig{
		Driver:           strings.ToLower(v.GetString("STORAGE_DRIVER")),
		Dir:              v.GetString("STORAGE_DIR"),
		SignedURLSecret:  v.GetString("STORAGE_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("VIDEO_URL_TTL"), time.Hour),
		MaxFileSizeBytes: maxVideoSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("VIDEO_ALLOWED_MIME_TYPES")),
		S3: S3Config{
			Endpoint:   v.GetString("S3_ENDPOINT"),
			Region:     v.GetString("S3_REGION"),
			Bucket:     v.GetString("S3_BUCKET"),
			AccessKey:  v.GetString("S3_ACCESS_KEY"),
			SecretKey:  v.GetString("S3_SECRET_KEY"),
			PublicBase: v.GetString("S3_PUBLIC_BASE_URL"),
		},
	}

	cfg.Mail = MailConfig{
		Enabled:     v.GetBool("SMTP_ENABLED"),
		Host:        v.GetString("SMTP_HOST"),
		Port:        v.GetInt("SMTP_PORT"),
		Username:    v.GetString("SMTP_USERNAME"),
		Password:    v.GetString("SMTP_PASSWORD"),
		FromAddress: v.GetString("SMTP_FROM_ADDRESS"),
		FromName:    v.GetString("SMTP_FROM_NAME"),
	}

	cfg.Payments = PaymentsConfig{
		StripeSecretKey:     v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		Currency:            strings.ToLower(v.GetString("STRIPE_CURRENCY")),
		SuccessURL:          v.GetString("STRIPE_SUCCESS_URL"),
		CancelURL:           v.GetString("STRIPE_CANCEL_URL"),
	}
	if cfg.Payments.SuccessURL == "" {
		cfg.Payments.SuccessURL = cfg.AppBaseURL + cfg.APIPrefix + "/courses?session_id={CHECKOUT_SESSION_ID}"
	}
	if cfg.Payments.CancelURL == "" {
		cfg.Payments.CancelURL = cfg.AppBaseURL + cfg.APIPrefix + "/courses"
	}

	cfg.Notifications = NotificationsConfig{
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		BufferSize: v.GetInt("NOTIFY_BUFFER_SIZE"),
		MaxRetries: v.GetInt("NOTIFY_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 5*time.Second),
	}

	cfg.PasswordReset = PasswordResetConfig{
		TokenTTL:    parseDuration(v.GetString("PASSWORD_RESET_TTL"), 10*time.Minute),
		MaxAttempts: v.GetInt("PASSWORD_RESET_MAX_ATTEMPTS"),
	}

	cfg.Maintenance = MaintenanceConfig{
		Enabled:  v.GetBool("ENABLE_MAINTENANCE"),
		Schedule: v.GetString("MAINTENANCE_SCHEDULE"),
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c != nil && c.Env == EnvDevelopment
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("APP_BASE_URL", "http://localhost:8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "academix")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_COURSE_CACHE", false)
	v.SetDefault("COURSE_CACHE_TTL", "5m")

	v.SetDefault("STORAGE_DRIVER", StorageDriverLocal)
	v.SetDefault("STORAGE_DIR", "./media")
	v.SetDefault("STORAGE_SIGNED_URL_SECRET", "dev_media_secret")
	v.SetDefault("VIDEO_URL_TTL", "1h")
	v.SetDefault("VIDEO_MAX_SIZE", 500*1024*1024)
	v.SetDefault("VIDEO_ALLOWED_MIME_TYPES", "video/mp4,video/webm,video/quicktime")
	v.SetDefault("S3_REGION", "auto")

	v.SetDefault("SMTP_ENABLED", false)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_FROM_ADDRESS", "no-reply@academix.local")
	v.SetDefault("SMTP_FROM_NAME", "Academix")

	v.SetDefault("STRIPE_CURRENCY", "usd")

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_BUFFER_SIZE", 64)
	v.SetDefault("NOTIFY_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "5s")

	v.SetDefault("PASSWORD_RESET_TTL", "10m")
	v.SetDefault("PASSWORD_RESET_MAX_ATTEMPTS", 5)

	v.SetDefault("ENABLE_MAINTENANCE", true)
	v.SetDefault("MAINTENANCE_SCHEDULE", "@every 15m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
