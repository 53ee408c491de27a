package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"tasktracker/domain"
)

// Keys are matched case-insensitively against the environment, so
// "tasks_table" is read from TASKS_TABLE and from tasks_table in a config file.
const (
	KeyStorageConnectionString = "storage_connection_string"
	KeyTasksTable              = "tasks_table"
	KeyUsersTable              = "users_table"
	KeyActivityTable           = "activity_table"
	KeyActivityQueue           = "activity_queue"
	KeyRedisConnectionString   = "redis_connection_string"
	KeyAuth0Domain             = "auth0_domain"
	KeyAuth0Audience           = "auth0_audience"
	KeyAuth0TestMode           = "auth0_test_mode"
	KeyTestJWTSecret           = "test_jwt_secret"
	KeyDebug                   = "debug"
	KeyTenantID                = "tenant_id"
	KeyListenAddr              = "listen_addr"
	KeyTasksCacheTTL           = "tasks_cache_ttl"
	KeyTrashRetentionDays      = "trash_retention_days"
	KeySweepSchedule           = "sweep_schedule"
	KeyAdminSubjects           = "admin_subjects"
	KeyDeduperTTL              = "deduper_ttl"
	KeyInMemoryStore           = "in_memory_store"
)

// Config is the runtime configuration shared by every command.
type Config struct {
	StorageConnectionString string `validate:"required_unless=InMemoryStore true"`
	TasksTable              string `validate:"required_unless=InMemoryStore true"`
	UsersTable              string `validate:"required_unless=InMemoryStore true"`
	ActivityTable           string `validate:"required_unless=InMemoryStore true"`
	ActivityQueue           string
	RedisConnectionString   string

	Auth0Domain   string `validate:"required_unless=Auth0TestMode true"`
	Auth0Audience string `validate:"required_unless=Auth0TestMode true"`
	Auth0TestMode bool
	TestJWTSecret string `validate:"required_if=Auth0TestMode true"`

	Debug         bool
	TenantID      string        `validate:"required"`
	ListenAddr    string        `validate:"required"`
	TasksCacheTTL time.Duration `validate:"gte=0"`
	RetentionDays int           `validate:"gte=1"`
	SweepSchedule string        `validate:"required"`
	AdminSubjects []string
	DeduperTTL    time.Duration `validate:"gt=0"`
	InMemoryStore bool
}

var validate = validator.New()

// SetDefaults registers the default value of every optional key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyTasksTable, "Tasks")
	v.SetDefault(KeyUsersTable, "Users")
	v.SetDefault(KeyActivityTable, "Activity")
	v.SetDefault(KeyTenantID, "default")
	v.SetDefault(KeyListenAddr, ":8080")
	v.SetDefault(KeyTasksCacheTTL, "5m")
	v.SetDefault(KeyTrashRetentionDays, domain.DefaultRetentionDays)
	v.SetDefault(KeySweepSchedule, "0 3 * * *")
	v.SetDefault(KeyDeduperTTL, "24h")
}

// Load reads the optional config file and the environment into a Config.
// Environment variables take precedence over the file.
func Load(v *viper.Viper, file string) (Config, error) {
	v.AutomaticEnv()
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := Config{
		StorageConnectionString: v.GetString(KeyStorageConnectionString),
		TasksTable:              v.GetString(KeyTasksTable),
		UsersTable:              v.GetString(KeyUsersTable),
		ActivityTable:           v.GetString(KeyActivityTable),
		ActivityQueue:           v.GetString(KeyActivityQueue),
		RedisConnectionString:   v.GetString(KeyRedisConnectionString),
		Auth0Domain:             v.GetString(KeyAuth0Domain),
		Auth0Audience:           v.GetString(KeyAuth0Audience),
		Auth0TestMode:           v.GetBool(KeyAuth0TestMode),
		TestJWTSecret:           v.GetString(KeyTestJWTSecret),
		Debug:                   v.GetBool(KeyDebug),
		TenantID:                v.GetString(KeyTenantID),
		ListenAddr:              v.GetString(KeyListenAddr),
		SweepSchedule:           v.GetString(KeySweepSchedule),
		AdminSubjects:           splitList(strings.Join(v.GetStringSlice(KeyAdminSubjects), ",")),
		InMemoryStore:           v.GetBool(KeyInMemoryStore),
	}

	var err error
	if cfg.TasksCacheTTL, err = duration(v, KeyTasksCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.DeduperTTL, err = duration(v, KeyDeduperTTL); err != nil {
		return Config{}, err
	}
	days := v.GetString(KeyTrashRetentionDays)
	if _, err := fmt.Sscan(days, &cfg.RetentionDays); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %q", strings.ToUpper(KeyTrashRetentionDays), days)
	}
	return cfg, nil
}

// Validate checks the settings needed to serve requests.
func (c Config) Validate() error {
	return validate.Struct(c)
}

// ValidateStorage checks the settings needed to reach table storage.
func (c Config) ValidateStorage() error {
	if c.StorageConnectionString == "" {
		return errors.New("missing storage config: STORAGE_CONNECTION_STRING is required")
	}
	return nil
}

// AuthIssuer is the token issuer expected from the configured Auth0 tenant.
func (c Config) AuthIssuer() string {
	if c.Auth0Domain == "" {
		return ""
	}
	return "https://" + c.Auth0Domain + "/"
}

// JWKSURL is the key set endpoint of the configured Auth0 tenant.
func (c Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth0Domain)
}

// RedisOptions parses either a redis:// URL or an Azure Cache style
// connection string ("host:6380,password=...,ssl=True").
func RedisOptions(conn string) (*redis.Options, error) {
	conn = strings.TrimSpace(conn)
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.Contains(parts[0], "=") || strings.Contains(parts[0], "://") {
		return nil, errors.New("invalid redis connection string: missing address")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", strings.ToUpper(key), err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
