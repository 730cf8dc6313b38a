package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the call agent process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
	Call  CallConfig
	Media MediaConfig
}

type AppConfig struct {
	Env  string
	Port int

	// LogLevel overrides the env-derived level: debug, info, warn, error.
	LogLevel string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	// DB selects the logical database; optional, defaults to 0.
	DB int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration

	// AgentKey is the shared key the local UI presents to obtain a token.
	AgentKey string
}

// CallConfig carries the local participant identity and call timing.
type CallConfig struct {
	LocalPeerID string
	DisplayName string

	RingTimeout       time.Duration
	GraceWindow       time.Duration
	JoinTimeout       time.Duration
	GroupPollInterval time.Duration

	// Initial preferences; both can be changed at runtime through the API.
	DoNotDisturb        bool
	PreferDecentralized bool
}

// MediaConfig describes the two media providers. A provider with an empty URL
// is treated as unconfigured.
type MediaConfig struct {
	CentralizedURL    string
	CentralizedAppID  string
	CentralizedSecret string
	CentralizedTTL    time.Duration

	DecentralizedURL string
}

func (m MediaConfig) CentralizedConfigured() bool {
	return m.CentralizedURL != "" && m.CentralizedSecret != ""
}

func (m MediaConfig) DecentralizedConfigured() bool {
	return m.DecentralizedURL != ""
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_DB")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.AgentKey = os.Getenv("AGENT_KEY")

	c.Call.LocalPeerID = strings.TrimSpace(os.Getenv("LOCAL_PEER_ID"))
	c.Call.DisplayName = strings.TrimSpace(os.Getenv("LOCAL_DISPLAY_NAME"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Call.RingTimeout = mustDuration("CALL_RING_TIMEOUT")
	c.Call.GraceWindow = mustDuration("CALL_GRACE_WINDOW")
	c.Call.JoinTimeout = mustDuration("CALL_JOIN_TIMEOUT")
	c.Call.GroupPollInterval = mustDuration("GROUP_POLL_INTERVAL")
	{
		b, err := optionalBool("CALL_DND")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Call.DoNotDisturb = b
	}
	{
		b, err := optionalBool("CALL_PREFER_DECENTRALIZED")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Call.PreferDecentralized = b
	}

	c.Media.CentralizedURL = strings.TrimSpace(os.Getenv("MEDIA_CENTRALIZED_URL"))
	c.Media.CentralizedAppID = strings.TrimSpace(os.Getenv("MEDIA_CENTRALIZED_APP_ID"))
	c.Media.CentralizedSecret = os.Getenv("MEDIA_CENTRALIZED_SECRET")
	c.Media.CentralizedTTL = mustDuration("MEDIA_CENTRALIZED_TOKEN_TTL")
	c.Media.DecentralizedURL = strings.TrimSpace(os.Getenv("MEDIA_DECENTRALIZED_URL"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills in defaults. It has a pointer
// receiver so defaults stick on the caller's copy.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	switch c.App.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.App.LogLevel))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Redis.DB < 0 || c.Redis.DB > 15 {
		errs = append(errs, fmt.Errorf("REDIS_DB must be between 0 and 15, got %d", c.Redis.DB))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.AgentKey == "" {
			errs = append(errs, errors.New("AGENT_KEY is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 12 * time.Hour
	}

	if c.Call.LocalPeerID == "" {
		errs = append(errs, errors.New("LOCAL_PEER_ID is required"))
	}
	if c.Call.DisplayName == "" {
		c.Call.DisplayName = c.Call.LocalPeerID
	}
	if c.Call.RingTimeout <= 0 {
		c.Call.RingTimeout = 45 * time.Second
	}
	if c.Call.GraceWindow <= 0 {
		c.Call.GraceWindow = 500 * time.Millisecond
	}
	if c.Call.JoinTimeout <= 0 {
		c.Call.JoinTimeout = 15 * time.Second
	}
	if c.Call.GroupPollInterval <= 0 {
		c.Call.GroupPollInterval = 10 * time.Second
	}
	if c.Call.GraceWindow >= c.Call.RingTimeout {
		errs = append(errs, errors.New("CALL_GRACE_WINDOW must be shorter than CALL_RING_TIMEOUT"))
	}

	if !c.Media.CentralizedConfigured() && !c.Media.DecentralizedConfigured() {
		errs = append(errs, errors.New("at least one media provider must be configured (MEDIA_CENTRALIZED_URL+MEDIA_CENTRALIZED_SECRET or MEDIA_DECENTRALIZED_URL)"))
	}
	if c.Media.CentralizedURL != "" && c.Media.CentralizedSecret == "" {
		errs = append(errs, errors.New("MEDIA_CENTRALIZED_SECRET is required when MEDIA_CENTRALIZED_URL is set"))
	}
	if c.Media.CentralizedTTL <= 0 {
		c.Media.CentralizedTTL = 2 * time.Hour
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalBool(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
