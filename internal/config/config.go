// Package config loads and validates runtime configuration at startup.
// Sources, lowest precedence first: built-in defaults, an optional config
// file, a .env file in the working directory, then the process environment.
// Fail-fast: any invalid value stops the process with an error.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"jobmate/recommender-service/internal/auth"
	"jobmate/recommender-service/internal/recommend"
	"jobmate/recommender-service/internal/registry"
)

// Config holds all runtime configuration for the recommender service.
type Config struct {
	Port     string
	GRPCPort string // empty disables the gRPC listener

	DatabaseURL     string // PostgreSQL; wins over SQLitePath when set
	DatabaseMaxConn int32
	SQLitePath      string
	RedisURL        string // optional: shared in-flight leases and scan events
	SearchIndexPath string // empty keeps the index in memory
	SearchEnabled   bool

	ScanSchedule       string // cron spec; empty disables scheduled scans
	ScanTimeout        time.Duration
	FetchTimeout       time.Duration
	ScanConcurrency    int
	DuplicateThreshold float64
	DuplicateEstimator string // "tokens" or "search"

	Backoff registry.BackoffPolicy
	Weights recommend.Weights

	MinResumeLength int
	HistoryTopN     int

	// APITokens maps a token to the scopes it grants; "*" grants all.
	APITokens map[string][]string

	LogJSON bool
	Debug   bool
}

// UsesPostgres reports whether DATABASE_URL selects the PostgreSQL store.
func (c *Config) UsesPostgres() bool { return c.DatabaseURL != "" }

func setDefaults(v *viper.Viper) {
	w := recommend.DefaultWeights()
	b := registry.DefaultBackoff()

	v.SetDefault("port", "8083")
	v.SetDefault("grpc_port", "")
	v.SetDefault("database_url", "")
	v.SetDefault("database_max_conns", 10)
	v.SetDefault("sqlite_path", "recommender.sqlite3")
	v.SetDefault("redis_url", "")
	v.SetDefault("search_enabled", true)
	v.SetDefault("search_index_path", "")
	v.SetDefault("scan_schedule", "@every 6h")
	v.SetDefault("scan_timeout", "60s")
	v.SetDefault("fetch_timeout", "15s")
	v.SetDefault("scan_concurrency", 4)
	v.SetDefault("duplicate_threshold", 0.8)
	v.SetDefault("duplicate_estimator", "tokens")

	v.SetDefault("backoff_base", b.Base)
	v.SetDefault("backoff_factor", b.Factor)
	v.SetDefault("backoff_cap", b.Cap)
	v.SetDefault("backoff_jitter", b.Jitter)

	v.SetDefault("scoring_title_weight", w.Title)
	v.SetDefault("scoring_description_weight", w.Description)
	v.SetDefault("scoring_preference_cap", w.PreferenceCap)
	v.SetDefault("scoring_freshness_weight", w.Freshness)
	v.SetDefault("scoring_freshness_window", w.FreshnessWindow)
	v.SetDefault("scoring_keyword_bonus", w.KeywordBonus)
	v.SetDefault("scoring_location_bonus", w.LocationBonus)
	v.SetDefault("scoring_company_bonus", w.CompanyBonus)
	v.SetDefault("scoring_remote_bonus", w.RemoteBonus)
	v.SetDefault("scoring_remote_penalty", w.RemotePenalty)
	v.SetDefault("scoring_duplicate_penalty", w.DuplicatePenalty)
	v.SetDefault("scoring_duplicate_penalty_cap", w.DuplicatePenaltyCap)

	v.SetDefault("min_resume_length", 20)
	v.SetDefault("history_top_n", 10)
	v.SetDefault("api_tokens", "")
	v.SetDefault("log_json", false)
	v.SetDefault("debug", false)
}

// Load reads configuration and returns a validated Config. file may be empty.
func Load(file string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	tokens, err := ParseTokens(v.GetString("api_tokens"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:               v.GetString("port"),
		GRPCPort:           v.GetString("grpc_port"),
		DatabaseURL:        v.GetString("database_url"),
		DatabaseMaxConn:    v.GetInt32("database_max_conns"),
		SQLitePath:         v.GetString("sqlite_path"),
		RedisURL:           v.GetString("redis_url"),
		SearchIndexPath:    v.GetString("search_index_path"),
		SearchEnabled:      v.GetBool("search_enabled"),
		ScanSchedule:       strings.TrimSpace(v.GetString("scan_schedule")),
		ScanTimeout:        v.GetDuration("scan_timeout"),
		FetchTimeout:       v.GetDuration("fetch_timeout"),
		ScanConcurrency:    v.GetInt("scan_concurrency"),
		DuplicateThreshold: v.GetFloat64("duplicate_threshold"),
		DuplicateEstimator: strings.ToLower(strings.TrimSpace(v.GetString("duplicate_estimator"))),
		Backoff: registry.BackoffPolicy{
			Base:   v.GetDuration("backoff_base"),
			Factor: v.GetFloat64("backoff_factor"),
			Cap:    v.GetDuration("backoff_cap"),
			Jitter: v.GetFloat64("backoff_jitter"),
		},
		Weights: recommend.Weights{
			Title:               v.GetFloat64("scoring_title_weight"),
			Description:         v.GetFloat64("scoring_description_weight"),
			PreferenceCap:       v.GetFloat64("scoring_preference_cap"),
			Freshness:           v.GetFloat64("scoring_freshness_weight"),
			FreshnessWindow:     v.GetDuration("scoring_freshness_window"),
			KeywordBonus:        v.GetFloat64("scoring_keyword_bonus"),
			LocationBonus:       v.GetFloat64("scoring_location_bonus"),
			CompanyBonus:        v.GetFloat64("scoring_company_bonus"),
			RemoteBonus:         v.GetFloat64("scoring_remote_bonus"),
			RemotePenalty:       v.GetFloat64("scoring_remote_penalty"),
			DuplicatePenalty:    v.GetFloat64("scoring_duplicate_penalty"),
			DuplicatePenaltyCap: v.GetFloat64("scoring_duplicate_penalty_cap"),
		},
		MinResumeLength: v.GetInt("min_resume_length"),
		HistoryTopN:     v.GetInt("history_top_n"),
		APITokens:       tokens,
		LogJSON:         v.GetBool("log_json"),
		Debug:           v.GetBool("debug"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("DATABASE_URL or SQLITE_PATH is required")
	}
	if c.DatabaseURL != "" {
		if u, err := url.Parse(c.DatabaseURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			return fmt.Errorf("DATABASE_URL must be a postgres:// URL")
		}
	}
	if c.GRPCPort != "" && c.GRPCPort == c.Port {
		return fmt.Errorf("GRPC_PORT must differ from PORT")
	}
	if c.DatabaseMaxConn < 1 {
		return fmt.Errorf("DATABASE_MAX_CONNS must be a positive integer, got %d", c.DatabaseMaxConn)
	}
	if c.ScanSchedule != "" {
		if _, err := cron.ParseStandard(c.ScanSchedule); err != nil {
			return fmt.Errorf("SCAN_SCHEDULE %q: %w", c.ScanSchedule, err)
		}
	}
	if c.ScanTimeout <= 0 || c.FetchTimeout <= 0 {
		return fmt.Errorf("SCAN_TIMEOUT and FETCH_TIMEOUT must be positive durations")
	}
	if c.ScanConcurrency < 1 {
		return fmt.Errorf("SCAN_CONCURRENCY must be a positive integer, got %d", c.ScanConcurrency)
	}
	if c.DuplicateThreshold <= 0 || c.DuplicateThreshold > 1 {
		return fmt.Errorf("DUPLICATE_THRESHOLD must be in (0, 1], got %v", c.DuplicateThreshold)
	}
	switch c.DuplicateEstimator {
	case "tokens":
	case "search":
		if !c.SearchEnabled {
			return fmt.Errorf("DUPLICATE_ESTIMATOR=search needs SEARCH_ENABLED=true")
		}
	default:
		return fmt.Errorf("DUPLICATE_ESTIMATOR must be tokens or search, got %q", c.DuplicateEstimator)
	}

	b := c.Backoff
	if b.Base <= 0 || b.Cap < b.Base {
		return fmt.Errorf("BACKOFF_BASE must be positive and not above BACKOFF_CAP")
	}
	if b.Factor < 1 {
		return fmt.Errorf("BACKOFF_FACTOR must be at least 1, got %v", b.Factor)
	}
	if b.Jitter < 0 || b.Jitter > 1 {
		return fmt.Errorf("BACKOFF_JITTER must be in [0, 1], got %v", b.Jitter)
	}

	w := c.Weights
	for name, x := range map[string]float64{
		"SCORING_TITLE_WEIGHT":          w.Title,
		"SCORING_DESCRIPTION_WEIGHT":    w.Description,
		"SCORING_PREFERENCE_CAP":        w.PreferenceCap,
		"SCORING_FRESHNESS_WEIGHT":      w.Freshness,
		"SCORING_KEYWORD_BONUS":         w.KeywordBonus,
		"SCORING_LOCATION_BONUS":        w.LocationBonus,
		"SCORING_COMPANY_BONUS":         w.CompanyBonus,
		"SCORING_REMOTE_BONUS":          w.RemoteBonus,
		"SCORING_REMOTE_PENALTY":        w.RemotePenalty,
		"SCORING_DUPLICATE_PENALTY":     w.DuplicatePenalty,
		"SCORING_DUPLICATE_PENALTY_CAP": w.DuplicatePenaltyCap,
	} {
		if x < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, x)
		}
	}
	if w.FreshnessWindow <= 0 {
		return fmt.Errorf("SCORING_FRESHNESS_WINDOW must be a positive duration")
	}
	if c.MinResumeLength < 1 || c.HistoryTopN < 1 {
		return fmt.Errorf("MIN_RESUME_LENGTH and HISTORY_TOP_N must be positive integers")
	}
	return nil
}

// ParseTokens parses "token:scope,scope;token2:*". An empty string yields no
// tokens, which leaves every operation open.
func ParseTokens(s string) (map[string][]string, error) {
	tokens := make(map[string][]string)
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, scopeList, ok := strings.Cut(entry, ":")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			return nil, fmt.Errorf("API_TOKENS entry %q must look like token:scope[,scope]", entry)
		}
		var scopes []string
		for _, scope := range strings.Split(scopeList, ",") {
			scope = strings.TrimSpace(scope)
			if scope == "" {
				continue
			}
			if !auth.ValidScope(scope) {
				return nil, fmt.Errorf("API_TOKENS: unknown scope %q", scope)
			}
			scopes = append(scopes, scope)
		}
		if len(scopes) == 0 {
			return nil, fmt.Errorf("API_TOKENS: token %q has no scopes", token)
		}
		tokens[token] = scopes
	}
	return tokens, nil
}
