// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package config loads gateway configuration from the environment.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ascending-llc/mcp-gateway-registry-sub002/pkg/logger"
)

// Provider names accepted for AUTH_PROVIDER.
const (
	ProviderKeycloak = "keycloak"
	ProviderCognito  = "cognito"
	ProviderEntra    = "entra"
)

// Config is the resolved gateway configuration.
type Config struct {
	// AuthProvider selects the default IdP adapter (keycloak, cognito, entra).
	AuthProvider string

	// SecretKey is the HMAC signing key for self-issued tokens, session
	// cookies, and the temporary OAuth session envelope.
	SecretKey string

	// SecretKeyGenerated is true when SecretKey was auto-generated because
	// SECRET_KEY was absent. Auto-generated keys are only safe single-node.
	SecretKeyGenerated bool

	JWTIssuer        string
	JWTAudience      string
	JWTSelfSignedKID string

	// AuthServerURL is the internal listen URL, AuthServerExternalURL the
	// address clients see, and APIPrefix the path prefix for all operational
	// endpoints. The advertised issuer is always the prefix-stripped
	// external URL.
	AuthServerURL         string
	AuthServerExternalURL string
	APIPrefix             string

	ListenAddr string

	DeviceCodeExpiry   time.Duration
	DevicePollInterval time.Duration
	OAuthSessionTTL    time.Duration

	AccessTokenLifetime  time.Duration
	MaxTokenLifetime     time.Duration
	DefaultTokenLifetime time.Duration
	RefreshTokenLifetime time.Duration
	SessionCookieTTL     time.Duration

	MaxTokensPerUserPerHour int

	CORSOrigins []string

	ScopesConfigPath string

	Providers map[string]ProviderConfig

	Storage    StorageConfig
	UserStore  UserStoreConfig
	Vector     VectorConfig
	Embeddings EmbeddingsConfig

	ErrorRedirectURL string
}

// ProviderConfig holds per-IdP settings.
type ProviderConfig struct {
	Enabled      bool
	URL          string
	Realm        string // Keycloak realm / Cognito user pool id / Entra tenant
	ClientID     string
	ClientSecret string
	// M2M credentials for client-credentials tokens; falls back to the
	// interactive client when unset.
	M2MClientID     string
	M2MClientSecret string

	// Claim mapping into the mapped user context.
	UsernameClaim string
	EmailClaim    string
	NameClaim     string
	GroupsClaim   string
}

// StorageConfig selects the flow-state store.
type StorageConfig struct {
	// Type is "memory" or "redis".
	Type      string
	RedisURL  string
	KeyPrefix string
}

// UserStoreConfig selects the user record store used for user_id resolution.
type UserStoreConfig struct {
	// Type is "none", "memory" or "mongo".
	Type       string
	MongoURI   string
	Database   string
	Collection string
}

// VectorConfig configures the discovery index.
type VectorConfig struct {
	// PersistPath is the optional on-disk location; empty means in-memory.
	PersistPath      string
	CollectionPrefix string
	// FTSPath is the SQLite FTS5 mirror; ":memory:" for in-memory.
	FTSPath string
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "openai", "bedrock" or "placeholder".
	Provider  string
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	AWSRegion string
}

const (
	defaultDeviceCodeExpiry   = 600 * time.Second
	defaultDevicePollInterval = 5 * time.Second
	defaultOAuthSessionTTL    = 600 * time.Second
	defaultAccessTokenTTL     = time.Hour
	defaultRefreshTokenTTL    = 14 * 24 * time.Hour
	defaultSessionCookieTTL   = 8 * time.Hour
	defaultMaxTokenHours      = 24
	defaultTokenHours         = 8
	defaultTokensPerHour      = 100
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("auth_provider", ProviderKeycloak)
	v.SetDefault("jwt_issuer", "mcp-gateway")
	v.SetDefault("jwt_audience", "mcp-gateway-api")
	v.SetDefault("jwt_self_signed_kid", "gateway-self-signed")
	v.SetDefault("auth_server_url", "http://localhost:8888")
	v.SetDefault("auth_server_external_url", "http://localhost:8888")
	v.SetDefault("auth_server_api_prefix", "/api")
	v.SetDefault("listen_addr", ":8888")
	v.SetDefault("device_code_expiry_seconds", 600)
	v.SetDefault("device_code_poll_interval", 5)
	v.SetDefault("oauth_session_ttl_seconds", 600)
	v.SetDefault("max_token_lifetime_hours", defaultMaxTokenHours)
	v.SetDefault("default_token_lifetime_hours", defaultTokenHours)
	v.SetDefault("max_tokens_per_user_per_hour", defaultTokensPerHour)
	v.SetDefault("storage_type", "memory")
	v.SetDefault("storage_key_prefix", "mcpgw:auth:")
	v.SetDefault("user_store_type", "none")
	v.SetDefault("user_store_database", "mcp_gateway")
	v.SetDefault("user_store_collection", "users")
	v.SetDefault("vector_collection_prefix", "mcpgw")
	v.SetDefault("vector_fts_path", ":memory:")
	v.SetDefault("embeddings_provider", "placeholder")
	v.SetDefault("embeddings_dimension", 384)
}

// Load reads configuration from the environment (and an optional config file
// already wired into viper by the CLI) and applies defaults.
func Load() (*Config, error) {
	v := viper.GetViper()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	setDefaults(v)

	cfg := &Config{
		AuthProvider:            strings.ToLower(v.GetString("auth_provider")),
		SecretKey:               v.GetString("secret_key"),
		JWTIssuer:               v.GetString("jwt_issuer"),
		JWTAudience:             v.GetString("jwt_audience"),
		JWTSelfSignedKID:        v.GetString("jwt_self_signed_kid"),
		AuthServerURL:           strings.TrimRight(v.GetString("auth_server_url"), "/"),
		AuthServerExternalURL:   strings.TrimRight(v.GetString("auth_server_external_url"), "/"),
		APIPrefix:               v.GetString("auth_server_api_prefix"),
		ListenAddr:              v.GetString("listen_addr"),
		DeviceCodeExpiry:        time.Duration(v.GetInt("device_code_expiry_seconds")) * time.Second,
		DevicePollInterval:      time.Duration(v.GetInt("device_code_poll_interval")) * time.Second,
		OAuthSessionTTL:         time.Duration(v.GetInt("oauth_session_ttl_seconds")) * time.Second,
		AccessTokenLifetime:     defaultAccessTokenTTL,
		MaxTokenLifetime:        time.Duration(v.GetInt("max_token_lifetime_hours")) * time.Hour,
		DefaultTokenLifetime:    time.Duration(v.GetInt("default_token_lifetime_hours")) * time.Hour,
		RefreshTokenLifetime:    defaultRefreshTokenTTL,
		SessionCookieTTL:        defaultSessionCookieTTL,
		MaxTokensPerUserPerHour: v.GetInt("max_tokens_per_user_per_hour"),
		CORSOrigins:             splitList(v.GetString("cors_origins")),
		ScopesConfigPath:        v.GetString("scopes_config_path"),
		ErrorRedirectURL:        v.GetString("error_redirect_url"),
		Storage: StorageConfig{
			Type:      v.GetString("storage_type"),
			RedisURL:  v.GetString("storage_redis_url"),
			KeyPrefix: v.GetString("storage_key_prefix"),
		},
		UserStore: UserStoreConfig{
			Type:       v.GetString("user_store_type"),
			MongoURI:   v.GetString("user_store_mongo_uri"),
			Database:   v.GetString("user_store_database"),
			Collection: v.GetString("user_store_collection"),
		},
		Vector: VectorConfig{
			PersistPath:      v.GetString("vector_persist_path"),
			CollectionPrefix: v.GetString("vector_collection_prefix"),
			FTSPath:          v.GetString("vector_fts_path"),
		},
		Embeddings: EmbeddingsConfig{
			Provider:  strings.ToLower(v.GetString("embeddings_provider")),
			BaseURL:   v.GetString("embeddings_base_url"),
			APIKey:    v.GetString("embeddings_api_key"),
			Model:     v.GetString("embeddings_model"),
			Dimension: v.GetInt("embeddings_dimension"),
			AWSRegion: v.GetString("embeddings_aws_region"),
		},
	}

	cfg.Providers = loadProviders(v)

	if cfg.SecretKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate secret key: %w", err)
		}
		cfg.SecretKey = base64.RawURLEncoding.EncodeToString(key)
		cfg.SecretKeyGenerated = true
		logger.Warn("SECRET_KEY not set; generated an ephemeral key (single-node only, tokens will not survive restarts)")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadProviders(v *viper.Viper) map[string]ProviderConfig {
	providers := make(map[string]ProviderConfig)
	for _, name := range []string{ProviderKeycloak, ProviderCognito, ProviderEntra} {
		p := ProviderConfig{
			Enabled:         v.GetBool(name + "_enabled"),
			URL:             strings.TrimRight(v.GetString(name+"_url"), "/"),
			Realm:           v.GetString(name + "_realm"),
			ClientID:        v.GetString(name + "_client_id"),
			ClientSecret:    v.GetString(name + "_client_secret"),
			M2MClientID:     v.GetString(name + "_m2m_client_id"),
			M2MClientSecret: v.GetString(name + "_m2m_client_secret"),
			UsernameClaim:   v.GetString(name + "_username_claim"),
			EmailClaim:      v.GetString(name + "_email_claim"),
			NameClaim:       v.GetString(name + "_name_claim"),
			GroupsClaim:     v.GetString(name + "_groups_claim"),
		}
		// A provider with a configured client is implicitly enabled.
		if !p.Enabled && p.ClientID != "" {
			p.Enabled = true
		}
		if p.Enabled {
			providers[name] = p
		}
	}
	return providers
}

// Validate checks internal consistency of the configuration.
func (c *Config) Validate() error {
	switch c.AuthProvider {
	case ProviderKeycloak, ProviderCognito, ProviderEntra:
	default:
		return fmt.Errorf("unsupported AUTH_PROVIDER %q", c.AuthProvider)
	}
	if c.APIPrefix != "" && !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("AUTH_SERVER_API_PREFIX must start with '/', got %q", c.APIPrefix)
	}
	if _, err := url.Parse(c.AuthServerExternalURL); err != nil {
		return fmt.Errorf("invalid AUTH_SERVER_EXTERNAL_URL: %w", err)
	}
	if c.Storage.Type == "redis" && c.Storage.RedisURL == "" {
		return fmt.Errorf("STORAGE_REDIS_URL is required when storage type is redis")
	}
	if c.UserStore.Type == "mongo" && c.UserStore.MongoURI == "" {
		return fmt.Errorf("USER_STORE_MONGO_URI is required when user store type is mongo")
	}
	if c.MaxTokenLifetime <= 0 || c.DefaultTokenLifetime <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.DefaultTokenLifetime > c.MaxTokenLifetime {
		return fmt.Errorf("DEFAULT_TOKEN_LIFETIME_HOURS exceeds MAX_TOKEN_LIFETIME_HOURS")
	}
	return nil
}

// Issuer returns the advertised issuer: the external URL without the API
// prefix, per RFC 8414.
func (c *Config) Issuer() string {
	return c.AuthServerExternalURL
}

// EndpointURL joins the external URL, prefix, and path for operational
// endpoint advertisement.
func (c *Config) EndpointURL(path string) string {
	return c.AuthServerExternalURL + c.APIPrefix + path
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
