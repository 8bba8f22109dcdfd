package config

import (
	"fmt"
	"io/ioutil"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	ModeLocal    = "local"
	ModeEmbedded = "embedded"

	DefaultConfigFile = "config.yml"
	DefaultTokenURL   = "http://localhost:3001/api/get-token"
	DefaultTokenTTL   = 4 * time.Minute
	DefaultCurrency   = "cad"
	DefaultTimeout    = 30 * time.Second
)

// Endpoint is the pair of URLs a single backend workflow is reachable at.
// Local is the externally hosted trigger, Embedded is the portal-proxied path.
type Endpoint struct {
	Local    string `yaml:"local"`
	Embedded string `yaml:"embedded"`
}

type Global struct {
	BindAddr       string   `yaml:"bindAddr"`
	BindPort       int      `yaml:"bindPort"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	HTTPTimeout    string   `yaml:"httpTimeout"`
}

type Token struct {
	URL string `yaml:"url"`
	TTL string `yaml:"ttl"`
}

// TokenServer is the client-credentials grant the local token endpoint
// performs on behalf of the dev UI.
type TokenServer struct {
	Enabled      bool   `yaml:"enabled"`
	TenantID     string `yaml:"tenantId"`
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	Resource     string `yaml:"resource"`
	TokenURL     string `yaml:"tokenUrl"`
}

type Shell struct {
	Host              string `yaml:"host"`
	VerificationToken string `yaml:"verificationToken"`
}

type Stripe struct {
	SecretKey string `yaml:"secretKey"`
	Currency  string `yaml:"currency"`
}

type Postgres struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	Pass    string `yaml:"pass"`
	DBName  string `yaml:"dbName"`
	Options string `yaml:"options"`
}

type FusionAuth struct {
	Host                    string `yaml:"host"`
	PublicHost              string `yaml:"publicHost"`
	APIKey                  string `yaml:"apiKey"`
	AppID                   string `yaml:"appId"`
	TenantID                string `yaml:"tenantId"`
	OauthClientID           string `yaml:"oauthClientId"`
	OauthClientSecret       string `yaml:"oauthClientSecret"`
	AuthCallbackRedirectURL string `yaml:"authCallbackRedirectUrl"`
	FullDomainURL           string `yaml:"fullDomainUrl"`
}

type JWT struct {
	CookieName          string `yaml:"cookieName"`
	CookieDomain        string `yaml:"cookieDomain"`
	CookieMaxAgeSeconds int    `yaml:"cookieMaxAgeSeconds"`
	CookieSetSecure     bool   `yaml:"cookieSetSecure"`
}

// Config is the whole middleware configuration. It is loaded once at startup
// and passed by value to the packages that need a slice of it.
type Config struct {
	Global         Global              `yaml:"global"`
	Mode           string              `yaml:"mode"`
	LocalDevUserID string              `yaml:"localDevUserId"`
	Token          Token               `yaml:"token"`
	TokenServer    TokenServer         `yaml:"tokenServer"`
	Shell          Shell               `yaml:"shell"`
	Flows          map[string]Endpoint `yaml:"flows"`
	Stripe         Stripe              `yaml:"stripe"`
	Postgres       Postgres            `yaml:"postgres"`
	FusionAuth     FusionAuth          `yaml:"fusionAuth"`
	JWT            JWT                 `yaml:"jwt"`
}

// envOverrides maps environment variables onto config fields. Secrets
// normally live here rather than in the yaml file.
var envOverrides = map[string]func(c *Config, v string){
	"PORTAL_MODE":              func(c *Config, v string) { c.Mode = v },
	"PORTAL_SHELL_HOST":        func(c *Config, v string) { c.Shell.Host = v },
	"PORTAL_SHELL_TOKEN":       func(c *Config, v string) { c.Shell.VerificationToken = v },
	"LOCAL_DEV_USER_ID":        func(c *Config, v string) { c.LocalDevUserID = v },
	"LOCAL_GET_TOKEN_URL":      func(c *Config, v string) { c.Token.URL = v },
	"LOCAL_TOKEN_TTL":          func(c *Config, v string) { c.Token.TTL = v },
	"TENANT_ID":                func(c *Config, v string) { c.TokenServer.TenantID = v },
	"CLIENT_ID":                func(c *Config, v string) { c.TokenServer.ClientID = v },
	"CLIENT_SECRET":            func(c *Config, v string) { c.TokenServer.ClientSecret = v },
	"STRIPE_SECRET_KEY":        func(c *Config, v string) { c.Stripe.SecretKey = v },
	"POSTGRES_PASS":            func(c *Config, v string) { c.Postgres.Pass = v },
	"FUSIONAUTH_API_KEY":       func(c *Config, v string) { c.FusionAuth.APIKey = v },
	"FUSIONAUTH_CLIENT_SECRET": func(c *Config, v string) { c.FusionAuth.OauthClientSecret = v },
}

// LoadConfigYaml reads the yaml config named by PORTAL_CONFIG (or config.yml),
// after loading a .env file if one is present, then applies environment
// overrides and defaults.
func LoadConfigYaml() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err.Error())
	}

	viper.AutomaticEnv()
	viper.SetDefault("PORTAL_CONFIG", DefaultConfigFile)

	path := viper.GetString("PORTAL_CONFIG")
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %v: %w", path, err)
	}

	return Parse(b)
}

// Parse decodes yaml config bytes and applies environment overrides and
// defaults. It is split out of LoadConfigYaml so tests can skip the file.
func Parse(b []byte) (Config, error) {
	conf := Config{}
	if err := yaml.Unmarshal(b, &conf); err != nil {
		return conf, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	viper.AutomaticEnv()
	for key, apply := range envOverrides {
		_ = viper.BindEnv(key)
		if v := viper.GetString(key); v != "" {
			apply(&conf, v)
		}
	}

	conf.applyDefaults()

	if err := conf.Validate(); err != nil {
		return conf, err
	}
	return conf, nil
}

func (c *Config) applyDefaults() {
	if c.Global.BindAddr == "" {
		c.Global.BindAddr = "0.0.0.0"
	}
	if c.Global.BindPort == 0 {
		c.Global.BindPort = 8080
	}
	if c.Token.URL == "" {
		c.Token.URL = DefaultTokenURL
	}
	if c.Stripe.Currency == "" {
		c.Stripe.Currency = DefaultCurrency
	}
	if c.JWT.CookieName == "" {
		c.JWT.CookieName = "portal_jwt"
	}
	if c.TokenServer.TokenURL == "" && c.TokenServer.TenantID != "" {
		c.TokenServer.TokenURL = fmt.Sprintf(
			"https://login.microsoftonline.com/%v/oauth2/token",
			c.TokenServer.TenantID,
		)
	}
	if c.TokenServer.Resource == "" {
		c.TokenServer.Resource = "https://service.flow.microsoft.com/"
	}
	// the mode follows the presence of the host shell unless set explicitly
	if c.Mode == "" {
		if c.Shell.Host != "" {
			c.Mode = ModeEmbedded
		} else {
			c.Mode = ModeLocal
		}
	}
	if c.Flows == nil {
		c.Flows = map[string]Endpoint{}
	}
}

// Validate reports configuration that cannot work at all.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeLocal, ModeEmbedded:
	default:
		return fmt.Errorf("invalid mode %q: must be %v or %v", c.Mode, ModeLocal, ModeEmbedded)
	}
	if c.Mode == ModeEmbedded && c.Shell.Host == "" {
		return fmt.Errorf("embedded mode requires shell.host or PORTAL_SHELL_HOST")
	}
	if _, err := parseDuration(c.Token.TTL, DefaultTokenTTL); err != nil {
		return fmt.Errorf("invalid token ttl %q: %w", c.Token.TTL, err)
	}
	if _, err := parseDuration(c.Global.HTTPTimeout, DefaultTimeout); err != nil {
		return fmt.Errorf("invalid http timeout %q: %w", c.Global.HTTPTimeout, err)
	}
	return nil
}

// IsLocal reports whether flows are called directly with a local bearer token.
func (c Config) IsLocal() bool {
	return c.Mode == ModeLocal
}

// TokenTTL returns the cache lifetime for local access tokens. Zero or
// negative values disable caching.
func (c Config) TokenTTL() time.Duration {
	d, _ := parseDuration(c.Token.TTL, DefaultTokenTTL)
	return d
}

func (c Config) HTTPTimeout() time.Duration {
	d, _ := parseDuration(c.Global.HTTPTimeout, DefaultTimeout)
	return d
}

// PostgresEnabled reports whether a database was configured. Without one the
// checkout journal lives in memory.
func (c Config) PostgresEnabled() bool {
	return c.Postgres.Host != ""
}

func (c Config) PostgresConnString() string {
	return fmt.Sprintf(
		"postgres://%v:%v@%v:%v/%v?%v",
		c.Postgres.User,
		c.Postgres.Pass,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.Options,
	)
}

// FusionAuthEnabled reports whether sign-in is wired to FusionAuth.
func (c Config) FusionAuthEnabled() bool {
	return c.FusionAuth.Host != "" && c.FusionAuth.OauthClientID != ""
}

// IsAllowedOrigin checks a request origin host against the configured list.
// An empty list allows every origin, which is what local development wants.
func (c Config) IsAllowedOrigin(host string) bool {
	if len(c.Global.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range c.Global.AllowedOrigins {
		if strings.EqualFold(o, host) {
			return true
		}
	}
	return false
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
