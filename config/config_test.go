package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	for key := range envOverrides {
		t.Setenv(key, "")
	}
}

func TestParseDefaults(t *testing.T) {
	clearEnv(t)
	conf, err := Parse([]byte("global:\n  bindPort: 3000\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !conf.IsLocal() {
		t.Fatalf("expected local mode without a shell host, got %q", conf.Mode)
	}
	if conf.Global.BindAddr != "0.0.0.0" || conf.Global.BindPort != 3000 {
		t.Fatalf("unexpected bind %v:%v", conf.Global.BindAddr, conf.Global.BindPort)
	}
	if conf.TokenTTL() != DefaultTokenTTL || conf.HTTPTimeout() != DefaultTimeout {
		t.Fatalf("unexpected durations %v %v", conf.TokenTTL(), conf.HTTPTimeout())
	}
	if conf.Token.URL != DefaultTokenURL || conf.Stripe.Currency != DefaultCurrency {
		t.Fatalf("unexpected defaults %+v %+v", conf.Token, conf.Stripe)
	}
	if conf.JWT.CookieName != "portal_jwt" || conf.Flows == nil {
		t.Fatal("expected cookie name and flows defaults")
	}
	if conf.PostgresEnabled() || conf.FusionAuthEnabled() {
		t.Fatal("optional integrations must be off by default")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		want    string
		wantErr bool
	}{
		{name: "shell host selects embedded", yaml: "shell:\n  host: https://portal.example\n", want: ModeEmbedded},
		{name: "shell host from env", env: map[string]string{"PORTAL_SHELL_HOST": "https://portal.example"}, want: ModeEmbedded},
		{name: "explicit local wins", yaml: "mode: local\nshell:\n  host: https://portal.example\n", want: ModeLocal},
		{name: "env mode", env: map[string]string{"PORTAL_MODE": "local"}, want: ModeLocal},
		{name: "unknown mode", yaml: "mode: hybrid\n", wantErr: true},
		{name: "embedded without shell", yaml: "mode: embedded\n", wantErr: true},
		{name: "bad ttl", yaml: "token:\n  ttl: soon\n", wantErr: true},
		{name: "bad timeout", yaml: "global:\n  httpTimeout: 5\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			conf, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got mode %q", conf.Mode)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if conf.Mode != tt.want {
				t.Fatalf("got mode %q, want %q", conf.Mode, tt.want)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_env")
	t.Setenv("LOCAL_TOKEN_TTL", "0s")
	t.Setenv("TENANT_ID", "tenant-1")

	conf, err := Parse([]byte("stripe:\n  secretKey: sk_test_file\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conf.Stripe.SecretKey != "sk_test_env" {
		t.Fatalf("env must override the file, got %q", conf.Stripe.SecretKey)
	}
	if conf.TokenTTL() != 0 {
		t.Fatalf("expected caching disabled, got %v", conf.TokenTTL())
	}
	if conf.TokenServer.TokenURL != "https://login.microsoftonline.com/tenant-1/oauth2/token" {
		t.Fatalf("unexpected token url %q", conf.TokenServer.TokenURL)
	}
}

func TestIsAllowedOrigin(t *testing.T) {
	open := Config{}
	if !open.IsAllowedOrigin("anything.example") {
		t.Fatal("an empty list allows every origin")
	}
	conf := Config{Global: Global{AllowedOrigins: []string{"portal.example", "localhost:3000"}}}
	tests := map[string]bool{
		"portal.example":  true,
		"Portal.Example":  true,
		"localhost:3000":  true,
		"localhost:3001":  false,
		"evil.example":    false,
		"portal.example.": false,
	}
	for host, want := range tests {
		if got := conf.IsAllowedOrigin(host); got != want {
			t.Fatalf("IsAllowedOrigin(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestPostgresConnString(t *testing.T) {
	conf := Config{Postgres: Postgres{
		Host:    "db",
		Port:    5432,
		User:    "portal",
		Pass:    "secret",
		DBName:  "portal",
		Options: "sslmode=disable",
	}}
	if !conf.PostgresEnabled() {
		t.Fatal("expected postgres enabled")
	}
	want := "postgres://portal:secret@db:5432/portal?sslmode=disable"
	if got := conf.PostgresConnString(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if (Config{Token: Token{TTL: "90s"}}).TokenTTL() != 90*time.Second {
		t.Fatal("expected a 90s ttl")
	}
}
