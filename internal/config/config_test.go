package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("submission.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %s", cfg.HTTPAddress)
	}
	if cfg.DatabaseDriver != "sqlite" || cfg.DatabaseDSN != defaultDatabaseDSN {
		t.Fatalf("unexpected database config %s %s", cfg.DatabaseDriver, cfg.DatabaseDSN)
	}
	if cfg.ReconcileInterval != defaultReconcileInterval {
		t.Fatalf("unexpected reconcile interval %s", cfg.ReconcileInterval)
	}
	if cfg.ReconcileWindow != defaultReconcileWindow {
		t.Fatalf("unexpected reconcile window %s", cfg.ReconcileWindow)
	}
	if cfg.AdminEnabled() {
		t.Fatalf("did not expect admin endpoints without a secret")
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected allowed origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("CACAMITES_SUBMISSION_SIGNING_SECRET", "env-secret")
	t.Setenv("CACAMITES_DATABASE_DRIVER", "POSTGRES")
	t.Setenv("CACAMITES_DATABASE_DSN", "postgres://localhost/cacamites")
	t.Setenv("CACAMITES_RECONCILE_INTERVAL", "90s")
	t.Setenv("CACAMITES_ADMIN_SIGNING_SECRET", "admin-secret")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.SubmissionSigningSecret != "env-secret" {
		t.Fatalf("expected env secret")
	}
	if cfg.DatabaseDriver != "postgres" {
		t.Fatalf("expected lowercased driver, got %s", cfg.DatabaseDriver)
	}
	if cfg.ReconcileInterval != 90*time.Second {
		t.Fatalf("unexpected interval %s", cfg.ReconcileInterval)
	}
	if !cfg.AdminEnabled() {
		t.Fatalf("expected admin endpoints to be enabled")
	}
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name    string
		values  map[string]any
		wantErr string
	}{
		{name: "missing-secret", values: map[string]any{}, wantErr: "submission.signing_secret"},
		{name: "bad-driver", values: map[string]any{"submission.signing_secret": "s", "database.driver": "mysql"}, wantErr: "database.driver"},
		{name: "empty-dsn", values: map[string]any{"submission.signing_secret": "s", "database.dsn": " "}, wantErr: "database.dsn"},
		{name: "empty-redis", values: map[string]any{"submission.signing_secret": "s", "redis.address": ""}, wantErr: "redis.address"},
		{name: "negative-interval", values: map[string]any{"submission.signing_secret": "s", "reconcile.interval": "-1m"}, wantErr: "reconcile.interval"},
		{name: "zero-window", values: map[string]any{"submission.signing_secret": "s", "reconcile.window": "0s"}, wantErr: "reconcile.window"},
		{name: "zero-buffer", values: map[string]any{"submission.signing_secret": "s", "realtime.buffer_size": 0}, wantErr: "realtime.buffer_size"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.values {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("expected error mentioning %s, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestLoadMaintenanceSkipsSubmissionSecret(t *testing.T) {
	configViper := NewViper()
	configViper.Set("database.dsn", "maintenance.db")

	cfg, err := LoadMaintenance(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.DatabaseDSN != "maintenance.db" {
		t.Fatalf("unexpected dsn %s", cfg.DatabaseDSN)
	}

	configViper.Set("database.driver", "mysql")
	if _, err := LoadMaintenance(configViper); err == nil {
		t.Fatalf("expected invalid driver to still fail")
	}
}
