package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Database:    DatabaseConfig{Driver: DriverPostgres},
		Provider:    ProviderConfig{BaseURL: "https://provider.example/api/v1", APIKey: "key"},
		Transcript:  TranscriptConfig{Delivery: DeliveryAuto},
		Persistence: PersistenceConfig{Workers: 2},
	}
}

func TestLoad_DefaultsWithEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("RECALL_API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "secret", cfg.Provider.APIKey)
	assert.Equal(t, DeliveryAuto, cfg.Transcript.Delivery)
	assert.Equal(t, 600, cfg.Provider.WaitingRoomTimeout)
	assert.Equal(t, 4, cfg.Persistence.Workers)
	assert.Equal(t, "@every 30s", cfg.Reconciler.Schedule)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: true},
		{name: "sqlite without path", mutate: func(c *Config) { c.Database.Driver = DriverSQLite }, wantErr: true},
		{name: "sqlite with path", mutate: func(c *Config) {
			c.Database.Driver = DriverSQLite
			c.Database.Path = "meetings.db"
		}},
		{name: "webhook without base url", mutate: func(c *Config) { c.Transcript.Delivery = DeliveryWebhook }, wantErr: true},
		{name: "unknown delivery", mutate: func(c *Config) { c.Transcript.Delivery = "carrier-pigeon" }, wantErr: true},
		{name: "missing api key", mutate: func(c *Config) { c.Provider.APIKey = "" }, wantErr: true},
		{name: "no workers", mutate: func(c *Config) { c.Persistence.Workers = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUseWebhookDelivery(t *testing.T) {
	tests := []struct {
		delivery string
		baseURL  string
		want     bool
	}{
		{DeliveryAuto, "", false},
		{DeliveryAuto, "http://localhost:8080", false},
		{DeliveryAuto, "http://127.0.0.1:8080", false},
		{DeliveryAuto, "http://0.0.0.0", false},
		{DeliveryAuto, "https://assistant.example.com", true},
		{DeliverySocket, "https://assistant.example.com", false},
		{DeliveryWebhook, "http://localhost:8080", true},
	}

	for _, tt := range tests {
		cfg := validConfig()
		cfg.Transcript.Delivery = tt.delivery
		cfg.Transcript.PublicBaseURL = tt.baseURL
		assert.Equal(t, tt.want, cfg.UseWebhookDelivery(), "%s %s", tt.delivery, tt.baseURL)
	}
}

func TestWebhookURL(t *testing.T) {
	c := TranscriptConfig{PublicBaseURL: "https://assistant.example.com/"}
	assert.Equal(t, "https://assistant.example.com/webhooks/recall", c.WebhookURL("recall"))
	assert.Empty(t, TranscriptConfig{}.WebhookURL("recall"))
}
