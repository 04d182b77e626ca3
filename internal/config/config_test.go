package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ListenPort != 3333 {
		t.Errorf("ListenPort = %d, want 3333", cfg.ListenPort)
	}
	if cfg.TemplateInterval != 5*time.Second {
		t.Errorf("TemplateInterval = %v, want 5s", cfg.TemplateInterval)
	}
	if cfg.HashrateWindow != 10*time.Minute {
		t.Errorf("HashrateWindow = %v, want 10m", cfg.HashrateWindow)
	}
	if cfg.RewardWindow != 60*time.Minute {
		t.Errorf("RewardWindow = %v, want 60m", cfg.RewardWindow)
	}
	if cfg.MaxPayoutsPerTx != 50 {
		t.Errorf("MaxPayoutsPerTx = %d, want 50", cfg.MaxPayoutsPerTx)
	}
	if cfg.PoolFeePercent != 1.0 {
		t.Errorf("PoolFeePercent = %v, want 1.0", cfg.PoolFeePercent)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	os.Clearenv()
	os.Setenv("LISTEN_PORT", "13333")
	os.Setenv("POOL_FEE_PERCENT", "2.5")
	os.Setenv("PAYOUT_INTERVAL", "30m")
	os.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ListenPort != 13333 {
		t.Errorf("ListenPort = %d, want 13333", cfg.ListenPort)
	}
	if cfg.PoolFeePercent != 2.5 {
		t.Errorf("PoolFeePercent = %v, want 2.5", cfg.PoolFeePercent)
	}
	if cfg.PayoutInterval != 30*time.Minute {
		t.Errorf("PayoutInterval = %v, want 30m", cfg.PayoutInterval)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v, want [k1:9092 k2:9092]", cfg.KafkaBrokers)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr bool
	}{
		{"invalid port", "LISTEN_PORT", "70000", true},
		{"negative fee", "POOL_FEE_PERCENT", "-1", true},
		{"fee over 100", "POOL_FEE_PERCENT", "101", true},
		{"zero difficulty", "SHARE_DIFFICULTY", "0", true},
		{"zero batch size", "MAX_PAYOUTS_PER_TX", "0", true},
		{"valid override", "MIN_PAYOUT_SATS", "50000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv(tt.key, tt.value)
			defer os.Clearenv()

			_, err := Load()
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
