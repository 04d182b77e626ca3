package main

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
)

func TestChainParams(t *testing.T) {
	tests := []struct {
		environment string
		want        *chaincfg.Params
	}{
		{"production", &chaincfg.MainNetParams},
		{"development", &chaincfg.MainNetParams},
		{"testnet", &chaincfg.TestNet3Params},
		{"regtest", &chaincfg.RegressionNetParams},
		{"", &chaincfg.MainNetParams},
	}

	for _, tt := range tests {
		if got := chainParams(tt.environment); got != tt.want {
			t.Errorf("chainParams(%q) = %s, want %s", tt.environment, got.Name, tt.want.Name)
		}
	}
}
