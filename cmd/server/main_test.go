package main

import (
	"testing"

	"tokoledger/backend/internal/config"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := map[string]config.ServerConfig{
		"short secret":   {AuthSecret: "short", ManagerPIN: "739154"},
		"short pin":      {AuthSecret: strongSecret, ManagerPIN: "7391"},
		"sequential pin": {AuthSecret: strongSecret, ManagerPIN: "345678"},
		"descending pin": {AuthSecret: strongSecret, ManagerPIN: "987654"},
		"repeated pin":   {AuthSecret: strongSecret, ManagerPIN: "444444"},
		"common pin":     {AuthSecret: strongSecret, ManagerPIN: "112233"},
		"letters":        {AuthSecret: strongSecret, ManagerPIN: "73a154"},
	}
	for name, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("%s: expected config to be rejected", name)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.ServerConfig{AuthSecret: strongSecret, ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
