package config

import (
	"os"
	"strings"
)

// ApplyEnv applies environment variable overrides to the configuration.
// Environment variables take precedence over TOML config but are overridden by command-line flags.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("COURIER_HOSTNAME"); v != "" {
		cfg.Hostname = v
	}
	if v := os.Getenv("COURIER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("COURIER_TLS_CERT_FILE"); v != "" {
		cfg.TLS.CertFile = v
	}
	if v := os.Getenv("COURIER_TLS_KEY_FILE"); v != "" {
		cfg.TLS.KeyFile = v
	}
	if v := os.Getenv("COURIER_BLOCKLIST_ZONES"); v != "" {
		cfg.Auth.BlocklistZones = splitList(v)
	}
	if v := os.Getenv("COURIER_NAMESERVERS"); v != "" {
		cfg.Auth.Nameservers = splitList(v)
	}
	if v := os.Getenv("COURIER_SPOOL_DIR"); v != "" {
		cfg.Delivery.SpoolDir = v
	}
	if v := os.Getenv("COURIER_DKIM_KEY_FILE"); v != "" {
		cfg.Delivery.DKIM.KeyFile = v
	}
	return cfg
}

// splitList splits a comma separated value, dropping empty items.
func splitList(v string) []string {
	var out []string
	for item := range strings.SplitSeq(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
