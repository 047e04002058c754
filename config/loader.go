package config

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values.
type Flags struct {
	ConfigPath     string
	Hostname       string
	LogLevel       string
	Addr           string
	Port           int
	TLSCert        string
	TLSKey         string
	MaxMessageSize int64
	SpoolDir       string
}

// RegisterFlags defines the flags on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", "./courier.toml", "Path to configuration file")
	fs.StringVar(&f.Hostname, "hostname", "", "Server hostname")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.Addr, "addr", "", "Listen address (replaces all configured addresses)")
	fs.IntVar(&f.Port, "port", 0, "Listen port (replaces all configured ports)")
	fs.StringVar(&f.TLSCert, "tls-cert", "", "TLS certificate file path")
	fs.StringVar(&f.TLSKey, "tls-key", "", "TLS key file path")
	fs.Int64Var(&f.MaxMessageSize, "max-message-size", 0, "Maximum message size in bytes")
	fs.StringVar(&f.SpoolDir, "spool", "", "Directory accepted messages are written to")
	return f
}

// ParseFlags parses command-line flags and returns a Flags struct.
func ParseFlags() *Flags {
	f := RegisterFlags(flag.CommandLine)
	flag.Parse()
	return f
}

// Load parses a TOML configuration file and returns the Config.
// If the file does not exist, returns the default configuration.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig FileConfig
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	return mergeConfig(cfg, fileConfig.Courier), nil
}

// ApplyFlags merges command-line flag values into the config.
// Non-zero/non-empty flag values override config file values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.Hostname != "" {
		cfg.Hostname = f.Hostname
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.Addr != "" {
		cfg.Addresses = []string{f.Addr}
	}
	if f.Port > 0 {
		cfg.Ports = []int{f.Port}
	}
	if f.TLSCert != "" {
		cfg.TLS.CertFile = f.TLSCert
	}
	if f.TLSKey != "" {
		cfg.TLS.KeyFile = f.TLSKey
	}
	if f.MaxMessageSize > 0 {
		cfg.Limits.MaxMessageSize = f.MaxMessageSize
	}
	if f.SpoolDir != "" {
		cfg.Delivery.SpoolDir = f.SpoolDir
	}
	return cfg
}

// LoadWithFlags loads configuration from the path specified in flags,
// applies environment overrides, then flag overrides.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	return ApplyFlags(ApplyEnv(cfg), f), nil
}

// mergeConfig merges non-zero values from src into dst.
func mergeConfig(dst, src Config) Config {
	if src.Hostname != "" {
		dst.Hostname = src.Hostname
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.ProtocolLog {
		dst.ProtocolLog = true
	}
	if len(src.Addresses) > 0 {
		dst.Addresses = src.Addresses
	}
	if len(src.Ports) > 0 {
		dst.Ports = src.Ports
	}

	if src.TLS.CertFile != "" {
		dst.TLS.CertFile = src.TLS.CertFile
	}
	if src.TLS.KeyFile != "" {
		dst.TLS.KeyFile = src.TLS.KeyFile
	}
	if src.TLS.MinVersion != "" {
		dst.TLS.MinVersion = src.TLS.MinVersion
	}
	if src.TLS.Require {
		dst.TLS.Require = true
	}

	if src.Limits.MaxMessageSize > 0 {
		dst.Limits.MaxMessageSize = src.Limits.MaxMessageSize
	}
	if src.Limits.MaxLineLength > 0 {
		dst.Limits.MaxLineLength = src.Limits.MaxLineLength
	}

	if src.Timeouts.Read != "" {
		dst.Timeouts.Read = src.Timeouts.Read
	}
	if src.Timeouts.Write != "" {
		dst.Timeouts.Write = src.Timeouts.Write
	}
	if src.Timeouts.Connect != "" {
		dst.Timeouts.Connect = src.Timeouts.Connect
	}

	if src.Auth.PassesRequired > 0 {
		dst.Auth.PassesRequired = src.Auth.PassesRequired
	}
	if len(src.Auth.BlocklistZones) > 0 {
		dst.Auth.BlocklistZones = src.Auth.BlocklistZones
	}
	if len(src.Auth.Nameservers) > 0 {
		dst.Auth.Nameservers = src.Auth.Nameservers
	}
	if src.Auth.DNSSEC {
		dst.Auth.DNSSEC = true
	}
	if src.Auth.SystemResolver {
		dst.Auth.SystemResolver = true
	}

	// Metrics: enabled is a boolean, so it is merged only when set.
	if src.Metrics.Enabled {
		dst.Metrics.Enabled = true
	}
	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}
	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}

	if src.Delivery.SpoolDir != "" {
		dst.Delivery.SpoolDir = src.Delivery.SpoolDir
	}
	if src.Delivery.Port > 0 {
		dst.Delivery.Port = src.Delivery.Port
	}
	if src.Delivery.DKIM.KeyFile != "" {
		dst.Delivery.DKIM = src.Delivery.DKIM
	}

	return dst
}
