package config

const (
	defaultConfigPath            = "~/.config/intake/config.toml"
	defaultDataDir               = "~/.local/share/intake"
	defaultLogDir                = "~/.local/share/intake/logs"
	defaultImageRoot             = "~/.local/share/intake/images"
	defaultAPIBind               = "127.0.0.1:7590"
	defaultServerURL             = "http://127.0.0.1:7590"
	defaultLeaseTTLSeconds       = 450
	defaultRenewIntervalSeconds  = 150
	defaultRequestTimeoutSeconds = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"

	// minTTLRenewRatio keeps one missed heartbeat from expiring a live lease.
	minTTLRenewRatio = 3
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			ImageRoot: defaultImageRoot,
			APIBind:   defaultAPIBind,
		},
		Lease: Lease{
			TTLSeconds:            defaultLeaseTTLSeconds,
			RenewIntervalSeconds:  defaultRenewIntervalSeconds,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
		},
		Operator: Operator{
			ServerURL: defaultServerURL,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
