package config

import "flag"

type flagValues struct {
	config   string
	debug    bool
	logLevel string
	workers  int
	size     int
	dataDir  string
}

var flags flagValues

func init() {
	BindFlags(flag.CommandLine)
}

// BindFlags registers the config override flags on fs.
// Subcommands call this on their own FlagSet so every command accepts them.
func BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&flags.config, "config", "", "Path to config file")
	fs.BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	fs.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.IntVar(&flags.workers, "workers", 0, "Background worker count")
	fs.IntVar(&flags.size, "size", 0, "Terrain size in vertices (2^n+1)")
	fs.StringVar(&flags.dataDir, "data-dir", "", "Tile storage directory")
}

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return flags.config
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if flags.debug {
		cfg.Logging.Level = "debug"
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.workers > 0 {
		cfg.Tasks.Workers = flags.workers
	}
	if flags.size > 0 {
		cfg.Terrain.Size = flags.size
	}
	if flags.dataDir != "" {
		cfg.Group.DataDir = flags.dataDir
	}
}
