package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file. A missing file is reported distinctly so
// callers can fall back to defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// ResolveConfigPath picks the config file path: an explicit flag wins,
// then PAIRCHAT_CONFIG, then the flag default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv("PAIRCHAT_CONFIG"); v != "" {
		return v
	}
	return flagVal
}

func parseList(v string) []string {
	if v == "" {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// LoadEnvOverrides applies PAIRCHAT_* environment overrides onto cfg and
// reports whether any were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false

	if v := os.Getenv("PAIRCHAT_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("PAIRCHAT_DB_PATH"); v != "" {
		envUsed = true
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("PAIRCHAT_CORS_ORIGINS"); v != "" {
		envUsed = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("PAIRCHAT_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("PAIRCHAT_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("PAIRCHAT_IP_WHITELIST"); v != "" {
		envUsed = true
		cfg.Security.IPWhitelist = parseList(v)
	}
	if v := os.Getenv("PAIRCHAT_API_BACKEND_KEYS"); v != "" {
		envUsed = true
		cfg.Security.APIKeys.Backend = parseList(v)
	}
	if v := os.Getenv("PAIRCHAT_API_FRONTEND_KEYS"); v != "" {
		envUsed = true
		cfg.Security.APIKeys.Frontend = parseList(v)
	}
	if v := os.Getenv("PAIRCHAT_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("PAIRCHAT_TYPING_WINDOW"); v != "" {
		envUsed = true
		cfg.Typing.Window = v
	}
	if v := os.Getenv("PAIRCHAT_MEDIA_DIR"); v != "" {
		envUsed = true
		cfg.Media.Dir = v
	}
	if v := os.Getenv("PAIRCHAT_MEDIA_MAX_UPLOAD"); v != "" {
		envUsed = true
		cfg.Media.MaxUpload = v
	}
	if c := os.Getenv("PAIRCHAT_TLS_CERT"); c != "" {
		envUsed = true
		cfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("PAIRCHAT_TLS_KEY"); k != "" {
		envUsed = true
		cfg.Server.TLS.KeyFile = k
	}
	return envUsed
}

// Effective is the resolved runtime configuration after merging file, env
// and flags, along with where the listen address came from.
type Effective struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags" | "env" | "config" | "defaults"
}

// LoadEffective loads the config file at path (when present), applies env
// overrides and resolves addr/db against explicitly set flags.
func LoadEffective(path, addrFlag, dbFlag string, setFlags map[string]bool) (Effective, error) {
	cfg, err := Load(path)
	if err != nil {
		if !strings.Contains(err.Error(), "config file not found") {
			return Effective{}, err
		}
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)

	eff := Effective{Config: cfg, Source: "config"}
	if envUsed {
		eff.Source = "env"
	}

	if setFlags["addr"] {
		eff.Addr = addrFlag
		eff.Source = "flags"
	} else {
		eff.Addr = cfg.Addr()
	}
	if setFlags["db"] {
		eff.DBPath = dbFlag
		eff.Source = "flags"
	} else if cfg.Server.DBPath != "" {
		eff.DBPath = cfg.Server.DBPath
	} else {
		eff.DBPath = dbFlag
	}
	return eff, nil
}
