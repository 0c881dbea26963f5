package app

import (
	"fmt"
	"net"

	"github.com/adhocore/gronx"

	"pairchat/pkg/config"
	"pairchat/pkg/logger"
)

// validateConfig fails fast on configuration that would only surface as a
// confusing runtime error later.
func validateConfig(eff config.Effective) error {
	if eff.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	if _, _, err := net.SplitHostPort(eff.Addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", eff.Addr, err)
	}

	sec := eff.Config.Security
	if len(sec.APIKeys.Backend) == 0 && len(sec.APIKeys.Frontend) == 0 {
		logger.Warn("no_api_keys_configured", "msg", "all API requests will be rejected; set security.api_keys")
	}

	tls := eff.Config.Server.TLS
	if (tls.CertFile == "") != (tls.KeyFile == "") {
		return fmt.Errorf("tls requires both cert_file and key_file")
	}

	if c := eff.Config.Typing.Cron; c != "" && !gronx.IsValid(c) {
		// checking here keeps the failure before the store is opened
		return fmt.Errorf("invalid typing cron expression: %s", c)
	}
	return nil
}
