package config

import (
	"fmt"
	"time"
)

// Validate checks that the Config contains valid values.
// Returns an error describing the first invalid field found.
func (c Config) Validate() error {
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("config: GML_LISTEN_PORT must be 1-65535, got %d", c.ListenPort)
	}

	if c.RefreshInterval < time.Second {
		return fmt.Errorf("config: GML_REFRESH_INTERVAL must be >= 1s, got %v", c.RefreshInterval)
	}

	if c.PCTTimeout <= 0 {
		return fmt.Errorf("config: GML_PCT_TIMEOUT must be > 0, got %v", c.PCTTimeout)
	}

	if c.PVEConfigDir == "" {
		return fmt.Errorf("config: GML_PVE_CONFIG_DIR must not be empty")
	}

	if c.ProcRoot == "" {
		return fmt.Errorf("config: GML_PROC_ROOT must not be empty")
	}

	switch c.UtilPolicy {
	case UtilPolicyCappedSum, UtilPolicySum:
	default:
		return fmt.Errorf("config: GML_UTIL_POLICY must be %q or %q, got %q",
			UtilPolicyCappedSum, UtilPolicySum, c.UtilPolicy)
	}

	return nil
}
