package config

import (
	"os"
	"strconv"
	"time"
)

// UtilPolicy selects how per-process GPU utilization percentages are folded
// into one advisory figure for a multi-GPU container.
type UtilPolicy string

const (
	// UtilPolicyCappedSum sums per-process utilization per GPU, bounds each
	// GPU's contribution at 100%, then sums across GPUs.
	UtilPolicyCappedSum UtilPolicy = "capped-sum"
	// UtilPolicySum is a plain sum of per-process utilization values.
	UtilPolicySum UtilPolicy = "sum"
)

// Config holds all agent configuration values.
type Config struct {
	ListenPort      int           // GML_LISTEN_PORT, default: 8001
	RefreshInterval time.Duration // GML_REFRESH_INTERVAL, default: 5s

	ProcRoot     string        // GML_PROC_ROOT, default: /proc
	PVEConfigDir string        // GML_PVE_CONFIG_DIR, default: /etc/pve/lxc
	PCTPath      string        // GML_PCT_PATH, default: "" (look up pct on PATH)
	PCTTimeout   time.Duration // GML_PCT_TIMEOUT, default: 2s

	UtilPolicy UtilPolicy // GML_UTIL_POLICY, default: capped-sum

	DebugEndpoints bool // GML_DEBUG_ENDPOINTS, default: false — pprof/debug on the listen port
}

// Load reads configuration from environment variables and returns a Config
// with defaults applied for any unset values.
func Load() Config {
	return Config{
		ListenPort:      parseInt("GML_LISTEN_PORT", 8001),
		RefreshInterval: parseDuration("GML_REFRESH_INTERVAL", 5*time.Second),
		ProcRoot:        envOrDefault("GML_PROC_ROOT", "/proc"),
		PVEConfigDir:    envOrDefault("GML_PVE_CONFIG_DIR", "/etc/pve/lxc"),
		PCTPath:         os.Getenv("GML_PCT_PATH"),
		PCTTimeout:      parseDuration("GML_PCT_TIMEOUT", 2*time.Second),
		UtilPolicy:      UtilPolicy(envOrDefault("GML_UTIL_POLICY", string(UtilPolicyCappedSum))),
		DebugEndpoints:  parseBool("GML_DEBUG_ENDPOINTS", false),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDuration tries time.ParseDuration first, then falls back to treating
// the value as integer seconds.
func parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}

	secs, err := strconv.Atoi(v)
	if err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultVal
}

func parseInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
