package config

import "time"

// Settings holds process-level tuning for a deployment run. Everything here
// has a sane default; environment-specific facts live in the registry file,
// not in env vars.
type Settings struct {
	RegistryPath     string
	StateDir         string
	DockerHost       string
	LockRedisAddr    string
	LockRedisPass    string
	LockRedisDB      int
	LockTTL          time.Duration
	Pushgateway      string
	ConnectTimeout   time.Duration
	CommandTimeout   time.Duration
	SyncTimeout      time.Duration
	DBTimeout        time.Duration
	TestTimeout      time.Duration
	MinDiskFreeBytes uint64
	JSONLogs         bool
}

// Load constructs Settings from environment variables.
func Load() Settings {
	minDiskMB := GetInt("NWP_MIN_DISK_FREE_MB", 2048)
	// A negative override would wrap into an absurd uint64 threshold.
	if minDiskMB < 0 {
		minDiskMB = 0
	}
	return Settings{
		RegistryPath:     GetString("NWP_REGISTRY", "nwp.yml"),
		StateDir:         GetString("NWP_STATE_DIR", ""),
		DockerHost:       GetString("DOCKER_HOST", ""),
		LockRedisAddr:    GetString("NWP_LOCK_REDIS_ADDR", ""),
		LockRedisPass:    GetString("NWP_LOCK_REDIS_PASSWORD", ""),
		LockRedisDB:      GetInt("NWP_LOCK_REDIS_DB", 0),
		LockTTL:          GetSeconds("NWP_LOCK_TTL_SECONDS", 3600),
		Pushgateway:      GetString("NWP_PUSHGATEWAY", ""),
		ConnectTimeout:   GetSeconds("NWP_CONNECT_TIMEOUT_SECONDS", 5),
		CommandTimeout:   GetSeconds("NWP_COMMAND_TIMEOUT_SECONDS", 300),
		SyncTimeout:      GetSeconds("NWP_SYNC_TIMEOUT_SECONDS", 900),
		DBTimeout:        GetSeconds("NWP_DB_TIMEOUT_SECONDS", 1800),
		TestTimeout:      GetSeconds("NWP_TEST_TIMEOUT_SECONDS", 3600),
		MinDiskFreeBytes: uint64(minDiskMB) * 1024 * 1024,
		JSONLogs:         GetBool("NWP_JSON_LOGS", false),
	}
}
