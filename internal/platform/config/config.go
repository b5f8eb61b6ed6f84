package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration. FromEnv builds it from
// environment variables so main stays lean.
type Server struct {
	Addr string

	// RootAuthority is the bootstrap admin address. It receives all three
	// roles at startup and is the only principal that may grant or revoke
	// roles.
	RootAuthority string

	// TreasuryAddress identifies this treasury as a holder on external
	// token ledgers.
	TreasuryAddress string

	JWTSigningKey string

	// EmergencyTokenHash is the bcrypt hash the break-glass endpoints
	// verify the presented emergency token against.
	EmergencyTokenHash string

	ExecutionTimelock time.Duration
	ProposalExpiry    time.Duration

	PostgresDSN string
	Redis       RedisConfig
}

// RedisConfig carries connection settings for the shared pause flag store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	addr := os.Getenv("CUSTODIA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:               addr,
		RootAuthority:      os.Getenv("CUSTODIA_ROOT_AUTHORITY"),
		TreasuryAddress:    os.Getenv("CUSTODIA_TREASURY_ADDRESS"),
		JWTSigningKey:      jwtSigningKey,
		EmergencyTokenHash: os.Getenv("CUSTODIA_EMERGENCY_TOKEN_HASH"),
		ExecutionTimelock:  durationEnv("CUSTODIA_EXECUTION_TIMELOCK", 48*time.Hour),
		ProposalExpiry:     durationEnv("CUSTODIA_PROPOSAL_EXPIRY", 7*24*time.Hour),
		PostgresDSN:        os.Getenv("CUSTODIA_POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:          os.Getenv("CUSTODIA_REDIS_URL"),
			PoolSize:     intEnv("CUSTODIA_REDIS_POOL_SIZE", 10),
			MinIdleConns: intEnv("CUSTODIA_REDIS_MIN_IDLE", 2),
			DialTimeout:  durationEnv("CUSTODIA_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durationEnv("CUSTODIA_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durationEnv("CUSTODIA_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func intEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
