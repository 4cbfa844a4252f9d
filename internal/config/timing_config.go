package config

import "time"

type TimingConfig interface {
	GetRefreshGracePeriod() time.Duration
	GetClockSkew() time.Duration
	GetKeySetCacheTTL() time.Duration
	GetDPoPNonceTTL() time.Duration
	GetHTTPTimeout() time.Duration
}

type Timing struct{}

var _ TimingConfig = Timing{}

func (Timing) GetRefreshGracePeriod() time.Duration {
	return GetEnvDuration("CREDCTL_GRACE_PERIOD", 30*time.Second)
}

func (Timing) GetClockSkew() time.Duration {
	return GetEnvDuration("CREDCTL_CLOCK_SKEW", 5*time.Minute)
}

func (Timing) GetKeySetCacheTTL() time.Duration {
	return GetEnvDuration("CREDCTL_JWKS_TTL", time.Hour)
}

func (Timing) GetDPoPNonceTTL() time.Duration {
	return GetEnvDuration("CREDCTL_DPOP_NONCE_TTL", 5*time.Minute)
}

func (Timing) GetHTTPTimeout() time.Duration {
	return GetEnvDuration("CREDCTL_HTTP_TIMEOUT", 10*time.Second)
}
