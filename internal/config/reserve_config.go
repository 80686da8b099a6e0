package config

import "time"

type ReserveConfig interface {
	GetRenewInterval() time.Duration
	GetStatusPollInterval() time.Duration
}

type Reserve struct{}

var _ ReserveConfig = Reserve{}

// GetRenewInterval returns the renewal cadence. It must stay comfortably
// below the upstream free-hold window; the upstream limit is not published,
// so the margin is operator configuration rather than a constant.
func (Reserve) GetRenewInterval() time.Duration {
	return GetEnvDuration("RESERVE_RENEW_INTERVAL", 14*time.Minute)
}

func (Reserve) GetStatusPollInterval() time.Duration {
	return GetEnvDuration("STATUS_POLL_INTERVAL", 60*time.Second)
}
