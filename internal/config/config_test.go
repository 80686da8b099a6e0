package config_test

import (
	"testing"
	"time"

	"github.com/chargekeep/chargekeep/internal/config"
	"github.com/stretchr/testify/require"
)

func TestGetEnvDefaults(t *testing.T) {
	require.Equal(t, "fallback", config.GetEnv("CHARGEKEEP_TEST_UNSET", "fallback"))

	t.Setenv("CHARGEKEEP_TEST_SET", "value")
	require.Equal(t, "value", config.GetEnv("CHARGEKEEP_TEST_SET", "fallback"))
}

func TestGetEnvDuration(t *testing.T) {
	require.Equal(t, 14*time.Minute, config.GetEnvDuration("CHARGEKEEP_TEST_UNSET", 14*time.Minute))

	t.Setenv("CHARGEKEEP_TEST_DURATION", "90s")
	require.Equal(t, 90*time.Second, config.GetEnvDuration("CHARGEKEEP_TEST_DURATION", time.Minute))

	t.Setenv("CHARGEKEEP_TEST_DURATION", "not-a-duration")
	require.Equal(t, time.Minute, config.GetEnvDuration("CHARGEKEEP_TEST_DURATION", time.Minute))
}

func TestGetChargerIDs(t *testing.T) {
	t.Setenv("CHARGER_IDS", "6103, 6115,nope,42")
	require.Equal(t, []int{6103, 6115, 42}, config.API{}.GetChargerIDs())

	t.Setenv("CHARGER_IDS", "")
	require.Nil(t, config.API{}.GetChargerIDs())
}

func TestScopesSplit(t *testing.T) {
	t.Setenv("AUTH_SCOPES", "openid profile offline_access")
	require.Equal(t, []string{"openid", "profile", "offline_access"}, config.Auth{}.GetScopes())
}
