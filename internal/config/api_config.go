package config

import (
	"strconv"
	"strings"
)

type APIConfig interface {
	GetAPIBaseURL() string
	GetDeviceID() string
	GetLatitude() float64
	GetLongitude() float64
	GetChargerIDs() []int
}

type API struct{}

var _ APIConfig = API{}

func (API) GetAPIBaseURL() string {
	return GetEnv("API_BASE_URL", "https://eva.iberdrola.com/vecomges/api")
}

func (API) GetDeviceID() string {
	return GetEnv("DEVICE_ID", "")
}

func (API) GetLatitude() float64 {
	return GetEnvFloat("LATITUDE", 0)
}

func (API) GetLongitude() float64 {
	return GetEnvFloat("LONGITUDE", 0)
}

// GetChargerIDs returns the charge point ids to watch, comma separated in the
// environment. Unparseable entries are skipped.
func (API) GetChargerIDs() []int {
	raw := GetEnv("CHARGER_IDS", "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
