package domain

import (
	"encoding/json"
	"time"
)

// Security labels as reported by the scanner firmware.
const (
	SecurityOpen    = "OPEN"
	SecurityWEP     = "WEP"
	SecurityUnknown = "UNKNOWN"
)

// DefaultSSID is stored when a sighting carries no network name.
const DefaultSSID = "unknown"

const (
	defaultChannel = 1
	defaultRSSI    = -100
)

// knownSecurity lists every label kept as-is after uppercasing.
var knownSecurity = map[string]struct{}{
	SecurityOpen:   {},
	SecurityWEP:    {},
	"WPA":          {},
	"WPA-PSK":      {},
	"WPA2":         {},
	"WPA2-PSK":     {},
	"WPA2-EAP":     {},
	"WPA/WPA2-PSK": {},
	"WPA3":         {},
	"WPA3-SAE":     {},
}

// Observation is one validated sighting of an access point. Values are
// never modified after Validate returns them; newer sightings are new
// Observations.
type Observation struct {
	SSID      string    `json:"ssid"`
	MAC       string    `json:"mac"`
	Channel   int       `json:"channel"`
	RSSI      int       `json:"rssi"`
	Security  string    `json:"security"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`

	// GPS fix quality, carried through untouched when the device sent it.
	Satellites json.RawMessage `json:"satellites,omitempty"`
	HDOP       json.RawMessage `json:"hdop,omitempty"`
}

// Insecure reports whether the observation is eligible for hotspot clustering.
func (o Observation) Insecure() bool {
	return IsInsecure(o.Security)
}

// IsInsecure reports whether a normalized security label is OPEN or WEP.
func IsInsecure(security string) bool {
	return security == SecurityOpen || security == SecurityWEP
}
