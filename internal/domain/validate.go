package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// macRe matches six colon-separated hex octets, e.g. "AA:BB:CC:DD:EE:FF".
var macRe = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)

// isoLayouts are tried in order for string timestamps. Zone-less values are UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Validate converts a normalized payload into an Observation. Only a bad MAC
// or unusable coordinates fail; every other field falls back to a default.
func Validate(p Payload) (Observation, error) {
	mac := strings.TrimSpace(stringOf(p.MAC))
	if !macRe.MatchString(mac) {
		return Observation{}, &ValidationError{Field: "mac", Reason: fmt.Sprintf("%q is not six colon-separated hex octets", mac)}
	}

	lat, ok := finiteFloat(p.Latitude)
	if !ok {
		return Observation{}, &ValidationError{Field: "latitude", Reason: "missing or not a finite number"}
	}
	lon, ok := finiteFloat(p.Longitude)
	if !ok {
		return Observation{}, &ValidationError{Field: "longitude", Reason: "missing or not a finite number"}
	}

	obs := Observation{
		SSID:      DefaultSSID,
		MAC:       strings.ToUpper(mac),
		Channel:   intOr(p.Channel, defaultChannel),
		RSSI:      intOr(p.RSSI, defaultRSSI),
		Security:  normalizeSecurity(p.Security),
		Latitude:  lat,
		Longitude: lon,
		Timestamp: coerceTimestamp(p.Timestamp),
	}
	if p.SSID != nil {
		obs.SSID = stringOf(p.SSID)
	}
	obs.Satellites = passThrough(p.Satellites)
	obs.HDOP = passThrough(p.HDOP)
	return obs, nil
}

func normalizeSecurity(v any) string {
	if v == nil {
		return SecurityUnknown
	}
	label := strings.ToUpper(strings.TrimSpace(stringOf(v)))
	if _, ok := knownSecurity[label]; ok {
		return label
	}
	return SecurityUnknown
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// numberOf accepts JSON numbers and numeric strings.
func numberOf(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func finiteFloat(v any) (float64, bool) {
	f, ok := numberOf(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// intOr truncates numeric values; strings must hold a plain integer.
func intOr(v any, def int) int {
	if s, ok := v.(string); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return def
		}
		return n
	}
	f, ok := finiteFloat(v)
	if !ok || f > math.MaxInt32 || f < math.MinInt32 {
		return def
	}
	return int(f)
}

// Timestamps must stay within the years JSON encoding of time.Time accepts.
var (
	minEpochSeconds = float64(time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC).Unix())
	maxEpochSeconds = float64(time.Date(10000, time.January, 1, 0, 0, 0, 0, time.UTC).Unix())
)

// coerceTimestamp reads epoch seconds or ISO-8601 and never fails: anything
// else, including values outside years 0-9999, becomes the ingestion time.
func coerceTimestamp(v any) time.Time {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range isoLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				if ts = ts.UTC(); encodable(ts) {
					return ts
				}
				break
			}
		}
	case nil:
	default:
		if secs, ok := finiteFloat(t); ok && secs >= minEpochSeconds && secs < maxEpochSeconds {
			whole, frac := math.Modf(secs)
			if ts := time.Unix(int64(whole), int64(frac*1e9)).UTC(); encodable(ts) {
				return ts
			}
		}
	}
	return clock.Now().UTC()
}

func encodable(t time.Time) bool {
	return t.Year() >= 0 && t.Year() <= 9999
}

func passThrough(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
