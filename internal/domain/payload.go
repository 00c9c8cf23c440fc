package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is the canonical, shape-independent input to Validate. Values keep
// the loose JSON types the device sent (string, json.Number, float64, nil);
// coercion and defaulting happen in Validate.
type Payload struct {
	SSID       any
	MAC        any
	Channel    any
	RSSI       any
	Security   any
	Latitude   any
	Longitude  any
	Timestamp  any
	Satellites any
	HDOP       any
}

// DecodePayload parses a JSON object, keeping numbers as json.Number so
// pass-through fields survive unchanged.
func DecodePayload(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("decode payload: not a JSON object")
	}
	return raw, nil
}

// NormalizePayload flattens a flat or network/gps-nested sighting into a
// Payload. Top-level fields win over nested ones.
func NormalizePayload(raw map[string]any) Payload {
	network := subObject(raw, "network")
	gps := subObject(raw, "gps")

	p := Payload{
		SSID:       first(raw["ssid"], network["ssid"]),
		MAC:        first(raw["mac"], network["mac"], network["bssid"]),
		Channel:    first(raw["channel"], network["channel"]),
		RSSI:       first(raw["rssi"], network["rssi"]),
		Security:   first(raw["security"], network["security"]),
		Latitude:   first(raw["latitude"], gps["latitude"]),
		Longitude:  first(raw["longitude"], gps["longitude"]),
		Timestamp:  first(raw["timestamp"], network["timestamp"], gps["timestamp"], raw["received_at"]),
		Satellites: first(raw["satellites"], gps["satellites"]),
		HDOP:       first(raw["hdop"], gps["hdop"]),
	}

	if p.Latitude == nil || p.Longitude == nil {
		if sentence, ok := gps["nmea"].(string); ok {
			if fix, ok := ParseGGA(sentence); ok {
				p.Latitude = fix.Latitude
				p.Longitude = fix.Longitude
				if p.Satellites == nil && fix.Satellites != nil {
					p.Satellites = *fix.Satellites
				}
				if p.HDOP == nil && fix.HDOP != nil {
					p.HDOP = *fix.HDOP
				}
			}
		}
	}
	return p
}

func subObject(raw map[string]any, key string) map[string]any {
	if m, ok := raw[key].(map[string]any); ok {
		return m
	}
	return nil
}

func first(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
