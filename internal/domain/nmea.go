package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// GPSFix is the position part of a GGA sentence. Satellites and HDOP are nil
// when the receiver left those fields empty.
type GPSFix struct {
	Latitude   float64
	Longitude  float64
	Satellites *int
	HDOP       *float64
}

// ParseGGA decodes a $GPGGA or $GNGGA sentence. It returns false for other
// sentence types, truncated sentences, checksum mismatches and fix quality 0.
func ParseGGA(sentence string) (GPSFix, bool) {
	sentence = strings.TrimSpace(sentence)
	if !strings.HasPrefix(sentence, "$GPGGA") && !strings.HasPrefix(sentence, "$GNGGA") {
		return GPSFix{}, false
	}
	body := sentence[1:]
	if i := strings.IndexByte(body, '*'); i >= 0 {
		if !checksumOK(body[:i], body[i+1:]) {
			return GPSFix{}, false
		}
		body = body[:i]
	}

	parts := strings.Split(body, ",")
	if len(parts) < 15 || parts[6] == "" || parts[6] == "0" {
		return GPSFix{}, false
	}

	lat, okLat := nmeaDegrees(parts[2], parts[3])
	lon, okLon := nmeaDegrees(parts[4], parts[5])
	if !okLat || !okLon {
		return GPSFix{}, false
	}

	fix := GPSFix{Latitude: lat, Longitude: lon}
	if n, err := strconv.Atoi(parts[7]); err == nil {
		fix.Satellites = &n
	}
	if h, err := strconv.ParseFloat(parts[8], 64); err == nil {
		fix.HDOP = &h
	}
	return fix, true
}

// nmeaDegrees converts (d)ddmm.mmmm plus hemisphere to signed decimal degrees.
func nmeaDegrees(value, hemisphere string) (float64, bool) {
	dot := strings.IndexByte(value, '.')
	if dot < 0 {
		dot = len(value)
	}
	if dot < 3 {
		return 0, false
	}
	deg, err := strconv.ParseFloat(value[:dot-2], 64)
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.ParseFloat(value[dot-2:], 64)
	if err != nil {
		return 0, false
	}
	decimal := deg + minutes/60
	switch hemisphere {
	case "S", "W":
		decimal = -decimal
	case "N", "E":
	default:
		return 0, false
	}
	return decimal, true
}

func checksumOK(body, sum string) bool {
	var x byte
	for i := 0; i < len(body); i++ {
		x ^= body[i]
	}
	return strings.EqualFold(fmt.Sprintf("%02X", x), strings.TrimSpace(sum))
}
