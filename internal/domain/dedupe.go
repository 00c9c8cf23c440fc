package domain

import (
	"strconv"
	"strings"
)

// DedupeKey identifies the radio behind an observation: the uppercase MAC, or
// ssid::channel when the MAC is empty.
func DedupeKey(o Observation) string {
	if mac := strings.ToUpper(strings.TrimSpace(o.MAC)); mac != "" {
		return mac
	}
	return o.SSID + "::" + strconv.Itoa(o.Channel)
}

// Dedupe keeps one observation per radio: the latest sighting, or on equal
// timestamps the strongest signal. Output follows the order in which each
// radio was first seen. Deduping its own output returns it unchanged.
func Dedupe(records []Observation) []Observation {
	index := make(map[string]int, len(records))
	out := make([]Observation, 0, len(records))
	for _, rec := range records {
		key := DedupeKey(rec)
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, rec)
			continue
		}
		if supersedes(rec, out[i]) {
			out[i] = rec
		}
	}
	return out
}

func supersedes(candidate, current Observation) bool {
	if candidate.Timestamp.After(current.Timestamp) {
		return true
	}
	return candidate.Timestamp.Equal(current.Timestamp) && candidate.RSSI > current.RSSI
}
