// Package domain models wireless access point sightings reported by field
// devices.
//
// # Sightings
//
// A device scans for nearby radios and pairs each result with its current GPS
// fix. The gateway receives one JSON object per sighting, either flat:
//
//	{"ssid":"cafe","mac":"aa:bb:cc:dd:ee:ff","channel":6,"rssi":-61,
//	 "security":"wpa2-psk","latitude":19.43,"longitude":-99.13,"timestamp":1714140600}
//
// or split into the scanner and GPS halves the firmware produces:
//
//	{"network":{"ssid":"cafe","mac":"AA:BB:CC:DD:EE:FF","rssi":"-61"},
//	 "gps":{"latitude":19.43,"longitude":-99.13,"satellites":7,"hdop":1.2}}
//
// [NormalizePayload] flattens either shape into a [Payload]; [Validate] turns
// a Payload into an [Observation] or a [*ValidationError].
//
// # Field Rules
//
// Only the radio identity and the position are mandatory. The MAC must be six
// two-digit hex octets separated by colons and is stored uppercase. Latitude
// and longitude must be finite numbers (numeric strings are accepted).
//
// Everything else degrades instead of failing, since radio and GPS metadata
// loss is routine in the field:
//
//	ssid       missing            -> "unknown"
//	channel    missing/garbled    -> 1
//	rssi       missing/garbled    -> -100 dBm
//	security   unrecognized       -> "UNKNOWN"
//	timestamp  epoch seconds, ISO-8601, or ingestion time
//
// A GPS half without coordinates may still carry the raw GGA sentence the
// receiver emitted; see [ParseGGA].
//
// # Identity
//
// The MAC is the identity key of a radio. Repeated sightings are never merged
// on write; [Dedupe] picks one representative per radio at read time.
package domain
