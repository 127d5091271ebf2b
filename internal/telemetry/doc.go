// Package telemetry turns the outlets' raw energy encoding into numbers
// and records history.
//
// The firmware reports power and voltage as colon-delimited pairs of
// hexadecimal integers ("A0:10"); DecodePair converts a pair into a
// float using the same arithmetic the stock cloud applies. The Recorder
// attaches to every device state the registry creates and fans each
// relay transition and energy sample out to SQLite (queryable recent
// history), InfluxDB (long-term series, optional) and MQTT (live
// subscribers, optional).
//
// Recording is observer-driven and never feeds back into the bridging
// path; a failed write is logged and dropped.
package telemetry
