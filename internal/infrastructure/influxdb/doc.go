// Package influxdb streams decoded energy readings to an InfluxDB v2
// instance.
//
// SQLite keeps the queryable recent history; InfluxDB is the long-term
// time-series store for dashboards (Grafana) and retention policies the
// proxy itself does not manage. Writes are non-blocking and batched; a
// slow or absent InfluxDB never stalls the bridging path.
//
// The integration is optional and disabled by default. Connect returns
// ErrDisabled when the config leaves it off.
package influxdb
