// Package config loads and validates the Voltson proxy configuration.
//
// Configuration is YAML-based with three layers of precedence:
//
//  1. Built-in defaults (the stock firmware's ports, paths and the real
//     vendor endpoint)
//  2. The YAML file passed at startup
//  3. VOLTSON_* environment variable overrides for deployment secrets
//
// The friendly-name mapping and command patterns under outlets: drive the
// control surface; the proxy core takes only the proxy: section.
package config
