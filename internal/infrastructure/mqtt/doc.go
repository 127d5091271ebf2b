// Package mqtt publishes outlet state and energy readings to an MQTT
// broker.
//
// The proxy is publish-only: retained state messages let home-automation
// subscribers (Home Assistant, Node-RED) pick up the current relay
// position on connect, and energy messages stream decoded readings as
// they arrive. Nothing commands the outlets over MQTT; the HTTP control
// surface owns injection.
//
// Topic hierarchy:
//
//	voltson/state/{device_id}    retained, relay position and liveness
//	voltson/energy/{device_id}   decoded watts and volts per sample
//	voltson/system/status        retained, proxy online/offline (LWT)
//
// The client reconnects automatically with exponential backoff; retained
// publishes after reconnect repair any missed state.
package mqtt
