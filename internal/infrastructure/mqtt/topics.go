package mqtt

import "fmt"

// TopicPrefix is the base for all proxy topics.
const TopicPrefix = "voltson"

// Topics provides builders for the proxy's MQTT topics. Using these
// helpers keeps topic naming consistent between the publisher and any
// external subscribers.
type Topics struct{}

// OutletState returns the retained state topic for one outlet.
//
// Example: voltson/state/0LJGXXXXXXXXXXXXXXXXXXXXXXXXXXX
func (Topics) OutletState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// OutletEnergy returns the energy-sample topic for one outlet.
//
// Example: voltson/energy/0LJGXXXXXXXXXXXXXXXXXXXXXXXXXXX
func (Topics) OutletEnergy(deviceID string) string {
	return fmt.Sprintf("%s/energy/%s", TopicPrefix, deviceID)
}

// SystemStatus returns the proxy liveness topic, also used as the LWT
// target.
//
// Example: voltson/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}
