package eventbroker

import (
	"fmt"
	"strings"
)

// Component identifies a producer or consumer of health events.
type Component string

const (
	ComponentHA         Component = "ha"
	ComponentHare       Component = "hare"
	ComponentMotr       Component = "motr"
	ComponentCSM        Component = "csm"
	ComponentK8sMonitor Component = "k8s_monitor"
	ComponentMonitor    Component = "monitor"
)

const channelPrefix = "ha_event_"

var components = []Component{
	ComponentHA,
	ComponentHare,
	ComponentMotr,
	ComponentCSM,
	ComponentK8sMonitor,
	ComponentMonitor,
}

// Components returns the allow-list of known components.
func Components() []Component {
	return append([]Component(nil), components...)
}

func (c Component) Valid() bool {
	for _, known := range components {
		if c == known {
			return true
		}
	}
	return false
}

// ParseComponent rejects names outside the allow-list.
func ParseComponent(s string) (Component, error) {
	c := Component(strings.TrimSpace(s))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidComponent, s)
	}
	return c, nil
}

// ChannelFor returns the deterministic channel a component publishes on.
func ChannelFor(c Component) string {
	return channelPrefix + string(c)
}
