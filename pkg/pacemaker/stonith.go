package pacemaker

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// StonithConfig represents the part of the stonith device configuration
// needed to drive fence agents directly.
type StonithConfig struct {
	Primitives []Primitive `json:"primitives"`
}

type Primitive struct {
	Id                 string               `json:"id"`
	AgentName          AgentName            `json:"agent_name"`
	InstanceAttributes []InstanceAttributes `json:"instance_attributes"`
}

type AgentName struct {
	Standard string `json:"standard"`
	Type     string `json:"type"`
}

type InstanceAttributes struct {
	Id      string   `json:"id"`
	NvPairs []NvPair `json:"nvpairs"`
}

type NvPair struct {
	Id    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// flagOptions are fence agent options that take no value.
var flagOptions = map[string]bool{
	"ssl_insecure": true,
	"lanplus":      true,
	"ssl":          true,
	"inet6_only":   true,
}

// Attr returns the value of the named instance attribute.
func (p Primitive) Attr(name string) (string, bool) {
	for _, ia := range p.InstanceAttributes {
		for _, nv := range ia.NvPairs {
			if nv.Name == name {
				return nv.Value, true
			}
		}
	}
	return "", false
}

// Fences reports whether the device is configured to fence the node.
func (p Primitive) Fences(node string) bool {
	hosts, ok := p.Attr("pcmk_host_list")
	if !ok {
		// "<node>_<method>" naming convention
		return strings.HasPrefix(p.Id, node+"_")
	}
	for _, h := range strings.FieldsFunc(hosts, func(r rune) bool { return r == ',' || r == ' ' || r == ';' }) {
		if h == node {
			return true
		}
	}
	return false
}

// DeviceFor returns the stonith device configured for the node.
func (c StonithConfig) DeviceFor(node string) (Primitive, bool) {
	for _, p := range c.Primitives {
		if p.Fences(node) {
			return p, true
		}
	}
	return Primitive{}, false
}

// FenceAgentCommand builds a command line that runs the device's fence agent
// directly, bypassing pacemaker, with the given action ("off", "on", "status").
func FenceAgentCommand(p Primitive, action string) (string, error) {
	if p.AgentName.Type == "" {
		return "", fmt.Errorf("stonith device %q has no agent type", p.Id)
	}
	values := map[string]string{}
	for _, ia := range p.InstanceAttributes {
		for _, nv := range ia.NvPairs {
			// pacemaker specific attributes are not understood by the agents
			if strings.HasPrefix(nv.Name, "pcmk_") || nv.Name == "action" {
				continue
			}
			values[nv.Name] = nv.Value
		}
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	args := []string{"/usr/sbin/" + p.AgentName.Type}
	for _, name := range names {
		value := values[name]
		flag := "--" + strings.ReplaceAll(name, "_", "-")
		switch {
		case flagOptions[name]:
			if value == "1" || value == "true" || value == "" {
				args = append(args, flag)
			}
		case name == "ip":
			args = append(args, flag, parsedIP(value))
		default:
			args = append(args, flag, shellQuote(value))
		}
	}
	args = append(args, "--action", action)
	return strings.Join(args, " "), nil
}

// parsedIP wraps IPv6 addresses in brackets so they can be combined with a port.
func parsedIP(value string) string {
	ip := net.ParseIP(value)
	if ip == nil {
		return value
	}
	if ip.To4() == nil {
		return fmt.Sprintf("[%s]", ip.String())
	}
	return ip.String()
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>()*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
