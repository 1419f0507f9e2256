package relay

import "fmt"

// Default channel names. Both ends of the relay must agree on them.
const (
	DefaultUpdateInbound   = "update-config/server"
	DefaultUpdateOutbound  = "update-config/client"
	DefaultDisableInbound  = "disable-config/server"
	DefaultDisableOutbound = "disable-config/client"
)

// Channels names the four channels the relay uses. Inbound channels carry
// client-to-server requests, outbound channels the server's re-broadcast.
type Channels struct {
	UpdateInbound   string `toml:"update_inbound"`
	UpdateOutbound  string `toml:"update_outbound"`
	DisableInbound  string `toml:"disable_inbound"`
	DisableOutbound string `toml:"disable_outbound"`
}

// DefaultChannels returns the built-in channel names.
func DefaultChannels() Channels {
	return Channels{
		UpdateInbound:   DefaultUpdateInbound,
		UpdateOutbound:  DefaultUpdateOutbound,
		DisableInbound:  DefaultDisableInbound,
		DisableOutbound: DefaultDisableOutbound,
	}
}

// Validate requires every name to be set and all four to differ.
func (c Channels) Validate() error {
	names := []struct{ field, value string }{
		{"update_inbound", c.UpdateInbound},
		{"update_outbound", c.UpdateOutbound},
		{"disable_inbound", c.DisableInbound},
		{"disable_outbound", c.DisableOutbound},
	}
	seen := make(map[string]string, len(names))
	for _, n := range names {
		if n.value == "" {
			return fmt.Errorf("relay: channel %s is empty", n.field)
		}
		if prev, ok := seen[n.value]; ok {
			return fmt.Errorf("relay: channels %s and %s share name %q", prev, n.field, n.value)
		}
		seen[n.value] = n.field
	}
	return nil
}
