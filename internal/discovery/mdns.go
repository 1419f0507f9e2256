package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/betamos/zeroconf"
)

const (
	ServiceType = "_spwrelay._udp"
	Domain      = "local."
)

// Relay is a relay found on the local network
type Relay struct {
	Name string
	Addr string
	Port int
}

// Advertiser publishes this relay over mDNS until closed
type Advertiser struct {
	client *zeroconf.Client
}

// Advertise publishes a relay instance listening on port
func Advertise(instance string, port int) (*Advertiser, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("discovery: invalid port %d", port)
	}
	self := zeroconf.NewService(zeroconf.NewType(ServiceType), instance, uint16(port))
	client, err := zeroconf.New().Publish(self).Open()
	if err != nil {
		return nil, fmt.Errorf("zeroconf: %w", err)
	}
	return &Advertiser{client: client}, nil
}

// Close stops advertising
func (a *Advertiser) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// Browse returns the first relay that answers before ctx is done.
func Browse(ctx context.Context) (Relay, error) {
	found := make(chan Relay, 1)
	client, err := zeroconf.New().
		Browse(func(e zeroconf.Event) {
			r, ok := relayFromEvent(e)
			if !ok {
				return
			}
			select {
			case found <- r:
			default:
			}
		}, zeroconf.NewType(ServiceType)).
		Open()
	if err != nil {
		return Relay{}, fmt.Errorf("zeroconf: %w", err)
	}
	defer client.Close()

	select {
	case r := <-found:
		return r, nil
	case <-ctx.Done():
		return Relay{}, fmt.Errorf("discovery: no relay found: %w", ctx.Err())
	}
}

func relayFromEvent(e zeroconf.Event) (Relay, bool) {
	if e.Op != zeroconf.OpAdded {
		return Relay{}, false
	}
	var addrs []string
	for _, a := range e.Addrs {
		if a.IsValid() {
			addrs = append(addrs, net.JoinHostPort(a.String(), strconv.Itoa(int(e.Port))))
		}
	}
	if len(addrs) == 0 {
		return Relay{}, false
	}
	return Relay{Name: e.Name, Addr: preferIPv4(addrs), Port: int(e.Port)}, true
}

// preferIPv4 picks the first IPv4 "host:port" in addrs, else the first entry.
func preferIPv4(addrs []string) string {
	for _, a := range addrs {
		if !strings.HasPrefix(a, "[") {
			return a
		}
	}
	return addrs[0]
}
