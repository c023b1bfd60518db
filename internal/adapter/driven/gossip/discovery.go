package gossip

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// Sighting reports that a peer was seen at a mesh address. PeerID is empty
// when the discovery mechanism cannot tell who listens there.
type Sighting struct {
	PeerID string
	Addr   string
}

// Discoverer finds candidate peers and reports them on out until ctx is done.
type Discoverer interface {
	Discover(ctx context.Context, out chan<- Sighting) error
}

// StaticDiscoverer re-announces a fixed list of peer addresses on every
// interval. It serves networks where multicast is unavailable.
type StaticDiscoverer struct {
	Addrs    []string
	Interval time.Duration
}

// Discover implements Discoverer.
func (d *StaticDiscoverer) Discover(ctx context.Context, out chan<- Sighting) error {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		for _, addr := range d.Addrs {
			select {
			case out <- Sighting{Addr: addr}:
			case <-ctx.Done():
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

const peerTXTPrefix = "peer="

// MDNSDiscoverer advertises the local mesh endpoint over multicast DNS and
// browses for other peers of the same service.
type MDNSDiscoverer struct {
	Service  string // e.g. "_reviewmesh._tcp"
	PeerID   string
	Port     int
	Interval time.Duration
}

// Discover implements Discoverer. The advertisement stays up until ctx is done.
func (d *MDNSDiscoverer) Discover(ctx context.Context, out chan<- Sighting) error {
	svc, err := mdns.NewMDNSService(d.PeerID, d.Service, "", "", d.Port, nil, []string{peerTXTPrefix + d.PeerID})
	if err != nil {
		return fmt.Errorf("create mdns service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return fmt.Errorf("start mdns server: %w", err)
	}
	defer func() {
		if err := server.Shutdown(); err != nil {
			slog.Debug("mdns server shutdown failed", "error", err)
		}
	}()

	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		d.browse(ctx, out)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (d *MDNSDiscoverer) browse(ctx context.Context, out chan<- Sighting) {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			s, ok := sightingFromEntry(entry, d.PeerID)
			if !ok {
				continue
			}
			select {
			case out <- s:
			case <-ctx.Done():
			}
		}
	}()

	params := mdns.DefaultParams(d.Service)
	params.Entries = entries
	params.Timeout = time.Second
	params.DisableIPv6 = true

	if err := mdns.Query(params); err != nil {
		slog.Debug("mdns query failed", "service", d.Service, "error", err)
	}
	close(entries)
	<-done
}

// sightingFromEntry converts an mDNS answer into a Sighting, ignoring our
// own advertisement and entries without a usable address.
func sightingFromEntry(entry *mdns.ServiceEntry, selfID string) (Sighting, bool) {
	if entry == nil || entry.Port == 0 {
		return Sighting{}, false
	}

	var peerID string
	for _, field := range entry.InfoFields {
		if id, ok := strings.CutPrefix(field, peerTXTPrefix); ok {
			peerID = id
			break
		}
	}
	if peerID == "" || peerID == selfID {
		return Sighting{}, false
	}

	ip := entry.AddrV4
	if ip == nil {
		ip = entry.AddrV6
	}
	if ip == nil {
		return Sighting{}, false
	}

	return Sighting{
		PeerID: peerID,
		Addr:   net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)),
	}, true
}
