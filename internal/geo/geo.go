// Package geo maps client IP addresses to approximate locations.
package geo

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Location is an approximate position for an IP address.
type Location struct {
	Latitude  float64
	Longitude float64
	City      string
	Country   string // ISO 3166-1 alpha-2
}

// Resolver maps an IP to a location. It returns (nil, nil) when the address is private, loopback,
// unparsable or unknown to the resolver.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (*Location, error)
}

// Routable parses ip and reports whether it is a public address worth resolving.
func Routable(ip string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return netip.Addr{}, false
	}
	addr = addr.Unmap()
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsMulticast() {
		return netip.Addr{}, false
	}
	return addr, true
}

// NoopResolver never resolves a location. Used when no GeoIP database is configured.
type NoopResolver struct{}

// Resolve implements Resolver.
func (NoopResolver) Resolve(context.Context, string) (*Location, error) { return nil, nil }

// StaticResolver resolves from a fixed table keyed by IP string. Intended for tests and demos.
type StaticResolver struct {
	mu    sync.RWMutex
	table map[string]Location
}

// NewStaticResolver returns a StaticResolver seeded with table.
func NewStaticResolver(table map[string]Location) *StaticResolver {
	t := make(map[string]Location, len(table))
	for k, v := range table {
		t[k] = v
	}
	return &StaticResolver{table: t}
}

// Set adds or replaces an entry.
func (r *StaticResolver) Set(ip string, loc Location) {
	r.mu.Lock()
	r.table[ip] = loc
	r.mu.Unlock()
}

// Resolve implements Resolver. Private and loopback addresses are never resolved, even if listed.
func (r *StaticResolver) Resolve(_ context.Context, ip string) (*Location, error) {
	addr, ok := Routable(ip)
	if !ok {
		return nil, nil
	}
	r.mu.RLock()
	loc, found := r.table[addr.String()]
	r.mu.RUnlock()
	if !found {
		return nil, nil
	}
	return &loc, nil
}

// MaxMindResolver resolves against a MaxMind GeoIP2/GeoLite2 City database.
type MaxMindResolver struct {
	reader *geoip2.Reader
}

// OpenMaxMind opens the City database at path. Caller must Close it.
func OpenMaxMind(path string) (*MaxMindResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &MaxMindResolver{reader: reader}, nil
}

// Resolve implements Resolver. Records without coordinates resolve to nil.
func (r *MaxMindResolver) Resolve(_ context.Context, ip string) (*Location, error) {
	addr, ok := Routable(ip)
	if !ok {
		return nil, nil
	}
	rec, err := r.reader.City(net.IP(addr.AsSlice()))
	if err != nil {
		return nil, err
	}
	if rec.Location.Latitude == 0 && rec.Location.Longitude == 0 {
		return nil, nil
	}
	return &Location{
		Latitude:  rec.Location.Latitude,
		Longitude: rec.Location.Longitude,
		City:      rec.City.Names["en"],
		Country:   rec.Country.IsoCode,
	}, nil
}

// Close releases the database.
func (r *MaxMindResolver) Close() error {
	return r.reader.Close()
}
