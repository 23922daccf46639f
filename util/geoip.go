package util

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"
	cache "github.com/patrickmn/go-cache"
)

// Location is the coarse origin of a client address.
type Location struct {
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

// String renders "City/Country", or whichever half is known.
func (l Location) String() string {
	switch {
	case l.City != "" && l.Country != "":
		return l.City + "/" + l.Country
	case l.Country != "":
		return l.Country
	default:
		return l.City
	}
}

type geoLocator struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
	hits   *cache.Cache
}

var geo = &geoLocator{hits: cache.New(24*time.Hour, time.Hour)}

// OpenGeoIP loads a GeoLite2/GeoIP2 City database, replacing any open one.
// path falls back to GEOIP_DB_PATH; with neither set lookups stay disabled.
func OpenGeoIP(path string) error {
	if path == "" {
		path = os.Getenv("GEOIP_DB_PATH")
	}
	if path == "" {
		return nil
	}
	r, err := geoip2.Open(path)
	if err != nil {
		return err
	}
	geo.mu.Lock()
	old := geo.reader
	geo.reader = r
	geo.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// CloseGeoIP releases the database. Cached lookups survive.
func CloseGeoIP() {
	geo.mu.Lock()
	defer geo.mu.Unlock()
	if geo.reader != nil {
		_ = geo.reader.Close()
		geo.reader = nil
	}
}

func publicIP(ip string) net.IP {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() || parsed.IsLinkLocalUnicast() {
		return nil
	}
	return parsed
}

// LocateIP resolves ip to a Location. Clinic-LAN and loopback addresses
// resolve to the zero Location.
func LocateIP(ip string) Location {
	parsed := publicIP(ip)
	if parsed == nil {
		return Location{}
	}
	if v, ok := geo.hits.Get(ip); ok {
		return v.(Location)
	}

	geo.mu.RLock()
	reader := geo.reader
	geo.mu.RUnlock()
	if reader == nil {
		return Location{}
	}
	rec, err := reader.City(parsed)
	if err != nil {
		return Location{}
	}
	loc := Location{City: rec.City.Names["en"], Country: rec.Country.Names["en"]}
	if loc.Country == "" {
		loc.Country = rec.Country.IsoCode
	}
	geo.hits.SetDefault(ip, loc)
	return loc
}
