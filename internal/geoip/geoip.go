// Package geoip maps egress addresses to countries using a MaxMind-format database.
package geoip

import (
	"net"

	"github.com/oschwald/geoip2-golang"
)

// DB wraps an open country or city database.
type DB struct {
	reader *geoip2.Reader
}

func Open(path string) (*DB, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &DB{reader: reader}, nil
}

// Country returns the ISO country code of ip, or "" when unknown.
func (db *DB) Country(ip string) string {
	if db == nil || db.reader == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	record, err := db.reader.Country(parsed)
	if err != nil {
		return ""
	}
	if record.Country.IsoCode != "" {
		return record.Country.IsoCode
	}
	return record.RegisteredCountry.IsoCode
}

func (db *DB) Close() error {
	if db == nil || db.reader == nil {
		return nil
	}
	return db.reader.Close()
}
