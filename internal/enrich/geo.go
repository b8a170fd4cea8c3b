// Package enrich определяет страну, устройство и браузер посетителя.
package enrich

import (
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

// Значения, которыми прокси помечают неизвестную страну
var unknownCountries = map[string]bool{
	"XX": true,
	"T1": true,
	"ZZ": true,
}

// GeoIP страна по базе MaxMind, при её отсутствии по заголовку прокси
type GeoIP struct {
	reader *geoip2.Reader
	logger *zap.Logger
}

// NewGeoIP открывает базу по пути dbPath; пустой путь означает работу только по заголовкам
func NewGeoIP(dbPath string, logger *zap.Logger) (*GeoIP, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &GeoIP{logger: logger}
	if dbPath == "" {
		return g, nil
	}

	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, err
	}
	g.reader = reader
	logger.Info("GeoIP database loaded", zap.String("path", dbPath))
	return g, nil
}

// Country возвращает ISO-код страны или пустую строку
func (g *GeoIP) Country(ip, hint string) string {
	if g.reader != nil {
		if parsed := net.ParseIP(ip); parsed != nil {
			record, err := g.reader.Country(parsed)
			if err != nil {
				g.logger.Debug("GeoIP lookup failed", zap.String("ip", ip), zap.Error(err))
			} else if code := record.Country.IsoCode; code != "" {
				return code
			}
		}
	}
	return normalizeCountry(hint)
}

func (g *GeoIP) Close() error {
	if g.reader == nil {
		return nil
	}
	return g.reader.Close()
}

func normalizeCountry(hint string) string {
	code := strings.ToUpper(strings.TrimSpace(hint))
	if len(code) != 2 || unknownCountries[code] {
		return ""
	}
	return code
}
