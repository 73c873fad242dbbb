package zone

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// The AUTOMATIC method sentinel is resolved against this table before any key
// is stored: each country maps to its customary calculation method id.

//go:embed country_methods.json
var embeddedCountryMethods []byte

type countryMethodFile struct {
	CountryMap      map[string]int `json:"country_map"`
	DefaultMethodID int            `json:"default_method_id"`
}

// CountryMethods resolves a country code to a concrete calculation method id.
type CountryMethods struct {
	byCountry map[string]int
	fallback  int
}

// LoadCountryMethods reads the map from path, or the embedded default when
// path is empty.
func LoadCountryMethods(path string) (*CountryMethods, error) {
	data := embeddedCountryMethods
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read country method map %s: %w", path, err)
		}
		data = b
	}
	var f countryMethodFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse country method map: %w", err)
	}
	if f.DefaultMethodID == 0 {
		f.DefaultMethodID = 3 // Muslim World League
	}
	return &CountryMethods{byCountry: f.CountryMap, fallback: f.DefaultMethodID}, nil
}

// MethodFor returns the concrete method id for a country code.
func (c *CountryMethods) MethodFor(countryCode string) int {
	if id, ok := c.byCountry[strings.ToUpper(countryCode)]; ok {
		return id
	}
	return c.fallback
}
