// Package airquality resolves a city name into an air quality report.
package airquality

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Resolver errors.
var (
	// ErrCityNotFound is returned when geocoding yields no match for a city.
	ErrCityNotFound = errors.New("city not found")

	// ErrFetchFailed is returned for any upstream failure: network errors,
	// non-2xx statuses, malformed bodies and open circuits.
	ErrFetchFailed = errors.New("could not fetch air quality")

	// ErrAQIOutOfRange is returned when the upstream reports an index outside 1..5.
	ErrAQIOutOfRange = errors.New("aqi index out of range")

	// ErrEmptyCity is returned, wrapped in ErrFetchFailed, for a blank query.
	// The geocoding API rejects an empty q, so no call is made.
	ErrEmptyCity = errors.New("empty city name")
)

// CityNotFoundError carries the city that could not be geocoded.
type CityNotFoundError struct {
	City string
}

func (e *CityNotFoundError) Error() string {
	return fmt.Sprintf("city %q not found", e.City)
}

// Is makes errors.Is(err, ErrCityNotFound) match.
func (e *CityNotFoundError) Is(target error) bool {
	return target == ErrCityNotFound
}

// GeoResult is a single geocoding match.
type GeoResult struct {
	Lat  float64
	Lon  float64
	Name string
}

// PollutionSample is the newest air pollution sample for a coordinate.
type PollutionSample struct {
	AQI Index

	// Components maps pollutant names (co, no2, o3, pm2_5, ...) to
	// concentrations in µg/m³, exactly as reported upstream.
	Components map[string]float64
}

// Report is the message sent back to the client. A report holds either the
// success fields or Error, never both; MarshalJSON emits exactly one shape.
type Report struct {
	City       string
	Lat        float64
	Lon        float64
	AQIIndex   int
	AQILevel   string
	Advice     string
	Pollutants map[string]float64
	Error      string
}

type successWire struct {
	City       string             `json:"city"`
	Lat        float64            `json:"lat"`
	Lon        float64            `json:"lon"`
	AQIIndex   int                `json:"aqiIndex"`
	AQILevel   string             `json:"aqiLevel"`
	Advice     string             `json:"advice"`
	Pollutants map[string]float64 `json:"pollutants"`
}

type errorWire struct {
	Error string `json:"error"`
}

// NewReport assembles a success report from a geocoding match and a sample.
func NewReport(geo GeoResult, sample PollutionSample) *Report {
	pollutants := sample.Components
	if pollutants == nil {
		pollutants = map[string]float64{}
	}
	return &Report{
		City:       geo.Name,
		Lat:        geo.Lat,
		Lon:        geo.Lon,
		AQIIndex:   int(sample.AQI),
		AQILevel:   sample.AQI.Level(),
		Advice:     sample.AQI.Advice(),
		Pollutants: pollutants,
	}
}

// NewErrorReport creates a failure report.
func NewErrorReport(message string) *Report {
	return &Report{Error: message}
}

// IsError reports whether r is a failure report.
func (r Report) IsError() bool {
	return r.Error != ""
}

// MarshalJSON implements json.Marshaler.
func (r Report) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return marshalUnescaped(errorWire{Error: r.Error})
	}
	return marshalUnescaped(successWire{
		City:       r.City,
		Lat:        r.Lat,
		Lon:        r.Lon,
		AQIIndex:   r.AQIIndex,
		AQILevel:   r.AQILevel,
		Advice:     r.Advice,
		Pollutants: r.Pollutants,
	})
}

// marshalUnescaped encodes v without HTML escaping; city names reach the
// client verbatim.
func marshalUnescaped(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
