package airquality

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/breatheroute/aqirelay/internal/airquality"

// Geocoder resolves a place name to coordinates.
type Geocoder interface {
	// Geocode returns at most one match for city. An empty slice means the
	// city is unknown.
	Geocode(ctx context.Context, city string) ([]GeoResult, error)
}

// PollutionSource provides air pollution samples for a coordinate.
type PollutionSource interface {
	// CurrentPollution returns the sample series for lat/lon, newest first.
	CurrentPollution(ctx context.Context, lat, lon float64) ([]PollutionSample, error)
}

// ResolverConfig holds configuration for the resolver.
type ResolverConfig struct {
	// Geocoder performs the first pipeline step.
	Geocoder Geocoder

	// Pollution performs the second pipeline step.
	Pollution PollutionSource

	// Logger receives upstream failure details, which are never exposed to clients.
	Logger zerolog.Logger

	// Tracer is used for pipeline spans (optional, defaults to the global tracer).
	Tracer trace.Tracer
}

// Resolver turns a city name into a Report with a two-step pipeline:
// geocode, then pollution by coordinate. It holds no per-query state.
type Resolver struct {
	geocoder  Geocoder
	pollution PollutionSource
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewResolver creates a new resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Resolver{
		geocoder:  cfg.Geocoder,
		pollution: cfg.Pollution,
		logger:    cfg.Logger,
		tracer:    tracer,
	}
}

// Resolve produces the air quality report for city.
//
// It returns a *CityNotFoundError (matching ErrCityNotFound) when geocoding
// has no match, and an error wrapping ErrFetchFailed for every other failure.
func (r *Resolver) Resolve(ctx context.Context, city string) (*Report, error) {
	ctx, span := r.tracer.Start(ctx, "airquality.Resolve",
		trace.WithAttributes(attribute.String("aqi.city", city)),
	)
	defer span.End()

	geo, err := r.geocode(ctx, city)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	sample, err := r.currentSample(ctx, geo)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("aqi.index", int(sample.AQI)))

	return NewReport(geo, sample), nil
}

// geocode is pipeline step one.
func (r *Resolver) geocode(ctx context.Context, city string) (GeoResult, error) {
	if strings.TrimSpace(city) == "" {
		return GeoResult{}, fmt.Errorf("%w: geocode: %w", ErrFetchFailed, ErrEmptyCity)
	}

	ctx, span := r.tracer.Start(ctx, "airquality.Geocode")
	defer span.End()

	matches, err := r.geocoder.Geocode(ctx, city)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("city", city).
			Str("step", "geocode").
			Msg("error fetching AQI")
		recordError(span, err)
		return GeoResult{}, fmt.Errorf("%w: geocode: %w", ErrFetchFailed, err)
	}

	if len(matches) == 0 {
		return GeoResult{}, &CityNotFoundError{City: city}
	}

	geo := matches[0]
	if geo.Name == "" {
		geo.Name = city
	}

	span.SetAttributes(
		attribute.Float64("geo.lat", geo.Lat),
		attribute.Float64("geo.lon", geo.Lon),
	)

	return geo, nil
}

// currentSample is pipeline step two.
func (r *Resolver) currentSample(ctx context.Context, geo GeoResult) (PollutionSample, error) {
	ctx, span := r.tracer.Start(ctx, "airquality.CurrentPollution")
	defer span.End()

	samples, err := r.pollution.CurrentPollution(ctx, geo.Lat, geo.Lon)
	if err == nil && len(samples) == 0 {
		err = errors.New("empty sample list")
	}
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("city", geo.Name).
			Float64("lat", geo.Lat).
			Float64("lon", geo.Lon).
			Str("step", "pollution").
			Msg("error fetching AQI")
		recordError(span, err)
		return PollutionSample{}, fmt.Errorf("%w: pollution: %w", ErrFetchFailed, err)
	}

	sample := samples[0]
	if !sample.AQI.Valid() {
		r.logger.Warn().
			Int("aqi", int(sample.AQI)).
			Str("city", geo.Name).
			Msg("upstream returned aqi index outside 1..5")
		err := fmt.Errorf("%w: %w: %d", ErrFetchFailed, ErrAQIOutOfRange, sample.AQI)
		recordError(span, err)
		return PollutionSample{}, err
	}

	return sample, nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
