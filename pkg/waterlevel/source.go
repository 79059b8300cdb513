package waterlevel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/paddyworks/irrigate/pkg/models"
)

// SensorReading is one entry returned by the external sensor API.
type SensorReading struct {
	FieldID   string
	SectionID int
	ValueMM   float64
	Timestamp *time.Time
	SensorID  string
}

// SensorAPI is the boundary to the external sensor service. Implementations
// are supplied by the host; the core only consumes this interface.
type SensorAPI interface {
	FetchReadings(ctx context.Context, farmID string) ([]SensorReading, error)
}

// SourceConfig configures the fallback chain's timing parameters.
type SourceConfig struct {
	ThrottleInterval time.Duration
	MaxCacheAgeHours float64
	FetchTimeout     time.Duration
}

// DefaultSourceConfig returns the documented defaults: throttle >=5min,
// max cache age 24h.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		ThrottleInterval: 5 * time.Minute,
		MaxCacheAgeHours: 24,
		FetchTimeout:     30 * time.Second,
	}
}

// Source resolves "latest readings for farm" via the three-leg fallback
// chain: live API (throttled, circuit-broken) -> cache (within max-age)
// -> config default. Every admitted reading flows into
// the backing Store.
type Source struct {
	api     SensorAPI
	store   *Store
	breaker *gobreaker.CircuitBreaker
	cfg     SourceConfig

	mu       sync.Mutex
	lastCall time.Time
	now      func() time.Time
}

// NewSource builds a Source backed by the given Store and sensor API. The
// circuit breaker trips after 3 consecutive failures and probes again
// after a 30s cooldown, so a flaky sensor endpoint stops costing a full
// timeout per resolution cycle.
func NewSource(store *Store, api SensorAPI, cfg SourceConfig) *Source {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sensor-api",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Source{
		api:     api,
		store:   store,
		breaker: breaker,
		cfg:     cfg,
		now:     time.Now,
	}
}

// ResolveResult reports which fallback leg served each field, for
// observability.
type ResolveResult struct {
	Readings      map[string]models.WaterLevelReading
	FromAPI       []string
	FromCache     []string
	FromConfig    []string
	Unresolved    []string
	APIAttempted  bool
	APISkipped    string
	APIError      error
}

// Resolve runs the fallback chain for every field in cfg and admits every
// resolved reading into the Store.
func (s *Source) Resolve(ctx context.Context, cfg *models.FarmConfig) (ResolveResult, error) {
	result := ResolveResult{Readings: make(map[string]models.WaterLevelReading, len(cfg.Fields))}

	missing := make(map[string]models.Field, len(cfg.Fields))
	for _, f := range cfg.Fields {
		missing[f.ID] = f
	}

	s.attemptAPI(ctx, cfg.FarmID, missing, &result)
	s.fallThroughCache(missing, &result)
	s.fallThroughConfig(missing, &result)

	return result, nil
}

// attemptAPI performs the throttled, circuit-broken live fetch leg. Errors
// here are non-fatal — the fallback chain proceeds regardless.
func (s *Source) attemptAPI(ctx context.Context, farmID string, missing map[string]models.Field, result *ResolveResult) {
	if s.api == nil {
		result.APISkipped = "no sensor API configured"
		return
	}

	s.mu.Lock()
	elapsed := s.now().Sub(s.lastCall)
	if !s.lastCall.IsZero() && elapsed < s.cfg.ThrottleInterval {
		s.mu.Unlock()
		result.APISkipped = fmt.Sprintf("throttled: last call %s ago, interval %s", elapsed, s.cfg.ThrottleInterval)
		return
	}
	s.lastCall = s.now()
	s.mu.Unlock()

	result.APIAttempted = true

	timeout := s.cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := s.breaker.Execute(func() (interface{}, error) {
		return s.api.FetchReadings(fetchCtx, farmID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result.APIError = fmt.Errorf("%w: %s", models.ErrSensorUnavailable, err)
		} else if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			result.APIError = fmt.Errorf("%w: %s", models.ErrSensorTimeout, err)
		} else {
			result.APIError = fmt.Errorf("%w: %s", models.ErrSensorUnavailable, err)
		}
		return
	}

	readings, _ := raw.([]SensorReading)
	now := s.now()
	for _, sr := range readings {
		field, ok := missing[sr.FieldID]
		if !ok {
			continue
		}
		ts := now
		hasTimestamp := sr.Timestamp != nil
		if hasTimestamp {
			ts = *sr.Timestamp
		}
		inRange := sr.ValueMM >= models.MinWaterLevelMM && sr.ValueMM <= models.MaxWaterLevelMM

		reading := models.WaterLevelReading{
			FieldID:    field.ID,
			ValueMM:    sr.ValueMM,
			Timestamp:  ts,
			Source:     models.SourceAPI,
			SensorID:   sr.SensorID,
			Confidence: ConfidenceFromPayload(hasTimestamp, sr.SensorID != "", inRange),
		}
		if !inRange {
			reading.Quality = models.QualityInvalid
		}
		if err := s.store.Add(reading); err != nil {
			continue
		}
		if reading.Quality == models.QualityInvalid {
			continue
		}
		result.Readings[field.ID] = reading
		result.FromAPI = append(result.FromAPI, field.ID)
		delete(missing, field.ID)
	}
}

// fallThroughCache serves still-missing fields from the store's cache when
// the cached newest reading is within MaxCacheAgeHours, re-tagging it as
// cached and re-qualifying by age.
func (s *Source) fallThroughCache(missing map[string]models.Field, result *ResolveResult) {
	now := s.now()
	maxAge := s.cfg.MaxCacheAgeHours
	if maxAge <= 0 {
		maxAge = 24
	}

	for id, field := range missing {
		latest, ok := s.store.Latest(id)
		if !ok {
			continue
		}
		age := latest.AgeHours(now)
		if age > maxAge {
			continue
		}

		cached := models.WaterLevelReading{
			FieldID:    field.ID,
			ValueMM:    latest.ValueMM,
			Timestamp:  latest.Timestamp,
			Source:     models.SourceCached,
			Confidence: latest.Confidence,
			SensorID:   latest.SensorID,
		}
		if err := s.store.Add(cached); err != nil {
			continue
		}
		result.Readings[field.ID] = cached
		result.FromCache = append(result.FromCache, field.ID)
		delete(missing, id)
	}
}

// fallThroughConfig synthesizes a reading from the farm config's static
// default for any field still unresolved: the field's
// configured optimum depth, source=config, quality=fair, confidence=0.5.
func (s *Source) fallThroughConfig(missing map[string]models.Field, result *ResolveResult) {
	now := s.now()
	for id, field := range missing {
		reading := models.WaterLevelReading{
			FieldID:    field.ID,
			ValueMM:    field.WLOpt,
			Timestamp:  now,
			Source:     models.SourceConfig,
			Quality:    models.QualityFair,
			Confidence: 0.5,
		}
		if err := s.store.Add(reading); err != nil {
			result.Unresolved = append(result.Unresolved, id)
			continue
		}
		result.Readings[field.ID] = reading
		result.FromConfig = append(result.FromConfig, id)
	}
}
