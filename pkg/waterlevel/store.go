// Package waterlevel implements the per-field water-level history store
// and the fallback-chain source that resolves the latest readings for a
// farm.
package waterlevel

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/paddyworks/irrigate/pkg/models"
)

// Store maintains field_id -> FieldHistory. Reads and writes are guarded
// by a single mutex, released around I/O.
type Store struct {
	mu         sync.RWMutex
	histories  map[string]*models.FieldHistory
	thresholds QualityThresholds
	now        func() time.Time
}

// NewStore creates an empty water-level store.
func NewStore() *Store {
	return &Store{
		histories:  make(map[string]*models.FieldHistory),
		thresholds: DefaultQualityThresholds(),
		now:        time.Now,
	}
}

// SetQualityThresholds overrides the default age thresholds used to grade
// admitted readings.
func (s *Store) SetQualityThresholds(th QualityThresholds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds = th
}

// Add validates and admits a reading into the field's history. Readings
// outside the 0-1000mm band, or already tagged invalid, are graded
// QualityInvalid and still stored (so history shows the rejected sample)
// but Latest/InWindow will never surface them: a reading with invalid
// quality or an out-of-bounds value is never admitted to planning.
func (s *Store) Add(r models.WaterLevelReading) error {
	if math.IsNaN(r.ValueMM) {
		return fmt.Errorf("%w: value is NaN", models.ErrReadingOutOfBounds)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !r.InBounds() {
		r.Quality = models.QualityInvalid
	} else if r.Quality == "" {
		r.Quality = DeriveQuality(r.Source, r.AgeHours(now), s.thresholds)
	}

	h, ok := s.histories[r.FieldID]
	if !ok {
		h = models.NewFieldHistory(r.FieldID)
		s.histories[r.FieldID] = h
	}
	h.Add(r)
	return nil
}

// Latest returns the newest admitted reading for a field, if any.
func (s *Store) Latest(fieldID string) (models.WaterLevelReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.histories[fieldID]
	if !ok {
		return models.WaterLevelReading{}, false
	}
	return h.Latest()
}

// Trend returns the linear slope (mm/h) of valid readings within the last
// windowH hours for a field. Returns false with fewer than two valid
// samples or a zero time-span.
func (s *Store) Trend(fieldID string, windowH float64) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.histories[fieldID]
	if !ok {
		return 0, false
	}

	readings := h.InWindow(s.now(), windowH)
	if len(readings) < 2 {
		return 0, false
	}

	sorted := make([]models.WaterLevelReading, len(readings))
	copy(sorted, readings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	t0 := sorted[0].Timestamp
	spanH := sorted[len(sorted)-1].Timestamp.Sub(t0).Hours()
	if spanH <= 0 {
		return 0, false
	}

	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(sorted))
	for _, r := range sorted {
		x := r.Timestamp.Sub(t0).Hours()
		y := r.ValueMM
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	slope := (n*sumXY - sumX*sumY) / denom
	return slope, true
}

// persistFile mirrors the on-disk cache format: field histories plus a
// global last-updated stamp. The format is an implementation detail, not
// an inter-process interface.
type persistFile struct {
	Histories   map[string]*models.FieldHistory `json:"histories"`
	LastUpdated time.Time                       `json:"last_updated"`
}

// Persist writes the store's contents to a single JSON file.
func (s *Store) Persist(path string) error {
	s.mu.RLock()
	var lastUpdated time.Time
	for _, h := range s.histories {
		if h.LastUpdated.After(lastUpdated) {
			lastUpdated = h.LastUpdated
		}
	}

	data, err := json.MarshalIndent(persistFile{Histories: s.histories, LastUpdated: lastUpdated}, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal water-level cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write water-level cache %s: %w", path, err)
	}
	return nil
}

// Load reads a previously persisted store from disk. A missing file is not
// an error — the store starts empty, matching "survives restart but is not
// authoritative."
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read water-level cache %s: %w", path, err)
	}

	var pf persistFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("decode water-level cache %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pf.Histories == nil {
		pf.Histories = make(map[string]*models.FieldHistory)
	}
	s.histories = pf.Histories
	return nil
}

// CleanupOldData evicts readings older than horizonHours from every
// tracked field's history, independent of the per-history 100-reading
// cap.
func (s *Store) CleanupOldData(horizonHours float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(time.Duration(-horizonHours * float64(time.Hour)))
	evicted := 0
	for _, h := range s.histories {
		kept := h.Readings[:0:0]
		for _, r := range h.Readings {
			if r.Timestamp.Before(cutoff) {
				evicted++
				continue
			}
			kept = append(kept, r)
		}
		h.Readings = kept
	}
	return evicted
}

// FieldIDFormat selects how Summary identifies fields in its per-field
// detail map.
type FieldIDFormat string

const (
	FieldIDNumeric FieldIDFormat = "numeric"
	FieldIDSGF     FieldIDFormat = "SGF"
)

// FieldDetail is one field's entry in a Summary response.
type FieldDetail struct {
	FieldID     string                `json:"field_id"`
	ValueMM     float64               `json:"value_mm"`
	AgeHours    float64               `json:"age_hours"`
	Quality     models.ReadingQuality `json:"quality"`
	Source      models.ReadingSource  `json:"source"`
	Confidence  float64               `json:"confidence"`
	SampleCount int                   `json:"sample_count"`
}

// Summary reports field coverage, reading quality/source distribution, and
// per-field detail. When fieldIDs is empty, every tracked
// field is included. idFormat only affects the FieldID label attached to
// each FieldDetail — numeric callers must supply a section-id lookup via
// sectionIDs; when absent the SGF id is used regardless of idFormat.
func (s *Store) Summary(fieldIDs []string, idFormat FieldIDFormat, sectionIDs map[string]int) SummaryResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := fieldIDs
	if len(want) == 0 {
		for id := range s.histories {
			want = append(want, id)
		}
		sort.Strings(want)
	}

	res := SummaryResult{
		QualityDistribution: map[models.ReadingQuality]int{},
		SourceDistribution:  map[models.ReadingSource]int{},
		FieldsRequested:     len(want),
	}

	for _, id := range want {
		h, ok := s.histories[id]
		if !ok || len(h.Readings) == 0 {
			res.FieldsWithoutData++
			continue
		}
		latest, hasLatest := h.Latest()
		if !hasLatest {
			res.FieldsWithoutData++
			continue
		}
		res.FieldsWithData++
		res.QualityDistribution[latest.Quality]++
		res.SourceDistribution[latest.Source]++

		label := id
		if idFormat == FieldIDNumeric {
			if sectionID, ok := sectionIDs[id]; ok {
				label = fmt.Sprintf("%d", sectionID)
			}
		}

		res.Fields = append(res.Fields, FieldDetail{
			FieldID:     label,
			ValueMM:     latest.ValueMM,
			AgeHours:    latest.AgeHours(s.now()),
			Quality:     latest.Quality,
			Source:      latest.Source,
			Confidence:  latest.Confidence,
			SampleCount: len(h.Readings),
		})
	}

	if res.FieldsRequested > 0 {
		res.CoverageRate = float64(res.FieldsWithData) / float64(res.FieldsRequested)
	}
	return res
}

// SummaryResult is the return value of Store.Summary.
type SummaryResult struct {
	FieldsRequested     int
	FieldsWithData      int
	FieldsWithoutData   int
	CoverageRate        float64
	QualityDistribution map[models.ReadingQuality]int
	SourceDistribution  map[models.ReadingSource]int
	Fields              []FieldDetail
}

// QualitySummary is a farm-wide tally of reading quality across every
// tracked field, independent of any request's field_ids filter.
type QualitySummary struct {
	TotalFields int
	ByQuality   map[models.ReadingQuality]int
}

// GetQualitySummary tallies the latest reading's quality across every
// tracked field.
func (s *Store) GetQualitySummary() QualitySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	qs := QualitySummary{ByQuality: map[models.ReadingQuality]int{}}
	for _, h := range s.histories {
		latest, ok := h.Latest()
		if !ok {
			continue
		}
		qs.TotalFields++
		qs.ByQuality[latest.Quality]++
	}
	return qs
}
