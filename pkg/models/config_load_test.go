package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const farmDoc = `{
  "farm_id": "farm-1",
  "t_win_h": 20,
  "d_target_mm": 90,
  "pumps": [
    {"name": "P1", "q_rated_m3ph": 300, "efficiency": 0.8, "power_kw": 30, "electricity_price": 0.6}
  ],
  "segments": [
    {"id": "S1", "canal_id": "C1", "distance_rank": 1, "regulator_gate_ids": ["S1-G1"], "feed_by": ["P1"]}
  ],
  "gates": [
    {"id": "S1-G1", "type": "main-regulator", "q_max_m3ph": 500},
    {"id": "S1-G2", "type": "field-inlet", "q_max_m3ph": 100}
  ],
  "fields": [
    {"id": "S1-G2-F1", "sectionID": 101, "area_mu": 40, "segment_id": "S1",
     "inlet_G_id": "S1-G2", "distance_rank": 1, "wl_mm": 35, "wl_low": 20,
     "wl_opt": 60, "wl_high": 90, "has_drain_gate": true, "rel_to_regulator": 1},
    {"id": "S1-G2-F2", "sectionID": 102, "area_mu": 30, "segment_id": "S1",
     "inlet_G_id": "S1-G2", "distance_rank": 2, "wl_mm": null}
  ],
  "unknown_key": {"ignored": true}
}`

func TestDecodeFarmConfigAppliesDefaults(t *testing.T) {
	cfg, err := DecodeFarmConfig([]byte(farmDoc))
	require.NoError(t, err)

	require.Len(t, cfg.Fields, 2)

	full := cfg.Fields[0]
	assert.Equal(t, 101, full.SectionID)
	assert.Equal(t, 60.0, full.WLOpt)
	require.NotNil(t, full.WaterLevelMM)
	assert.Equal(t, 35.0, *full.WaterLevelMM)

	// Thresholds absent from the document get the documented defaults; a
	// null wl_mm stays nil so planning skips the field.
	sparse := cfg.Fields[1]
	assert.Equal(t, DefaultWLLow, sparse.WLLow)
	assert.Equal(t, DefaultWLOpt, sparse.WLOpt)
	assert.Equal(t, DefaultWLHigh, sparse.WLHigh)
	assert.Nil(t, sparse.WaterLevelMM)
}

func TestDecodeFarmConfigClassifiesSegmentKind(t *testing.T) {
	cfg, err := DecodeFarmConfig([]byte(farmDoc))
	require.NoError(t, err)
	require.Len(t, cfg.Segments, 1)
	assert.Equal(t, SegmentBranch, cfg.Segments[0].Kind)
}

func TestDecodeFarmConfigRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeFarmConfig([]byte("{not json"))
	require.ErrorIs(t, err, ErrInvalidFarmConfig)
}

func TestDecodeFarmConfigRejectsStructurallyInvalid(t *testing.T) {
	_, err := DecodeFarmConfig([]byte(`{"farm_id": "", "t_win_h": 0}`))
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.NotEmpty(t, verrs)
}

func TestLoadFarmConfigFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "farm.json")
	require.NoError(t, os.WriteFile(path, []byte(farmDoc), 0o644))

	cfg, err := LoadFarmConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "farm-1", cfg.FarmID)

	_, err = LoadFarmConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
