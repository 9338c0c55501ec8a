package revive

import (
	"encoding/json"
	"github.com/lefinal/royale-server/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestConfigUnmarshalJSON(t *testing.T) {
	config := DefaultConfig()
	err := json.Unmarshal([]byte(`{"bleed_out_duration":"45s","interaction_distance":4}`), &config)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, config.BleedOutDuration)
	assert.Equal(t, 5*time.Second, config.ReviveDuration, "absent duration should be kept")
	assert.Equal(t, 4.0, config.InteractionDistance)
	assert.Equal(t, 30.0, config.ReviveHeal, "absent field should be kept")
}

func TestConfigUnmarshalJSONInvalidDuration(t *testing.T) {
	config := DefaultConfig()
	err := json.Unmarshal([]byte(`{"revive_duration":"soon"}`), &config)
	require.Error(t, err)
	e, ok := errors.Cast(err)
	require.True(t, ok, "should be an Error")
	assert.Equal(t, errors.KindInvalidDuration, e.Kind)
}

func TestConfigMarshalJSON(t *testing.T) {
	raw, err := json.Marshal(DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"bleed_out_duration":"30s"`)
	assert.Contains(t, string(raw), `"revive_duration":"5s"`)
	assert.Contains(t, string(raw), `"interaction_distance":3`)
}
