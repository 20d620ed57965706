package goindi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeDefNumberVector(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := DefNumberVector{
		DefMeta: DefMeta{
			VectorMeta: VectorMeta{Device: "Focuser", Name: "Position"},
			Label:      "Position",
			State:      PropertyStateOk,
			Timestamp:  &ts,
		},
		Perm: PropertyPermReadWrite,
		Elements: []NumberElement{
			{Name: "POS", Min: 0, Max: 100000, Step: 1, Value: floatPtr(4200)},
		},
	}

	b, err := Serialize(msg)
	require.NoError(t, err)
	assert.Contains(t, string(b), `device="Focuser"`)
	assert.Contains(t, string(b), `name="Position"`)
	assert.Contains(t, string(b), `perm="rw"`)
	assert.Contains(t, string(b), "4200")
	assert.Contains(t, string(b), ts.Format(ISOTimestampLayout))
}

func TestSerializeGetPropertiesWildcard(t *testing.T) {
	b, err := Serialize(GetProperties{Version: ProtocolVersion})
	require.NoError(t, err)
	assert.Contains(t, string(b), `version="1.7"`)
	assert.NotContains(t, string(b), "device=")
}

func TestSerializeUnknownMessage(t *testing.T) {
	_, err := Serialize(nil)
	assert.Error(t, err)
}
