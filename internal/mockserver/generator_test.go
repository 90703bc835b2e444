package mockserver

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthea-ws/genclient/internal/protocol"
)

var refTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseOptionsDefaults(t *testing.T) {
	o, err := parseOptions(nil, refTime)
	require.NoError(t, err)
	assert.Equal(t, 1, o.population)
	assert.Equal(t, refTime.UnixNano(), o.seed)
	assert.Equal(t, defaultState, o.state)
	assert.Equal(t, defaultMaxAge, o.maxAge)
}

func TestParseOptionsFromDecodedJSON(t *testing.T) {
	cfg, err := protocol.DecodeConfiguration([]byte(
		`{"population":12,"seed":9007199254740993,"gender":"F","minAge":20,"maxAge":30,"state":"Virginia","city":"Norfolk","exporter.fhir":"true"}`))
	require.NoError(t, err)

	o, err := parseOptions(cfg, refTime)
	require.NoError(t, err)
	assert.Equal(t, 12, o.population)
	assert.Equal(t, int64(9007199254740993), o.seed)
	assert.Equal(t, "F", o.gender)
	assert.Equal(t, 20, o.minAge)
	assert.Equal(t, 30, o.maxAge)
	assert.Equal(t, "Virginia", o.state)
	assert.Equal(t, "Norfolk", o.city)
}

func TestParseOptionsRejects(t *testing.T) {
	tests := map[string]protocol.Configuration{
		"population not a number": {"population": "many"},
		"negative population":     {"population": -1},
		"inverted ages":           {"minAge": 50, "maxAge": 10},
		"gender":                  {"gender": "X"},
		"state not a string":      {"state": 7},
		"seed not a number":       {"seed": []any{1}},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseOptions(cfg, refTime)
			assert.True(t, errors.Is(err, errBadConfiguration), "got %v", err)
		})
	}
}

func TestGeneratorDeterministic(t *testing.T) {
	opts, err := parseOptions(protocol.Configuration{"seed": 42}, refTime)
	require.NoError(t, err)

	a, b := newPatientGenerator(opts, refTime), newPatientGenerator(opts, refTime)
	for i := 0; i < 5; i++ {
		pa, err := a.Next()
		require.NoError(t, err)
		pb, err := b.Next()
		require.NoError(t, err)
		assert.Equal(t, string(pa), string(pb))
	}

	first, err := newPatientGenerator(opts, refTime).Next()
	require.NoError(t, err)
	opts.seed = 43
	other, err := newPatientGenerator(opts, refTime).Next()
	require.NoError(t, err)
	assert.NotEqual(t, string(first), string(other))
}

func TestGeneratorHonoursFilters(t *testing.T) {
	opts, err := parseOptions(protocol.Configuration{
		"seed": 1, "gender": "F", "minAge": 30, "maxAge": 40, "state": "California", "city": "Fresno",
	}, refTime)
	require.NoError(t, err)
	g := newPatientGenerator(opts, refTime)

	for i := 0; i < 20; i++ {
		raw, err := g.Next()
		require.NoError(t, err)

		var b bundle
		require.NoError(t, json.Unmarshal(raw, &b))
		assert.Equal(t, "Bundle", b.ResourceType)
		require.Len(t, b.Entry, 1)
		p := b.Entry[0].Resource
		assert.Equal(t, "Patient", p.ResourceType)
		assert.Equal(t, "female", p.Gender)
		assert.Equal(t, "Fresno", p.Address[0].City)
		assert.Equal(t, "California", p.Address[0].State)

		birth, err := time.Parse("2006-01-02", p.BirthDate)
		require.NoError(t, err)
		age := refTime.Sub(birth).Hours() / 24 / 365.25
		assert.GreaterOrEqual(t, age, 29.9)
		assert.Less(t, age, 41.1)
	}
}
