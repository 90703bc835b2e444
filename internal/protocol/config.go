package protocol

import (
	"encoding/json"
	"strconv"
)

// Keys the generation service maps onto generator options. Anything else in a
// configuration is passed through untouched.
const (
	KeySeed       = "seed"
	KeyPopulation = "population"
	KeyGender     = "gender"
	KeyMinAge     = "minAge"
	KeyMaxAge     = "maxAge"
	KeyState      = "state"
	KeyCity       = "city"
)

// Configuration is the free-form request configuration object.
type Configuration map[string]any

// PopulationConfig returns {"population": n}.
func PopulationConfig(n int) Configuration {
	return Configuration{KeyPopulation: n}
}

// Clone returns a shallow copy.
func (c Configuration) Clone() Configuration {
	if c == nil {
		return nil
	}
	out := make(Configuration, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// With returns a copy of c with key set to value.
func (c Configuration) With(key string, value any) Configuration {
	out := c.Clone()
	if out == nil {
		out = Configuration{}
	}
	out[key] = value
	return out
}

// Population returns the population size, if set to a number.
func (c Configuration) Population() (int, bool) {
	n, ok := c.Int(KeyPopulation)
	return int(n), ok
}

// Seed returns the generation seed, if set.
func (c Configuration) Seed() (int64, bool) {
	return c.Int(KeySeed)
}

// String returns a string-valued key.
func (c Configuration) String(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok
}

// Int reads a numeric key. Values decoded from JSON arrive as float64 or
// json.Number; values built in Go may be any integer type. Numeric strings
// are accepted since form input often arrives that way.
func (c Configuration) Int(key string) (int64, bool) {
	switch v := c[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// DecodeConfiguration parses a configuration object. Numbers decode as
// json.Number so large seeds survive.
func DecodeConfiguration(raw []byte) (Configuration, error) {
	var cfg Configuration
	if err := unmarshalNumber(raw, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
