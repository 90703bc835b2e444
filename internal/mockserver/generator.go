package mockserver

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/synthea-ws/genclient/internal/protocol"
)

var errBadConfiguration = errors.New("could not process specified configuration")

const (
	defaultState  = "Massachusetts"
	defaultMaxAge = 140
)

var (
	givenMale   = []string{"James", "Robert", "Michael", "David", "Carlos", "Wei", "Omar", "Liam"}
	givenFemale = []string{"Mary", "Patricia", "Linda", "Aisha", "Mei", "Sofia", "Emma", "Grace"}
	families    = []string{"Smith", "Johnson", "Garcia", "Nguyen", "Okafor", "Kowalski", "Haddad", "Rossi", "Tanaka"}
	cities      = map[string][]string{
		"Massachusetts": {"Boston", "Worcester", "Springfield", "Lowell", "Cambridge"},
		"Virginia":      {"Richmond", "Norfolk", "Arlington", "Roanoke"},
		"California":    {"Los Angeles", "San Diego", "Fresno", "Oakland"},
	}
	fallbackCities = []string{"Springfield", "Franklin", "Greenville"}
)

// generatorOptions are the recognised keys of a request configuration.
type generatorOptions struct {
	seed       int64
	population int
	gender     string
	minAge     int
	maxAge     int
	state      string
	city       string
}

// parseOptions reads the generator keys from cfg. A key that is present with
// the wrong type is an error; unknown keys are ignored.
func parseOptions(cfg protocol.Configuration, now time.Time) (generatorOptions, error) {
	o := generatorOptions{
		seed:       now.UnixNano(),
		population: 1,
		maxAge:     defaultMaxAge,
		state:      defaultState,
	}

	ints := []struct {
		key string
		dst *int
	}{
		{protocol.KeyPopulation, &o.population},
		{protocol.KeyMinAge, &o.minAge},
		{protocol.KeyMaxAge, &o.maxAge},
	}
	for _, f := range ints {
		if _, present := cfg[f.key]; !present {
			continue
		}
		n, ok := cfg.Int(f.key)
		if !ok {
			return o, errors.Wrapf(errBadConfiguration, "%s is not a number", f.key)
		}
		*f.dst = int(n)
	}
	if _, present := cfg[protocol.KeySeed]; present {
		seed, ok := cfg.Seed()
		if !ok {
			return o, errors.Wrap(errBadConfiguration, "seed is not a number")
		}
		o.seed = seed
	}

	strs := []struct {
		key string
		dst *string
	}{
		{protocol.KeyGender, &o.gender},
		{protocol.KeyState, &o.state},
		{protocol.KeyCity, &o.city},
	}
	for _, f := range strs {
		if _, present := cfg[f.key]; !present {
			continue
		}
		s, ok := cfg.String(f.key)
		if !ok {
			return o, errors.Wrapf(errBadConfiguration, "%s is not a string", f.key)
		}
		*f.dst = s
	}

	switch {
	case o.population < 0:
		return o, errors.Wrap(errBadConfiguration, "population must not be negative")
	case o.minAge < 0 || o.maxAge < o.minAge:
		return o, errors.Wrapf(errBadConfiguration, "invalid age range %d-%d", o.minAge, o.maxAge)
	case o.gender != "" && o.gender != "M" && o.gender != "F":
		return o, errors.Wrapf(errBadConfiguration, "unknown gender %q", o.gender)
	}
	return o, nil
}

type bundle struct {
	ResourceType string  `json:"resourceType"`
	Type         string  `json:"type"`
	Entry        []entry `json:"entry"`
}

type entry struct {
	FullURL  string  `json:"fullUrl"`
	Resource patient `json:"resource"`
}

type patient struct {
	ResourceType string      `json:"resourceType"`
	ID           string      `json:"id"`
	Name         []humanName `json:"name"`
	Gender       string      `json:"gender"`
	BirthDate    string      `json:"birthDate"`
	Address      []address   `json:"address"`
}

type humanName struct {
	Use    string   `json:"use"`
	Family string   `json:"family"`
	Given  []string `json:"given"`
}

type address struct {
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

// PatientGenerator produces fake single-patient bundles. The same seed and
// reference time always give the same sequence.
type PatientGenerator struct {
	rng  *rand.Rand
	opts generatorOptions
	ref  time.Time
}

func newPatientGenerator(opts generatorOptions, ref time.Time) *PatientGenerator {
	return &PatientGenerator{
		rng:  rand.New(rand.NewSource(opts.seed)),
		opts: opts,
		ref:  ref,
	}
}

// Next returns the JSON text of the next patient bundle.
func (g *PatientGenerator) Next() ([]byte, error) {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		return nil, errors.Wrap(err, "patient id")
	}

	gender := g.opts.gender
	if gender == "" {
		gender = []string{"M", "F"}[g.rng.Intn(2)]
	}
	given := givenMale
	fhirGender := "male"
	if gender == "F" {
		given = givenFemale
		fhirGender = "female"
	}

	age := g.opts.minAge + g.rng.Intn(g.opts.maxAge-g.opts.minAge+1)
	birth := g.ref.AddDate(-age, 0, -g.rng.Intn(365))

	city := g.opts.city
	if city == "" {
		pool, ok := cities[g.opts.state]
		if !ok {
			pool = fallbackCities
		}
		city = pool[g.rng.Intn(len(pool))]
	}

	p := patient{
		ResourceType: "Patient",
		ID:           id.String(),
		Name: []humanName{{
			Use:    "official",
			Family: families[g.rng.Intn(len(families))],
			Given:  []string{given[g.rng.Intn(len(given))]},
		}},
		Gender:    fhirGender,
		BirthDate: birth.Format("2006-01-02"),
		Address:   []address{{City: city, State: g.opts.state, Country: "US"}},
	}
	b := bundle{
		ResourceType: "Bundle",
		Type:         "collection",
		Entry:        []entry{{FullURL: fmt.Sprintf("urn:uuid:%s", p.ID), Resource: p}},
	}
	return json.Marshal(b)
}
