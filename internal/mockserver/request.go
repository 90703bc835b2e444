package mockserver

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/synthea-ws/genclient/internal/protocol"
)

// maxQueuedResults caps the results kept for GET /json; the oldest is dropped.
const maxQueuedResults = 1000

var completedFrame = []byte(`{"status":"Completed"}`)

// Sink receives the frames produced for a request.
type Sink interface {
	Deliver(frame []byte) bool
}

// Request is one generation job.
type Request struct {
	ID string

	registry *Registry
	log      zerolog.Logger

	mu         sync.Mutex
	cfg        protocol.Configuration
	opts       generatorOptions
	gen        *PatientGenerator
	sink       Sink
	started    bool
	stopped    bool
	finished   bool
	finishedAt time.Time
	queue      [][]byte
	all        [][]byte
	archive    []byte
}

// Configuration returns a copy of the effective configuration, seed included.
func (r *Request) Configuration() protocol.Configuration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Clone()
}

func (r *Request) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *Request) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Request) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Update merges cfg into the configuration. A new population applies to a
// running request from the next patient on.
func (r *Request) Update(cfg protocol.Configuration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := r.cfg.Clone()
	for k, v := range cfg {
		merged[k] = v
	}
	opts, err := parseOptions(merged, r.registry.now())
	if err != nil {
		return err
	}
	r.cfg = merged
	r.opts.population = opts.population
	return nil
}

// Start launches generation. It reports false if the request had already
// been started. ack, if set, runs before the first patient can be delivered.
func (r *Request) Start(ctx context.Context, ack func()) bool {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return false
	}
	r.started = true
	r.mu.Unlock()

	if ack != nil {
		ack()
	}
	go r.run(ctx)
	return true
}

// Stop asks a running request to end. It reports false if it was already
// stopping.
func (r *Request) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.stopped = true
	return true
}

// Drain returns and clears the queued results.
func (r *Request) Drain() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.queue
	r.queue = nil
	return out
}

// Archive returns the zip built on completion, or nil while generating.
func (r *Request) Archive() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.archive
}

func (r *Request) run(ctx context.Context) {
	for idx := 0; ; idx++ {
		r.mu.Lock()
		stopped, population := r.stopped, r.opts.population
		r.mu.Unlock()

		if stopped {
			r.log.Info().Msg("request stopped")
			r.registry.Remove(r.ID)
			return
		}
		if idx >= population {
			break
		}

		person, err := r.gen.Next()
		if err != nil {
			r.log.Error().Err(err).Msg("generation failed")
			r.registry.Remove(r.ID)
			return
		}
		r.mu.Lock()
		if len(r.queue) == maxQueuedResults {
			r.queue = r.queue[1:]
		}
		r.queue = append(r.queue, person)
		r.all = append(r.all, person)
		r.mu.Unlock()
		r.deliver(person)

		select {
		case <-ctx.Done():
			r.registry.Remove(r.ID)
			return
		case <-time.After(r.registry.interval):
		}
	}

	archive, err := r.buildArchive()
	if err != nil {
		r.log.Error().Err(err).Msg("building archive failed")
	}

	r.mu.Lock()
	r.finished = true
	r.finishedAt = r.registry.now()
	r.archive = archive
	n := len(r.all)
	r.mu.Unlock()

	r.log.Info().Int("patients", n).Msg("generation done")
	r.deliver(completedFrame)
}

func (r *Request) deliver(frame []byte) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink != nil && !sink.Deliver(frame) {
		r.log.Debug().Msg("frame not delivered")
	}
}

// buildArchive writes <id>-config.json and <id>.json.
func (r *Request) buildArchive() ([]byte, error) {
	r.mu.Lock()
	cfg := r.cfg.Clone()
	people := append([][]byte(nil), r.all...)
	r.mu.Unlock()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "encode configuration")
	}
	var results bytes.Buffer
	results.WriteString("[")
	for i, p := range people {
		if i > 0 {
			results.WriteString(",")
		}
		results.WriteString("\n")
		results.Write(p)
	}
	results.WriteString("\n]")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range []struct {
		name string
		data []byte
	}{
		{r.ID + "-config.json", cfgJSON},
		{r.ID + ".json", results.Bytes()},
	} {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, errors.Wrapf(err, "zip %s", f.name)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, errors.Wrapf(err, "zip %s", f.name)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "close zip")
	}
	return buf.Bytes(), nil
}

// Registry owns the live requests.
type Registry struct {
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	requests map[string]*Request
}

// NewRegistry creates a registry whose requests emit one patient per interval.
func NewRegistry(interval time.Duration, log zerolog.Logger) *Registry {
	return &Registry{
		interval: interval,
		log:      log,
		now:      time.Now,
		requests: make(map[string]*Request),
	}
}

// Create validates cfg, fills in the seed and registers a new request whose
// frames go to sink (nil for REST requests).
func (g *Registry) Create(cfg protocol.Configuration, sink Sink) (*Request, error) {
	now := g.now()
	opts, err := parseOptions(cfg, now)
	if err != nil {
		return nil, err
	}
	effective := cfg.Clone()
	if effective == nil {
		effective = protocol.Configuration{}
	}
	effective[protocol.KeySeed] = opts.seed

	r := &Request{
		ID:       uuid.NewString(),
		registry: g,
		cfg:      effective,
		opts:     opts,
		gen:      newPatientGenerator(opts, now),
		sink:     sink,
	}
	r.log = g.log.With().Str("uuid", r.ID).Logger()

	g.mu.Lock()
	g.requests[r.ID] = r
	g.mu.Unlock()

	r.log.Info().Int("population", opts.population).Int64("seed", opts.seed).Msg("request configured")
	return r, nil
}

func (g *Registry) Get(id string) (*Request, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.requests[id]
	return r, ok
}

func (g *Registry) Remove(id string) {
	g.mu.Lock()
	delete(g.requests, id)
	g.mu.Unlock()
}

// Detach drops sink from every request that delivers to it.
func (g *Registry) Detach(sink Sink) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, r := range g.requests {
		r.mu.Lock()
		if r.sink == sink {
			r.sink = nil
		}
		r.mu.Unlock()
	}
}

// StopAll stops every request, for shutdown.
func (g *Registry) StopAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, r := range g.requests {
		r.Stop()
	}
}

// Sweep removes requests that finished more than maxAge ago and returns how
// many it removed.
func (g *Registry) Sweep(maxAge time.Duration) int {
	cutoff := g.now().Add(-maxAge)
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for id, r := range g.requests {
		r.mu.Lock()
		expired := r.finished && r.finishedAt.Before(cutoff)
		r.mu.Unlock()
		if expired {
			delete(g.requests, id)
			n++
		}
	}
	return n
}

func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.requests)
}
