// Package pipeline runs detector simulations on a bounded worker pool.
//
// A Pool accepts configurations with Submit and hands back completed units
// with Retrieve, in completion order. Collect and GetData wrap a whole batch
// of configurations and guarantee that every unit they submitted has been
// retrieved before they return, whatever happens downstream, so a later call
// never sees stale results.
package pipeline

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/plthiyagu/mlhep2018/detector"
)

// DefaultWorkers is the worker count used when PoolConfig.Workers is zero.
const DefaultWorkers = 4

var (
	// ErrNothingPending is returned by Retrieve when no submitted unit is outstanding.
	ErrNothingPending = errors.New("pipeline: no pending simulations")

	// ErrClosed is returned by Submit and Retrieve after Close.
	ErrClosed = errors.New("pipeline: pool closed")

	// ErrSimulator wraps failures raised inside a simulator.
	ErrSimulator = errors.New("pipeline: simulator failed")
)

// Simulator produces the images of one unit for a detector offset theta.
// Implementations must draw all randomness from rng.
type Simulator interface {
	Simulate(theta float64, rng *rand.Rand) ([]detector.Image, error)
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Workers int    `yaml:"workers"`
	Seed    uint64 `yaml:"seed"`
}

// Result is one completed unit: the submitted offset and its images.
type Result struct {
	Seq    uint64 // submission sequence number
	Theta  float64
	Images []detector.Image

	err error
}

// PoolStats counts units over the lifetime of a Pool.
type PoolStats struct {
	Submitted int
	Retrieved int
}

// Pool is a long-lived set of at most Workers concurrent simulations.
//
// Unit i draws its randomness from a PCG stream keyed by (Seed, i), so the
// images for a submission do not depend on which worker ran it. A Pool has a
// single owner: Submit, Retrieve and Close must not be called concurrently
// with each other.
type Pool struct {
	sim     Simulator
	seed    uint64
	workers *pool.Pool

	mu        sync.Mutex
	ready     *sync.Cond
	done      []Result
	submitted int
	retrieved int
	closed    bool
}

// NewPool starts a pool running sim.
func NewPool(sim Simulator, cfg PoolConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pool{
		sim:     sim,
		seed:    cfg.Seed,
		workers: pool.New().WithMaxGoroutines(workers),
	}
	p.ready = sync.NewCond(&p.mu)
	return p
}

// Submit enqueues one simulation of theta. It waits only while every worker
// is busy; there is no other limit on outstanding units.
func (p *Pool) Submit(theta float64) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	seq := uint64(p.submitted)
	p.submitted++
	p.mu.Unlock()

	p.workers.Go(func() {
		res := Result{Seq: seq, Theta: theta}
		defer func() {
			if r := recover(); r != nil {
				res.Images = nil
				res.err = fmt.Errorf("%w: panic: %v", ErrSimulator, r)
			}
			p.deliver(res)
		}()
		rng := rand.New(rand.NewPCG(p.seed, seq))
		res.Images, res.err = p.sim.Simulate(theta, rng)
		if res.err != nil {
			res.err = fmt.Errorf("%w: %w", ErrSimulator, res.err)
		}
	})
	return nil
}

func (p *Pool) deliver(res Result) {
	p.mu.Lock()
	p.done = append(p.done, res)
	p.mu.Unlock()
	p.ready.Signal()
}

// Retrieve blocks until a submitted unit completes and returns it. A unit
// whose simulation failed still counts as retrieved; its error is returned
// alongside it.
func (p *Pool) Retrieve() (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return Result{}, ErrClosed
	}
	if p.submitted == p.retrieved {
		return Result{}, ErrNothingPending
	}
	for len(p.done) == 0 {
		p.ready.Wait()
	}
	res := p.done[0]
	p.done[0] = Result{}
	p.done = p.done[1:]
	p.retrieved++

	if res.err != nil {
		return res, fmt.Errorf("theta=%g: %w", res.Theta, res.err)
	}
	return res, nil
}

// Pending returns the number of submitted but not yet retrieved units.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitted - p.retrieved
}

// Stats returns lifetime counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Submitted: p.submitted, Retrieved: p.retrieved}
}

// Close waits for running simulations and releases the workers. Closing
// twice is a no-op.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.workers.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if pending := p.submitted - p.retrieved; pending > 0 {
		logrus.Warnf("pipeline: pool closed with %d unretrieved units", pending)
	}
	p.done = nil
	return nil
}
