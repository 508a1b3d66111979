// Package worker runs jobs on a fixed set of lanes. Jobs sharing a key always
// land on the same lane, so they execute one at a time in submission order.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"

	"personabot/internal/metrics"
)

type Job struct {
	// Key selects the lane, usually the chat id.
	Key string
	Run func(ctx context.Context) error
}

type Config struct {
	Lanes     int
	QueueSize int
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

type Pool struct {
	lanes   []chan Job
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func New(cfg Config) *Pool {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.Lanes < 1 {
		cfg.Lanes = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	lanes := make([]chan Job, cfg.Lanes)
	for i := range lanes {
		lanes[i] = make(chan Job, cfg.QueueSize)
	}
	return &Pool{lanes: lanes, logger: cfg.Logger, metrics: m}
}

// Submit queues job on its lane, blocking while the lane is full.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %q has no run func", job.Key)
	}
	lane := p.lanes[p.laneFor(job.Key)]
	select {
	case lane <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) laneFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.lanes)))
}

// Start runs every lane until ctx is cancelled. Jobs still queued at that
// point are dropped.
func (p *Pool) Start(ctx context.Context) error {
	wg := sync.WaitGroup{}
	for i, lane := range p.lanes {
		wg.Add(1)
		go func(slot int, jobs <-chan Job) {
			defer wg.Done()
			p.consumeLoop(ctx, slot, jobs)
		}(i, lane)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (p *Pool) consumeLoop(ctx context.Context, slot int, jobs <-chan Job) {
	log := p.logger.With().Int("slot", slot).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-jobs:
			if err := p.run(ctx, job); err != nil {
				p.metrics.FailedJobs.Inc()
				log.Error().Err(err).Str("key", job.Key).Msg("job failed")
				continue
			}
			p.metrics.ProcessedJobs.Inc()
		}
	}
}

func (p *Pool) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}
