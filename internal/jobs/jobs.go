// Package jobs runs periodic background work (sync cycles, the nightly
// reminder resync) on a cron schedule.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrBadSchedule = errors.New("jobs: invalid schedule")

// Job receives a context that is cancelled when the runner stops.
type Job func(ctx context.Context)

type Runner struct {
	mu      sync.Mutex
	cron    *cron.Cron
	log     *zap.SugaredLogger
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(loc *time.Location, log *zap.SugaredLogger) *Runner {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log:     log,
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Every runs job at a fixed interval. Registering a name again replaces the
// earlier entry.
func (r *Runner) Every(name string, interval time.Duration, job Job) error {
	if interval < time.Second {
		return fmt.Errorf("%w: interval %s below one second", ErrBadSchedule, interval)
	}
	return r.add(name, fmt.Sprintf("@every %s", interval), job)
}

// Daily runs job once a day at hhmm ("HH:MM") in the runner's location.
func (r *Runner) Daily(name, hhmm string, job Job) error {
	spec, err := dailySpec(hhmm)
	if err != nil {
		return err
	}
	return r.add(name, spec, job)
}

func (r *Runner) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.entries[name]; ok {
		r.cron.Remove(id)
		delete(r.entries, name)
	}
}

// Next reports the next scheduled run of name. It is only known once the
// runner has started.
func (r *Runner) Next(name string) (time.Time, bool) {
	r.mu.Lock()
	id, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	next := r.cron.Entry(id).Next
	return next, !next.IsZero()
}

func (r *Runner) Start() {
	r.cron.Start()
	r.log.Infow("job runner started", "jobs", len(r.entries))
}

// Stop cancels running jobs and waits for them to return.
func (r *Runner) Stop() {
	r.cancel()
	<-r.cron.Stop().Done()
	r.log.Infow("job runner stopped")
}

func (r *Runner) add(name, spec string, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.entries[name]; ok {
		r.cron.Remove(id)
	}
	id, err := r.cron.AddFunc(spec, func() {
		started := time.Now()
		job(r.ctx)
		r.log.Debugw("job finished", "job", name, "took", time.Since(started))
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadSchedule, name, err)
	}
	r.entries[name] = id
	return nil
}

func dailySpec(hhmm string) (string, error) {
	parts := strings.Split(hhmm, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: %q is not HH:MM", ErrBadSchedule, hhmm)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("%w: hour in %q", ErrBadSchedule, hhmm)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("%w: minute in %q", ErrBadSchedule, hhmm)
	}
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}
