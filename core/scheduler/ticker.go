package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/openride/surgecast/infra/logger"
)

// Job is a named periodic task.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context)
}

// Runner drives independent periodic jobs, one goroutine per job, so a
// slow forecast refresh can never delay the pricing tick. Each job runs
// once immediately on start and then on its own ticker.
type Runner struct {
	log logger.Logger

	mu     sync.Mutex
	jobs   []Job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(log logger.Logger) *Runner {
	if log == nil {
		log = logger.New("scheduler")
	}
	return &Runner{log: log}
}

// Add registers a job. Must be called before Start.
func (r *Runner) Add(j Job) {
	r.mu.Lock()
	r.jobs = append(r.jobs, j)
	r.mu.Unlock()
}

// Start launches every registered job and returns immediately.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	jobs := r.jobs
	r.mu.Unlock()

	for _, j := range jobs {
		r.wg.Add(1)
		go r.loop(ctx, j)
	}
}

// Stop cancels all jobs and waits for them to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, j Job) {
	defer r.wg.Done()
	r.log.Infof("job %s every %s", j.Name, j.Every)
	j.Run(ctx)
	t := time.NewTicker(j.Every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Infof("job %s stopped", j.Name)
			return
		case <-t.C:
			j.Run(ctx)
		}
	}
}
