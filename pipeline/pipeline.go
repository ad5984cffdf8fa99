package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fls-bioinformatics-core/genomics-sub000/common/stats"
	"github.com/fls-bioinformatics-core/genomics-sub000/runner"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultMaxConcurrent = 4
	DefaultPollInterval  = 5 * time.Second
	DefaultStartTimeout  = 60 * time.Second
	DefaultStartPoll     = 250 * time.Millisecond
)

// Config tunes a Pipeline.
type Config struct {
	// MaxConcurrent is the hard ceiling on in-flight jobs. It is never
	// exceeded; a job blocked in its own start-detection wait still
	// counts against it.
	MaxConcurrent int

	// PollInterval is how long Run sleeps between ticks.
	PollInterval time.Duration

	// StartTimeout and StartPoll bound each job's start detection: how
	// long to wait for the running-or-log-file signal, and how often
	// to look.
	StartTimeout time.Duration
	StartPoll    time.Duration

	// OnJobDone is invoked once per job when it completes, in the tick
	// that observed the completion. Callbacks run inside the tick and
	// must not call back into the Pipeline.
	OnJobDone func(*Job)

	// OnGroupDone is invoked exactly once per group, in the tick where
	// the group's completed count reaches its queued count.
	OnGroupDone func(group string, jobs []*Job)
}

// WithDefaults returns a copy of c with zero fields filled in.
func (c Config) WithDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.StartPoll <= 0 {
		c.StartPoll = DefaultStartPoll
	}
	return c
}

// group aggregates related jobs for a single completion notification.
// queued counts every job ever queued into the group, including ones
// still pending, so the callback can only fire once the last of them
// completes.
type group struct {
	queued    int
	completed int
	fired     bool
	jobs      []*Job
}

// Pipeline feeds queued commands to a runner, never exceeding its
// concurrency cap, and reports completions through callbacks.
//
// The tick model is strictly pull-based. Each Update does, in order:
// refresh every in-flight job and collect completions; terminate jobs
// the backend has flagged errored; refill from the queue up to the
// cap. Run is just Update on a timer. A mutex serializes ticks with
// the accessors so a signal handler can TerminateAll safely, but no
// work ever happens outside somebody's tick.
type Pipeline struct {
	cfg    Config
	runner runner.Runner
	stat   stats.StatsReceiver

	mu        sync.Mutex
	pending   []*Job
	inflight  []*Job
	completed []*Job
	groups    map[string]*group
	jobGroups map[*Job]string
}

// New returns an empty pipeline feeding r. A nil stat is allowed.
func New(r runner.Runner, cfg Config, stat stats.StatsReceiver) *Pipeline {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Pipeline{
		cfg:       cfg.WithDefaults(),
		runner:    r,
		stat:      stat.Scope("pipeline"),
		groups:    map[string]*group{},
		jobGroups: map[*Job]string{},
	}
}

// QueueJob appends cmd to the pending queue and returns its handle.
// The pipeline owns the handle until it shows up in a callback or in
// Completed(); reading it before then races with the ticks.
func (p *Pipeline) QueueJob(cmd runner.Command) *Job {
	return p.QueueJobOn(nil, "", cmd)
}

// QueueGroupedJob appends cmd, counted toward the named group's
// completion callback.
func (p *Pipeline) QueueGroupedJob(grp string, cmd runner.Command) *Job {
	return p.QueueJobOn(nil, grp, cmd)
}

// QueueJobOn is QueueGroupedJob with an explicit runner for this job;
// a nil runner means the pipeline's default. Queueing is FIFO and has
// no priorities: jobs start strictly in queue order as slots free up.
func (p *Pipeline) QueueJobOn(r runner.Runner, grp string, cmd runner.Command) *Job {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r == nil {
		r = p.runner
	}
	job := NewJob(r, cmd)
	p.pending = append(p.pending, job)
	if grp != "" {
		g := p.groups[grp]
		if g == nil {
			g = &group{}
			p.groups[grp] = g
		}
		g.queued++
		g.jobs = append(g.jobs, job)
		p.jobGroups[job] = grp
	}
	p.stat.Counter("jobsQueued").Inc(1)
	log.WithFields(log.Fields{
		"name":  cmd.Name,
		"tag":   job.Tag(),
		"group": grp,
	}).Info("Queued job")
	return job
}

// Update runs one orchestration tick.
func (p *Pipeline) Update() {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 1. Refresh in-flight jobs; collect the ones that completed.
	still := make([]*Job, 0, len(p.inflight))
	for _, job := range p.inflight {
		job.Update()
		if job.State().IsDone() {
			p.finish(job)
		} else {
			still = append(still, job)
		}
	}
	p.inflight = still

	// 2. Terminate jobs the scheduler has flagged errored. They are
	// alive in its bookkeeping but will never run; the next tick
	// collects them as terminated.
	for _, job := range p.inflight {
		if job.ErrorState() {
			log.WithFields(log.Fields{
				"name":  job.Name(),
				"jobId": job.ID(),
			}).Warn("Job in scheduler error state, terminating")
			p.stat.Counter("jobsErrorState").Inc(1)
			job.Terminate()
		}
	}

	// 3. Refill from the queue, strictly FIFO, up to the cap.
	for len(p.pending) > 0 && len(p.inflight) < p.cfg.MaxConcurrent {
		job := p.pending[0]
		p.pending = p.pending[1:]

		p.stat.Counter("jobsStarted").Inc(1)
		if err := job.Start(p.cfg.StartTimeout, p.cfg.StartPoll); err != nil {
			// Already terminal; count it completed so the batch keeps
			// moving.
			p.finish(job)
			continue
		}
		p.inflight = append(p.inflight, job)
	}

	p.stat.Gauge("jobsInFlight").Update(int64(len(p.inflight)))
	p.stat.Gauge("jobsPending").Update(int64(len(p.pending)))
}

// finish moves a terminal job into completed and fires callbacks.
// Callers hold p.mu.
func (p *Pipeline) finish(job *Job) {
	p.completed = append(p.completed, job)
	p.stat.Counter("jobsCompleted").Inc(1)
	if job.Failed() {
		p.stat.Counter("jobsFailed").Inc(1)
	}
	if p.cfg.OnJobDone != nil {
		p.cfg.OnJobDone(job)
	}

	grp := p.jobGroups[job]
	if grp == "" {
		return
	}
	g := p.groups[grp]
	g.completed++
	if !g.fired && g.completed == g.queued {
		g.fired = true
		p.stat.Counter("groupsCompleted").Inc(1)
		log.WithFields(log.Fields{
			"group": grp,
			"jobs":  g.queued,
		}).Info("Group complete")
		if p.cfg.OnGroupDone != nil {
			p.cfg.OnGroupDone(grp, g.jobs)
		}
	}
}

// Run blocks, ticking on the poll interval, until the queue is empty
// and every in-flight job has completed.
func (p *Pipeline) Run() {
	for {
		p.Update()
		if p.Idle() {
			return
		}
		time.Sleep(p.cfg.PollInterval)
	}
}

// Idle reports whether there is nothing pending and nothing in flight.
func (p *Pipeline) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) == 0 && len(p.inflight) == 0
}

// TerminateAll drops the pending queue and terminates every in-flight
// job. Completion bookkeeping for the terminated jobs happens on the
// next tick; group callbacks for groups with dropped jobs never fire.
func (p *Pipeline) TerminateAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	log.WithFields(log.Fields{
		"pending":  len(p.pending),
		"inflight": len(p.inflight),
	}).Warn("Terminating all jobs")
	p.pending = nil
	for _, job := range p.inflight {
		job.Terminate()
	}
}

// Completed returns the jobs that have finished, in completion order.
func (p *Pipeline) Completed() []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Job, len(p.completed))
	copy(out, p.completed)
	return out
}

// Failed returns the completed jobs that can't be counted successes.
func (p *Pipeline) Failed() []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Job
	for _, job := range p.completed {
		if job.Failed() {
			out = append(out, job)
		}
	}
	return out
}

// Report renders a one-line-per-job summary of everything the
// pipeline has completed, for logs and notification mail.
func (p *Pipeline) Report() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%d jobs completed\n", len(p.completed))
	for _, job := range p.completed {
		code, known := job.ExitStatus()
		status := "?"
		if known {
			status = fmt.Sprintf("%d", code)
		}
		fmt.Fprintf(&b, "%-12s %-20.20s exit=%-3s log=%s\n",
			job.State(), job.Name(), status, job.LogPath())
	}
	return b.String()
}
