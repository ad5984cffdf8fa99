// Package fake provides an in-memory runner for tests and dry runs.
// Nothing is executed: a submitted job is "running" from the moment
// Submit returns until the caller finishes or terminates it, so tests
// drive every transition explicitly and never have to sleep.
package fake

import (
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/fls-bioinformatics-core/genomics-sub000/runner"
)

func init() {
	runner.Register("fake", func(cfg runner.Config) (runner.Runner, error) {
		return NewRunnerWith(cfg), nil
	})
}

// Runner is an in-memory runner.Runner. It also implements the
// optional ErrorStater and QueueNamer interfaces so it can stand in
// for a cluster backend.
type Runner struct {
	cfg runner.Config

	mu         sync.Mutex
	nextID     int
	jobs       map[runner.JobID]*job
	submitErr  error
	running    int
	maxRunning int
}

type job struct {
	cmd      runner.Command
	running  bool
	errored  bool
	exitCode int
	hasExit  bool
}

// NewRunner returns a fake with the default config.
func NewRunner() *Runner {
	return NewRunnerWith(runner.Config{})
}

func NewRunnerWith(cfg runner.Config) *Runner {
	return &Runner{cfg: cfg.WithDefaults(), jobs: map[runner.JobID]*job{}}
}

// Submit accepts cmd and marks it running immediately. The job stays
// running until FinishJob or Terminate.
func (r *Runner) Submit(cmd runner.Command) (runner.JobID, error) {
	if err := cmd.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitErr != nil {
		err := r.submitErr
		r.submitErr = nil
		return "", err
	}
	r.nextID++
	id := runner.JobID(strconv.Itoa(r.nextID))
	r.jobs[id] = &job{cmd: cmd, running: true}
	r.running++
	if r.running > r.maxRunning {
		r.maxRunning = r.running
	}
	return id, nil
}

func (r *Runner) IsRunning(id runner.JobID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return ok && j.running
}

// Terminate stops a running job, recording the exit code a SIGTERM'd
// process would report.
func (r *Runner) Terminate(id runner.JobID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return false
	}
	if j.running {
		r.stop(j, 143)
	}
	return true
}

func (r *Runner) ExitStatus(id runner.JobID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || !j.hasExit {
		return 0, false
	}
	return j.exitCode, true
}

func (r *Runner) ErrorState(id runner.JobID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return ok && j.running && j.errored
}

func (r *Runner) QueueName(id runner.JobID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || !j.running || r.cfg.Queue == "" {
		return "", false
	}
	return r.cfg.Queue, true
}

// LogPath names the file a real backend would write stdout to. The
// fake never creates it.
func (r *Runner) LogPath(id runner.JobID) string { return r.logFile(id, "o") }

func (r *Runner) ErrPath(id runner.JobID) string { return r.logFile(id, "e") }

func (r *Runner) logFile(id runner.JobID, stream string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return ""
	}
	dir := r.cfg.LogDir
	if dir == "" {
		dir = j.cmd.Dir
	}
	return filepath.Join(dir, j.cmd.Name+"."+stream+string(id))
}

// FinishJob completes a running job with the given exit code.
func (r *Runner) FinishJob(id runner.JobID, code int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return errors.Errorf("fake: no job %q", id)
	}
	if j.running {
		r.stop(j, code)
	}
	return nil
}

// FinishAll completes every running job with the given exit code.
func (r *Runner) FinishAll(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.running {
			r.stop(j, code)
		}
	}
}

// SetErrorState flags a job as errored, the way a scheduler marks a
// job Eqw. The job still counts as running.
func (r *Runner) SetErrorState(id runner.JobID, errored bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.errored = errored
	}
}

// FailNextSubmit makes the next Submit call return err.
func (r *Runner) FailNextSubmit(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitErr = err
}

// RunningCount returns how many jobs are currently running.
func (r *Runner) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// MaxRunning returns the high-water mark of concurrently running
// jobs over the runner's lifetime.
func (r *Runner) MaxRunning() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxRunning
}

// Submitted returns how many jobs have ever been accepted.
func (r *Runner) Submitted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextID
}

// stop is the single finish path. Callers hold r.mu.
func (r *Runner) stop(j *job, code int) {
	j.running = false
	j.exitCode = code
	j.hasExit = true
	r.running--
}
