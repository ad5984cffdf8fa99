// Package gridengine submits jobs to a Grid Engine scheduler through
// its command line tools: qsub to submit, qstat to poll, qacct for
// accounting and qdel to cancel. The backend registers itself under
// the name "gridengine"; the job id is the scheduler's numeric id.
//
// qstat output is cached for the configured poll interval so that a
// pipeline watching many jobs doesn't hammer the scheduler once per
// job per tick.
package gridengine

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/fls-bioinformatics-core/genomics-sub000/runner"
)

// How often ExitStatus re-asks qacct while waiting for the accounting
// record of a finished job to appear.
const acctPoll = 5 * time.Second

func init() {
	runner.Register("gridengine", func(cfg runner.Config) (runner.Runner, error) {
		return NewRunner(cfg)
	})
}

// Commands names the scheduler's client programs. Zero values mean the
// standard names, resolved through PATH; tests point these at a mock
// scheduler instead.
type Commands struct {
	Qsub  string
	Qstat string
	Qacct string
	Qdel  string
}

func (c Commands) withDefaults() Commands {
	if c.Qsub == "" {
		c.Qsub = "qsub"
	}
	if c.Qstat == "" {
		c.Qstat = "qstat"
	}
	if c.Qacct == "" {
		c.Qacct = "qacct"
	}
	if c.Qdel == "" {
		c.Qdel = "qdel"
	}
	return c
}

// geJob is what the backend remembers about a submitted job: enough to
// derive log paths and to cache the exit status once qacct has it.
type geJob struct {
	name     string
	dir      string
	exitCode int
	exited   bool
}

// Runner implements runner.Runner against a Grid Engine cluster.
type Runner struct {
	cfg  runner.Config
	cmds Commands

	mu   sync.Mutex
	jobs map[runner.JobID]*geJob

	pollMu   sync.Mutex
	lastPoll time.Time
	rows     map[runner.JobID]qstatRow
}

// NewRunner returns a cluster backend using the standard client
// program names.
func NewRunner(cfg runner.Config) (*Runner, error) {
	return NewRunnerWith(cfg, Commands{})
}

// NewRunnerWith is NewRunner with explicit client program names.
func NewRunnerWith(cfg runner.Config, cmds Commands) (*Runner, error) {
	cfg = cfg.WithDefaults()
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0777); err != nil {
			return nil, err
		}
	}
	return &Runner{
		cfg:  cfg,
		cmds: cmds.withDefaults(),
		jobs: map[runner.JobID]*geJob{},
	}, nil
}

func (r *Runner) Submit(cmd runner.Command) (runner.JobID, error) {
	if err := cmd.Validate(); err != nil {
		return "", err
	}

	args := []string{"-b", "y", "-V", "-N", cmd.Name, "-wd", cmd.Dir}
	if r.cfg.Queue != "" {
		args = append(args, "-q", r.cfg.Queue)
	}
	if r.cfg.LogDir != "" {
		args = append(args, "-o", r.cfg.LogDir, "-e", r.cfg.LogDir)
	}
	args = append(args, r.cfg.ExtraArgs...)
	args = append(args, cmd.Argv...)

	out, err := exec.Command(r.cmds.Qsub, args...).CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "qsub failed: %s", strings.TrimSpace(string(out)))
	}
	id, err := parseQsub(out)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.jobs[id] = &geJob{name: cmd.Name, dir: cmd.Dir}
	r.mu.Unlock()

	// Make the next status query see the new job rather than a cached
	// table from before it existed.
	r.pollMu.Lock()
	r.lastPoll = time.Time{}
	r.pollMu.Unlock()

	log.WithFields(log.Fields{
		"name":  cmd.Name,
		"jobId": id,
		"queue": r.cfg.Queue,
	}).Info("Submitted job to scheduler")
	return id, nil
}

// jobTable returns the scheduler's current job table, reusing the last
// poll's answer if it is younger than the poll interval. A failed poll
// keeps the stale table: a transiently unreachable scheduler shouldn't
// make every job look finished.
func (r *Runner) jobTable() map[runner.JobID]qstatRow {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()
	if r.rows != nil && time.Since(r.lastPoll) < r.cfg.PollInterval {
		return r.rows
	}
	out, err := exec.Command(r.cmds.Qstat).Output()
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("qstat failed, keeping stale job table")
		if r.rows == nil {
			r.rows = map[runner.JobID]qstatRow{}
		}
		return r.rows
	}
	r.rows = parseQstat(out)
	r.lastPoll = time.Now()
	return r.rows
}

func (r *Runner) IsRunning(id runner.JobID) bool {
	row, ok := r.jobTable()[id]
	return ok && row.active()
}

// ErrorState reports whether the scheduler has flagged the job, for
// example Eqw after a failed dispatch. Errored jobs still report
// IsRunning true until they are deleted.
func (r *Runner) ErrorState(id runner.JobID) bool {
	row, ok := r.jobTable()[id]
	return ok && row.errorState()
}

// QueueName reports the queue instance a dispatched job is running in.
func (r *Runner) QueueName(id runner.JobID) (string, bool) {
	row, ok := r.jobTable()[id]
	if !ok || row.queue == "" {
		return "", false
	}
	return row.queue, true
}

// Terminate asks the scheduler to delete the job. Deletion is
// asynchronous on a real cluster, so this reports whether the request
// was made, not whether the job is gone.
func (r *Runner) Terminate(id runner.JobID) bool {
	out, err := exec.Command(r.cmds.Qdel, string(id)).CombinedOutput()
	log.WithFields(log.Fields{
		"jobId":  id,
		"output": strings.TrimSpace(string(out)),
		"error":  err,
	}).Info("Requested job deletion")

	r.pollMu.Lock()
	r.lastPoll = time.Time{}
	r.pollMu.Unlock()
	return true
}

// ExitStatus fetches the job's exit code from the scheduler's
// accounting. Accounting records lag the job's finish, sometimes by
// a while, so this retries qacct until the record appears or
// AcctTimeout passes. Jobs the scheduler still owns report ok=false
// immediately.
func (r *Runner) ExitStatus(id runner.JobID) (int, bool) {
	r.mu.Lock()
	if j, ok := r.jobs[id]; ok && j.exited {
		code := j.exitCode
		r.mu.Unlock()
		return code, true
	}
	r.mu.Unlock()

	if r.IsRunning(id) {
		return 0, false
	}

	var code int
	op := func() error {
		out, err := exec.Command(r.cmds.Qacct, "-j", string(id)).CombinedOutput()
		if err != nil {
			return errors.Wrapf(err, "qacct -j %s: %s", id, strings.TrimSpace(string(out)))
		}
		v, ok := parseQacct(out)["exit_status"]
		if !ok {
			return errors.Errorf("no exit_status in qacct output for job %s", id)
		}
		code, err = strconv.Atoi(v)
		return err
	}
	err := backoff.Retry(op, backoff.WithMaxRetries(
		backoff.NewConstantBackOff(acctPoll), uint64(r.cfg.AcctTimeout/acctPoll)))
	if err != nil {
		log.WithFields(log.Fields{
			"jobId": id,
			"error": err,
		}).Warn("No accounting record for job")
		return 0, false
	}

	r.mu.Lock()
	if j, ok := r.jobs[id]; ok {
		j.exitCode = code
		j.exited = true
	}
	r.mu.Unlock()
	return code, true
}

func (r *Runner) LogPath(id runner.JobID) string {
	return r.logFile(id, "o")
}

func (r *Runner) ErrPath(id runner.JobID) string {
	return r.logFile(id, "e")
}

// logFile derives the scheduler-written log name <name>.<stream><id>.
// Grid Engine writes these itself; we only predict where.
func (r *Runner) logFile(id runner.JobID, stream string) string {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return ""
	}
	dir := r.cfg.LogDir
	if dir == "" {
		dir = j.dir
	}
	return filepath.Join(dir, j.name+"."+stream+string(id))
}
