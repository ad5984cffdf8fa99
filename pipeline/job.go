// Package pipeline runs batches of jobs through a runner backend: a
// FIFO queue, a hard cap on concurrently running jobs, and completion
// callbacks per job and per caller-assigned group.
//
// The whole package is deliberately pull-based. Nothing happens
// between ticks: state is derived from the backend when Update is
// called and at no other time, because the backends themselves (a
// batch scheduler reached through CLI tools) can only be polled.
package pipeline

import (
	"os"
	"time"

	uuid "github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/fls-bioinformatics-core/genomics-sub000/runner"
)

// State is a job handle's derived lifecycle state. Transitions are
// monotonic: WAITING -> SUBMITTED -> RUNNING -> FINISHED, with early
// exits to TERMINATED for submission failure, start timeout and
// explicit termination.
type State int

const (
	WAITING State = iota
	SUBMITTED
	RUNNING
	FINISHED
	TERMINATED
)

func (s State) IsDone() bool {
	return s == FINISHED || s == TERMINATED
}

func (s State) String() string {
	switch s {
	case WAITING:
		return "WAITING"
	case SUBMITTED:
		return "SUBMITTED"
	case RUNNING:
		return "RUNNING"
	case FINISHED:
		return "FINISHED"
	case TERMINATED:
		return "TERMINATED"
	}
	return "UNKNOWN"
}

// Job binds one command to one runner and tracks it from submission to
// completion. A Job is not safe for concurrent use: the pipeline (or
// whoever owns it) drives Start, Update and Terminate from a single
// goroutine, matching the pull-based model of the backends.
type Job struct {
	runner runner.Runner
	cmd    runner.Command

	// tag identifies the handle itself in logs. The runner-assigned id
	// changes on restart; the tag doesn't.
	tag string

	id        runner.JobID
	state     State
	queue     string
	startTime time.Time
	endTime   time.Time
	exitCode  int
	hasExit   bool
}

// NewJob returns an unstarted handle for cmd on r.
func NewJob(r runner.Runner, cmd runner.Command) *Job {
	tag := ""
	if u, err := uuid.NewV4(); err == nil {
		tag = u.String()[:8]
	}
	return &Job{runner: r, cmd: cmd, tag: tag, state: WAITING}
}

// Start submits the job, then blocks until it has verifiably started:
// either the runner reports it running, or its log file has appeared
// on disk. Either signal suffices; a fast job can finish (and stop
// being "running") before we ever catch it, but its log file proves it
// started. On timeout the job is terminated and marked failed.
//
// A submission failure is terminal but deliberately not fatal: the
// error is returned so the caller can mark this job failed and carry
// on with the rest of the batch.
func (j *Job) Start(timeout, poll time.Duration) error {
	if j.state != WAITING {
		return errors.Errorf("job %q already started", j.cmd.Name)
	}

	id, err := j.runner.Submit(j.cmd)
	if err != nil {
		j.state = TERMINATED
		j.endTime = time.Now()
		log.WithFields(log.Fields{
			"name":  j.cmd.Name,
			"tag":   j.tag,
			"error": err,
		}).Error("Job submission failed")
		return err
	}
	j.id = id
	j.state = SUBMITTED
	j.startTime = time.Now()
	log.WithFields(log.Fields{
		"name":  j.cmd.Name,
		"tag":   j.tag,
		"jobId": id,
	}).Info("Job submitted")

	deadline := time.Now().Add(timeout)
	for {
		if j.runner.IsRunning(id) {
			j.state = RUNNING
			return nil
		}
		if fileExists(j.runner.LogPath(id)) {
			j.state = RUNNING
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(poll)
	}

	log.WithFields(log.Fields{
		"name":    j.cmd.Name,
		"tag":     j.tag,
		"jobId":   id,
		"timeout": timeout,
	}).Error("Job not started within timeout, terminating")
	j.runner.Terminate(id)
	j.state = TERMINATED
	j.endTime = time.Now()
	return errors.Errorf("job %q did not start within %v", j.cmd.Name, timeout)
}

// Update derives the handle's state from the runner. It is the single
// place FINISHED and the exit status come from; no status read from
// the handle is trustworthy until Update has run.
func (j *Job) Update() {
	if j.state == WAITING || j.state.IsDone() {
		return
	}
	if j.runner.IsRunning(j.id) {
		j.state = RUNNING
		if q, ok := runner.QueueName(j.runner, j.id); ok {
			j.queue = q
		}
		return
	}

	// The runner has let go of the job, so it finished. The exit
	// status may lag (cluster accounting flush); unknown stays unknown
	// rather than being coerced to zero.
	j.exitCode, j.hasExit = j.runner.ExitStatus(j.id)
	j.state = FINISHED
	j.endTime = time.Now()
	log.WithFields(log.Fields{
		"name":     j.cmd.Name,
		"tag":      j.tag,
		"jobId":    j.id,
		"exitCode": j.exitCode,
		"known":    j.hasExit,
	}).Info("Job finished")
}

// ErrorState reports whether the backend has flagged the job errored
// (alive in its bookkeeping, but never going to run). Backends without
// the concept always report false.
func (j *Job) ErrorState() bool {
	if j.state != SUBMITTED && j.state != RUNNING {
		return false
	}
	return runner.ErrorState(j.runner, j.id)
}

// Terminate forcibly stops the job and marks it TERMINATED. The exit
// status is collected from the runner when it is already available,
// but TERMINATED jobs count as failed regardless.
func (j *Job) Terminate() bool {
	if j.state != SUBMITTED && j.state != RUNNING {
		return false
	}
	ok := j.runner.Terminate(j.id)
	j.state = TERMINATED
	j.endTime = time.Now()
	if code, known := j.runner.ExitStatus(j.id); known {
		j.exitCode, j.hasExit = code, true
	}
	log.WithFields(log.Fields{
		"name":  j.cmd.Name,
		"tag":   j.tag,
		"jobId": j.id,
	}).Info("Job terminated")
	return ok
}

// Restart terminates the job if the runner still holds it, waits for
// the runner to let go, then resets the handle and starts over. The
// new submission gets a brand-new job id.
func (j *Job) Restart(timeout, poll time.Duration) error {
	if j.state == SUBMITTED || j.state == RUNNING {
		j.runner.Terminate(j.id)
		deadline := time.Now().Add(timeout)
		for j.runner.IsRunning(j.id) {
			if time.Now().After(deadline) {
				return errors.Errorf("job %q (id %s) would not stop for restart", j.cmd.Name, j.id)
			}
			time.Sleep(poll)
		}
	}

	log.WithFields(log.Fields{
		"name":  j.cmd.Name,
		"tag":   j.tag,
		"oldId": j.id,
	}).Info("Restarting job")
	j.id = ""
	j.state = WAITING
	j.queue = ""
	j.startTime = time.Time{}
	j.endTime = time.Time{}
	j.exitCode = 0
	j.hasExit = false
	return j.Start(timeout, poll)
}

// ID returns the runner-assigned job id, empty until submitted.
func (j *Job) ID() runner.JobID { return j.id }

// Tag returns the handle's stable identity; unlike ID it survives
// restarts.
func (j *Job) Tag() string { return j.tag }

func (j *Job) Name() string { return j.cmd.Name }

func (j *Job) Command() runner.Command { return j.cmd }

func (j *Job) State() State { return j.state }

// Queue is the scheduler queue the job was seen running in, when the
// backend reports one.
func (j *Job) Queue() string { return j.queue }

// ExitStatus returns the exit code and whether it is actually known.
func (j *Job) ExitStatus() (int, bool) { return j.exitCode, j.hasExit }

func (j *Job) LogPath() string {
	if j.id == "" {
		return ""
	}
	return j.runner.LogPath(j.id)
}

func (j *Job) ErrPath() string {
	if j.id == "" {
		return ""
	}
	return j.runner.ErrPath(j.id)
}

// StartedAt returns when the job was submitted; zero if it never was.
func (j *Job) StartedAt() time.Time { return j.startTime }

// FinishedAt returns when the job was seen to finish; zero until then.
func (j *Job) FinishedAt() time.Time { return j.endTime }

// Failed reports whether the job cannot be counted a success: it was
// terminated, it never started, or it finished with a non-zero or
// unknown exit status.
func (j *Job) Failed() bool {
	switch j.state {
	case TERMINATED:
		return true
	case FINISHED:
		return !j.hasExit || j.exitCode != 0
	}
	return false
}

// Succeeded reports a finished job with a known zero exit status.
func (j *Job) Succeeded() bool {
	return j.state == FINISHED && j.hasExit && j.exitCode == 0
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
