package mockge

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	log "github.com/sirupsen/logrus"
)

// SubmitRequest is a parsed submission: what qsub was asked to run and
// where.
type SubmitRequest struct {
	Name   string
	Dir    string
	Queue  string
	OutDir string
	ErrDir string
	Argv   []string
}

// Scheduler drives the persisted job table. Every public operation
// ticks the whole table first, so callers always observe a view no
// staler than their own call. There is no background goroutine; all
// state changes happen inside these calls.
type Scheduler struct {
	store *Store
	cfg   Config
	dir   string

	now func() time.Time // stubbed in tests
}

// NewScheduler wires a scheduler to its store. dir is the data
// directory; wrapper scripts and exit files live under dir/scratch.
func NewScheduler(store *Store, dir string) (*Scheduler, error) {
	cfg, err := store.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(ScratchDir(dir), 0777); err != nil {
		return nil, err
	}
	return &Scheduler{store: store, cfg: cfg, dir: dir, now: time.Now}, nil
}

// Config returns the scheduler's loaded tuning.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// ScratchDir is where wrapper scripts and exit sentinel files live
// within a data directory.
func ScratchDir(dir string) string {
	return filepath.Join(dir, "scratch")
}

// WrapperFile is the path of the wrapper script the scheduler writes
// for a job id under a data directory.
func WrapperFile(dir string, id int64) string {
	return filepath.Join(ScratchDir(dir), fmt.Sprintf("job%d.sh", id))
}

func (s *Scheduler) wrapperFile(id int64) string {
	return WrapperFile(s.dir, id)
}

func (s *Scheduler) exitFile(id int64) string {
	return filepath.Join(ScratchDir(s.dir), fmt.Sprintf("job%d.exit", id))
}

// Submit ticks, then records the job. It enters the table as t:
// accepted but invisible to status queries until the submission delay
// has passed.
func (s *Scheduler) Submit(req SubmitRequest) (JobRecord, error) {
	if err := s.Tick(); err != nil {
		return JobRecord{}, err
	}

	queue := req.Queue
	if queue == "" {
		queue = s.cfg.Queue
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "nobody"
	}
	j := JobRecord{
		Name:     req.Name,
		User:     user,
		State:    StateSubmitted,
		Command:  shellquote.Join(req.Argv...),
		Dir:      req.Dir,
		Queue:    queue,
		OutDir:   req.OutDir,
		ErrDir:   req.ErrDir,
		QsubTime: s.now(),
	}
	if err := s.store.AddJob(&j); err != nil {
		return JobRecord{}, err
	}
	log.WithFields(log.Fields{
		"jobId":   j.ID,
		"name":    j.Name,
		"command": j.Command,
	}).Info("Accepted job")
	return j, nil
}

// Table ticks, then returns the rows a status query shows: jobs the
// scheduler owns and admits to owning. Jobs still inside the
// submission delay window (t) and finalized jobs (c) are omitted.
func (s *Scheduler) Table() ([]JobRecord, error) {
	if err := s.Tick(); err != nil {
		return nil, err
	}
	jobs, err := s.store.Jobs()
	if err != nil {
		return nil, err
	}
	var visible []JobRecord
	for _, j := range jobs {
		switch j.State {
		case StateQueued, StateRunning, StateError, StateDeleted:
			visible = append(visible, j)
		}
	}
	return visible, nil
}

// Accounting ticks, then returns the record of a finished job. It
// reports ErrNotFound for unknown ids, unfinished jobs, jobs that
// never ran, and finished jobs whose accounting hasn't flushed yet,
// exactly as a real scheduler's accounting query would.
func (s *Scheduler) Accounting(id int64) (JobRecord, error) {
	if err := s.Tick(); err != nil {
		return JobRecord{}, err
	}
	j, err := s.store.GetJob(id)
	if err != nil {
		return JobRecord{}, err
	}
	if j.State != StateDone {
		return JobRecord{}, ErrNotFound
	}
	// Accounting only ever sees jobs that dispatched. One deleted
	// straight out of the waiting states leaves no record.
	if j.StartTime.IsZero() {
		return JobRecord{}, ErrNotFound
	}
	if s.now().Sub(j.EndTime) < s.cfg.QacctDelay {
		return JobRecord{}, ErrNotFound
	}
	return j, nil
}

// Delete ticks, then registers each id for deletion. Deletion is
// asynchronous: the job is marked d here and the next tick kills its
// process and finalizes it. Already-finished and unknown ids are
// reported back in missing.
func (s *Scheduler) Delete(ids []int64) (deleted []JobRecord, missing []int64, err error) {
	if err := s.Tick(); err != nil {
		return nil, nil, err
	}
	for _, id := range ids {
		j, err := s.store.GetJob(id)
		if err != nil || j.State == StateDone || j.State == StateDeleted {
			missing = append(missing, id)
			continue
		}
		j.State = StateDeleted
		if err := s.store.UpdateJob(j); err != nil {
			return deleted, missing, err
		}
		log.WithFields(log.Fields{
			"jobId": j.ID,
		}).Info("Registered job for deletion")
		deleted = append(deleted, j)
	}
	return deleted, missing, nil
}

// Tick advances the whole table one step:
//
//  1. jobs past the submission delay become visible (t to qw)
//  2. running jobs' processes are probed; exited ones finalize to c
//  3. waiting jobs are dispatched in id order while slots remain,
//     with spawn failures going to Eqw
//  4. deletion-registered jobs are killed, their scratch files
//     removed, and finalized to c
func (s *Scheduler) Tick() error {
	now := s.now()
	jobs, err := s.store.Jobs()
	if err != nil {
		return err
	}

	for i := range jobs {
		j := &jobs[i]
		if j.State == StateSubmitted && now.Sub(j.QsubTime) >= s.cfg.QsubDelay {
			j.State = StateQueued
			if err := s.store.UpdateJob(*j); err != nil {
				return err
			}
		}
	}

	running := 0
	for i := range jobs {
		j := &jobs[i]
		if j.State != StateRunning {
			continue
		}
		code, done := s.probe(j)
		if !done {
			running++
			continue
		}
		j.State = StateDone
		j.EndTime = now
		j.ExitCode = code
		s.removeScratch(j.ID)
		if err := s.store.UpdateJob(*j); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"jobId":    j.ID,
			"exitCode": code,
		}).Info("Job finished")
	}

	for i := range jobs {
		j := &jobs[i]
		if j.State != StateQueued {
			continue
		}
		if running >= s.cfg.MaxSlots {
			break
		}
		if err := s.spawn(j); err != nil {
			j.State = StateError
			log.WithFields(log.Fields{
				"jobId": j.ID,
				"error": err,
			}).Error("Failed to spawn job process")
		} else {
			j.State = StateRunning
			j.StartTime = now
			running++
		}
		if err := s.store.UpdateJob(*j); err != nil {
			return err
		}
	}

	for i := range jobs {
		j := &jobs[i]
		if j.State != StateDeleted {
			continue
		}
		s.reap(j, now)
		if err := s.store.UpdateJob(*j); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"jobId":    j.ID,
			"exitCode": j.ExitCode,
		}).Info("Reaped deleted job")
	}

	return nil
}

// probe reports whether a running job's process has finished and with
// what code. The wrapper writes its exit file as its very last act, so
// the file is checked before process liveness: a zombie that nobody
// has reaped yet still counts as finished.
func (s *Scheduler) probe(j *JobRecord) (int, bool) {
	if code, ok := s.readExitFile(j.ID); ok {
		return code, true
	}
	if err := syscall.Kill(j.Pid, 0); err == syscall.ESRCH {
		// Gone without an exit file: the wrapper was killed out from
		// under us. The real exit code is unknowable.
		log.WithFields(log.Fields{
			"jobId": j.ID,
			"pid":   j.Pid,
		}).Warn("Job process vanished without writing an exit file")
		return 1, true
	}
	return 0, false
}

func (s *Scheduler) readExitFile(id int64) (int, bool) {
	b, err := os.ReadFile(s.exitFile(id))
	if err != nil {
		return 0, false
	}
	// An empty or partial file means the wrapper is mid-write; the
	// next tick will see the complete value.
	code, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, false
	}
	return code, true
}

// spawn writes the job's wrapper script and starts it. The wrapper
// redirects the command's output to scheduler-style log files and
// records the exit code in a sentinel file for probe to find.
func (s *Scheduler) spawn(j *JobRecord) error {
	outDir := j.OutDir
	if outDir == "" {
		outDir = j.Dir
	}
	errDir := j.ErrDir
	if errDir == "" {
		errDir = j.Dir
	}
	logf := filepath.Join(outDir, fmt.Sprintf("%s.o%d", j.Name, j.ID))
	errf := filepath.Join(errDir, fmt.Sprintf("%s.e%d", j.Name, j.ID))

	script := fmt.Sprintf(`#!/bin/sh
cd %s || exit 1
%s > %s 2> %s
echo $? > %s
`,
		shellquote.Join(j.Dir),
		j.Command,
		shellquote.Join(logf),
		shellquote.Join(errf),
		shellquote.Join(s.exitFile(j.ID)))

	if err := os.WriteFile(s.wrapperFile(j.ID), []byte(script), 0755); err != nil {
		return err
	}

	cmd := exec.Command("/bin/sh", s.wrapperFile(j.ID))
	// Its own process group, so reap can kill the whole job tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	j.Pid = cmd.Process.Pid

	// Reap the child if this process is still around when it dies.
	// When the spawner is a short-lived CLI verb, init inherits the
	// orphan and reaps it instead.
	go cmd.Wait()

	log.WithFields(log.Fields{
		"jobId": j.ID,
		"pid":   j.Pid,
	}).Info("Dispatched job")
	return nil
}

// reap finalizes a deletion-registered job: kill whatever is left of
// its process group, collect the exit code if the job beat the kill,
// and drop the scratch files.
func (s *Scheduler) reap(j *JobRecord, now time.Time) {
	if j.Pid != 0 {
		syscall.Kill(-j.Pid, syscall.SIGKILL)
	}
	code := 137
	if c, ok := s.readExitFile(j.ID); ok {
		code = c
	}
	s.removeScratch(j.ID)
	j.State = StateDone
	j.EndTime = now
	j.ExitCode = code
}

func (s *Scheduler) removeScratch(id int64) {
	os.Remove(s.wrapperFile(id))
	os.Remove(s.exitFile(id))
}
