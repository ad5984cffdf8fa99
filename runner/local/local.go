// Package local runs jobs as child processes of the current program.
// The backend registers itself under the name "local"; the job id is
// the child's pid.
package local

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fls-bioinformatics-core/genomics-sub000/runner"
)

// How long Terminate waits after SIGTERM before escalating to SIGKILL.
const terminateGrace = 10 * time.Second

func init() {
	runner.Register("local", func(cfg runner.Config) (runner.Runner, error) {
		return NewRunner(cfg)
	})
}

// job is the bookkeeping for one child process.
type job struct {
	cmd   *exec.Cmd
	name  string
	dir   string
	logID int

	done     chan struct{} // closed once the child has been reaped
	exitCode int           // valid only after done is closed
}

// Runner implements runner.Runner on top of child processes. Each job
// is started in its own process group so Terminate can take out any
// grandchildren too.
type Runner struct {
	cfg runner.Config

	mu        sync.Mutex
	jobs      map[runner.JobID]*job
	nextLogID int
}

// NewRunner returns a local backend. The log id counter is seeded from
// the wall clock so log files from successive program runs in the same
// directory don't collide.
func NewRunner(cfg runner.Config) (*Runner, error) {
	cfg = cfg.WithDefaults()
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0777); err != nil {
			return nil, err
		}
	}
	return &Runner{
		cfg:       cfg,
		jobs:      map[runner.JobID]*job{},
		nextLogID: int(time.Now().Unix()),
	}, nil
}

func (r *Runner) Submit(cmd runner.Command) (runner.JobID, error) {
	if err := cmd.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	logID := r.nextLogID
	r.nextLogID++
	r.mu.Unlock()

	logDir := r.cfg.LogDir
	if logDir == "" {
		logDir = cmd.Dir
	}
	outFile, err := os.Create(logFile(logDir, cmd.Name, "o", logID))
	if err != nil {
		return "", err
	}
	errFile, err := os.Create(logFile(logDir, cmd.Name, "e", logID))
	if err != nil {
		outFile.Close()
		return "", err
	}

	c := exec.Command(cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	c.Env = os.Environ()
	c.Stdout = outFile
	c.Stderr = errFile
	// Children get their own process group so Terminate can signal the
	// whole tree at once.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := c.Start(); err != nil {
		outFile.Close()
		errFile.Close()
		return "", err
	}

	id := runner.JobID(strconv.Itoa(c.Process.Pid))
	j := &job{
		cmd:   c,
		name:  cmd.Name,
		dir:   logDir,
		logID: logID,
		done:  make(chan struct{}),
	}
	r.mu.Lock()
	r.jobs[id] = j
	r.mu.Unlock()

	log.WithFields(log.Fields{
		"name": cmd.Name,
		"pid":  c.Process.Pid,
		"dir":  cmd.Dir,
	}).Info("Started local job")

	go r.watch(j)
	return id, nil
}

// watch reaps the child and records its exit code. Signal deaths map
// to the shell convention of 128+signal.
func (r *Runner) watch(j *job) {
	err := j.cmd.Wait()
	j.cmd.Stdout.(*os.File).Close()
	j.cmd.Stderr.(*os.File).Close()

	code := 0
	if err != nil {
		code = 1
		if ee, ok := err.(*exec.ExitError); ok {
			if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
				if ws.Signaled() {
					code = 128 + int(ws.Signal())
				} else {
					code = ws.ExitStatus()
				}
			}
		}
	}

	r.mu.Lock()
	j.exitCode = code
	close(j.done)
	r.mu.Unlock()

	log.WithFields(log.Fields{
		"name":     j.name,
		"pid":      j.cmd.Process.Pid,
		"exitCode": code,
	}).Info("Local job finished")
}

func (r *Runner) lookup(id runner.JobID) *job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

func (r *Runner) IsRunning(id runner.JobID) bool {
	j := r.lookup(id)
	if j == nil {
		return false
	}
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// Terminate SIGTERMs the job's process group, escalating to SIGKILL
// if it hasn't exited within terminateGrace. Returns false for unknown
// or already-finished jobs.
func (r *Runner) Terminate(id runner.JobID) bool {
	j := r.lookup(id)
	if j == nil || !r.IsRunning(id) {
		return false
	}

	pid := j.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		log.WithFields(log.Fields{
			"name":  j.name,
			"pid":   pid,
			"error": err,
		}).Error("Error terminating local job")
		return false
	}
	log.WithFields(log.Fields{
		"name": j.name,
		"pid":  pid,
	}).Info("Terminating local job via SIGTERM")

	select {
	case <-j.done:
	case <-time.After(terminateGrace):
		log.WithFields(log.Fields{
			"name": j.name,
			"pid":  pid,
		}).Error("Local job ignored SIGTERM, sending SIGKILL")
		syscall.Kill(-pid, syscall.SIGKILL)
		<-j.done
	}
	return true
}

func (r *Runner) LogPath(id runner.JobID) string {
	j := r.lookup(id)
	if j == nil {
		return ""
	}
	return logFile(j.dir, j.name, "o", j.logID)
}

func (r *Runner) ErrPath(id runner.JobID) string {
	j := r.lookup(id)
	if j == nil {
		return ""
	}
	return logFile(j.dir, j.name, "e", j.logID)
}

func (r *Runner) ExitStatus(id runner.JobID) (int, bool) {
	j := r.lookup(id)
	if j == nil {
		return 0, false
	}
	select {
	case <-j.done:
		return j.exitCode, true
	default:
		return 0, false
	}
}

// logFile names a job log in the scheduler style: <name>.o<id> for
// stdout, <name>.e<id> for stderr.
func logFile(dir, name, stream string, id int) string {
	return filepath.Join(dir, name+"."+stream+strconv.Itoa(id))
}
