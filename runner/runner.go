// Package runner defines the interface between job control and the
// facility that actually executes commands, plus the small amount of
// plumbing (configuration, backend registry) shared by every backend.
//
// A backend is anything that can take a Command, run it somewhere, and
// answer questions about it afterwards: the local machine, a Grid Engine
// cluster, or a mock scheduler in tests. Backends are registered by name
// and constructed through New, so callers select one with a string in
// their configuration and never import the backend package directly.
package runner

//go:generate mockgen -source=runner.go -package=runner -destination=runner_mock.go

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// JobID identifies a submitted job within a single backend. Local
// backends use the child pid, Grid Engine backends use the scheduler's
// numeric job id. IDs are only meaningful to the backend that issued
// them and may be recycled after a job leaves the system.
type JobID string

// Command is one command to be executed by a backend.
type Command struct {
	// Name labels the job. Backends use it for scheduler-visible job
	// names and for naming log files, so it should be filesystem- and
	// scheduler-safe (no whitespace).
	Name string

	// Dir is the working directory the command runs in. Backends also
	// write log files here unless the runner was configured with an
	// explicit log directory.
	Dir string

	// Argv is the command and its arguments, argv[0] first.
	Argv []string
}

func (c Command) String() string {
	return fmt.Sprintf("runner.Command{Name: %s, Dir: %s, Argv: %q}", c.Name, c.Dir, c.Argv)
}

// Validate reports whether the command is well-formed enough to hand to
// a backend. Backends call this at the top of Submit.
func (c Command) Validate() error {
	if c.Name == "" {
		return errors.New("command has no name")
	}
	if strings.ContainsAny(c.Name, " \t\n") {
		return errors.Errorf("command name %q contains whitespace", c.Name)
	}
	if len(c.Argv) == 0 {
		return errors.New("command has empty argv")
	}
	return nil
}

// Runner executes commands and reports on their progress. All methods
// are safe for concurrent use.
//
// Submit starts cmd and returns the backend's id for it. IsRunning and
// Terminate take that id; both are best-effort views of an inherently
// racy system (a job can finish between the backend observing it and
// the caller acting on the answer).
//
// ExitStatus returns the process exit code once the backend can know
// it, with ok=false until then. Grid Engine backends may block for a
// bounded time waiting for accounting records to appear.
//
// LogPath and ErrPath name the files the job's stdout and stderr are
// (or will be) written to. They are derivable from the id alone and
// never touch the filesystem, so they may be called before the files
// exist.
type Runner interface {
	Submit(cmd Command) (JobID, error)
	IsRunning(id JobID) bool
	Terminate(id JobID) bool
	LogPath(id JobID) string
	ErrPath(id JobID) string
	ExitStatus(id JobID) (int, bool)
}

// ErrorStater is implemented by backends that can distinguish jobs the
// scheduler has flagged as errored (for example Grid Engine's Eqw
// state) from jobs that are merely running or waiting. Errored jobs
// still count as running until terminated.
type ErrorStater interface {
	ErrorState(id JobID) bool
}

// QueueNamer is implemented by backends that can report which queue a
// running job landed in.
type QueueNamer interface {
	QueueName(id JobID) (string, bool)
}

// ErrorState reports whether r knows id to be in an error state.
// Backends without the concept report false.
func ErrorState(r Runner, id JobID) bool {
	if es, ok := r.(ErrorStater); ok {
		return es.ErrorState(id)
	}
	return false
}

// QueueName reports the queue id is running in, if r tracks queues and
// the job has one.
func QueueName(r Runner, id JobID) (string, bool) {
	if qn, ok := r.(QueueNamer); ok {
		return qn.QueueName(id)
	}
	return "", false
}

// Defaults applied by Config.WithDefaults.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultAcctTimeout  = 90 * time.Second
)

// Config carries the knobs common to all backends. Individual backends
// ignore fields that don't apply to them (Queue means nothing locally).
type Config struct {
	// Queue is the scheduler queue to submit to. Empty means the
	// scheduler's default.
	Queue string

	// ExtraArgs are passed through to the scheduler's submit command
	// verbatim, after the args the backend builds itself.
	ExtraArgs []string

	// LogDir, if set, receives all job log files instead of each
	// job's working directory.
	LogDir string

	// PollInterval is how often backends that poll an external
	// scheduler refresh their view of it.
	PollInterval time.Duration

	// AcctTimeout bounds how long ExitStatus waits for the scheduler's
	// accounting records to catch up with a finished job.
	AcctTimeout time.Duration
}

// WithDefaults returns a copy of c with zero fields replaced by the
// package defaults.
func (c Config) WithDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.AcctTimeout <= 0 {
		c.AcctTimeout = DefaultAcctTimeout
	}
	return c
}

// Factory constructs a backend from a config.
type Factory func(cfg Config) (Runner, error)

var (
	factoriesMu sync.Mutex
	factories   = map[string]Factory{}
)

// Register makes a backend available to New under the given name.
// Backends call this from init(). Registering the same name twice
// panics; that is a programming error, not a runtime condition.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("runner: backend %q registered twice", name))
	}
	factories[name] = f
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the named backend. An unregistered name is a
// configuration error and is reported before any job runs.
func New(name string, cfg Config) (Runner, error) {
	factoriesMu.Lock()
	f, ok := factories[name]
	factoriesMu.Unlock()
	if !ok {
		return nil, errors.Errorf("unknown runner backend %q (have %s)",
			name, strings.Join(Backends(), ", "))
	}
	return f(cfg.WithDefaults())
}
