// Package mockge is a mock Grid Engine: a stand-in scheduler exposing
// the same four command line verbs as the real one (qsub, qstat,
// qacct, qdel), backed by a persisted job table and real spawned
// processes. It reproduces the asynchronous behavior that makes the
// real scheduler awkward to code against: submitted jobs take a while
// to show up in status listings, and accounting records lag
// completion. Use it to exercise the gridengine backend without a
// cluster.
package mockge

import (
	"database/sql"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Job states. A job is accepted as t, becomes visible as qw, runs as
// r and finishes as c. Eqw marks a job whose process could not be
// spawned; d marks a job registered for deletion, which the next tick
// finalizes to c.
const (
	StateSubmitted = "t"
	StateQueued    = "qw"
	StateRunning   = "r"
	StateDone      = "c"
	StateError     = "Eqw"
	StateDeleted   = "d"
)

// ErrNotFound is returned for job ids the scheduler has no record of,
// or whose accounting has not been flushed yet.
var ErrNotFound = errors.New("job not found")

// Config is the scheduler's persisted tuning. QsubDelay is how long a
// submitted job stays invisible to status queries; QacctDelay is how
// long after completion the accounting record stays unavailable;
// MaxSlots caps concurrently running jobs.
type Config struct {
	QsubDelay  time.Duration
	QacctDelay time.Duration
	MaxSlots   int
	Queue      string
}

// DefaultConfig mirrors a small, slightly laggy cluster.
func DefaultConfig() Config {
	return Config{
		QsubDelay:  0,
		QacctDelay: 15 * time.Second,
		MaxSlots:   4,
		Queue:      "mock.q",
	}
}

// JobRecord is one persisted row of the job table. Rows are created on
// submit and mutated on every tick; they are never deleted, so the
// table doubles as the accounting database.
type JobRecord struct {
	ID        int64
	Name      string
	User      string
	State     string
	Command   string // shell-quoted command line
	Dir       string
	Queue     string
	OutDir    string // -o override, empty means Dir
	ErrDir    string // -e override, empty means Dir
	Pid       int
	QsubTime  time.Time
	StartTime time.Time
	EndTime   time.Time
	ExitCode  int
}

// Store persists the job table and config in a SQLite database under
// the scheduler's data directory.
type Store struct {
	db *sql.DB

	// SQLite only allows one write at a time, so writes are serialized
	// here to avoid SQLITE_BUSY errors.
	writeLock sync.Mutex
}

// DBFile names the database inside a data directory.
func DBFile(dir string) string {
	return filepath.Join(dir, "mockge.db")
}

// OpenStore opens (creating if necessary) the store in dir.
func OpenStore(dir string) (*Store, error) {
	db, err := sql.Open("sqlite", DBFile(dir))
	if err != nil {
		return nil, errors.Wrap(err, "opening job table")
	}
	s := &Store{db: db}
	if err := s.setup(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) setup() error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return errors.Wrap(err, "setting journal mode")
	}
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS jobs (
id INTEGER PRIMARY KEY AUTOINCREMENT,
name TEXT,
user TEXT,
state TEXT,
command TEXT,
workdir TEXT,
queue TEXT,
out_dir TEXT,
err_dir TEXT,
pid INT,
qsub_time INT,
start_time INT,
end_time INT,
exit_code INT
)`)
	if err != nil {
		return errors.Wrap(err, "creating jobs table")
	}
	_, err = s.db.Exec(`
CREATE TABLE IF NOT EXISTS config (
key TEXT,
value TEXT,
PRIMARY KEY(key)
)`)
	if err != nil {
		return errors.Wrap(err, "creating config table")
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveConfig persists cfg, replacing any previous values.
func (s *Store) SaveConfig(cfg Config) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	stmt, err := s.db.Prepare("INSERT OR REPLACE INTO config VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for k, v := range map[string]string{
		"qsub_delay":  cfg.QsubDelay.String(),
		"qacct_delay": cfg.QacctDelay.String(),
		"max_slots":   strconv.Itoa(cfg.MaxSlots),
		"queue":       cfg.Queue,
	} {
		if _, err := stmt.Exec(k, v); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig reads the persisted config, falling back to defaults for
// missing keys.
func (s *Store) LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	rows, err := s.db.Query("SELECT key, value FROM config")
	if err != nil {
		return cfg, err
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return cfg, err
		}
		switch k {
		case "qsub_delay":
			if d, err := time.ParseDuration(v); err == nil {
				cfg.QsubDelay = d
			}
		case "qacct_delay":
			if d, err := time.ParseDuration(v); err == nil {
				cfg.QacctDelay = d
			}
		case "max_slots":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				cfg.MaxSlots = n
			}
		case "queue":
			cfg.Queue = v
		}
	}
	return cfg, rows.Err()
}

// AddJob inserts a new row and fills in its assigned id.
func (s *Store) AddJob(j *JobRecord) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	res, err := s.db.Exec(`
INSERT INTO jobs (name, user, state, command, workdir, queue, out_dir, err_dir, pid, qsub_time, start_time, end_time, exit_code)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.Name, j.User, j.State, j.Command, j.Dir, j.Queue, j.OutDir, j.ErrDir,
		j.Pid, nanos(j.QsubTime), nanos(j.StartTime), nanos(j.EndTime), j.ExitCode)
	if err != nil {
		return err
	}
	j.ID, err = res.LastInsertId()
	return err
}

// UpdateJob rewrites an existing row.
func (s *Store) UpdateJob(j JobRecord) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	_, err := s.db.Exec(`
UPDATE jobs SET name=?, user=?, state=?, command=?, workdir=?, queue=?, out_dir=?, err_dir=?, pid=?, qsub_time=?, start_time=?, end_time=?, exit_code=?
WHERE id=?`,
		j.Name, j.User, j.State, j.Command, j.Dir, j.Queue, j.OutDir, j.ErrDir,
		j.Pid, nanos(j.QsubTime), nanos(j.StartTime), nanos(j.EndTime), j.ExitCode,
		j.ID)
	return err
}

// GetJob fetches one row; ErrNotFound if the id was never seen.
func (s *Store) GetJob(id int64) (JobRecord, error) {
	row := s.db.QueryRow(selectJobs+" WHERE id=?", id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return JobRecord{}, ErrNotFound
	}
	return j, err
}

// Jobs returns every row in id order.
func (s *Store) Jobs() ([]JobRecord, error) {
	rows, err := s.db.Query(selectJobs + " ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

const selectJobs = `
SELECT id, name, user, state, command, workdir, queue, out_dir, err_dir, pid, qsub_time, start_time, end_time, exit_code FROM jobs`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scannable) (JobRecord, error) {
	var j JobRecord
	var qsub, start, end int64
	err := row.Scan(&j.ID, &j.Name, &j.User, &j.State, &j.Command, &j.Dir,
		&j.Queue, &j.OutDir, &j.ErrDir, &j.Pid, &qsub, &start, &end, &j.ExitCode)
	if err != nil {
		return JobRecord{}, err
	}
	j.QsubTime = fromNanos(qsub)
	j.StartTime = fromNanos(start)
	j.EndTime = fromNanos(end)
	return j, nil
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
