package local

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fls-bioinformatics-core/genomics-sub000/runner"
)

func newTestRunner(t *testing.T, cfg runner.Config) *Runner {
	r, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func waitForExit(t *testing.T, r *Runner, id runner.JobID) int {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if code, ok := r.ExitStatus(id); ok {
			return code
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not exit in time", id)
	return -1
}

func TestRunToCompletion(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(t, runner.Config{})

	id, err := r.Submit(runner.Command{
		Name: "echo_hello",
		Dir:  dir,
		Argv: []string{"echo", "hello"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if code := waitForExit(t, r, id); code != 0 {
		t.Fatalf("exit code: got %d, want 0", code)
	}
	if r.IsRunning(id) {
		t.Fatalf("job still reported running after exit")
	}

	out, err := os.ReadFile(r.LogPath(id))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if string(out) != "hello\n" {
		t.Fatalf("log content: got %q, want %q", out, "hello\n")
	}
	if _, err := os.Stat(r.ErrPath(id)); err != nil {
		t.Fatalf("err file missing: %v", err)
	}
}

func TestExitCode(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(t, runner.Config{})

	id, err := r.Submit(runner.Command{
		Name: "fail_3",
		Dir:  dir,
		Argv: []string{"sh", "-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if code := waitForExit(t, r, id); code != 3 {
		t.Fatalf("exit code: got %d, want 3", code)
	}
}

func TestStderrGoesToErrFile(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(t, runner.Config{})

	id, err := r.Submit(runner.Command{
		Name: "noisy",
		Dir:  dir,
		Argv: []string{"sh", "-c", "echo oops >&2"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForExit(t, r, id)

	errOut, err := os.ReadFile(r.ErrPath(id))
	if err != nil {
		t.Fatalf("reading err file: %v", err)
	}
	if string(errOut) != "oops\n" {
		t.Fatalf("err content: got %q, want %q", errOut, "oops\n")
	}
}

func TestTerminate(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(t, runner.Config{})

	id, err := r.Submit(runner.Command{
		Name: "sleeper",
		Dir:  dir,
		Argv: []string{"sleep", "60"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !r.IsRunning(id) {
		t.Fatalf("job not running after submit")
	}

	if !r.Terminate(id) {
		t.Fatalf("Terminate returned false for a running job")
	}
	code := waitForExit(t, r, id)
	if code != 128+15 {
		t.Fatalf("exit code after SIGTERM: got %d, want %d", code, 128+15)
	}

	if r.Terminate(id) {
		t.Fatalf("Terminate returned true for a finished job")
	}
}

func TestLogDirOverride(t *testing.T) {
	workDir := t.TempDir()
	logDir := t.TempDir()
	r := newTestRunner(t, runner.Config{LogDir: logDir})

	id, err := r.Submit(runner.Command{
		Name: "logged",
		Dir:  workDir,
		Argv: []string{"echo", "hi"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForExit(t, r, id)

	if !strings.HasPrefix(r.LogPath(id), logDir) {
		t.Fatalf("log path %q not under log dir %q", r.LogPath(id), logDir)
	}
	if _, err := os.Stat(r.LogPath(id)); err != nil {
		t.Fatalf("log file missing: %v", err)
	}
}

func TestLogNamesAreUnique(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(t, runner.Config{})

	cmd := runner.Command{Name: "same_name", Dir: dir, Argv: []string{"true"}}
	id1, err := r.Submit(cmd)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	id2, err := r.Submit(cmd)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.LogPath(id1) == r.LogPath(id2) {
		t.Fatalf("two submissions share log path %q", r.LogPath(id1))
	}
}

func TestUnknownJob(t *testing.T) {
	r := newTestRunner(t, runner.Config{})

	if r.IsRunning("99999") {
		t.Errorf("unknown job reported running")
	}
	if r.Terminate("99999") {
		t.Errorf("unknown job terminated")
	}
	if _, ok := r.ExitStatus("99999"); ok {
		t.Errorf("unknown job has exit status")
	}
	if p := r.LogPath("99999"); p != "" {
		t.Errorf("unknown job has log path %q", p)
	}
}

func TestSubmitBadBinary(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(t, runner.Config{})

	_, err := r.Submit(runner.Command{
		Name: "nonesuch",
		Dir:  dir,
		Argv: []string{"/no/such/binary/anywhere"},
	})
	if err == nil {
		t.Fatalf("expected error for unrunnable binary")
	}
}
