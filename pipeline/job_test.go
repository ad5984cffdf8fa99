package pipeline

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/fls-bioinformatics-core/genomics-sub000/runner"
	"github.com/fls-bioinformatics-core/genomics-sub000/runner/local"
)

const (
	testTimeout = 10 * time.Second
	testPoll    = 10 * time.Millisecond
)

func localRunner(t *testing.T) *local.Runner {
	t.Helper()
	r, err := local.NewRunner(runner.Config{LogDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func updateUntilDone(t *testing.T, j *Job) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !j.State().IsDone() {
		if time.Now().After(deadline) {
			t.Fatalf("job %q stuck in state %v", j.Name(), j.State())
		}
		j.Update()
		time.Sleep(testPoll)
	}
}

func TestJobLifecycle(t *testing.T) {
	r := localRunner(t)
	j := NewJob(r, runner.Command{
		Name: "hello",
		Dir:  t.TempDir(),
		Argv: []string{"echo", "hello world"},
	})

	if j.State() != WAITING {
		t.Fatalf("new job state = %v, want WAITING", j.State())
	}
	if err := j.Start(testTimeout, testPoll); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if j.ID() == "" {
		t.Fatal("started job has no id")
	}
	updateUntilDone(t, j)

	if j.State() != FINISHED {
		t.Fatalf("state = %v, want FINISHED", j.State())
	}
	code, known := j.ExitStatus()
	if !known || code != 0 {
		t.Fatalf("exit = (%d, %v), want (0, true)", code, known)
	}
	if !j.Succeeded() || j.Failed() {
		t.Fatalf("Succeeded=%v Failed=%v, want true/false", j.Succeeded(), j.Failed())
	}
	if got := j.Command(); got.Name != "hello" || len(got.Argv) != 2 {
		t.Fatalf("command = %+v, want the queued one", got)
	}
	if j.StartedAt().IsZero() || j.FinishedAt().IsZero() {
		t.Fatalf("timestamps = (%v, %v), want both set after completion", j.StartedAt(), j.FinishedAt())
	}
	if j.FinishedAt().Before(j.StartedAt()) {
		t.Fatalf("finished at %v, before the %v start", j.FinishedAt(), j.StartedAt())
	}
	out, err := os.ReadFile(j.LogPath())
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(out), "hello world") {
		t.Fatalf("log = %q, want it to contain the echo output", out)
	}
}

// A non-zero exit is a finished job that failed, not a terminated one.
func TestJobNonZeroExitIsFinished(t *testing.T) {
	r := localRunner(t)
	j := NewJob(r, runner.Command{
		Name: "fail",
		Dir:  t.TempDir(),
		Argv: []string{"sh", "-c", "exit 3"},
	})
	if err := j.Start(testTimeout, testPoll); err != nil {
		t.Fatalf("Start: %v", err)
	}
	updateUntilDone(t, j)

	if j.State() != FINISHED {
		t.Fatalf("state = %v, want FINISHED", j.State())
	}
	code, known := j.ExitStatus()
	if !known || code != 3 {
		t.Fatalf("exit = (%d, %v), want (3, true)", code, known)
	}
	if !j.Failed() {
		t.Fatal("non-zero exit should count as failed")
	}
}

func TestJobTerminate(t *testing.T) {
	r := localRunner(t)
	j := NewJob(r, runner.Command{
		Name: "sleeper",
		Dir:  t.TempDir(),
		Argv: []string{"sleep", "60"},
	})
	if err := j.Start(testTimeout, testPoll); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !j.Terminate() {
		t.Fatal("Terminate returned false for a running job")
	}
	if j.State() != TERMINATED {
		t.Fatalf("state = %v, want TERMINATED", j.State())
	}
	if r.IsRunning(j.ID()) {
		t.Fatal("runner still reports the job running after Terminate")
	}
	if !j.Failed() || j.Succeeded() {
		t.Fatal("terminated job should count as failed")
	}
	if code, known := j.ExitStatus(); known && code == 0 {
		t.Fatal("terminated job reported a success exit status")
	}
	if j.Terminate() {
		t.Fatal("second Terminate should report false")
	}
}

func TestJobRestartGetsNewID(t *testing.T) {
	r := localRunner(t)
	j := NewJob(r, runner.Command{
		Name: "restartme",
		Dir:  t.TempDir(),
		Argv: []string{"sleep", "60"},
	})
	if err := j.Start(testTimeout, testPoll); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := j.ID()

	if err := j.Restart(testTimeout, testPoll); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	defer j.Terminate()

	if j.ID() == "" || j.ID() == first {
		t.Fatalf("restarted job id = %q, want a fresh id != %q", j.ID(), first)
	}
	if j.State() != RUNNING && j.State() != SUBMITTED {
		t.Fatalf("restarted job state = %v", j.State())
	}
}

// A job can finish before we ever observe it running; the log file on
// disk is the other acceptable start signal.
func TestJobStartDetectsFastJob(t *testing.T) {
	r := localRunner(t)
	j := NewJob(r, runner.Command{
		Name: "quick",
		Dir:  t.TempDir(),
		Argv: []string{"true"},
	})
	if err := j.Start(testTimeout, testPoll); err != nil {
		t.Fatalf("Start: %v", err)
	}
	updateUntilDone(t, j)
	if !j.Succeeded() {
		code, known := j.ExitStatus()
		t.Fatalf("state = %v, exit = (%d, %v), want success", j.State(), code, known)
	}
}

func TestJobSubmitFailure(t *testing.T) {
	r := localRunner(t)
	j := NewJob(r, runner.Command{
		Name: "nosuch",
		Dir:  t.TempDir(),
		Argv: []string{"/no/such/binary/anywhere"},
	})
	err := j.Start(testTimeout, testPoll)
	if err == nil {
		t.Fatal("Start succeeded for a nonexistent binary")
	}
	if j.State() != TERMINATED {
		t.Fatalf("state = %v, want TERMINATED", j.State())
	}
	if !j.Failed() {
		t.Fatal("failed submission should count as failed")
	}
}

func TestJobStartTwice(t *testing.T) {
	r := localRunner(t)
	j := NewJob(r, runner.Command{
		Name: "once",
		Dir:  t.TempDir(),
		Argv: []string{"sleep", "60"},
	})
	if err := j.Start(testTimeout, testPoll); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer j.Terminate()
	if err := j.Start(testTimeout, testPoll); err == nil {
		t.Fatal("second Start did not error")
	}
}

// An exit status the backend never learns stays unknown, and an
// unknown exit is not a success.
func TestJobUnknownExitIsFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cmd := runner.Command{Name: "ghost", Dir: "/tmp", Argv: []string{"true"}}
	id := runner.JobID("42")
	m := runner.NewMockRunner(ctrl)
	m.EXPECT().Submit(cmd).Return(id, nil)
	m.EXPECT().IsRunning(id).Return(true)
	m.EXPECT().IsRunning(id).Return(false)
	m.EXPECT().ExitStatus(id).Return(0, false)

	j := NewJob(m, cmd)
	if err := j.Start(testTimeout, testPoll); err != nil {
		t.Fatalf("Start: %v", err)
	}
	j.Update()

	if j.State() != FINISHED {
		t.Fatalf("state = %v, want FINISHED", j.State())
	}
	if _, known := j.ExitStatus(); known {
		t.Fatal("exit status should be unknown")
	}
	if !j.Failed() || j.Succeeded() {
		t.Fatal("unknown exit should count as failed")
	}
}

func TestJobQueueNameCaptured(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cmd := runner.Command{Name: "queued", Dir: "/tmp", Argv: []string{"true"}}
	id := runner.JobID("7")
	base := runner.NewMockRunner(ctrl)
	qn := runner.NewMockQueueNamer(ctrl)
	base.EXPECT().Submit(cmd).Return(id, nil)
	base.EXPECT().IsRunning(id).Return(true).Times(2)
	qn.EXPECT().QueueName(id).Return("ngs.q", true)

	cluster := struct {
		runner.Runner
		runner.QueueNamer
	}{base, qn}

	j := NewJob(cluster, cmd)
	if err := j.Start(testTimeout, testPoll); err != nil {
		t.Fatalf("Start: %v", err)
	}
	j.Update()
	if j.Queue() != "ngs.q" {
		t.Fatalf("queue = %q, want ngs.q", j.Queue())
	}
}

// If neither start signal ever shows up the job is terminated rather
// than left hanging.
func TestJobStartTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cmd := runner.Command{Name: "never", Dir: "/tmp", Argv: []string{"true"}}
	id := runner.JobID("13")
	m := runner.NewMockRunner(ctrl)
	m.EXPECT().Submit(cmd).Return(id, nil)
	m.EXPECT().IsRunning(id).Return(false).AnyTimes()
	m.EXPECT().LogPath(id).Return("/no/such/log").AnyTimes()
	m.EXPECT().Terminate(id).Return(true)

	j := NewJob(m, cmd)
	err := j.Start(50*time.Millisecond, 10*time.Millisecond)
	if err == nil {
		t.Fatal("Start did not time out")
	}
	if j.State() != TERMINATED {
		t.Fatalf("state = %v, want TERMINATED", j.State())
	}
}
