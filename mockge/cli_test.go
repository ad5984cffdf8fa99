package mockge

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQsubArgs(t *testing.T) {
	req, terse, err := parseQsubArgs([]string{
		"-b", "y", "-V", "-N", "fastqc_r1", "-wd", "/data/run1",
		"-q", "short.q", "-o", "/logs", "-e", "/logs",
		"fastqc", "--threads", "4", "sample.fq",
	})
	require.NoError(t, err)
	assert.False(t, terse)
	assert.Equal(t, "fastqc_r1", req.Name)
	assert.Equal(t, "/data/run1", req.Dir)
	assert.Equal(t, "short.q", req.Queue)
	assert.Equal(t, "/logs", req.OutDir)
	assert.Equal(t, "/logs", req.ErrDir)
	assert.Equal(t, []string{"fastqc", "--threads", "4", "sample.fq"}, req.Argv)
}

func TestParseQsubArgsDefaults(t *testing.T) {
	req, terse, err := parseQsubArgs([]string{"-terse", "/usr/bin/echo", "hi"})
	require.NoError(t, err)
	assert.True(t, terse)
	assert.Equal(t, "echo", req.Name, "name should default to the command basename")
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, req.Dir)
}

func TestParseQsubArgsUnknownFlagSkipped(t *testing.T) {
	req, _, err := parseQsubArgs([]string{
		"-b", "y", "-N", "j", "-wd", "/tmp", "-pe", "smp", "echo", "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hi"}, req.Argv)
}

func TestParseQsubArgsErrors(t *testing.T) {
	_, _, err := parseQsubArgs([]string{"-N", "lonely"})
	assert.Error(t, err, "dangling flag value")

	_, _, err = parseQsubArgs([]string{"-b", "y"})
	assert.Error(t, err, "no command")
}

// run invokes one in-process CLI call and returns exit code, stdout
// and stderr.
func runCLI(args ...string) (int, string, string) {
	var out, errOut bytes.Buffer
	code := Execute(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestCLIEndToEnd(t *testing.T) {
	dataDir := t.TempDir()
	workDir := t.TempDir()

	code, out, errOut := runCLI("init", "--dir", dataDir, "--qacct-delay", "0s", "--max-jobs", "2")
	require.Equal(t, 0, code, "init failed: %s", errOut)
	assert.Contains(t, out, "initialized mock scheduler")

	t.Setenv(ShimEnv, dataDir)

	code, out, errOut = runCLI("qsub", "-b", "y", "-V", "-N", "hello", "-wd", workDir, "echo", "hello")
	require.Equal(t, 0, code, "qsub failed: %s", errOut)
	assert.Contains(t, out, `Your job 1 ("hello") has been submitted`)

	// The job becomes visible (and with no submission delay, starts)
	// on the next call.
	code, out, _ = runCLI("qstat")
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 3, "expected header plus one job row:\n%s", out)
	assert.Contains(t, lines[2], "hello")

	// Accounting appears once the job finishes; qacct-delay is zero so
	// the only wait is for the echo itself.
	deadline := time.Now().Add(10 * time.Second)
	for {
		code, out, _ = runCLI("qacct", "-j", "1")
		if code == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.Equal(t, 0, code, "qacct never found job 1")
	assert.Regexp(t, `exit_status\s+0`, out)
	assert.Regexp(t, `jobname\s+hello`, out)

	// Finalized jobs are no longer qstat's business.
	code, out, _ = runCLI("qstat")
	require.Equal(t, 0, code)
	assert.NotContains(t, out, "hello")
}

func TestCLIQacctNotFound(t *testing.T) {
	dataDir := t.TempDir()
	code, _, errOut := runCLI("init", "--dir", dataDir)
	require.Equal(t, 0, code, "init failed: %s", errOut)
	t.Setenv(ShimEnv, dataDir)

	code, _, errOut = runCLI("qacct", "-j", "777")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "job id 777 not found")
}

func TestCLIQdel(t *testing.T) {
	dataDir := t.TempDir()
	workDir := t.TempDir()
	code, _, errOut := runCLI("init", "--dir", dataDir)
	require.Equal(t, 0, code, "init failed: %s", errOut)
	t.Setenv(ShimEnv, dataDir)

	code, _, _ = runCLI("qsub", "-b", "y", "-N", "sleeper", "-wd", workDir, "sleep", "60")
	require.Equal(t, 0, code)

	code, out, _ := runCLI("qdel", "1")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "has registered the job 1 for deletion")

	// Reap it so the sleeper doesn't outlive the test.
	runCLI("qstat")

	code, _, errOut = runCLI("qdel", "1")
	assert.Equal(t, 1, code, "deleting a finalized job should be refused")
	assert.Contains(t, errOut, `denied: job "1" does not exist`)
}

func TestCLIUninitializedDir(t *testing.T) {
	t.Setenv(ShimEnv, t.TempDir())
	code, _, errOut := runCLI("qstat")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "run mockge init")
}

func TestInstallShims(t *testing.T) {
	shimDir := t.TempDir()
	dataDir := t.TempDir()
	require.NoError(t, InstallShims(shimDir, dataDir, "/opt/mockge/bin/mockge"))

	qsub, qstat, qacct, qdel := Shims(shimDir)
	for _, shim := range []string{qsub, qstat, qacct, qdel} {
		info, err := os.Stat(shim)
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&0111, "%s is not executable", shim)

		b, err := os.ReadFile(shim)
		require.NoError(t, err)
		script := string(b)
		assert.True(t, strings.HasPrefix(script, "#!/bin/sh\n"))
		assert.Contains(t, script, fmt.Sprintf("export %s=%s", ShimEnv, dataDir))
		assert.Contains(t, script, "exec /opt/mockge/bin/mockge "+filepath.Base(shim))
	}
}
