package mockge

import (
	"os"
	"path/filepath"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
)

// ShimEnv is the environment variable the scheduler verbs read the
// data directory from. The shim scripts bake it in.
const ShimEnv = "MOCKGE_DIR"

// HelperEnv is exported by the shim scripts so a test binary serving
// the verbs can tell a shim invocation apart from a normal test run.
const HelperEnv = "MOCKGE_HELPER_PROCESS"

var verbs = []string{"qsub", "qstat", "qacct", "qdel"}

// InstallShims writes qsub, qstat, qacct and qdel wrapper scripts into
// shimDir, each invoking prog's matching verb against dataDir. Point a
// gridengine backend's Commands at the shims (or put shimDir on PATH)
// to run it against the mock. An empty prog means the current
// executable, which is how a test binary serves the verbs to itself.
func InstallShims(shimDir, dataDir, prog string) error {
	if prog == "" {
		exe, err := os.Executable()
		if err != nil {
			return errors.Wrap(err, "locating our own executable")
		}
		prog = exe
	}
	if err := os.MkdirAll(shimDir, 0777); err != nil {
		return err
	}
	for _, verb := range verbs {
		script := "#!/bin/sh\n" +
			"export " + ShimEnv + "=" + shellquote.Join(dataDir) + "\n" +
			"export " + HelperEnv + "=1\n" +
			"exec " + shellquote.Join(prog) + " " + verb + " \"$@\"\n"
		if err := os.WriteFile(filepath.Join(shimDir, verb), []byte(script), 0755); err != nil {
			return err
		}
	}
	return nil
}

// Shims returns the Commands-shaped paths of the shims in shimDir.
func Shims(shimDir string) (qsub, qstat, qacct, qdel string) {
	return filepath.Join(shimDir, "qsub"),
		filepath.Join(shimDir, "qstat"),
		filepath.Join(shimDir, "qacct"),
		filepath.Join(shimDir, "qdel")
}
