package mockge

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Run executes one mockge invocation and returns the process exit
// code. It is the whole CLI: binaries call it from main, and tests
// call it from a helper process to serve the scheduler verbs without
// building a separate binary.
func Run(args []string) int {
	return Execute(args, os.Stdout, os.Stderr)
}

// Execute is Run with explicit output streams.
func Execute(args []string, out, errOut io.Writer) int {
	c := newCLI(out, errOut)
	c.rootCmd.SetArgs(args)
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(errOut)
	if err := c.rootCmd.Execute(); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return 1
	}
	return 0
}

type cli struct {
	rootCmd *cobra.Command

	out    io.Writer
	errOut io.Writer
}

// command is one verb of the CLI.
type command interface {
	registerFlags() *cobra.Command
	run(c *cli, cmd *cobra.Command, args []string) error
}

func newCLI(out, errOut io.Writer) *cli {
	c := &cli{out: out, errOut: errOut}
	c.rootCmd = &cobra.Command{
		Use:           "mockge",
		Short:         "mockge is a mock Grid Engine for testing scheduler-facing code",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.addCmd(&initCmd{})
	c.addCmd(&qsubCmd{})
	c.addCmd(&qstatCmd{})
	c.addCmd(&qacctCmd{})
	c.addCmd(&qdelCmd{})
	return c
}

func (c *cli) addCmd(cmd command) {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
}

// openScheduler locates the data directory through the environment, as
// the shim scripts set it up.
func openScheduler() (*Scheduler, *Store, error) {
	dir := os.Getenv(ShimEnv)
	if dir == "" {
		return nil, nil, errors.Errorf("%s is not set (run mockge init and use its shims)", ShimEnv)
	}
	if _, err := os.Stat(DBFile(dir)); err != nil {
		return nil, nil, errors.Errorf("no mock scheduler in %s (run mockge init first)", dir)
	}
	store, err := OpenStore(dir)
	if err != nil {
		return nil, nil, err
	}
	sched, err := NewScheduler(store, dir)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return sched, store, nil
}

type initCmd struct {
	dir        string
	shims      string
	queue      string
	qsubDelay  time.Duration
	qacctDelay time.Duration
	maxJobs    int
}

func (i *initCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "init",
		Short: "create and configure a mock scheduler data directory",
	}
	r.Flags().StringVar(&i.dir, "dir", "", "data directory to create (required)")
	r.Flags().StringVar(&i.shims, "shims", "", "also install qsub/qstat/qacct/qdel shim scripts into this directory")
	r.Flags().StringVar(&i.queue, "queue", "mock.q", "default queue name")
	r.Flags().DurationVar(&i.qsubDelay, "qsub-delay", 0, "how long a submitted job stays invisible to qstat")
	r.Flags().DurationVar(&i.qacctDelay, "qacct-delay", 15*time.Second, "how long after completion qacct keeps reporting not-found")
	r.Flags().IntVar(&i.maxJobs, "max-jobs", 4, "cap on concurrently running jobs")
	return r
}

func (i *initCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	if i.dir == "" {
		return errors.New("--dir is required")
	}
	if err := os.MkdirAll(i.dir, 0777); err != nil {
		return err
	}
	store, err := OpenStore(i.dir)
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.SaveConfig(Config{
		QsubDelay:  i.qsubDelay,
		QacctDelay: i.qacctDelay,
		MaxSlots:   i.maxJobs,
		Queue:      i.queue,
	})
	if err != nil {
		return err
	}
	if i.shims != "" {
		if err := InstallShims(i.shims, i.dir, ""); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "installed scheduler shims in %s\n", i.shims)
	}
	fmt.Fprintf(c.out, "initialized mock scheduler in %s\n", i.dir)
	return nil
}

type qsubCmd struct{}

func (q *qsubCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "qsub [submit flags] command [args...]",
		Short: "submit a job",
		// qsub flags are single-dash Grid Engine style, not ours to
		// parse with pflag.
		DisableFlagParsing: true,
	}
}

func (q *qsubCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	req, terse, err := parseQsubArgs(args)
	if err != nil {
		return err
	}
	sched, store, err := openScheduler()
	if err != nil {
		return err
	}
	defer store.Close()

	j, err := sched.Submit(req)
	if err != nil {
		return err
	}
	if terse {
		fmt.Fprintf(c.out, "%d\n", j.ID)
	} else {
		fmt.Fprintf(c.out, "Your job %d (%q) has been submitted\n", j.ID, j.Name)
	}
	return nil
}

// parseQsubArgs understands the slice of qsub's flag surface the
// backends actually use. Unknown flags are skipped (with their value,
// if they appear to carry one) so extra submission args don't break
// the mock; everything from the first non-flag token on is the
// command.
func parseQsubArgs(args []string) (SubmitRequest, bool, error) {
	var req SubmitRequest
	terse := false

	value := func(i int) (string, error) {
		if i+1 >= len(args) {
			return "", errors.Errorf("qsub flag %s needs a value", args[i])
		}
		return args[i+1], nil
	}

	i := 0
	for i < len(args) && strings.HasPrefix(args[i], "-") {
		var err error
		switch args[i] {
		case "-b": // binary vs script mode; the mock treats both alike
			_, err = value(i)
			i += 2
		case "-V": // export environment
			i++
		case "-terse":
			terse = true
			i++
		case "-N":
			req.Name, err = value(i)
			i += 2
		case "-wd":
			req.Dir, err = value(i)
			i += 2
		case "-q":
			req.Queue, err = value(i)
			i += 2
		case "-o":
			req.OutDir, err = value(i)
			i += 2
		case "-e":
			req.ErrDir, err = value(i)
			i += 2
		default:
			log.WithFields(log.Fields{
				"flag": args[i],
			}).Warn("Ignoring unrecognized qsub flag")
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				i += 2
			} else {
				i++
			}
		}
		if err != nil {
			return SubmitRequest{}, false, err
		}
	}

	req.Argv = args[i:]
	if len(req.Argv) == 0 {
		return SubmitRequest{}, false, errors.New("qsub: no command given")
	}
	if req.Name == "" {
		req.Name = filepath.Base(req.Argv[0])
	}
	if req.Dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return SubmitRequest{}, false, err
		}
		req.Dir = wd
	}
	return req, terse, nil
}

type qstatCmd struct{}

func (q *qstatCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "qstat",
		Short: "list jobs the scheduler currently owns",
	}
}

func (q *qstatCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	sched, store, err := openScheduler()
	if err != nil {
		return err
	}
	defer store.Close()

	jobs, err := sched.Table()
	if err != nil {
		return err
	}
	printQstat(c.out, jobs)
	return nil
}

const qstatTimeLayout = "01/02/2006 15:04:05"

func printQstat(w io.Writer, jobs []JobRecord) {
	fmt.Fprintln(w, "job-ID  prior   name       user         state submit/start at     queue                          slots ja-task-id")
	fmt.Fprintln(w, strings.Repeat("-", 114))
	for _, j := range jobs {
		at := j.QsubTime
		queue := ""
		if j.State == StateRunning {
			at = j.StartTime
			queue = j.Queue + "@localhost"
		}
		fmt.Fprintf(w, "%7d %7.5f %-10.10s %-12.12s %-5s %-19s %-30s %5d\n",
			j.ID, 0.55500, j.Name, j.User, j.State, at.Format(qstatTimeLayout), queue, 1)
	}
}

type qacctCmd struct{}

func (q *qacctCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "qacct -j job_id",
		Short: "report accounting for a finished job",
		// Same single-dash flag style as qsub.
		DisableFlagParsing: true,
	}
}

func (q *qacctCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	if len(args) != 2 || args[0] != "-j" {
		return errors.New("usage: qacct -j <job_id>")
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return errors.Errorf("invalid job id %q", args[1])
	}
	sched, store, err := openScheduler()
	if err != nil {
		return err
	}
	defer store.Close()

	j, err := sched.Accounting(id)
	if err == ErrNotFound {
		return errors.Errorf("job id %d not found", id)
	}
	if err != nil {
		return err
	}
	printQacct(c.out, j)
	return nil
}

func printQacct(w io.Writer, j JobRecord) {
	p := func(k, v string) {
		fmt.Fprintf(w, "%-12s %s\n", k, v)
	}
	fmt.Fprintln(w, strings.Repeat("=", 62))
	p("qname", j.Queue)
	p("hostname", "localhost")
	p("owner", j.User)
	p("jobname", j.Name)
	p("jobnumber", strconv.FormatInt(j.ID, 10))
	p("qsub_time", acctTime(j.QsubTime))
	p("start_time", acctTime(j.StartTime))
	p("end_time", acctTime(j.EndTime))
	p("failed", "0")
	p("exit_status", strconv.Itoa(j.ExitCode))
}

func acctTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.ANSIC)
}

type qdelCmd struct{}

func (q *qdelCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "qdel job_id...",
		Short: "register jobs for deletion",
	}
}

func (q *qdelCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: qdel <job_id> [job_id...]")
	}
	var ids []int64
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return errors.Errorf("invalid job id %q", a)
		}
		ids = append(ids, id)
	}
	sched, store, err := openScheduler()
	if err != nil {
		return err
	}
	defer store.Close()

	deleted, missing, err := sched.Delete(ids)
	if err != nil {
		return err
	}
	for _, j := range deleted {
		fmt.Fprintf(c.out, "%s has registered the job %d for deletion\n", j.User, j.ID)
	}
	for _, id := range missing {
		fmt.Fprintf(c.errOut, "denied: job \"%d\" does not exist\n", id)
	}
	if len(missing) > 0 {
		return errors.Errorf("%d of %d jobs could not be deleted", len(missing), len(ids))
	}
	return nil
}
