package main

// Batch pipeline driver: reads manifest files of shell commands, runs
// them through a runner backend with a concurrency cap, and exits
// non-zero if any job failed. Each manifest becomes one job group.

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/fls-bioinformatics-core/genomics-sub000/common/log/hooks"
	"github.com/fls-bioinformatics-core/genomics-sub000/common/stats"
	"github.com/fls-bioinformatics-core/genomics-sub000/pipeline"
	"github.com/fls-bioinformatics-core/genomics-sub000/runner"
	_ "github.com/fls-bioinformatics-core/genomics-sub000/runner/gridengine"
	_ "github.com/fls-bioinformatics-core/genomics-sub000/runner/local"
)

var (
	configPath = flag.String("config", "", "directory containing config.yaml (optional)")
	backend    = flag.String("backend", "", "runner backend (local|gridengine)")
	queue      = flag.String("queue", "", "scheduler queue to submit to")
	logDir     = flag.String("log_dir", "", "directory for job log files (default: job working dir)")
	workDir    = flag.String("dir", "", "working directory for jobs (default: cwd)")
	maxJobs    = flag.Int("max_jobs", 0, "maximum concurrently running jobs")
	poll       = flag.Duration("poll", 0, "poll interval for job state")
	logLevel   = flag.String("log_level", "", "log everything at this level and above (error|info|debug)")
)

// config mirrors the optional config.yaml; explicit flags win.
type config struct {
	Backend   string        `mapstructure:"backend"`
	Queue     string        `mapstructure:"queue"`
	LogDir    string        `mapstructure:"log_dir"`
	MaxJobs   int           `mapstructure:"max_jobs"`
	Poll      time.Duration `mapstructure:"poll_interval"`
	ExtraArgs []string      `mapstructure:"extra_args"`
}

func main() {
	log.AddHook(hooks.NewContextHook())
	log.SetLevel(log.InfoLevel)
	flag.Parse()
	parseAndSetLevel(*logLevel)

	if flag.NArg() == 0 {
		log.Fatal("usage: runpipeline [flags] manifest...")
	}

	cfg := loadConfig(*configPath)
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *queue != "" {
		cfg.Queue = *queue
	}
	if *logDir != "" {
		cfg.LogDir = *logDir
	}
	if *maxJobs != 0 {
		cfg.MaxJobs = *maxJobs
	}
	if *poll != 0 {
		cfg.Poll = *poll
	}

	dir := *workDir
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			log.Fatalf("Cannot determine working directory: %v", err)
		}
	}

	r, err := runner.New(cfg.Backend, runner.Config{
		Queue:        cfg.Queue,
		ExtraArgs:    cfg.ExtraArgs,
		LogDir:       cfg.LogDir,
		PollInterval: cfg.Poll,
	})
	if err != nil {
		log.Fatalf("Cannot create runner: %v", err)
	}

	stat := stats.DefaultStatsReceiver()
	p := pipeline.New(r, pipeline.Config{
		MaxConcurrent: cfg.MaxJobs,
		PollInterval:  cfg.Poll,
		OnJobDone: func(j *pipeline.Job) {
			code, known := j.ExitStatus()
			log.WithFields(log.Fields{
				"name":  j.Name(),
				"state": j.State(),
				"exit":  code,
				"known": known,
			}).Info("Job done")
		},
	}, stat)

	total := 0
	for _, manifest := range flag.Args() {
		cmds, err := readManifest(manifest, dir)
		if err != nil {
			log.Fatalf("Cannot read manifest %s: %v", manifest, err)
		}
		group := groupName(manifest)
		for _, cmd := range cmds {
			p.QueueGroupedJob(group, cmd)
		}
		total += len(cmds)
	}
	if total == 0 {
		log.Fatal("No jobs found in manifests")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn("Signal received, terminating jobs")
		p.TerminateAll()
		<-sigCh
		os.Exit(130)
	}()

	p.Run()

	fmt.Print(p.Report())
	log.Debugf("stats: %s", stat.Render(false))
	if n := len(p.Failed()); n > 0 {
		log.WithFields(log.Fields{"failed": n, "total": total}).Error("Batch finished with failures")
		os.Exit(1)
	}
	log.WithFields(log.Fields{"total": total}).Info("Batch finished")
}

// loadConfig returns defaults overlaid with config.yaml from path, if
// given. A missing or malformed file is fatal; asking for config that
// cannot be read should never silently fall back to defaults.
func loadConfig(path string) config {
	cfg := config{Backend: "local"}
	if path == "" {
		return cfg
	}
	viper.SetConfigName("config")
	viper.AddConfigPath(path)
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Cannot read config: %v", err)
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Cannot parse config: %v", err)
	}
	return cfg
}

// readManifest returns one command per non-blank, non-comment line,
// each run through the shell in dir.
func readManifest(path, dir string) ([]runner.Command, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	base := groupName(path)
	var cmds []runner.Command
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmds = append(cmds, runner.Command{
			Name: fmt.Sprintf("%s_%d", base, len(cmds)+1),
			Dir:  dir,
			Argv: []string{"/bin/sh", "-c", line},
		})
	}
	return cmds, scanner.Err()
}

// groupName derives a scheduler-safe label from a manifest path.
func groupName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t':
			return '_'
		}
		return r
	}, base)
}

func parseAndSetLevel(logLevel string) {
	if logLevel == "" {
		return
	}
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Error(err)
		return
	}
	log.SetLevel(level)
}
