package gridengine

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/fls-bioinformatics-core/genomics-sub000/runner"
)

// qsub acknowledges a submission with a line like
// "Your job 12345 ("job_name") has been submitted".
var qsubJobID = regexp.MustCompile(`Your job (\d+)`)

// parseQsub extracts the job id from qsub's stdout.
func parseQsub(out []byte) (runner.JobID, error) {
	m := qsubJobID.FindSubmatch(out)
	if m == nil {
		return "", errors.Errorf("no job id in qsub output: %q", out)
	}
	return runner.JobID(m[1]), nil
}

// qstatRow is one job's line from qstat: its state flags and, for jobs
// that have been dispatched, the queue instance they landed in.
type qstatRow struct {
	state string
	queue string
}

// States in which the scheduler still owns the job. An error-flagged
// job (leading "E", as in Eqw) is still owned; the flag is stripped
// before the check so the job keeps counting as alive.
var activeStates = map[string]bool{
	"r":  true,
	"s":  true,
	"qw": true,
	"t":  true,
}

func (q qstatRow) active() bool {
	return activeStates[strings.TrimPrefix(q.state, "E")]
}

func (q qstatRow) errorState() bool {
	return strings.HasPrefix(q.state, "E")
}

// parseQstat turns `qstat` tabular output into a row per job id. The
// first two lines are the column headers and the ruler; rows that
// don't parse are logged and skipped rather than failing the whole
// poll.
//
//	job-ID  prior   name  user  state  submit/start at      queue          slots
//	------------------------------------------------------------------------------
//	101     0.50000 fastqc alice r     08/25/2026 10:31:02  default.q@node1 1
func parseQstat(out []byte) map[runner.JobID]qstatRow {
	rows := map[runner.JobID]qstatRow{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= 2 {
			continue
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			log.WithFields(log.Fields{
				"line": line,
			}).Warn("Skipping malformed qstat line")
			continue
		}
		row := qstatRow{state: fields[4]}
		// Dispatched jobs carry a queue instance column between the
		// start time and the slot count.
		if len(fields) >= 9 {
			row.queue = fields[7]
		}
		rows[runner.JobID(fields[0])] = row
	}
	return rows
}

// parseQacct turns `qacct -j <id>` key/value output into a map. The
// key is the first whitespace-delimited token on the line, the value
// is the remainder; ruler lines are skipped.
//
//	==============================================================
//	qname        default.q
//	jobnumber    101
//	exit_status  0
func parseQacct(out []byte) map[string]string {
	kv := map[string]string{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "=") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kv[fields[0]] = strings.Join(fields[1:], " ")
	}
	return kv
}
