package gridengine

import (
	"testing"

	"github.com/fls-bioinformatics-core/genomics-sub000/runner"
)

const sampleQstat = `job-ID  prior   name       user   state submit/start at     queue                slots ja-task-id
-----------------------------------------------------------------------------------------------------
    101 0.55500 fastqc_r1  alice  r     08/25/2026 10:31:02 default.q@node01     1
    102 0.55500 fastqc_r2  alice  qw    08/25/2026 10:31:05                      1
    103 0.55500 trim_r1    bob    Eqw   08/25/2026 10:31:06                      1
    104 0.55500 align_r1   alice  dr    08/25/2026 10:20:00 default.q@node02     1
garbage
    105 0.55500 mover      carol  t     08/25/2026 10:31:9  default.q@node03     1
`

func TestParseQsub(t *testing.T) {
	out := []byte("Your job 12345 (\"fastqc_run\") has been submitted\n")
	id, err := parseQsub(out)
	if err != nil {
		t.Fatalf("parseQsub: %v", err)
	}
	if id != "12345" {
		t.Fatalf("job id: got %q, want 12345", id)
	}

	if _, err := parseQsub([]byte("Unable to run job: denied\n")); err == nil {
		t.Fatalf("expected error for rejection message")
	}
	if _, err := parseQsub(nil); err == nil {
		t.Fatalf("expected error for empty output")
	}
}

func TestParseQstat(t *testing.T) {
	rows := parseQstat([]byte(sampleQstat))

	if len(rows) != 5 {
		t.Fatalf("parsed %d rows, want 5: %v", len(rows), rows)
	}

	checks := []struct {
		id     string
		state  string
		queue  string
		active bool
		errd   bool
	}{
		{"101", "r", "default.q@node01", true, false},
		{"102", "qw", "", true, false},
		{"103", "Eqw", "", true, true},
		{"104", "dr", "default.q@node02", false, false},
		{"105", "t", "default.q@node03", true, false},
	}
	for _, c := range checks {
		row, ok := rows[runner.JobID(c.id)]
		if !ok {
			t.Errorf("job %s missing from table", c.id)
			continue
		}
		if row.state != c.state {
			t.Errorf("job %s state: got %q, want %q", c.id, row.state, c.state)
		}
		if row.queue != c.queue {
			t.Errorf("job %s queue: got %q, want %q", c.id, row.queue, c.queue)
		}
		if row.active() != c.active {
			t.Errorf("job %s active: got %v, want %v", c.id, row.active(), c.active)
		}
		if row.errorState() != c.errd {
			t.Errorf("job %s errorState: got %v, want %v", c.id, row.errorState(), c.errd)
		}
	}
}

func TestParseQstatEmpty(t *testing.T) {
	if rows := parseQstat(nil); len(rows) != 0 {
		t.Fatalf("empty output parsed to %v", rows)
	}
	headerOnly := "job-ID  prior   name user state submit/start at queue slots\n" +
		"------------------------------------------------------------\n"
	if rows := parseQstat([]byte(headerOnly)); len(rows) != 0 {
		t.Fatalf("header-only output parsed to %v", rows)
	}
}

func TestParseQacct(t *testing.T) {
	out := []byte(`==============================================================
qname        default.q
hostname     node01
jobname      fastqc_r1
jobnumber    101
qsub_time    Mon Aug 25 10:31:02 2026
end_time     Mon Aug 25 10:32:40 2026
exit_status  3
`)
	kv := parseQacct(out)
	if kv["exit_status"] != "3" {
		t.Errorf("exit_status: got %q, want 3", kv["exit_status"])
	}
	if kv["qname"] != "default.q" {
		t.Errorf("qname: got %q, want default.q", kv["qname"])
	}
	if kv["qsub_time"] != "Mon Aug 25 10:31:02 2026" {
		t.Errorf("qsub_time: got %q", kv["qsub_time"])
	}
	if _, ok := kv["=============================================================="]; ok {
		t.Errorf("ruler line parsed as a key")
	}
}
