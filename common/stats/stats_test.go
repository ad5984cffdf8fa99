package stats

import (
	"strings"
	"testing"
)

func TestScopedCounter(t *testing.T) {
	stat := DefaultStatsReceiver()
	stat.Scope("pipeline").Counter("jobsQueued").Inc(2)
	stat.Scope("pipeline").Counter("jobsQueued").Inc(1)

	if got := stat.Scope("pipeline").Counter("jobsQueued").Count(); got != 3 {
		t.Fatalf("expected scoped counter to accumulate to 3, got %d", got)
	}
	rendered := string(stat.Render(false))
	if !strings.Contains(rendered, `"pipeline/jobsQueued":3`) {
		t.Fatalf("render missing scoped counter: %s", rendered)
	}
}

func TestGaugeOverwrites(t *testing.T) {
	stat := DefaultStatsReceiver()
	g := stat.Gauge("jobsRunning")
	g.Update(5)
	g.Update(2)
	if got := stat.Gauge("jobsRunning").Value(); got != 2 {
		t.Fatalf("expected gauge value 2, got %d", got)
	}
}

func TestScopeSeparatorIsEscaped(t *testing.T) {
	stat := DefaultStatsReceiver()
	stat.Counter("bad/name").Inc(1)
	rendered := string(stat.Render(false))
	if !strings.Contains(rendered, `"bad_name":1`) {
		t.Fatalf("separator not escaped in dynamic name: %s", rendered)
	}
}

func TestNilReceiverIsInert(t *testing.T) {
	stat := NilStatsReceiver()
	stat.Scope("x").Counter("y").Inc(10)
	if got := stat.Counter("y").Count(); got != 0 {
		t.Fatalf("nil receiver recorded a count: %d", got)
	}
	if got := string(stat.Render(true)); got != "{}" {
		t.Fatalf("nil receiver rendered %q", got)
	}
}
