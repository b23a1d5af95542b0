package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStep(t *testing.T) {
	r := New()
	r.ObserveStep("prod", "web1", "merge", "success", 2*time.Second)
	r.ObserveStep("prod", "web1", "requirements", "skipped", 0)
	r.ObserveStep("prod", "web1", "merge", "success", time.Second)

	if got := testutil.ToFloat64(r.stepTotal.WithLabelValues("prod", "web1", "merge", "success")); got != 2 {
		t.Errorf("merge count = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(r.stepDuration); got != 1 {
		t.Errorf("duration series = %d, want 1 (skipped steps are not timed)", got)
	}
}

func TestObserveRunAndHealth(t *testing.T) {
	r := New()
	r.ObserveRun("prod", "deploy", nil)
	r.ObserveRun("prod", "deploy", errors.New("boom"))
	r.ObserveHealth("prod", true)

	if got := testutil.ToFloat64(r.runTotal.WithLabelValues("prod", "deploy", "failure")); got != 1 {
		t.Errorf("failure count = %v", got)
	}
	if got := testutil.ToFloat64(r.healthUp.WithLabelValues("prod")); got != 1 {
		t.Errorf("site_up = %v", got)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.ObserveStep("prod", "web1", "merge", "success", time.Second)
	r.ObserveRun("prod", "deploy", nil)
	r.ObserveHealth("prod", false)
	if err := r.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatal(err)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.ObserveHealth("dev", false)
	path := filepath.Join(t.TempDir(), "djdeploy.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `djdeploy_site_up{environment="dev"} 0`) {
		t.Errorf("textfile:\n%s", data)
	}
}
