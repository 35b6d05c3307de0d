package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/plcctl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
	RecordControllerRequest("GET", "programs", 200, 24*time.Millisecond, true)
	RecordControllerRequest("POST", "login", 0, time.Millisecond, false)
	RecordCompilePoll("pending")
}

func TestRecordReconcileLabelsResult(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(reconcileResults.WithLabelValues("user", "delete", "error"))

	RecordReconcile("user", "delete", errors.New("boom"))
	RecordReconcile("user", "delete", nil)

	after := testutil.ToFloat64(reconcileResults.WithLabelValues("user", "delete", "error"))
	if after-before != 1 {
		t.Fatalf("expected one error result, got delta %v", after-before)
	}
}
