package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil ||
		jobsTotal == nil || jobDurationSeconds == nil || activeWorkers == nil ||
		documentsTotal == nil || chunksTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveJobAndWorkers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(jobsTotal.WithLabelValues("succeeded"))
	ObserveJob("succeeded", 3*time.Second)
	if got := testutil.ToFloat64(jobsTotal.WithLabelValues("succeeded")); got != before+1 {
		t.Errorf("expected jobsTotal to grow by 1, got %f -> %f", before, got)
	}

	start := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers); got != start+1 {
		t.Errorf("expected one active worker, got %f", got-start)
	}
	DecActiveWorkers()
}

func TestObserveDocumentsAndChunks(t *testing.T) {
	Init()

	failed := testutil.ToFloat64(documentsTotal.WithLabelValues("failed"))
	ObserveDocument("failed")
	if got := testutil.ToFloat64(documentsTotal.WithLabelValues("failed")); got != failed+1 {
		t.Errorf("expected failed documents to grow by 1, got %f", got-failed)
	}

	chunks := testutil.ToFloat64(chunksTotal)
	ObserveChunks(4)
	ObserveChunks(0)
	ObserveChunks(-2)
	if got := testutil.ToFloat64(chunksTotal); got != chunks+4 {
		t.Errorf("expected chunks to grow by 4, got %f", got-chunks)
	}
}

func TestHandlerNotNil(t *testing.T) {
	if Handler() == nil {
		t.Fatal("expected a metrics handler")
	}
}
