package metrics

import (
	"testing"
	"time"

	"github.com/andresmejia3/facereel/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	for i := 0; i < 3; i++ {
		r.FrameStarted()
		r.ObserveFrame("face_swapper", types.Success, 10*time.Millisecond)
	}
	r.FrameStarted()
	r.ObserveFrame("face_swapper", types.Failed, time.Millisecond)
	r.ObserveRun("success", time.Minute)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.frames.WithLabelValues("face_swapper", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.frames.WithLabelValues("face_swapper", "failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("success")))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.FrameStarted()
		r.ObserveFrame("x", types.Success, 0)
		r.ObserveRun("failed", 0)
	})
}
