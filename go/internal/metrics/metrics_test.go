package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_RecordsBidsByOutcome(t *testing.T) {
	m := NewPrometheus("test")

	m.RecordBid("ACCEPTED", 2*time.Millisecond)
	m.RecordBid("ACCEPTED", time.Millisecond)
	m.RecordBid("REJECTED_CONFLICT", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bidsTotal.WithLabelValues("ACCEPTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bidsTotal.WithLabelValues("REJECTED_CONFLICT")))
}

func TestPrometheus_Gauges(t *testing.T) {
	m := NewPrometheus("test")

	m.SetConnections(4)
	m.SetSubscriptions(9)
	m.RecordTimeSyncPush(4)
	m.RecordRelayMessage("nats", false)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.subscriptions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.timeSyncPushes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayMessages.WithLabelValues("nats", "failure")))
}

func TestPrometheus_Handler(t *testing.T) {
	m := NewPrometheus("test")
	m.RecordDelivery("dropped")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_broadcast_deliveries_total{result="dropped"} 1`)
}

func TestNoOpSatisfiesCollector(t *testing.T) {
	var c Collector = NoOp{}
	c.RecordBid("ACCEPTED", time.Second)
}
