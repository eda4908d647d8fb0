package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorRecordsWritesAndRefreshes(t *testing.T) {
	c := NewCollector()

	c.RecordWrite("acquire", "settled", 2*time.Second)
	c.RecordWrite("acquire", "settled", time.Second)
	c.RecordWrite("issue", "failed", 0)
	c.RecordRefresh(nil, 10*time.Millisecond)
	c.RecordRefresh(errors.New("down"), 10*time.Millisecond)
	c.SetCachedTokens("available", 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.writeCounter.WithLabelValues("acquire", "settled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.writeCounter.WithLabelValues("issue", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.refreshCounter.WithLabelValues("failed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.cachedTokens.WithLabelValues("available")))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	a.RecordNotification("token_sold")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.notifications.WithLabelValues("token_sold")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.notifications.WithLabelValues("token_sold")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordWrite("issue", "settled", time.Second)
		c.RecordRefresh(nil, time.Second)
		c.RecordRPCLatency("ledger_getToken", "http://x", time.Second)
		c.RecordNotification("token_issued")
		c.SetCachedTokens("mine", 1)
		c.UpdateWebsocketConnections(1, "connected")
		c.Reset()
	})
	assert.Nil(t, c.Registry())
}
