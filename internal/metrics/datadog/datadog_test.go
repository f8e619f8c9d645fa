package datadog

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mergeflow/internal/metrics"
)

func TestNewBackendRequiresAddr(t *testing.T) {
	_, err := NewBackend(Config{})
	require.Error(t, err)
}

func TestTags(t *testing.T) {
	assert.Nil(t, tags(nil))
	assert.Equal(t, []string{"job:orders", "kind:inserted"},
		tags(metrics.Labels{"kind": "inserted", "job": "orders"}))
	assert.Equal(t, []string{"step:load_a_b", "tenant:x_y"},
		tags(metrics.Labels{"Step": "load a|b", "tenant": "x,y"}))
}

func TestBackendEmitsDogStatsD(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	b, err := NewBackend(Config{Addr: conn.LocalAddr().String(), Namespace: "mergeflow"})
	require.NoError(t, err)

	r := metrics.NewReporter("orders", b)
	r.Rows("inserted", 7)
	require.NoError(t, r.Flush())

	buf := make([]byte, 4096)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)

	got := string(buf[:n])
	assert.True(t, strings.Contains(got, "mergeflow."+metrics.RowsTotal+":7|c"), got)
	assert.Contains(t, got, "kind:inserted")
}
