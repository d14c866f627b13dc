package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "wisdombot/pkg/logx"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Challenge(ChallengeIssued)
	m.Delivery(true)
	m.SetSubscribers(3)
	assert.Nil(t, m.Registry())
}

func TestMetricsCount(t *testing.T) {
	m := NewMetrics()
	m.Challenge(ChallengeIssued)
	m.Challenge(ChallengeIssued)
	m.Challenge(ChallengeTimedOut)
	m.Delivery(false)
	m.SetSubscribers(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.challenges.WithLabelValues(ChallengeIssued)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.challenges.WithLabelValues(ChallengeTimedOut)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("failed")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.subscribers))
}

func TestServerRoutes(t *testing.T) {
	m := NewMetrics()
	m.Challenge(ChallengeConfirmed)
	srv := httptest.NewServer(NewServer(Config{Enabled: true}, m, logx.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `wisdombot_challenges_total{outcome="confirmed"} 1`)

	resp, err = http.Get(srv.URL + "/debug/pprof/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTrackGoroutinesRegistersOnce(t *testing.T) {
	m := NewMetrics()
	m.TrackGoroutines(func() int64 { return 3 })
	m.TrackGoroutines(func() int64 { return 5 })

	n, err := testutil.GatherAndCount(m.Registry(), "wisdombot_supervised_goroutines")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var nilM *Metrics
	nilM.TrackGoroutines(func() int64 { return 1 })
}
