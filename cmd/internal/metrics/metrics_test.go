package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"botgate/cmd/internal/session"
)

type fixedStats session.Counts

func (f fixedStats) Stats() session.Counts { return session.Counts(f) }

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.SessionCreated()
	m.SessionCreated()
	m.ObserveVerification("verified", 20*time.Millisecond)
	m.ObserveVerification("denied", time.Millisecond)
	m.ObserveVerification("denied", time.Millisecond)
	m.ObserveGroupCheck("unverifiable")
	m.ObserveSweep(0)
	m.ObserveSweep(3)
	m.ObserveStart("bound")

	text := scrape(t, m)
	for _, want := range []string{
		"botgate_sessions_created_total 2",
		`botgate_verifications_total{outcome="verified"} 1`,
		`botgate_verifications_total{outcome="denied"} 2`,
		`botgate_verification_duration_seconds_count{outcome="denied"} 2`,
		`botgate_group_checks_total{result="unverifiable"} 1`,
		"botgate_sessions_expired_by_reaper_total 3",
		`botgate_bot_starts_total{outcome="bound"} 1`,
	} {
		require.Contains(t, text, want)
	}
	require.NotContains(t, text, "botgate_sessions{")
}

func TestMetrics_SessionGaugesReadLiveCounts(t *testing.T) {
	t.Parallel()

	text := scrape(t, New(fixedStats{Pending: 4, Verified: 2, Expired: 1}))

	require.Contains(t, text, `botgate_sessions{status="pending"} 4`)
	require.Contains(t, text, `botgate_sessions{status="verified"} 2`)
	require.Contains(t, text, `botgate_sessions{status="expired"} 1`)
}
