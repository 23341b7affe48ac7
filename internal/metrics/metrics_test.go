package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.Login(Outcome(nil))
	r.Login(Outcome(errors.New("bad password")))
	r.Refresh(OutcomeAdopted)
	r.Logout(OutcomeSuccess)
	r.GuardDenied("write-data")
	r.GuardDenied("write-data")

	require.Equal(t, 1.0, testutil.ToFloat64(r.logins.WithLabelValues(OutcomeSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.logins.WithLabelValues(OutcomeFailure)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.refreshes.WithLabelValues(OutcomeAdopted)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.logouts.WithLabelValues(OutcomeSuccess)))
	require.Equal(t, 2.0, testutil.ToFloat64(r.guardDenials.WithLabelValues("write-data")))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	require.NotPanics(t, func() {
		r.Login(OutcomeSuccess)
		r.Refresh(OutcomeFailure)
		r.Logout(OutcomeSuccess)
		r.GuardDenied("read-data")
	})
}

func TestHandler(t *testing.T) {
	r := New()
	r.Login(OutcomeSuccess)

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `session_gateway_logins_total{outcome="success"} 1`)
}
