package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-events/internal/apperr"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordEventOperation(t *testing.T) {
	before := testutil.ToFloat64(EventOperations.WithLabelValues("join", "EventFull"))

	RecordEventOperation("join", apperr.Conflict(apperr.CodeEventFull, "Event is full"))

	assert.Equal(t, before+1, testutil.ToFloat64(EventOperations.WithLabelValues("join", "EventFull")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordEventOperation("create", nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "events_api_event_operations_total")
}
