package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func (m *publisherMock) Close() error { return nil }

func TestPublishEventCountsErrors(t *testing.T) {
	pub := new(publisherMock)
	SetPublisher(pub)
	t.Cleanup(func() { SetPublisher(nil) })

	env := EventEnvelope{EventType: "ws_events", EventName: "ws_connect"}
	pub.On("Publish", mock.Anything, "ws_events.connections", env).Return(assert.AnError).Once()

	before := testutil.ToFloat64(amqpPublishErrorsTotal)
	err := PublishEvent(context.Background(), "ws_events.connections", env, BuildHeaders("req-1", ""))
	require.ErrorIs(t, err, assert.AnError)
	require.Equal(t, before+1, testutil.ToFloat64(amqpPublishErrorsTotal))
	pub.AssertExpectations(t)
}

func TestPublishEventWithoutPublisher(t *testing.T) {
	SetPublisher(nil)
	require.NoError(t, PublishEvent(context.Background(), "k", nil, nil))
}

func TestBuildHeaders(t *testing.T) {
	require.Equal(t, map[string]string{"x-request-id": "r", "trace_id": "t"}, BuildHeaders("r", "t"))
	require.Empty(t, BuildHeaders("", ""))
}

func TestClientMetaFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	meta := ClientMetaFromRequest(req)
	require.Equal(t, "10.0.0.1", meta.IP)
	require.NotEmpty(t, meta.RequestID)

	req.Header.Set("X-Real-Ip", "198.51.100.4")
	require.Equal(t, "198.51.100.4", ClientMetaFromRequest(req).IP)

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("X-Request-Id", "req-7")
	req.Header.Set("X-Device-Id", "dev-1")
	require.Equal(t, ClientMeta{DeviceID: "dev-1", RequestID: "req-7", IP: "203.0.113.9"}, ClientMetaFromRequest(req))
}

func TestHTTPMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsMiddleware())
	r.GET("/rooms/:room_id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/rooms/:room_id", "204")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/abc", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, before+1, testutil.ToFloat64(counter))
}
