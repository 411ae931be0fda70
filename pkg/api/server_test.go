package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"masterselector/pkg/api"
	"masterselector/pkg/api/middleware"
	"masterselector/pkg/auth"
	"masterselector/pkg/coordination/memory"
	"masterselector/pkg/master"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

// APITestSuite serves the API over a selector on the in-process backend.
type APITestSuite struct {
	suite.Suite
	srv      *memory.Server
	selector *master.Selector
	server   *api.Server
	jwt      *auth.JWTService
	token    string
}

func (s *APITestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	s.srv = memory.NewServer()
	s.selector = master.New(s.srv, master.Options{
		Address: "10.0.0.1:8080",
		Logger:  zaptest.NewLogger(s.T()),
	})
	s.Require().NoError(s.selector.Start(context.Background()))
	s.Require().Eventually(s.selector.Connected, waitFor, tick)

	var err error
	s.jwt, err = auth.NewJWTService(auth.DefaultJWTConfig("test-secret"))
	s.Require().NoError(err)
	s.token, err = s.jwt.GenerateToken("deploy-bot", auth.RoleOperator)
	s.Require().NoError(err)

	s.server = api.NewServer(api.Config{
		Port:    "0",
		Masters: s.selector,
		JWT:     s.jwt,
		Logger:  zaptest.NewLogger(s.T()),
		RateLimit: middleware.RateLimiterConfig{
			RequestsPerMinute: 60,
			BurstSize:         3,
			CleanupInterval:   time.Minute,
		},
	})
}

func (s *APITestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
	_ = s.selector.Close()
}

func (s *APITestSuite) do(method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	return s.doAs(s.token, method, target, body)
}

func (s *APITestSuite) doAs(token, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(middleware.AuthHeaderKey, "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func (s *APITestSuite) waitClaimed(key string) {
	s.Require().Eventually(func() bool {
		return s.selector.ContenderState(key) == master.StateClaimed
	}, waitFor, tick)
}

func (s *APITestSuite) TestHealth() {
	w, body := s.do(http.MethodGet, "/health", "")
	s.Equal(http.StatusOK, w.Code)
	s.Equal("healthy", body["status"])
	s.Equal("10.0.0.1:8080", body["address"])
	s.NotEmpty(w.Header().Get(middleware.RequestIDHeader))
}

func (s *APITestSuite) TestHealthDegradedAfterClose() {
	s.Require().NoError(s.selector.Close())

	w, body := s.do(http.MethodGet, "/health", "")
	s.Equal(http.StatusServiceUnavailable, w.Code)
	s.Equal("degraded", body["status"])
}

func (s *APITestSuite) TestRunForMasterWithOwnAddress() {
	w, body := s.do(http.MethodPost, "/api/v1/masters/billing/v2/run", "")
	s.Require().Equal(http.StatusAccepted, w.Code)
	s.Equal("billing:v2", body["key"])
	s.Equal("10.0.0.1:8080", body["address"])
	s.Equal("deploy-bot", body["requested_by"])

	s.waitClaimed("billing:v2")
	s.Require().Eventually(func() bool {
		_, ok := s.selector.Master("billing:v2")
		return ok
	}, waitFor, tick)

	w, body = s.do(http.MethodGet, "/api/v1/masters/billing/v2", "")
	s.Equal(http.StatusOK, w.Code)
	s.Equal("10.0.0.1:8080", body["address"])

	w, body = s.do(http.MethodGet, "/api/v1/masters/billing/v2/check?host=10.0.0.1&port=8080", "")
	s.Equal(http.StatusOK, w.Code)
	s.Equal(true, body["is_master"])

	w, body = s.do(http.MethodGet, "/api/v1/masters/billing/v2/check?host=10.0.0.2&port=8080", "")
	s.Equal(http.StatusOK, w.Code)
	s.Equal(false, body["is_master"])
}

func (s *APITestSuite) TestRunForMasterWithExplicitAddress() {
	w, _ := s.do(http.MethodPost, "/api/v1/masters/search/v1/run", `{"address":"192.168.0.9:7000"}`)
	s.Require().Equal(http.StatusAccepted, w.Code)
	s.waitClaimed("search:v1")

	data, ok := s.srv.Get(master.ClaimPath(master.RootPath, "search:v1"))
	s.Require().True(ok)
	s.Equal("192.168.0.9:7000", string(data))
}

func (s *APITestSuite) TestRunForMasterRequiresToken() {
	w, _ := s.doAs("", http.MethodPost, "/api/v1/masters/billing/v2/run", "")
	s.Equal(http.StatusUnauthorized, w.Code)

	w, _ = s.doAs("garbage", http.MethodPost, "/api/v1/masters/billing/v2/run", "")
	s.Equal(http.StatusUnauthorized, w.Code)

	other, err := auth.NewJWTService(auth.DefaultJWTConfig("other-secret"))
	s.Require().NoError(err)
	forged, err := other.GenerateToken("deploy-bot", auth.RoleAdmin)
	s.Require().NoError(err)
	w, _ = s.doAs(forged, http.MethodPost, "/api/v1/masters/billing/v2/run", "")
	s.Equal(http.StatusUnauthorized, w.Code)

	s.Empty(s.selector.Contenders(), "rejected calls start no contention")
}

func (s *APITestSuite) TestRunForMasterRequiresOperatorRole() {
	viewer, err := s.jwt.GenerateToken("dashboard", auth.RoleViewer)
	s.Require().NoError(err)

	w, body := s.doAs(viewer, http.MethodPost, "/api/v1/masters/billing/v2/run", "")
	s.Equal(http.StatusForbidden, w.Code)
	s.Equal("insufficient permissions", body["error"])

	admin, err := s.jwt.GenerateToken("root", auth.RoleAdmin)
	s.Require().NoError(err)
	w, _ = s.doAs(admin, http.MethodPost, "/api/v1/masters/billing/v2/run", "")
	s.Equal(http.StatusAccepted, w.Code)
}

func (s *APITestSuite) TestReadRoutesNeedNoToken() {
	w, _ := s.doAs("", http.MethodGet, "/api/v1/masters", "")
	s.Equal(http.StatusOK, w.Code)
}

func (s *APITestSuite) TestRunForMasterWithoutJWTServiceIsRejected() {
	server := api.NewServer(api.Config{
		Port:    "0",
		Masters: s.selector,
		Logger:  zaptest.NewLogger(s.T()),
	})
	defer func() { _ = server.Shutdown(context.Background()) }()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/masters/billing/v2/run", nil)
	req.Header.Set(middleware.AuthHeaderKey, "Bearer "+s.token)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *APITestSuite) TestRequestsAreTracedWithConfiguredTracer() {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	server := api.NewServer(api.Config{
		Port:    "0",
		Masters: s.selector,
		Tracer:  provider.Tracer("api-test"),
		Logger:  zaptest.NewLogger(s.T()),
	})
	defer func() { _ = server.Shutdown(context.Background()) }()

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/masters/billing/v2", nil))
	s.Equal(http.StatusNotFound, w.Code)

	spans := recorder.Ended()
	s.Require().Len(spans, 1)
	s.Equal("GET /api/v1/masters/:service/:version", spans[0].Name())
	s.Equal(spans[0].SpanContext().TraceID().String(), w.Header().Get("X-Trace-ID"))
}

func (s *APITestSuite) TestRunForMasterRejectsMalformedBody() {
	w, _ := s.do(http.MethodPost, "/api/v1/masters/search/v1/run", `{"address":`)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *APITestSuite) TestRunForMasterIsRateLimited() {
	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w, _ := s.do(http.MethodPost, "/api/v1/masters/billing/v2/run", "")
		codes = append(codes, w.Code)
	}
	s.Equal([]int{http.StatusAccepted, http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)
}

func (s *APITestSuite) TestUnknownMaster() {
	w, _ := s.do(http.MethodGet, "/api/v1/masters/nobody/v1", "")
	s.Equal(http.StatusNotFound, w.Code)

	w, body := s.do(http.MethodGet, "/api/v1/masters/nobody/v1/check?host=10.0.0.5&port=1", "")
	s.Equal(http.StatusOK, w.Code)
	s.Equal(true, body["is_master"], "unknown keys answer true")
}

func (s *APITestSuite) TestCheckValidatesQuery() {
	w, _ := s.do(http.MethodGet, "/api/v1/masters/billing/v2/check?port=80", "")
	s.Equal(http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/masters/billing/v2/check?host=h&port=http", "")
	s.Equal(http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/masters/billing/v2/check?host=h&port=70000", "")
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *APITestSuite) TestListMastersAndContenders() {
	s.do(http.MethodPost, "/api/v1/masters/billing/v2/run", "")
	s.waitClaimed("billing:v2")
	s.Require().Eventually(func() bool { return len(s.selector.Snapshot()) == 1 }, waitFor, tick)

	w, body := s.do(http.MethodGet, "/api/v1/masters", "")
	s.Equal(http.StatusOK, w.Code)
	s.Equal(float64(1), body["count"])
	s.Equal(map[string]any{"billing:v2": "10.0.0.1:8080"}, body["masters"])

	w, body = s.do(http.MethodGet, "/api/v1/contenders", "")
	s.Equal(http.StatusOK, w.Code)
	s.Equal(map[string]any{"billing:v2": "claimed"}, body["contenders"])
}

func (s *APITestSuite) TestRunAfterCloseIsUnavailable() {
	s.Require().NoError(s.selector.Close())

	w, _ := s.do(http.MethodPost, "/api/v1/masters/billing/v2/run", "")
	s.Equal(http.StatusServiceUnavailable, w.Code)
}

func (s *APITestSuite) TestMetricsEndpoint() {
	s.do(http.MethodGet, "/health", "")

	s.Require().Eventually(func() bool {
		w, _ := s.do(http.MethodGet, "/metrics", "")
		body := w.Body.String()
		return w.Code == http.StatusOK &&
			strings.Contains(body, "masterselector_http_requests_total") &&
			strings.Contains(body, "masterselector_coordination_requests_total")
	}, waitFor, 50*time.Millisecond)
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}
