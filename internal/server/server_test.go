// Integration tests for the VersioningService over bufconn
package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nainya/schedver/internal/logger"
	"github.com/nainya/schedver/internal/metrics"
	"github.com/nainya/schedver/pkg/document"
	"github.com/nainya/schedver/pkg/engine"
	"github.com/nainya/schedver/pkg/version"
)

const bufSize = 1024 * 1024

type testEnv struct {
	client  *Client
	conn    *grpc.ClientConn
	metrics *metrics.Metrics
}

func setupTestServer(t *testing.T, opts ...grpc.ServerOption) *testEnv {
	t.Helper()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	eng := engine.New(version.NewMemoryStore(), document.NewMemoryStore(), engine.WithMetrics(m))

	lis := bufconn.Listen(bufSize)
	grpcServer := NewGRPCServer(NewServer(eng), m, logger.Nop(), opts...)
	go func() {
		// Serve returns once Stop is called during cleanup
		_ = grpcServer.Serve(lis)
	}()

	bufDialer := func(context.Context, string) (net.Conn, error) {
		return lis.Dial()
	}
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(bufDialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		grpcServer.Stop()
		lis.Close()
	})

	return &testEnv{client: NewClient(conn), conn: conn, metrics: m}
}

func change(field string, oldValue, newValue any) version.ChangeRecord {
	return version.ChangeRecord{Field: field, OldValue: oldValue, NewValue: newValue}
}

func TestCreateVersionAndHistory(t *testing.T) {
	env := setupTestServer(t)
	c := env.client
	ctx := context.Background()

	head, err := c.CreateDocument(ctx, "sched", "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, head.CurrentVersion)

	v1, err := c.CreateVersion(ctx, "sched", []version.ChangeRecord{
		change("shift_monday", nil, "09:00-17:00"),
		change("headcount", nil, 4),
	}, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNumber)
	assert.Nil(t, v1.PreviousVersionID)
	assert.Equal(t, "alice", v1.Changes[0].ChangedBy, "server stamps authorship")

	v2, err := c.CreateVersion(ctx, "sched", []version.ChangeRecord{
		change("headcount", 4, 5),
	}, "bob", nil)
	require.NoError(t, err)
	require.NotNil(t, v2.PreviousVersionID)
	assert.Equal(t, v1.VersionID, *v2.PreviousVersionID)

	head, err = c.GetHead(ctx, "sched")
	require.NoError(t, err)
	assert.Equal(t, 2, head.CurrentVersion)
	assert.Equal(t, []uuid.UUID{v1.VersionID, v2.VersionID}, head.VersionHistory)
	assert.Equal(t, float64(5), head.Data["headcount"])

	history, err := c.GetVersionHistory(ctx, "sched", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, v2.VersionID, history[0].VersionID)
	assert.Equal(t, v1.VersionID, history[1].VersionID)

	got, err := c.GetVersion(ctx, v1.VersionID)
	require.NoError(t, err)
	assert.Equal(t, "09:00-17:00", got.Changes[0].NewValue)
}

func TestRollbackReconstructAndCompare(t *testing.T) {
	env := setupTestServer(t)
	c := env.client
	ctx := context.Background()

	_, err := c.CreateDocument(ctx, "sched", "alice")
	require.NoError(t, err)
	v1, err := c.CreateVersion(ctx, "sched", []version.ChangeRecord{change("room", nil, "A")}, "alice", nil)
	require.NoError(t, err)
	v2, err := c.CreateVersion(ctx, "sched", []version.ChangeRecord{change("room", "A", "B")}, "alice", nil)
	require.NoError(t, err)

	rb, err := c.RollbackToVersion(ctx, "sched", v1.VersionID, "carol")
	require.NoError(t, err)
	assert.Equal(t, 3, rb.VersionNumber)
	assert.Equal(t, engine.RollbackField, rb.Changes[0].Field)
	require.NotNil(t, rb.Metadata.RollbackTo)
	assert.Equal(t, v1.VersionID, *rb.Metadata.RollbackTo)

	head, err := c.GetHead(ctx, "sched")
	require.NoError(t, err)
	assert.Equal(t, "A", head.Data["room"])

	// Reconstruct is the plain fold, so the rollback record shows up as a field
	current, err := c.Reconstruct(ctx, "sched", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, current.Version)
	assert.Equal(t, v1.VersionID.String(), current.State[engine.RollbackField])

	atV2, err := c.ReconstructVersion(ctx, v2.VersionID)
	require.NoError(t, err)
	assert.Equal(t, 2, atV2.Version)
	assert.Equal(t, "B", atV2.State["room"])

	cmp, err := c.CompareVersions(ctx, v1.VersionID, v2.VersionID)
	require.NoError(t, err)
	require.Len(t, cmp.Differences, 1)
	assert.Equal(t, engine.FieldDifference{Field: "room", Version1Value: "A", Version2Value: "B"}, cmp.Differences[0])

	report, err := c.VerifyChain(ctx, "sched")
	require.NoError(t, err)
	assert.True(t, report.OK(), report.Problems)
	assert.Equal(t, 3, report.Checked)
}

func TestLockingOverTheWire(t *testing.T) {
	env := setupTestServer(t)
	c := env.client
	ctx := context.Background()

	_, err := c.CreateDocument(ctx, "sched", "alice")
	require.NoError(t, err)

	ok, err := c.LockSchedule(ctx, "sched", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.LockSchedule(ctx, "sched", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.CreateVersion(ctx, "sched", []version.ChangeRecord{change("room", nil, "A")}, "bob", nil)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.ErrorIs(t, err, engine.ErrLockConflict)

	ok, err = c.UnlockSchedule(ctx, "sched", "bob")
	require.NoError(t, err)
	assert.False(t, ok, "only the holder can unlock")

	ok, err = c.UnlockSchedule(ctx, "sched", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = c.CreateVersion(ctx, "sched", []version.ChangeRecord{change("room", nil, "A")}, "bob", nil)
	assert.NoError(t, err)
}

func TestErrorCodes(t *testing.T) {
	env := setupTestServer(t)
	c := env.client
	ctx := context.Background()

	_, err := c.CreateDocument(ctx, "sched", "alice")
	require.NoError(t, err)

	tests := []struct {
		name     string
		call     func() error
		code     codes.Code
		sentinel error
	}{
		{
			name: "missing document",
			call: func() error { _, err := c.GetHead(ctx, "nope"); return err },
			code: codes.NotFound, sentinel: engine.ErrNotFound,
		},
		{
			name: "unknown version",
			call: func() error { _, err := c.GetVersion(ctx, uuid.New()); return err },
			code: codes.NotFound, sentinel: engine.ErrNotFound,
		},
		{
			name: "duplicate document",
			call: func() error { _, err := c.CreateDocument(ctx, "sched", "bob"); return err },
			code: codes.AlreadyExists, sentinel: engine.ErrAlreadyExists,
		},
		{
			name: "empty change set",
			call: func() error { _, err := c.CreateVersion(ctx, "sched", nil, "alice", nil); return err },
			code: codes.InvalidArgument, sentinel: engine.ErrValidation,
		},
		{
			name: "missing document id",
			call: func() error { _, err := c.VerifyChain(ctx, ""); return err },
			code: codes.InvalidArgument, sentinel: engine.ErrValidation,
		},
		{
			name: "missing version id",
			call: func() error { _, err := c.CompareVersions(ctx, uuid.Nil, uuid.New()); return err },
			code: codes.InvalidArgument, sentinel: engine.ErrValidation,
		},
		{
			name: "reconstruct past head",
			call: func() error { _, err := c.Reconstruct(ctx, "sched", 5); return err },
			code: codes.NotFound, sentinel: engine.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestReconstructEmptyDocument(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, err := env.client.CreateDocument(ctx, "sched", "alice")
	require.NoError(t, err)

	resp, err := env.client.Reconstruct(ctx, "sched", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Version)
	assert.Empty(t, resp.State)
}

func TestInterceptorRecordsRequests(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	_, err := env.client.GetHead(ctx, "nope")
	require.Error(t, err)
	_, err = env.client.CreateDocument(ctx, "sched", "alice")
	require.NoError(t, err)

	requests := env.metrics.GrpcRequestsTotal
	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues(fullMethod("GetHead"), "NotFound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues(fullMethod("CreateDocument"), "OK")))
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.GrpcRequestsInFlight))
}

func TestHealthService(t *testing.T) {
	env := setupTestServer(t)

	resp, err := healthpb.NewHealthClient(env.conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestObservabilityEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.RecordVersionCreated()

	obs := NewObservabilityServer(0, reg, logger.Nop())
	srv := httptest.NewServer(obs.Handler())
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"service":"schedver"`)

	code, _ = get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	obs.SetReady(true)
	code, _ = get("/ready")
	assert.Equal(t, http.StatusOK, code)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, "schedver_versions_created_total 1"), body)
}

func TestRateLimit(t *testing.T) {
	// One token and no refill: the second call must be rejected
	limiter := rate.NewLimiter(0, 1)
	env := setupTestServer(t, grpc.ChainUnaryInterceptor(RateLimitInterceptor(limiter)))
	ctx := context.Background()

	_, err := env.client.CreateDocument(ctx, "sched", "alice")
	require.NoError(t, err)

	_, err = env.client.GetHead(ctx, "sched")
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	// Rejections still pass through the metrics interceptor
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.GrpcRequestsTotal.WithLabelValues(fullMethod("GetHead"), "ResourceExhausted")))
}
