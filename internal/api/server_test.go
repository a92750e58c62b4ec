package api

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"polyagents/internal/config"
	"polyagents/internal/domain"
	"polyagents/internal/httpapi"
	"polyagents/internal/store"
	"polyagents/internal/strategy"
	"polyagents/internal/strategy/builtins"
)

var day0 = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

func newBacktester(t *testing.T) *strategy.Backtester {
	t.Helper()
	dir := t.TempDir()
	ps := store.NewParquetStore(dir)

	var bars []domain.Bar
	for k, sym := range []string{"BTC", "ETH"} {
		for i := range 90 {
			px := 100 + float64(k)*10 + 2*math.Cos(float64(i)/5)
			bars = append(bars, domain.Bar{Symbol: sym, Timestamp: day0.AddDate(0, 0, i), Close: px})
		}
	}
	require.NoError(t, ps.WriteBars(context.Background(), "crypto", bars))

	runs, err := store.NewSQLiteStore(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	reg := strategy.NewRegistry()
	builtins.RegisterAll(reg)
	bt := strategy.NewBacktester(ps, reg, strategy.BacktestConfig{Market: "crypto"}, nil)
	bt.SetRunStore(runs)
	return bt
}

func TestNewServer(t *testing.T) {
	cfg := config.Default()
	s := NewServer(cfg, newBacktester(t), nil)
	require.NotNil(t, s)
	assert.Equal(t, fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), s.httpAddr)
	assert.NotNil(t, s.grpc)

	cfg.Server.GRPCPort = 0
	s = NewServer(cfg, newBacktester(t), nil)
	assert.Nil(t, s.grpc)
}

func dialBufconn(t *testing.T, bt httpapi.Backtester) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	NewBacktestService(bt).Register(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCRunAndGetRun(t *testing.T) {
	conn := dialBufconn(t, newBacktester(t))
	ctx := context.Background()

	in, err := structpb.NewStruct(map[string]any{
		"plan": map[string]any{"planner": "fixed", "universe": []any{"BTC", "ETH"},
			"weighting": map[string]any{"scheme": "fixed", "weights": map[string]any{"BTC": 0.5, "ETH": 0.5}}},
		"end": "2024-04-03",
	})
	require.NoError(t, err)

	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, MethodRun, in, out))
	id := out.GetFields()["id"].GetStringValue()
	require.NotEmpty(t, id)
	assert.Len(t, out.GetFields()["curve"].GetListValue().GetValues(), 90)
	assert.Empty(t, out.GetFields()["error"].GetStringValue())

	get := new(structpb.Struct)
	req, _ := structpb.NewStruct(map[string]any{"id": id})
	require.NoError(t, conn.Invoke(ctx, MethodGetRun, req, get))
	assert.Equal(t, id, get.GetFields()["id"].GetStringValue())

	list := new(structpb.Struct)
	lreq, _ := structpb.NewStruct(map[string]any{"limit": 10})
	require.NoError(t, conn.Invoke(ctx, MethodListRuns, lreq, list))
	assert.Len(t, list.GetFields()["runs"].GetListValue().GetValues(), 1)
}

func TestGRPCErrors(t *testing.T) {
	conn := dialBufconn(t, newBacktester(t))
	ctx := context.Background()
	out := new(structpb.Struct)

	missing, _ := structpb.NewStruct(map[string]any{"id": "nope"})
	err := conn.Invoke(ctx, MethodGetRun, missing, out)
	assert.Equal(t, codes.NotFound, status.Code(err))

	err = conn.Invoke(ctx, MethodGetRun, &structpb.Struct{}, out)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	bad, _ := structpb.NewStruct(map[string]any{"plan": map[string]any{"planner": "magic", "universe": []any{"BTC"}}})
	err = conn.Invoke(ctx, MethodRun, bad, out)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	badDate, _ := structpb.NewStruct(map[string]any{"plan": map[string]any{"universe": []any{"BTC"}}, "start": "soon"})
	err = conn.Invoke(ctx, MethodRun, badDate, out)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServeAndShutdown(t *testing.T) {
	cfg := config.Default()
	s := NewServer(cfg, newBacktester(t), nil)

	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, httpLn, grpcLn) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + httpLn.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
