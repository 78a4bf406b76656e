package oracle

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/tfiber/tera-assist/internal/domain"
)

type failingContent struct{}

func (failingContent) RetrieveContent(context.Context, string) (string, error) {
	return "", errors.New("index offline")
}

func startRemote(t *testing.T, set *Set) *Remote {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, set)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	r, err := DialRemote(context.Background(), "passthrough:///bufnet", 2*time.Second, nil, dialer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRemoteRoundTrip(t *testing.T) {
	st := newStatic(t)
	r := startRemote(t, &Set{Eligibility: st, FAQ: st, Content: st})
	ctx := context.Background()

	elig, err := r.CheckEligibility(ctx, "500081")
	require.NoError(t, err)
	assert.Equal(t, domain.Eligibility{IsEligible: true, Details: "Good news! T-Fiber service is available for PIN code 500081 (Hyderabad)."}, elig)

	answer, err := r.AnswerFAQ(ctx, "How do I pay my bill?", "Q: How do I pay my bill?\nA: Online or at payment centers.")
	require.NoError(t, err)
	assert.Equal(t, "Online or at payment centers.", answer)

	content, err := r.RetrieveContent(ctx, "anything")
	require.NoError(t, err)
	assert.Equal(t, contentUnavailable, content)

	require.NoError(t, r.Health(ctx))
}

func TestRemotePropagatesOracleErrors(t *testing.T) {
	st := newStatic(t)
	r := startRemote(t, &Set{Eligibility: st, FAQ: st, Content: failingContent{}})

	_, err := r.RetrieveContent(context.Background(), "plans")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index offline")
}

func TestDialRemoteRequiresAddress(t *testing.T) {
	t.Parallel()

	_, err := DialRemote(context.Background(), "", time.Second, nil)
	assert.Error(t, err)
}
