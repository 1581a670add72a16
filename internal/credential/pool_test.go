package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"multiposter/internal/graph"
)

func valid(secret string) Credential { return Credential{secret: secret, state: Valid} }

func TestPoolRoundRobin(t *testing.T) {
	t.Parallel()

	p := NewPool([]Credential{valid("a"), valid("b"), valid("c")})
	var got []string
	for i := 0; i < 7; i++ {
		c, err := p.Next()
		require.NoError(t, err)
		got = append(got, c.Secret())
	}
	require.Equal(t, []string{"a", "b", "c", "a", "b", "c", "a"}, got)

	p.Reset()
	c, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, "a", c.Secret())
}

func TestPoolEmpty(t *testing.T) {
	t.Parallel()

	_, err := NewPool(nil).Next()
	require.ErrorIs(t, err, ErrEmptyPool)
}

func TestPoolConcurrentNextIsFair(t *testing.T) {
	t.Parallel()

	p := NewPool([]Credential{valid("a"), valid("b")})
	var mu sync.Mutex
	counts := map[string]int{}
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c, _ := p.Next()
				mu.Lock()
				counts[c.Secret()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 100, counts["a"])
	require.Equal(t, 100, counts["b"])
}

func TestMask(t *testing.T) {
	t.Parallel()

	require.Equal(t, "****", Mask("short"))
	require.Equal(t, "EAAB…wxyz", Mask("EAABsecretwxyz"))
	require.NotContains(t, valid("EAABsecretwxyz").Hint(), "secret")
}

type fakeChecker map[string]error

func (f fakeChecker) Identity(_ context.Context, token string) (graph.Identity, error) {
	if err, ok := f[token]; ok {
		return graph.Identity{}, err
	}
	return graph.Identity{ID: "1", Name: "name-" + token}, nil
}

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) Add(msg string) {
	r.mu.Lock()
	r.lines = append(r.lines, msg)
	r.mu.Unlock()
}

func TestValidatePartition(t *testing.T) {
	t.Parallel()

	checker := fakeChecker{
		"t2": &graph.Failure{Kind: graph.FailureRejected, Body: `{"error":{"message":"Session expired"}}`},
		"t4": &graph.Failure{Kind: graph.FailureTransport, Err: errors.New("dial tcp: refused")},
	}
	rec := &recorder{}
	v := NewValidator(checker, rec, WithRate(0))

	got := v.Validate(context.Background(), []string{"t1", "", "t2", "  t3  ", "t4"})
	secrets := make([]string, len(got))
	for i, c := range got {
		secrets[i] = c.Secret()
		require.Equal(t, Valid, c.State())
	}
	require.Equal(t, []string{"t1", "t3"}, secrets)

	require.Equal(t, []string{
		"Validating 4 tokens...",
		"[1] VALID: name-t1",
		"[2] INVALID: Session expired",
		"[3] VALID: name-t3",
		"[4] INVALID: dial tcp: refused",
	}, rec.lines)
}

func TestValidateAllInvalid(t *testing.T) {
	t.Parallel()

	checker := fakeChecker{"x": &graph.Failure{Kind: graph.FailureRejected, Body: `{}`}}
	rec := &recorder{}
	got := NewValidator(checker, rec, WithRate(0)).Validate(context.Background(), []string{"x"})
	require.Empty(t, got)
	require.True(t, strings.HasSuffix(rec.lines[1], "INVALID: Unknown"))
}

func TestValidateStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := NewValidator(fakeChecker{}, nil).Validate(ctx, []string{"a", "b"})
	require.Empty(t, got)
}
