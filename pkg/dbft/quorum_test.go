package dbft

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vireonet/vireo/pkg/crypto/keys"
)

// makeValidatorStubs builds n deterministic public keys, enough to
// exercise quorum arithmetic without needing a full fakeNetwork.
func makeValidatorStubs(t *testing.T, n int) []*keys.PublicKey {
	t.Helper()

	pubs := make([]*keys.PublicKey, n)
	for i := 0; i < n; i++ {
		var seed [32]byte
		seed[30] = byte(i >> 8)
		seed[31] = byte(i + 1)
		priv, err := keys.NewPrivateKeyFromBytes(seed[:])
		require.NoError(t, err)
		pubs[i] = priv.PublicKey()
	}
	return pubs
}

func TestQuorumMath(t *testing.T) {
	cases := []struct {
		n, f, m int
	}{
		{n: 1, f: 0, m: 1},
		{n: 4, f: 1, m: 3},
		{n: 7, f: 2, m: 5},
		{n: 10, f: 3, m: 7},
		{n: 100, f: 33, m: 67},
	}

	for _, c := range cases {
		ctx := &Context{Validators: makeValidatorStubs(t, c.n)}
		require.Equal(t, c.n, ctx.N())
		require.Equal(t, c.f, ctx.F())
		require.Equal(t, c.m, ctx.M())
	}
}

func TestPrimaryIndicesRotateAndWrap(t *testing.T) {
	ctx := &Context{Validators: makeValidatorStubs(t, 4), BlockIndex: 1}

	require.Equal(t, uint(1), ctx.GetPriorityPrimaryIndex(0))
	require.Equal(t, uint(0), ctx.GetFallbackPrimaryIndex(0))

	require.Equal(t, uint(0), ctx.GetPriorityPrimaryIndex(1))
	require.Equal(t, uint(3), ctx.GetFallbackPrimaryIndex(1))

	// view wraps past 0 backward using modular arithmetic, not a panic.
	require.Equal(t, uint(2), ctx.GetPriorityPrimaryIndex(3))

	require.Equal(t, ctx.GetPriorityPrimaryIndex(2), ctx.GetPrimaryIndex(2, PrioritySlotID))
	require.Equal(t, ctx.GetFallbackPrimaryIndex(2), ctx.GetPrimaryIndex(2, FallbackSlotID))
}

func TestModHandlesNegatives(t *testing.T) {
	require.Equal(t, 3, mod(-1, 4))
	require.Equal(t, 0, mod(0, 4))
	require.Equal(t, 1, mod(5, 4))
}
