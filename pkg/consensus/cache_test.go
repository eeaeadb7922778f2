package consensus

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type hashed common.Hash

func (h hashed) Hash() common.Hash { return common.Hash(h) }

func TestRelayCacheDedupAndEviction(t *testing.T) {
	c := newFIFOCache(2)

	var a, b, x hashed
	a[0], b[0], x[0] = 1, 2, 3

	c.Add(a)
	c.Add(a)
	require.True(t, c.Has(a.Hash()))
	require.NotNil(t, c.Get(a.Hash()))

	c.Add(b)
	c.Add(x) // evicts a, the oldest entry

	require.False(t, c.Has(a.Hash()))
	require.True(t, c.Has(b.Hash()))
	require.True(t, c.Has(x.Hash()))
	require.Nil(t, c.Get(a.Hash()))
}
