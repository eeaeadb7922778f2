package payload

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/vireonet/vireo/pkg/crypto/keys"
	vio "github.com/vireonet/vireo/pkg/io"
)

func testKey(t *testing.T, seed byte) *keys.PrivateKey {
	t.Helper()
	var b [32]byte
	b[31] = seed
	priv, err := keys.NewPrivateKeyFromBytes(b[:])
	require.NoError(t, err)
	return priv
}

// A Commit envelope must survive a sign/encode/decode/verify round
// trip with every field intact.
func TestCommitPayloadRoundTrip(t *testing.T) {
	priv := testKey(t, 1)

	var txHash common.Hash
	txHash[31] = 7

	p := NewConsensusPayload()
	p.SetHeight(42)
	p.SetType(CommitType)
	p.SetViewNumber(2)
	p.SetValidatorIndex(3)
	p.SetPayload(MakeCommit(FallbackSlot, bytes.Repeat([]byte{0xAB}, 65)))

	require.NoError(t, p.Sign(priv))
	require.Equal(t, priv.PublicKey().ScriptHash(), p.Sender())

	buf := &bytes.Buffer{}
	bw := vio.NewBinWriterFromIO(buf)
	p.EncodeBinary(bw)
	bw.Flush()
	require.NoError(t, bw.Err)

	out := NewConsensusPayload()
	out.SetType(CommitType)
	out.SetPayload(NewCommit())

	br := vio.NewBinReaderFromIO(bytes.NewReader(buf.Bytes()))
	out.DecodeBinary(br)
	require.NoError(t, br.Err)

	require.Equal(t, p.Height(), out.Height())
	require.Equal(t, p.Type(), out.Type())
	require.Equal(t, p.ViewNumber(), out.ViewNumber())
	require.Equal(t, p.ValidatorIndex(), out.ValidatorIndex())
	require.Equal(t, p.Sender(), out.Sender())
	require.Equal(t, p.Signature(), out.Signature())
	require.Equal(t, p.Hash(), out.Hash())

	require.Equal(t, FallbackSlot, out.GetCommit().Slot())
	require.Equal(t, p.GetCommit().Signature(), out.GetCommit().Signature())

	require.NoError(t, out.Verify(priv.PublicKey().ScriptHash()))
}

// A PrepareRequest must also round-trip, including its variable-length
// transaction hash list.
func TestPrepareRequestPayloadRoundTrip(t *testing.T) {
	priv := testKey(t, 2)

	var prevHash common.Hash
	prevHash[0] = 0xCD
	var nextConsensus common.Address
	nextConsensus[0] = 0xEF

	hashes := make([]common.Hash, 3)
	for i := range hashes {
		hashes[i][31] = byte(i + 1)
	}

	pr := MakePrepareRequest(PrioritySlot, 1, prevHash, 1700000000, 99, hashes, nextConsensus)

	p := NewConsensusPayload()
	p.SetHeight(10)
	p.SetType(PrepareRequestType)
	p.SetViewNumber(0)
	p.SetValidatorIndex(1)
	p.SetPayload(pr)
	require.NoError(t, p.Sign(priv))

	buf := &bytes.Buffer{}
	bw := vio.NewBinWriterFromIO(buf)
	p.EncodeBinary(bw)
	bw.Flush()
	require.NoError(t, bw.Err)

	out := NewConsensusPayload()
	out.SetType(PrepareRequestType)
	out.SetPayload(NewPrepareRequest())

	br := vio.NewBinReaderFromIO(bytes.NewReader(buf.Bytes()))
	out.DecodeBinary(br)
	require.NoError(t, br.Err)

	got := out.GetPrepareRequest()
	require.Equal(t, PrioritySlot, got.Slot())
	require.Equal(t, pr.Version(), got.Version())
	require.Equal(t, pr.PrevHash(), got.PrevHash())
	require.Equal(t, pr.Timestamp(), got.Timestamp())
	require.Equal(t, pr.Nonce(), got.Nonce())
	require.Equal(t, pr.NextConsensus(), got.NextConsensus())
	require.Equal(t, pr.TransactionHashes(), got.TransactionHashes())
}

// Verify must reject a payload whose sender does not match the
// expected script hash, even when the signature itself is well formed.
func TestVerifyRejectsWrongSender(t *testing.T) {
	priv := testKey(t, 3)
	other := testKey(t, 4)

	p := NewConsensusPayload()
	p.SetHeight(1)
	p.SetType(CommitType)
	p.SetPayload(MakeCommit(PrioritySlot, make([]byte, 65)))
	require.NoError(t, p.Sign(priv))

	require.Error(t, p.Verify(other.PublicKey().ScriptHash()))
	require.NoError(t, p.Verify(priv.PublicKey().ScriptHash()))
}

// Mutating any header field after Hash has been computed must
// invalidate the cached hash, so the next Hash reflects the new field.
func TestHashInvalidatedOnMutation(t *testing.T) {
	p := NewConsensusPayload()
	p.SetHeight(1)
	p.SetType(CommitType)
	p.SetPayload(MakeCommit(PrioritySlot, make([]byte, 65)))

	h1 := p.Hash()
	p.SetViewNumber(1)
	h2 := p.Hash()

	require.NotEqual(t, h1, h2)
}
