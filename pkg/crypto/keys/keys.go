// Package keys implements the validator key material the consensus
// core depends on: it resolves a validator's public key to its
// single-sig redeem-script hash and verifies/produces commit
// signatures.
package keys

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// PublicKey wraps a secp256k1 public key used to identify a validator
// and verify its signatures.
type PublicKey struct {
	*ecdsa.PublicKey
}

// PublicKeys is a slice of PublicKey, sortable by compressed encoding.
type PublicKeys []*PublicKey

func (p PublicKeys) Len() int { return len(p) }
func (p PublicKeys) Swap(i, j int) { p[i], p[j] = p[j], p[i] }
func (p PublicKeys) Less(i, j int) bool {
	bi, bj := p[i].Bytes(), p[j].Bytes()
	for k := range bi {
		if bi[k] != bj[k] {
			return bi[k] < bj[k]
		}
	}
	return false
}

// PrivateKey wraps a secp256k1 private key used by a participating
// validator to sign its own consensus envelopes.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// NewPrivateKeyFromBytes builds a private key from its raw scalar.
func NewPrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, errors.New("invalid private key length")
	}

	priv, pub := btcec.PrivKeyFromBytes(b)

	return &PrivateKey{PrivateKey: &ecdsa.PrivateKey{
		PublicKey: *pub.ToECDSA(),
		D:         priv.ToECDSA().D,
	}}, nil
}

// PublicKey returns the public counterpart of the private key.
func (p *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{PublicKey: &p.PrivateKey.PublicKey}
}

// Sign produces a 65-byte recoverable signature over data's Keccak256
// hash, the same signing convention go-ethereum's accounts use.
func (p *PrivateKey) Sign(data []byte) ([]byte, error) {
	h := ethcrypto.Keccak256(data)
	return ethcrypto.Sign(h, p.PrivateKey)
}

// NewPublicKeyFromBytes decodes a compressed secp256k1 public key.
func NewPublicKeyFromBytes(b []byte) (*PublicKey, error) {
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}

	return &PublicKey{PublicKey: pub.ToECDSA()}, nil
}

// Bytes returns the compressed encoding of the public key.
func (p *PublicKey) Bytes() []byte {
	pk, err := btcec.ParsePubKey(ethcrypto.FromECDSAPub(p.PublicKey))
	if err != nil {
		// PublicKey was constructed from valid curve points, so this
		// can only fail on a programmer error upstream.
		return ethcrypto.CompressPubkey(p.PublicKey)
	}

	return pk.SerializeCompressed()
}

// Verify checks sig (as produced by PrivateKey.Sign) against data.
func (p *PublicKey) Verify(data, sig []byte) error {
	h := ethcrypto.Keccak256(data)
	if len(sig) == 65 {
		sig = sig[:64]
	}

	if !ethcrypto.VerifySignature(ethcrypto.FromECDSAPub(p.PublicKey), h, sig) {
		return errors.New("signature verification failed")
	}

	return nil
}

// RedeemScript returns the single-sig verification script for this
// key: a minimal "push pubkey, CHECKSIG" script, used only to derive
// the validator's script hash for sender authentication.
func (p *PublicKey) RedeemScript() []byte {
	pub := p.Bytes()
	script := make([]byte, 0, len(pub)+2)
	script = append(script, byte(len(pub)))
	script = append(script, pub...)
	script = append(script, 0xac) // CHECKSIG
	return script
}

// ScriptHash returns the Hash160 of the single-sig redeem script,
// i.e. the address an envelope's Sender field must match.
func (p *PublicKey) ScriptHash() common.Address {
	h := ethcrypto.Keccak256(p.RedeemScript())
	var addr common.Address
	copy(addr[:], h[12:])
	return addr
}

// Address renders the script hash in base58, for logs and CLI output.
func (p *PublicKey) Address() string {
	return base58.Encode(p.ScriptHash().Bytes())
}
