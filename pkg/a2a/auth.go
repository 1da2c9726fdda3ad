package a2a

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

// IdentityRegistry is the external identity registry every request is
// verified against. It is consumed as an opaque client.
type IdentityRegistry interface {
	// PublicAddress returns the registered wallet address for callerID,
	// lower-cased hex with 0x prefix. ok is false if the caller is not
	// registered.
	PublicAddress(callerID string) (address string, ok bool)
}

// signedEnvelope is the canonical payload a caller signs: method, params,
// and a caller-chosen nonce, msgpack-encoded with compact ints before
// hashing.
type signedEnvelope struct {
	Method string `msgpack:"method"`
	Params []byte `msgpack:"params"`
	Nonce  int64  `msgpack:"nonce"`
}

// digest produces the Keccak256 hash a caller must sign: the msgpack
// encoding of the request envelope, hashed.
func digest(method string, params []byte, nonce int64) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(signedEnvelope{Method: method, Params: params, Nonce: nonce}); err != nil {
		return nil, fmt.Errorf("a2a: msgpack encode envelope: %w", err)
	}
	return crypto.Keccak256(buf.Bytes()), nil
}

// verifyCredential recovers the signer's address from req's signature
// over its own (method, params, nonce) and checks it matches the
// caller's registered address.
func verifyCredential(registry IdentityRegistry, req Request) error {
	wantAddr, ok := registry.PublicAddress(req.CallerID)
	if !ok {
		return fmt.Errorf("a2a: unknown caller %q", req.CallerID)
	}

	sigHex := strings.TrimPrefix(strings.TrimSpace(req.Signature), "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != 65 {
		return fmt.Errorf("a2a: malformed signature for caller %q", req.CallerID)
	}
	// crypto.Ecrecover/SigToPub expect a recovery id of 0/1, not the
	// Ethereum-style 27/28 some wallet signers produce.
	recoverSig := make([]byte, 65)
	copy(recoverSig, sig)
	if recoverSig[64] >= 27 {
		recoverSig[64] -= 27
	}

	msg, err := digest(req.Method, req.Params, req.Nonce)
	if err != nil {
		return err
	}
	pub, err := crypto.SigToPub(msg, recoverSig)
	if err != nil {
		return fmt.Errorf("a2a: recover signer: %w", err)
	}
	gotAddr := strings.ToLower(crypto.PubkeyToAddress(*pub).Hex())
	if gotAddr != strings.ToLower(wantAddr) {
		return fmt.Errorf("a2a: signature does not match registered address for caller %q", req.CallerID)
	}
	return nil
}

// StaticRegistry is an in-memory IdentityRegistry for tests and
// single-process wiring.
type StaticRegistry struct {
	addresses map[string]string
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{addresses: make(map[string]string)}
}

func (r *StaticRegistry) Register(callerID, address string) {
	r.addresses[callerID] = strings.ToLower(address)
}

func (r *StaticRegistry) PublicAddress(callerID string) (string, bool) {
	addr, ok := r.addresses[callerID]
	return addr, ok
}
