package core

// HD signer wallet for operator-side key management. Stream senders and
// recipients are named by their raw ed25519 public key (PublicKey is the
// key itself, not a hashed address -- see types.go), so derivation here
// stops at the ed25519 keypair rather than hashing it down to a shorter
// account id the way an account-model chain's wallet would.

import (
	"crypto/ed25519"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/ripemd160"
)

const (
	hardenedOffset uint32 = 0x80000000
	masterHMACKey         = "ed25519 seed"
)

// HDWallet holds master key material derived from a BIP-39 seed. Only
// hardened derivation is offered since ed25519 has no unhardened children.
type HDWallet struct {
	seed        []byte
	masterKey   []byte
	masterChain []byte
}

// NewRandomWallet generates entropyBits of randomness and returns the
// resulting wallet alongside its recovery mnemonic. Callers must record or
// securely wipe the mnemonic; it is not retained by the wallet itself.
func NewRandomWallet(entropyBits int) (*HDWallet, string, error) {
	if entropyBits != 128 && entropyBits != 256 {
		return nil, "", fmt.Errorf("unsupported entropy size %d", entropyBits)
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, "", fmt.Errorf("entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", fmt.Errorf("mnemonic: %w", err)
	}
	w, err := NewHDWalletFromSeed(bip39.NewSeed(mnemonic, ""))
	if err != nil {
		return nil, "", err
	}
	return w, mnemonic, nil
}

// WalletFromMnemonic re-derives a wallet from a previously recorded phrase.
func WalletFromMnemonic(mnemonic, passphrase string) (*HDWallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic checksum")
	}
	return NewHDWalletFromSeed(bip39.NewSeed(mnemonic, passphrase))
}

func NewHDWalletFromSeed(seed []byte) (*HDWallet, error) {
	if len(seed) < 16 {
		return nil, errors.New("seed too short")
	}
	i := hmacSHA512([]byte(masterHMACKey), seed)
	return &HDWallet{seed: seed, masterKey: i[:32], masterChain: i[32:]}, nil
}

func hmacSHA512(key, data []byte) []byte {
	h := hmac.New(sha512.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// derivePrivate returns the key material and chain code for a hardened
// child index; index must already carry hardenedOffset.
func derivePrivate(parentKey, parentChain []byte, index uint32) (key, ccode []byte, err error) {
	if index < hardenedOffset {
		return nil, nil, errors.New("non-hardened derivation not supported for ed25519")
	}
	data := make([]byte, 1+32+4)
	copy(data[1:], parentKey)
	binary.BigEndian.PutUint32(data[33:], index)
	i := hmacSHA512(parentChain, data)
	return i[:32], i[32:], nil
}

// SignerKey derives the ed25519 keypair at path m/account'/index' and
// returns its public half as a PublicKey usable directly as a stream
// sender, recipient, or multisig signer.
func (w *HDWallet) SignerKey(account, index uint32) (ed25519.PrivateKey, PublicKey, error) {
	account |= hardenedOffset
	index |= hardenedOffset

	k1, c1, err := derivePrivate(w.masterKey, w.masterChain, account)
	if err != nil {
		return nil, PublicKey{}, err
	}
	k2, _, err := derivePrivate(k1, c1, index)
	if err != nil {
		return nil, PublicKey{}, err
	}
	priv := ed25519.NewKeyFromSeed(k2)
	pub := priv.Public().(ed25519.PublicKey)
	var out PublicKey
	copy(out[:], pub)
	return priv, out, nil
}

// Fingerprint returns a short, non-reversible identifier for a key, used in
// CLI output and logs where printing the full 32-byte key would be noisy.
// It deliberately reuses the ripemd160 digest an account-model chain
// would use for its address, even though this engine's PublicKey
// never gets shortened that way on the wire.
func Fingerprint(pub PublicKey) string {
	r := ripemd160.New()
	r.Write(pub[:])
	return PublicKey(mustPad20(r.Sum(nil))).Short()
}

func mustPad20(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}

// RandomEntropy returns cryptographically secure random bytes, sized in
// bits (must be a multiple of 32), for callers building their own mnemonic
// pipeline instead of going through NewRandomWallet.
func RandomEntropy(bits int) ([]byte, error) {
	if bits%32 != 0 {
		return nil, errors.New("entropy bits must be multiple of 32")
	}
	b := make([]byte, bits/8)
	if _, err := crand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Wipe zeroes a byte slice in place; best-effort, the GC may have copied it.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
