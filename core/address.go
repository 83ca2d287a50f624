package core

import "crypto/sha256"

// Tag strings fixed by the wire format (spec §4.1); renaming any of these
// would silently orphan every cell derived under the old name.
const (
	TagWithdrawNative   = "withdraw_sol"
	TagWithdrawToken    = "withdraw_token"
	TagWithdrawMultisig = "withdraw_multisig_sol"
	TagMultisigSafe     = "multisig_safe"
)

const maxDeriveNonce = 255

// OffCurveChecker decides whether a candidate 32-byte value is usable as a
// derived account key. On the real host this is an Edwards-curve membership
// test (a valid derived address must NOT be a point on the curve, so no
// private key can ever claim it); that curve arithmetic lives in the host's
// account substrate, out of this core's scope (spec §1). DefaultOffCurve
// stands in for it so Derive stays a pure, host-independent function.
type OffCurveChecker func(candidate [32]byte) bool

// DefaultOffCurve treats the last byte of the candidate hash as the curve
// membership marker: values congruent to 0 mod 4 are deemed "on curve" and
// rejected, a 1-in-4 rejection rate. It is deterministic and injectable so
// tests can force exhaustion.
func DefaultOffCurve(candidate [32]byte) bool {
	return candidate[31]%4 != 0
}

// Derive iterates a nonce downward from 255, hashing tag (optional) and the
// supplied keys together with the nonce, until OffCurveChecker accepts the
// result. It returns the derived address and the nonce that produced it;
// callers must re-present the same inputs to re-derive (and thereby
// authorize writes against) the cell later.
func Derive(check OffCurveChecker, tag string, key1 PublicKey, key2 *PublicKey) (PublicKey, uint8, error) {
	if check == nil {
		check = DefaultOffCurve
	}
	for nonce := maxDeriveNonce; nonce >= 0; nonce-- {
		h := sha256.New()
		if tag != "" {
			h.Write([]byte(tag))
		}
		h.Write(key1[:])
		if key2 != nil {
			h.Write(key2[:])
		}
		h.Write([]byte{byte(nonce)})

		var sum [32]byte
		copy(sum[:], h.Sum(nil))
		if check(sum) {
			return PublicKey(sum), uint8(nonce), nil
		}
	}
	return PublicKey{}, 0, Fail(KindPublicKeyMismatch, "no valid derivation found for tag %q", tag)
}

// VaultNativeAddress names the vault holding a sender's native balance. The
// stateless, tag-less form is also how the native Vault is addressed.
func VaultNativeAddress(sender PublicKey) PublicKey {
	addr, _, _ := Derive(nil, "", sender, nil)
	return addr
}

// ReservationNativeAddress names the native reservation ledger for sender.
func ReservationNativeAddress(sender PublicKey) PublicKey {
	addr, _, _ := Derive(nil, TagWithdrawNative, sender, nil)
	return addr
}

// ReservationTokenAddress names the per-mint token reservation ledger.
func ReservationTokenAddress(sender, mint PublicKey) PublicKey {
	addr, _, _ := Derive(nil, TagWithdrawToken, sender, &mint)
	return addr
}

// MultisigSafeAddress names the vault owned by a multisig group, keyed by
// the single key it is given. CreateMultisigGroup passes the group's first
// signer; there is no separate metadata-cell address to derive from.
func MultisigSafeAddress(multisigMeta PublicKey) PublicKey {
	addr, _, _ := Derive(nil, TagMultisigSafe, multisigMeta, nil)
	return addr
}

// MultisigReservationAddress names the reservation ledger for a multisig
// safe. When mint is non-nil the ledger is scoped to that token; otherwise
// it covers the safe's native balance.
func MultisigReservationAddress(safe PublicKey, mint *PublicKey) PublicKey {
	addr, _, _ := Derive(nil, TagWithdrawMultisig, safe, mint)
	return addr
}

// ReservationAddress picks the right derivation for an arbitrary (owner,
// asset) pair, covering both the single-sig and multisig-safe owner cases
// used throughout the dispatchers.
func ReservationAddress(owner PublicKey, asset AssetRef, ownerIsMultisig bool) PublicKey {
	if ownerIsMultisig {
		if asset.Kind == AssetToken {
			mint := asset.Mint
			return MultisigReservationAddress(owner, &mint)
		}
		return MultisigReservationAddress(owner, nil)
	}
	if asset.Kind == AssetToken {
		return ReservationTokenAddress(owner, asset.Mint)
	}
	return ReservationNativeAddress(owner)
}
