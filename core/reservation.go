package core

import "encoding/json"

const reservationNamespace = "reservation"

// ReservationLedger tracks how much of a vault's balance is already
// promised to open streams, so a vault withdrawal can never pull out funds
// a stream is still owed (spec §4.3, invariant I-3).
type ReservationLedger struct {
	Owner    PublicKey `json:"owner"`
	Asset    AssetRef  `json:"asset"`
	Reserved uint64    `json:"reserved"`
}

func reservationKey(owner PublicKey, asset AssetRef, ownerIsMultisig bool) []byte {
	addr := ReservationAddress(owner, asset, ownerIsMultisig)
	return cellKey(reservationNamespace, addr)
}

// LoadReservation returns the ledger for (owner, asset), or a fresh
// zero-reserved ledger if the cell does not exist yet -- an absent cell and
// an explicit zero are equivalent, matching the "close on zero" rule.
func LoadReservation(ctx *Context, owner PublicKey, asset AssetRef, ownerIsMultisig bool) (*ReservationLedger, error) {
	raw, ok := ctx.Store.Get(reservationKey(owner, asset, ownerIsMultisig))
	if !ok {
		return &ReservationLedger{Owner: owner, Asset: asset}, nil
	}
	var led ReservationLedger
	if err := json.Unmarshal(raw, &led); err != nil {
		return nil, Fail(KindInvalidInstruction, "corrupt reservation ledger: %v", err)
	}
	return &led, nil
}

// Save persists the ledger, or deletes the cell entirely once Reserved
// drops back to zero -- an empty reservation ledger carries no information
// worth the storage, and absence is what LoadReservation already treats as
// zero.
func (l *ReservationLedger) Save(ctx *Context, ownerIsMultisig bool) error {
	key := reservationKey(l.Owner, l.Asset, ownerIsMultisig)
	if l.Reserved == 0 {
		return ctx.Store.Delete(key)
	}
	raw, err := json.Marshal(l)
	if err != nil {
		return Fail(KindInvalidInstruction, "encode reservation ledger: %v", err)
	}
	return ctx.Store.Set(key, raw)
}

// AddReserved increases the reserved amount by delta, used when a stream is
// created or funded.
func (l *ReservationLedger) AddReserved(delta uint64) error {
	sum, err := CheckedAdd(l.Reserved, delta)
	if err != nil {
		return err
	}
	l.Reserved = sum
	return nil
}

// ReduceReserved decreases the reserved amount by delta, used as a stream's
// remaining obligation shrinks (withdraw, cancel). delta must never exceed
// the current reservation; a caller asking to reduce past zero has a bug
// upstream, surfaced as Overflow rather than silently clamped.
func (l *ReservationLedger) ReduceReserved(delta uint64) error {
	diff, err := CheckedSub(l.Reserved, delta)
	if err != nil {
		return err
	}
	l.Reserved = diff
	return nil
}
