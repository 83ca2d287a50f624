package core

import (
	"bytes"
	"encoding/binary"
)

const streamNamespace = "stream"

// Fixed-size layouts for the non-multisig record variants. These are the
// "canonical discriminators" the codec length-peeks against before
// deserializing a Stream Record cell (spec §4.9, §6): a cell of exactly
// nativeLegacyLen or tokenLegacyLen bytes predates the withdrawn/pausedAt
// fields and is read through the compatibility path only. New records are
// never written in a legacy size.
const (
	nativeCurrentLen = 120
	nativeLegacyLen  = 104
	tokenCurrentLen  = 152
	tokenLegacyLen   = 136
)

// StreamRecord is the full state of one live (or terminal, pending
// deletion) token stream. Fields mirror spec §4.2 exactly; Legacy and
// Whitelist are bookkeeping the Go rewrite needs to support the layout
// peek and multisig approval set respectively.
type StreamRecord struct {
	StartTime     int64
	EndTime       int64
	Paused        bool
	PausedAt      int64
	WithdrawLimit uint64
	Amount        uint64
	Withdrawn     uint64
	Sender        PublicKey
	Recipient     PublicKey
	TokenMint     *PublicKey

	MultisigSafe *PublicKey
	Whitelist    []PublicKey // group signers copied in at stream creation
	SignedBy     []PublicKey
	CanCancel    bool

	// Legacy marks a record read from a pre-withdrawn/pausedAt cell. Such
	// records reject pause/resume (the fields they'd need don't exist) but
	// remain withdrawable and cancellable, per spec §4.9's compatibility
	// handler.
	Legacy bool
}

func (r *StreamRecord) IsToken() bool     { return r.TokenMint != nil }
func (r *StreamRecord) IsMultisig() bool  { return r.MultisigSafe != nil }
func (r *StreamRecord) Completed() bool   { return r.Withdrawn >= r.Amount }
func (r *StreamRecord) NotStarted(now int64) bool { return now < r.StartTime }

func (r *StreamRecord) asset() AssetRef {
	if r.TokenMint != nil {
		return AssetRef{Kind: AssetToken, Mint: *r.TokenMint}
	}
	return AssetRef{Kind: AssetNative}
}

// owner is the vault this stream draws from: the sender directly, or the
// multisig safe once one is attached.
func (r *StreamRecord) owner() PublicKey {
	if r.MultisigSafe != nil {
		return *r.MultisigSafe
	}
	return r.Sender
}

func streamAddress(sender, recipient PublicKey) PublicKey {
	addr, _, _ := Derive(nil, "stream", sender, &recipient)
	return addr
}

func streamKey(sender, recipient PublicKey) []byte {
	return cellKey(streamNamespace, streamAddress(sender, recipient))
}

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putI64(buf *bytes.Buffer, v int64) { putU64(buf, uint64(v)) }

func putBoolU64(buf *bytes.Buffer, v bool) {
	if v {
		putU64(buf, 1)
	} else {
		putU64(buf, 0)
	}
}

func readU64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
func readI64(b []byte) int64  { return int64(readU64(b)) }

// encodeBase writes the fields shared by every layout: start, end, paused,
// withdrawLimit, amount, sender, recipient, and -- only for token streams --
// the token mint immediately after.
func (r *StreamRecord) encodeBase(buf *bytes.Buffer) {
	putI64(buf, r.StartTime)
	putI64(buf, r.EndTime)
	putBoolU64(buf, r.Paused)
	putU64(buf, r.WithdrawLimit)
	putU64(buf, r.Amount)
	buf.Write(r.Sender[:])
	buf.Write(r.Recipient[:])
	if r.TokenMint != nil {
		buf.Write(r.TokenMint[:])
	}
}

func encodeVec(buf *bytes.Buffer, keys []PublicKey) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(keys)))
	buf.Write(n[:])
	for _, k := range keys {
		buf.Write(k[:])
	}
}

// EncodeCurrent serializes r in the current (non-legacy) layout for its
// asset/multisig shape. New records are always written through this path;
// legacy layouts only ever arise from data written by a different build.
func (r *StreamRecord) EncodeCurrent() []byte {
	var buf bytes.Buffer
	r.encodeBase(&buf)

	if r.MultisigSafe == nil {
		putU64(&buf, r.Withdrawn)
		putI64(&buf, r.PausedAt)
		return buf.Bytes()
	}

	encodeVec(&buf, r.Whitelist)
	buf.Write(r.MultisigSafe[:])
	if r.CanCancel {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	encodeVec(&buf, r.SignedBy)
	putU64(&buf, r.Withdrawn)
	putI64(&buf, r.PausedAt)
	return buf.Bytes()
}

func decodeVec(raw []byte, offset int) (keys []PublicKey, next int, err error) {
	if offset+4 > len(raw) {
		return nil, 0, Fail(KindInvalidInstruction, "truncated vector count")
	}
	count := int(binary.LittleEndian.Uint32(raw[offset : offset+4]))
	offset += 4
	if offset+count*32 > len(raw) {
		return nil, 0, Fail(KindInvalidInstruction, "truncated vector entries")
	}
	keys = make([]PublicKey, count)
	for i := 0; i < count; i++ {
		copy(keys[i][:], raw[offset:offset+32])
		offset += 32
	}
	return keys, offset, nil
}

// decodeMultisigFrom attempts to parse a multisig trailer starting right
// after the base fields at baseLen, filling r in place and returning an
// error if the bytes don't fit -- used to disambiguate native- versus
// token-denominated multisig cells by trial.
func decodeMultisigFrom(raw []byte, baseLen int, tokenMint *PublicKey, r *StreamRecord) error {
	offset := baseLen
	whitelist, offset, err := decodeVec(raw, offset)
	if err != nil {
		return err
	}
	if offset+32+1 > len(raw) {
		return Fail(KindInvalidInstruction, "truncated multisig safe/canCancel")
	}
	var safe PublicKey
	copy(safe[:], raw[offset:offset+32])
	offset += 32
	canCancel := raw[offset] != 0
	offset++

	signedBy, offset, err := decodeVec(raw, offset)
	if err != nil {
		return err
	}

	rest := len(raw) - offset
	var withdrawn uint64
	var pausedAt int64
	legacy := true
	switch rest {
	case 0:
		// legacy: synthesize withdrawn from the escrow-style remaining
		// amount, per spec §9's compatibility rule.
		withdrawn = r.Amount - remainingForLegacy(r.Amount, r.WithdrawLimit)
	case 16:
		withdrawn = readU64(raw[offset : offset+8])
		pausedAt = readI64(raw[offset+8 : offset+16])
		legacy = false
	default:
		return Fail(KindInvalidInstruction, "unrecognized multisig trailer length")
	}

	r.TokenMint = tokenMint
	r.Whitelist = whitelist
	r.MultisigSafe = &safe
	r.CanCancel = canCancel
	r.SignedBy = signedBy
	r.Withdrawn = withdrawn
	r.PausedAt = pausedAt
	r.Legacy = legacy
	return nil
}

// remainingForLegacy mirrors the source's pre-withdrawn bookkeeping, where
// the escrow tracked what was left rather than what had been paid out.
// A legacy cell's withdrawLimit, when it lies strictly between zero and
// amount, is taken as the outstanding remainder; otherwise the whole
// committed amount is treated as still outstanding.
func remainingForLegacy(amount, withdrawLimit uint64) uint64 {
	if withdrawLimit > 0 && withdrawLimit < amount {
		return withdrawLimit
	}
	return amount
}

// DecodeStreamRecord peeks raw's length to pick a layout, per spec §4.9.
func DecodeStreamRecord(raw []byte) (*StreamRecord, error) {
	n := len(raw)
	r := &StreamRecord{}

	switch n {
	case nativeCurrentLen, nativeLegacyLen:
		r.StartTime = readI64(raw[0:8])
		r.EndTime = readI64(raw[8:16])
		r.Paused = readU64(raw[16:24]) != 0
		r.WithdrawLimit = readU64(raw[24:32])
		r.Amount = readU64(raw[32:40])
		copy(r.Sender[:], raw[40:72])
		copy(r.Recipient[:], raw[72:104])
		if n == nativeCurrentLen {
			r.Withdrawn = readU64(raw[104:112])
			r.PausedAt = readI64(raw[112:120])
		} else {
			r.Legacy = true
			r.Withdrawn = r.Amount - remainingForLegacy(r.Amount, r.WithdrawLimit)
		}
		return r, nil

	case tokenCurrentLen, tokenLegacyLen:
		r.StartTime = readI64(raw[0:8])
		r.EndTime = readI64(raw[8:16])
		r.Paused = readU64(raw[16:24]) != 0
		r.WithdrawLimit = readU64(raw[24:32])
		r.Amount = readU64(raw[32:40])
		copy(r.Sender[:], raw[40:72])
		copy(r.Recipient[:], raw[72:104])
		var mint PublicKey
		copy(mint[:], raw[104:136])
		r.TokenMint = &mint
		if n == tokenCurrentLen {
			r.Withdrawn = readU64(raw[136:144])
			r.PausedAt = readI64(raw[144:152])
		} else {
			r.Legacy = true
			r.Withdrawn = r.Amount - remainingForLegacy(r.Amount, r.WithdrawLimit)
		}
		return r, nil
	}

	if n < 104 {
		return nil, Fail(KindInvalidInstruction, "stream cell too short: %d bytes", n)
	}
	r.StartTime = readI64(raw[0:8])
	r.EndTime = readI64(raw[8:16])
	r.Paused = readU64(raw[16:24]) != 0
	r.WithdrawLimit = readU64(raw[24:32])
	r.Amount = readU64(raw[32:40])
	copy(r.Sender[:], raw[40:72])
	copy(r.Recipient[:], raw[72:104])

	if err := decodeMultisigFrom(raw, 104, nil, r); err == nil {
		return r, nil
	}
	if n < 136 {
		return nil, Fail(KindInvalidInstruction, "unrecognized stream cell length: %d bytes", n)
	}
	var mint PublicKey
	copy(mint[:], raw[104:136])
	if err := decodeMultisigFrom(raw, 136, &mint, r); err != nil {
		return nil, err
	}
	return r, nil
}

func LoadStream(ctx *Context, sender, recipient PublicKey) (*StreamRecord, bool, error) {
	raw, ok := ctx.Store.Get(streamKey(sender, recipient))
	if !ok {
		return nil, false, nil
	}
	rec, err := DecodeStreamRecord(raw)
	return rec, true, err
}

func (r *StreamRecord) Save(ctx *Context) error {
	return ctx.Store.Set(streamKey(r.Sender, r.Recipient), r.EncodeCurrent())
}

func (r *StreamRecord) Delete(ctx *Context) error {
	return ctx.Store.Delete(streamKey(r.Sender, r.Recipient))
}

// CreateStream opens a new single-sig stream, reserving its full amount
// against the sender's vault. Preconditions: now < end, start < end, and
// no existing record at (sender, recipient) (spec §4.3's creation rule).
func CreateStream(ctx *Context, sender, recipient PublicKey, asset AssetRef, start, end int64, amount uint64, canCancel bool) (*StreamRecord, error) {
	if err := requireSigner(ctx, sender); err != nil {
		return nil, err
	}
	now := ctx.Now()
	if now >= end || start >= end {
		return nil, Fail(KindTimeEnd, "invalid window [%d,%d) at now=%d", start, end, now)
	}
	if _, exists, err := LoadStream(ctx, sender, recipient); err != nil {
		return nil, err
	} else if exists {
		return nil, Fail(KindStreamAlreadyCreated, "stream %s -> %s already exists", sender.Short(), recipient.Short())
	}

	led, err := LoadReservation(ctx, sender, asset, false)
	if err != nil {
		return nil, err
	}
	if err := led.AddReserved(amount); err != nil {
		return nil, err
	}
	if err := led.Save(ctx, false); err != nil {
		return nil, err
	}

	rec := &StreamRecord{
		StartTime: start,
		EndTime:   end,
		Amount:    amount,
		Sender:    sender,
		Recipient: recipient,
		CanCancel: canCancel,
	}
	if asset.Kind == AssetToken {
		mint := asset.Mint
		rec.TokenMint = &mint
	}
	if err := rec.Save(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

// Withdraw releases whatever is currently claimable to the recipient,
// taking the fixed commission out of the release and crediting the fee
// sink (spec §4.5, §4.8). Anyone may trigger it; only the recipient is
// paid.
func Withdraw(ctx *Context, sender, recipient PublicKey, requested uint64) (uint64, error) {
	rec, exists, err := LoadStream(ctx, sender, recipient)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, Fail(KindEscrowMismatch, "no stream %s -> %s", sender.Short(), recipient.Short())
	}
	if rec.IsMultisig() && !multisigThresholdMet(ctx, rec) {
		return 0, Fail(KindStreamNotStarted, "multisig stream still pending approval")
	}

	now := ctx.Now()
	avail := Withdrawable(rec, now)
	if requested > avail {
		return 0, Fail(KindInsufficientFunds, "requested %d exceeds available %d", requested, avail)
	}
	amount := requested
	if amount == 0 {
		amount = avail
	}
	if amount == 0 {
		return 0, nil
	}

	commission, net := SplitRelease(amount)
	owner := rec.owner()
	asset := rec.asset()

	if err := payOut(ctx, owner, rec.Recipient, asset, net); err != nil {
		return 0, err
	}
	if commission > 0 {
		if err := payOut(ctx, owner, ctx.FeeSink, asset, commission); err != nil {
			return 0, err
		}
	}

	rec.Withdrawn += amount
	if rec.Paused {
		// amount <= avail <= WithdrawLimit, so this cannot underflow.
		rec.WithdrawLimit -= amount
	}
	led, err := LoadReservation(ctx, owner, asset, rec.IsMultisig())
	if err != nil {
		return 0, err
	}
	if err := led.ReduceReserved(amount); err != nil {
		return 0, err
	}
	if err := led.Save(ctx, rec.IsMultisig()); err != nil {
		return 0, err
	}

	if rec.Completed() {
		return amount, rec.Delete(ctx)
	}
	return amount, rec.Save(ctx)
}

// Cancel terminates a stream early. The recipient is paid whatever has
// vested but not yet been withdrawn (zero if cancelled before start, per
// spec §9's correction of the legacy bug); the remainder reverts to the
// sender's vault by simply releasing the reservation.
func Cancel(ctx *Context, sender, recipient PublicKey) error {
	rec, exists, err := LoadStream(ctx, sender, recipient)
	if err != nil {
		return err
	}
	if !exists {
		return Fail(KindEscrowMismatch, "no stream %s -> %s", sender.Short(), recipient.Short())
	}
	if rec.IsMultisig() {
		if err := requireGroupMember(ctx, rec); err != nil {
			return err
		}
		if !rec.CanCancel {
			return Fail(KindCancelNotAllowed, "multisig stream %s -> %s is not cancellable", sender.Short(), recipient.Short())
		}
	} else if err := requireSigner(ctx, sender); err != nil {
		return err
	}

	now := ctx.Now()
	released := Released(now, rec.StartTime, rec.EndTime, rec.Amount)
	owing := uint64(0)
	if released > rec.Withdrawn {
		owing = released - rec.Withdrawn
	}

	owner := rec.owner()
	asset := rec.asset()
	if owing > 0 {
		commission, net := SplitRelease(owing)
		if err := payOut(ctx, owner, rec.Recipient, asset, net); err != nil {
			return err
		}
		if commission > 0 {
			if err := payOut(ctx, owner, ctx.FeeSink, asset, commission); err != nil {
				return err
			}
		}
	}

	remaining := rec.Amount - rec.Withdrawn
	led, err := LoadReservation(ctx, owner, asset, rec.IsMultisig())
	if err != nil {
		return err
	}
	if err := led.ReduceReserved(remaining); err != nil {
		return err
	}
	if err := led.Save(ctx, rec.IsMultisig()); err != nil {
		return err
	}
	return rec.Delete(ctx)
}

// Pause freezes further release, snapshotting the currently-claimable
// remainder into withdrawLimit; withdraws while paused draw that limit
// down, so their total never exceeds the snapshot (spec §4.4).
func Pause(ctx *Context, sender, recipient PublicKey) error {
	rec, exists, err := LoadStream(ctx, sender, recipient)
	if err != nil {
		return err
	}
	if !exists {
		return Fail(KindEscrowMismatch, "no stream %s -> %s", sender.Short(), recipient.Short())
	}
	if rec.Legacy {
		return Fail(KindInvalidInstruction, "legacy stream record does not support pause")
	}
	if rec.IsMultisig() {
		if err := requireGroupMember(ctx, rec); err != nil {
			return err
		}
	} else if err := requireEitherSigner(ctx, sender, recipient); err != nil {
		return err
	}
	if rec.Paused {
		return Fail(KindAlreadyPaused, "stream %s -> %s already paused", sender.Short(), recipient.Short())
	}
	now := ctx.Now()
	if now < rec.StartTime {
		return Fail(KindStreamNotStarted, "stream has not started")
	}
	if now >= rec.EndTime {
		return Fail(KindTimeEnd, "stream already past end")
	}

	released := Released(now, rec.StartTime, rec.EndTime, rec.Amount)
	rec.Paused = true
	rec.PausedAt = now
	rec.WithdrawLimit = released - rec.Withdrawn
	return rec.Save(ctx)
}

// Resume reopens a paused stream under variant A (spec §4.4, §9): the
// window shifts forward by the paused duration, so the un-streamed
// remainder keeps its original duration instead of compressing.
func Resume(ctx *Context, sender, recipient PublicKey) error {
	rec, exists, err := LoadStream(ctx, sender, recipient)
	if err != nil {
		return err
	}
	if !exists {
		return Fail(KindEscrowMismatch, "no stream %s -> %s", sender.Short(), recipient.Short())
	}
	if rec.Legacy {
		return Fail(KindInvalidInstruction, "legacy stream record does not support resume")
	}
	if rec.IsMultisig() {
		if err := requireGroupMember(ctx, rec); err != nil {
			return err
		}
	} else if err := requireEitherSigner(ctx, sender, recipient); err != nil {
		return err
	}
	if !rec.Paused {
		return Fail(KindAlreadyResumed, "stream %s -> %s is not paused", sender.Short(), recipient.Short())
	}

	now := ctx.Now()
	shift := now - rec.PausedAt
	rec.StartTime += shift
	rec.EndTime += shift
	rec.Paused = false
	rec.PausedAt = 0
	rec.WithdrawLimit = 0
	return rec.Save(ctx)
}

// Fund tops up a stream's committed amount, incrementing the reservation
// ledger by the same delta (spec §9: "fund must do ledger.amount += delta,
// never overwrite"). It doubles as the fund-and-extend operation the
// Non-goals carve out as the one allowed retroactive parameter change:
// newEnd, when later than the stream's current end, pushes endTime out to
// match. The start time is kept, so Released is recomputed over the new
// amount and window: a larger amount raises what has vested by a given
// time and a later end lowers it.
func Fund(ctx *Context, sender, recipient PublicKey, newEnd int64, delta uint64) error {
	rec, exists, err := LoadStream(ctx, sender, recipient)
	if err != nil {
		return err
	}
	if !exists {
		return Fail(KindEscrowMismatch, "no stream %s -> %s", sender.Short(), recipient.Short())
	}
	if err := requireSigner(ctx, sender); err != nil {
		return err
	}
	if ctx.Now() >= rec.EndTime {
		return Fail(KindTimeEnd, "cannot fund a stream past its end")
	}

	amount, err := CheckedAdd(rec.Amount, delta)
	if err != nil {
		return err
	}
	rec.Amount = amount
	if newEnd > rec.EndTime {
		rec.EndTime = newEnd
	}

	led, err := LoadReservation(ctx, rec.owner(), rec.asset(), rec.IsMultisig())
	if err != nil {
		return err
	}
	if err := led.AddReserved(delta); err != nil {
		return err
	}
	if err := led.Save(ctx, rec.IsMultisig()); err != nil {
		return err
	}
	return rec.Save(ctx)
}
