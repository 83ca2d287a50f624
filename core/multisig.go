package core

import "encoding/json"

const (
	multisigGroupNamespace = "msig_group"
	proposalNamespace      = "msig_proposal"
)

// MultisigGroup records the signer set, approval threshold and vault safe
// address for an m-of-n authorization group (spec §4.6). It is written
// once at group creation and never mutated afterward; membership changes
// require a new group.
type MultisigGroup struct {
	Safe      PublicKey   `json:"safe"`
	Signers   []PublicKey `json:"signers"`
	Threshold int         `json:"threshold"`
}

func (g *MultisigGroup) isSigner(k PublicKey) bool {
	for _, s := range g.Signers {
		if s == k {
			return true
		}
	}
	return false
}

func groupKey(safe PublicKey) []byte {
	return cellKey(multisigGroupNamespace, safe)
}

func LoadMultisigGroup(ctx *Context, safe PublicKey) (*MultisigGroup, error) {
	raw, ok := ctx.Store.Get(groupKey(safe))
	if !ok {
		return nil, Fail(KindEscrowMismatch, "no multisig group for safe %s", safe.Short())
	}
	var g MultisigGroup
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, Fail(KindInvalidInstruction, "corrupt multisig group cell: %v", err)
	}
	return &g, nil
}

func (g *MultisigGroup) Save(ctx *Context) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return Fail(KindInvalidInstruction, "encode multisig group cell: %v", err)
	}
	return ctx.Store.Set(groupKey(g.Safe), raw)
}

// CreateMultisigGroup writes a fresh (signers, m, safe) record, the sole
// setup step before the safe can own streams (spec §4.6). No reservation
// ledger cell is written: an absent ledger reads as zero (LoadReservation).
// Signers must be distinct and threshold must be reachable.
func CreateMultisigGroup(ctx *Context, signers []PublicKey, threshold int) (*MultisigGroup, error) {
	if threshold <= 0 || threshold > len(signers) {
		return nil, Fail(KindInvalidInstruction, "threshold %d invalid for %d signers", threshold, len(signers))
	}
	seen := make(map[PublicKey]struct{}, len(signers))
	for _, s := range signers {
		if _, dup := seen[s]; dup {
			return nil, Fail(KindInvalidInstruction, "duplicate signer %s in group", s.Short())
		}
		seen[s] = struct{}{}
	}

	// The safe's address is derived from the first signer; callers name a
	// canonical "lead" signer by ordering the slice (spec §4.6 leaves the
	// exact seed choice to the implementer).
	safe := MultisigSafeAddress(signers[0])

	g := &MultisigGroup{Safe: safe, Signers: signers, Threshold: threshold}
	if err := g.Save(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// multisigThresholdMet reports whether rec has accumulated enough
// approvals to leave its paused, pending-approval state.
func multisigThresholdMet(ctx *Context, rec *StreamRecord) bool {
	if rec.MultisigSafe == nil {
		return true
	}
	g, err := LoadMultisigGroup(ctx, *rec.MultisigSafe)
	if err != nil {
		return false
	}
	return len(rec.SignedBy) >= g.Threshold
}

// CreateMultisigStream opens a stream owned by a multisig safe. It starts
// paused with an empty signedBy set regardless of the caller, per spec
// §4.6; any group member may be the one to submit the creation.
func CreateMultisigStream(ctx *Context, caller, recipient, safe PublicKey, asset AssetRef, start, end int64, amount uint64, canCancel bool) (*StreamRecord, error) {
	g, err := LoadMultisigGroup(ctx, safe)
	if err != nil {
		return nil, err
	}
	if !g.isSigner(caller) {
		return nil, Fail(KindMissingRequiredSignature, "%s is not a member of safe %s", caller.Short(), safe.Short())
	}
	if err := requireSigner(ctx, caller); err != nil {
		return nil, err
	}

	now := ctx.Now()
	if now >= end || start >= end {
		return nil, Fail(KindTimeEnd, "invalid window [%d,%d) at now=%d", start, end, now)
	}
	if _, exists, err := LoadStream(ctx, safe, recipient); err != nil {
		return nil, err
	} else if exists {
		return nil, Fail(KindStreamAlreadyCreated, "stream %s -> %s already exists", safe.Short(), recipient.Short())
	}

	led, err := LoadReservation(ctx, safe, asset, true)
	if err != nil {
		return nil, err
	}
	if err := led.AddReserved(amount); err != nil {
		return nil, err
	}
	if err := led.Save(ctx, true); err != nil {
		return nil, err
	}

	rec := &StreamRecord{
		StartTime:    start,
		EndTime:      end,
		Amount:       amount,
		Sender:       safe,
		Recipient:    recipient,
		MultisigSafe: &safe,
		Whitelist:    append([]PublicKey(nil), g.Signers...),
		CanCancel:    canCancel,
		Paused:       true,
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

// SignMultisigStream appends signer's approval, flipping paused to false
// once the group's threshold is reached. A member who has already signed
// (or who isn't a member at all) gets PublicKeyMismatch, matching the
// source's terse refusal (spec §8 scenario 4).
func SignMultisigStream(ctx *Context, safe, recipient, signer PublicKey) error {
	rec, exists, err := LoadStream(ctx, safe, recipient)
	if err != nil {
		return err
	}
	if !exists || !rec.IsMultisig() {
		return Fail(KindEscrowMismatch, "no multisig stream %s -> %s", safe.Short(), recipient.Short())
	}
	if err := requireSigner(ctx, signer); err != nil {
		return err
	}
	if !rec.memberOf(signer) {
		return Fail(KindPublicKeyMismatch, "%s is not a whitelisted signer", signer.Short())
	}
	for _, s := range rec.SignedBy {
		if s == signer {
			return Fail(KindPublicKeyMismatch, "%s has already signed", signer.Short())
		}
	}

	rec.SignedBy = append(rec.SignedBy, signer)
	if multisigThresholdMet(ctx, rec) {
		rec.Paused = false
		rec.PausedAt = 0
	}
	return rec.Save(ctx)
}

func (r *StreamRecord) memberOf(k PublicKey) bool {
	for _, m := range r.Whitelist {
		if m == k {
			return true
		}
	}
	return false
}

// RejectMultisigStream destroys a never-started record, whether or not it
// has reached its approval threshold, and backs out its reservation in full, refunding the
// sender's exposure without ever paying the recipient (spec §4.6, §8
// scenario 4).
func RejectMultisigStream(ctx *Context, safe, recipient, signer PublicKey) error {
	rec, exists, err := LoadStream(ctx, safe, recipient)
	if err != nil {
		return err
	}
	if !exists || !rec.IsMultisig() {
		return Fail(KindEscrowMismatch, "no multisig stream %s -> %s", safe.Short(), recipient.Short())
	}
	if err := requireSigner(ctx, signer); err != nil {
		return err
	}
	if !rec.memberOf(signer) {
		return Fail(KindPublicKeyMismatch, "%s is not a whitelisted signer", signer.Short())
	}
	if ctx.Now() >= rec.StartTime {
		return Fail(KindCancelNotAllowed, "cannot reject a stream that has already started")
	}

	led, err := LoadReservation(ctx, safe, rec.asset(), true)
	if err != nil {
		return err
	}
	if err := led.ReduceReserved(rec.Amount); err != nil {
		return err
	}
	if err := led.Save(ctx, true); err != nil {
		return err
	}
	return rec.Delete(ctx)
}

// TransferProposal is a one-shot m-of-n authorization to move funds out of
// a multisig safe directly, independent of any stream (spec §4.7).
type TransferProposal struct {
	ID        PublicKey   `json:"id"`
	Safe      PublicKey   `json:"safe"`
	To        PublicKey   `json:"to"`
	Asset     AssetRef    `json:"asset"`
	Amount    uint64      `json:"amount"`
	SignedBy  []PublicKey `json:"signed_by"`
	Executed  bool        `json:"executed"`
	CreatedBy PublicKey   `json:"created_by"`
}

func proposalKey(id PublicKey) []byte {
	return cellKey(proposalNamespace, id)
}

func LoadProposal(ctx *Context, id PublicKey) (*TransferProposal, error) {
	raw, ok := ctx.Store.Get(proposalKey(id))
	if !ok {
		return nil, Fail(KindEscrowMismatch, "no transfer proposal %s", id.Short())
	}
	var p TransferProposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, Fail(KindInvalidInstruction, "corrupt proposal cell: %v", err)
	}
	return &p, nil
}

func (p *TransferProposal) Save(ctx *Context) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return Fail(KindInvalidInstruction, "encode proposal cell: %v", err)
	}
	return ctx.Store.Set(proposalKey(p.ID), raw)
}

func (p *TransferProposal) Delete(ctx *Context) error {
	return ctx.Store.Delete(proposalKey(p.ID))
}

// ProposeTransfer creates a pending TransferProposal against a multisig
// safe's vault. The proposal's own address, derived from (safe, to, a
// nonce-free seed), is its id.
func ProposeTransfer(ctx *Context, safe, to, creator PublicKey, asset AssetRef, amount uint64) (*TransferProposal, error) {
	g, err := LoadMultisigGroup(ctx, safe)
	if err != nil {
		return nil, err
	}
	if !g.isSigner(creator) {
		return nil, Fail(KindMissingRequiredSignature, "%s is not a member of safe %s", creator.Short(), safe.Short())
	}
	if err := requireSigner(ctx, creator); err != nil {
		return nil, err
	}

	id, _, err := Derive(nil, "transfer_proposal", safe, &to)
	if err != nil {
		return nil, err
	}
	p := &TransferProposal{ID: id, Safe: safe, To: to, Asset: asset, Amount: amount, CreatedBy: creator}
	if err := p.Save(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// SignProposal adds signer's approval and executes the transfer the
// instant the group's threshold is reached, moving funds straight out of
// the safe's vault into to's vault and deleting the proposal cell.
func SignProposal(ctx *Context, id, signer PublicKey) (*TransferProposal, error) {
	p, err := LoadProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Executed {
		return nil, Fail(KindAlreadyWithdrawn, "proposal %s already executed", id.Short())
	}
	g, err := LoadMultisigGroup(ctx, p.Safe)
	if err != nil {
		return nil, err
	}
	if !g.isSigner(signer) {
		return nil, Fail(KindPublicKeyMismatch, "%s is not a whitelisted signer", signer.Short())
	}
	if err := requireSigner(ctx, signer); err != nil {
		return nil, err
	}
	for _, s := range p.SignedBy {
		if s == signer {
			return nil, Fail(KindPublicKeyMismatch, "%s has already signed", signer.Short())
		}
	}
	p.SignedBy = append(p.SignedBy, signer)

	if len(p.SignedBy) < g.Threshold {
		return p, p.Save(ctx)
	}

	avail, err := Available(ctx, p.Safe, p.Asset, true)
	if err != nil {
		return nil, err
	}
	if p.Amount > avail {
		return nil, Fail(KindInsufficientFunds, "proposal %s exceeds available safe balance", id.Short())
	}
	if err := payOut(ctx, p.Safe, p.To, p.Asset, p.Amount); err != nil {
		return nil, err
	}
	p.Executed = true
	return p, p.Delete(ctx)
}

// RejectProposal destroys a not-yet-executed proposal outright; any single
// member may veto since execution requires unanimous accumulation toward
// threshold, not unanimous consent to proceed.
func RejectProposal(ctx *Context, id, signer PublicKey) error {
	p, err := LoadProposal(ctx, id)
	if err != nil {
		return err
	}
	if p.Executed {
		return Fail(KindAlreadyWithdrawn, "proposal %s already executed", id.Short())
	}
	g, err := LoadMultisigGroup(ctx, p.Safe)
	if err != nil {
		return err
	}
	if !g.isSigner(signer) {
		return Fail(KindPublicKeyMismatch, "%s is not a whitelisted signer", signer.Short())
	}
	if err := requireSigner(ctx, signer); err != nil {
		return err
	}
	return p.Delete(ctx)
}
