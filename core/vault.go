package core

import "encoding/json"

const vaultNamespace = "vault"

// RentExemptMinimum is the smallest balance a vault cell may be left with
// after a withdrawal; the host runtime would otherwise reclaim an
// under-funded account out from under an open stream (spec §4.2).
const RentExemptMinimum = 0

// Vault holds a single owner's balance in one asset, native or token. Every
// stream drawing against an owner pulls from the same vault, which is why
// the reservation ledger exists: many streams can share one balance.
type Vault struct {
	Owner   PublicKey `json:"owner"`
	Asset   AssetRef  `json:"asset"`
	Balance uint64    `json:"balance"`
}

func vaultAddress(owner PublicKey, asset AssetRef) PublicKey {
	if asset.Kind == AssetToken {
		addr, _, _ := Derive(nil, "token_vault", owner, &asset.Mint)
		return addr
	}
	return VaultNativeAddress(owner)
}

func vaultKey(owner PublicKey, asset AssetRef) []byte {
	return cellKey(vaultNamespace, vaultAddress(owner, asset))
}

// LoadVault returns owner's vault for asset, or a fresh zero-balance vault
// if none has been funded yet.
func LoadVault(ctx *Context, owner PublicKey, asset AssetRef) (*Vault, error) {
	raw, ok := ctx.Store.Get(vaultKey(owner, asset))
	if !ok {
		return &Vault{Owner: owner, Asset: asset}, nil
	}
	var v Vault
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, Fail(KindInvalidInstruction, "corrupt vault cell: %v", err)
	}
	return &v, nil
}

func (v *Vault) Save(ctx *Context) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return Fail(KindInvalidInstruction, "encode vault cell: %v", err)
	}
	return ctx.Store.Set(vaultKey(v.Owner, v.Asset), raw)
}

// Deposit credits amount into owner's vault, creating the cell on first use.
func Deposit(ctx *Context, owner PublicKey, asset AssetRef, amount uint64) error {
	v, err := LoadVault(ctx, owner, asset)
	if err != nil {
		return err
	}
	sum, err := CheckedAdd(v.Balance, amount)
	if err != nil {
		return err
	}
	v.Balance = sum
	return v.Save(ctx)
}

// Available returns the vault balance not already promised to open streams.
func Available(ctx *Context, owner PublicKey, asset AssetRef, ownerIsMultisig bool) (uint64, error) {
	v, err := LoadVault(ctx, owner, asset)
	if err != nil {
		return 0, err
	}
	led, err := LoadReservation(ctx, owner, asset, ownerIsMultisig)
	if err != nil {
		return 0, err
	}
	if led.Reserved >= v.Balance {
		return 0, nil
	}
	return v.Balance - led.Reserved, nil
}

// WithdrawFromVault pulls amount out of owner's own vault directly (the
// vault-level withdraw instruction, distinct from a stream payout), failing
// if doing so would dip into funds a live stream has reserved.
func WithdrawFromVault(ctx *Context, owner PublicKey, asset AssetRef, amount uint64, ownerIsMultisig bool) error {
	if err := requireSigner(ctx, owner); err != nil {
		return err
	}
	avail, err := Available(ctx, owner, asset, ownerIsMultisig)
	if err != nil {
		return err
	}
	if amount > avail {
		return Fail(KindStreamedAmt, "withdraw %d exceeds available %d (reserved funds protected)", amount, avail)
	}
	v, err := LoadVault(ctx, owner, asset)
	if err != nil {
		return err
	}
	v.Balance -= amount
	return v.Save(ctx)
}

// payOut moves amount directly from one vault to another, the mechanism
// behind every stream release: funds never leave the program's custody
// between sender and recipient, they move vault to vault.
func payOut(ctx *Context, from, to PublicKey, asset AssetRef, amount uint64) error {
	if amount == 0 {
		return nil
	}
	src, err := LoadVault(ctx, from, asset)
	if err != nil {
		return err
	}
	if src.Balance < amount {
		return Fail(KindInsufficientFunds, "vault %s has %d, needs %d", from.Short(), src.Balance, amount)
	}
	src.Balance -= amount
	if err := src.Save(ctx); err != nil {
		return err
	}
	return Deposit(ctx, to, asset, amount)
}
