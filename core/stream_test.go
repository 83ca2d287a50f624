package core

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newTestContext() (*Context, *clock.Mock) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1000, 0))
	ctx := &Context{
		Store:   NewMemStore(),
		Clock:   mock,
		Signers: MapSigners{},
		FeeSink: PublicKey{0xFE},
	}
	ctx.Log = nil
	return ctx, mock
}

func key(b byte) PublicKey {
	var k PublicKey
	k[0] = b
	return k
}

func sign(ctx *Context, keys ...PublicKey) {
	m := ctx.Signers.(MapSigners)
	for _, k := range keys {
		m[k] = struct{}{}
	}
}

func at(mock *clock.Mock, unix int64) {
	mock.Set(time.Unix(unix, 0))
}

// scenario 1: linear release over [1000, 2000) of 1000 units.
func TestLinearRelease(t *testing.T) {
	ctx, mock := newTestContext()
	sender, recipient := key(1), key(2)
	sign(ctx, sender)

	if err := Deposit(ctx, sender, AssetRef{Kind: AssetNative}, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := CreateStream(ctx, sender, recipient, AssetRef{Kind: AssetNative}, 1000, 2000, 1000, true); err != nil {
		t.Fatalf("create: %v", err)
	}

	at(mock, 1500)
	got, err := Withdraw(ctx, sender, recipient, 0)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got != 500 {
		t.Fatalf("withdrew %d, want 500", got)
	}

	recipientVault, err := LoadVault(ctx, recipient, AssetRef{Kind: AssetNative})
	if err != nil {
		t.Fatalf("load recipient vault: %v", err)
	}
	commission, net := SplitRelease(500)
	if recipientVault.Balance != net {
		t.Fatalf("recipient balance %d, want %d", recipientVault.Balance, net)
	}
	feeVault, _ := LoadVault(ctx, ctx.FeeSink, AssetRef{Kind: AssetNative})
	if feeVault.Balance != commission {
		t.Fatalf("fee sink balance %d, want %d", feeVault.Balance, commission)
	}
}

// scenario 2: pause then resume shifts the window forward by the paused
// duration (variant A).
func TestPauseResumeShiftsWindow(t *testing.T) {
	ctx, mock := newTestContext()
	sender, recipient := key(1), key(2)
	sign(ctx, sender)

	if err := Deposit(ctx, sender, AssetRef{Kind: AssetNative}, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := CreateStream(ctx, sender, recipient, AssetRef{Kind: AssetNative}, 1000, 2000, 1000, true); err != nil {
		t.Fatalf("create: %v", err)
	}

	at(mock, 1400)
	if err := Pause(ctx, sender, recipient); err != nil {
		t.Fatalf("pause: %v", err)
	}
	rec, _, err := LoadStream(ctx, sender, recipient)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.WithdrawLimit != 400 {
		t.Fatalf("withdrawLimit %d, want 400", rec.WithdrawLimit)
	}

	at(mock, 1600)
	if _, err := Withdraw(ctx, sender, recipient, 500); err == nil {
		t.Fatalf("withdraw of 500 while paused should fail")
	}

	if err := Resume(ctx, sender, recipient); err != nil {
		t.Fatalf("resume: %v", err)
	}
	rec, _, err = LoadStream(ctx, sender, recipient)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if rec.StartTime != 1200 || rec.EndTime != 2200 {
		t.Fatalf("window after resume = [%d,%d), want [1200,2200)", rec.StartTime, rec.EndTime)
	}
}

// scenario 3: a vault withdraw is blocked by what an open stream still
// reserves, but succeeds once requesting only the truly spare balance.
func TestVaultWithdrawBlockedByReservation(t *testing.T) {
	ctx, mock := newTestContext()
	sender, recipient := key(1), key(2)
	sign(ctx, sender)

	if err := Deposit(ctx, sender, AssetRef{Kind: AssetNative}, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := CreateStream(ctx, sender, recipient, AssetRef{Kind: AssetNative}, 1000, 2000, 1000, true); err != nil {
		t.Fatalf("create: %v", err)
	}

	at(mock, 1200)
	if err := Deposit(ctx, sender, AssetRef{Kind: AssetNative}, 100); err != nil {
		t.Fatalf("top up: %v", err)
	}
	if err := WithdrawFromVault(ctx, sender, AssetRef{Kind: AssetNative}, 950, false); err == nil {
		t.Fatalf("withdraw of 950 should fail, 1000 still reserved")
	} else if !AsError(err, KindStreamedAmt) {
		t.Fatalf("unexpected error kind: %v", err)
	}
	if err := WithdrawFromVault(ctx, sender, AssetRef{Kind: AssetNative}, 50, false); err != nil {
		t.Fatalf("withdraw of 50 should succeed: %v", err)
	}
	v, err := LoadVault(ctx, sender, AssetRef{Kind: AssetNative})
	if err != nil {
		t.Fatalf("load vault: %v", err)
	}
	if v.Balance != 1050 {
		t.Fatalf("vault balance %d, want 1050", v.Balance)
	}
}

// scenario 4: a 2-of-3 multisig stream unpauses once threshold is met and a
// repeat signer is rejected. The pre-start reject half of the scenario is
// TestMultisigRejectBeforeStartRefundsReservation.
func TestMultisigTwoOfThree(t *testing.T) {
	ctx, mock := newTestContext()
	a, b, c := key(0xA), key(0xB), key(0xC)
	recipient := key(0xD)
	sign(ctx, a, b, c)
	at(mock, 5)

	g, err := CreateMultisigGroup(ctx, []PublicKey{a, b, c}, 2)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := Deposit(ctx, g.Safe, AssetRef{Kind: AssetNative}, 500); err != nil {
		t.Fatalf("fund safe: %v", err)
	}

	if _, err := CreateMultisigStream(ctx, a, recipient, g.Safe, AssetRef{Kind: AssetNative}, 10, 20, 500, true); err != nil {
		t.Fatalf("create multisig stream: %v", err)
	}

	if err := SignMultisigStream(ctx, g.Safe, recipient, a); err != nil {
		t.Fatalf("a signs: %v", err)
	}
	if err := SignMultisigStream(ctx, g.Safe, recipient, b); err != nil {
		t.Fatalf("b signs: %v", err)
	}
	rec, _, err := LoadStream(ctx, g.Safe, recipient)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.Paused {
		t.Fatalf("stream should have unpaused at threshold 2")
	}

	if err := SignMultisigStream(ctx, g.Safe, recipient, a); err == nil {
		t.Fatalf("repeat signature by a should fail")
	} else if !AsError(err, KindPublicKeyMismatch) {
		t.Fatalf("unexpected error kind: %v", err)
	}
}

func TestMultisigRejectBeforeStartRefundsReservation(t *testing.T) {
	ctx, mock := newTestContext()
	a, b, c := key(0xA), key(0xB), key(0xC)
	recipient := key(0xD)
	sign(ctx, a, b, c)
	at(mock, 5)

	g, err := CreateMultisigGroup(ctx, []PublicKey{a, b, c}, 2)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := Deposit(ctx, g.Safe, AssetRef{Kind: AssetNative}, 500); err != nil {
		t.Fatalf("fund safe: %v", err)
	}
	if _, err := CreateMultisigStream(ctx, a, recipient, g.Safe, AssetRef{Kind: AssetNative}, 10, 20, 500, true); err != nil {
		t.Fatalf("create multisig stream: %v", err)
	}

	if err := RejectMultisigStream(ctx, g.Safe, recipient, c); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, exists, _ := LoadStream(ctx, g.Safe, recipient); exists {
		t.Fatalf("rejected stream record should be gone")
	}
	led, err := LoadReservation(ctx, g.Safe, AssetRef{Kind: AssetNative}, true)
	if err != nil {
		t.Fatalf("load reservation: %v", err)
	}
	if led.Reserved != 0 {
		t.Fatalf("reservation %d, want 0 after reject", led.Reserved)
	}
}

// scenario 5: cancelling mid-flight pays the recipient only what has
// vested so far and returns the rest to the sender via the reservation.
func TestCancelMidFlight(t *testing.T) {
	ctx, mock := newTestContext()
	sender, recipient := key(1), key(2)
	sign(ctx, sender)

	if err := Deposit(ctx, sender, AssetRef{Kind: AssetNative}, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := CreateStream(ctx, sender, recipient, AssetRef{Kind: AssetNative}, 1000, 2000, 1000, true); err != nil {
		t.Fatalf("create: %v", err)
	}

	at(mock, 1300)
	if err := Cancel(ctx, sender, recipient); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, exists, err := LoadStream(ctx, sender, recipient)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if exists {
		t.Fatalf("cancelled stream record should be deleted")
	}

	commission, net := SplitRelease(300)
	recipientVault, _ := LoadVault(ctx, recipient, AssetRef{Kind: AssetNative})
	if recipientVault.Balance != net {
		t.Fatalf("recipient balance %d, want %d", recipientVault.Balance, net)
	}
	feeVault, _ := LoadVault(ctx, ctx.FeeSink, AssetRef{Kind: AssetNative})
	if feeVault.Balance != commission {
		t.Fatalf("fee sink balance %d, want %d", feeVault.Balance, commission)
	}

	led, err := LoadReservation(ctx, sender, AssetRef{Kind: AssetNative}, false)
	if err != nil {
		t.Fatalf("load reservation: %v", err)
	}
	if led.Reserved != 0 {
		t.Fatalf("reservation %d, want 0 after cancel", led.Reserved)
	}
}

func TestCancelBeforeStartPaysNothing(t *testing.T) {
	ctx, mock := newTestContext()
	sender, recipient := key(1), key(2)
	sign(ctx, sender)
	_ = mock

	if err := Deposit(ctx, sender, AssetRef{Kind: AssetNative}, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := CreateStream(ctx, sender, recipient, AssetRef{Kind: AssetNative}, 1500, 2000, 1000, true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := Cancel(ctx, sender, recipient); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	recipientVault, _ := LoadVault(ctx, recipient, AssetRef{Kind: AssetNative})
	if recipientVault.Balance != 0 {
		t.Fatalf("recipient balance %d, want 0 before stream start", recipientVault.Balance)
	}
}

// scenario 6: a transfer proposal executes the instant its threshold is
// reached, moving funds straight out of the safe's vault.
func TestTransferProposalExecutesAtThreshold(t *testing.T) {
	ctx, mock := newTestContext()
	a, b, c := key(0xA), key(0xB), key(0xC)
	to := key(0xE)
	sign(ctx, a, b, c)
	_ = mock

	g, err := CreateMultisigGroup(ctx, []PublicKey{a, b, c}, 2)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := Deposit(ctx, g.Safe, AssetRef{Kind: AssetNative}, 200); err != nil {
		t.Fatalf("fund safe: %v", err)
	}

	p, err := ProposeTransfer(ctx, g.Safe, to, a, AssetRef{Kind: AssetNative}, 150)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	p, err = SignProposal(ctx, p.ID, a)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if p.Executed {
		t.Fatalf("proposal should not execute below threshold 2")
	}
	p, err = SignProposal(ctx, p.ID, b)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !p.Executed {
		t.Fatalf("proposal should have executed at threshold 2")
	}
	toVault, _ := LoadVault(ctx, to, AssetRef{Kind: AssetNative})
	if toVault.Balance != 150 {
		t.Fatalf("recipient balance %d, want 150", toVault.Balance)
	}
}

func TestReleasedCalculator(t *testing.T) {
	cases := []struct {
		now, start, end int64
		amount, want    uint64
	}{
		{500, 1000, 2000, 1000, 0},
		{1000, 1000, 2000, 1000, 0},
		{1500, 1000, 2000, 1000, 500},
		{1999, 1000, 2000, 1000, 999},
		{2000, 1000, 2000, 1000, 1000},
		{3000, 1000, 2000, 1000, 1000},
	}
	for _, c := range cases {
		got := Released(c.now, c.start, c.end, c.amount)
		if got != c.want {
			t.Errorf("Released(%d,%d,%d,%d) = %d, want %d", c.now, c.start, c.end, c.amount, got, c.want)
		}
	}
}
