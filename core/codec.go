package core

import (
	"bytes"
	"encoding/binary"
)

// Tag is the leading byte of every instruction, selecting which operation
// the dispatcher runs and how the remaining bytes are shaped (spec §4.9).
type Tag uint8

const (
	TagNativeStreamCreate    Tag = 0
	TagNativeStreamWithdraw  Tag = 1
	TagNativeStreamCancel    Tag = 2
	TagTokenStreamCreate     Tag = 3
	TagNativeStreamPause     Tag = 4
	TagNativeStreamResume    Tag = 5
	TagTokenStreamWithdraw   Tag = 6
	TagNativeDeposit         Tag = 7
	TagTokenStreamCancel     Tag = 8
	TagTokenStreamPause      Tag = 9
	TagTokenStreamResume     Tag = 10
	TagTokenDeposit          Tag = 11
	TagNativeFund            Tag = 12
	TagTokenFund             Tag = 13
	TagNativeVaultWithdraw   Tag = 14
	TagTokenVaultWithdraw    Tag = 15
	TagMultisigCreate        Tag = 16
	TagNativeSwapVaultToSafe Tag = 17
	TagTokenSwapVaultToSafe  Tag = 18
	TagMultisigStreamSignN   Tag = 19
	TagMultisigNativeCreate  Tag = 20
	TagMultisigNativeWithdraw Tag = 21
	TagMultisigNativeCancel  Tag = 22
	TagMultisigNativePause   Tag = 23
	TagMultisigNativeResume  Tag = 24
	TagMultisigNativeReject  Tag = 25
	TagMultisigTokenCreate   Tag = 26
	TagMultisigTokenWithdraw Tag = 27
	TagMultisigTokenCancel   Tag = 28
	TagMultisigTokenPause    Tag = 29
	TagMultisigTokenResume   Tag = 30
	TagMultisigTokenReject   Tag = 31
	TagMultisigStreamSignT   Tag = 32

	TagProposeTransferNative Tag = 33
	TagProposeTransferToken  Tag = 34
	TagSignProposal          Tag = 35
	TagRejectProposal        Tag = 36
)

// Instruction is a decoded request: the tag plus whichever of the
// fixed-width integer fields that tag's shape carries. The variable-length
// multisig group creation shape fills Signers and Threshold and leaves the
// u64 fields at zero; proposal sign/reject fill only ProposalID.
type Instruction struct {
	Tag       Tag
	Start     int64
	End       int64
	Amount    uint64
	Threshold int
	Signers   []PublicKey
	ProposalID PublicKey
}

// DecodeInstruction parses the tag byte and the little-endian integer
// payload that follows it (spec §4.9). Multi-signer shapes are decoded
// with the same count-prefixed vector format the Stream Record trailer
// uses.
func DecodeInstruction(raw []byte) (*Instruction, error) {
	if len(raw) < 1 {
		return nil, Fail(KindInvalidInstruction, "empty instruction")
	}
	tag := Tag(raw[0])
	body := raw[1:]

	instr := &Instruction{Tag: tag}
	switch tag {
	case TagNativeStreamCreate, TagTokenStreamCreate, TagMultisigNativeCreate, TagMultisigTokenCreate:
		if len(body) < 24 {
			return nil, Fail(KindInvalidInstruction, "create instruction truncated")
		}
		instr.Start = int64(binary.LittleEndian.Uint64(body[0:8]))
		instr.End = int64(binary.LittleEndian.Uint64(body[8:16]))
		instr.Amount = binary.LittleEndian.Uint64(body[16:24])

	case TagNativeFund, TagTokenFund:
		if len(body) < 16 {
			return nil, Fail(KindInvalidInstruction, "fund instruction truncated")
		}
		instr.End = int64(binary.LittleEndian.Uint64(body[0:8]))
		instr.Amount = binary.LittleEndian.Uint64(body[8:16])

	case TagNativeDeposit, TagTokenDeposit, TagNativeVaultWithdraw, TagTokenVaultWithdraw,
		TagNativeStreamWithdraw, TagTokenStreamWithdraw, TagMultisigNativeWithdraw, TagMultisigTokenWithdraw,
		TagNativeSwapVaultToSafe, TagTokenSwapVaultToSafe,
		TagProposeTransferNative, TagProposeTransferToken:
		if len(body) < 8 {
			return nil, Fail(KindInvalidInstruction, "amount instruction truncated")
		}
		instr.Amount = binary.LittleEndian.Uint64(body[0:8])

	case TagNativeStreamCancel, TagTokenStreamCancel, TagNativeStreamPause, TagNativeStreamResume,
		TagTokenStreamPause, TagTokenStreamResume,
		TagMultisigNativeCancel, TagMultisigNativePause, TagMultisigNativeResume, TagMultisigNativeReject,
		TagMultisigTokenCancel, TagMultisigTokenPause, TagMultisigTokenResume, TagMultisigTokenReject,
		TagMultisigStreamSignN, TagMultisigStreamSignT:
		// no payload beyond the accounts list

	case TagMultisigCreate:
		signers, offset, err := decodeVec(body, 0)
		if err != nil {
			return nil, err
		}
		if offset+4 > len(body) {
			return nil, Fail(KindInvalidInstruction, "multisig create missing threshold")
		}
		instr.Signers = signers
		instr.Threshold = int(binary.LittleEndian.Uint32(body[offset : offset+4]))

	case TagSignProposal, TagRejectProposal:
		if len(body) < 32 {
			return nil, Fail(KindInvalidInstruction, "proposal instruction truncated")
		}
		copy(instr.ProposalID[:], body[0:32])

	default:
		return nil, Fail(KindInvalidInstruction, "unknown opcode tag %d", tag)
	}
	return instr, nil
}

// Accounts is the fixed, per-opcode-documented positional account list the
// host runtime hands the entry point alongside the raw instruction bytes
// (spec §4.9's "accounts[]"). Not every field is meaningful for every tag.
type Accounts struct {
	Caller    PublicKey
	Sender    PublicKey
	Recipient PublicKey
	Safe      PublicKey
	Asset     AssetRef
	CanCancel bool
}

// Dispatch routes a decoded instruction to its handler. This is the single
// entry point every instruction byte sequence passes through; an unknown
// tag never reaches here because DecodeInstruction already rejected it.
func Dispatch(ctx *Context, accts Accounts, instr *Instruction) (uint64, error) {
	switch instr.Tag {
	case TagNativeStreamCreate:
		_, err := CreateStream(ctx, accts.Sender, accts.Recipient, AssetRef{Kind: AssetNative}, instr.Start, instr.End, instr.Amount, accts.CanCancel)
		return 0, err
	case TagTokenStreamCreate:
		_, err := CreateStream(ctx, accts.Sender, accts.Recipient, accts.Asset, instr.Start, instr.End, instr.Amount, accts.CanCancel)
		return 0, err

	case TagNativeStreamWithdraw:
		return Withdraw(ctx, accts.Sender, accts.Recipient, instr.Amount)
	case TagTokenStreamWithdraw:
		return Withdraw(ctx, accts.Sender, accts.Recipient, instr.Amount)

	case TagNativeStreamCancel, TagTokenStreamCancel:
		return 0, Cancel(ctx, accts.Sender, accts.Recipient)

	case TagNativeStreamPause, TagTokenStreamPause:
		return 0, Pause(ctx, accts.Sender, accts.Recipient)
	case TagNativeStreamResume, TagTokenStreamResume:
		return 0, Resume(ctx, accts.Sender, accts.Recipient)

	case TagNativeDeposit:
		return 0, Deposit(ctx, accts.Sender, AssetRef{Kind: AssetNative}, instr.Amount)
	case TagTokenDeposit:
		return 0, Deposit(ctx, accts.Sender, accts.Asset, instr.Amount)

	case TagNativeFund:
		return 0, Fund(ctx, accts.Sender, accts.Recipient, instr.End, instr.Amount)
	case TagTokenFund:
		return 0, Fund(ctx, accts.Sender, accts.Recipient, instr.End, instr.Amount)

	case TagNativeVaultWithdraw:
		return 0, WithdrawFromVault(ctx, accts.Sender, AssetRef{Kind: AssetNative}, instr.Amount, false)
	case TagTokenVaultWithdraw:
		return 0, WithdrawFromVault(ctx, accts.Sender, accts.Asset, instr.Amount, false)

	case TagNativeSwapVaultToSafe:
		return 0, payOut(ctx, accts.Sender, accts.Safe, AssetRef{Kind: AssetNative}, instr.Amount)
	case TagTokenSwapVaultToSafe:
		return 0, payOut(ctx, accts.Sender, accts.Safe, accts.Asset, instr.Amount)

	case TagMultisigCreate:
		_, err := CreateMultisigGroup(ctx, instr.Signers, instr.Threshold)
		return 0, err

	case TagMultisigStreamSignN, TagMultisigStreamSignT:
		return 0, SignMultisigStream(ctx, accts.Safe, accts.Recipient, accts.Caller)

	case TagMultisigNativeCreate:
		_, err := CreateMultisigStream(ctx, accts.Caller, accts.Recipient, accts.Safe, AssetRef{Kind: AssetNative}, instr.Start, instr.End, instr.Amount, accts.CanCancel)
		return 0, err
	case TagMultisigTokenCreate:
		_, err := CreateMultisigStream(ctx, accts.Caller, accts.Recipient, accts.Safe, accts.Asset, instr.Start, instr.End, instr.Amount, accts.CanCancel)
		return 0, err

	case TagMultisigNativeWithdraw, TagMultisigTokenWithdraw:
		return Withdraw(ctx, accts.Safe, accts.Recipient, instr.Amount)

	case TagMultisigNativeCancel, TagMultisigTokenCancel:
		return 0, Cancel(ctx, accts.Safe, accts.Recipient)
	case TagMultisigNativePause, TagMultisigTokenPause:
		return 0, Pause(ctx, accts.Safe, accts.Recipient)
	case TagMultisigNativeResume, TagMultisigTokenResume:
		return 0, Resume(ctx, accts.Safe, accts.Recipient)
	case TagMultisigNativeReject, TagMultisigTokenReject:
		return 0, RejectMultisigStream(ctx, accts.Safe, accts.Recipient, accts.Caller)

	case TagProposeTransferNative:
		_, err := ProposeTransfer(ctx, accts.Safe, accts.Recipient, accts.Caller, AssetRef{Kind: AssetNative}, instr.Amount)
		return 0, err
	case TagProposeTransferToken:
		_, err := ProposeTransfer(ctx, accts.Safe, accts.Recipient, accts.Caller, accts.Asset, instr.Amount)
		return 0, err

	case TagSignProposal:
		_, err := SignProposal(ctx, instr.ProposalID, accts.Caller)
		return 0, err
	case TagRejectProposal:
		return 0, RejectProposal(ctx, instr.ProposalID, accts.Caller)
	}

	return 0, Fail(KindInvalidInstruction, "unhandled opcode tag %d", instr.Tag)
}

// The Encode* helpers build the raw byte sequences DecodeInstruction
// accepts, the mirror image of the switch above. The CLI goes through
// these rather than building the wire bytes by hand; WAL replay re-decodes
// the raw bytes it journaled.

func EncodeCreate(tag Tag, start, end int64, amount uint64) []byte {
	buf := make([]byte, 25)
	buf[0] = byte(tag)
	binary.LittleEndian.PutUint64(buf[1:9], uint64(start))
	binary.LittleEndian.PutUint64(buf[9:17], uint64(end))
	binary.LittleEndian.PutUint64(buf[17:25], amount)
	return buf
}

func EncodeFund(tag Tag, newEnd int64, delta uint64) []byte {
	buf := make([]byte, 17)
	buf[0] = byte(tag)
	binary.LittleEndian.PutUint64(buf[1:9], uint64(newEnd))
	binary.LittleEndian.PutUint64(buf[9:17], delta)
	return buf
}

func EncodeAmount(tag Tag, amount uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(tag)
	binary.LittleEndian.PutUint64(buf[1:9], amount)
	return buf
}

func EncodeNoPayload(tag Tag) []byte { return []byte{byte(tag)} }

func EncodeMultisigCreate(signers []PublicKey, threshold int) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(TagMultisigCreate))
	encodeVec(&buf, signers)
	var t [4]byte
	binary.LittleEndian.PutUint32(t[:], uint32(threshold))
	buf.Write(t[:])
	return buf.Bytes()
}

func EncodeProposalRef(tag Tag, id PublicKey) []byte {
	buf := make([]byte, 33)
	buf[0] = byte(tag)
	copy(buf[1:33], id[:])
	return buf
}
