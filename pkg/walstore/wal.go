// Package walstore backs a stream-engine node with a single append-only
// instruction log, replayed at startup to rebuild the in-memory KVStore
// every dispatch runs against. It generalizes core/ledger.go's WAL-replay
// pattern from the teacher repo -- open, replay, append -- to the
// instruction-per-line shape this engine's entry point uses instead of
// that repo's one-entry-per-block layout.
package walstore

import (
	"bufio"
	"encoding/hex"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/rlp"
	log "github.com/sirupsen/logrus"

	"streamvault/core"
)

// walEntry is one log line: the raw instruction bytes, the accounts the
// dispatcher needs to interpret them, and the wall-clock second the
// instruction actually ran at. Replaying re-dispatches every entry against
// a mock clock pinned to that timestamp, so a stream created yesterday and
// replayed today still vests exactly as it did the first time.
type walEntry struct {
	Timestamp int64
	Raw       []byte
	Caller    [32]byte
	Sender    [32]byte
	Recipient [32]byte
	Safe      [32]byte
	AssetKind uint8
	Mint      [32]byte
	CanCancel bool
}

func (e walEntry) accounts() core.Accounts {
	asset := core.AssetRef{Kind: core.AssetKind(e.AssetKind)}
	if asset.Kind == core.AssetToken {
		asset.Mint = core.PublicKey(e.Mint)
	}
	return core.Accounts{
		Caller:    core.PublicKey(e.Caller),
		Sender:    core.PublicKey(e.Sender),
		Recipient: core.PublicKey(e.Recipient),
		Safe:      core.PublicKey(e.Safe),
		Asset:     asset,
		CanCancel: e.CanCancel,
	}
}

// AllSigners treats every key as having signed -- appropriate for a local
// CLI simulator where the operator IS every party named on the command
// line; a real deployment's host runtime supplies the verified signer set
// instead (spec's entry point is host-driven, out of this engine's scope).
type AllSigners struct{}

func (AllSigners) Has(core.PublicKey) bool { return true }

// WAL is a single append-only instruction log backing one stream-engine
// node. It owns the KVStore every dispatch runs against and the fee-sink
// address new dispatches charge commission to.
type WAL struct {
	path    string
	file    *os.File
	Store   *core.MemStore
	FeeSink core.PublicKey
}

// Open opens (creating if absent) the log at path and replays every
// previously recorded instruction to rebuild the in-memory store.
func Open(path string, feeSink core.PublicKey) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w := &WAL{path: path, file: f, Store: core.NewMemStore(), FeeSink: feeSink}
	if err := w.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *WAL) replay() error {
	if _, err := w.file.Seek(0, 0); err != nil {
		return err
	}
	mock := clock.NewMock()
	ctx := &core.Context{Store: w.Store, Clock: mock, Signers: AllSigners{}, FeeSink: w.FeeSink, Log: log.StandardLogger()}

	scanner := bufio.NewScanner(w.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		raw, err := hex.DecodeString(string(line))
		if err != nil {
			log.WithError(err).Warn("wal replay: skipping malformed entry")
			continue
		}
		var entry walEntry
		if err := rlp.DecodeBytes(raw, &entry); err != nil {
			log.WithError(err).Warn("wal replay: skipping malformed entry")
			continue
		}
		instr, err := core.DecodeInstruction(entry.Raw)
		if err != nil {
			log.WithError(err).Warn("wal replay: skipping malformed entry")
			continue
		}
		mock.Set(time.Unix(entry.Timestamp, 0))
		if _, err := core.Dispatch(ctx, entry.accounts(), instr); err != nil {
			log.WithError(err).Warn("wal replay: instruction rejected on replay")
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	log.WithField("entries", count).WithField("path", w.path).Info("wal replay complete")
	_, err := w.file.Seek(0, 2)
	return err
}

// Context returns a fresh live Context (real clock) bound to w.Store, for
// read-only queries that don't need to append a log entry.
func (w *WAL) Context() *core.Context {
	return core.NewContext(w.Store, AllSigners{}, w.FeeSink)
}

// Append dispatches raw (tag + payload) against w.Store using the real
// clock, then records it so a future Open replays the same effect.
func (w *WAL) Append(accts core.Accounts, raw []byte) (uint64, error) {
	instr, err := core.DecodeInstruction(raw)
	if err != nil {
		return 0, err
	}
	ctx := w.Context()
	result, err := core.Dispatch(ctx, accts, instr)
	if err != nil {
		return 0, err
	}

	entry := walEntry{
		Timestamp: ctx.Now(),
		Raw:       raw,
		Caller:    accts.Caller,
		Sender:    accts.Sender,
		Recipient: accts.Recipient,
		Safe:      accts.Safe,
		AssetKind: uint8(accts.Asset.Kind),
		Mint:      accts.Asset.Mint,
		CanCancel: accts.CanCancel,
	}
	encoded, err := rlp.EncodeToBytes(entry)
	if err != nil {
		return 0, err
	}
	if _, err := w.file.WriteString(hex.EncodeToString(encoded) + "\n"); err != nil {
		return 0, err
	}
	return result, nil
}

func (w *WAL) Close() error { return w.file.Close() }
