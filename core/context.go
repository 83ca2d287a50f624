package core

import (
	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
)

// Context is the per-instruction handle the codec front builds before
// calling into a dispatcher. It plays the role the host runtime's account
// list + clock + logger normally would; the rest of the package only ever
// reaches the world through it, which is what makes Release Calculator and
// friends testable with a mock clock instead of wall time.
type Context struct {
	Store   KVStore
	Clock   clock.Clock
	Signers Signers
	FeeSink PublicKey
	Log     *log.Logger
}

// NewContext builds a Context wired to a real-time clock and the package
// logger, the configuration a live instruction dispatch runs under.
func NewContext(store KVStore, signers Signers, feeSink PublicKey) *Context {
	return &Context{
		Store:   store,
		Clock:   clock.New(),
		Signers: signers,
		FeeSink: feeSink,
		Log:     log.StandardLogger(),
	}
}

// Now returns the instruction's notion of current time, in unix seconds.
func (c *Context) Now() int64 { return c.Clock.Now().Unix() }

// Signed reports whether key co-signed the instruction carrying this
// Context. The cryptographic signature check itself happens in the host
// runtime before the core ever runs (spec §1); this is a membership test
// against the signer list the host already validated.
func (c *Context) Signed(key PublicKey) bool { return c.Signers.Has(key) }

// requireSigner enforces that one specific party signed, the common case
// for create/fund/cancel/vault-withdraw instructions.
func requireSigner(ctx *Context, key PublicKey) error {
	if !ctx.Signed(key) {
		return Fail(KindMissingRequiredSignature, "required signer %s absent", key.Short())
	}
	return nil
}

// requireEitherSigner enforces the pause/resume rule from §9: either the
// sender or the recipient may authorize the action; both are not required,
// and both signing is also accepted. The source
// disagreed with itself across variants (some required both); the spec
// canonicalizes to a logical OR and this is the single enforcement point.
func requireEitherSigner(ctx *Context, a, b PublicKey) error {
	if ctx.Signed(a) || ctx.Signed(b) {
		return nil
	}
	return Fail(KindMissingRequiredSignature, "neither %s nor %s signed", a.Short(), b.Short())
}

// requireGroupMember enforces that at least one of a multisig stream's
// whitelisted group members signed the current instruction -- the gate
// Cancel/Pause/Resume apply in place of their single-sig signer checks once
// a stream is multisig-owned, since there is no single sender/recipient keypair to
// check against a safe-owned stream.
func requireGroupMember(ctx *Context, rec *StreamRecord) error {
	for _, m := range rec.Whitelist {
		if ctx.Signed(m) {
			return nil
		}
	}
	return Fail(KindMissingRequiredSignature, "no whitelisted group member signed")
}
