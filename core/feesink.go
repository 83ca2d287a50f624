package core

// CommissionBps is the fixed commission rate taken on every release and
// cancel: 25 basis points, 0.25%. The rate is fixed at compile time (spec
// §4.8 forbids per-stream or per-call overrides); only the destination
// address is configurable, via pkg/config.
const CommissionBps = 25

// DefaultFeeSink is used whenever no override is configured.
var DefaultFeeSink = PublicKey{}

// ComputeCommission floors amount*25/10000, the commission taken out of a
// release before the remainder reaches sender/recipient.
func ComputeCommission(amount uint64) uint64 {
	return amount * CommissionBps / 10000
}

// SplitRelease divides a released amount into the commission and the net
// amount payable to the counterpart, per spec §4.8.
func SplitRelease(amount uint64) (commission, net uint64) {
	commission = ComputeCommission(amount)
	net = amount - commission
	return
}
