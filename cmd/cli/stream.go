package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	core "streamvault/core"
	"streamvault/pkg/walstore"
)

// StreamController wraps the live WAL so each cobra RunE stays a thin
// argument-parsing shim over Append/Context, the same split the teacher's
// Controller types keep between cobra plumbing and the domain call.
type StreamController struct {
	WAL *walstore.WAL
}

func parseKey(s string) (core.PublicKey, error) { return core.ParsePublicKey(s) }

func (c StreamController) Create(sender, recipient string, asset core.AssetRef, start, end int64, amount uint64, canCancel bool) (uint64, error) {
	s, err := parseKey(sender)
	if err != nil {
		return 0, err
	}
	r, err := parseKey(recipient)
	if err != nil {
		return 0, err
	}
	tag := core.TagNativeStreamCreate
	if asset.Kind == core.AssetToken {
		tag = core.TagTokenStreamCreate
	}
	accts := core.Accounts{Caller: s, Sender: s, Recipient: r, Asset: asset, CanCancel: canCancel}
	return c.WAL.Append(accts, core.EncodeCreate(tag, start, end, amount))
}

func (c StreamController) Withdraw(sender, recipient string, asset core.AssetRef, amount uint64) (uint64, error) {
	s, err := parseKey(sender)
	if err != nil {
		return 0, err
	}
	r, err := parseKey(recipient)
	if err != nil {
		return 0, err
	}
	tag := core.TagNativeStreamWithdraw
	if asset.Kind == core.AssetToken {
		tag = core.TagTokenStreamWithdraw
	}
	accts := core.Accounts{Caller: r, Sender: s, Recipient: r, Asset: asset}
	return c.WAL.Append(accts, core.EncodeAmount(tag, amount))
}

func (c StreamController) Cancel(sender, recipient string, asset core.AssetRef) error {
	s, err := parseKey(sender)
	if err != nil {
		return err
	}
	r, err := parseKey(recipient)
	if err != nil {
		return err
	}
	tag := core.TagNativeStreamCancel
	if asset.Kind == core.AssetToken {
		tag = core.TagTokenStreamCancel
	}
	accts := core.Accounts{Caller: s, Sender: s, Recipient: r, Asset: asset}
	_, err = c.WAL.Append(accts, core.EncodeNoPayload(tag))
	return err
}

func (c StreamController) Pause(sender, recipient string, asset core.AssetRef) error {
	s, err := parseKey(sender)
	if err != nil {
		return err
	}
	r, err := parseKey(recipient)
	if err != nil {
		return err
	}
	tag := core.TagNativeStreamPause
	if asset.Kind == core.AssetToken {
		tag = core.TagTokenStreamPause
	}
	accts := core.Accounts{Caller: s, Sender: s, Recipient: r, Asset: asset}
	_, err = c.WAL.Append(accts, core.EncodeNoPayload(tag))
	return err
}

func (c StreamController) Resume(sender, recipient string, asset core.AssetRef) error {
	s, err := parseKey(sender)
	if err != nil {
		return err
	}
	r, err := parseKey(recipient)
	if err != nil {
		return err
	}
	tag := core.TagNativeStreamResume
	if asset.Kind == core.AssetToken {
		tag = core.TagTokenStreamResume
	}
	accts := core.Accounts{Caller: s, Sender: s, Recipient: r, Asset: asset}
	_, err = c.WAL.Append(accts, core.EncodeNoPayload(tag))
	return err
}

func (c StreamController) Fund(sender, recipient string, asset core.AssetRef, newEnd int64, delta uint64) error {
	s, err := parseKey(sender)
	if err != nil {
		return err
	}
	r, err := parseKey(recipient)
	if err != nil {
		return err
	}
	tag := core.TagNativeFund
	if asset.Kind == core.AssetToken {
		tag = core.TagTokenFund
	}
	accts := core.Accounts{Caller: s, Sender: s, Recipient: r, Asset: asset}
	_, err = c.WAL.Append(accts, core.EncodeFund(tag, newEnd, delta))
	return err
}

func (c StreamController) Deposit(owner string, asset core.AssetRef, amount uint64) error {
	o, err := parseKey(owner)
	if err != nil {
		return err
	}
	tag := core.TagNativeDeposit
	if asset.Kind == core.AssetToken {
		tag = core.TagTokenDeposit
	}
	accts := core.Accounts{Caller: o, Sender: o, Asset: asset}
	_, err = c.WAL.Append(accts, core.EncodeAmount(tag, amount))
	return err
}

func (c StreamController) Get(sender, recipient string) (*core.StreamRecord, error) {
	s, err := parseKey(sender)
	if err != nil {
		return nil, err
	}
	r, err := parseKey(recipient)
	if err != nil {
		return nil, err
	}
	rec, exists, err := core.LoadStream(c.WAL.Context(), s, r)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("no stream %s -> %s", sender, recipient)
	}
	return rec, nil
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Manage token-streaming escrow vaults",
}

// controller is wired by RegisterStreamCommands before Execute runs.
var controller StreamController

func parseAssetFlag(cmd *cobra.Command) (core.AssetRef, error) {
	mint, _ := cmd.Flags().GetString("mint")
	if mint == "" {
		return core.AssetRef{Kind: core.AssetNative}, nil
	}
	m, err := parseKey(mint)
	if err != nil {
		return core.AssetRef{}, err
	}
	return core.AssetRef{Kind: core.AssetToken, Mint: m}, nil
}

var streamCreateCmd = &cobra.Command{
	Use:   "create <sender> <recipient> <start> <end> <amount>",
	Short: "Open a new linear stream",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, err := parseAssetFlag(cmd)
		if err != nil {
			return err
		}
		start, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return err
		}
		end, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			return err
		}
		amount, err := strconv.ParseUint(args[4], 10, 64)
		if err != nil {
			return err
		}
		cancellable, _ := cmd.Flags().GetBool("cancellable")
		if _, err := controller.Create(args[0], args[1], asset, start, end, amount, cancellable); err != nil {
			return err
		}
		rec, err := controller.Get(args[0], args[1])
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var streamWithdrawCmd = &cobra.Command{
	Use:   "withdraw <sender> <recipient> [amount]",
	Short: "Withdraw the currently-vested balance (0 or omitted means all available)",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, err := parseAssetFlag(cmd)
		if err != nil {
			return err
		}
		var amount uint64
		if len(args) == 3 {
			v, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return err
			}
			amount = v
		}
		got, err := controller.Withdraw(args[0], args[1], asset, amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "withdrew %d\n", got)
		return nil
	},
}

var streamCancelCmd = &cobra.Command{
	Use:   "cancel <sender> <recipient>",
	Short: "Cancel a stream, paying out what has vested and refunding the rest",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, err := parseAssetFlag(cmd)
		if err != nil {
			return err
		}
		return controller.Cancel(args[0], args[1], asset)
	},
}

var streamPauseCmd = &cobra.Command{
	Use:   "pause <sender> <recipient>",
	Short: "Pause a stream",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, err := parseAssetFlag(cmd)
		if err != nil {
			return err
		}
		return controller.Pause(args[0], args[1], asset)
	},
}

var streamResumeCmd = &cobra.Command{
	Use:   "resume <sender> <recipient>",
	Short: "Resume a paused stream, shifting its window forward",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, err := parseAssetFlag(cmd)
		if err != nil {
			return err
		}
		return controller.Resume(args[0], args[1], asset)
	},
}

var streamFundCmd = &cobra.Command{
	Use:   "fund <sender> <recipient> <new-end> <delta>",
	Short: "Increase a stream's committed amount and optionally extend its end time",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, err := parseAssetFlag(cmd)
		if err != nil {
			return err
		}
		newEnd, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return err
		}
		delta, err := strconv.ParseUint(args[3], 10, 64)
		if err != nil {
			return err
		}
		return controller.Fund(args[0], args[1], asset, newEnd, delta)
	},
}

var streamDepositCmd = &cobra.Command{
	Use:   "deposit <owner> <amount>",
	Short: "Deposit into an owner's vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, err := parseAssetFlag(cmd)
		if err != nil {
			return err
		}
		amount, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return err
		}
		return controller.Deposit(args[0], asset, amount)
	},
}

var streamInfoCmd = &cobra.Command{
	Use:   "info <sender> <recipient>",
	Short: "Show a stream's current record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := controller.Get(args[0], args[1])
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{streamCreateCmd, streamWithdrawCmd, streamCancelCmd,
		streamPauseCmd, streamResumeCmd, streamFundCmd, streamDepositCmd} {
		c.Flags().String("mint", "", "token mint public key (omit for the native asset)")
	}
	streamCreateCmd.Flags().Bool("cancellable", true, "whether the stream may later be cancelled")

	streamCmd.AddCommand(streamCreateCmd, streamWithdrawCmd, streamCancelCmd, streamPauseCmd,
		streamResumeCmd, streamFundCmd, streamDepositCmd, streamInfoCmd)
}

// RegisterStreamCommands wires wal into the controller backing every
// subcommand and attaches the stream command tree to root.
func RegisterStreamCommands(root *cobra.Command, wal *walstore.WAL) {
	controller = StreamController{WAL: wal}
	root.AddCommand(streamCmd)
}
