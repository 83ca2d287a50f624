package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	core "streamvault/core"
)

var multisigCmd = &cobra.Command{
	Use:   "multisig",
	Short: "Manage multisig groups, safe-owned streams, and transfer proposals",
}

var multisigCreateGroupCmd = &cobra.Command{
	Use:   "create-group <threshold> <signer1,signer2,...>",
	Short: "Create an m-of-n signer group and its safe",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		var signers []core.PublicKey
		for _, s := range strings.Split(args[1], ",") {
			k, err := parseKey(s)
			if err != nil {
				return err
			}
			signers = append(signers, k)
		}
		accts := core.Accounts{Caller: signers[0]}
		if _, err := controller.WAL.Append(accts, core.EncodeMultisigCreate(signers, threshold)); err != nil {
			return err
		}
		safe := core.MultisigSafeAddress(signers[0])
		g, err := core.LoadMultisigGroup(controller.WAL.Context(), safe)
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(g, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var multisigStreamCreateCmd = &cobra.Command{
	Use:   "stream-create <caller> <recipient> <safe> <start> <end> <amount>",
	Short: "Open a stream owned by a multisig safe, starting paused pending approval",
	Args:  cobra.ExactArgs(6),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, err := parseAssetFlag(cmd)
		if err != nil {
			return err
		}
		caller, err := parseKey(args[0])
		if err != nil {
			return err
		}
		recipient, err := parseKey(args[1])
		if err != nil {
			return err
		}
		safe, err := parseKey(args[2])
		if err != nil {
			return err
		}
		start, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			return err
		}
		end, err := strconv.ParseInt(args[4], 10, 64)
		if err != nil {
			return err
		}
		amount, err := strconv.ParseUint(args[5], 10, 64)
		if err != nil {
			return err
		}
		cancellable, _ := cmd.Flags().GetBool("cancellable")
		tag := core.TagMultisigNativeCreate
		if asset.Kind == core.AssetToken {
			tag = core.TagMultisigTokenCreate
		}
		accts := core.Accounts{Caller: caller, Recipient: recipient, Safe: safe, Asset: asset, CanCancel: cancellable}
		if _, err := controller.WAL.Append(accts, core.EncodeCreate(tag, start, end, amount)); err != nil {
			return err
		}
		rec, _, err := core.LoadStream(controller.WAL.Context(), safe, recipient)
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var multisigSignCmd = &cobra.Command{
	Use:   "sign <safe> <recipient> <signer>",
	Short: "Approve a pending multisig stream",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		safe, err := parseKey(args[0])
		if err != nil {
			return err
		}
		recipient, err := parseKey(args[1])
		if err != nil {
			return err
		}
		signer, err := parseKey(args[2])
		if err != nil {
			return err
		}
		accts := core.Accounts{Caller: signer, Safe: safe, Recipient: recipient}
		_, err = controller.WAL.Append(accts, core.EncodeNoPayload(core.TagMultisigStreamSignN))
		return err
	},
}

var multisigRejectCmd = &cobra.Command{
	Use:   "reject <safe> <recipient> <signer>",
	Short: "Reject a not-yet-started pending multisig stream",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		safe, err := parseKey(args[0])
		if err != nil {
			return err
		}
		recipient, err := parseKey(args[1])
		if err != nil {
			return err
		}
		signer, err := parseKey(args[2])
		if err != nil {
			return err
		}
		accts := core.Accounts{Caller: signer, Safe: safe, Recipient: recipient}
		_, err = controller.WAL.Append(accts, core.EncodeNoPayload(core.TagMultisigNativeReject))
		return err
	},
}

var proposalProposeCmd = &cobra.Command{
	Use:   "propose <safe> <to> <creator> <amount>",
	Short: "Propose a one-shot transfer out of a multisig safe",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		asset, err := parseAssetFlag(cmd)
		if err != nil {
			return err
		}
		safe, err := parseKey(args[0])
		if err != nil {
			return err
		}
		to, err := parseKey(args[1])
		if err != nil {
			return err
		}
		creator, err := parseKey(args[2])
		if err != nil {
			return err
		}
		amount, err := strconv.ParseUint(args[3], 10, 64)
		if err != nil {
			return err
		}
		tag := core.TagProposeTransferNative
		if asset.Kind == core.AssetToken {
			tag = core.TagProposeTransferToken
		}
		accts := core.Accounts{Caller: creator, Safe: safe, Recipient: to, Asset: asset}
		if _, err := controller.WAL.Append(accts, core.EncodeAmount(tag, amount)); err != nil {
			return err
		}
		id, _, err := core.Derive(nil, "transfer_proposal", safe, &to)
		if err != nil {
			return err
		}
		p, err := core.LoadProposal(controller.WAL.Context(), id)
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(p, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var proposalSignCmd = &cobra.Command{
	Use:   "sign <proposal-id> <signer>",
	Short: "Approve a transfer proposal, executing it once threshold is met",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseKey(args[0])
		if err != nil {
			return err
		}
		signer, err := parseKey(args[1])
		if err != nil {
			return err
		}
		accts := core.Accounts{Caller: signer}
		_, err = controller.WAL.Append(accts, core.EncodeProposalRef(core.TagSignProposal, id))
		if err != nil {
			return err
		}
		if p, loadErr := core.LoadProposal(controller.WAL.Context(), id); loadErr == nil {
			out, _ := json.MarshalIndent(p, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "proposal executed")
		}
		return nil
	},
}

var proposalRejectCmd = &cobra.Command{
	Use:   "reject <proposal-id> <signer>",
	Short: "Veto a not-yet-executed transfer proposal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseKey(args[0])
		if err != nil {
			return err
		}
		signer, err := parseKey(args[1])
		if err != nil {
			return err
		}
		accts := core.Accounts{Caller: signer}
		_, err = controller.WAL.Append(accts, core.EncodeProposalRef(core.TagRejectProposal, id))
		return err
	},
}

var proposalCmd = &cobra.Command{
	Use:   "proposal",
	Short: "Manage multisig transfer proposals",
}

func init() {
	for _, c := range []*cobra.Command{multisigStreamCreateCmd, proposalProposeCmd} {
		c.Flags().String("mint", "", "token mint public key (omit for the native asset)")
	}
	multisigStreamCreateCmd.Flags().Bool("cancellable", true, "whether the stream may later be cancelled")

	proposalCmd.AddCommand(proposalProposeCmd, proposalSignCmd, proposalRejectCmd)
	multisigCmd.AddCommand(multisigCreateGroupCmd, multisigStreamCreateCmd, multisigSignCmd, multisigRejectCmd, proposalCmd)
}

// RegisterMultisigCommands attaches the multisig command tree to root. It
// must run after RegisterStreamCommands, which wires the shared controller.
func RegisterMultisigCommands(root *cobra.Command) {
	root.AddCommand(multisigCmd)
}
