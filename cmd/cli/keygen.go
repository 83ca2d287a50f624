package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	core "streamvault/core"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen [entropy-bits]",
	Short: "Generate a new BIP-39 recovery phrase and its first signer key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bits := 256
		if len(args) == 1 {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			bits = v
		}
		w, mnemonic, err := core.NewRandomWallet(bits)
		if err != nil {
			return err
		}
		_, pub, err := w.SignerKey(0, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "mnemonic: %s\n", mnemonic)
		fmt.Fprintf(cmd.OutOrStdout(), "signer[0/0]: %s (%s)\n", pub.Hex(), core.Fingerprint(pub))
		return nil
	},
}

var keyDeriveCmd = &cobra.Command{
	Use:   "derive <mnemonic> <account> <index>",
	Short: "Re-derive a signer key from an existing recovery phrase",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return err
		}
		index, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return err
		}
		w, err := core.WalletFromMnemonic(args[0], "")
		if err != nil {
			return err
		}
		_, pub, err := w.SignerKey(uint32(account), uint32(index))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "signer[%d/%d]: %s (%s)\n", account, index, pub.Hex(), core.Fingerprint(pub))
		return nil
	},
}

func init() {
	keygenCmd.AddCommand(keyDeriveCmd)
}

// RegisterKeyCommands attaches the key-generation command tree to root.
func RegisterKeyCommands(root *cobra.Command) {
	root.AddCommand(keygenCmd)
}
