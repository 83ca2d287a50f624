package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	log "github.com/sirupsen/logrus"

	cli "streamvault/cmd/cli"
	"streamvault/core"
	"streamvault/pkg/config"
	"streamvault/pkg/walstore"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.WithError(err).Warn("no config file found, continuing with defaults")
		cfg = &config.Config{}
	}
	if cfg.Logging.Level != "" {
		if lvl, err := log.ParseLevel(cfg.Logging.Level); err == nil {
			log.SetLevel(lvl)
		}
	}
	if cfg.FeeSink.CommissionBps != 0 && cfg.FeeSink.CommissionBps != core.CommissionBps {
		log.Warnf("configured commission_bps %d ignored; the fixed rate is %d", cfg.FeeSink.CommissionBps, core.CommissionBps)
	}

	walPath := cfg.Storage.WALPath
	if walPath == "" {
		walPath = "streamvault.wal"
	}
	var feeSink core.PublicKey
	if cfg.FeeSink.Address != "" {
		feeSink, err = core.ParsePublicKey(cfg.FeeSink.Address)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid fee sink address: %v\n", err)
			os.Exit(1)
		}
	}

	wal, err := walstore.Open(walPath, feeSink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open wal %s: %v\n", walPath, err)
		os.Exit(1)
	}
	defer wal.Close()

	rootCmd := &cobra.Command{Use: "streamvault", Short: "Token-streaming escrow engine"}
	cli.RegisterStreamCommands(rootCmd, wal)
	cli.RegisterMultisigCommands(rootCmd)
	cli.RegisterKeyCommands(rootCmd)
	rootCmd.AddCommand(replayCmd(walPath, feeSink))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func replayCmd(defaultPath string, feeSink core.PublicKey) *cobra.Command {
	return &cobra.Command{
		Use:   "replay [path]",
		Short: "Replay a WAL file and print the resulting entry count",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultPath
			if len(args) > 0 {
				path = args[0]
			}
			w, err := walstore.Open(path, feeSink)
			if err != nil {
				return err
			}
			defer w.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %s\n", path)
			return nil
		},
	}
}
