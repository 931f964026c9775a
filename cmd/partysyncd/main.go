package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raidtools/partysync/internal/config"
	"github.com/raidtools/partysync/internal/server"
	"github.com/raidtools/partysync/pkg/logger"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "partysyncd",
		Short: "Raid coordination backend",
		Long: `partysyncd is the backend for the raid coordination add-on: it
authenticates clients, relays chat and trigger events, tracks presence
and serves client update downloads.

Configuration is taken from PARTYSYNC_* environment variables; flags
override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := rootCmd.Flags()
	flags.String("addr", "", "protocol listen address (overrides PARTYSYNC_ADDR)")
	flags.String("data-dir", "", "directory holding users.bin and trigger.bin")
	flags.String("chat-channel", "", "chat channel subject to duplicate suppression")
	flags.String("metrics-addr", "", "Prometheus metrics listen address")
	flags.Bool("default-admin", false, "reset the bootstrap Admin account")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	flags := cmd.Flags()
	if v, _ := flags.GetString("addr"); v != "" {
		cfg.Addr = v
	}
	if v, _ := flags.GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := flags.GetString("chat-channel"); v != "" {
		cfg.ChatChannel = v
	}
	if v, _ := flags.GetString("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}
	if v, _ := flags.GetBool("default-admin"); v {
		cfg.DefaultAdmin = true
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		logger.L().Info("shutting down", zap.String("signal", s.String()))
		srv.Shutdown()
	}()

	return srv.ListenAndServe()
}
