// Command node-probe authenticates against a blockchain node over WebSocket
// and reports the node's name, chain, and version.
//
// Exit code is 0 only when the handshake completes and all three queries
// are answered.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"node-probe/probe"
	"node-probe/protocol"
)

var (
	nodeAddress string
	genesisHash string
)

var rootCmd = &cobra.Command{
	Use:          "node-probe",
	Short:        "Authenticate against a blockchain node and query its identity",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&nodeAddress, "node-address",
		probe.DefaultNodeAddress, "WebSocket address of the node")
	rootCmd.Flags().StringVar(&genesisHash, "genesis-hash",
		probe.DefaultGenesisHash, "expected genesis hash of the chain (hex)")
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

func run(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	genesis, err := protocol.ParseHash(genesisHash)
	if err != nil {
		return fmt.Errorf("invalid --genesis-hash: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn := probe.NewConnection(probe.Endpoint{
		NodeAddress: nodeAddress,
		GenesisHash: genesis,
	}, probe.WithLogger(logger))
	defer conn.Close()

	if err := conn.Connect(ctx); err != nil {
		return err
	}

	info, err := conn.Identify(ctx)
	if err != nil {
		return err
	}

	logger.Info().
		Str("name", info.Name).
		Str("chain", info.Chain).
		Str("version", info.Version).
		Msg("node identified")

	fmt.Printf("name:    %s\nchain:   %s\nversion: %s\n", info.Name, info.Chain, info.Version)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
