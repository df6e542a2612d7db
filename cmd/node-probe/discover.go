package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"node-probe/registry"
)

var (
	registryEndpoints []string
	chainName         string
)

// discoverCmd resolves a node address for a chain from the etcd registry,
// for setups where node endpoints are registered centrally instead of
// passed on the command line.
var discoverCmd = &cobra.Command{
	Use:          "discover",
	Short:        "Resolve a node address for a chain from the etcd registry",
	SilenceUsage: true,
	RunE:         runDiscover,
}

func init() {
	discoverCmd.Flags().StringSliceVar(&registryEndpoints, "registry-endpoints",
		[]string{"127.0.0.1:2379"}, "etcd endpoints holding node registrations")
	discoverCmd.Flags().StringVar(&chainName, "chain",
		"devnet", "chain whose nodes to discover")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	reg, err := registry.NewEtcdRegistry(registryEndpoints)
	if err != nil {
		return fmt.Errorf("connect registry: %w", err)
	}
	defer reg.Close()

	instances, err := reg.Discover(chainName)
	if err != nil {
		return fmt.Errorf("discover %s: %w", chainName, err)
	}
	if len(instances) == 0 {
		return fmt.Errorf("no nodes registered for chain %q", chainName)
	}

	picker := &registry.RoundRobinPicker{}
	inst, err := picker.Pick(instances)
	if err != nil {
		return err
	}

	fmt.Println(inst.Addr)
	return nil
}
