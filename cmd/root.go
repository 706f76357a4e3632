package cmd

import (
	"fmt"
	"github.com/spf13/cobra"
	"os"
)

var rootCmd = &cobra.Command{
	Use:   "runchain-node",
	Short: "Peer-to-peer proof-of-work miner node",
	Long: `runchain-node runs a single peer in a decentralised proof-of-work
network. Peers discover each other over mDNS, gossip chain state and
payloads over a pubsub topic, and race to mine blocks on top of the
longest valid chain they've seen.`,
	// No run function needed for root command
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
