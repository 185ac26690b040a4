// Package main implements relaytool, an operator CLI for the share relay:
// receiver key generation, miner authorisation and test event publishing.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree writing results to out
func newRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relaytool",
		Short: "Operator tooling for the GOMP share relay",
		Long: `relaytool manages the pieces of the share relay that live outside relayd.

Commands:
  newwifprivatekey   Generate a compressed WIF private key
  checkauth          Check whether a miner is authorised in Redis
  authorize          Authorise a miner in Redis
  revoke             Remove a miner from the authorised-users hash
  publish            Publish a relay event to Kafka`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	rootCmd.AddCommand(
		newWIFPrivateKeyCmd(),
		checkAuthCmd(),
		authorizeCmd(),
		revokeCmd(),
		publishCmd(),
	)

	return rootCmd
}
