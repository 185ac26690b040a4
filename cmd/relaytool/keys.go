package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/cobra"
)

var networks = map[string]*chaincfg.Params{
	"mainnet":  &chaincfg.MainNetParams,
	"testnet3": &chaincfg.TestNet3Params,
	"regtest":  &chaincfg.RegressionNetParams,
	"signet":   &chaincfg.SigNetParams,
}

func networkNames() string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func newWIFPrivateKeyCmd() *cobra.Command {
	var network string

	cmd := &cobra.Command{
		Use:   "newwifprivatekey",
		Short: "Generate a new compressed WIF private key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, ok := networks[network]
			if !ok {
				return fmt.Errorf("unknown network %q (want one of %s)", network, networkNames())
			}

			wif, err := newWIF(params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "new privateKey: %s\n", wif.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&network, "network", "mainnet", "key network: "+networkNames())
	return cmd
}

// newWIF generates a secp256k1 key and encodes it as compressed WIF
func newWIF(params *chaincfg.Params) (*btcutil.WIF, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	wif, err := btcutil.NewWIF(key, params, true)
	if err != nil {
		return nil, fmt.Errorf("encode WIF: %w", err)
	}
	return wif, nil
}
