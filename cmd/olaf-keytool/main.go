package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "olaf-keytool",
	Short: "OLAF identity key management",
	Long: `olaf-keytool manages the RSA-2048 identity keys that back OLAF
fingerprints: generating a server or client identity, printing its
fingerprint, exporting its public key, and pushing a public key to a
remote server's bootstrap endpoint so the receiving registry can pick
it up on its next reconnect attempt.`,
}

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
