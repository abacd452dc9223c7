package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/olaf-mesh/neighbourhood/crypto/filestore"
)

var (
	generateKeysDir string
	generateID      string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate (or load) an RSA-2048 identity key pair",
	Long: `Generate creates a new RSA-2048 identity under --keys/--id, or loads
the existing one if a key is already stored there, and prints its
fingerprint. This is the same load-or-generate path olaf-server and
olaf-client take on first run.`,
	Example: `  olaf-keytool generate --keys ./config/keys --id server
  olaf-keytool generate --keys ./config/keys --id client`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVar(&generateKeysDir, "keys", "./keys", "key storage directory")
	generateCmd.Flags().StringVar(&generateID, "id", "server", "identity id (file prefix within --keys)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	storage, err := filestore.NewDiskKeyStorage(generateKeysDir)
	if err != nil {
		return err
	}
	kp, err := storage.LoadOrGenerate(generateID)
	if err != nil {
		return err
	}
	fp, err := kp.Fingerprint()
	if err != nil {
		return err
	}
	fmt.Printf("id:          %s\nfingerprint: %s\n", generateID, fp)
	return nil
}
