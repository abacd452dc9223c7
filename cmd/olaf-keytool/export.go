package main

import (
	"os"

	"github.com/spf13/cobra"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/olaf-mesh/neighbourhood/crypto/filestore"
)

var (
	exportKeysDir string
	exportID      string
	exportOutput  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export an identity's public key as PEM",
	Long: `Export writes the PEM-encoded public key for --keys/--id to
--output, or stdout if --output is omitted. The result is what a peer
expects at GET /pub and what olaf-keytool push uploads.`,
	Example: `  olaf-keytool export --keys ./config/keys --id server --output server_public_key.pem`,
	RunE:    runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportKeysDir, "keys", "./keys", "key storage directory")
	exportCmd.Flags().StringVar(&exportID, "id", "server", "identity id (file prefix within --keys)")
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "output file (default: stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	storage, err := filestore.NewDiskKeyStorage(exportKeysDir)
	if err != nil {
		return err
	}
	kp, err := storage.Load(exportID)
	if err != nil {
		return err
	}
	pemBytes, err := olafcrypto.EncodePublicKeyPEM(kp.Public)
	if err != nil {
		return err
	}
	if exportOutput == "" {
		_, err := os.Stdout.Write(pemBytes)
		return err
	}
	return os.WriteFile(exportOutput, pemBytes, 0o644)
}
