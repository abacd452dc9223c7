package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/olaf-mesh/neighbourhood/crypto/filestore"
)

var (
	fingerprintKeysDir string
	fingerprintID      string
	fingerprintPubFile string
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print the fingerprint of a stored identity or a PEM public key",
	Long: `Fingerprint loads a key pair from --keys/--id, or a bare public key
PEM from --pub, and prints its SHA-256 fingerprint — the identity
string used everywhere in the OLAF wire protocol and directory.`,
	Example: `  olaf-keytool fingerprint --keys ./config/keys --id server
  olaf-keytool fingerprint --pub neighbour_public_key.pem`,
	RunE: runFingerprint,
}

func init() {
	rootCmd.AddCommand(fingerprintCmd)
	fingerprintCmd.Flags().StringVar(&fingerprintKeysDir, "keys", "./keys", "key storage directory")
	fingerprintCmd.Flags().StringVar(&fingerprintID, "id", "server", "identity id (file prefix within --keys)")
	fingerprintCmd.Flags().StringVar(&fingerprintPubFile, "pub", "", "path to a bare public key PEM file, instead of --keys/--id")
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	if fingerprintPubFile != "" {
		pemBytes, err := os.ReadFile(fingerprintPubFile)
		if err != nil {
			return err
		}
		pub, err := olafcrypto.DecodePublicKeyPEM(pemBytes)
		if err != nil {
			return err
		}
		fp, err := olafcrypto.FingerprintPublicKey(pub)
		if err != nil {
			return err
		}
		fmt.Println(fp)
		return nil
	}

	storage, err := filestore.NewDiskKeyStorage(fingerprintKeysDir)
	if err != nil {
		return err
	}
	kp, err := storage.Load(fingerprintID)
	if err != nil {
		return err
	}
	fp, err := kp.Fingerprint()
	if err != nil {
		return err
	}
	fmt.Println(fp)
	return nil
}
