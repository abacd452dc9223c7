package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/olaf-mesh/neighbourhood/crypto/filestore"
	"github.com/olaf-mesh/neighbourhood/files"
)

var (
	pushKeysDir string
	pushID      string
	pushPubFile string
	pushAs      string
	pushTo      string
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push a public key to a remote server's bootstrap endpoint",
	Long: `Push uploads a PEM public key to a remote server's POST
/upload_key, the bootstrap path a new neighbour uses to provision its
key before the remote registry can dial it back. --as names the
neighbour address ("host:port") the key should be filed under on the
remote side; its colon is escaped the same way the registry escapes
it on disk.`,
	Example: `  olaf-keytool push --keys ./config/keys --id server --as relay-a.example:9001 --to http://relay-b.example:8080`,
	RunE:    runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().StringVar(&pushKeysDir, "keys", "./keys", "key storage directory")
	pushCmd.Flags().StringVar(&pushID, "id", "server", "identity id (file prefix within --keys), ignored if --pub is set")
	pushCmd.Flags().StringVar(&pushPubFile, "pub", "", "path to a bare public key PEM file, instead of --keys/--id")
	pushCmd.Flags().StringVar(&pushAs, "as", "", "neighbour address (host:port) to file the key under on the remote side")
	pushCmd.Flags().StringVar(&pushTo, "to", "", "base URL of the remote server, e.g. http://relay-b.example:8080")
}

func runPush(cmd *cobra.Command, args []string) error {
	if pushAs == "" || pushTo == "" {
		return fmt.Errorf("--as and --to are required")
	}

	var pemBytes []byte
	if pushPubFile != "" {
		b, err := os.ReadFile(pushPubFile)
		if err != nil {
			return err
		}
		pemBytes = b
	} else {
		storage, err := filestore.NewDiskKeyStorage(pushKeysDir)
		if err != nil {
			return err
		}
		kp, err := storage.Load(pushID)
		if err != nil {
			return err
		}
		b, err := olafcrypto.EncodePublicKeyPEM(kp.Public)
		if err != nil {
			return err
		}
		pemBytes = b
	}

	id := peerKeyID(pushAs)
	if err := files.PushPublicKey(pushTo, id, pemBytes); err != nil {
		return err
	}
	fmt.Printf("pushed key for %s to %s\n", pushAs, pushTo)
	return nil
}

// peerKeyID mirrors neighbourhood.PeerKeyID's "<host>_<port>" escaping
// without importing the neighbourhood package, which otherwise would pull
// the whole relay mesh into this CLI for one string transform.
func peerKeyID(address string) string {
	out := make([]byte, 0, len(address))
	for i := 0; i < len(address); i++ {
		if address[i] == ':' {
			out = append(out, '_')
		} else {
			out = append(out, address[i])
		}
	}
	return string(out)
}
