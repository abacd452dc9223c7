package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/olaf-mesh/neighbourhood/crypto/filestore"
	"github.com/olaf-mesh/neighbourhood/files"
	"github.com/olaf-mesh/neighbourhood/internal/config"
	"github.com/olaf-mesh/neighbourhood/internal/logger"
	"github.com/olaf-mesh/neighbourhood/internal/metrics"
	"github.com/olaf-mesh/neighbourhood/neighbourhood"
	"github.com/olaf-mesh/neighbourhood/relay"
)

var rootCmd = &cobra.Command{
	Use:   "olaf-server",
	Short: "OLAF relay server",
	Long: `olaf-server runs one relay node of an OLAF/Neighbourhood mesh: the
client-facing and peer-facing WebSocket listeners, the peer gossip
registry, and the file store, all configured from environment variables
such as BIND_ADDRESS, SERVER_WS_PORT and OLAF_CONFIG_DIR.`,
	RunE: runServer,
}

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return err
	}
	log := logger.NewDefaultLogger()

	keyStorage, err := filestore.NewDiskKeyStorage(filepath.Join(cfg.ConfigDir, "keys"))
	if err != nil {
		return err
	}
	serverKeys, err := keyStorage.LoadOrGenerate("server")
	if err != nil {
		return err
	}

	neighbourKeys, err := filestore.NewPublicKeyDir(filepath.Join(cfg.ConfigDir, "neighbours"), "_public_key.pem")
	if err != nil {
		return err
	}
	clientKeys, err := filestore.NewPublicKeyDir(filepath.Join(cfg.ConfigDir, "clients"), ".pem")
	if err != nil {
		return err
	}

	host := cfg.ExternalAddress
	if host == "" {
		host = "localhost"
	}
	localAddress := fmt.Sprintf("%s:%d", host, cfg.ServerWSPort)

	server, err := relay.NewServer(localAddress, serverKeys, nil, neighbourKeys, clientKeys, log)
	if err != nil {
		return err
	}
	registry := neighbourhood.New(cfg.NeighbourAddresses, neighbourKeys, localAddress, serverKeys, server.RouteFromPeer, server.LocalClientKeys, log)
	server.SetNeighbours(registry)

	externalURL := fmt.Sprintf("http://%s:%d", host, cfg.HTTPPort)
	fileStore, err := files.NewStore(filepath.Join(cfg.ConfigDir, "files"), externalURL, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry.Start(ctx)

	if cfg.MetricsPort > 0 {
		go func() {
			if err := metrics.StartServer(fmt.Sprintf(":%d", cfg.MetricsPort)); err != nil {
				log.Warn("metrics server exited", logger.Error(err))
			}
		}()
	}

	serverPublicPEM, err := olafcrypto.EncodePublicKeyPEM(serverKeys.Public)
	if err != nil {
		return err
	}

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/upload", fileStore.UploadHandler())
	httpMux.Handle("/files/", fileStore.DownloadHandler())
	httpMux.Handle("/pub", files.PublicKeyHandler(serverPublicPEM))
	httpMux.Handle("/upload_key", files.UploadKeyHandler(neighbourKeys, log))

	clientMux := http.NewServeMux()
	clientMux.Handle("/ws/client", server.ClientHandler())

	peerMux := http.NewServeMux()
	peerMux.Handle("/ws/peer", server.PeerHandler())

	servers := []*http.Server{
		{Addr: fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.HTTPPort), Handler: httpMux},
		{Addr: fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.ClientWSPort), Handler: clientMux},
		{Addr: fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.ServerWSPort), Handler: peerMux},
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() { errCh <- srv.ListenAndServe() }()
	}

	log.Info("olaf-server listening",
		logger.String("fingerprint", server.LocalFingerprint()),
		logger.String("http_addr", servers[0].Addr),
		logger.String("client_ws_addr", servers[1].Addr),
		logger.String("peer_ws_addr", servers[2].Addr))

	select {
	case <-ctx.Done():
		for _, srv := range servers {
			srv.Close()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		for _, srv := range servers {
			srv.Close()
		}
		return err
	}
}
