package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/olaf-mesh/neighbourhood/client"
	"github.com/olaf-mesh/neighbourhood/crypto/filestore"
	"github.com/olaf-mesh/neighbourhood/facade"
	"github.com/olaf-mesh/neighbourhood/internal/config"
	"github.com/olaf-mesh/neighbourhood/internal/logger"
	"github.com/olaf-mesh/neighbourhood/internal/metrics"
)

// clientListRefreshInterval drives the periodic client_list_request this
// process issues on the engine's behalf.
const clientListRefreshInterval = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:   "olaf-client",
	Short: "OLAF client daemon",
	Long: `olaf-client maintains one client's connection to its home relay
server and exposes the local HTTP facade a UI shell polls for sending
and receiving messages.`,
	RunE: runClient,
}

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return err
	}
	log := logger.NewDefaultLogger()

	keyStorage, err := filestore.NewDiskKeyStorage(filepath.Join(cfg.ConfigDir, "keys"))
	if err != nil {
		return err
	}
	myKeys, err := keyStorage.LoadOrGenerate("client")
	if err != nil {
		return err
	}

	keyBook, err := filestore.NewPublicKeyDir(filepath.Join(cfg.ConfigDir, "known_keys"), ".pem")
	if err != nil {
		return err
	}
	directory := client.NewDirectory(keyBook, filepath.Join(cfg.ConfigDir, "directory.json"))
	if err := directory.LoadCache(); err != nil {
		log.Warn("failed to load directory cache", logger.Error(err))
	}

	store, err := facade.NewMessageStore(filepath.Join(cfg.ConfigDir, "messages.jsonl"))
	if err != nil {
		return err
	}

	serverURL := fmt.Sprintf("ws://%s:%d/ws/client", cfg.ServerAddress, cfg.ServerPort)
	homeHTTPBase := fmt.Sprintf("http://%s:%d", cfg.ServerAddress, cfg.HTTPPort)

	engine, err := client.New(serverURL, myKeys, directory, nil, log)
	if err != nil {
		return err
	}

	identity := facade.Identity{
		Fingerprint:   engine.Fingerprint(),
		Name:          cfg.ClientName,
		ServerAddress: cfg.ServerAddress,
		ServerPort:    cfg.ServerPort,
		HTTPPort:      cfg.HTTPPort,
		PublicHost:    cfg.ServerAddress,
	}
	f := facade.New(identity, engine, directory, store, homeHTTPBase, log)
	engine.SetMessageHandler(f.OnMessage)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go runEngineWithRetry(ctx, engine, log)
	go refreshClientListPeriodically(ctx, engine)

	if cfg.MetricsPort > 0 {
		go func() {
			if err := metrics.StartServer(fmt.Sprintf(":%d", cfg.MetricsPort)); err != nil {
				log.Warn("metrics server exited", logger.Error(err))
			}
		}()
	}

	httpSrv := &http.Server{Addr: fmt.Sprintf("localhost:%d", cfg.FacadePort), Handler: f.Mux()}
	go func() {
		<-ctx.Done()
		httpSrv.Close()
	}()

	log.Info("olaf-client facade listening", logger.String("addr", httpSrv.Addr), logger.String("fingerprint", identity.Fingerprint))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// runEngineWithRetry keeps the home-server connection alive, backing off
// briefly between attempts; Engine.Run itself does not reconnect.
func runEngineWithRetry(ctx context.Context, engine *client.Engine, log logger.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warn("home server connection lost, retrying", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func refreshClientListPeriodically(ctx context.Context, engine *client.Engine) {
	ticker := time.NewTicker(clientListRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = engine.RequestClientList()
		}
	}
}
