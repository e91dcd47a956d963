// The httpserver command runs the record access service: authorization
// registry, mirror projector, blob storage proxy and the HTTP API.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/medicrypt/record-access-backend/blobstore"
	"github.com/medicrypt/record-access-backend/cmd/flags"
	"github.com/medicrypt/record-access-backend/httpserver"
	"github.com/medicrypt/record-access-backend/interfaces"
	"github.com/medicrypt/record-access-backend/mirror"
	"github.com/medicrypt/record-access-backend/registry"
	"github.com/medicrypt/record-access-backend/sigauth"
)

var serverFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.RegistryDirFlag,
	flags.MirrorURLFlag,
	flags.BlobBackendsFlag,
	flags.SessionSeedFlag,
	flags.ResyncFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:   "record-access-server",
		Usage:  "Serve the encrypted medical record access API",
		Flags:  serverFlags,
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	// Registry: the system of record.
	var reg *registry.Store
	var err error
	if dir := cCtx.String(flags.RegistryDirFlag.Name); dir != "" {
		reg, err = registry.NewStore(dir, logger)
	} else {
		logger.Warn("No registry-dir configured, registry state will not survive a restart")
		reg, err = registry.NewInMemoryStore(logger)
	}
	if err != nil {
		logger.Error("Failed to open registry", "err", err)
		return err
	}
	defer reg.Close()

	// Mirror store: postgres if configured, in-process otherwise.
	var mirrorStore interfaces.MirrorStore
	if mirrorURL := cCtx.String(flags.MirrorURLFlag.Name); mirrorURL != "" {
		pgStore, err := mirror.NewPostgresStore(cCtx.Context, mirrorURL)
		if err != nil {
			logger.Error("Failed to connect mirror store", "err", err)
			return err
		}
		defer pgStore.Close()
		mirrorStore = pgStore
	} else {
		mirrorStore = mirror.NewMemoryStore()
	}

	projector := mirror.NewProjector(reg, mirrorStore, logger)
	if cCtx.Bool(flags.ResyncFlag.Name) {
		logger.Info("Resyncing mirror from registry")
		if err := projector.Resync(cCtx.Context); err != nil {
			logger.Error("Mirror resync failed", "err", err)
			return err
		}
	}

	// Blob storage.
	blobURIs := cCtx.StringSlice(flags.BlobBackendsFlag.Name)
	if len(blobURIs) == 0 {
		blobURIs = []string{"file:///var/lib/record-access/blobs"}
	}
	blobFactory := blobstore.NewFactory(logger)
	blobBackend, err := blobFactory.MultiBackendFor(blobURIs)
	if err != nil {
		logger.Error("Failed to create blob backends", "err", err)
		return err
	}
	blobs := blobstore.NewRetryBackend(blobBackend, logger)

	// Session authentication.
	var signingKey ed25519.PrivateKey
	if seedHex := cCtx.String(flags.SessionSeedFlag.Name); seedHex != "" {
		seed, err := hex.DecodeString(seedHex)
		if err != nil || len(seed) != ed25519.SeedSize {
			logger.Error("Invalid session-key-seed, must be 64 hex chars", "err", err)
			return fmt.Errorf("invalid session-key-seed")
		}
		signingKey = ed25519.NewKeyFromSeed(seed)
	} else {
		logger.Warn("No session-key-seed configured, sessions will not survive a restart")
	}

	auth, err := sigauth.New(sigauth.Config{
		SigningKey: signingKey,
		Log:        logger,
	})
	if err != nil {
		logger.Error("Failed to create authenticator", "err", err)
		return err
	}

	handler := httpserver.NewHandler(auth, reg, mirrorStore, blobs, logger)
	cfg := flags.ConfigureServer(cCtx, logger)
	server, err := httpserver.New(cfg, handler)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	projector.SetMetrics(server.Metrics().MirrorApplied, server.Metrics().MirrorLag)
	projectorCtx, stopProjector := context.WithCancel(context.Background())
	defer stopProjector()
	go func() {
		if err := projector.Run(projectorCtx); err != nil {
			logger.Error("Mirror projector stopped", "err", err)
		}
	}()

	logger.Info("Starting server", "blobBackends", blobURIs)
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	stopProjector()
	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}
