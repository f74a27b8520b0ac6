package main

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/tdx-identity-backend/api/identityhandler"
	"github.com/ruteri/tdx-identity-backend/api/registryhandler"
	"github.com/ruteri/tdx-identity-backend/cmd/flags"
	"github.com/ruteri/tdx-identity-backend/cryptoutils"
	"github.com/ruteri/tdx-identity-backend/httpserver"
	"github.com/ruteri/tdx-identity-backend/identity"
	"github.com/ruteri/tdx-identity-backend/workload"
)

var cliFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:    "listen-addr",
		Value:   "0.0.0.0:3001",
		Usage:   "address to listen on for the identity API",
		EnvVars: []string{"IDENTITY_LISTEN_ADDR"},
	},
	&cli.StringFlag{
		Name:    "storage-path",
		Value:   "/mnt",
		Usage:   "persistence root for the instance key and state record",
		EnvVars: []string{"STORAGE_PATH"},
	},
	&cli.StringFlag{
		Name:    "mock-tdx-url",
		Value:   "",
		Usage:   "mock TDX quote service URL, used instead of hardware when set",
		EnvVars: []string{"MOCK_TDX_URL"},
	},
	&cli.StringFlag{
		Name:    "registry-url",
		Value:   "http://localhost:3000",
		Usage:   "registration ledger base URL",
		EnvVars: []string{"REGISTRY_URL"},
	},
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "identity",
		Usage: "Serve the per-instance TDX identity API",
		Flags: cliFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx, "tdx-identity")

			var attester cryptoutils.AttestationProvider
			if mockURL := cCtx.String("mock-tdx-url"); mockURL != "" {
				logger.Warn("Using mock TDX quote service", "url", mockURL)
				attester = &cryptoutils.RemoteAttestationProvider{Address: mockURL}
			} else {
				if !cryptoutils.IsTDXAvailable() {
					logger.Error("TDX device unavailable and no mock configured")
					return errors.New("TDX device unavailable and no mock configured")
				}
				attester = &cryptoutils.DCAPAttestationProvider{}
			}

			storagePath := cCtx.String("storage-path")
			store, err := identity.NewStore(storagePath)
			if err != nil {
				logger.Error("Failed to open persistence root", "err", err)
				return err
			}

			machine, err := identity.NewMachine(cCtx.Context, identity.MachineConfig{
				Log:      logger,
				Store:    store,
				Attester: attester,
				Ledger:   registryhandler.NewClient(cCtx.String("registry-url"), nil),
				Driver:   workload.NewDriver(logger, storagePath),
			})
			if err != nil {
				logger.Error("Failed to initialize state machine", "err", err)
				return err
			}

			handler := identityhandler.NewHandler(machine, logger)

			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr"))
			server, err := httpserver.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			serveErr := server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-serveErr:
				return err
			case <-exit:
				logger.Info("Shutdown signal received")
			}

			server.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
