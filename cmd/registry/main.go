package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/tdx-identity-backend/api/registryhandler"
	"github.com/ruteri/tdx-identity-backend/cmd/flags"
	"github.com/ruteri/tdx-identity-backend/cryptoutils"
	"github.com/ruteri/tdx-identity-backend/httpserver"
	"github.com/ruteri/tdx-identity-backend/registry"
)

var cliFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:    "listen-addr",
		Value:   "0.0.0.0:3000",
		Usage:   "address to listen on for the registry API",
		EnvVars: []string{"REGISTRY_LISTEN_ADDR"},
	},
	&cli.StringFlag{
		Name:    "db-path",
		Value:   "registry.db",
		Usage:   "path to the ledger database",
		EnvVars: []string{"REGISTRY_DB_PATH"},
	},
	&cli.BoolFlag{
		Name:    "skip-tdx-auth",
		Value:   false,
		Usage:   "testing only: accept well-formed quotes without chain verification",
		EnvVars: []string{"SKIP_TDX_AUTH"},
	},
	&cli.StringFlag{
		Name:    "pccs-url",
		Value:   "",
		Usage:   "PCCS base URL for verification collateral, Intel PCS if unset",
		EnvVars: []string{"PCCS_URL"},
	},
	&cli.BoolFlag{
		Name:  "get-collateral",
		Value: true,
		Usage: "fetch TCB info and QE identity collateral during verification",
	},
	&cli.BoolFlag{
		Name:  "check-revocations",
		Value: false,
		Usage: "fetch and check certificate revocation lists during verification",
	},
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "registry",
		Usage: "Serve the TDX instance registration ledger",
		Flags: cliFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx, "tdx-registry")

			skipTDXAuth := cCtx.Bool("skip-tdx-auth")
			if skipTDXAuth {
				logger.Warn("TDX quote chain verification is DISABLED, for testing only")
			}

			store, err := registry.NewStore(cCtx.String("db-path"))
			if err != nil {
				logger.Error("Failed to open ledger database", "err", err)
				return err
			}
			defer store.Close()

			verifier := &registry.DCAPVerifier{Policy: cryptoutils.QuotePolicy{
				VerifyChain:      !skipTDXAuth,
				GetCollateral:    cCtx.Bool("get-collateral"),
				CheckRevocations: cCtx.Bool("check-revocations"),
				PCCSURL:          cCtx.String("pccs-url"),
			}}

			ledger := registry.NewLedger(store, verifier, logger)
			handler := registryhandler.NewHandler(ledger, logger)

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
