package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/stratabase/strata"
	"github.com/stratabase/strata/engine"
	_ "github.com/stratabase/strata/kv/badger"
	"github.com/stratabase/strata/transport/openapi"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "strata",
		Short: "strata is an operation submission gateway for collection metadata",
	}
	root.AddCommand(serveCmd(), sdkCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the http api",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			config, err := strata.LoadConfig(configPath)
			if err != nil {
				return err
			}
			providerParams := map[string]any{}
			if config.StoragePath != "" {
				providerParams["storage_path"] = config.StoragePath
			}
			executor, err := engine.New(ctx, "badger", providerParams, engine.WithSnapshotsPath(config.SnapshotsPath))
			if err != nil {
				return err
			}
			g, err := strata.NewGateway(ctx, executor)
			if err != nil {
				return err
			}
			defer g.Close(context.Background())
			server, err := openapi.New(openapi.Config{
				Title:             "strata",
				Version:           version,
				Description:       "operation submission gateway",
				Port:              config.Port,
				LogLevel:          config.LogLevel,
				AllowedOrigins:    config.AllowedOrigins,
				RequestValidation: config.RequestValidation,
				RateLimit:         config.RateLimit,
				MaxUploadSize:     config.MaxUploadSize,
			})
			if err != nil {
				return err
			}
			server.Logger().Info(ctx, "starting http server", map[string]any{"port": config.Port})
			return server.Serve(ctx, g)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "strata.yaml", "path to config file")
	return cmd
}

func sdkCmd() *cobra.Command {
	var (
		pkgName string
		output  string
		port    int
	)
	cmd := &cobra.Command{
		Use:   "sdk",
		Short: "generate a go client sdk for the http api",
		RunE: func(_ *cobra.Command, _ []string) error {
			server, err := openapi.New(openapi.Config{
				Title:       "strata",
				Version:     version,
				Description: "operation submission gateway",
				Port:        port,
			})
			if err != nil {
				return err
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			return server.GenerateSDK(pkgName, f)
		},
	}
	cmd.Flags().StringVarP(&pkgName, "pkg", "p", "strata_client", "package name for the generated client")
	cmd.Flags().StringVarP(&output, "output", "o", "client.gen.go", "file to write the generated client to")
	cmd.Flags().IntVar(&port, "port", 6333, "port baked into the generated client")
	return cmd
}
