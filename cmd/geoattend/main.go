package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"geoattend/internal/app"
	"geoattend/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

// configPath resolves the JSON config file: -config wins over GEOATTEND_CONFIG_FILE
func configPath(args []string) (string, error) {
	flags := flag.NewFlagSet("geoattend", flag.ContinueOnError)
	path := flags.String("config", os.Getenv(config.EnvPrefix+"CONFIG_FILE"), "path to a JSON config file")
	if err := flags.Parse(args); err != nil {
		return "", err
	}
	return *path, nil
}

// run blocks until SIGINT/SIGTERM or a fatal serve error, then shuts down
func run(args []string) error {
	path, err := configPath(args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfigWithPrecedence(path)
	if err != nil {
		return err
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("failed to start: %w", err)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Printf("Received shutdown signal, shutting down gracefully")
	case err, ok := <-application.Err():
		if ok {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return serveErr
}
