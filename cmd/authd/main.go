// Command authd serves the identity and session authority over HTTP.
//
// Process settings come from AUTHD_* variables (see serverConfig); engine
// tuning comes from the file named by AUTHD_CONFIG_FILE and AUTHORITY_*
// variables. A .env file in the working directory is loaded first when
// present.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	cfg, err := loadServerConfig(nil)
	if err != nil {
		log.Fatalf("server config: %v", err)
	}
	engineCfg, err := loadEngineConfig(cfg.ConfigFile)
	if err != nil {
		log.Fatalf("engine config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, engineCfg, os.Stdout)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	if err := rt.run(ctx); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
