package commands

import (
	"context"
	"errors"
	"io/fs"
	"meshlink/config"
	"os"

	log "github.com/sirupsen/logrus"
)

func RunInit(ctx context.Context, cfg *config.Config) {
	if _, err := os.Stat(cfg.File()); err == nil {
		log.Fatalf("Config file %s already exists", cfg.File())
	} else if !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Failed to check config file: %v", err)
	}

	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}
	log.Infof("Default %s config written to %s", cfg.Node.Role, cfg.File())
}
