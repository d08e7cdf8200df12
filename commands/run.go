package commands

import (
	"context"
	"errors"
	"meshlink/config"
	"meshlink/datamodel/message"
	"meshlink/datastore/leveldb"
	"meshlink/helper/localaddr"
	"meshlink/swarm/node"

	log "github.com/sirupsen/logrus"
)

// resolveSelf returns the configured advertised address or the first usable local IPv4 address.
func resolveSelf(ctx context.Context, cfg *config.Config) string {
	if cfg.Node.AdvertisedAddress != "" {
		return cfg.Node.AdvertisedAddress
	}

	ip, err := localaddr.Resolve(ctx, cfg.Node.Interface, cfg.Node.LocalAddressTimeout.Std())
	if err != nil {
		if errors.Is(err, localaddr.ErrNoLocalAddress) {
			log.Fatalf("Cannot start: %v", err)
		}
		// Interrupted while waiting
		log.Infof("Stopped before a local address was found: %v", err)
		return ""
	}
	return ip.String()
}

// RunNode runs a node in the given role until ctx is cancelled.
func RunNode(ctx context.Context, cfg *config.Config, role string) {
	cfg.Node.Role = role
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	self := resolveSelf(ctx, cfg)
	if self == "" {
		return
	}

	sink := message.MultiSink{message.LogSink{}}

	var msgLog *leveldb.MessageLog
	if cfg.DataStore.MessageLogPath != "" {
		var err error
		msgLog, err = leveldb.NewMessageLog(cfg.DataStore.MessageLogPath)
		if err != nil {
			log.Fatalf("Failed to open message log: %v", err)
		}
		defer msgLog.Close()
		sink = append(sink, msgLog)
		log.Infof("Logging received messages to %s (last sequence %d)", msgLog.Path(), msgLog.GetSeq())
	}

	n, err := node.New(node.OptionsFromConfig(cfg, self), sink, msgLog)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	if err := n.Run(ctx); err != nil {
		log.Errorf("Node stopped: %v", err)
		return
	}
	log.Info("Node stopped")
}
