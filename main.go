package main

import (
	"context"
	"flag"
	"meshlink/commands"
	"meshlink/config"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

func setLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(l)
}

func registerGlobalFlags(fset *flag.FlagSet) {
	flag.VisitAll(func(f *flag.Flag) {
		fset.Var(f.Value, f.Name, f.Usage)
	})
}

func checkConfig(cfg string) {
	if cfg == "" {
		log.Fatal("Config file not specified")
	}
}

func loadConfig(configFile string) *config.Config {
	cfg, err := config.NewConfigFromFile(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// main is the entry point of the application.
func main() {
	// Ctrl-C is the stop signal for every loop
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configFile := flag.String("config", "", "Path to config file")
	logLevel := flag.String("loglevel", "info", "Log level")

	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	initRole := initCmd.String("role", config.RolePeer, "Role written to the new config (hub, client or peer)")
	registerGlobalFlags(initCmd)

	hubCmd := flag.NewFlagSet("hub", flag.ExitOnError)
	registerGlobalFlags(hubCmd)

	clientCmd := flag.NewFlagSet("client", flag.ExitOnError)
	registerGlobalFlags(clientCmd)

	peerCmd := flag.NewFlagSet("peer", flag.ExitOnError)
	registerGlobalFlags(peerCmd)

	infoCmd := flag.NewFlagSet("info", flag.ExitOnError)
	registerGlobalFlags(infoCmd)

	logCmd := flag.NewFlagSet("log", flag.ExitOnError)
	logStart := logCmd.Uint64("start", 1, "First sequence number to show")
	logCount := logCmd.Uint64("count", 100, "Number of messages to show")
	registerGlobalFlags(logCmd)

	if len(os.Args) < 2 {
		log.WithField("args", os.Args).Fatal("Expected a subcommand")
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "init":
		initCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		cfg := config.NewEmptyConfig(*configFile)
		cfg.Node.Role = *initRole
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid config: %v", err)
		}
		commands.RunInit(ctx, cfg)
	case "hub":
		hubCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunNode(ctx, loadConfig(*configFile), config.RoleHub)
	case "client":
		clientCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunNode(ctx, loadConfig(*configFile), config.RoleClient)
	case "peer":
		peerCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunNode(ctx, loadConfig(*configFile), config.RolePeer)
	case "info":
		infoCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunInfo(ctx, loadConfig(*configFile))
	case "log":
		logCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunLog(ctx, loadConfig(*configFile), *logStart, *logCount)
	default:
		log.Fatalf("Invalid subcommand '%s'", os.Args[1])
	}
}
