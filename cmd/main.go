package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/eglochon/lanmesh/config"
	"github.com/eglochon/lanmesh/pkg/comms"
	"github.com/eglochon/lanmesh/pkg/console"
	"github.com/eglochon/lanmesh/pkg/discovery"
	"github.com/eglochon/lanmesh/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:           "lanmesh",
	Short:         "Serverless chat for everyone on your LAN.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.ServicePort, _ = cmd.Flags().GetUint16("port")
		}
		if cmd.Flags().Changed("bind-ip") {
			cfg.BindIP, _ = cmd.Flags().GetString("bind-ip")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.Flags().String("config", "", "path to YAML config file")
	rootCmd.Flags().Uint16("port", 0, "TCP service port (overrides config)")
	rootCmd.Flags().String("bind-ip", "", "local IPv4 address to use instead of scanning interfaces")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "lanmesh: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// Self address
	self, err := selfAddress(cfg)
	if err != nil {
		if errors.Is(err, discovery.ErrNoUsableInterface) {
			return fmt.Errorf("could not find a valid network interface: %w", err)
		}
		return err
	}

	term := console.New(os.Stdin, os.Stdout)
	term.Prompt = true

	peerManager := comms.NewPeerManager(comms.Options{
		Dialer: &comms.TCPDialer{
			Port:    cfg.ServicePort,
			LocalIP: cfg.BindIP,
			Timeout: cfg.DialTimeout,
		},
		Display:      term,
		Logger:       logger.Named("comms"),
		ResolveLocal: func() (string, error) { return self.IP, nil },
	})
	term.Attach(peerManager)

	zap.L().Info("node starting",
		zap.String("hostname", self.Hostname),
		zap.String("addr", self.Addr(cfg.ServicePort)),
	)

	receiver := comms.NewTCPReceiver(cfg.ServiceAddr(cfg.BindIP), peerManager)
	if err := receiver.Start(); err != nil {
		return err
	}

	// Start discovery service
	discoveryService := discovery.NewDiscoveryService(cfg.DiscoveryAddr, []byte(cfg.Beacon),
		func(data []byte, addr *net.UDPAddr) {
			term.ControlReceived("", string(data))
		},
		func(addr *net.UDPAddr) {
			go func() {
				if err := peerManager.Connect(addr.IP.String()); err != nil {
					zap.L().Debug("beacon sender unreachable", zap.Stringer("from", addr), zap.Error(err))
				}
			}()
		})
	if err := discoveryService.Start(); err != nil {
		_ = receiver.Stop()
		return err
	}

	announcer := discovery.NewAnnouncer(cfg.AnnounceAddr, []byte(cfg.Beacon), cfg.AnnounceInterval)
	if err := announcer.Start(); err != nil {
		zap.L().Warn("announcer disabled", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-receiver.Done():
		case <-discoveryService.Done():
		case <-ctx.Done():
		}
		cancel()
	}()

	runErr := term.Run(ctx)

	zap.L().Info("shutting down")
	err = multierr.Combine(
		runErr,
		announcer.Stop(),
		discoveryService.Stop(),
		receiver.Stop(),
		peerManager.Stop(),
		receiver.Err(),
		discoveryService.Err(),
	)
	return err
}

// selfAddress resolves the local node address, honouring bind_ip
func selfAddress(cfg *config.Config) (*discovery.SelfAddress, error) {
	if cfg.BindIP != "" {
		return discovery.PinnedSelfAddress(cfg.BindIP)
	}
	return discovery.NewSelfAddress()
}
