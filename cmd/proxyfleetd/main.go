package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	pf "github.com/leastslow/proxyfleet"
)

// Exit codes for the startup failures that can't be recovered from and
// shouldn't retry: each phase gets its own code so init scripts can tell
// them apart without parsing log output.
const (
	exitConfigError   = 1
	exitLogError      = 2
	exitDBError       = 3
	exitListenerError = 4
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:   "proxyfleetd",
		Short: "Multi-tenant authenticating forward proxy fleet",
		Long: `Serves one HTTP and one SOCKS5 proxy per leased public IP, authenticating
each connection against an order record in MongoDB and relaying to the
requested destination.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the toml config file (required)")
	cmd.MarkFlagRequired("config")

	if err := cmd.Execute(); err != nil {
		os.Exit(exitConfigError)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(exitConfigError)
	}

	if err := pf.ConfigureLog(cfg.Log.Config); err != nil {
		fmt.Fprintln(os.Stderr, "log config:", err)
		os.Exit(exitLogError)
	}
	if cfg.Log.Level != "" {
		if lvl, err := pf.ParseLogLevel(cfg.Log.Level); err != nil {
			pf.Log.WithError(err).Error("invalid log level")
			os.Exit(exitLogError)
		} else {
			pf.Log.SetLevel(lvl)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := pf.NewMongoStore(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		pf.Log.WithError(err).Error("failed to initialize database client")
		os.Exit(exitDBError)
	}
	defer store.Close(context.Background())

	cacheTTL, err := time.ParseDuration(cfg.Cache.TTL)
	if err != nil {
		pf.Log.WithError(err).Error("invalid cache.ttl")
		os.Exit(exitConfigError)
	}
	cache := pf.NewAuthCache(cfg.Cache.Capacity, cacheTTL)
	authManager := pf.NewAuthManager(cache, store)

	reconciler := pf.NewReconciler(cache, store)
	go func() {
		for {
			if err := reconciler.Run(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				pf.Log.WithError(err).Warn("reconciler stopped, retrying")
				time.Sleep(time.Second)
				continue
			}
			return
		}
	}()

	resolutionTimeout := 5 * time.Second
	if cfg.DNS.ResolutionTimeout != "" {
		resolutionTimeout, err = time.ParseDuration(cfg.DNS.ResolutionTimeout)
		if err != nil {
			pf.Log.WithError(err).Error("invalid dns.resolution-timeout")
			os.Exit(exitConfigError)
		}
	}
	resolver := pf.NewDNSResolver(pf.DNSResolverOptions{
		Upstream:          cfg.DNS.Upstream,
		MaxCacheSize:      cfg.DNS.MaxCacheSize,
		ResolutionTimeout: resolutionTimeout,
	})

	fleet := pf.NewFleet(pf.FleetConfig{
		Subnets:             cfg.Listen.Subnets,
		Addresses:           cfg.Listen.Addresses,
		Port:                cfg.Listen.Port,
		BindConcurrency:     cfg.Listen.BindConcurrency,
		UDPAssociationLimit: cfg.Listen.UDPAssociationLimit,
		Auth:                authManager,
		Resolver:            resolver,
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		pf.Log.Info("shutting down")
		cancel()
	}()

	if err := fleet.Run(ctx); err != nil {
		pf.Log.WithError(err).Error("failed to initialize listeners")
		os.Exit(exitListenerError)
	}
	return nil
}
