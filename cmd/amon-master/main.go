// Command amon-master runs the central Amon service: authoritative
// configuration, event routing, and maintenance suppression for the fleet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amonhq/amon/internal/account"
	"github.com/amonhq/amon/internal/cache"
	"github.com/amonhq/amon/internal/config"
	"github.com/amonhq/amon/internal/directory"
	"github.com/amonhq/amon/internal/event"
	"github.com/amonhq/amon/internal/events"
	"github.com/amonhq/amon/internal/kv"
	"github.com/amonhq/amon/internal/machines"
	"github.com/amonhq/amon/internal/maint"
	"github.com/amonhq/amon/internal/notify"
	"github.com/amonhq/amon/internal/probes"
	"github.com/amonhq/amon/internal/registry"
	"github.com/amonhq/amon/internal/server"
	"github.com/amonhq/amon/internal/version"
	"github.com/amonhq/amon/pkg/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("amon master starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	// Directory client, bound with administrative credentials.
	dirClient, err := directory.Dial(directory.Config{
		URL:          viperCfg.GetString("directory.url"),
		BindDN:       viperCfg.GetString("directory.bind_dn"),
		BindPassword: viperCfg.GetString("directory.bind_password"),
	}, logger.Named("directory"))
	if err != nil {
		logger.Fatal("failed to connect to directory", zap.Error(err))
	}
	defer dirClient.Close()

	// KV store on its numbered logical database.
	kvClient := kv.New(kv.Config{
		Addr: viperCfg.GetString("kv.addr"),
		DB:   viperCfg.GetInt("kv.db"),
	}, logger.Named("kv"))
	defer kvClient.Close()

	// Response caches.
	caches := buildCaches(viperCfg, logger.Named("cache"))

	// Shared services.
	bus := event.NewBus(logger.Named("event"))
	resolver := account.NewResolver(
		dirClient,
		caches.Get("UserGet"),
		viperCfg.GetString("directory.operators_dn"),
		logger.Named("account"),
	)
	machClient := machines.New(machines.Config{
		InventoryURL:  viperCfg.GetString("machines.inventory_url"),
		VMMetadataURL: viperCfg.GetString("machines.vm_metadata_url"),
	}, logger.Named("machines"))
	notifiers := buildNotifiers(cfg, logger.Named("notify"))

	// Module registry (compile-time composition).
	reg := registry.New(logger.Named("registry"))
	modules := []plugin.Plugin{
		account.NewModule(resolver),
		probes.New(dirClient, machClient, machClient, caches, resolver, viperCfg.GetString("admin_uuid")),
		maint.New(kvClient, resolver),
		events.New(notifiers, resolver),
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register module", zap.Error(err))
		}
	}
	if err := reg.Validate(); err != nil {
		logger.Fatal("module validation failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	depsFor := func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Sub("modules." + name),
			Logger:  logger.Named(name),
			Bus:     bus,
			Plugins: reg,
		}
	}
	if err := reg.InitAll(ctx, depsFor); err != nil {
		logger.Fatal("module initialization failed", zap.Error(err))
	}
	reg.WireSubscriptions(bus)
	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("module startup failed", zap.Error(err))
	}

	// Debug tap: mirror every bus event into the log.
	if viperCfg.GetString("logging.level") == "debug" {
		bus.SubscribeAll(func(_ context.Context, e plugin.Event) {
			logger.Debug("bus event", zap.String("topic", e.Topic), zap.String("source", e.Source))
		})
	}

	ready := func(ctx context.Context) error {
		if err := dirClient.Ping(ctx); err != nil {
			return fmt.Errorf("directory: %w", err)
		}
		if err := kvClient.Ping(ctx); err != nil {
			return fmt.Errorf("kv: %w", err)
		}
		return nil
	}

	addr := fmt.Sprintf("%s:%d", viperCfg.GetString("server.host"), viperCfg.GetInt("server.port"))
	srv := server.New(addr, reg, logger.Named("server"), ready)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	reg.StopAll(shutdownCtx)
	logger.Info("amon master stopped")
}

// buildCaches creates the master's named response caches from config.
func buildCaches(v *viper.Viper, logger *zap.Logger) *cache.Registry {
	reg := cache.NewRegistry(v.GetBool("cache.disabled"), logger)
	for name, key := range map[string]string{
		"UserGet":        "cache.user_get",
		"ProbeGet":       "cache.probe_get",
		"ProbeList":      "cache.probe_list",
		"ProbeGroupGet":  "cache.probe_group_get",
		"ProbeGroupList": "cache.probe_group_list",
		"AgentProbes":    "cache.agent_probes",
	} {
		reg.Create(name, v.GetInt(key+".size"), v.GetDuration(key+".ttl"))
	}
	return reg
}

// buildNotifiers instantiates the configured notification plugins, in
// config order: order decides medium-resolution precedence.
func buildNotifiers(cfg plugin.Config, logger *zap.Logger) *notify.Registry {
	reg := notify.NewRegistry(logger)
	names, _ := cfg.Get("modules.notify.plugins").([]any)
	if names == nil {
		if ss, ok := cfg.Get("modules.notify.plugins").([]string); ok {
			for _, s := range ss {
				names = append(names, s)
			}
		}
	}
	for _, nameAny := range names {
		name, _ := nameAny.(string)
		sub := cfg.Sub("modules.notify." + name)
		switch name {
		case "email":
			var c notify.EmailConfig
			_ = sub.Unmarshal(&c)
			reg.Register(notify.NewEmailNotifier(c))
		case "sms":
			var c notify.SMSConfig
			_ = sub.Unmarshal(&c)
			reg.Register(notify.NewSMSNotifier(c))
		case "webhook":
			var c notify.WebhookConfig
			_ = sub.Unmarshal(&c)
			reg.Register(notify.NewWebhookNotifier(c))
		default:
			logger.Warn("unknown notification plugin in config", zap.String("name", name))
		}
	}
	return reg
}
