// wabridge keeps a WhatsApp linked-device session alive and bridges it to HTTP: inbound
// messages and calls are relayed to webhooks, and outbound sends arrive on POST /send.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/sipeed/wabridge/pkg/api"
	"github.com/sipeed/wabridge/pkg/bridge"
	"github.com/sipeed/wabridge/pkg/bus"
	"github.com/sipeed/wabridge/pkg/config"
	"github.com/sipeed/wabridge/pkg/dispatch"
	"github.com/sipeed/wabridge/pkg/health"
	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/maintenance"
	"github.com/sipeed/wabridge/pkg/metrics"
	"github.com/sipeed/wabridge/pkg/recovery"
	"github.com/sipeed/wabridge/pkg/relay"
	"github.com/sipeed/wabridge/pkg/session"
	"github.com/sipeed/wabridge/pkg/storage"
	"github.com/sipeed/wabridge/pkg/whatsapp"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		logLevel   string
		port       int
		pretty     bool
	)

	flagSet := pflag.NewFlagSet("wabridge", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the JSON config file")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.IntVarP(&port, "port", "p", 0, "HTTP port (overrides config and PORT)")
	flagSet.BoolVar(&pretty, "pretty", false, "human readable console logs")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	command := "serve"
	if args := flagSet.Args(); len(args) > 0 {
		command = args[0]
	}
	if command == "version" {
		fmt.Printf("wabridge %s\n", version)
		return nil
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", configPath, err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if pretty {
		cfg.Log.Pretty = true
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	logger.Init(logger.Options{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	switch command {
	case "serve":
		return serve(cfg)
	case "store":
		return storeCommand(cfg)
	default:
		printHelp(flagSet)
		return fmt.Errorf("unknown command %q", command)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("WABRIDGE_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wabridge", "config.json")
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Println("Usage: wabridge [flags] [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     run the bridge (default)")
	fmt.Println("  store     upgrade the device store and list paired devices")
	fmt.Println("  version   print the version")
	fmt.Println()
	fmt.Println("Flags:")
	flagSet.PrintDefaults()
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fields := map[string]interface{}{"version": version}
	for k, v := range config.SecretMaskMap(cfg) {
		fields[k] = v
	}
	logger.InfoCF("main", "Starting wabridge", fields)

	token, generated, err := cfg.EnsureAccessToken()
	if err != nil {
		return fmt.Errorf("resolving access token: %w", err)
	}
	if generated {
		fmt.Printf("🔑 Generated API access token: %s\n", token)
		fmt.Println("   Send it as 'Authorization: Bearer <token>' on POST /send.")
	}

	store, err := storage.Open(ctx, storage.ConfigFromWhatsApp(cfg.WhatsApp))
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New()
	events := bus.NewEventBus()
	state := session.NewState()
	state.SetObserver(func(s session.Snapshot) {
		m.SetReady(s.Ready)
		events.PublishState(bus.StateEvent{Phase: string(s.Phase), Ready: s.Ready, Since: s.LastOperationAt})
	})

	client := whatsapp.NewWhatsmeowClient(store.Container, whatsapp.NewMediaFetcher(cfg.MediaTimeout()))

	cleaner := recovery.NewProcessCleaner(cfg.Recovery.ProcessPatterns, cfg.Recovery.LockFile)
	rec := recovery.NewRecoverer(state, cleaner, m)
	watchdog := health.NewWatchdog(client, state, rec, m, health.WatchdogConfig{
		Interval:     cfg.WatchdogInterval(),
		MaxIdle:      cfg.MaxIdle(),
		RestartDelay: cfg.RestartDelay(),
	})
	rec.SetRestart(watchdog.Restart)
	monitor := health.NewMonitor(client, state, rec, m, cfg.HealthInterval())

	var sink relay.Sink
	if cfg.Broker.URL != "" {
		sink = relay.NewAMQPSink(cfg.Broker.URL, cfg.Broker.Exchange)
	}
	rly := relay.New(relay.NewWebhook(cfg.WebhookTimeout()), cfg.Webhooks.MessageURL, cfg.Webhooks.DownURL, sink, m)
	defer rly.Close()

	var qrOut io.Writer
	if cfg.WhatsApp.PrintQR {
		qrOut = os.Stdout
	}
	br := bridge.New(bridge.Options{
		Client:    client,
		State:     state,
		Recoverer: rec,
		Relay:     rly,
		Events:    events,
		Metrics:   m,
		Calls:     cfg.Calls,
		QROutput:  qrOut,
	})
	br.Attach(ctx)

	disp := dispatch.New(dispatch.Options{
		Client:      client,
		State:       state,
		Recoverer:   rec,
		Metrics:     m,
		Events:      events,
		UserServer:  cfg.WhatsApp.UserServer,
		SendTimeout: cfg.SendTimeout(),
		ImagePause:  cfg.ImagePause(),
	})

	srv := api.NewServer(api.Options{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Token:     token,
		Readiness: monitor,
		Sender:    disp,
		State:     state,
		Events:    events,
		Metrics:   m,
		Restart: func(ctx context.Context) {
			rec.Apply(ctx, "api", recovery.MarkNotReadyAndRestart, nil)
		},
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}

	if expr := cfg.Maintenance.MemorySchedule; expr != "" {
		sched, err := maintenance.NewScheduler(expr, m)
		if err != nil {
			return err
		}
		go sched.Run(ctx)
	}

	logger.InfoC("main", "Initializing WhatsApp client")
	if err := client.Initialize(ctx); err != nil {
		logger.ErrorCF("main", "Failed to initialize WhatsApp client", map[string]interface{}{
			"error": err.Error(),
		})
		rec.Handle(ctx, "startup", err)
		watchdog.Restart(ctx)
	}

	go monitor.Run(ctx)
	go watchdog.Run(ctx)

	fmt.Printf("✓ wabridge listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	<-ctx.Done()

	logger.InfoC("main", "Shutting down")
	srv.Stop()

	shutdownCtx := context.Background()
	if err := client.Destroy(shutdownCtx); err != nil {
		logger.ErrorCF("main", "Error destroying WhatsApp client", map[string]interface{}{
			"error": err.Error(),
		})
	}
	br.Wait()
	cleaner.KillProcesses(shutdownCtx)

	fmt.Println("✓ wabridge stopped")
	return nil
}
