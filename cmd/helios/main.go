package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helios/helios/internal/api"
	"github.com/helios/helios/internal/cache"
	"github.com/helios/helios/internal/config"
	"github.com/helios/helios/internal/knowledge"
	"github.com/helios/helios/internal/lineage"
	"github.com/helios/helios/internal/service"
	"github.com/helios/helios/internal/store"
	"github.com/helios/helios/internal/workflow"
	"github.com/mudler/xlog"
	"github.com/spf13/pflag"
)

const version = "0.1.0"

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	xlog.Info("Starting helios", "version", version, "listen", cfg.ListenAddress, "db", cfg.Database.Path)

	st, err := store.Open(ctx, cfg.Database.Path, cfg.Database.BusyTimeout)
	if err != nil {
		return err
	}
	defer st.Close()

	var clientOpts []workflow.Option
	if cfg.Workflow.Audit {
		clientOpts = append(clientOpts, workflow.WithAuditor(st))
	}
	client := workflow.NewClient(&workflow.Config{
		ChatURL:           cfg.Workflow.ChatURL,
		TaskURL:           cfg.Workflow.TaskURL,
		KnowledgeURL:      cfg.Workflow.KnowledgeURL,
		Timeout:           cfg.Workflow.Timeout,
		RequestsPerMinute: cfg.Workflow.RequestsPerMinute,
	}, clientOpts...)

	results, err := knowledge.Open(cfg.Knowledge.BadgerPath)
	if err != nil {
		return err
	}
	defer results.Close()

	// the pool drains before the result store closes
	pool := workflow.NewPool(&workflow.PoolConfig{
		Workers:   cfg.Workflow.Workers,
		QueueSize: cfg.Workflow.QueueSize,
		Timeout:   cfg.Workflow.Timeout + 5*time.Second,
	})
	defer func() {
		if err := pool.Shutdown(shutdownTimeout); err != nil {
			xlog.Warn("Dispatch pool did not drain", "error", err)
		}
	}()

	agentCache, err := cache.New(&cache.Config{
		RedisURL:      cfg.Cache.RedisURL,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
		TTL:           cfg.Cache.TTL,
	})
	if err != nil {
		xlog.Warn("Public agent cache disabled", "error", err)
		agentCache = cache.Nop{}
	}
	defer agentCache.Close()

	recorder, err := lineage.New(ctx, cfg.Lineage.DgraphAlphaURL)
	if err != nil {
		xlog.Warn("Remix lineage disabled", "error", err)
		recorder = lineage.Nop{}
	}
	defer recorder.Close()

	svc := service.New(st, client,
		service.WithOwner(cfg.OwnerID),
		service.WithEngine(cfg.Workflow.EngineUserID),
		service.WithIngestor(
			knowledge.NewIngestor(results, client, pool, knowledge.WithDocumentCheck(st.DocumentExists)),
			cfg.Knowledge.AutoIngest,
		),
		service.WithDispatchPool(pool),
		service.WithAgentCache(agentCache),
		service.WithLineage(recorder),
	)

	server := api.NewServer(svc)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(cfg.ListenAddress)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	xlog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// loadConfig layers the YAML file, the environment and the command line, in that order
func loadConfig(args []string) (*config.Config, error) {
	var configPath string

	pre := pflag.NewFlagSet("helios", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	pre.StringVarP(&configPath, "config", "c", os.Getenv("HELIOS_CONFIG"), "")
	if err := pre.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}

	flagSet := pflag.NewFlagSet("helios", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", configPath, "path to a YAML config file")
	cfg.BindFlags(flagSet)
	showVersion := flagSet.Bool("version", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if *showVersion {
		fmt.Println("helios", version)
		return nil, pflag.ErrHelp
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
