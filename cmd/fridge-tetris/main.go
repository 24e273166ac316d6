package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"

	"fridge-tetris/internal/api"
	"fridge-tetris/internal/config"
	"fridge-tetris/internal/lib/sl"
	"fridge-tetris/internal/llm"
	"fridge-tetris/internal/llm/backends"
	"fridge-tetris/internal/packing"
)

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

var configPath string

func main() {
	app := &cli.App{
		Name:    "fridge-tetris",
		Usage:   "Packing instructions for your fridge from two photos",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Path to a TOML config file; environment variables override it",
				Aliases:     []string{"c"},
				Value:       config.DefaultConfigPath,
				Destination: &configPath,
				EnvVars:     []string{"CONFIG_PATH"},
			},
		},
		Commands: []*cli.Command{serveCommand, planCommand, generateConfigCommand},
		Action:   serve,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "Run the HTTP server and web page",
	Action: serve,
}

var generateConfigCommand = &cli.Command{
	Name:  "generate-config",
	Usage: "Write the default configuration as TOML and exit",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "out",
			Usage:   "Destination file",
			Aliases: []string{"o"},
			Value:   config.DefaultConfigPath,
		},
	},
	Action: func(ctx *cli.Context) error {
		out := ctx.String("out")
		if err := config.WriteDefault(out); err != nil {
			return err
		}
		fmt.Printf("Config written to: %s\n", out)
		return nil
	},
}

// bootstrap loads configuration, the prompt template and the backend. Logs go
// to logOut; stdout is left to command output. Any failure here is fatal.
func bootstrap(ctx context.Context, logOut *os.File) (*config.Config, *slog.Logger, string, llm.Backend, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, "", nil, err
	}

	log := setupLogger(cfg.Env, logOut)
	slog.SetDefault(log)

	prompt, err := llm.LoadPromptTemplate(ctx, cfg.Prompt.Path)
	if err != nil {
		return nil, nil, "", nil, err
	}

	backendCfg := cfg.LLMBackend()
	backend, err := backends.New(backendCfg)
	if err != nil {
		return nil, nil, "", nil, err
	}

	attrs := []any{
		slog.String("backend", backend.Name()),
		slog.String("endpoint", backendCfg.Endpoint),
		slog.String("model", backend.Model()),
	}
	if backendCfg.APIKey != "" {
		attrs = append(attrs, sl.Secret(backendCfg.APIKey))
	}
	log.With(attrs...).Info("backend configured")

	return cfg, log, prompt, backend, nil
}

func newPlanner(cfg *config.Config, backend llm.Backend, log *slog.Logger) *packing.Planner {
	return packing.NewPlanner(backend,
		packing.WithMaxImageBytes(cfg.Backend.MaxImageBytes),
		packing.WithTimeout(cfg.Backend.Timeout),
		packing.WithLogger(log),
	)
}

func serve(c *cli.Context) error {
	cfg, log, prompt, backend, err := bootstrap(c.Context, os.Stderr)
	if err != nil {
		return err
	}
	defer backend.Close()

	logger := log.With(sl.Module("main"))
	logger.Info("starting fridge-tetris",
		slog.String("version", Version),
		slog.String("env", cfg.Env),
		slog.String("config", configPath),
	)

	waitForBackend(c.Context, backend, cfg.Backend.ReadyTimeout, logger)

	if cfg.Env == config.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewRouter(newPlanner(cfg, backend, log), api.Options{
		PromptTemplate: prompt,
		PublicShare:    cfg.Server.PublicShare,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		MaxUploadBytes: 2*cfg.Backend.MaxImageBytes + 1<<20,
	}, log)

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		// Inference dominates the response time.
		WriteTimeout: cfg.Backend.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", sl.Err(err))
			return err
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down...", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", sl.Err(err))
		return err
	}

	logger.Info("fridge-tetris stopped")
	return nil
}

// waitForBackend blocks until a backend that loads its model at startup is
// ready. Other backends are pinged once. Failures are logged, not fatal: the
// server still starts and requests report the backend error.
func waitForBackend(ctx context.Context, backend llm.Backend, timeout time.Duration, log *slog.Logger) {
	if timeout <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if waiter, ok := backend.(llm.ReadyWaiter); ok {
		log.Info("waiting for model", slog.String("model", backend.Model()), slog.Duration("timeout", timeout))
		if err := waiter.WaitReady(ctx); err != nil {
			log.Warn("model not ready, serving anyway", sl.Err(err))
			return
		}
		log.Info("model ready", slog.Duration("waited", time.Since(start)))
		return
	}

	if err := backend.Ping(ctx); err != nil {
		log.Warn("backend check failed, serving anyway", sl.Err(err))
		return
	}
	log.Info("backend reachable", slog.Duration("latency", time.Since(start)))
}
