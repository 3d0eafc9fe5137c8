package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/trialdata/aactschema/internal/history"
	"github.com/trialdata/aactschema/internal/llm"
	"github.com/trialdata/aactschema/internal/logging"
	"github.com/trialdata/aactschema/internal/nl2sql"
	"github.com/trialdata/aactschema/internal/profiler"
	"github.com/trialdata/aactschema/internal/resource"
	"github.com/trialdata/aactschema/internal/rpc"
	"github.com/trialdata/aactschema/internal/secrets"
	"github.com/trialdata/aactschema/internal/util"
	"github.com/trialdata/aactschema/internal/version"
	"github.com/trialdata/aactschema/internal/web"
)

func main() {
	app := &cli.App{
		Name:    version.Name,
		Usage:   version.Description,
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format (text, json)",
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the schema resources over JSON-RPC",
				Action: runServe,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "transport",
						Value: "stdio",
						Usage: "Transport to serve on (stdio, http)",
					},
					&cli.StringFlag{
						Name:  "host",
						Value: "127.0.0.1",
						Usage: "Bind address for the http transport",
					},
					&cli.IntFlag{
						Name:  "port",
						Value: 8021,
						Usage: "Port for the http transport",
					},
					&cli.StringFlag{
						Name:  "data-dir",
						Usage: "Directory overriding the bundled schema and artifacts",
					},
				},
			},
			{
				Name:   "demo",
				Usage:  "Run the demo web backend (NL question to SQL)",
				Action: runDemo,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "host",
						Value: "127.0.0.1",
						Usage: "Bind address",
					},
					&cli.IntFlag{
						Name:  "port",
						Value: 8022,
						Usage: "Port to listen on",
					},
					&cli.StringFlag{
						Name:  "history",
						Value: "aact-demo-history.db",
						Usage: "Path to the question history database",
					},
					&cli.StringFlag{
						Name:  "data-dir",
						Usage: "Directory overriding the bundled schema and artifacts",
					},
				},
			},
			{
				Name:   "profile",
				Usage:  "Profile key columns of a live AACT database",
				Action: runProfile,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "db-url",
						EnvVars: []string{"AACT_DATABASE_URL"},
						Usage:   "PostgreSQL connection string",
					},
					&cli.StringFlag{
						Name:  "out",
						Value: "column_profiles.json",
						Usage: "Output artifact path",
					},
					&cli.StringFlag{
						Name:  "schema",
						Value: "ctgov",
						Usage: "Database schema holding the AACT tables",
					},
					&cli.IntFlag{
						Name:  "enum-cap",
						Value: 50,
						Usage: "Distinct-value ceiling before an enum collapses to a sample",
					},
					&cli.StringFlag{
						Name:  "tables",
						Usage: "Comma-separated table names to restrict profiling to",
					},
					&cli.BoolFlag{
						Name:  "quiet",
						Usage: "Suppress the progress bar",
					},
				},
			},
			{
				Name:   "init-secrets",
				Usage:  "Write a template LLM provider configuration",
				Action: runInitSecrets,
			},
			{
				Name:   "status",
				Usage:  "Print the loaded dataset summary and exit",
				Action: runStatus,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "data-dir",
						Usage: "Directory overriding the bundled schema and artifacts",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupLogging(c *cli.Context) error {
	level, err := logging.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logging.SetLevel(level)
	logging.SetFormat(c.String("log-format"))
	// The stdio transport owns stdout; everything else goes to stderr.
	logging.SetOutput(os.Stderr)
	return nil
}

func runServe(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	stores, err := resource.BuildStores(ctx, c.String("data-dir"))
	if err != nil {
		return fmt.Errorf("loading datasets: %w", err)
	}
	handler := rpc.NewHandler(resource.NewRouter(stores), version.Version)

	switch c.String("transport") {
	case "stdio":
		logging.Info("Serving on stdio (%d tables)", len(stores.Schema.Tables))
		return rpc.ServeStdio(ctx, handler, os.Stdin, os.Stdout)
	case "http":
		addr := fmt.Sprintf("%s:%d", c.String("host"), c.Int("port"))
		logging.Info("Serving on http://%s/rpc (%d tables)", addr, len(stores.Schema.Tables))
		return serveHTTP(ctx, addr, rpc.NewHTTPEngine(handler))
	default:
		return fmt.Errorf("unknown transport %q (want stdio or http)", c.String("transport"))
	}
}

func runDemo(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := llm.NewClientFromSecrets()
	if err != nil {
		return fmt.Errorf("configuring LLM client: %w", err)
	}
	logging.Info("Using %s model %s", client.ProviderName(), client.Model())

	hist, err := history.Open(c.String("history"))
	if err != nil {
		return err
	}
	defer hist.Close()

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating server binary: %w", err)
	}
	flowArgs := []string{self, "serve", "--transport", "stdio"}
	if dir := c.String("data-dir"); dir != "" {
		flowArgs = append(flowArgs, "--data-dir", dir)
	}

	srv := &web.Server{
		Flow:     rpc.NewClient(flowArgs...),
		Selector: &nl2sql.Selector{LLM: client},
		Composer: &nl2sql.Composer{LLM: client},
		History:  hist,
	}

	addr := fmt.Sprintf("%s:%d", c.String("host"), c.Int("port"))
	logging.Info("Demo backend on http://%s", addr)
	return serveHTTP(ctx, addr, srv.NewEngine())
}

func runProfile(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	opts := profiler.Options{
		URL:     c.String("db-url"),
		Schema:  c.String("schema"),
		EnumCap: c.Int("enum-cap"),
		OutPath: c.String("out"),
		Quiet:   c.Bool("quiet"),
	}
	if tables := util.SplitCSV(c.String("tables")); tables != nil {
		opts.Columns = profiler.FilterColumns(profiler.DefaultColumns, tables)
		if len(opts.Columns) == 0 {
			return fmt.Errorf("no profiled columns match tables %v", tables)
		}
	}
	return profiler.Run(ctx, opts)
}

func runInitSecrets(c *cli.Context) error {
	fmt.Print(secrets.GenerateTemplate())
	return nil
}

func runStatus(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	stores, err := resource.BuildStores(ctx, c.String("data-dir"))
	if err != nil {
		return fmt.Errorf("loading datasets: %w", err)
	}
	fmt.Print(resource.NewRouter(stores).Health())
	return nil
}

// serveHTTP runs the server until the context is canceled, then shuts down
// with a short drain window.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
