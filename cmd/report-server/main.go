package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/bitrix-report/internal/config"
	"github.com/Sternrassler/bitrix-report/pkg/bitrix"
	"github.com/Sternrassler/bitrix-report/pkg/dashboard"
	"github.com/Sternrassler/bitrix-report/pkg/logging"
	"github.com/Sternrassler/bitrix-report/pkg/pagination"
	"github.com/Sternrassler/bitrix-report/pkg/report"
	"github.com/Sternrassler/bitrix-report/pkg/server"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("Application failed")
		os.Exit(1)
	}
}

func newApp(stdout io.Writer) *cli.App {
	return &cli.App{
		Name:   "report-server",
		Usage:  "Serve Bitrix24 smart process reports",
		Flags:  config.Flags(),
		Writer: stdout,
		Before: func(c *cli.Context) error {
			logging.Setup(logging.Config{
				Level:   logging.LogLevel(c.String(config.FlagLogLevel)),
				Pretty:  c.Bool(config.FlagLogPretty),
				Output:  os.Stderr,
				Service: "bitrix-report",
			})
			return nil
		},
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server (default)",
				Action: serveAction,
			},
			{
				Name:   "check-connection",
				Usage:  "Fetch one smart process item to verify the webhook",
				Action: checkConnectionAction,
			},
			{
				Name:  "fetch",
				Usage: "Load a report from a running server and print it",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "server-url",
						Usage:   "Base URL of the report server",
						EnvVars: []string{"REPORT_SERVER_URL"},
						Value:   "http://localhost:8080",
					},
					&cli.StringFlag{Name: "date-from", Usage: "Lower bound of createdTime (inclusive)"},
					&cli.StringFlag{Name: "date-to", Usage: "Upper bound of createdTime (inclusive)"},
					&cli.StringFlag{Name: "employee-id", Usage: "Responsible user id"},
					&cli.StringFlag{Name: "project-name", Usage: "Exact project name"},
				},
				Action: fetchAction,
			},
		},
	}
}

// setup builds the report service from the parsed configuration. The returned
// cleanup closes the Redis client when one was configured.
func setup(ctx context.Context, cfg config.Config) (*report.Service, *redis.Client, func(), error) {
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return nil, nil, nil, err
	}

	var redisClient *redis.Client
	cleanup := func() {}
	if redisOpts != nil {
		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, nil, errors.Wrapf(err, "connect to redis at %s", redisOpts.Addr)
		}
		log.Info().Str("addr", redisOpts.Addr).Msg("Connected to Redis, operating budget tracking enabled")
		cleanup = func() { redisClient.Close() }
	}

	client, err := bitrix.New(cfg.BitrixConfig(redisClient))
	if err != nil {
		cleanup()
		return nil, nil, nil, errors.Wrap(err, "create bitrix client")
	}

	return report.NewService(client, pagination.DefaultConfig()), redisClient, cleanup, nil
}

func serveAction(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}

	svc, redisClient, cleanup, err := setup(c.Context, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var pinger server.Pinger
	if redisClient != nil {
		pinger = server.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	log.Info().
		Int("entity_type_id", cfg.EntityTypeID).
		Bool("operating_budget", redisClient != nil).
		Msg("Report server configured")

	return server.New(svc, pinger).Run(c.Context, cfg.Addr())
}

func checkConnectionAction(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}

	svc, _, cleanup, err := setup(c.Context, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	out := c.App.Writer
	fmt.Fprintln(out, "Testing Bitrix24 connection...")

	items, err := svc.FetchItems(c.Context, bitrix.Filter{}, 1)
	if err != nil {
		return errors.Wrap(err, "connection failed")
	}

	fmt.Fprintf(out, "Connection successful! Fetched %d item(s).\n", len(items))

	if len(items) > 0 {
		var first struct {
			ID json.Number `json:"id"`
		}
		if err := json.Unmarshal(items[0], &first); err == nil && first.ID != "" {
			fmt.Fprintf(out, "First item ID: %s\n", first.ID)
		}
	}

	return nil
}

type fetchSummary struct {
	Filter           dashboard.ReportFilter `json:"filter"`
	TotalItems       int                    `json:"totalItems"`
	BillableHours    float64                `json:"billableHours"`
	NonBillableHours float64                `json:"nonBillableHours"`
	Items            []dashboard.ReportItem `json:"items"`
}

func fetchAction(c *cli.Context) error {
	filter := dashboard.ReportFilter{
		DateFrom:    c.String("date-from"),
		DateTo:      c.String("date-to"),
		EmployeeID:  c.String("employee-id"),
		ProjectName: c.String("project-name"),
	}

	store := dashboard.NewStore(dashboard.NewClient(c.String("server-url"), nil))

	ctx, cancel := context.WithTimeout(c.Context, 2*time.Minute)
	defer cancel()

	if err := store.FetchReports(ctx, filter); err != nil {
		return errors.Newf("fetch reports: %s", store.Snapshot().Error)
	}

	snap := store.Snapshot()
	summary := fetchSummary{
		Filter:     snap.CurrentFilter,
		TotalItems: snap.TotalItems,
		Items:      snap.Items,
	}
	for _, item := range snap.Items {
		if item.Billable() {
			summary.BillableHours += item.Hours
		} else {
			summary.NonBillableHours += item.Hours
		}
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(summary)
}
