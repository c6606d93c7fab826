// Command fleetctl renders the fleet dashboards in a terminal and manages
// carriers, vehicles and driver assignments through the API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ukydev/fleet-insights/internal/client"
	"github.com/ukydev/fleet-insights/internal/config"
	"github.com/ukydev/fleet-insights/internal/events"
	"github.com/ukydev/fleet-insights/internal/logger"
)

// dialFunc connects to the invalidation bus. The returned func releases it.
type dialFunc func(cfg config.MQTTConfig, logger log.FieldLogger) (client.Subscriber, func(), error)

func dialMQTT(cfg config.MQTTConfig, logger log.FieldLogger) (client.Subscriber, func(), error) {
	bus, err := events.Dial(events.Config{
		BrokerURL:   cfg.BrokerURL,
		ClientID:    cfg.ClientID,
		TopicPrefix: cfg.TopicPrefix,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return bus, bus.Close, nil
}

type cli struct {
	cfg    config.ClientConfig
	logger log.FieldLogger
	out    io.Writer
	dial   dialFunc

	api *client.Client
}

func (c *cli) table() *tabwriter.Writer {
	return tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
}

// connect builds the API client and authenticates it once per invocation.
func (c *cli) connect(ctx context.Context) error {
	if c.api != nil {
		return nil
	}
	opts := []client.Option{
		client.WithLogger(c.logger),
		client.WithHTTPClient(&http.Client{Timeout: c.cfg.Timeout}),
	}
	if c.cfg.Token != "" {
		c.api = client.New(c.cfg.APIURL, append(opts, client.WithToken(c.cfg.Token))...)
		return nil
	}
	if c.cfg.Username == "" {
		return errors.New("set FLEET_TOKEN or FLEET_USERNAME and FLEET_PASSWORD")
	}
	api := client.New(c.cfg.APIURL, opts...)
	if _, err := api.Login(ctx, c.cfg.Username, c.cfg.Password); err != nil {
		return fmt.Errorf("login as %s: %s", c.cfg.Username, client.Detail(err, err.Error()))
	}
	c.api = api
	return nil
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "fleetctl",
		Short:         "Fleet dashboards and administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.connect(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&c.cfg.APIURL, "api-url", c.cfg.APIURL, "API base URL")
	root.PersistentFlags().StringVar(&c.cfg.Token, "token", c.cfg.Token, "bearer token (overrides username/password)")

	root.AddCommand(
		newStatsCmd(c),
		newDriversCmd(c),
		newTripsChartCmd(c),
		newFuelCmd(c),
		newEfficiencyCmd(c),
		newLeaderboardCmd(c),
		newExportCmd(c),
		newCarriersCmd(c),
		newVehiclesCmd(c),
		newAssignCmd(c),
		newWatchCmd(c),
	)
	return root
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Fatal("Failed to load .env")
	}
	cfg, err := config.LoadClient()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	lg := logger.NewWithOutput(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{cfg: cfg, logger: lg, out: os.Stdout, dial: dialMQTT}
	if err := newRootCmd(c).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
