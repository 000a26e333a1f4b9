// Package main is the changeflow command line client. It wires the
// transport and services together and dispatches one subcommand per
// invocation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/changeflow/config"
	"github.com/pitabwire/changeflow/identity"
	"github.com/pitabwire/changeflow/internal/observability"
	"github.com/pitabwire/changeflow/internal/transport"
	"github.com/pitabwire/changeflow/ticket"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0"
var version = "dev"

const usage = `usage: changeflow [-config FILE] COMMAND [ARGS]

commands:
  get ID            print a ticket snapshot
  history ID        print a ticket's activity trail
  cancel ID         cancel a ticket
  workflow NAME     list ticket ids for a workflow
  expiring          list ticket ids carrying an expiration date
  user NAME         resolve a user by username
  link ID           print the browser link for a ticket
  version           print the client version
`

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "changeflow.yaml", "path to configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return 2
	}
	if args[0] == "version" {
		fmt.Println(version)
		return 0
	}

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize logging and metrics.
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.InitMetrics(prometheus.NewRegistry())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Step 4: Build credentials and transport.
	creds, err := transport.NewCredentials(cfg.Auth)
	if err != nil {
		logger.Error("credentials error", zap.Error(err))
		return 1
	}
	client := transport.NewClient(cfg, creds, logger, metrics)

	// Step 5: Build services and dispatch.
	tickets := ticket.NewService(client, logger)
	identities := identity.NewResolver(client, 0)

	if err := dispatch(ctx, args, tickets, identities, cfg); err != nil {
		logger.Error("command failed", zap.String("command", args[0]), zap.Error(err))
		return 1
	}
	return 0
}

func dispatch(ctx context.Context, args []string, tickets *ticket.Service, identities *identity.Resolver, cfg *config.Config) error {
	switch args[0] {
	case "get":
		id, err := idArg(args)
		if err != nil {
			return err
		}
		t, err := tickets.GetTicket(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(t)

	case "history":
		id, err := idArg(args)
		if err != nil {
			return err
		}
		h, err := tickets.GetTicketHistory(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(h)

	case "cancel":
		id, err := idArg(args)
		if err != nil {
			return err
		}
		return tickets.CancelTicket(ctx, id)

	case "workflow":
		if len(args) < 2 {
			return fmt.Errorf("workflow: NAME argument is required")
		}
		ids, err := tickets.FindByWorkflow(ctx, args[1])
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil

	case "expiring":
		it := tickets.FindWithExpiration(ctx, cfg.Query.PageSize)
		defer it.Close()
		for it.Next() {
			fmt.Println(it.ID())
		}
		return it.Err()

	case "user":
		if len(args) < 2 {
			return fmt.Errorf("user: NAME argument is required")
		}
		u, err := identities.UserByUsername(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(u)

	case "link":
		id, err := idArg(args)
		if err != nil {
			return err
		}
		fmt.Println(tickets.TicketLink(id))
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func idArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s: ID argument is required", args[0])
	}
	id, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a ticket id", args[0], args[1])
	}
	return id, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
