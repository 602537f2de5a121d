package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"byteme/consumers"
	"byteme/rabbitmq"
)

var busCmd = &cobra.Command{
	Use:   "bus",
	Short: "Inspect and operate the RabbitMQ bus",
}

var (
	publishExchange string
	publishKey      string
	publishBody     string
	publishDelay    time.Duration
)

func init() {
	busCmd.AddCommand(busSetupCmd, busCheckCmd, busPublishCmd, busDeadLettersCmd)

	busPublishCmd.Flags().StringVar(&publishExchange, "exchange", rabbitmq.ExchangeOrder, "exchange to publish to")
	busPublishCmd.Flags().StringVar(&publishKey, "key", "", "routing key")
	busPublishCmd.Flags().StringVar(&publishBody, "body", "{}", "JSON message body")
	busPublishCmd.Flags().DurationVar(&publishDelay, "delay", 0, "publish through the delayed exchange")
	_ = busPublishCmd.MarkFlagRequired("key")
}

// withBus connects to the broker for a one-off bus command.
func withBus(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, _ []string) error {
		a, err := newApp("bus")
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signalContext()
		defer stop()

		// 命令行工具必须连上 broker
		a.cfg.RabbitMQ.Required = true
		if err := a.openBus(ctx); err != nil {
			return err
		}
		return fn(ctx, a)
	}
}

var busSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Declare exchanges, queues and bindings, then exit",
	Args:  cobra.NoArgs,
	RunE: withBus(func(context.Context, *app) error {
		// openBus has already declared the topology
		return nil
	}),
}

var busCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the broker is reachable and the exchanges exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp("bus")
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := rabbitmq.CheckSetup(ctx, a.cfg.RabbitMQ); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rabbitmq ok: exchanges %s declared\n", strings.Join(rabbitmq.Exchanges(), ", "))
		return nil
	},
}

var busPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish one JSON message",
	Example: `  byteme bus publish --key order.create --body '{"customer_id":"c-1","parts_list":["p-1"]}'
  byteme bus publish --key order.payment_check --body '{"order_id":"o-1"}' --delay 1m`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !json.Valid([]byte(publishBody)) {
			return fmt.Errorf("--body is not valid JSON")
		}
		payload := json.RawMessage(publishBody)

		return withBus(func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()
			if publishDelay > 0 {
				if err := a.bus.PublishDelayed(ctx, publishKey, payload, publishDelay); err != nil {
					return err
				}
				fmt.Fprintf(out, "published %s to %s, delayed %s\n", publishKey, a.cfg.RabbitMQ.DelayExchange, publishDelay)
				return nil
			}

			if err := a.bus.Publish(ctx, publishExchange, publishKey, payload); err != nil {
				return err
			}
			fmt.Fprintf(out, "published %s to %s\n", publishKey, publishExchange)
			if queues := rabbitmq.Route(publishExchange, publishKey); len(queues) > 0 {
				fmt.Fprintf(out, "routes to: %s\n", strings.Join(queues, ", "))
			} else {
				fmt.Fprintln(out, "warning: no declared queue is bound for this key")
			}
			return nil
		})(cmd, args)
	},
}

var busDeadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "Log and acknowledge every message in the dead letter queue",
	Args:  cobra.NoArgs,
	RunE: withBus(func(ctx context.Context, a *app) error {
		return consumers.Run(ctx, a.bus, consumers.Subscription{
			Queue:   a.cfg.RabbitMQ.DeadLetterQueue,
			Tag:     "dead-letter-inspector",
			Handler: consumers.DeadLetterHandler(a.logger),
		})
	}),
}
