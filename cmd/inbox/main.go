package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"whatsapp-inbox/pkg/config"
	"whatsapp-inbox/pkg/constants"
	"whatsapp-inbox/pkg/inbox"
	"whatsapp-inbox/pkg/metrics"
	"whatsapp-inbox/pkg/models"
	"whatsapp-inbox/pkg/service"
	"whatsapp-inbox/pkg/storage"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "inbox",
		Short: "WhatsApp operator inbox",
		Long: `Inbox stores WhatsApp Cloud API conversations in append-only
per-customer logs and tracks which incoming messages the operator has read.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv(constants.EnvConfigFile), "YAML config file")

	rootCmd.AddCommand(serveCmd(), customersCmd(), messagesCmd(), auditCmd(), classifyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	return cfg, logger, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver and operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			logger.WithField("instance_id", cfg.InstanceID).Info("Starting inbox service")

			stores, err := storage.Open(cfg, logger)
			if err != nil {
				logger.WithError(err).Error("Failed to open storage")
				return err
			}

			m := metrics.NewMetrics(prometheus.DefaultRegisterer)
			svc := service.NewService(stores, cfg, logger, m, prometheus.DefaultGatherer)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := svc.Start(ctx); err != nil {
				stores.Close()
				logger.WithError(err).Error("Failed to start service")
				return err
			}

			// Wait for shutdown signal
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			<-sigCh
			logger.Info("Received shutdown signal")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
			defer shutdownCancel()

			if err := svc.Stop(shutdownCtx); err != nil {
				logger.WithError(err).Error("Error during service shutdown")
				return err
			}

			logger.Info("Inbox service shutdown complete")
			return nil
		},
	}
}

// withInbox opens the configured stores for a one-shot command
func withInbox(fn func(ctx context.Context, ib *inbox.Inbox) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	stores, err := storage.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	ib := inbox.NewInbox(stores.Logs, stores.Watermarks, service.InboxOptions(cfg), logger, m)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	return fn(ctx, ib)
}

type filterFlags struct {
	search string
	unread bool
	hours  int
	tag    string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.search, "query", "q", "", "Case-insensitive text or tag search")
	cmd.Flags().BoolVar(&f.unread, "unread", false, "Only unread")
	cmd.Flags().IntVar(&f.hours, "hours", 0, "Only activity within the last N hours")
	cmd.Flags().StringVar(&f.tag, "tag", "", "Only this tag")
}

func customersCmd() *cobra.Command {
	var (
		filter filterFlags
		window int
	)

	cmd := &cobra.Command{
		Use:   "customers",
		Short: "List customers with unread counts, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInbox(func(ctx context.Context, ib *inbox.Inbox) error {
				summaries, err := ib.GetCustomerList(ctx, models.CustomerFilter{
					Search:      filter.search,
					UnreadOnly:  filter.unread,
					RecentHours: filter.hours,
					Tag:         filter.tag,
				}, window)
				if err != nil {
					return err
				}
				return printJSON(summaries)
			})
		},
	}

	filter.register(cmd)
	cmd.Flags().IntVar(&window, "window", 0, "Records per customer to summarize (0 uses the configured window)")
	return cmd
}

func messagesCmd() *cobra.Command {
	var (
		filter filterFlags
		limit  int
		peek   bool
	)

	cmd := &cobra.Command{
		Use:   "messages <customer-id>",
		Short: "Show a conversation and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			customerID := models.NormalizeCustomerID(args[0])
			msgFilter := models.MessageFilter{
				Search:      filter.search,
				UnreadOnly:  filter.unread,
				RecentHours: filter.hours,
				Tag:         filter.tag,
			}

			return withInbox(func(ctx context.Context, ib *inbox.Inbox) error {
				var (
					records []models.EventRecord
					err     error
				)
				if peek {
					records, err = ib.GetCustomerMessages(ctx, customerID, msgFilter, limit)
				} else {
					records, err = ib.ViewCustomer(ctx, customerID, msgFilter, limit)
				}
				if err != nil {
					return err
				}
				return printJSON(records)
			})
		},
	}

	filter.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 0, "Most recent records to read (0 uses the configured limit)")
	cmd.Flags().BoolVar(&peek, "peek", false, "Read without marking the conversation read")
	return cmd
}

func auditCmd() *cobra.Command {
	var (
		day   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the tail of one UTC day's log across all customers",
		RunE: func(cmd *cobra.Command, args []string) error {
			at := time.Now().UTC()
			if day != "" {
				parsed, err := time.Parse(constants.DayLayout, day)
				if err != nil {
					return fmt.Errorf("invalid --day %q: %w", day, err)
				}
				at = parsed
			}

			return withInbox(func(ctx context.Context, ib *inbox.Inbox) error {
				records, err := ib.AuditDay(ctx, at, limit)
				if err != nil {
					return err
				}
				return printJSON(records)
			})
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "Day as YYYY-MM-DD (default today, UTC)")
	cmd.Flags().IntVar(&limit, "limit", constants.DefaultAuditLimit, "Most recent records to print")
	return cmd
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Show the tags the configured rules assign to text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"tags": cfg.Classifier().Classify(strings.Join(args, " ")),
			})
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
