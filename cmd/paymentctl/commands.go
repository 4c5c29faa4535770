package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"checkout-service/config"
	"checkout-service/internal/auth"
	"checkout-service/internal/broker"
	"checkout-service/internal/notify"
	"checkout-service/internal/payment"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func openPostgres(cfg *config.Config) (*store.PostgresStore, error) {
	st, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return st, nil
}

// newNotifier publishes where the running servers listen: the Redis bus
// when configured, and Kafka when enabled.
func newNotifier(cfg *config.Config) (*service.Notifier, func(), error) {
	var (
		bus     notify.Bus             = notify.NewMemoryBus()
		events  service.EventPublisher = broker.NoopPublisher{}
		closers []func()
	)

	if cfg.Notify.Backend == "redis" {
		rc, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		bus = notify.NewRedisBus(rc.GetClient(), cfg.Notify.ChannelPrefix)
		closers = append(closers, func() { _ = rc.Close() })
	}
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		events = broker.NewEventPublisher(producer)
		closers = append(closers, func() { _ = producer.Close() })
	}

	notifier := service.NewNotifier(bus, events)
	return notifier, func() {
		notifier.Wait()
		_ = bus.Close()
		for _, c := range closers {
			c()
		}
	}, nil
}

func migrateCmd(load func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the order and payment tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openPostgres(load())
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := st.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema up to date")
			return nil
		},
	}
}

func sweepCmd(load func() *config.Config) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Cancel bank transfer orders whose payment window has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				now = t
			}

			cfg := load()
			st, err := openPostgres(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			notifier, done, err := newNotifier(cfg)
			if err != nil {
				return err
			}
			defer done()

			ids, err := service.NewExpiryService(st, notifier).SweepExpired(cmd.Context(), now)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %d orders %v\n", len(ids), ids)
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "sweep as of this RFC3339 time instead of now")
	return cmd
}

func unmatchedCmd(load func() *config.Config) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "unmatched",
		Short: "List payment notifications retained for manual reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load()
			st, err := openPostgres(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			list, err := service.NewAdminService(st, nil).ListUnmatched(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tREF\tAMOUNT\tREASON\tNARRATION\tRECEIVED")
			for _, n := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					n.ID, n.Provider, n.ProviderRef, n.Amount.String(), n.Reason, n.Narration,
					n.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum notifications")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func decodeCmd(load func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "decode [narration]",
		Short: "Show the payment codes a bank narration would match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load()
			codec, err := payment.NewCodec(cfg.Business.CodePrefix, cfg.Business.CodeSuffix)
			if err != nil {
				return err
			}

			codes := codec.Extract(args[0])
			if len(codes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No payment code found")
				return nil
			}
			for _, code := range codes {
				id, err := codec.Parse(code)
				if err != nil {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tattempt %d\n", code, id)
			}
			return nil
		},
	}
}

func qrCmd(load func() *config.Config) *cobra.Command {
	var (
		amount string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "qr [attempt-id]",
		Short: "Render the transfer QR for a payment attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load()
			codec, err := payment.NewCodec(cfg.Business.CodePrefix, cfg.Business.CodeSuffix)
			if err != nil {
				return err
			}

			var attemptID int64
			if _, err := fmt.Sscan(args[0], &attemptID); err != nil || attemptID <= 0 {
				return fmt.Errorf("invalid attempt id %q", args[0])
			}
			value, err := decimal.NewFromString(amount)
			if err != nil || !value.IsPositive() {
				return fmt.Errorf("invalid --amount %q", amount)
			}

			bank := payment.BankAccount{
				BankCode:      cfg.Bank.Code,
				AccountNumber: cfg.Bank.AccountNumber,
				AccountName:   cfg.Bank.AccountName,
				Currency:      cfg.Bank.Currency,
				QRBaseURL:     cfg.Bank.QRBaseURL,
			}
			code := codec.Format(attemptID)

			if out != "" {
				if err := qrcode.WriteFile(bank.TransferPayload(code, value), qrcode.Medium, 256, out); err != nil {
					return fmt.Errorf("failed to write qr: %w", err)
				}
			}

			d := bank.Describe(code, value)
			d.QRImage = ""
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "amount to transfer")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the QR image as PNG to this path")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func tokenCmd(load func() *config.Config) *cobra.Command {
	var (
		userID int64
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := auth.NewTokens(load().Auth.JWTSecret, ttl).Issue(userID, auth.Role(role))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleCustomer), "customer, staff or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
