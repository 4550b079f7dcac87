package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/http/dto"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/http/middleware"
	redisRepo "github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/repository/redis"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/auth"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/postgres"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/redis"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase"
)

var (
	timeout time.Duration
	token   string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Ledger operations tool",
		Long:          `A command line interface for the ledger writer, the balance reader and the ledger stream.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("LEDGER_TOKEN"), "Bearer token")

	root.AddCommand(balanceCmd(), submitCmd(), tokenCmd(), replayCmd(), migrateCmd())
	return root
}

func balanceCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "balance [account]",
		Short: "Query an account balance from the balance reader",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := strings.TrimRight(baseURL, "/") + "/get_balance"
			if len(args) == 1 {
				u += "?account_id=" + url.QueryEscape(args[0])
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, u, nil)
			if err != nil {
				return err
			}

			var out struct {
				Balance int64 `json:"balance"`
			}
			if err := do(req, &out, http.StatusOK, http.StatusCreated); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), domain.FormatMinorUnits(out.Balance))
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "Balance reader base URL")
	return cmd
}

func submitCmd() *cobra.Command {
	var (
		baseURL        string
		idempotencyKey string
		req            dto.NewTransactionRequest
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a transaction to the ledger writer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := domain.ParseAmount(req.Amount.String()); err != nil {
				return err
			}

			body, err := json.Marshal(req)
			if err != nil {
				return err
			}

			httpReq, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
				strings.TrimRight(baseURL, "/")+"/new_transaction", bytes.NewReader(body))
			if err != nil {
				return err
			}
			httpReq.Header.Set("Content-Type", "application/json")
			if idempotencyKey != "" {
				httpReq.Header.Set(middleware.IdempotencyKeyHeader, idempotencyKey)
			}

			if err := do(httpReq, nil, http.StatusCreated); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "transaction accepted")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&baseURL, "url", "http://localhost:8080", "Ledger writer base URL")
	f.StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency-Key header value")
	f.StringVar(&req.TransactionID, "id", "", "Client transaction id")
	f.StringVar(&req.FromAccountNum, "from", "", "Sender account")
	f.StringVar(&req.FromRoutingNum, "from-routing", "883745000", "Sender routing number")
	f.StringVar(&req.ToAccountNum, "to", "", "Receiver account")
	f.StringVar(&req.ToRoutingNum, "to-routing", "883745000", "Receiver routing number")
	f.Var(&numberValue{&req.Amount}, "amount", "Amount in minor units")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		secret string
		user   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <account>",
		Short: "Issue a signed bearer token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			signed, err := auth.NewJWTManager(secret, ttl).Generate(args[0], user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "Shared HMAC secret")
	cmd.Flags().StringVar(&user, "user", "", "Username claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func replayCmd() *cobra.Command {
	var (
		addr         string
		password     string
		stream       string
		localRouting string
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the ledger stream and print every balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client, err := redis.NewClient(ctx, redis.Options{Addr: addr, Password: password})
			if err != nil {
				return err
			}
			defer client.Close()

			m := usecase.NewBalanceMaterializer(usecase.MaterializerConfig{
				Store:        redisRepo.NewStreamStore(client, redisRepo.StreamConfig{Stream: stream}),
				Logger:       zerolog.Nop(),
				LocalRouting: localRouting,
				NewBackOff: func() backoff.BackOff {
					return backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 3)
				},
			})
			if err := m.CatchUp(ctx); err != nil {
				return fmt.Errorf("replay %s: %w", stream, err)
			}

			printBalances(cmd.OutOrStdout(), m.Balances(), m.Cursor())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", "localhost:6379", "Ledger Redis address")
	f.StringVar(&password, "password", "", "Ledger Redis password")
	f.StringVar(&stream, "stream", "ledger", "Ledger stream name")
	f.StringVar(&localRouting, "routing", "883745000", "Local routing number")
	return cmd
}

func migrateCmd() *cobra.Command {
	var (
		databaseURL string
		down        bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the balance snapshot schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return fmt.Errorf("--database-url or SNAPSHOT_DATABASE_URL is required")
			}

			logger := zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger()
			if down {
				return postgres.RunMigrationsDown(databaseURL, logger)
			}
			return postgres.RunMigrations(databaseURL, logger)
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", os.Getenv("SNAPSHOT_DATABASE_URL"), "Snapshot database URL")
	cmd.Flags().BoolVar(&down, "down", false, "Roll back the last migration")
	return cmd
}

func printBalances(w io.Writer, balances map[string]int64, cursor domain.EntryID) {
	accounts := make([]string, 0, len(balances))
	for account := range balances {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	var total int64
	for _, account := range accounts {
		total += balances[account]
		fmt.Fprintf(w, "%-12s %14s\n", account, domain.FormatMinorUnits(balances[account]))
	}
	fmt.Fprintf(w, "%-12s %14s\n", "total", domain.FormatMinorUnits(total))
	fmt.Fprintf(w, "cursor %s\n", cursor)
}

func do(req *http.Request, out any, accept ...int) error {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	ok := false
	for _, code := range accept {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%s: status %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// numberValue adapts a json.Number to pflag.Value.
type numberValue struct {
	n *json.Number
}

func (v *numberValue) String() string {
	if v.n == nil {
		return ""
	}
	return v.n.String()
}

func (v *numberValue) Set(s string) error {
	*v.n = json.Number(s)
	return nil
}

func (v *numberValue) Type() string { return "amount" }
