package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	cl "stanksmarket/internal/cli"
	"stanksmarket/internal/config"
	"stanksmarket/internal/market"
	"stanksmarket/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const requestTimeout = 30 * time.Second

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "mkt",
		Short:        "Stanks market operator CLI",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "market API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newStatusCmd(&apiBase),
		newInstrumentsCmd(&apiBase),
		newIndicesCmd(&apiBase),
		newEventsCmd(&apiBase),
		newHaltCmd(&apiBase, cfg.AdminToken),
		newResumeCmd(&apiBase, cfg.AdminToken),
		newResetCmd(&apiBase, cfg.AdminToken),
		newDelistCmd(&apiBase, cfg.AdminToken),
		newIPOCmd(&apiBase),
		newSyncCmd(&apiBase, cfg.AdminToken),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"), "")
}

// newAdminClient prefers the environment token, then the saved session.
func newAdminClient(apiBase *string, envToken string) *cl.Client {
	c := newClient(apiBase)
	c.AdminToken = envToken
	if c.AdminToken == "" {
		if sess, err := cl.LoadSession(); err == nil {
			c.AdminToken = sess.AdminToken
		}
	}
	return c
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Save an admin token for this API",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := promptRequired("Admin token")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			c := newClient(apiBase)
			c.AdminToken = token
			// an unknown symbol only gets past auth to a 404 when the token is valid
			if _, err := c.Resume(ctx, "ZZZZZZ"); err != nil && !isStatus(err, http.StatusNotFound) {
				return fmt.Errorf("token rejected: %w", err)
			}
			if err := cl.SaveSession(cl.Session{APIBaseURL: *apiBase, AdminToken: token}); err != nil {
				return err
			}
			printSuccess("Admin session saved.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the saved admin session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newStatusCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show market status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			st, err := newClient(apiBase).Status(ctx)
			if err != nil {
				return err
			}
			renderStatus(st)
			return nil
		},
	}
}

func newInstrumentsCmd(apiBase *string) *cobra.Command {
	var kind, sector string
	var points int
	cmd := &cobra.Command{
		Use:     "instruments [SYMBOL]",
		Short:   "List instruments or inspect one",
		Aliases: []string{"ls", "stocks"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			client := newClient(apiBase)
			if len(args) == 0 {
				out, err := client.Instruments(ctx, kind, sector)
				if err != nil {
					return err
				}
				renderInstruments(out)
				return nil
			}
			symbol := market.NormalizeSymbol(args[0])
			inst, err := client.Instrument(ctx, symbol)
			if err != nil {
				return err
			}
			series, err := client.Series(ctx, symbol, points)
			if err != nil {
				return err
			}
			renderInstrument(inst, series)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (bot|ipo)")
	cmd.Flags().StringVar(&sector, "sector", "", "filter by sector")
	cmd.Flags().IntVar(&points, "points", 8, "recent price points to show")
	return cmd
}

func newIndicesCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "indices",
		Short: "Show market indices",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := newClient(apiBase).Indices(ctx)
			if err != nil {
				return err
			}
			renderIndices(out)
			return nil
		},
	}
}

func newEventsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Show live market events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := newClient(apiBase).Events(ctx)
			if err != nil {
				return err
			}
			renderEvents(out)
			return nil
		},
	}
}

func newHaltCmd(apiBase *string, envToken string) *cobra.Command {
	var reason string
	var persistent bool
	cmd := &cobra.Command{
		Use:   "halt market|SYMBOL",
		Short: "Halt the market or one instrument",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			return runAdmin(ctx, newAdminClient(apiBase, envToken), "halt", cl.HaltRequest(args[0], reason, persistent))
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "halt reason")
	cmd.Flags().BoolVar(&persistent, "persistent", false, "stay halted until an explicit resume")
	return cmd
}

func newResumeCmd(apiBase *string, envToken string) *cobra.Command {
	return &cobra.Command{
		Use:   "resume market|SYMBOL",
		Short: "Resume the market or one instrument",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			return runAdmin(ctx, newAdminClient(apiBase, envToken), "resume", cl.ResumeRequest(args[0]))
		},
	}
}

func newResetCmd(apiBase *string, envToken string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset SYMBOL",
		Short: "Reset an instrument to its base price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			return runAdmin(ctx, newAdminClient(apiBase, envToken), "reset", cl.ResetRequest(market.NormalizeSymbol(args[0])))
		},
	}
}

func newDelistCmd(apiBase *string, envToken string) *cobra.Command {
	var reason string
	var yes bool
	cmd := &cobra.Command{
		Use:   "delist SYMBOL",
		Short: "Delist a player IPO (the owner forfeits the reward)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := market.NormalizeSymbol(args[0])
			if !yes {
				ok, err := promptConfirm(fmt.Sprintf("Delist %s and forfeit its reward?", symbol))
				if err != nil {
					return err
				}
				if !ok {
					printWarn("Aborted.")
					return nil
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			return runAdmin(ctx, newAdminClient(apiBase, envToken), "delist", cl.DelistRequest(symbol, reason))
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "delist reason")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func newSyncCmd(apiBase *string, envToken string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay admin commands queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newAdminClient(apiBase, envToken)
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			remaining := make([]syncq.Command, 0, len(queue))
			replayed := 0
			for _, q := range queue {
				res, err := client.Admin(ctx, q.Action, q.Body, q.IdempotencyKey)
				if err != nil {
					if isNetworkError(err) {
						remaining = append(remaining, q)
					}
					printError(fmt.Sprintf("Sync failed for %s: %v", q.Action, err))
					continue
				}
				replayed++
				renderCommand(res)
			}
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", replayed, len(remaining)))
			return nil
		},
	}
}

func newIPOCmd(apiBase *string) *cobra.Command {
	ipo := &cobra.Command{
		Use:   "ipo",
		Short: "Player IPO commands",
	}
	ipo.AddCommand(newIPOStartCmd(apiBase), newIPOStatusCmd(apiBase))
	return ipo
}

func newIPOStartCmd(apiBase *string) *cobra.Command {
	var owner, name string
	var netWorth float64
	cmd := &cobra.Command{
		Use:   "start",
		Short: "List a new player IPO",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if strings.TrimSpace(owner) == "" {
				if owner, err = promptRequired("Owner user id"); err != nil {
					return err
				}
			}
			if strings.TrimSpace(name) == "" {
				if name, err = promptOptional("Display name (optional)"); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := newClient(apiBase).StartIPO(ctx, market.StartIPOInput{
				OwnerUserID:    owner,
				OwnerName:      name,
				NetWorthMicros: market.StonkyToMicros(netWorth),
			})
			if err != nil {
				return err
			}
			renderIPO(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner user id")
	cmd.Flags().StringVar(&name, "name", "", "owner display name")
	cmd.Flags().Float64Var(&netWorth, "net-worth", 0, "qualifying net worth in stonky")
	return cmd
}

func newIPOStatusCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status SYMBOL",
		Short: "Show a player IPO",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := newClient(apiBase).IPO(ctx, market.NormalizeSymbol(args[0]))
			if err != nil {
				return err
			}
			renderIPO(out)
			return nil
		},
	}
}

// runAdmin sends one admin command, queueing it for `mkt sync` when the
// API cannot be reached.
func runAdmin(ctx context.Context, c *cl.Client, action string, body map[string]any) error {
	idem := uuid.NewString()
	res, err := c.Admin(ctx, action, body, idem)
	if err != nil {
		return queueOnNetworkError(err, syncq.Command{
			Action:         action,
			Body:           body,
			IdempotencyKey: idem,
			QueuedAt:       time.Now().UTC(),
		})
	}
	renderCommand(res)
	return nil
}

func queueOnNetworkError(err error, q syncq.Command) error {
	if !isNetworkError(err) {
		return err
	}
	if qerr := syncq.Push(q); qerr != nil {
		return fmt.Errorf("request failed: %v (queue write failed: %w)", err, qerr)
	}
	printWarn(fmt.Sprintf("API unreachable; %s queued. Run `mkt sync` to replay.", q.Action))
	return nil
}

// isNetworkError is true for failures where the API never answered.
func isNetworkError(err error) bool {
	var apiErr *cl.APIError
	return err != nil && !errors.As(err, &apiErr) && !errors.Is(err, cl.ErrNoAdminToken)
}

func isStatus(err error, code int) bool {
	var apiErr *cl.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
