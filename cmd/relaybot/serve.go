package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/app"
	"relaybot/internal/domain"
)

func serveCmd() *cobra.Command {
	var noAPI, noRelay bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay worker and the HTTP API",
		Long:  "Starts the polling relay worker and the HTTP API. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
				return runServe(ctx, rt, !noRelay && rt.Config.Relay.Enabled, !noAPI && rt.Config.API.Enabled)
			})
		},
	}
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "do not start the HTTP API")
	cmd.Flags().BoolVar(&noRelay, "no-relay", false, "do not start the relay worker")
	return cmd
}

func runServe(ctx context.Context, rt *app.Runtime, relayOn, apiOn bool) error {
	if !relayOn && !apiOn {
		return fmt.Errorf("nothing to run: relay and API are both disabled")
	}

	if hc, ok := rt.Transport.(domain.HealthChecker); ok {
		if err := hc.Healthy(ctx); err != nil {
			logger.Warn("transport unhealthy at startup", "transport", rt.Transport.Name(), "err", err)
		}
	}

	// Either component failing stops the other before the runtime is closed.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	if relayOn {
		w, err := rt.Worker()
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	} else {
		logger.Info("relay worker disabled")
	}

	if apiOn {
		srv := rt.APIServer()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, rt.ListenAddr()); err != nil {
				errCh <- err
			}
		}()
	} else {
		logger.Info("api disabled")
	}

	logger.Info("relaybot started. Press Ctrl+C to stop.", "version", version)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("api server failed", "err", runErr)
	}
	logger.Info("shutting down relaybot...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	const shutdownTimeout = 10 * time.Second
	select {
	case <-done:
		logger.Info("shutdown complete")
		return runErr
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		return errors.Join(runErr, fmt.Errorf("shutdown timed out"))
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send [address] [message]",
		Short: "Send a message through the configured transport",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
				to, text := args[0], strings.Join(args[1:], " ")
				if v, ok := rt.Transport.(domain.AddressValidator); ok {
					if err := v.ValidateAddress(to); err != nil {
						return err
					}
				}
				if err := rt.Transport.Send(ctx, to, text); err != nil {
					return err
				}
				fmt.Printf("Sent to %s via %s\n", to, rt.Transport.Name())
				return nil
			})
		},
	}
}

func pollCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run a single relay cycle and exit",
		Long: `Polls the transport once and processes the batch like the worker would.
With --dry-run the events are printed and nothing is completed, stored or sent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
				if dryRun {
					events, err := rt.Transport.Poll(ctx)
					if err != nil {
						return err
					}
					return json.NewEncoder(os.Stdout).Encode(events)
				}
				w, err := rt.Worker()
				if err != nil {
					return err
				}
				res, err := w.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("received=%d processed=%d skipped=%d completion_failed=%d persist_failed=%d send_failed=%d\n",
					res.Received, res.Processed, res.Skipped, res.CompletionFailed, res.PersistFailed, res.SendFailed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print polled events without processing them")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent stored messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(context.Background(), func(ctx context.Context, rt *app.Runtime) error {
				msgs, err := rt.Store.ListMessages(ctx, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return json.NewEncoder(os.Stdout).Encode(msgs)
				}
				printHistory(msgs)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of messages to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printHistory(msgs []domain.Message) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSOURCE\tADDRESS\tROLE\tCONTENT")
	for _, m := range msgs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			m.CreatedAt.Local().Format("2006-01-02 15:04:05"), m.Source, m.Address, m.Role, oneLine(m.Content, 80))
	}
	tw.Flush()
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return s
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show transport, provider and database status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
				if hc, ok := rt.Transport.(domain.HealthChecker); ok {
					err := hc.Healthy(ctx)
					logger.Info("transport", "name", rt.Transport.Name(), "healthy", err == nil, "err", err)
				} else {
					logger.Info("transport", "name", rt.Transport.Name())
				}

				err := rt.Completer.Healthy(ctx)
				logger.Info("provider", "name", rt.Completer.Name(), "healthy", err == nil, "err", err)

				n, err := rt.Store.CountMessages(ctx)
				logger.Info("database", "path", rt.Config.Store.DBPath, "messages", n, "connected", err == nil)
				return nil
			})
		},
	}
}
