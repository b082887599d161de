package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/eldercare/companion-go/pkg/core"
	"github.com/eldercare/companion-go/pkg/metrics"
	"github.com/eldercare/companion-go/pkg/storage"
)

// maxSessionTurns caps the in-memory history passed to each turn; the context
// assembler trims it further by token budget.
const maxSessionTurns = 40

func newChatCmd() *cobra.Command {
	var (
		userID      int64
		message     string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant as the given user (single message or REPL)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.client.Repository().GetUser(ctx, userID)
			if err != nil {
				return fmt.Errorf("load user %d: %w", userID, err)
			}

			if addr := firstNonEmpty(metricsAddr, a.cfg.Metrics.Addr); addr != "" {
				srv := newStatusServer(addr, a.cfg.Metrics.Path, a.metrics)
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.log.Error().Err(err).Msg("status server stopped")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				a.log.Info().Str("addr", addr).Msg("status server listening")
			}

			session := &chatSession{client: a.client, user: user}
			if message != "" {
				fmt.Fprintln(cmd.OutOrStdout(), session.Send(ctx, message))
				return nil
			}
			return session.REPL(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "ID of the conversing user")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Single message to send")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// chatSession keeps the running history of one terminal conversation.
type chatSession struct {
	client  *core.Client
	user    *storage.UserProfile
	history []storage.ChatTurn
}

// Send answers one message and records the exchange in the session history.
func (s *chatSession) Send(ctx context.Context, message string) string {
	reply := s.client.GenerateResponse(ctx, message, core.ChatContext{
		User:           s.user,
		MessageHistory: s.history,
	})
	s.history = append(s.history,
		storage.ChatTurn{Role: storage.RoleUser, Content: message},
		storage.ChatTurn{Role: storage.RoleAssistant, Content: reply},
	)
	if len(s.history) > maxSessionTurns {
		s.history = s.history[len(s.history)-maxSessionTurns:]
	}
	return reply
}

// REPL reads one message per line until EOF, "salir" or "exit".
func (s *chatSession) REPL(ctx context.Context, in io.Reader, out io.Writer) error {
	name := s.user.FirstName
	if name == "" {
		name = "tú"
	}
	fmt.Fprintf(out, "Compañera (escribe 'salir' para terminar)\n")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "\n%s> ", name)
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "salir" || input == "exit" {
			break
		}
		fmt.Fprintln(out, s.Send(ctx, input))
		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}

func newStatusServer(addr, metricsPath string, m *metrics.Manager) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Method(http.MethodGet, metricsPath, m.Handler())
	return &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
