package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/howtoharden/hth/pkg/webhook"
)

func newWebhookCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Webhook signature tools",
	}

	var secretEnv, signature, file string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check a sha256=<hex> HMAC signature against a payload",
		Long: `Verify a webhook delivery the way the receiver does.

Example:
  WEBHOOK_SECRET=... hth webhook verify --secret-env WEBHOOK_SECRET \
    --signature sha256=5d7f... --file payload.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv(secretEnv)
			if secret == "" {
				return fmt.Errorf("%s is not set", secretEnv)
			}
			var payload []byte
			var err error
			if file == "-" {
				payload, err = io.ReadAll(cmd.InOrStdin())
			} else {
				payload, err = os.ReadFile(file)
			}
			if err != nil {
				return err
			}
			if err := webhook.Verify(secret, payload, signature); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signature valid.")
			return nil
		},
	}
	verify.Flags().StringVar(&secretEnv, "secret-env", "HTH_WEBHOOK_SECRET", "environment variable holding the shared secret")
	verify.Flags().StringVar(&signature, "signature", "", "signature header value")
	verify.Flags().StringVar(&file, "file", "-", "payload file, or - for stdin")
	_ = verify.MarkFlagRequired("signature")

	cmd.AddCommand(verify)
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive signed vendor webhooks and serve metrics",
		Long: `Run the webhook receiver. Secrets are read from HTH_WEBHOOK_SECRET_<VENDOR>.

Routes:
  POST /webhooks/{vendor}
  GET  /healthz
  GET  /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv := webhook.NewServer(a.logger, webhook.Config{
				Addr:    addr,
				Secrets: webhook.EnvSecrets{},
				Metrics: a.metrics.Handler(),
			})
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
