package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"konsul_app_echo/internal/services"
)

func signCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Produce signatures for testing callbacks against a deployment",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "payment [gateway-order-id] [gateway-payment-id]",
		Short: "Sign a client payment confirmation with PAYMENT_SIGNING_SECRET",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(false)
			if err != nil {
				return err
			}
			defer e.close()
			if e.cfg.PaymentSigningSecret == "" {
				return fmt.Errorf("PAYMENT_SIGNING_SECRET is not set")
			}
			fmt.Println(services.SignPayment(args[0], args[1], e.cfg.PaymentSigningSecret))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "webhook [file]",
		Short: "Sign a raw webhook body with WEBHOOK_SIGNING_SECRET, read from file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(false)
			if err != nil {
				return err
			}
			defer e.close()
			if e.cfg.WebhookSigningSecret == "" {
				return fmt.Errorf("WEBHOOK_SIGNING_SECRET is not set")
			}

			var body []byte
			if len(args) == 1 {
				body, err = os.ReadFile(args[0])
			} else {
				body, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}
			fmt.Println(services.SignWebhook(body, e.cfg.WebhookSigningSecret))
			return nil
		},
	})

	return cmd
}
