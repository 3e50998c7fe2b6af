package main

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"konsul_app_echo/internal/repository"
	"konsul_app_echo/internal/services"
)

func analyticsCmd() *cobra.Command {
	var consultantID, startStr, endStr string

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Print payment analytics for a consultant over [start, end)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := time.Parse("2006-01-02", startStr)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			end, err := time.Parse("2006-01-02", endStr)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}

			e, err := loadEnv(true)
			if err != nil {
				return err
			}
			defer e.close()

			svc := services.NewAnalyticsService(repository.NewStore(e.db), e.cfg.CountRefundedAsSuccessful, e.log)
			result, err := svc.GetPaymentAnalytics(cmd.Context(), consultantID, start, end)
			if err != nil {
				return err
			}

			out, err := sonic.ConfigStd.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&consultantID, "consultant", "", "Consultant ID (mandatory)")
	cmd.Flags().StringVar(&startStr, "start", "", "Window start, YYYY-MM-DD (mandatory)")
	cmd.Flags().StringVar(&endStr, "end", "", "Window end (exclusive), YYYY-MM-DD (mandatory)")
	cmd.MarkFlagRequired("consultant")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")

	return cmd
}
