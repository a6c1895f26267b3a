package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/bher20/energybill/internal/calculation"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Upsert houses, flags and rates from a YAML catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			e.cfg.CatalogPath = ""
			st, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := seed(cmd.Context(), e.log, st, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "houses=%d flags=%d rates=%d\n", res.Houses, res.Flags, res.Rates)
			return nil
		},
	}
}

func newCalculateCmd() *cobra.Command {
	var (
		houseID     string
		flagID      string
		consumption string
		date        string
	)
	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Compute and store a bill, then print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kwh, err := decimal.NewFromString(consumption)
			if err != nil {
				return fmt.Errorf("--consumption: %w", err)
			}
			req := calculation.Request{HouseID: houseID, FlagID: flagID, Consumption: kwh}
			if date != "" {
				d, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				req.Date = d
			}

			e, err := loadEnv()
			if err != nil {
				return err
			}
			st, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			d, err := calculation.NewService(st, e.log).Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
	cmd.Flags().StringVar(&houseID, "house", "", "house id")
	cmd.Flags().StringVar(&flagID, "flag", "", "tariff flag id")
	cmd.Flags().StringVar(&consumption, "consumption", "", "consumption in kWh")
	cmd.Flags().StringVar(&date, "date", "", "billing date (YYYY-MM-DD), defaults to today")
	_ = cmd.MarkFlagRequired("house")
	_ = cmd.MarkFlagRequired("flag")
	_ = cmd.MarkFlagRequired("consumption")
	return cmd
}
