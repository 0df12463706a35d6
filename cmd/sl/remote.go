package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	scoutlinesdk "scoutline/sdk/go"
)

// remoteCmd talks to a running `sl serve` instead of the local workspace.
func remoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Act on a remote Scoutline server over HTTP",
		Long:  "Uses SCOUTLINE_URL and either SCOUTLINE_API_KEY or SCOUTLINE_TOKEN. Decisions are tagged with source \"cli-remote\".",
	}
	cmd.PersistentFlags().String("url", "http://127.0.0.1:8080", "server base URL")
	cmd.PersistentFlags().String("api-key", "", "API key (X-Api-Key)")
	cmd.PersistentFlags().String("token", "", "bearer token")
	_ = viper.BindPFlag("url", cmd.PersistentFlags().Lookup("url"))
	_ = viper.BindPFlag("api-key", cmd.PersistentFlags().Lookup("api-key"))
	_ = viper.BindPFlag("token", cmd.PersistentFlags().Lookup("token"))

	var status string
	var limit int
	deals := &cobra.Command{
		Use:   "deals",
		Short: "List deals",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := remoteClient().ListDeals(cmd.Context(), status, limit, "")
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(page)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Title", "Price", "ROI %", "Status"})
			for _, d := range page.Items {
				tw.AppendRow(table.Row{d.ID, truncate(d.Title, 48), fmt.Sprintf("$%.2f", d.Price), fmt.Sprintf("%.1f", d.ROIPercent), d.Status})
			}
			tw.Render()
			return nil
		},
	}
	deals.Flags().StringVar(&status, "status", "", "filter by deal status")
	deals.Flags().IntVar(&limit, "limit", 100, "max rows")
	cmd.AddCommand(deals)

	cmd.AddCommand(&cobra.Command{
		Use:   "approve <deal-id>",
		Short: "Approve a deal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return remoteTransition(cmd.Context(), func(ctx context.Context, c *scoutlinesdk.Client) (scoutlinesdk.Transition, error) {
				return c.Approve(ctx, args[0])
			})
		},
	})

	var reason string
	reject := &cobra.Command{
		Use:   "reject <deal-id>",
		Short: "Reject a deal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return remoteTransition(cmd.Context(), func(ctx context.Context, c *scoutlinesdk.Client) (scoutlinesdk.Transition, error) {
				return c.Reject(ctx, args[0], reason)
			})
		},
	}
	reject.Flags().StringVar(&reason, "reason", "", "why the deal was passed on")
	cmd.AddCommand(reject)

	var note string
	var dedupe bool
	escalate := &cobra.Command{
		Use:   "escalate <deal-id>",
		Short: "Escalate a deal to the reviewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return remoteTransition(cmd.Context(), func(ctx context.Context, c *scoutlinesdk.Client) (scoutlinesdk.Transition, error) {
				return c.Escalate(ctx, args[0], note, dedupe)
			})
		},
	}
	escalate.Flags().StringVar(&note, "note", "", "extra context for the reviewer")
	escalate.Flags().BoolVar(&dedupe, "dedupe", false, "refuse if an open escalation already exists")
	cmd.AddCommand(escalate)

	var wait bool
	scout := &cobra.Command{
		Use:   "scout",
		Short: "Trigger a scout cycle through the cron endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.CronSecret == "" {
				return fmt.Errorf("SCOUTLINE_CRON_SECRET is not set")
			}
			run, err := remoteClient().TriggerScout(cmd.Context(), cfg.Auth.CronSecret, wait)
			if err != nil {
				return err
			}
			return printJSON(run)
		},
	}
	scout.Flags().BoolVar(&wait, "wait", false, "retry while another cycle is running")
	cmd.AddCommand(scout)
	return cmd
}

func remoteClient() *scoutlinesdk.Client {
	c := scoutlinesdk.New(viper.GetString("url"))
	c.APIKey = viper.GetString("api-key")
	c.BearerToken = viper.GetString("token")
	c.Source = "cli-remote"
	return c
}

func remoteTransition(ctx context.Context, fn func(context.Context, *scoutlinesdk.Client) (scoutlinesdk.Transition, error)) error {
	res, err := fn(ctx, remoteClient())
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(res)
	}
	switch res.Outcome {
	case scoutlinesdk.OutcomeNotFound:
		return fmt.Errorf("deal not found")
	case scoutlinesdk.OutcomeAlreadyActioned:
		fmt.Println("already actioned")
	default:
		if res.Deal != nil {
			fmt.Printf("deal %s is now %s\n", res.Deal.ID, res.Deal.Status)
		} else {
			fmt.Println(res.Outcome)
		}
	}
	return nil
}
