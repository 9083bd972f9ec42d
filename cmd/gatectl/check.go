package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/ganesh-swami/prvt-sub003/internal/model"
	"github.com/ganesh-swami/prvt-sub003/internal/module/entitlement"
)

type checkOptions struct {
	catalogPath string
	plan        string
	addons      []string
	status      string
	graceUntil  string
	fallback    string
}

func newCheckCmd() *cobra.Command {
	var opts checkOptions

	cmd := &cobra.Command{
		Use:   "check <feature>",
		Short: "Evaluate a feature for a plan offline",
		Long: `Evaluate whether a subscription may use a feature against a catalog file
and print the decision as JSON. Usage counters are not consulted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := readCatalog(opts.catalogPath)
			if err != nil {
				return err
			}
			sub, err := opts.subscription()
			if err != nil {
				return err
			}

			evaluator := &entitlement.Evaluator{FallbackPlan: opts.fallback}
			d := evaluator.CanUse(cat, sub, args[0])

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.catalogPath, "catalog", "c", "configs/catalog.json", "catalog file")
	flags.StringVarP(&opts.plan, "plan", "p", "", "subscribed plan (empty means no subscription)")
	flags.StringSliceVar(&opts.addons, "addon", nil, "purchased addon, repeatable")
	flags.StringVar(&opts.status, "status", string(model.SubscriptionStatusActive), "subscription status")
	flags.StringVar(&opts.graceUntil, "grace-until", "", "grace deadline for past_due (RFC 3339)")
	flags.StringVar(&opts.fallback, "fallback", "starter", "fallback plan")

	return cmd
}

func (o *checkOptions) subscription() (*model.WorkspaceSubscription, error) {
	if o.plan == "" {
		return nil, nil
	}

	status := model.SubscriptionStatus(o.status)
	if !status.IsValid() {
		return nil, fmt.Errorf("invalid status %q", o.status)
	}

	sub := &model.WorkspaceSubscription{
		OrgID:  "gatectl",
		PlanID: o.plan,
		Addons: pq.StringArray(o.addons),
		Status: status,
	}
	if o.graceUntil != "" {
		t, err := time.Parse(time.RFC3339, o.graceUntil)
		if err != nil {
			return nil, fmt.Errorf("parse grace-until: %w", err)
		}
		sub.GraceUntil = &t
	}
	return sub, nil
}
