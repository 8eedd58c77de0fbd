package main

import (
	"time"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	var requestsOnly, artefactsOnly bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry sweep over requests and artefacts, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			now := time.Now().UTC()
			if !artefactsOnly {
				res, err := a.scheduler.SweepRequests(ctx, now)
				if err != nil {
					return err
				}
				log.Info("request sweep finished",
					"scanned", res.Scanned, "expired", res.Expired, "skipped", res.Skipped, "failed", res.Failed)
			}
			if !requestsOnly {
				res, err := a.scheduler.SweepArtefacts(ctx, now)
				if err != nil {
					return err
				}
				log.Info("artefact sweep finished",
					"scanned", res.Scanned, "expired", res.Expired, "skipped", res.Skipped, "failed", res.Failed)
			}
			if a.loopback != nil {
				return a.loopback.Drain(ctx)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&requestsOnly, "requests-only", false, "sweep consent requests only")
	cmd.Flags().BoolVar(&artefactsOnly, "artefacts-only", false, "sweep consent artefacts only")
	cmd.MarkFlagsMutuallyExclusive("requests-only", "artefacts-only")
	return cmd
}
