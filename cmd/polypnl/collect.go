package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/polypnl/internal/adapters/notify"
	"github.com/alejandrodnm/polypnl/internal/application/report"
)

func newCollectCmd(rf *rootFlags) *cobra.Command {
	var (
		rng     rangeFlags
		resume  bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "collect <account>...",
		Short: "Fetch account activity into the local archive",
		Long: `Fetch account activity from the data-api and upsert it into the local
archive. With --resume a run continues where the last truncated run of the
same account and pagination mode stopped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, err := normalizeAccounts(args)
			if err != nil {
				return err
			}
			if rf.noArchive {
				return errors.New("collect needs the archive; drop --no-archive")
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, rf)
			if err != nil {
				return err
			}
			defer a.Close()

			r, mode, pageSize, maxEvents, err := rng.resolve(a.cfg)
			if err != nil {
				return err
			}
			out := notify.NewConsoleWriter(cmd.OutOrStdout(), jsonOut, 0)

			var failed int
			for _, acc := range accounts {
				res, err := a.service.Collect(ctx, report.CollectRequest{
					Account:   acc,
					Range:     r,
					Filter:    rng.filter,
					Mode:      mode,
					PageSize:  pageSize,
					MaxEvents: maxEvents,
					Resume:    resume,
				})
				if werr := out.WriteCollect(ctx, res); werr != nil {
					return werr
				}
				if err != nil {
					failed++
					slog.Error("collect failed", "account", acc, "err", err, "events", len(res.Events))
					if ctx.Err() != nil {
						break
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("collect: %d of %d accounts failed", failed, len(accounts))
			}
			return nil
		},
	}
	rng.register(cmd)
	cmd.Flags().BoolVar(&resume, "resume", false, "continue from the last checkpoint of each account")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print run summaries as JSON")
	return cmd
}
