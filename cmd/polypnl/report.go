package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/polypnl/internal/adapters/notify"
	"github.com/alejandrodnm/polypnl/internal/application/report"
)

func newReportCmd(rf *rootFlags) *cobra.Command {
	var (
		rng        rangeFlags
		offline    bool
		mark       bool
		tradesOnly bool
		refresh    bool
		jsonOut    bool
		days       int
	)
	cmd := &cobra.Command{
		Use:   "report <account>...",
		Short: "Replay account activity into positions, daily PnL and lifetime stats",
		Long: `Collect the activity of each account (or read it from the archive with
--offline), replay it into per-instrument positions and print daily UTC PnL
buckets plus lifetime statistics. Several accounts are processed in parallel.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, err := normalizeAccounts(args)
			if err != nil {
				return err
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

			reqs := make([]report.Request, len(accounts))
			for i, acc := range accounts {
				reqs[i] = report.Request{
					Account:    acc,
					Range:      r,
					Filter:     rng.filter,
					Mode:       mode,
					PageSize:   pageSize,
					MaxEvents:  maxEvents,
					TradesOnly: tradesOnly,
					Mark:       mark,
					Offline:    offline,
					Refresh:    refresh,
				}
			}

			out := notify.NewConsoleWriter(cmd.OutOrStdout(), jsonOut, days)
			var failed int
			for _, ar := range a.service.GenerateMany(ctx, reqs) {
				if ar.Err != nil {
					failed++
					slog.Error("report failed", "account", ar.Account, "err", ar.Err)
					// cifras parciales solo si hay algo que mostrar
					if ar.Report.Events == 0 {
						continue
					}
				}
				if err := out.WriteReport(ctx, ar.Report); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("report: %d of %d accounts failed", failed, len(accounts))
			}
			return nil
		},
	}
	rng.register(cmd)
	fl := cmd.Flags()
	fl.BoolVar(&offline, "offline", false, "read events from the local archive instead of the feed")
	fl.BoolVar(&mark, "mark", false, "mark open positions at the CLOB last traded price")
	fl.BoolVar(&tradesOnly, "trades-only", false, "replay only TRADE events")
	fl.BoolVar(&refresh, "refresh", false, "ignore cached reports")
	fl.BoolVar(&jsonOut, "json", false, "print reports as JSON")
	fl.IntVar(&days, "days", 0, "show only the latest N daily buckets, 0 = all")
	return cmd
}
