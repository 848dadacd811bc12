package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"dexarb/internal/logging"
)

// Scan runs one full evaluation over every configured token and prints the
// best opportunities. Nothing is notified or stored.
func (a *App) Scan(ctx context.Context, opts ScanOptions) error {
	env, err := a.buildScanner(ctx, nil, false)
	if err != nil {
		return err
	}
	defer env.Close()

	topN := a.Config.ResolveTopN(opts.TopN)
	started := time.Now()
	opps := env.scanner.DeepScan(ctx, topN)
	a.Logger.Info().Int("found", len(opps)).Dur("elapsed", time.Since(started)).Msg("scan finished")

	if len(opps) == 0 {
		fmt.Fprintln(os.Stdout, "no opportunities above threshold")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tChain\tToken\tBuy\tSell\tGross%\tNet%\tConfidence\tMEV\tProfit/$1k")
	for i, opp := range opps {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%.3f\t%.3f\t%d\t%s\t%.2f\n",
			i+1,
			opp.Chain,
			logging.ShortID(opp.Token),
			opp.BuyDEX,
			opp.SellDEX,
			opp.SpreadBrut*100,
			opp.SpreadNet*100,
			opp.Confidence,
			opp.MEVRisk,
			opp.ProfitUSD,
		)
	}
	return writer.Flush()
}
