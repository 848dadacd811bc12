package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"dexarb/internal/logging"
	"dexarb/internal/storage"
)

// Show prints recent opportunities, or recent alerts with opts.Alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	if store == nil {
		return errors.New("database not configured; cannot show opportunities")
	}

	if opts.Alerts {
		alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return writeAlerts(os.Stdout, alerts)
	}

	records, err := store.ListRecentOpportunities(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeOpportunities(os.Stdout, records)
}

func writeOpportunities(w io.Writer, records []storage.OpportunityRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "no opportunities found")
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tChain\tToken\tBuy\tSell\tGross%\tNet%\tConf\tMEV\tSource\tNotified")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%t\n",
			rec.DetectedAt.UTC().Format(time.RFC3339),
			rec.Chain,
			logging.ShortID(rec.Token),
			sanitizeInline(rec.BuyDEX),
			sanitizeInline(rec.SellDEX),
			formatPct(rec.SpreadBrut),
			formatPct(rec.SpreadNet),
			rec.Confidence,
			rec.MEVRisk,
			rec.Source,
			rec.Notified,
		)
	}
	return writer.Flush()
}

func writeAlerts(w io.Writer, alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tChain\tToken\tNet%\tChannels\tHash")
	for _, al := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			al.CreatedAt.UTC().Format(time.RFC3339),
			al.Chain,
			logging.ShortID(al.Token),
			formatPct(al.SpreadNet),
			strings.Join(al.Channels, ","),
			logging.ShortID(al.Hash),
		)
	}
	return writer.Flush()
}

// formatPct renders a fraction as a percentage with three places.
func formatPct(d decimal.Decimal) string {
	return d.Shift(2).StringFixed(3)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
