package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"dexarb/internal/storage"
)

// Export renders stored opportunities as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	if store == nil {
		return errors.New("database not configured; cannot export")
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scanner.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := store.ListOpportunitiesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	records = filterChain(records, opts.Chain)
	if len(records) == 0 {
		a.Logger.Info().Msg("no opportunities found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting opportunities")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSpreadPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func filterChain(records []storage.OpportunityRecord, chain string) []storage.OpportunityRecord {
	chain = strings.ToLower(strings.TrimSpace(chain))
	if chain == "" {
		return records
	}
	out := records[:0:0]
	for _, rec := range records {
		if rec.Chain == chain {
			out = append(out, rec)
		}
	}
	return out
}

func downsampleRecords(records []storage.OpportunityRecord, max int) []storage.OpportunityRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.OpportunityRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRecordsCSV(path string, records []storage.OpportunityRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"detected_at", "chain", "token", "base", "buy_dex", "sell_dex", "buy_pool", "sell_pool",
		"buy_price", "sell_price", "spread_brut", "spread_net", "total_costs", "liquidity_usd",
		"profit_usd", "confidence", "mev_risk", "source", "notified",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.DetectedAt.UTC().Format(time.RFC3339),
			rec.Chain,
			rec.Token,
			rec.Base,
			rec.BuyDEX,
			rec.SellDEX,
			rec.BuyPoolID,
			rec.SellPoolID,
			rec.BuyPrice.String(),
			rec.SellPrice.String(),
			rec.SpreadBrut.String(),
			rec.SpreadNet.String(),
			rec.TotalCosts.String(),
			rec.LiquidityUSD.String(),
			rec.ProfitUSD.String(),
			strconv.Itoa(rec.Confidence),
			rec.MEVRisk,
			rec.Source,
			strconv.FormatBool(rec.Notified),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeSpreadPNG plots the net spread over time, one series per chain.
// Chains with fewer than two points cannot form a line and are left out.
func writeSpreadPNG(path string, records []storage.OpportunityRecord) error {
	byChain := make(map[string][]storage.OpportunityRecord)
	for _, rec := range records {
		byChain[rec.Chain] = append(byChain[rec.Chain], rec)
	}
	chains := make([]string, 0, len(byChain))
	for c := range byChain {
		chains = append(chains, c)
	}
	sort.Strings(chains)

	var series []chart.Series
	for _, c := range chains {
		recs := byChain[c]
		if len(recs) < 2 {
			continue
		}
		x := make([]time.Time, len(recs))
		net := make([]float64, len(recs))
		for i, rec := range recs {
			x[i] = rec.DetectedAt
			net[i] = rec.SpreadNet.Shift(2).InexactFloat64()
		}
		series = append(series, chart.TimeSeries{Name: c + " net %", XValues: x, YValues: net})
	}
	if len(series) == 0 {
		return errors.New("need at least two opportunities on one chain to draw a chart")
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Net spread (%)",
			ValueFormatter: pctFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
