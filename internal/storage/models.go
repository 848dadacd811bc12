package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"dexarb/internal/market"
)

// OpportunityRecord is a persisted detection. Prices and spreads are kept as
// decimals so history reads back exactly what was alerted.
type OpportunityRecord struct {
	ID           int64
	DetectedAt   time.Time
	Chain        string
	Token        string
	Base         string
	BuyDEX       string
	SellDEX      string
	BuyPoolID    string
	SellPoolID   string
	BuyPrice     decimal.Decimal
	SellPrice    decimal.Decimal
	SpreadBrut   decimal.Decimal
	SpreadNet    decimal.Decimal
	TotalCosts   decimal.Decimal
	LiquidityUSD decimal.Decimal
	ProfitUSD    decimal.Decimal
	Confidence   int
	MEVRisk      string
	Source       string
	Hash         string
	Notified     bool
	CreatedAt    time.Time
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID        int64
	Hash      string
	Chain     string
	Token     string
	SpreadNet decimal.Decimal
	Channels  []string
	CreatedAt time.Time
}

// RecordFromOpportunity converts a detection into its stored form.
func RecordFromOpportunity(opp market.Opportunity, hash string, notified bool) OpportunityRecord {
	detected := opp.DetectedAt
	if detected.IsZero() {
		detected = time.Now()
	}
	return OpportunityRecord{
		DetectedAt:   detected.UTC(),
		Chain:        opp.Chain.String(),
		Token:        opp.Token,
		Base:         opp.Base,
		BuyDEX:       opp.BuyDEX,
		SellDEX:      opp.SellDEX,
		BuyPoolID:    opp.BuyPoolID,
		SellPoolID:   opp.SellPoolID,
		BuyPrice:     decimal.NewFromFloat(opp.BuyPrice),
		SellPrice:    decimal.NewFromFloat(opp.SellPrice),
		SpreadBrut:   decimal.NewFromFloat(opp.SpreadBrut),
		SpreadNet:    decimal.NewFromFloat(opp.SpreadNet),
		TotalCosts:   decimal.NewFromFloat(opp.Costs.Total),
		LiquidityUSD: decimal.NewFromFloat(opp.LiquidityUSD),
		ProfitUSD:    decimal.NewFromFloat(opp.ProfitUSD),
		Confidence:   opp.Confidence,
		MEVRisk:      string(opp.MEVRisk),
		Source:       opp.Source,
		Hash:         hash,
		Notified:     notified,
	}
}
