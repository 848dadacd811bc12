package app

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"dexarb/internal/market"
	"dexarb/internal/tokens"
)

// Tokens prints the effective token universe and every dropped entry. It
// fails when any configured address is invalid.
func (a *App) Tokens() error {
	u, bad, err := a.loadTokens()
	if err != nil {
		return err
	}
	if err := writeUniverse(os.Stdout, u, bad); err != nil {
		return err
	}
	if len(bad) > 0 {
		return fmt.Errorf("%d invalid token address(es)", len(bad))
	}
	return nil
}

func writeUniverse(w io.Writer, u tokens.Universe, bad []tokens.InvalidToken) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Chain\tSymbol\tCategory\tAddress")
	for _, chain := range []market.Chain{market.ChainSolana, market.ChainBase} {
		for _, t := range u.For(chain) {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", chain, t.Symbol, t.Category, t.Address)
		}
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	for _, b := range bad {
		fmt.Fprintf(w, "invalid: %s\n", b.Error())
	}
	return nil
}
