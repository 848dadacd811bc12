// Package tokens loads and validates the per-chain token universe.
package tokens

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"dexarb/internal/market"
)

// Token is one tracked asset.
type Token struct {
	Address  string `json:"address" toml:"address"`
	Symbol   string `json:"symbol" toml:"symbol"`
	Category string `json:"category,omitempty" toml:"category"`
}

// Universe holds the tracked tokens of every chain.
type Universe struct {
	Solana []Token `json:"solana" toml:"solana"`
	Base   []Token `json:"base" toml:"base"`
}

// For returns the tokens of chain.
func (u Universe) For(chain market.Chain) []Token {
	switch chain {
	case market.ChainSolana:
		return u.Solana
	case market.ChainBase:
		return u.Base
	default:
		return nil
	}
}

// Addresses lists the addresses of tokens in order.
func Addresses(tokens []Token) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, t.Address)
	}
	return out
}

// ByCategory keeps tokens of one category, compared case-insensitively.
func ByCategory(tokens []Token, category string) []Token {
	var out []Token
	for _, t := range tokens {
		if strings.EqualFold(t.Category, category) {
			out = append(out, t)
		}
	}
	return out
}

// Categories returns the distinct categories, sorted.
func Categories(tokens []Token) []string {
	seen := make(map[string]struct{})
	for _, t := range tokens {
		if t.Category != "" {
			seen[strings.ToLower(t.Category)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Symbol looks up the symbol of address, falling back to the address itself.
func (u Universe) Symbol(chain market.Chain, address string) string {
	for _, t := range u.For(chain) {
		if t.Address == address || (chain == market.ChainBase && strings.EqualFold(t.Address, address)) {
			if t.Symbol != "" {
				return t.Symbol
			}
			break
		}
	}
	return address
}

// Load reads a token file. The format follows the extension: .toml or .json.
func Load(path string) (Universe, error) {
	var u Universe
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &u); err != nil {
			return Universe{}, fmt.Errorf("decode tokens file: %w", err)
		}
	case ".json", "":
		raw, err := os.ReadFile(path)
		if err != nil {
			return Universe{}, fmt.Errorf("read tokens file: %w", err)
		}
		if err := json.Unmarshal(raw, &u); err != nil {
			return Universe{}, fmt.Errorf("decode tokens file: %w", err)
		}
	default:
		return Universe{}, fmt.Errorf("unsupported tokens file %q", path)
	}
	return u, nil
}

var (
	ErrEmptyAddress = errors.New("empty address")
	ErrBadLength    = errors.New("bad address length")
	ErrBadEncoding  = errors.New("bad address encoding")
)

// ValidateAddress checks an address against the chain's format: Base58 of
// 32-44 characters decoding to 32 bytes on Solana, 0x plus 40 hex characters
// on Base.
func ValidateAddress(chain market.Chain, address string) error {
	if address == "" {
		return ErrEmptyAddress
	}
	switch chain {
	case market.ChainSolana:
		if len(address) < 32 || len(address) > 44 {
			return fmt.Errorf("%w: %d chars", ErrBadLength, len(address))
		}
		decoded, err := base58.Decode(address)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadEncoding, err)
		}
		if len(decoded) != 32 {
			return fmt.Errorf("%w: %d bytes", ErrBadLength, len(decoded))
		}
		return nil
	case market.ChainBase:
		if !strings.HasPrefix(address, "0x") {
			return fmt.Errorf("%w: missing 0x prefix", ErrBadEncoding)
		}
		if len(address) != 42 {
			return fmt.Errorf("%w: %d chars", ErrBadLength, len(address))
		}
		if !common.IsHexAddress(address) {
			return ErrBadEncoding
		}
		return nil
	default:
		return fmt.Errorf("unknown chain %q", chain)
	}
}

// InvalidToken is a rejected entry of the universe.
type InvalidToken struct {
	Chain market.Chain
	Token Token
	Err   error
}

func (i InvalidToken) Error() string {
	return fmt.Sprintf("%s token %s (%s): %v", i.Chain, i.Token.Address, i.Token.Symbol, i.Err)
}

// Validate drops invalid and duplicate addresses and reports what it dropped.
func Validate(u Universe) (Universe, []InvalidToken) {
	var bad []InvalidToken
	clean := func(chain market.Chain, list []Token) []Token {
		seen := make(map[string]struct{}, len(list))
		out := make([]Token, 0, len(list))
		for _, t := range list {
			t.Address = strings.TrimSpace(t.Address)
			if err := ValidateAddress(chain, t.Address); err != nil {
				bad = append(bad, InvalidToken{Chain: chain, Token: t, Err: err})
				continue
			}
			key := t.Address
			if chain == market.ChainBase {
				key = strings.ToLower(key)
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, t)
		}
		return out
	}
	return Universe{
		Solana: clean(market.ChainSolana, u.Solana),
		Base:   clean(market.ChainBase, u.Base),
	}, bad
}

// Default is the built-in universe used when no tokens file is configured.
func Default() Universe {
	return Universe{
		Solana: []Token{
			{Address: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263", Symbol: "BONK", Category: "meme"},
			{Address: "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm", Symbol: "WIF", Category: "meme"},
			{Address: "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", Symbol: "JUP", Category: "defi"},
			{Address: "HZ1JovNiVvGrGNiiYvEozEVgZ58xaU3RKwX8eACQBCt3", Symbol: "PYTH", Category: "infra"},
			{Address: "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R", Symbol: "RAY", Category: "defi"},
			{Address: market.USDCMint, Symbol: "USDC", Category: "stable"},
		},
		Base: []Token{
			{Address: market.BaseWETH, Symbol: "WETH", Category: "major"},
			{Address: "0x940181a94A35A4569E4529A3CDfB74e38FD98631", Symbol: "AERO", Category: "defi"},
			{Address: "0x4ed4E862860beD51a9570b96d89aF5E1B0Efefed", Symbol: "DEGEN", Category: "meme"},
			{Address: "0x532f27101965dd16442E59d40670FaF5eBB142E4", Symbol: "BRETT", Category: "meme"},
			{Address: "0x2Ae3F1Ec7F1F5012CFEab0185bfc7aa3cf0DEc22", Symbol: "cbETH", Category: "major"},
		},
	}
}
