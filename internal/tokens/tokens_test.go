package tokens

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexarb/internal/market"
)

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(market.ChainSolana, market.SOLMint))
	assert.NoError(t, ValidateAddress(market.ChainSolana, market.USDCMint))
	assert.ErrorIs(t, ValidateAddress(market.ChainSolana, ""), ErrEmptyAddress)
	assert.ErrorIs(t, ValidateAddress(market.ChainSolana, "short"), ErrBadLength)
	// 0, O, I and l are not in the Base58 alphabet
	assert.ErrorIs(t, ValidateAddress(market.ChainSolana, "0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl0O"), ErrBadEncoding)

	assert.NoError(t, ValidateAddress(market.ChainBase, market.BaseUSDC))
	assert.ErrorIs(t, ValidateAddress(market.ChainBase, "833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), ErrBadEncoding)
	assert.ErrorIs(t, ValidateAddress(market.ChainBase, "0x1234"), ErrBadLength)
	assert.ErrorIs(t, ValidateAddress(market.ChainBase, "0xZZ3589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), ErrBadEncoding)
	assert.Error(t, ValidateAddress("tron", "x"))
}

func TestDefaultUniverseIsValid(t *testing.T) {
	u, bad := Validate(Default())
	assert.Empty(t, bad)
	assert.Len(t, u.Solana, len(Default().Solana))
	assert.Len(t, u.Base, len(Default().Base))
}

func TestValidateDropsBadAndDuplicates(t *testing.T) {
	u, bad := Validate(Universe{
		Solana: []Token{{Address: market.SOLMint}, {Address: " " + market.SOLMint + " "}, {Address: "nope"}},
		Base:   []Token{{Address: market.BaseUSDC}, {Address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"}},
	})
	assert.Len(t, u.Solana, 1)
	assert.Len(t, u.Base, 1, "base addresses compare case-insensitively")
	require.Len(t, bad, 1)
	assert.Contains(t, bad[0].Error(), "nope")
}

func TestLoadJSONAndTOML(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "tokens.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"solana":[{"address":"`+market.SOLMint+`","symbol":"SOL","category":"major"}],"base":[]}`), 0o600))
	u, err := Load(jsonPath)
	require.NoError(t, err)
	require.Len(t, u.Solana, 1)
	assert.Equal(t, "SOL", u.Symbol(market.ChainSolana, market.SOLMint))

	tomlPath := filepath.Join(dir, "tokens.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
[[base]]
address = "`+market.BaseWETH+`"
symbol = "WETH"
category = "major"

[[base]]
address = "0x4ed4E862860beD51a9570b96d89aF5E1B0Efefed"
symbol = "DEGEN"
category = "meme"
`), 0o600))
	u, err = Load(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, []string{market.BaseWETH, "0x4ed4E862860beD51a9570b96d89aF5E1B0Efefed"}, Addresses(u.Base))
	assert.Equal(t, []string{"major", "meme"}, Categories(u.Base))
	assert.Len(t, ByCategory(u.Base, "MEME"), 1)
	assert.Equal(t, "WETH", u.Symbol(market.ChainBase, "0x4200000000000000000000000000000000000006"))

	_, err = Load(filepath.Join(dir, "tokens.yaml"))
	assert.Error(t, err)
}
