package registry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kongswap/kong-backend/internal/natmath"
	"gopkg.in/yaml.v3"
)

// Seed is the YAML bootstrap file for tokens and pools.
//
//	tokens:
//	  - {symbol: ICP, chain: IC, address: ryjl3-tyaaa-aaaaa-aaaba-cai, decimals: 8, fee: "10000"}
//	pools:
//	  - {token_0: ICP, token_1: ckUSDT, balance_0: "100000000000", balance_1: "1000000000", lp_fee_bps: 30}
type Seed struct {
	Tokens []SeedToken `yaml:"tokens"`
	Pools  []SeedPool  `yaml:"pools"`
}

type SeedToken struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Chain    string `yaml:"chain"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
	Fee      string `yaml:"fee"`
}

type SeedPool struct {
	Token0   string `yaml:"token_0"`
	Token1   string `yaml:"token_1"`
	Balance0 string `yaml:"balance_0"`
	Balance1 string `yaml:"balance_1"`
	LPFeeBps uint32 `yaml:"lp_fee_bps"`
}

// LoadSeed reads a seed file from disk.
func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return &seed, nil
}

// ApplySeed adds every token and pool from seed that is not yet registered.
// Reapplying the same seed is a no-op, so it is safe on every startup.
func (r *Registry) ApplySeed(ctx context.Context, seed *Seed) error {
	for _, st := range seed.Tokens {
		fee, err := parseSeedNat(st.Fee)
		if err != nil {
			return fmt.Errorf("token %s fee: %w", st.Symbol, err)
		}
		_, err = r.AddToken(ctx, Token{
			Symbol:   st.Symbol,
			Name:     st.Name,
			Chain:    st.Chain,
			Address:  st.Address,
			Decimals: st.Decimals,
			Fee:      fee,
		})
		if err != nil && !errors.Is(err, ErrTokenExists) {
			return fmt.Errorf("seed token %s: %w", st.Symbol, err)
		}
	}

	for _, sp := range seed.Pools {
		t0, err := r.ResolveToken(sp.Token0)
		if err != nil {
			return fmt.Errorf("seed pool %s/%s: %w", sp.Token0, sp.Token1, err)
		}
		t1, err := r.ResolveToken(sp.Token1)
		if err != nil {
			return fmt.Errorf("seed pool %s/%s: %w", sp.Token0, sp.Token1, err)
		}
		b0, err := parseSeedNat(sp.Balance0)
		if err != nil {
			return fmt.Errorf("seed pool %s/%s balance_0: %w", sp.Token0, sp.Token1, err)
		}
		b1, err := parseSeedNat(sp.Balance1)
		if err != nil {
			return fmt.Errorf("seed pool %s/%s balance_1: %w", sp.Token0, sp.Token1, err)
		}
		_, err = r.AddPool(ctx, t0.ID, t1.ID, b0, b1, sp.LPFeeBps)
		if err != nil && !errors.Is(err, ErrPoolExists) {
			return fmt.Errorf("seed pool %s/%s: %w", sp.Token0, sp.Token1, err)
		}
	}
	return nil
}

func parseSeedNat(s string) (natmath.Nat, error) {
	if s == "" {
		return natmath.Zero(), nil
	}
	return natmath.Parse(s)
}
