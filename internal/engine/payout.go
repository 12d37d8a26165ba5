package engine

import "math/big"

// Payout computes the pool-proportional payout for a winning stake:
//
//	payout = floor(stake * (winningPool + losingPool) / winningPool)
//
// which equals stake + floor(stake*losingPool/winningPool). When nobody bet
// the other side the stake is returned exactly. Division always floors, so
// the sum of all payouts never exceeds the pool; residual dust stays behind.
//
// The product stake*(W+L) can exceed int64, so the intermediate math is done
// in big.Int.
func Payout(stake, winningPool, losingPool int64) int64 {
	if losingPool == 0 || winningPool == 0 {
		return stake
	}

	p := big.NewInt(stake)
	p.Mul(p, new(big.Int).Add(big.NewInt(winningPool), big.NewInt(losingPool)))
	p.Quo(p, big.NewInt(winningPool))
	return p.Int64()
}
