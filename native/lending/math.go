package lending

import (
	"math/big"

	"github.com/holiman/uint256"
)

var basisPoints = uint256.NewInt(10_000)

// premiumFor returns floor(amount * bps / 10000).
func premiumFor(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	if bps == 0 || amount.IsZero() {
		return new(uint256.Int), nil
	}
	premium, overflow := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(bps), basisPoints)
	if overflow {
		return nil, errArithmeticOverflow
	}
	return premium, nil
}

func addChecked(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, errArithmeticOverflow
	}
	return sum, nil
}

func minAmount(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

func valueOf(amount, price *uint256.Int) *big.Int {
	return new(big.Int).Mul(amount.ToBig(), price.ToBig())
}

func zeroIfNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
