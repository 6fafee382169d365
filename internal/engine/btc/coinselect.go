package btc

import (
	"math/big"
	"sort"

	"github.com/vietddude/txengine/internal/core/domain"
)

// UTXO is one unspent output available for coin selection.
type UTXO struct {
	TxHash        string
	Index         uint32
	Value         domain.Money
	Script        string
	Confirmations uint32
}

// Selection is the spendable bundle produced by coin selection for a
// specific requested amount.
type Selection struct {
	Inputs []UTXO
	Amount domain.Money
	Fee    domain.Money
	Change domain.Money
}

// sortUTXOs orders outputs ascending by value, tie-broken by outpoint, so
// selection is deterministic for identical input sets.
func sortUTXOs(utxos []UTXO) []UTXO {
	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sort.Slice(sorted, func(i, j int) bool {
		c := sorted[i].Value.Cmp(sorted[j].Value)
		if c != 0 {
			return c < 0
		}
		if sorted[i].TxHash != sorted[j].TxHash {
			return sorted[i].TxHash < sorted[j].TxHash
		}
		return sorted[i].Index < sorted[j].Index
	})
	return sorted
}

// absoluteFee is the flat per-input fee approximation: feePerKB multiplied
// by the number of selected inputs. The serialized size is not consulted;
// this reproduces the historical fee math the rest of the product expects.
func absoluteFee(asset domain.Asset, feePerKB domain.Money, inputs int) domain.Money {
	_ = asset
	return feePerKB.MulInt(int64(inputs))
}

// SelectForAmount accumulates outputs smallest-first until the requested
// amount plus the running fee is covered. Returns ok=false when the full
// UTXO set cannot cover amount+fee.
func SelectForAmount(asset domain.Asset, utxos []UTXO, amount, feePerKB domain.Money) (Selection, bool) {
	sorted := sortUTXOs(utxos)
	total := domain.ZeroMoney(asset)
	inputs := make([]UTXO, 0, len(sorted))

	for _, u := range sorted {
		inputs = append(inputs, u)
		total = total.Add(u.Value)
		fee := absoluteFee(asset, feePerKB, len(inputs))
		needed := amount.Add(fee)
		if total.Cmp(needed) >= 0 {
			return Selection{
				Inputs: inputs,
				Amount: amount,
				Fee:    fee,
				Change: total.Sub(needed),
			}, true
		}
	}
	return Selection{}, false
}

// SweepFee is the fee for spending every output.
func SweepFee(asset domain.Asset, utxos []UTXO, feePerKB domain.Money) domain.Money {
	return absoluteFee(asset, feePerKB, len(utxos))
}

// MaxAvailable is the sweepable amount at the given fee rate: the sum of
// all outputs minus the sweep fee, floored at zero.
func MaxAvailable(asset domain.Asset, utxos []UTXO, feePerKB domain.Money) domain.Money {
	return SumUTXOs(asset, utxos).Sub(SweepFee(asset, utxos, feePerKB)).ClampZero()
}

// SumUTXOs totals the output values.
func SumUTXOs(asset domain.Asset, utxos []UTXO) domain.Money {
	total := new(big.Int)
	for _, u := range utxos {
		total.Add(total, u.Value.Minor())
	}
	return domain.NewMoney(asset, total)
}
