package btc

import (
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/btcsuite/btcutil/bech32"

	"github.com/vietddude/txengine/internal/core/domain"
)

// ValidAddress accepts both the network-specific format (bech32 segwit for
// BTC, cashaddr for BCH) and the legacy base58 format.
func ValidAddress(asset domain.Asset, addr string) bool {
	if addr == "" {
		return false
	}
	if validLegacy(addr) {
		return true
	}
	switch asset {
	case domain.AssetBTC:
		return validSegwit(addr)
	case domain.AssetBCH:
		return validCashAddr(addr)
	}
	return false
}

// validLegacy checks a base58check address (P2PKH/P2SH on either network).
func validLegacy(addr string) bool {
	decoded, _, err := base58.CheckDecode(addr)
	if err != nil {
		return false
	}
	return len(decoded) == 20
}

func validSegwit(addr string) bool {
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return false
	}
	if hrp != "bc" && hrp != "tb" {
		return false
	}
	return len(data) > 1
}

const cashCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// validCashAddr verifies the cashaddr checksum (40-bit polymod over the
// prefix, payload and checksum characters).
func validCashAddr(addr string) bool {
	lower := strings.ToLower(addr)
	prefix := "bitcoincash"
	payload := lower
	if i := strings.IndexByte(lower, ':'); i >= 0 {
		prefix = lower[:i]
		payload = lower[i+1:]
	}
	if len(payload) < 9 { // at least one payload char plus 8 checksum chars
		return false
	}

	values := make([]byte, 0, len(prefix)+1+len(payload))
	for i := 0; i < len(prefix); i++ {
		values = append(values, prefix[i]&0x1f)
	}
	values = append(values, 0)
	for i := 0; i < len(payload); i++ {
		idx := strings.IndexByte(cashCharset, payload[i])
		if idx < 0 {
			return false
		}
		values = append(values, byte(idx))
	}

	return cashPolyMod(values) == 0
}

func cashPolyMod(values []byte) uint64 {
	var c uint64 = 1
	for _, d := range values {
		c0 := c >> 35
		c = ((c & 0x07ffffffff) << 5) ^ uint64(d)
		if c0&0x01 != 0 {
			c ^= 0x98f2bc8e61
		}
		if c0&0x02 != 0 {
			c ^= 0x79b76d99e2
		}
		if c0&0x04 != 0 {
			c ^= 0xf33e5fb3c4
		}
		if c0&0x08 != 0 {
			c ^= 0xae2eabe2a8
		}
		if c0&0x10 != 0 {
			c ^= 0x1e4f43e470
		}
	}
	return c ^ 1
}
