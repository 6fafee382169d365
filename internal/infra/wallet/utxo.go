package wallet

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/vietddude/txengine/internal/core/domain"
	"github.com/vietddude/txengine/internal/engine/btc"
)

// UTXOBackend serves one UTXO chain (BTC or BCH) from the wallet daemon.
// It implements btc.UnspentProvider, btc.FeeService and btc.PaymentService.
type UTXOBackend struct {
	asset domain.Asset
	c     *Client
}

// UTXOBackend returns the backend for a UTXO asset.
func (c *Client) UTXOBackend(asset domain.Asset) *UTXOBackend {
	return &UTXOBackend{asset: asset, c: c}
}

type utxoRow struct {
	TxHash        string `json:"txHash"`
	Index         uint32 `json:"index"`
	Value         string `json:"value"`
	Script        string `json:"script"`
	Confirmations uint32 `json:"confirmations"`
}

type unspentResponse struct {
	Outputs []utxoRow `json:"outputs"`
}

// UnspentOutputs fetches the spendable outputs backing the account.
func (b *UTXOBackend) UnspentOutputs(ctx context.Context, account domain.Account) ([]btc.UTXO, error) {
	var resp unspentResponse
	path := fmt.Sprintf("/%s/unspent?account=%s", b.asset, accountQuery(account))
	if err := b.c.do(ctx, http.MethodGet, path, nil, &resp, "unspent"); err != nil {
		return nil, err
	}

	utxos := make([]btc.UTXO, 0, len(resp.Outputs))
	for _, row := range resp.Outputs {
		value, err := parseMinor(b.asset, row.Value)
		if err != nil {
			return nil, fmt.Errorf("output %s:%d: %w", row.TxHash, row.Index, err)
		}
		utxos = append(utxos, btc.UTXO{
			TxHash:        row.TxHash,
			Index:         row.Index,
			Value:         value,
			Script:        row.Script,
			Confirmations: row.Confirmations,
		})
	}
	return utxos, nil
}

type feeResponse struct {
	Regular  string `json:"regular"`
	Priority string `json:"priority"`
}

// FeeOptions fetches current fee rates per kilobyte.
func (b *UTXOBackend) FeeOptions(ctx context.Context) (btc.FeeOptions, error) {
	var resp feeResponse
	path := fmt.Sprintf("/%s/fees", b.asset)
	if err := b.c.do(ctx, http.MethodGet, path, nil, &resp, "fees"); err != nil {
		return btc.FeeOptions{}, err
	}

	regular, err := parseMinor(b.asset, resp.Regular)
	if err != nil {
		return btc.FeeOptions{}, fmt.Errorf("regular fee: %w", err)
	}
	priority, err := parseMinor(b.asset, resp.Priority)
	if err != nil {
		return btc.FeeOptions{}, fmt.Errorf("priority fee: %w", err)
	}
	return btc.FeeOptions{Regular: regular, Priority: priority}, nil
}

type changeAddressResponse struct {
	Address string `json:"address"`
}

// ChangeAddress returns the next change address for the account.
func (b *UTXOBackend) ChangeAddress(ctx context.Context, account domain.Account) (string, error) {
	var resp changeAddressResponse
	path := fmt.Sprintf("/%s/change-address?account=%s", b.asset, accountQuery(account))
	if err := b.c.do(ctx, http.MethodGet, path, nil, &resp, "change_address"); err != nil {
		return "", err
	}
	return resp.Address, nil
}

type signingKeysRequest struct {
	Account        string     `json:"account"`
	SecondPassword string     `json:"secondPassword,omitempty"`
	Inputs         []outpoint `json:"inputs"`
}

type outpoint struct {
	TxHash string `json:"txHash"`
	Index  uint32 `json:"index"`
}

type signingKeysResponse struct {
	Keys []string `json:"keys"`
}

// SigningKeys decrypts the keys spending the given outputs.
func (b *UTXOBackend) SigningKeys(ctx context.Context, account domain.Account, secondPassword string, inputs []btc.UTXO) ([]btc.SigningKey, error) {
	req := signingKeysRequest{
		Account:        account.Label(),
		SecondPassword: secondPassword,
		Inputs:         make([]outpoint, 0, len(inputs)),
	}
	for _, in := range inputs {
		req.Inputs = append(req.Inputs, outpoint{TxHash: in.TxHash, Index: in.Index})
	}

	var resp signingKeysResponse
	path := fmt.Sprintf("/%s/signing-keys", b.asset)
	if err := b.c.do(ctx, http.MethodPost, path, req, &resp, "signing_keys"); err != nil {
		return nil, err
	}

	keys := make([]btc.SigningKey, 0, len(resp.Keys))
	for _, k := range resp.Keys {
		raw, err := base64.StdEncoding.DecodeString(k)
		if err != nil {
			return nil, fmt.Errorf("invalid signing key: %w", err)
		}
		keys = append(keys, btc.SigningKey{Raw: raw})
	}
	return keys, nil
}

type paymentRequest struct {
	Inputs        []outpoint `json:"inputs"`
	ToAddress     string     `json:"toAddress"`
	ChangeAddress string     `json:"changeAddress"`
	Amount        string     `json:"amount"`
	Fee           string     `json:"fee"`
	Keys          []string   `json:"keys"`
}

type submitResponse struct {
	TxHash string `json:"txHash"`
}

// Submit signs and broadcasts an assembled payment.
func (b *UTXOBackend) Submit(ctx context.Context, payment btc.Payment) (string, error) {
	req := paymentRequest{
		ToAddress:     payment.ToAddress,
		ChangeAddress: payment.ChangeAddress,
		Amount:        payment.Amount.Minor().String(),
		Fee:           payment.Fee.Minor().String(),
	}
	for _, in := range payment.Inputs {
		req.Inputs = append(req.Inputs, outpoint{TxHash: in.TxHash, Index: in.Index})
	}
	for _, k := range payment.Keys {
		req.Keys = append(req.Keys, base64.StdEncoding.EncodeToString(k.Raw))
	}

	var resp submitResponse
	path := fmt.Sprintf("/%s/payments", b.asset)
	if err := b.c.do(ctx, http.MethodPost, path, req, &resp, "submit"); err != nil {
		return "", err
	}
	if resp.TxHash == "" {
		return "", fmt.Errorf("submit returned no transaction hash")
	}
	return resp.TxHash, nil
}

type accountRequest struct {
	Account string `json:"account"`
}

// IncrementAddressIndices bumps the receive/change chain indices.
func (b *UTXOBackend) IncrementAddressIndices(ctx context.Context, account domain.Account) error {
	path := fmt.Sprintf("/%s/address-indices/increment", b.asset)
	return b.c.do(ctx, http.MethodPost, path, accountRequest{Account: account.Label()}, nil, "increment_indices")
}

type balanceAdjustRequest struct {
	Account string `json:"account"`
	Delta   string `json:"delta"`
}

// AdjustCachedBalance applies a local balance delta.
func (b *UTXOBackend) AdjustCachedBalance(ctx context.Context, account domain.Account, delta domain.Money) error {
	path := fmt.Sprintf("/%s/balance/adjust", b.asset)
	req := balanceAdjustRequest{Account: account.Label(), Delta: delta.Minor().String()}
	return b.c.do(ctx, http.MethodPost, path, req, nil, "adjust_balance")
}

// RefreshBalance forces a full balance re-fetch.
func (b *UTXOBackend) RefreshBalance(ctx context.Context, account domain.Account) error {
	path := fmt.Sprintf("/%s/balance/refresh", b.asset)
	return b.c.do(ctx, http.MethodPost, path, accountRequest{Account: account.Label()}, nil, "refresh_balance")
}
