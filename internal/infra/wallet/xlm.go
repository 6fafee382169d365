package wallet

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vietddude/txengine/internal/core/domain"
	"github.com/vietddude/txengine/internal/engine/xlm"
)

// HorizonBackend serves the Stellar network from the wallet daemon. It
// implements xlm.HorizonService.
type HorizonBackend struct {
	c *Client
}

// HorizonBackend returns the XLM backend.
func (c *Client) HorizonBackend() *HorizonBackend {
	return &HorizonBackend{c: c}
}

type baseFeeResponse struct {
	Fee string `json:"fee"`
}

// BaseFee returns the current per-operation fee in stroops.
func (b *HorizonBackend) BaseFee(ctx context.Context) (domain.Money, error) {
	var resp baseFeeResponse
	if err := b.c.do(ctx, http.MethodGet, "/xlm/base-fee", nil, &resp, "base_fee"); err != nil {
		return domain.Money{}, err
	}
	return parseMinor(domain.AssetXLM, resp.Fee)
}

type exchangeResponse struct {
	IsExchange bool `json:"isExchange"`
}

// IsExchangeAddress reports whether the address belongs to a known exchange.
func (b *HorizonBackend) IsExchangeAddress(ctx context.Context, address string) (bool, error) {
	var resp exchangeResponse
	path := fmt.Sprintf("/xlm/exchange?address=%s", address)
	if err := b.c.do(ctx, http.MethodGet, path, nil, &resp, "is_exchange"); err != nil {
		return false, err
	}
	return resp.IsExchange, nil
}

type xlmPaymentRequest struct {
	ToAddress      string `json:"toAddress"`
	Amount         string `json:"amount"`
	Fee            string `json:"fee"`
	Memo           string `json:"memo,omitempty"`
	SecondPassword string `json:"secondPassword,omitempty"`
}

// Submit signs and broadcasts a payment operation.
func (b *HorizonBackend) Submit(ctx context.Context, payment xlm.Payment) (string, error) {
	req := xlmPaymentRequest{
		ToAddress:      payment.ToAddress,
		Amount:         payment.Amount.Minor().String(),
		Fee:            payment.Fee.Minor().String(),
		Memo:           payment.Memo,
		SecondPassword: payment.SecondPassword,
	}
	var resp submitResponse
	if err := b.c.do(ctx, http.MethodPost, "/xlm/payments", req, &resp, "submit"); err != nil {
		return "", err
	}
	if resp.TxHash == "" {
		return "", fmt.Errorf("submit returned no transaction hash")
	}
	return resp.TxHash, nil
}

// RefreshBalance forces a full balance re-fetch.
func (b *HorizonBackend) RefreshBalance(ctx context.Context, account domain.Account) error {
	return b.c.do(ctx, http.MethodPost, "/xlm/balance/refresh", accountRequest{Account: account.Label()}, nil, "refresh_balance")
}
