package wallet

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vietddude/txengine/internal/core/domain"
	"github.com/vietddude/txengine/internal/engine/eth"
)

// NodeBackend serves the account-model chain from the wallet daemon. It
// implements eth.NodeService.
type NodeBackend struct {
	c *Client
}

// NodeBackend returns the ETH backend.
func (c *Client) NodeBackend() *NodeBackend {
	return &NodeBackend{c: c}
}

type gasPriceResponse struct {
	Price string `json:"price"`
}

// GasPrice returns the wei-per-gas price for a fee level.
func (b *NodeBackend) GasPrice(ctx context.Context, level domain.FeeLevel) (domain.Money, error) {
	var resp gasPriceResponse
	path := fmt.Sprintf("/eth/gas-price?level=%s", level)
	if err := b.c.do(ctx, http.MethodGet, path, nil, &resp, "gas_price"); err != nil {
		return domain.Money{}, err
	}
	return parseMinor(domain.AssetETH, resp.Price)
}

type contractResponse struct {
	IsContract bool `json:"isContract"`
}

// IsContract reports whether the address has code deployed.
func (b *NodeBackend) IsContract(ctx context.Context, address string) (bool, error) {
	var resp contractResponse
	path := fmt.Sprintf("/eth/contract?address=%s", address)
	if err := b.c.do(ctx, http.MethodGet, path, nil, &resp, "is_contract"); err != nil {
		return false, err
	}
	return resp.IsContract, nil
}

type pendingResponse struct {
	Pending bool `json:"pending"`
}

// HasPendingTx reports whether the account has an unconfirmed transaction
// in flight.
func (b *NodeBackend) HasPendingTx(ctx context.Context, account domain.Account) (bool, error) {
	var resp pendingResponse
	path := fmt.Sprintf("/eth/pending?account=%s", accountQuery(account))
	if err := b.c.do(ctx, http.MethodGet, path, nil, &resp, "has_pending"); err != nil {
		return false, err
	}
	return resp.Pending, nil
}

type ethPaymentRequest struct {
	ToAddress      string `json:"toAddress"`
	Amount         string `json:"amount"`
	GasPrice       string `json:"gasPrice"`
	GasLimit       uint64 `json:"gasLimit"`
	SecondPassword string `json:"secondPassword,omitempty"`
}

// Submit signs and broadcasts a native transfer.
func (b *NodeBackend) Submit(ctx context.Context, payment eth.Payment) (string, error) {
	req := ethPaymentRequest{
		ToAddress:      payment.ToAddress,
		Amount:         payment.Amount.Minor().String(),
		GasPrice:       payment.GasPrice.Minor().String(),
		GasLimit:       payment.GasLimit,
		SecondPassword: payment.SecondPassword,
	}
	var resp submitResponse
	if err := b.c.do(ctx, http.MethodPost, "/eth/payments", req, &resp, "submit"); err != nil {
		return "", err
	}
	if resp.TxHash == "" {
		return "", fmt.Errorf("submit returned no transaction hash")
	}
	return resp.TxHash, nil
}

// RefreshBalance forces a full balance re-fetch.
func (b *NodeBackend) RefreshBalance(ctx context.Context, account domain.Account) error {
	return b.c.do(ctx, http.MethodPost, "/eth/balance/refresh", accountRequest{Account: account.Label()}, nil, "refresh_balance")
}
