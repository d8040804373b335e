// Package ledger holds the contract the engine posts wallet effects through.
// The ledger itself is an external collaborator; only its interface and the
// delivery machinery live here.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kolosave/savings-engine/pkg/errors"
	"github.com/kolosave/savings-engine/pkg/money"
)

// PostingResult is the ledger's acknowledgement of a posting.
type PostingResult struct {
	Reference string    `json:"reference"`
	PostedAt  time.Time `json:"posted_at"`
}

// Poster is the ledger adapter contract. Post must be idempotent under the
// supplied key: re-posting the same key returns the original result.
type Poster interface {
	Post(ctx context.Context, accountID uuid.UUID, amount money.Money, kind string, idempotencyKey string) (*PostingResult, error)
}

// HTTPPoster posts to the wallet ledger service over HTTP.
type HTTPPoster struct {
	baseURL string
	client  *http.Client
}

func NewHTTPPoster(baseURL string, timeout time.Duration) *HTTPPoster {
	return &HTTPPoster{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type postRequest struct {
	AccountID      uuid.UUID `json:"account_id"`
	AmountKobo     int64     `json:"amount_kobo"`
	Currency       string    `json:"currency"`
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotency_key"`
}

func (p *HTTPPoster) Post(ctx context.Context, accountID uuid.UUID, amount money.Money, kind string, idempotencyKey string) (*PostingResult, error) {
	body, err := json.Marshal(postRequest{
		AccountID:      accountID,
		AmountKobo:     amount.Kobo,
		Currency:       amount.Currency,
		Kind:           kind,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/postings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperrors.WrapLedgerUnavailable(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var result PostingResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, err
		}
		return &result, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, apperrors.New(apperrors.KindConflict, apperrors.CodeInsufficientFunds,
			"ledger rejected posting for insufficient funds", apperrors.ErrInsufficientFunds)
	default:
		return nil, apperrors.WrapLedgerUnavailable(
			fmt.Errorf("ledger returned status %d: %w", resp.StatusCode, apperrors.ErrLedgerUnavailable))
	}
}
