package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-reader/internal/interfaces"
	"novel-reader/internal/models"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.CoinLedger = (*HTTPCoinLedgerClient)(nil)

// HTTPCoinLedgerClient — клиент авторитетного сервиса монет. Баланс мутирует
// только сервис; клиент лишь вызывает debit/credit и читает новый баланс
// из ответа.
type HTTPCoinLedgerClient struct {
	baseURL           string
	httpClient        *http.Client
	interServiceToken string
	logger            *zap.Logger
}

// NewHTTPCoinLedgerClient создаёт HTTP клиент сервиса монет.
func NewHTTPCoinLedgerClient(baseURL string, interServiceToken string, logger *zap.Logger) *HTTPCoinLedgerClient {
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &HTTPCoinLedgerClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		interServiceToken: interServiceToken,
		logger:            logger.Named("HTTPCoinLedgerClient"),
	}
}

type coinMutationRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Amount int       `json:"amount"`
}

type coinMutationResponse struct {
	Success    bool   `json:"success"`
	NewBalance int    `json:"newBalance"`
	Error      string `json:"error,omitempty"`
}

type coinBalanceResponse struct {
	Balance int `json:"balance"`
}

// Debit снимает amount монет со счёта пользователя.
func (c *HTTPCoinLedgerClient) Debit(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	return c.mutate(ctx, "/internal/coins/debit", userID, amount)
}

// Credit возвращает amount монет на счёт (компенсация).
func (c *HTTPCoinLedgerClient) Credit(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	return c.mutate(ctx, "/internal/coins/credit", userID, amount)
}

// Balance возвращает текущий авторитетный баланс пользователя.
func (c *HTTPCoinLedgerClient) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	endpointURL := fmt.Sprintf("%s/internal/coins/%s/balance", c.baseURL, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create balance request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Coin balance request failed", zap.Error(err), zap.Stringer("userID", userID))
		return 0, fmt.Errorf("coin ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coin ledger returned status %d", resp.StatusCode)
	}

	var body coinBalanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode balance response: %w", err)
	}
	return body.Balance, nil
}

func (c *HTTPCoinLedgerClient) mutate(ctx context.Context, path string, userID uuid.UUID, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: coin amount must be positive", models.ErrBadRequest)
	}
	log := c.logger.With(zap.Stringer("userID", userID), zap.String("path", path), zap.Int("amount", amount))

	jsonData, err := json.Marshal(coinMutationRequest{UserID: userID, Amount: amount})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal coin request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, fmt.Errorf("failed to create coin request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("Coin mutation request failed", zap.Error(err))
		return 0, fmt.Errorf("coin ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	var body coinMutationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode coin response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || !body.Success {
		log.Warn("Coin mutation declined",
			zap.Int("status", resp.StatusCode), zap.String("ledgerError", body.Error))
		return 0, fmt.Errorf("coin ledger declined operation: %s (status %d)", body.Error, resp.StatusCode)
	}

	log.Debug("Coin mutation applied", zap.Int("newBalance", body.NewBalance))
	return body.NewBalance, nil
}

func (c *HTTPCoinLedgerClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.interServiceToken != "" {
		req.Header.Set("X-Internal-Service-Token", c.interServiceToken)
	}
}
