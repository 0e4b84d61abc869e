package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/billing-engine/internal/pkg/apperror"
)

// Client — интерфейс внешнего платёжного шлюза. Движок не держит деньги
// сам: он инициирует удержание и возврат, а подтверждения приходят
// вебхуком.
type Client interface {
	// HoldFunds просит шлюз удержать средства клиента под платёж.
	// Возвращается немедленно: результат придёт вебхуком.
	HoldFunds(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal, currency string) error
	// RefundFunds просит шлюз вернуть удержанные средства клиенту.
	RefundFunds(ctx context.Context, paymentID uuid.UUID, gatewayRef string) error
	// ReleaseFunds просит шлюз перечислить удержанные средства фрилансеру.
	ReleaseFunds(ctx context.Context, paymentID uuid.UUID, gatewayRef string) error
}

// HTTPClient реализует Client поверх JSON-over-HTTP API шлюза.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient создаёт клиента шлюза.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPClient) HoldFunds(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal, currency string) error {
	return c.post(ctx, "/holds", map[string]any{
		"payment_id": paymentID.String(),
		"amount":     amount.StringFixed(2),
		"currency":   currency,
	})
}

func (c *HTTPClient) RefundFunds(ctx context.Context, paymentID uuid.UUID, gatewayRef string) error {
	return c.post(ctx, "/refunds", map[string]any{
		"payment_id":  paymentID.String(),
		"gateway_ref": gatewayRef,
	})
}

func (c *HTTPClient) ReleaseFunds(ctx context.Context, paymentID uuid.UUID, gatewayRef string) error {
	return c.post(ctx, "/releases", map[string]any{
		"payment_id":  paymentID.String(),
		"gateway_ref": gatewayRef,
	})
}

func (c *HTTPClient) post(ctx context.Context, path string, payload map[string]any) error {
	if c.baseURL == "" {
		return apperror.New(apperror.ErrCodeGateway, "gateway: baseURL не задан")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gateway: сериализация запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gateway: создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeGateway, "шлюз недоступен")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errorBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errorBody)
		return apperror.New(apperror.ErrCodeGateway,
			fmt.Sprintf("шлюз ответил кодом %d: %v", resp.StatusCode, errorBody))
	}

	return nil
}

// WebhookEvent — полезная нагрузка вебхука шлюза.
type WebhookEvent struct {
	PaymentID  uuid.UUID `json:"payment_id"`
	GatewayRef string    `json:"gateway_ref"`
	Status     string    `json:"status"` // "escrowed" | "failed"
	Reason     string    `json:"reason,omitempty"`
}

// Вебхук-статусы шлюза.
const (
	WebhookStatusEscrowed = "escrowed"
	WebhookStatusFailed   = "failed"
)

// SignPayload подписывает тело вебхука HMAC-SHA256.
// Используется в тестах и в заглушке шлюза.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature проверяет подпись вебхука. Сравнение
// constant-time, чтобы не течь по таймингу.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := SignPayload(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
