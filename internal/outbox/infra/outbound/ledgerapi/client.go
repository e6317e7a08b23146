package ledgerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/davicafu/possync/internal/outbox/domain"
	sharedCache "github.com/davicafu/possync/internal/shared/cache"
)

// summaryCacheTTL: el resumen diario cambia despacio; 60s evita machacar el
// endpoint cuando el dashboard refresca.
const summaryCacheTTL = 60

// HTTPError es una respuesta no-2xx del ledger remoto.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ledger http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ledger http %d", e.StatusCode)
}

// apiEnvelope es el sobre estándar de respuesta del ledger.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// DailySummary es el agregado de ventas del día que consumen los dashboards.
type DailySummary struct {
	Date             string  `json:"date"`
	TotalSales       float64 `json:"total_sales"`
	TransactionCount int     `json:"transaction_count"`
}

// TransactionSummary es una fila del listado paginado de transacciones.
type TransactionSummary struct {
	ID          string  `json:"id"`
	Amount      float64 `json:"amount"`
	PaymentMode string  `json:"payment_mode"`
	CreatedAt   string  `json:"created_at"`
}

// Client habla con el ledger remoto a través del transporte autenticado.
// Implementa domain.BatchSender para el sync engine y ofrece las lecturas
// simples que consumen los colaboradores de UI.
type Client struct {
	baseURL string
	http    *http.Client
	cache   sharedCache.Cache // opcional, solo para lecturas
	log     *zap.Logger
}

func NewClient(baseURL string, httpClient *http.Client, cache sharedCache.Cache, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		cache:   cache,
		log:     log,
	}
}

type batchRequest struct {
	Transactions []domain.BatchItem `json:"transactions"`
}

// SubmitBatch entrega un lote de operaciones etiquetadas por id.
// 2xx y 409 (duplicado idempotente: el servidor ya aplicó esos ids) cuentan
// como lote aplicado; cualquier otro estado es fallo de lote completo.
func (c *Client) SubmitBatch(ctx context.Context, items []domain.BatchItem) error {
	body, err := json.Marshal(batchRequest{Transactions: items})
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/transactions/batch", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("batch delivery failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// El servidor ya había aplicado estos ids: éxito, no fallo.
		c.log.Debug("Lote ya aplicado en el servidor (duplicado idempotente)")
		return nil
	default:
		return &HTTPError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
}

// DailySummary devuelve el resumen de ventas del día, cacheado.
// date vacío significa hoy en el servidor.
func (c *Client) DailySummary(ctx context.Context, date string) (*DailySummary, error) {
	cacheKey := "ledger:summary:daily:" + date

	if c.cache != nil {
		var cached DailySummary
		if hit, err := c.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	endpoint := c.baseURL + "/api/v1/transactions/summary/daily"
	if date != "" {
		endpoint += "?date=" + url.QueryEscape(date)
	}

	var summary DailySummary
	if err := c.getJSON(ctx, endpoint, &summary); err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, summary, summaryCacheTTL); err != nil {
			c.log.Warn("⚠️ No se pudo cachear el resumen diario", zap.Error(err))
		}
	}

	return &summary, nil
}

// ListTransactions devuelve una página del listado remoto de transacciones.
func (c *Client) ListTransactions(ctx context.Context, page, pageSize int) ([]TransactionSummary, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	endpoint := c.baseURL + "/api/v1/transactions?page=" + strconv.Itoa(page) +
		"&page_size=" + strconv.Itoa(pageSize)

	var txs []TransactionSummary
	if err := c.getJSON(ctx, endpoint, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("invalid ledger response: %w", err)
	}
	if !envelope.Success || envelope.Data == nil {
		msg := "ledger reported failure"
		if envelope.Error != nil {
			msg = envelope.Error.Message
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}

	return json.Unmarshal(envelope.Data, dest)
}

func readErrorMessage(r io.Reader) string {
	var envelope apiEnvelope
	if err := json.NewDecoder(r).Decode(&envelope); err == nil && envelope.Error != nil {
		return envelope.Error.Message
	}
	return ""
}

// Verificación en tiempo de compilación.
var _ domain.BatchSender = (*Client)(nil)
