package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// TossConfig — ключи мерчанта TOSS.
type TossConfig struct {
	ClientKey  string
	SecretKey  string
	PaymentURL string
	APIBaseURL string
	Timeout    time.Duration
}

// TossAdapter реализует JSON-протокол TOSS: подтверждение и отмена идут на
// REST API с Basic-авторизацией секретным ключом; подписи формы нет, ключ
// клиента публичный.
type TossAdapter struct {
	cfg    TossConfig
	client *http.Client
	logs   domain.GatewayLogRepository
	logger *log.Entry
	now    func() time.Time
}

// NewTossAdapter создаёт адаптер TOSS.
func NewTossAdapter(cfg TossConfig, logs domain.GatewayLogRepository, logger *log.Entry) *TossAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGatewayTimeout
	}
	if logger == nil {
		logger = log.New().WithField("component", "gateway-toss")
	}

	return &TossAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logs:   logs,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Acquirer возвращает код эквайера.
func (a *TossAdapter) Acquirer() string {
	return AcquirerToss
}

// Initiate готовит параметры платёжного окна TOSS.
func (a *TossAdapter) Initiate(req domain.InitiateRequest) (domain.InitiateForm, error) {
	if req.AmountMinor <= 0 {
		return domain.InitiateForm{}, domain.ErrAmountInvalid
	}

	return domain.InitiateForm{
		Acquirer:   AcquirerToss,
		PaymentURL: a.cfg.PaymentURL,
		Fields: map[string]string{
			"clientKey":     a.cfg.ClientKey,
			"orderId":       req.OrderRef,
			"amount":        strconv.FormatInt(req.AmountMinor, 10),
			"orderName":     req.ProductName,
			"customerName":  req.BuyerName,
			"customerEmail": req.BuyerEmail,
		},
	}, nil
}

// tossPaymentResponse — ответ API платежей TOSS.
type tossPaymentResponse struct {
	PaymentKey  string `json:"paymentKey"`
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"totalAmount"`
	ApproveNo   string `json:"approveNo"`
	Message     string `json:"message"`
	Code        string `json:"code"`
}

// Approve подтверждает платёж через /v1/payments/confirm. AuthToken здесь —
// paymentKey, выданный платёжным окном.
func (a *TossAdapter) Approve(ctx context.Context, req domain.ApproveRequest) (domain.ApprovalResult, error) {
	payload := map[string]any{
		"paymentKey": req.AuthToken,
		"orderId":    req.OrderRef,
		"amount":     req.AmountMinor,
	}

	body, err := a.postJSON(ctx, a.cfg.APIBaseURL+"/v1/payments/confirm", payload, req.PaymentRef, domain.GatewayLogApprove)
	if err != nil {
		return domain.ApprovalResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayApprovalFailed, err)
	}

	var resp tossPaymentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ApprovalResult{}, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayApprovalFailed, err)
	}
	if resp.Code != "" || resp.Status != "DONE" {
		return domain.ApprovalResult{}, fmt.Errorf("%w: code=%s status=%s msg=%s",
			domain.ErrGatewayApprovalFailed, resp.Code, resp.Status, resp.Message)
	}
	if resp.TotalAmount != req.AmountMinor {
		return domain.ApprovalResult{}, fmt.Errorf("%w: amount mismatch, expected %d got %d",
			domain.ErrGatewayApprovalFailed, req.AmountMinor, resp.TotalAmount)
	}

	return domain.ApprovalResult{
		ApprovalNo:    resp.ApproveNo,
		TransactionID: resp.PaymentKey,
		AmountMinor:   resp.TotalAmount,
	}, nil
}

// Cancel отменяет платёж на часть суммы через /v1/payments/{key}/cancel.
func (a *TossAdapter) Cancel(ctx context.Context, transactionID string, amountMinor int64, reason string) (domain.CancelResult, error) {
	if amountMinor <= 0 {
		return domain.CancelResult{}, domain.ErrAmountInvalid
	}

	payload := map[string]any{
		"cancelReason": reason,
		"cancelAmount": amountMinor,
	}

	body, err := a.postJSON(ctx, a.cfg.APIBaseURL+"/v1/payments/"+transactionID+"/cancel", payload, transactionID, domain.GatewayLogCancel)
	if err != nil {
		return domain.CancelResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayCancelFailed, err)
	}

	var resp tossPaymentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.CancelResult{}, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayCancelFailed, err)
	}
	if resp.Code != "" {
		return domain.CancelResult{}, fmt.Errorf("%w: code=%s msg=%s", domain.ErrGatewayCancelFailed, resp.Code, resp.Message)
	}

	return domain.CancelResult{
		CancelledMinor: amountMinor,
		CancelDate:     a.now().Format("20060102150405"),
	}, nil
}

// NetCancel у TOSS сводится к отмене по paymentKey на полную сумму.
func (a *TossAdapter) NetCancel(ctx context.Context, req domain.NetCancelRequest) error {
	payload := map[string]any{
		"cancelReason": "net cancel",
	}

	target := a.cfg.APIBaseURL + "/v1/payments/" + req.AuthToken + "/cancel"
	if req.NetCancelURL != "" {
		target = req.NetCancelURL
	}

	if _, err := a.postJSON(ctx, target, payload, req.OrderRef, domain.GatewayLogNetCancel); err != nil {
		raw, _ := json.Marshal(payload)
		recordExchange(a.logs, a.logger, a.now(), AcquirerToss, req.OrderRef, domain.GatewayLogNetCancelError, string(raw), err.Error())
		return fmt.Errorf("%w: %v", domain.ErrNetCancelFailed, err)
	}
	return nil
}

func (a *TossAdapter) postJSON(ctx context.Context, target string, payload any, paymentRef, kind string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(a.cfg.SecretKey+":")))

	resp, err := a.client.Do(httpReq)
	if err != nil {
		recordExchange(a.logs, a.logger, a.now(), AcquirerToss, paymentRef, kind, string(raw), err.Error())
		return nil, fmt.Errorf("call %s: %w", httpReq.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		recordExchange(a.logs, a.logger, a.now(), AcquirerToss, paymentRef, kind, string(raw), err.Error())
		return nil, fmt.Errorf("read response: %w", err)
	}

	recordExchange(a.logs, a.logger, a.now(), AcquirerToss, paymentRef, kind, string(raw), string(body))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

var _ domain.GatewayAdapter = (*TossAdapter)(nil)
