package gateway

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

const defaultGatewayTimeout = 10 * time.Second

// InicisConfig — параметры мерчанта INICIS.
type InicisConfig struct {
	MID        string
	SignKey    string
	APIKey     string
	PaymentURL string
	CancelURL  string
	Timeout    time.Duration
}

// InicisAdapter реализует протокол INICIS: браузерный initiate с подписью
// sha256, серверный approve по authUrl, отмена через refund API с хэшем
// sha512 и best-effort net-cancel.
type InicisAdapter struct {
	cfg    InicisConfig
	client *http.Client
	logs   domain.GatewayLogRepository
	logger *log.Entry
	now    func() time.Time
}

// NewInicisAdapter создаёт адаптер INICIS.
func NewInicisAdapter(cfg InicisConfig, logs domain.GatewayLogRepository, logger *log.Entry) *InicisAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGatewayTimeout
	}
	if logger == nil {
		logger = log.New().WithField("component", "gateway-inicis")
	}

	return &InicisAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logs:   logs,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Acquirer возвращает код эквайера.
func (a *InicisAdapter) Acquirer() string {
	return AcquirerInicis
}

// Initiate готовит параметры платёжной формы. Подпись считается по
// oid/price/timestamp, mKey — хэш signKey мерчанта. Сетевых вызовов нет.
func (a *InicisAdapter) Initiate(req domain.InitiateRequest) (domain.InitiateForm, error) {
	if req.AmountMinor <= 0 {
		return domain.InitiateForm{}, domain.ErrAmountInvalid
	}

	timestamp := strconv.FormatInt(a.now().UnixMilli(), 10)
	price := strconv.FormatInt(req.AmountMinor, 10)
	signature := sha256Hex(fmt.Sprintf("oid=%s&price=%s&timestamp=%s", req.OrderRef, price, timestamp))

	return domain.InitiateForm{
		Acquirer:   AcquirerInicis,
		PaymentURL: a.cfg.PaymentURL,
		Fields: map[string]string{
			"version":    "1.0",
			"mid":        a.cfg.MID,
			"oid":        req.OrderRef,
			"price":      price,
			"goodname":   req.ProductName,
			"buyername":  req.BuyerName,
			"buyeremail": req.BuyerEmail,
			"timestamp":  timestamp,
			"signature":  signature,
			"mKey":       sha256Hex(a.cfg.SignKey),
			"currency":   "WON",
		},
	}, nil
}

// inicisApproveResponse — ответ authUrl. Суммы INICIS отдаёт строками.
type inicisApproveResponse struct {
	ResultCode string `json:"resultCode"`
	ResultMsg  string `json:"resultMsg"`
	TID        string `json:"tid"`
	ApplNum    string `json:"applNum"`
	TotPrice   string `json:"TotPrice"`
}

// Approve подтверждает авторизацию по authUrl из браузерного шага.
// Успех только при resultCode "0000" и точном совпадении суммы.
func (a *InicisAdapter) Approve(ctx context.Context, req domain.ApproveRequest) (domain.ApprovalResult, error) {
	timestamp := strconv.FormatInt(a.now().UnixMilli(), 10)
	form := url.Values{
		"mid":       {a.cfg.MID},
		"authToken": {req.AuthToken},
		"timestamp": {timestamp},
		"signature": {sha256Hex(fmt.Sprintf("authToken=%s&timestamp=%s", req.AuthToken, timestamp))},
		"verification": {sha256Hex(fmt.Sprintf(
			"authToken=%s&signKey=%s&timestamp=%s", req.AuthToken, a.cfg.SignKey, timestamp))},
		"format": {"JSON"},
	}

	body, err := a.postForm(ctx, req.AuthURL, form, req.PaymentRef, domain.GatewayLogApprove)
	if err != nil {
		return domain.ApprovalResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayApprovalFailed, err)
	}

	var resp inicisApproveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ApprovalResult{}, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayApprovalFailed, err)
	}
	if resp.ResultCode != "0000" {
		return domain.ApprovalResult{}, fmt.Errorf("%w: code=%s msg=%s", domain.ErrGatewayApprovalFailed, resp.ResultCode, resp.ResultMsg)
	}

	paid, err := strconv.ParseInt(strings.TrimSpace(resp.TotPrice), 10, 64)
	if err != nil {
		return domain.ApprovalResult{}, fmt.Errorf("%w: bad TotPrice %q", domain.ErrGatewayApprovalFailed, resp.TotPrice)
	}
	if paid != req.AmountMinor {
		return domain.ApprovalResult{}, fmt.Errorf("%w: amount mismatch, expected %d got %d",
			domain.ErrGatewayApprovalFailed, req.AmountMinor, paid)
	}

	return domain.ApprovalResult{
		ApprovalNo:    resp.ApplNum,
		TransactionID: resp.TID,
		AmountMinor:   paid,
	}, nil
}

// inicisCancelResponse — ответ refund API.
type inicisCancelResponse struct {
	ResultCode string `json:"resultCode"`
	ResultMsg  string `json:"resultMsg"`
	CancelDate string `json:"cancelDate"`
	CancelTime string `json:"cancelTime"`
}

// Cancel отменяет подтверждённую транзакцию через refund API. Целостность
// запроса защищена sha512-хэшем от apiKey, mid, типа операции, timestamp и
// тела data.
func (a *InicisAdapter) Cancel(ctx context.Context, transactionID string, amountMinor int64, reason string) (domain.CancelResult, error) {
	if amountMinor <= 0 {
		return domain.CancelResult{}, domain.ErrAmountInvalid
	}

	timestamp := a.now().Format("20060102150405")
	data := map[string]string{
		"tid":   transactionID,
		"msg":   reason,
		"price": strconv.FormatInt(amountMinor, 10),
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return domain.CancelResult{}, fmt.Errorf("%w: marshal data: %v", domain.ErrGatewayCancelFailed, err)
	}

	payload := map[string]any{
		"mid":       a.cfg.MID,
		"type":      "refund",
		"timestamp": timestamp,
		"clientIp":  "127.0.0.1",
		"hashData":  sha512Hex(a.cfg.APIKey + a.cfg.MID + "refund" + timestamp + string(dataJSON)),
		"data":      data,
	}

	body, err := a.postJSON(ctx, a.cfg.CancelURL, payload, transactionID, domain.GatewayLogCancel)
	if err != nil {
		return domain.CancelResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayCancelFailed, err)
	}

	var resp inicisCancelResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.CancelResult{}, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayCancelFailed, err)
	}
	if resp.ResultCode != "00" {
		return domain.CancelResult{}, fmt.Errorf("%w: code=%s msg=%s", domain.ErrGatewayCancelFailed, resp.ResultCode, resp.ResultMsg)
	}

	return domain.CancelResult{
		CancelledMinor: amountMinor,
		CancelDate:     resp.CancelDate + resp.CancelTime,
	}, nil
}

// NetCancel просит эквайера забыть полученный approve. Вызов best-effort:
// неуспех логируется особой записью журнала и возвращается вызывающему.
func (a *InicisAdapter) NetCancel(ctx context.Context, req domain.NetCancelRequest) error {
	timestamp := strconv.FormatInt(a.now().UnixMilli(), 10)
	form := url.Values{
		"mid":       {a.cfg.MID},
		"authToken": {req.AuthToken},
		"timestamp": {timestamp},
		"signature": {sha256Hex(fmt.Sprintf("authToken=%s&timestamp=%s", req.AuthToken, timestamp))},
		"format":    {"JSON"},
	}

	if _, err := a.postForm(ctx, req.NetCancelURL, form, req.OrderRef, domain.GatewayLogNetCancel); err != nil {
		a.appendLog(req.OrderRef, domain.GatewayLogNetCancelError, form.Encode(), err.Error())
		return fmt.Errorf("%w: %v", domain.ErrNetCancelFailed, err)
	}
	return nil
}

func (a *InicisAdapter) postForm(ctx context.Context, target string, form url.Values, paymentRef, kind string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return a.do(httpReq, paymentRef, kind, form.Encode())
}

func (a *InicisAdapter) postJSON(ctx context.Context, target string, payload any, paymentRef, kind string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return a.do(httpReq, paymentRef, kind, string(raw))
}

func (a *InicisAdapter) do(httpReq *http.Request, paymentRef, kind, requestBody string) ([]byte, error) {
	resp, err := a.client.Do(httpReq)
	if err != nil {
		a.appendLog(paymentRef, kind, requestBody, err.Error())
		return nil, fmt.Errorf("call %s: %w", httpReq.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		a.appendLog(paymentRef, kind, requestBody, err.Error())
		return nil, fmt.Errorf("read response: %w", err)
	}

	a.appendLog(paymentRef, kind, requestBody, string(body))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

func (a *InicisAdapter) appendLog(paymentRef, kind, request, response string) {
	recordExchange(a.logs, a.logger, a.now(), AcquirerInicis, paymentRef, kind, request, response)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha512Hex(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}

var _ domain.GatewayAdapter = (*InicisAdapter)(nil)
