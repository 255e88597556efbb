package gateway

import (
	"context"
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

// NicepayConfig — параметры мерчанта NICEPAY.
type NicepayConfig struct {
	MID         string
	MerchantKey string
	PaymentURL  string
	CancelURL   string
	Timeout     time.Duration
}

// NicepayAdapter реализует протокол NICEPAY: браузерная форма с подписью
// SignData = sha256(ediDate + mid + amt + merchantKey), серверный approve по
// nextAppURL и отмена через API с той же схемой подписи.
type NicepayAdapter struct {
	cfg    NicepayConfig
	client *http.Client
	logs   domain.GatewayLogRepository
	logger *log.Entry
	now    func() time.Time
}

// NewNicepayAdapter создаёт адаптер NICEPAY.
func NewNicepayAdapter(cfg NicepayConfig, logs domain.GatewayLogRepository, logger *log.Entry) *NicepayAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGatewayTimeout
	}
	if logger == nil {
		logger = log.New().WithField("component", "gateway-nicepay")
	}

	return &NicepayAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logs:   logs,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Acquirer возвращает код эквайера.
func (a *NicepayAdapter) Acquirer() string {
	return AcquirerNicepay
}

// Initiate готовит параметры платёжной формы NICEPAY.
func (a *NicepayAdapter) Initiate(req domain.InitiateRequest) (domain.InitiateForm, error) {
	if req.AmountMinor <= 0 {
		return domain.InitiateForm{}, domain.ErrAmountInvalid
	}

	ediDate := a.now().Format("20060102150405")
	amt := strconv.FormatInt(req.AmountMinor, 10)

	return domain.InitiateForm{
		Acquirer:   AcquirerNicepay,
		PaymentURL: a.cfg.PaymentURL,
		Fields: map[string]string{
			"MID":       a.cfg.MID,
			"Moid":      req.OrderRef,
			"Amt":       amt,
			"GoodsName": req.ProductName,
			"BuyerName": req.BuyerName,
			"EdiDate":   ediDate,
			"SignData":  sha256Hex(ediDate + a.cfg.MID + amt + a.cfg.MerchantKey),
		},
	}, nil
}

// nicepayResponse — общий формат ответов NICEPAY.
type nicepayResponse struct {
	ResultCode string `json:"ResultCode"`
	ResultMsg  string `json:"ResultMsg"`
	TID        string `json:"TID"`
	AuthCode   string `json:"AuthCode"`
	Amt        string `json:"Amt"`
	CancelAmt  string `json:"CancelAmt"`
	CancelDate string `json:"CancelDate"`
}

// Approve подтверждает авторизацию. Код успеха NICEPAY — "3001"; сумма
// сверяется с запрошенной.
func (a *NicepayAdapter) Approve(ctx context.Context, req domain.ApproveRequest) (domain.ApprovalResult, error) {
	ediDate := a.now().Format("20060102150405")
	amt := strconv.FormatInt(req.AmountMinor, 10)
	form := url.Values{
		"MID":      {a.cfg.MID},
		"TID":      {req.AuthToken},
		"Amt":      {amt},
		"EdiDate":  {ediDate},
		"SignData": {sha256Hex(req.AuthToken + a.cfg.MID + amt + ediDate + a.cfg.MerchantKey)},
		"CharSet":  {"utf-8"},
		"EdiType":  {"JSON"},
	}

	body, err := a.postForm(ctx, req.AuthURL, form, req.PaymentRef, domain.GatewayLogApprove)
	if err != nil {
		return domain.ApprovalResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayApprovalFailed, err)
	}

	var resp nicepayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ApprovalResult{}, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayApprovalFailed, err)
	}
	if resp.ResultCode != "3001" {
		return domain.ApprovalResult{}, fmt.Errorf("%w: code=%s msg=%s", domain.ErrGatewayApprovalFailed, resp.ResultCode, resp.ResultMsg)
	}

	paid, err := strconv.ParseInt(strings.TrimSpace(resp.Amt), 10, 64)
	if err != nil {
		return domain.ApprovalResult{}, fmt.Errorf("%w: bad Amt %q", domain.ErrGatewayApprovalFailed, resp.Amt)
	}
	if paid != req.AmountMinor {
		return domain.ApprovalResult{}, fmt.Errorf("%w: amount mismatch, expected %d got %d",
			domain.ErrGatewayApprovalFailed, req.AmountMinor, paid)
	}

	return domain.ApprovalResult{
		ApprovalNo:    resp.AuthCode,
		TransactionID: resp.TID,
		AmountMinor:   paid,
	}, nil
}

// Cancel отменяет подтверждённую транзакцию. Код успеха отмены — "2001".
func (a *NicepayAdapter) Cancel(ctx context.Context, transactionID string, amountMinor int64, reason string) (domain.CancelResult, error) {
	if amountMinor <= 0 {
		return domain.CancelResult{}, domain.ErrAmountInvalid
	}

	ediDate := a.now().Format("20060102150405")
	cancelAmt := strconv.FormatInt(amountMinor, 10)
	form := url.Values{
		"MID":               {a.cfg.MID},
		"TID":               {transactionID},
		"CancelAmt":         {cancelAmt},
		"CancelMsg":         {reason},
		"PartialCancelCode": {"1"},
		"EdiDate":           {ediDate},
		"SignData":          {sha256Hex(a.cfg.MID + cancelAmt + ediDate + a.cfg.MerchantKey)},
		"CharSet":           {"utf-8"},
		"EdiType":           {"JSON"},
	}

	body, err := a.postForm(ctx, a.cfg.CancelURL, form, transactionID, domain.GatewayLogCancel)
	if err != nil {
		return domain.CancelResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayCancelFailed, err)
	}

	var resp nicepayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.CancelResult{}, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayCancelFailed, err)
	}
	if resp.ResultCode != "2001" {
		return domain.CancelResult{}, fmt.Errorf("%w: code=%s msg=%s", domain.ErrGatewayCancelFailed, resp.ResultCode, resp.ResultMsg)
	}

	return domain.CancelResult{
		CancelledMinor: amountMinor,
		CancelDate:     resp.CancelDate,
	}, nil
}

// NetCancel отменяет незавершённую авторизацию по netCancelURL.
func (a *NicepayAdapter) NetCancel(ctx context.Context, req domain.NetCancelRequest) error {
	ediDate := a.now().Format("20060102150405")
	form := url.Values{
		"MID":       {a.cfg.MID},
		"TID":       {req.AuthToken},
		"EdiDate":   {ediDate},
		"SignData":  {sha256Hex(req.AuthToken + a.cfg.MID + ediDate + a.cfg.MerchantKey)},
		"NetCancel": {"1"},
	}

	if _, err := a.postForm(ctx, req.NetCancelURL, form, req.OrderRef, domain.GatewayLogNetCancel); err != nil {
		recordExchange(a.logs, a.logger, a.now(), AcquirerNicepay, req.OrderRef, domain.GatewayLogNetCancelError, form.Encode(), err.Error())
		return fmt.Errorf("%w: %v", domain.ErrNetCancelFailed, err)
	}
	return nil
}

func (a *NicepayAdapter) postForm(ctx context.Context, target string, form url.Values, paymentRef, kind string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		recordExchange(a.logs, a.logger, a.now(), AcquirerNicepay, paymentRef, kind, form.Encode(), err.Error())
		return nil, fmt.Errorf("call %s: %w", httpReq.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		recordExchange(a.logs, a.logger, a.now(), AcquirerNicepay, paymentRef, kind, form.Encode(), err.Error())
		return nil, fmt.Errorf("read response: %w", err)
	}

	recordExchange(a.logs, a.logger, a.now(), AcquirerNicepay, paymentRef, kind, form.Encode(), string(body))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

var _ domain.GatewayAdapter = (*NicepayAdapter)(nil)
