package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/vibepay/internal/api"
	"github.com/vladislavdragonenkov/vibepay/internal/domain"
	"github.com/vladislavdragonenkov/vibepay/internal/gateway"
	"github.com/vladislavdragonenkov/vibepay/internal/ledger"
	"github.com/vladislavdragonenkov/vibepay/internal/service/payments"
	"github.com/vladislavdragonenkov/vibepay/internal/service/processor"
	"github.com/vladislavdragonenkov/vibepay/internal/service/settlement"
	"github.com/vladislavdragonenkov/vibepay/internal/storage/memory"
)

// OrderLifecycleTestSuite гоняет полный жизненный цикл заказа через HTTP-слой
// поверх in-memory хранилища и mock-эквайеров.
type OrderLifecycleTestSuite struct {
	suite.Suite
	server    *httptest.Server
	memberSeq int
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	orders := memory.NewOrderRepository()
	legs := memory.NewPaymentLegRepository()
	lots := memory.NewPointLotRepository()
	allocs := memory.NewPointAllocationRepository()
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()
	idem := memory.NewIdempotencyRepository()
	seq := memory.NewSequences()

	selector, err := gateway.NewSelector([]gateway.Weight{
		{Acquirer: gateway.AcquirerInicis, Value: 60},
		{Acquirer: gateway.AcquirerNicepay, Value: 40},
	}, logger)
	s.Require().NoError(err)

	registry, err := gateway.NewRegistry([]domain.GatewayAdapter{
		gateway.NewMockAdapter(gateway.AcquirerInicis),
		gateway.NewMockAdapter(gateway.AcquirerNicepay),
	}, selector)
	s.Require().NoError(err)

	engine := ledger.NewEngine(lots, allocs, seq, logger)

	dispatcher, err := processor.NewDispatcher(
		processor.NewCardProcessor(registry, logger),
		processor.NewPointProcessor(engine, logger),
	)
	s.Require().NoError(err)

	orch := settlement.NewOrchestrator(orders, legs, dispatcher, outbox, timeline, logger)

	svc := payments.NewService(orders, legs, timeline, seq, registry, orch, engine, logger)

	s.server = httptest.NewServer(api.NewServer(svc, idem, logger).Router())
}

func (s *OrderLifecycleTestSuite) TearDownTest() {
	s.server.Close()
}

type orderBody struct {
	ID          string `json:"id"`
	MemberID    string `json:"member_id"`
	Status      string `json:"status"`
	AmountMinor int64  `json:"amount_minor"`
}

type legBody struct {
	ID              string `json:"id"`
	Method          string `json:"method"`
	Status          string `json:"status"`
	AmountMinor     int64  `json:"amount_minor"`
	CancelableMinor int64  `json:"cancelable_minor"`
	Acquirer        string `json:"acquirer"`
}

type orderResponseBody struct {
	Order    orderBody `json:"order"`
	Legs     []legBody `json:"legs"`
	Timeline []struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"timeline"`
	Error string `json:"error"`
}

func (s *OrderLifecycleTestSuite) nextMemberID() string {
	s.memberSeq++
	return fmt.Sprintf("member-%d", s.memberSeq)
}

func (s *OrderLifecycleTestSuite) doJSON(method, path string, payload interface{}, headers map[string]string) (int, []byte) {
	s.T().Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		s.Require().NoError(err)
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.server.URL+path, body)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp.StatusCode, data
}

func (s *OrderLifecycleTestSuite) earnPoints(memberID string, amountMinor int64) {
	s.T().Helper()

	status, _ := s.doJSON(http.MethodPost, "/v1/points/earn", map[string]interface{}{
		"member_id":     memberID,
		"amount_minor":  amountMinor,
		"validity_days": 30,
		"reason_ref":    "promo",
	}, nil)
	s.Require().Equal(http.StatusCreated, status)
}

func (s *OrderLifecycleTestSuite) pointBalance(memberID string) int64 {
	s.T().Helper()

	status, data := s.doJSON(http.MethodGet, "/v1/points/"+memberID+"/balance", nil, nil)
	s.Require().Equal(http.StatusOK, status)

	var body struct {
		BalanceMinor int64 `json:"balance_minor"`
	}
	s.Require().NoError(json.Unmarshal(data, &body))
	return body.BalanceMinor
}

type legSpec struct {
	method string
	amount int64
}

func (s *OrderLifecycleTestSuite) initiateOrder(memberID string, amountMinor int64, legs []legSpec) orderResponseBody {
	s.T().Helper()

	legPayloads := make([]map[string]interface{}, 0, len(legs))
	for _, leg := range legs {
		legPayloads = append(legPayloads, map[string]interface{}{
			"method":       leg.method,
			"amount_minor": leg.amount,
		})
	}

	status, data := s.doJSON(http.MethodPost, "/v1/orders", map[string]interface{}{
		"member_id":    memberID,
		"amount_minor": amountMinor,
		"product_name": "annual pass",
		"buyer_name":   "Test Buyer",
		"legs":         legPayloads,
	}, nil)
	s.Require().Equal(http.StatusCreated, status, string(data))

	var body orderResponseBody
	s.Require().NoError(json.Unmarshal(data, &body))
	s.Require().NotEmpty(body.Order.ID)
	s.Require().Equal(string(domain.OrderStatusReceived), body.Order.Status)
	s.Require().Len(body.Legs, len(legs))
	return body
}

func (s *OrderLifecycleTestSuite) confirmOrder(initiated orderResponseBody, key string) (int, orderResponseBody) {
	s.T().Helper()

	auths := make([]map[string]string, 0, len(initiated.Legs))
	for _, leg := range initiated.Legs {
		if leg.Method != string(domain.PaymentMethodCard) {
			continue
		}
		auths = append(auths, map[string]string{
			"leg_id":         leg.ID,
			"auth_token":     "tok-" + leg.ID,
			"auth_url":       "https://pg.example/auth",
			"net_cancel_url": "https://pg.example/netcancel",
		})
	}

	status, data := s.doJSON(
		http.MethodPost,
		"/v1/orders/"+initiated.Order.ID+"/confirm",
		map[string]interface{}{"auths": auths},
		map[string]string{"Idempotency-Key": key},
	)

	var body orderResponseBody
	s.Require().NoError(json.Unmarshal(data, &body))
	return status, body
}

func (s *OrderLifecycleTestSuite) getOrder(orderID string) orderResponseBody {
	s.T().Helper()

	status, data := s.doJSON(http.MethodGet, "/v1/orders/"+orderID, nil, nil)
	s.Require().Equal(http.StatusOK, status)

	var body orderResponseBody
	s.Require().NoError(json.Unmarshal(data, &body))
	return body
}

func (s *OrderLifecycleTestSuite) TestCardOnlyLifecycle() {
	memberID := s.nextMemberID()

	initiated := s.initiateOrder(memberID, 10000, []legSpec{{method: "CARD", amount: 10000}})
	s.Require().NotEmpty(initiated.Legs[0].Acquirer)

	status, confirmed := s.confirmOrder(initiated, "it-card-1")
	s.Require().Equal(http.StatusOK, status)
	s.Require().Equal(string(domain.OrderStatusCompleted), confirmed.Order.Status)
	s.Require().Equal(string(domain.LegStatusApproved), confirmed.Legs[0].Status)
	s.Require().Equal(int64(10000), confirmed.Legs[0].CancelableMinor)

	details := s.getOrder(initiated.Order.ID)
	s.Require().Equal(string(domain.OrderStatusCompleted), details.Order.Status)

	types := make([]string, 0, len(details.Timeline))
	for _, event := range details.Timeline {
		types = append(types, event.Type)
	}
	s.Require().Contains(types, "OrderReceived")
	s.Require().Contains(types, "OrderStatusChanged")
}

func (s *OrderLifecycleTestSuite) TestMixedCardAndPointLifecycle() {
	memberID := s.nextMemberID()
	s.earnPoints(memberID, 5000)

	initiated := s.initiateOrder(memberID, 10000, []legSpec{
		{method: "CARD", amount: 7000},
		{method: "POINT", amount: 3000},
	})

	status, confirmed := s.confirmOrder(initiated, "it-mixed-1")
	s.Require().Equal(http.StatusOK, status)
	s.Require().Equal(string(domain.OrderStatusCompleted), confirmed.Order.Status)
	for _, leg := range confirmed.Legs {
		s.Require().Equal(string(domain.LegStatusApproved), leg.Status)
	}

	s.Require().Equal(int64(2000), s.pointBalance(memberID))

	statusCode, data := s.doJSON(http.MethodGet, "/v1/points/"+memberID+"/history", nil, nil)
	s.Require().Equal(http.StatusOK, statusCode)
	var history struct {
		History []struct {
			AmountMinor int64  `json:"amount_minor"`
			ReasonRef   string `json:"reason_ref"`
		} `json:"history"`
	}
	s.Require().NoError(json.Unmarshal(data, &history))
	s.Require().Len(history.History, 1)
	s.Require().Equal(int64(3000), history.History[0].AmountMinor)
	s.Require().Equal(initiated.Order.ID, history.History[0].ReasonRef)
}

func (s *OrderLifecycleTestSuite) TestInsufficientPointsRollsBackCardLeg() {
	memberID := s.nextMemberID()
	s.earnPoints(memberID, 1000)

	initiated := s.initiateOrder(memberID, 10000, []legSpec{
		{method: "CARD", amount: 7000},
		{method: "POINT", amount: 3000},
	})

	status, failed := s.confirmOrder(initiated, "it-insufficient-1")
	s.Require().Equal(http.StatusPaymentRequired, status)
	s.Require().NotEmpty(failed.Error)
	s.Require().Equal(string(domain.OrderStatusFailed), failed.Order.Status)

	details := s.getOrder(initiated.Order.ID)
	byMethod := make(map[string]legBody, len(details.Legs))
	for _, leg := range details.Legs {
		byMethod[leg.Method] = leg
	}
	s.Require().Equal(string(domain.LegStatusNetCancelled), byMethod["CARD"].Status)
	s.Require().Equal(string(domain.LegStatusPending), byMethod["POINT"].Status)

	// Баланс не тронут: списание не прошло, аванс по карте откатан.
	s.Require().Equal(int64(1000), s.pointBalance(memberID))
}

func (s *OrderLifecycleTestSuite) TestFullCancelRefundsPoints() {
	memberID := s.nextMemberID()
	s.earnPoints(memberID, 5000)

	initiated := s.initiateOrder(memberID, 10000, []legSpec{
		{method: "CARD", amount: 7000},
		{method: "POINT", amount: 3000},
	})
	status, _ := s.confirmOrder(initiated, "it-cancel-full-confirm")
	s.Require().Equal(http.StatusOK, status)
	s.Require().Equal(int64(2000), s.pointBalance(memberID))

	cancelStatus, data := s.doJSON(http.MethodPost, "/v1/orders/"+initiated.Order.ID+"/cancel", map[string]interface{}{
		"amount_minor": 0,
		"reason":       "changed my mind",
	}, nil)
	s.Require().Equal(http.StatusOK, cancelStatus, string(data))

	var cancelled struct {
		Order orderBody `json:"order"`
	}
	s.Require().NoError(json.Unmarshal(data, &cancelled))
	s.Require().Equal(string(domain.OrderStatusCancelled), cancelled.Order.Status)

	// Возврат поинтов пришёл свежим лотом.
	s.Require().Equal(int64(5000), s.pointBalance(memberID))

	details := s.getOrder(initiated.Order.ID)
	for _, leg := range details.Legs {
		s.Require().Zero(leg.CancelableMinor)
	}
}

func (s *OrderLifecycleTestSuite) TestPartialCancelKeepsOrderCancelable() {
	memberID := s.nextMemberID()

	initiated := s.initiateOrder(memberID, 10000, []legSpec{{method: "CARD", amount: 10000}})
	status, _ := s.confirmOrder(initiated, "it-cancel-part-confirm")
	s.Require().Equal(http.StatusOK, status)

	cancelStatus, data := s.doJSON(http.MethodPost, "/v1/orders/"+initiated.Order.ID+"/cancel", map[string]interface{}{
		"amount_minor": 4000,
		"reason":       "size mismatch",
	}, nil)
	s.Require().Equal(http.StatusOK, cancelStatus)

	var cancelled struct {
		Order orderBody `json:"order"`
	}
	s.Require().NoError(json.Unmarshal(data, &cancelled))
	s.Require().Equal(string(domain.OrderStatusPartiallyCancelled), cancelled.Order.Status)

	details := s.getOrder(initiated.Order.ID)
	s.Require().Equal(int64(6000), details.Legs[0].CancelableMinor)

	// Запрос сверх остатка отклоняется без частичных эффектов.
	overStatus, _ := s.doJSON(http.MethodPost, "/v1/orders/"+initiated.Order.ID+"/cancel", map[string]interface{}{
		"amount_minor": 7000,
		"reason":       "too much",
	}, nil)
	s.Require().Equal(http.StatusBadRequest, overStatus)
}

func (s *OrderLifecycleTestSuite) TestConfirmIsIdempotent() {
	memberID := s.nextMemberID()

	initiated := s.initiateOrder(memberID, 10000, []legSpec{{method: "CARD", amount: 10000}})

	status, first := s.confirmOrder(initiated, "it-idem-1")
	s.Require().Equal(http.StatusOK, status)
	s.Require().Equal(string(domain.OrderStatusCompleted), first.Order.Status)

	// Повтор с тем же ключом и телом отдаёт сохранённый ответ, а не
	// повторный расчёт (он бы упал с already settled).
	replayStatus, replayed := s.confirmOrder(initiated, "it-idem-1")
	s.Require().Equal(http.StatusOK, replayStatus)
	s.Require().Equal(first.Order.Status, replayed.Order.Status)

	// Тот же ключ с другим телом — конфликт.
	conflictStatus, data := s.doJSON(
		http.MethodPost,
		"/v1/orders/"+initiated.Order.ID+"/confirm",
		map[string]interface{}{"auths": []map[string]string{}},
		map[string]string{"Idempotency-Key": "it-idem-1"},
	)
	s.Require().Equal(http.StatusConflict, conflictStatus)
	s.Require().Contains(string(data), "different request payload")

	// Без ключа confirm не принимается.
	missingStatus, _ := s.doJSON(
		http.MethodPost,
		"/v1/orders/"+initiated.Order.ID+"/confirm",
		map[string]interface{}{"auths": []map[string]string{}},
		nil,
	)
	s.Require().Equal(http.StatusBadRequest, missingStatus)
}

func (s *OrderLifecycleTestSuite) TestListOrdersByMember() {
	memberID := s.nextMemberID()

	first := s.initiateOrder(memberID, 10000, []legSpec{{method: "CARD", amount: 10000}})
	second := s.initiateOrder(memberID, 20000, []legSpec{{method: "CARD", amount: 20000}})
	s.initiateOrder(s.nextMemberID(), 500, []legSpec{{method: "CARD", amount: 500}})

	status, data := s.doJSON(http.MethodGet, "/v1/orders?member_id="+memberID, nil, nil)
	s.Require().Equal(http.StatusOK, status)

	var body struct {
		Orders []orderBody `json:"orders"`
	}
	s.Require().NoError(json.Unmarshal(data, &body))
	s.Require().Len(body.Orders, 2)

	ids := []string{body.Orders[0].ID, body.Orders[1].ID}
	s.Require().Contains(ids, first.Order.ID)
	s.Require().Contains(ids, second.Order.ID)
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
