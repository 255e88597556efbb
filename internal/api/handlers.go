package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
	"github.com/vladislavdragonenkov/vibepay/internal/service/payments"
)

type legInputDTO struct {
	Method      string `json:"method"`
	AmountMinor int64  `json:"amount_minor"`
}

type initiateRequestDTO struct {
	MemberID    string        `json:"member_id"`
	AmountMinor int64         `json:"amount_minor"`
	ProductName string        `json:"product_name"`
	BuyerName   string        `json:"buyer_name"`
	BuyerEmail  string        `json:"buyer_email"`
	Legs        []legInputDTO `json:"legs"`
}

type orderDTO struct {
	ID          string `json:"id"`
	MemberID    string `json:"member_id"`
	Status      string `json:"status"`
	AmountMinor int64  `json:"amount_minor"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type legDTO struct {
	ID              string `json:"id"`
	Method          string `json:"method"`
	Status          string `json:"status"`
	AmountMinor     int64  `json:"amount_minor"`
	CancelableMinor int64  `json:"cancelable_minor"`
	Acquirer        string `json:"acquirer,omitempty"`
	TransactionID   string `json:"transaction_id,omitempty"`
	ApprovalNo      string `json:"approval_no,omitempty"`
}

type formDTO struct {
	Acquirer   string            `json:"acquirer"`
	PaymentURL string            `json:"payment_url"`
	Fields     map[string]string `json:"fields"`
}

type initiateResponseDTO struct {
	Order orderDTO           `json:"order"`
	Legs  []legDTO           `json:"legs"`
	Forms map[string]formDTO `json:"forms,omitempty"`
}

type timelineEventDTO struct {
	Type     string `json:"type"`
	Reason   string `json:"reason,omitempty"`
	Occurred string `json:"occurred"`
}

type orderResponseDTO struct {
	Order    orderDTO           `json:"order"`
	Legs     []legDTO           `json:"legs"`
	Timeline []timelineEventDTO `json:"timeline,omitempty"`
}

func toOrderDTO(order domain.Order) orderDTO {
	return orderDTO{
		ID:          order.ID,
		MemberID:    order.MemberID,
		Status:      string(order.Status),
		AmountMinor: order.AmountMinor,
		CreatedAt:   order.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   order.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func toLegDTOs(legs []domain.PaymentLeg) []legDTO {
	result := make([]legDTO, 0, len(legs))
	for _, leg := range legs {
		result = append(result, legDTO{
			ID:              leg.ID,
			Method:          string(leg.Method),
			Status:          string(leg.Status),
			AmountMinor:     leg.AmountMinor,
			CancelableMinor: leg.CancelableMinor,
			Acquirer:        leg.Acquirer,
			TransactionID:   leg.TransactionID,
			ApprovalNo:      leg.ApprovalNo,
		})
	}
	return result
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var dto initiateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	req := payments.InitiateRequest{
		MemberID:    dto.MemberID,
		AmountMinor: dto.AmountMinor,
		ProductName: dto.ProductName,
		BuyerName:   dto.BuyerName,
		BuyerEmail:  dto.BuyerEmail,
	}
	for _, leg := range dto.Legs {
		req.Legs = append(req.Legs, payments.LegInput{
			Method:      domain.PaymentMethod(leg.Method),
			AmountMinor: leg.AmountMinor,
		})
	}

	res, err := s.svc.Initiate(r.Context(), req, actorFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	forms := make(map[string]formDTO, len(res.Forms))
	for legID, form := range res.Forms {
		forms[legID] = formDTO{Acquirer: form.Acquirer, PaymentURL: form.PaymentURL, Fields: form.Fields}
	}
	s.writeJSON(w, http.StatusCreated, initiateResponseDTO{
		Order: toOrderDTO(res.Order),
		Legs:  toLegDTOs(res.Legs),
		Forms: forms,
	})
}

type legAuthDTO struct {
	LegID        string `json:"leg_id"`
	AuthToken    string `json:"auth_token"`
	AuthURL      string `json:"auth_url"`
	NetCancelURL string `json:"net_cancel_url"`
}

type confirmRequestDTO struct {
	Auths []legAuthDTO `json:"auths"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	s.withIdempotency(w, r, func(body []byte) (int, interface{}) {
		var dto confirmRequestDTO
		if len(body) > 0 {
			if err := json.Unmarshal(body, &dto); err != nil {
				return http.StatusBadRequest, errorResponse{Error: "invalid request body"}
			}
		}

		req := payments.ConfirmRequest{OrderID: orderID}
		for _, auth := range dto.Auths {
			req.Auths = append(req.Auths, payments.LegAuth{
				LegID:        auth.LegID,
				AuthToken:    auth.AuthToken,
				AuthURL:      auth.AuthURL,
				NetCancelURL: auth.NetCancelURL,
			})
		}

		res, err := s.svc.Confirm(r.Context(), req, actorFrom(r))
		if err != nil {
			s.logger.WithError(err).WithField("order_id", orderID).Warn("confirm failed")
			return statusForError(err), confirmFailureBody(res, err)
		}
		return http.StatusOK, orderResponseDTO{Order: toOrderDTO(res.Order), Legs: toLegDTOs(res.Legs)}
	})
}

type confirmFailureDTO struct {
	Error string    `json:"error"`
	Order *orderDTO `json:"order,omitempty"`
	Legs  []legDTO  `json:"legs,omitempty"`
}

// confirmFailureBody отдаёт вместе с ошибкой финальное состояние заказа:
// клиенту важно видеть failed-статус и судьбу каждого лега.
func confirmFailureBody(res payments.ConfirmResult, err error) confirmFailureDTO {
	body := confirmFailureDTO{Error: err.Error()}
	if res.Order.ID != "" {
		order := toOrderDTO(res.Order)
		body.Order = &order
		body.Legs = toLegDTOs(res.Legs)
	}
	return body
}

type cancelRequestDTO struct {
	AmountMinor int64  `json:"amount_minor"`
	Reason      string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	// Пустое тело равно нулевому DTO: amount_minor <= 0 означает полный возврат.
	var dto cancelRequestDTO
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil && !errors.Is(err, io.EOF) {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	order, err := s.svc.Cancel(r.Context(), orderID, dto.AmountMinor, dto.Reason, actorFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]orderDTO{"order": toOrderDTO(order)})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	details, err := s.svc.GetOrder(chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	timeline := make([]timelineEventDTO, 0, len(details.Timeline))
	for _, event := range details.Timeline {
		timeline = append(timeline, timelineEventDTO{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred.Format(time.RFC3339Nano),
		})
	}
	s.writeJSON(w, http.StatusOK, orderResponseDTO{
		Order:    toOrderDTO(details.Order),
		Legs:     toLegDTOs(details.Legs),
		Timeline: timeline,
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	memberID := r.URL.Query().Get("member_id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	orders, err := s.svc.ListOrders(memberID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result := make([]orderDTO, 0, len(orders))
	for _, order := range orders {
		result = append(result, toOrderDTO(order))
	}
	s.writeJSON(w, http.StatusOK, map[string][]orderDTO{"orders": result})
}

type earnRequestDTO struct {
	MemberID     string `json:"member_id"`
	AmountMinor  int64  `json:"amount_minor"`
	ValidityDays int    `json:"validity_days"`
	ReasonRef    string `json:"reason_ref"`
}

func (s *Server) handleEarnPoints(w http.ResponseWriter, r *http.Request) {
	var dto earnRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	lotID, err := s.svc.EarnPoints(dto.MemberID, dto.AmountMinor, time.Duration(dto.ValidityDays)*24*time.Hour, dto.ReasonRef)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"lot_id": lotID})
}

func (s *Server) handlePointBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.svc.PointBalance(chi.URLParam(r, "memberID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"balance_minor": balance})
}

type allocationDTO struct {
	ID          string `json:"id"`
	LotID       string `json:"lot_id"`
	AmountMinor int64  `json:"amount_minor"`
	ReasonRef   string `json:"reason_ref"`
	CreatedAt   string `json:"created_at"`
}

func (s *Server) handlePointHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.svc.PointHistory(chi.URLParam(r, "memberID"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	result := make([]allocationDTO, 0, len(history))
	for _, alloc := range history {
		result = append(result, allocationDTO{
			ID:          alloc.ID,
			LotID:       alloc.LotID,
			AmountMinor: alloc.AmountMinor,
			ReasonRef:   alloc.ReasonRef,
			CreatedAt:   alloc.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string][]allocationDTO{"history": result})
}

type statsDTO struct {
	MemberID      string `json:"member_id"`
	EarnedMinor   int64  `json:"earned_minor"`
	UsedMinor     int64  `json:"used_minor"`
	RefundedMinor int64  `json:"refunded_minor"`
	BalanceMinor  int64  `json:"balance_minor"`
	EarnCount     int    `json:"earn_count"`
	UseCount      int    `json:"use_count"`
	RefundCount   int    `json:"refund_count"`
}

func (s *Server) handlePointStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.PointStats(chi.URLParam(r, "memberID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statsDTO{
		MemberID:      stats.MemberID,
		EarnedMinor:   stats.EarnedMinor,
		UsedMinor:     stats.UsedMinor,
		RefundedMinor: stats.RefundedMinor,
		BalanceMinor:  stats.BalanceMinor,
		EarnCount:     stats.EarnCount,
		UseCount:      stats.UseCount,
		RefundCount:   stats.RefundCount,
	})
}
