package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
	"github.com/vladislavdragonenkov/vibepay/internal/service/payments"
)

// Server — тонкий HTTP-слой поверх прикладного сервиса. Вся бизнес-логика
// живёт в payments.Service; здесь только разбор запросов, идемпотентность
// confirm и маппинг ошибок в статусы.
type Server struct {
	svc    *payments.Service
	idem   domain.IdempotencyRepository
	logger *log.Entry
	now    func() time.Time
}

// NewServer конструирует HTTP-слой. idem может быть nil — тогда confirm
// работает без идемпотентности (удобно в тестах).
func NewServer(svc *payments.Service, idem domain.IdempotencyRepository, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.New().WithField("component", "api")
	}
	return &Server{
		svc:    svc,
		idem:   idem,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Router собирает маршруты API.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/orders", s.handleInitiate)
		r.Get("/orders", s.handleListOrders)
		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Get("/", s.handleGetOrder)
			r.Post("/confirm", s.handleConfirm)
			r.Post("/cancel", s.handleCancel)
		})

		r.Post("/points/earn", s.handleEarnPoints)
		r.Route("/points/{memberID}", func(r chi.Router) {
			r.Get("/balance", s.handlePointBalance)
			r.Get("/history", s.handlePointHistory)
			r.Get("/stats", s.handlePointStats)
		})
	})

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Warn("failed to encode response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusForError(err), errorResponse{Error: err.Error()})
}

// statusForError переводит доменные ошибки в HTTP-статусы.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrMemberRequired),
		errors.Is(err, domain.ErrOrderIDRequired),
		errors.Is(err, domain.ErrAmountInvalid),
		errors.Is(err, domain.ErrLegsRequired),
		errors.Is(err, domain.ErrLegAmountMismatch),
		errors.Is(err, domain.ErrLotWindowInvalid),
		errors.Is(err, domain.ErrUnsupportedPaymentMethod),
		errors.Is(err, domain.ErrUnknownAcquirer),
		errors.Is(err, domain.ErrAuthDataRequired),
		errors.Is(err, domain.ErrOverCancellation),
		errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrPaymentLegNotFound),
		errors.Is(err, domain.ErrPointLotNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrOrderAlreadySettled),
		errors.Is(err, domain.ErrOrderNotCancelable),
		errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGatewayApprovalFailed),
		errors.Is(err, domain.ErrGatewayCancelFailed),
		errors.Is(err, domain.ErrNetCancelFailed),
		errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// actorFrom берёт актора из заголовка X-Actor; пустое значение превращается
// в "api" на границе сервиса.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "api"
}
