package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyTTL       = 24 * time.Hour

	maxRequestBody = 1 << 20 // 1 MiB
)

// withIdempotency оборачивает обработчик confirm-запроса: повтор с тем же
// ключом и тем же телом возвращает сохранённый ответ, повтор с другим телом
// отклоняется, параллельный повтор получает conflict. Ответ хранится как
// сериализованный JSON вместе с HTTP-статусом.
func (s *Server) withIdempotency(w http.ResponseWriter, r *http.Request, handler func(body []byte) (int, interface{})) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	if s.idem == nil {
		status, payload := handler(body)
		s.writeJSON(w, status, payload)
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key == "" {
		s.writeError(w, domain.ErrIdempotencyKeyRequired)
		return
	}

	hash := requestHash(r.Method, r.URL.Path, body)
	record, err := s.idem.CreateProcessing(key, hash, s.now().Add(idempotencyTTL))
	if err != nil {
		s.replayIdempotency(w, err, record)
		return
	}

	status, payload := handler(body)
	data, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		s.logger.WithError(marshalErr).WithField("idempotency_key", key).Warn("failed to encode idempotent response")
	}

	if status < http.StatusBadRequest {
		if err := s.idem.MarkDone(key, data, status); err != nil {
			s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
		}
	} else {
		if err := s.idem.MarkFailed(key, data, status); err != nil {
			s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent failure response")
		}
	}

	s.writeJSON(w, status, payload)
}

// replayIdempotency разруливает повторный запрос по уже известному ключу.
func (s *Server) replayIdempotency(w http.ResponseWriter, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "idempotency key is already used with different request payload"})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			s.replayStored(w, record)
		case domain.IdempotencyStatusProcessing:
			s.writeJSON(w, http.StatusConflict, errorResponse{Error: "request with the same idempotency key is already processing"})
		default:
			s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "unknown idempotency record status"})
		}
	case errors.Is(createErr, domain.ErrIdempotencyKeyRequired):
		s.writeError(w, createErr)
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to initialize idempotency request"})
	}
}

func (s *Server) replayStored(w http.ResponseWriter, record domain.IdempotencyRecord) {
	status := record.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		if _, err := w.Write(record.ResponseBody); err != nil {
			s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to replay cached response")
		}
	}
}

func requestHash(method, path string, body []byte) string {
	payload := make([]byte, 0, len(method)+len(path)+len(body)+2)
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, path...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
