package postgres

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

func TestGatewayLogRepository_Postgres(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewGatewayLogRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)

	approve := domain.GatewayRequestLog{
		ID:           "glog-1",
		PaymentRef:   "20250918P00000001",
		Acquirer:     "INICIS",
		Kind:         domain.GatewayLogApprove,
		RequestBody:  `{"authToken":"tok"}`,
		ResponseBody: `{"resultCode":"0000"}`,
		CreatedAt:    now.Add(-time.Minute),
	}
	netCancel := domain.GatewayRequestLog{
		ID:           "glog-2",
		PaymentRef:   "20250918P00000001",
		Acquirer:     "INICIS",
		Kind:         domain.GatewayLogNetCancel,
		RequestBody:  `{"tid":"tx-1"}`,
		ResponseBody: `{"resultCode":"0000"}`,
		CreatedAt:    now,
	}
	other := domain.GatewayRequestLog{
		ID:           "glog-3",
		PaymentRef:   "20250918P00000099",
		Acquirer:     "NICEPAY",
		Kind:         domain.GatewayLogCancel,
		RequestBody:  `{}`,
		ResponseBody: `{}`,
		CreatedAt:    now,
	}

	for _, entry := range []domain.GatewayRequestLog{approve, netCancel, other} {
		if err := repo.Insert(entry); err != nil {
			t.Fatalf("insert gateway log %s: %v", entry.ID, err)
		}
	}

	entries, err := repo.ListByPaymentRef("20250918P00000001")
	if err != nil {
		t.Fatalf("list by payment ref: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != domain.GatewayLogApprove || entries[1].Kind != domain.GatewayLogNetCancel {
		t.Fatalf("unexpected entry ordering: %s, %s", entries[0].Kind, entries[1].Kind)
	}

	none, err := repo.ListByPaymentRef("unknown-ref")
	if err != nil {
		t.Fatalf("list by unknown ref: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no entries, got %d", len(none))
	}
}
