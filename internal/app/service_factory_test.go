package app

import (
	"context"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/gateway"
)

func TestParseGatewayWeights(t *testing.T) {
	weights, err := parseGatewayWeights("INICIS=60, NICEPAY=40")
	if err != nil {
		t.Fatalf("parseGatewayWeights failed: %v", err)
	}
	if len(weights) != 2 {
		t.Fatalf("expected 2 weights, got %d", len(weights))
	}
	if weights[0].Acquirer != gateway.AcquirerInicis || weights[0].Value != 60 {
		t.Fatalf("unexpected first weight: %+v", weights[0])
	}
	if weights[1].Acquirer != gateway.AcquirerNicepay || weights[1].Value != 40 {
		t.Fatalf("unexpected second weight: %+v", weights[1])
	}
}

func TestParseGatewayWeights_Lowercase(t *testing.T) {
	weights, err := parseGatewayWeights("inicis=100")
	if err != nil {
		t.Fatalf("parseGatewayWeights failed: %v", err)
	}
	if weights[0].Acquirer != gateway.AcquirerInicis {
		t.Fatalf("expected uppercase acquirer code, got %s", weights[0].Acquirer)
	}
}

func TestParseGatewayWeights_Invalid(t *testing.T) {
	cases := []string{"", "INICIS", "INICIS=abc", "   ,  "}
	for _, spec := range cases {
		if _, err := parseGatewayWeights(spec); err == nil {
			t.Errorf("expected error for spec %q", spec)
		}
	}
}

func TestBuildGatewayRegistry_MockMode(t *testing.T) {
	cfg := DefaultConfig()
	logger := log.WithField("test", "gateway-registry")

	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}

	registry, err := buildGatewayRegistry(cfg, deps.gatewayLogRepo, logger)
	if err != nil {
		t.Fatalf("buildGatewayRegistry failed: %v", err)
	}
	if registry == nil {
		t.Fatal("registry should not be nil")
	}

	adapter, err := registry.PickAdapter()
	if err != nil {
		t.Fatalf("PickAdapter failed: %v", err)
	}
	code := adapter.Acquirer()
	if code != gateway.AcquirerInicis && code != gateway.AcquirerNicepay {
		t.Fatalf("unexpected acquirer: %s", code)
	}
}

func TestBuildGatewayRegistry_UnknownMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GatewayMode = "sandbox"
	logger := log.WithField("test", "gateway-mode")

	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}

	if _, err := buildGatewayRegistry(cfg, deps.gatewayLogRepo, logger); err == nil {
		t.Fatal("expected error for unknown gateway mode")
	}
}

func TestBuildGatewayRegistry_LiveModeUnknownAcquirer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GatewayMode = GatewayModeLive
	cfg.GatewayWeights = "KAKAOPAY=100"
	logger := log.WithField("test", "gateway-live")

	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}

	_, err = buildGatewayRegistry(cfg, deps.gatewayLogRepo, logger)
	if err == nil || !strings.Contains(err.Error(), "unknown acquirer") {
		t.Fatalf("expected unknown acquirer error, got %v", err)
	}
}

func TestBuildGatewayRegistry_LiveModeKnownAcquirers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GatewayMode = GatewayModeLive
	cfg.GatewayWeights = "INICIS=50,NICEPAY=30,TOSS=20"
	logger := log.WithField("test", "gateway-live-known")

	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}

	registry, err := buildGatewayRegistry(cfg, deps.gatewayLogRepo, logger)
	if err != nil {
		t.Fatalf("buildGatewayRegistry failed: %v", err)
	}

	for _, code := range []string{gateway.AcquirerInicis, gateway.AcquirerNicepay, gateway.AcquirerToss} {
		adapter, err := registry.Adapter(code)
		if err != nil {
			t.Fatalf("adapter %s missing: %v", code, err)
		}
		if adapter.Acquirer() != code {
			t.Fatalf("unexpected adapter code: %s", adapter.Acquirer())
		}
	}
}

func TestCreatePaymentService(t *testing.T) {
	cfg := DefaultConfig()
	logger := log.WithField("test", "payment-service")

	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}

	svc, registry, err := createPaymentService(deps, cfg, nil, logger)
	if err != nil {
		t.Fatalf("createPaymentService failed: %v", err)
	}
	if svc == nil {
		t.Fatal("service should not be nil")
	}
	if registry == nil {
		t.Fatal("gateway registry should not be nil")
	}
	if open := registry.OpenBreakers(); len(open) != 0 {
		t.Fatalf("no breakers should be open at startup: %v", open)
	}
}

func TestCreatePaymentService_BadWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GatewayWeights = "INICIS=0"
	logger := log.WithField("test", "payment-service-weights")

	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}

	if _, _, err := createPaymentService(deps, cfg, nil, logger); err == nil {
		t.Fatal("expected error for zero total weight")
	}
}
