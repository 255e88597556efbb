package gateway

import (
	"errors"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

func TestSelector_PickDeterministic(t *testing.T) {
	weights := []Weight{
		{Acquirer: AcquirerInicis, Value: 70},
		{Acquirer: AcquirerNicepay, Value: 20},
		{Acquirer: AcquirerToss, Value: 10},
	}

	cases := []struct {
		roll int
		want string
	}{
		{roll: 0, want: AcquirerInicis},
		{roll: 69, want: AcquirerInicis},
		{roll: 70, want: AcquirerNicepay},
		{roll: 89, want: AcquirerNicepay},
		{roll: 90, want: AcquirerToss},
		{roll: 99, want: AcquirerToss},
	}

	for _, tc := range cases {
		roll := tc.roll
		s, err := NewSelector(weights, nil, WithRandSource(func(n int) int {
			if n != 100 {
				t.Fatalf("expected total weight 100, got %d", n)
			}
			return roll
		}))
		if err != nil {
			t.Fatalf("selector failed: %v", err)
		}
		if got := s.Pick(); got != tc.want {
			t.Fatalf("roll %d: expected %s, got %s", tc.roll, tc.want, got)
		}
	}
}

func TestSelector_SkipsZeroWeights(t *testing.T) {
	s, err := NewSelector([]Weight{
		{Acquirer: AcquirerInicis, Value: 0},
		{Acquirer: AcquirerNicepay, Value: 5},
	}, nil, WithRandSource(func(n int) int { return 0 }))
	if err != nil {
		t.Fatalf("selector failed: %v", err)
	}
	if got := s.Pick(); got != AcquirerNicepay {
		t.Fatalf("expected NICEPAY, got %s", got)
	}
}

func TestSelector_PickConcurrent(t *testing.T) {
	s, err := NewSelector([]Weight{
		{Acquirer: AcquirerInicis, Value: 60},
		{Acquirer: AcquirerNicepay, Value: 30},
		{Acquirer: AcquirerToss, Value: 10},
	}, nil)
	if err != nil {
		t.Fatalf("selector failed: %v", err)
	}

	known := map[string]bool{
		AcquirerInicis:  true,
		AcquirerNicepay: true,
		AcquirerToss:    true,
	}

	const (
		goroutines = 8
		picks      = 1000
	)

	var wg sync.WaitGroup
	errs := make(chan string, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < picks; i++ {
				if got := s.Pick(); !known[got] {
					select {
					case errs <- got:
					default:
					}
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	if got, ok := <-errs; ok {
		t.Fatalf("unexpected acquirer from concurrent pick: %s", got)
	}
}

func TestSelector_ZeroTotalWeight(t *testing.T) {
	if _, err := NewSelector([]Weight{{Acquirer: AcquirerInicis, Value: 0}}, nil); !errors.Is(err, domain.ErrZeroTotalWeight) {
		t.Fatalf("expected ErrZeroTotalWeight, got %v", err)
	}
	if _, err := NewSelector(nil, nil); !errors.Is(err, domain.ErrZeroTotalWeight) {
		t.Fatalf("expected ErrZeroTotalWeight for empty config, got %v", err)
	}
}

func TestRegistry_AdapterLookup(t *testing.T) {
	inicis := NewMockAdapter(AcquirerInicis)
	selector, err := NewSelector([]Weight{{Acquirer: AcquirerInicis, Value: 100}}, nil)
	if err != nil {
		t.Fatalf("selector failed: %v", err)
	}

	registry, err := NewRegistry([]domain.GatewayAdapter{inicis}, selector)
	if err != nil {
		t.Fatalf("registry failed: %v", err)
	}

	adapter, err := registry.Adapter(AcquirerInicis)
	if err != nil {
		t.Fatalf("adapter lookup failed: %v", err)
	}
	if adapter.Acquirer() != AcquirerInicis {
		t.Fatalf("unexpected adapter %s", adapter.Acquirer())
	}

	if _, err := registry.Adapter("UNKNOWN"); !errors.Is(err, domain.ErrUnknownAcquirer) {
		t.Fatalf("expected ErrUnknownAcquirer, got %v", err)
	}

	picked, err := registry.PickAdapter()
	if err != nil {
		t.Fatalf("pick failed: %v", err)
	}
	if picked.Acquirer() != AcquirerInicis {
		t.Fatalf("unexpected picked adapter %s", picked.Acquirer())
	}
}

func TestRegistry_RejectsWeightWithoutAdapter(t *testing.T) {
	selector, err := NewSelector([]Weight{{Acquirer: AcquirerToss, Value: 100}}, nil)
	if err != nil {
		t.Fatalf("selector failed: %v", err)
	}

	if _, err := NewRegistry([]domain.GatewayAdapter{NewMockAdapter(AcquirerInicis)}, selector); !errors.Is(err, domain.ErrUnknownAcquirer) {
		t.Fatalf("expected ErrUnknownAcquirer, got %v", err)
	}
}
