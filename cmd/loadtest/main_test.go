package main

import (
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func withCLIArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"loadtest"}, args...)
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flag.CommandLine = fs

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

// newPaymentAPIStub поднимает httptest-сервер с минимальным контрактом
// платёжного API: initiate, confirm и cancel.
func newPaymentAPIStub(t *testing.T) (*httptest.Server, *apiStubState) {
	t.Helper()

	state := &apiStubState{}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/orders", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&state.initiateCalls, 1)

		var payload initiatePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if payload.MemberID == "" {
			http.Error(w, "member_id is required", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(initiateResult{
			Order: orderPayload{ID: "20250918O00000001", Status: "received"},
			Legs:  []legResponsePayload{{ID: "20250918P00000001", Method: "CARD"}},
		})
	})

	mux.HandleFunc("POST /v1/orders/{orderID}/confirm", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&state.confirmCalls, 1)
		state.lastConfirmKey.Store(r.Header.Get(idempotencyHeader))

		var payload confirmPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(payload.Auths) == 0 || payload.Auths[0].AuthToken == "" {
			http.Error(w, "auth data is required", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]orderPayload{
			"order": {ID: r.PathValue("orderID"), Status: "completed"},
		})
	})

	mux.HandleFunc("POST /v1/orders/{orderID}/cancel", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&state.cancelCalls, 1)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]orderPayload{
			"order": {ID: r.PathValue("orderID"), Status: "cancelled"},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, state
}

type apiStubState struct {
	initiateCalls  int64
	confirmCalls   int64
	cancelCalls    int64
	lastConfirmKey atomic.Value
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    loadMode
		wantErr string
	}{
		{name: "initiate", input: "initiate", want: modeInitiate},
		{name: "initiate-confirm", input: "initiate-confirm", want: modeInitiateConfirm},
		{name: "initiate-confirm-cancel", input: "initiate-confirm-cancel", want: modeInitiateConfirmCancel},
		{name: "unsupported", input: "bad", wantErr: "unsupported mode"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseMode(tc.input)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected mode: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		withCLIArgs(t, []string{
			"-addr=http://127.0.0.1:8080",
			"-mode=initiate-confirm",
			"-total=12",
			"-concurrency=3",
			"-connections=2",
			"-timeout=2s",
			"-cancel-rate=10",
			"-amount-minor=99",
			"-product=stage item",
			"-member-tag=stage",
			"-output=/tmp/out.json",
		}, func() {
			cfg, err := parseConfig()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !cfg.totalSet {
				t.Fatalf("expected totalSet=true")
			}
			if cfg.duration != 0 {
				t.Fatalf("expected zero duration, got %s", cfg.duration)
			}
			if cfg.mode != modeInitiateConfirm {
				t.Fatalf("unexpected mode: %s", cfg.mode)
			}
			if cfg.total != 12 || cfg.concurrency != 3 || cfg.connections != 2 {
				t.Fatalf("unexpected numeric config: %+v", cfg)
			}
			if cfg.timeout != 2*time.Second {
				t.Fatalf("unexpected timeout: %s", cfg.timeout)
			}
			if cfg.baseURL != "http://127.0.0.1:8080" {
				t.Fatalf("unexpected base url: %s", cfg.baseURL)
			}
		})
	})

	t.Run("addr without scheme and trailing slash", func(t *testing.T) {
		withCLIArgs(t, []string{"-addr=localhost:8080/"}, func() {
			cfg, err := parseConfig()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.baseURL != "http://localhost:8080" {
				t.Fatalf("unexpected base url: %s", cfg.baseURL)
			}
		})
	})

	t.Run("duration mode", func(t *testing.T) {
		withCLIArgs(t, []string{
			"-duration=3s",
			"-concurrency=2",
			"-connections=1",
		}, func() {
			cfg, err := parseConfig()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.duration != 3*time.Second {
				t.Fatalf("unexpected duration: %s", cfg.duration)
			}
			if cfg.totalSet {
				t.Fatalf("expected totalSet=false when -total was not provided")
			}
		})
	})

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			name    string
			args    []string
			wantErr string
		}{
			{name: "invalid duration", args: []string{"-duration=bad"}, wantErr: "parse duration"},
			{name: "negative duration", args: []string{"-duration=-1s"}, wantErr: "duration must be >= 0"},
			{name: "invalid cancel rate", args: []string{"-cancel-rate=101"}, wantErr: "cancel-rate must be between 0 and 100"},
			{name: "empty total", args: []string{"-duration=0s", "-total=0"}, wantErr: "total must be > 0"},
			{name: "empty member tag", args: []string{"-member-tag= "}, wantErr: "member-tag is required"},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				withCLIArgs(t, tc.args, func() {
					_, err := parseConfig()
					if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
						t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
					}
				})
			})
		}
	})
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{total: 5})

		var got []int
		for v := range jobs {
			got = append(got, v)
		}
		if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
			t.Fatalf("unexpected jobs sequence: %v", got)
		}
	})

	t.Run("duration mode", func(t *testing.T) {
		jobs := make(chan int, 32)
		done := make(chan struct{})
		go func() {
			dispatchJobs(jobs, config{duration: 20 * time.Millisecond})
			close(done)
		}()

		count := 0
		for range jobs {
			count++
		}
		<-done
		if count == 0 {
			t.Fatalf("expected non-zero jobs for duration mode")
		}
	})

	t.Run("duration with explicit max total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{duration: time.Second, total: 3, totalSet: true})
		count := 0
		for range jobs {
			count++
		}
		if count != 3 {
			t.Fatalf("expected 3 jobs, got %d", count)
		}
	})
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record("scenario", 10*time.Millisecond, "200", true)
	c.record("scenario", 20*time.Millisecond, "502", false)
	c.record("InitiateOrder", 15*time.Millisecond, "201", true)

	snap, ok := c.snapshot("scenario")
	if !ok {
		t.Fatalf("scenario snapshot missing")
	}
	if snap.Calls != 2 || snap.Success != 1 || snap.Failed != 1 {
		t.Fatalf("unexpected scenario snapshot: %+v", snap)
	}
	if snap.Codes["200"] != 1 || snap.Codes["502"] != 1 {
		t.Fatalf("unexpected codes: %+v", snap.Codes)
	}

	r := c.buildReport(time.Now(), 2*time.Second)
	if r.TotalScenarios != 2 || r.FailedScenarios != 1 {
		t.Fatalf("unexpected report totals: %+v", r)
	}
	if r.RPS <= 0 {
		t.Fatalf("expected positive rps, got %f", r.RPS)
	}
	if _, ok := r.Methods["InitiateOrder"]; !ok {
		t.Fatalf("expected InitiateOrder stats in report")
	}
}

func TestUtilityFunctions(t *testing.T) {
	if got := ratio(1, 4); got != 0.25 {
		t.Fatalf("ratio mismatch: %f", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Fatalf("ratio with zero total must be 0, got %f", got)
	}

	values := []float64{10, 20, 30, 40}
	summary := buildLatencySummary(values)
	if summary.P50 <= 0 || summary.P95 <= 0 || summary.Max != 40 {
		t.Fatalf("unexpected latency summary: %+v", summary)
	}
	if p := percentile(values, 95); p <= 0 {
		t.Fatalf("unexpected percentile: %f", p)
	}

	if got := runTarget(config{total: 50}); got != "count:50" {
		t.Fatalf("unexpected run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second}); got != "duration:2s" {
		t.Fatalf("unexpected duration run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second, total: 10, totalSet: true}); got != "duration:2s,max-total:10" {
		t.Fatalf("unexpected capped duration run target: %s", got)
	}

	if shouldCancelScenario(5, 0) {
		t.Fatal("cancel rate 0 must never cancel")
	}
	if !shouldCancelScenario(5, 100) {
		t.Fatal("cancel rate 100 must always cancel")
	}
	if !shouldCancelScenario(9, 10) || shouldCancelScenario(10, 10) {
		t.Fatal("cancel rate 10 must cancel exactly indexes 0..9 of each hundred")
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	sample := report{TotalScenarios: 2, SuccessScenarios: 2}
	if err := writeJSONReport(path, sample); err != nil {
		t.Fatalf("writeJSONReport error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}

	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 2 || decoded.SuccessScenarios != 2 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}
}

func TestAPIClientAndRunScenario(t *testing.T) {
	server, state := newPaymentAPIStub(t)

	runCfg := config{
		baseURL:     server.URL,
		mode:        modeInitiateConfirmCancel,
		timeout:     time.Second,
		connections: 2,
		amountMinor: 100,
		productName: "loadtest item",
		memberTag:   "load",
	}
	client := newAPIClient(runCfg)
	c := newCollector()

	if err := runScenario(client, runCfg, 1, "run-1", c); err != nil {
		t.Fatalf("runScenario failed: %v", err)
	}

	if got := atomic.LoadInt64(&state.initiateCalls); got != 1 {
		t.Fatalf("expected 1 initiate call, got %d", got)
	}
	if got := atomic.LoadInt64(&state.confirmCalls); got != 1 {
		t.Fatalf("expected 1 confirm call, got %d", got)
	}
	if got := atomic.LoadInt64(&state.cancelCalls); got != 1 {
		t.Fatalf("expected 1 cancel call, got %d", got)
	}

	key, _ := state.lastConfirmKey.Load().(string)
	if !strings.HasPrefix(key, "lt-confirm-run-1-1") {
		t.Fatalf("unexpected confirm idempotency key: %q", key)
	}

	for _, method := range []string{"InitiateOrder", "ConfirmOrder", "CancelOrder", "scenario"} {
		snap, ok := c.snapshot(method)
		if !ok || snap.Calls == 0 {
			t.Fatalf("%s metric missing", method)
		}
		if snap.Failed != 0 {
			t.Fatalf("%s unexpectedly failed: %+v", method, snap)
		}
	}

	initiateOnly := runCfg
	initiateOnly.mode = modeInitiate
	if err := runScenario(client, initiateOnly, 2, "run-2", c); err != nil {
		t.Fatalf("initiate-only scenario failed: %v", err)
	}
	if got := atomic.LoadInt64(&state.confirmCalls); got != 1 {
		t.Fatalf("initiate-only mode must not confirm, got %d confirm calls", got)
	}
}

func TestRunScenario_ServerErrors(t *testing.T) {
	t.Run("http error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		cfg := config{
			baseURL:     server.URL,
			mode:        modeInitiate,
			timeout:     time.Second,
			connections: 1,
			amountMinor: 100,
			productName: "loadtest item",
			memberTag:   "load",
		}
		c := newCollector()

		err := runScenario(newAPIClient(cfg), cfg, 1, "run-err", c)
		if err == nil || !strings.Contains(err.Error(), "returned status 500") {
			t.Fatalf("expected status 500 error, got %v", err)
		}

		snap, ok := c.snapshot("scenario")
		if !ok || snap.Failed != 1 || snap.Codes["500"] != 1 {
			t.Fatalf("unexpected scenario stats: %+v", snap)
		}
	})

	t.Run("empty order id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"order":{"id":""},"legs":[]}`))
		}))
		defer server.Close()

		cfg := config{
			baseURL:     server.URL,
			mode:        modeInitiate,
			timeout:     time.Second,
			connections: 1,
			amountMinor: 100,
			productName: "loadtest item",
			memberTag:   "load",
		}

		err := runScenario(newAPIClient(cfg), cfg, 1, "run-empty", newCollector())
		if err == nil || !strings.Contains(err.Error(), "empty order id") {
			t.Fatalf("expected empty id error, got %v", err)
		}
	})

	t.Run("transport error", func(t *testing.T) {
		cfg := config{
			baseURL:     "http://127.0.0.1:1",
			mode:        modeInitiate,
			timeout:     200 * time.Millisecond,
			connections: 1,
			amountMinor: 100,
			productName: "loadtest item",
			memberTag:   "load",
		}
		c := newCollector()

		if err := runScenario(newAPIClient(cfg), cfg, 1, "run-down", c); err == nil {
			t.Fatal("expected transport error")
		}
		snap, ok := c.snapshot("InitiateOrder")
		if !ok || snap.Codes[codeTransportError] != 1 {
			t.Fatalf("expected transport error code, got %+v", snap)
		}
	})
}

func TestPrintReport(t *testing.T) {
	r := report{
		TotalScenarios:   2,
		SuccessScenarios: 2,
		Methods: map[string]methodReport{
			"scenario":      {Calls: 2, Success: 2},
			"InitiateOrder": {Calls: 2, Success: 2},
		},
	}

	out := captureStdout(t, func() {
		printReport(r, config{mode: modeInitiate, total: 2})
	})

	if !strings.Contains(out, "Load test summary") {
		t.Fatalf("expected summary header, got: %s", out)
	}
	if !strings.Contains(out, "InitiateOrder") {
		t.Fatalf("expected method section, got: %s", out)
	}
}

func TestMainSmoke(t *testing.T) {
	server, state := newPaymentAPIStub(t)

	dir := t.TempDir()
	outPath := filepath.Join(dir, "main-report.json")

	withCLIArgs(t, []string{
		"-addr=" + server.URL,
		"-mode=initiate",
		"-total=5",
		"-concurrency=2",
		"-connections=1",
		"-timeout=2s",
		"-output=" + outPath,
	}, func() {
		main()
	})

	if got := atomic.LoadInt64(&state.initiateCalls); got != 5 {
		t.Fatalf("expected 5 initiate calls, got %d", got)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("expected report file from main: %v", err)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	fn()

	_ = w.Close()
	os.Stdout = oldStdout

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read captured output: %v", err)
	}
	_ = r.Close()

	return string(data)
}
