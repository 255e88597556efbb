package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	idempotencyHeader = "Idempotency-Key"
	defaultAmount     = int64(10000)

	codeTransportError = "transport_error"
	codeBadPayload     = "bad_payload"
)

type loadMode string

const (
	modeInitiate              loadMode = "initiate"
	modeInitiateConfirm       loadMode = "initiate-confirm"
	modeInitiateConfirmCancel loadMode = "initiate-confirm-cancel"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	amountMinor int64
	productName string
	memberTag   string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

// record учитывает вызов; успехом считается двухсотый HTTP-статус.
func (c *collector) record(method string, latency time.Duration, code string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if success {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}

	codesCopy := make(map[string]int64, len(stats.codes))
	for code, count := range stats.codes {
		codesCopy[code] = count
	}

	return methodReport{
		Calls:     stats.calls,
		Success:   stats.success,
		Failed:    stats.failed,
		ErrorRate: ratio(stats.failed, stats.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(stats.latencies),
	}, true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	scenarioStats := c.methods["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string

	flag.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "API base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.IntVar(&cfg.connections, "connections", 20, "max idle HTTP connections per host")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeInitiate), "load mode: initiate | initiate-confirm | initiate-confirm-cancel")
	flag.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for initiate-confirm mode (0..100)")
	flag.Int64Var(&cfg.amountMinor, "amount-minor", defaultAmount, "order amount in minor units")
	flag.StringVar(&cfg.productName, "product", "loadtest item", "order product name")
	flag.StringVar(&cfg.memberTag, "member-tag", "load", "member id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return cfg, errors.New("addr is required")
	}
	if !strings.HasPrefix(cfg.baseURL, "http://") && !strings.HasPrefix(cfg.baseURL, "https://") {
		cfg.baseURL = "http://" + cfg.baseURL
	}

	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.connections <= 0 {
		return cfg, errors.New("connections must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.amountMinor <= 0 {
		return cfg, errors.New("amount-minor must be > 0")
	}
	if cfg.cancelRate < 0 || cfg.cancelRate > 100 {
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	}
	if strings.TrimSpace(cfg.productName) == "" {
		return cfg, errors.New("product is required")
	}
	if strings.TrimSpace(cfg.memberTag) == "" {
		return cfg, errors.New("member-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeInitiate:
		return modeInitiate, nil
	case modeInitiateConfirm:
		return modeInitiateConfirm, nil
	case modeInitiateConfirmCancel:
		return modeInitiateConfirmCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

// apiClient — минимальный HTTP-клиент платёжного API для нагрузочных сценариев.
type apiClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

func newAPIClient(cfg config) *apiClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.connections,
		MaxIdleConnsPerHost: cfg.connections,
		IdleConnTimeout:     90 * time.Second,
	}
	return &apiClient{
		baseURL: cfg.baseURL,
		http:    &http.Client{Transport: transport},
		timeout: cfg.timeout,
	}
}

type legPayload struct {
	Method      string `json:"method"`
	AmountMinor int64  `json:"amount_minor"`
}

type initiatePayload struct {
	MemberID    string       `json:"member_id"`
	AmountMinor int64        `json:"amount_minor"`
	ProductName string       `json:"product_name"`
	Legs        []legPayload `json:"legs"`
}

type orderPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type legResponsePayload struct {
	ID     string `json:"id"`
	Method string `json:"method"`
}

type initiateResult struct {
	Order orderPayload         `json:"order"`
	Legs  []legResponsePayload `json:"legs"`
}

type authPayload struct {
	LegID     string `json:"leg_id"`
	AuthToken string `json:"auth_token"`
}

type confirmPayload struct {
	Auths []authPayload `json:"auths"`
}

type cancelPayload struct {
	AmountMinor int64  `json:"amount_minor"`
	Reason      string `json:"reason"`
}

// do выполняет POST с JSON-телом и декодирует ответ в out (если out != nil).
func (c *apiClient) do(path, key string, payload, out interface{}) (string, bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return codeBadPayload, false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return codeBadPayload, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return codeTransportError, false, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	code := strconv.Itoa(resp.StatusCode)
	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !success {
		return code, false, fmt.Errorf("%s returned status %s", path, code)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return codeBadPayload, false, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return code, true, nil
}

func (c *apiClient) initiate(payload initiatePayload, col *collector) (initiateResult, error) {
	var result initiateResult
	start := time.Now()
	code, success, err := c.do("/v1/orders", "", payload, &result)
	col.record("InitiateOrder", time.Since(start), code, success)
	return result, err
}

func (c *apiClient) confirm(orderID, key string, payload confirmPayload, col *collector) error {
	start := time.Now()
	code, success, err := c.do("/v1/orders/"+orderID+"/confirm", key, payload, nil)
	col.record("ConfirmOrder", time.Since(start), code, success)
	return err
}

func (c *apiClient) cancel(orderID string, payload cancelPayload, col *collector) error {
	start := time.Now()
	code, success, err := c.do("/v1/orders/"+orderID+"/cancel", "", payload, nil)
	col.record("CancelOrder", time.Since(start), code, success)
	return err
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := newAPIClient(cfg)

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(client, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(client *apiClient, cfg config, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	scenarioOK := true
	scenarioCode := "200"
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioCode, scenarioOK)
	}()

	fail := func(err error) error {
		scenarioOK = false
		scenarioCode = codeTransportError
		if parts := strings.Fields(err.Error()); len(parts) > 0 {
			last := parts[len(parts)-1]
			if _, convErr := strconv.Atoi(last); convErr == nil {
				scenarioCode = last
			}
		}
		return err
	}

	initiated, err := client.initiate(initiatePayload{
		MemberID:    fmt.Sprintf("%s-%s-%d", cfg.memberTag, runID, index),
		AmountMinor: cfg.amountMinor,
		ProductName: cfg.productName,
		Legs: []legPayload{
			{Method: "CARD", AmountMinor: cfg.amountMinor},
		},
	}, col)
	if err != nil {
		return fail(err)
	}
	if initiated.Order.ID == "" {
		return fail(errors.New("initiate response returned empty order id"))
	}
	if len(initiated.Legs) == 0 {
		return fail(errors.New("initiate response returned no legs"))
	}

	if cfg.mode == modeInitiate {
		return nil
	}

	auths := make([]authPayload, 0, len(initiated.Legs))
	for _, leg := range initiated.Legs {
		auths = append(auths, authPayload{
			LegID:     leg.ID,
			AuthToken: fmt.Sprintf("lt-token-%s-%d", runID, index),
		})
	}

	confirmKey := fmt.Sprintf("lt-confirm-%s-%d", runID, index)
	if err := client.confirm(initiated.Order.ID, confirmKey, confirmPayload{Auths: auths}, col); err != nil {
		return fail(err)
	}

	if cfg.mode == modeInitiateConfirmCancel || (cfg.mode == modeInitiateConfirm && shouldCancelScenario(index, cfg.cancelRate)) {
		payload := cancelPayload{AmountMinor: 0, Reason: "load-cancel"}
		if err := client.cancel(initiated.Order.ID, payload, col); err != nil {
			return fail(err)
		}
	}

	return nil
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
