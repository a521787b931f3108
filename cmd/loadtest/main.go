// Команда loadtest нагружает HTTP API кассы и печатает сводку по латентности.
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

	"github.com/vladislavdragonenkov/pos/internal/httpapi"
)

const (
	idempotencyHeader = httpapi.IdempotencyKeyHeader
	secretEnv         = "POS_JWT_SECRET"
	statusTransport   = "transport_error"
)

type loadMode string

const (
	// modeBrowse читает сессию, каталог и корзину.
	modeBrowse loadMode = "browse"
	// modeDashboard запрашивает дашборд за последние дни.
	modeDashboard loadMode = "dashboard"
	// modeCheckout кладёт товар в отдельную корзину и проводит продажу.
	modeCheckout loadMode = "checkout"
)

type config struct {
	baseURL     string
	token       string
	secret      string
	role        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	productID   int64
	method      string
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

type routeReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time              `json:"started_at"`
	DurationSeconds   float64                `json:"duration_seconds"`
	TotalScenarios    int64                  `json:"total_scenarios"`
	SuccessScenarios  int64                  `json:"success_scenarios"`
	FailedScenarios   int64                  `json:"failed_scenarios"`
	ErrorRate         float64                `json:"error_rate"`
	RPS               float64                `json:"rps"`
	ScenarioLatencyMs latencySummary         `json:"scenario_latency_ms"`
	Routes            map[string]routeReport `json:"routes"`
}

type routeStats struct {
	calls     int64
	success   int64
	failed    int64
	statuses  map[string]int64
	latencies []float64
}

type collector struct {
	mu     sync.Mutex
	routes map[string]*routeStats
}

func newCollector() *collector {
	return &collector{routes: make(map[string]*routeStats)}
}

// record учитывает один вызов. status 0 означает ошибку транспорта.
func (c *collector) record(route string, latency time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.routes[route]
	if !ok {
		stats = &routeStats{statuses: make(map[string]int64)}
		c.routes[route] = stats
	}

	stats.calls++
	if status >= 200 && status < 300 {
		stats.success++
	} else {
		stats.failed++
	}
	stats.statuses[statusLabel(status)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Routes:          make(map[string]routeReport, len(c.routes)),
	}

	if scenario := c.routes["scenario"]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.SuccessScenarios = scenario.success
		result.FailedScenarios = scenario.failed
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenario.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.routes {
		statuses := make(map[string]int64, len(stats.statuses))
		for code, count := range stats.statuses {
			statuses[code] = count
		}
		result.Routes[name] = routeReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Statuses:  statuses,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}
	return result
}

func statusLabel(status int) string {
	if status == 0 {
		return statusTransport
	}
	return strconv.Itoa(status)
}

func parseConfig(args []string, lookup func(string) string) (config, error) {
	var (
		cfg       config
		modeValue string
	)
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "pos-service base URL")
	fs.StringVar(&cfg.token, "token", "", "bearer token; issued from -secret when empty")
	fs.StringVar(&cfg.secret, "secret", "", "HS256 secret for a generated token (fallback: "+secretEnv+")")
	fs.StringVar(&cfg.role, "role", httpapi.RoleShopManager, "role of the generated token")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeBrowse), "load mode: browse | dashboard | checkout")
	fs.Int64Var(&cfg.productID, "product-id", 1, "product added to the cart in checkout mode")
	fs.StringVar(&cfg.method, "payment-method", "cash", "payment method in checkout mode")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
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
	if strings.TrimSpace(cfg.secret) == "" {
		cfg.secret = lookup(secretEnv)
	}

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("url is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.token == "" && strings.TrimSpace(cfg.secret) == "":
		return cfg, fmt.Errorf("either -token or -secret (%s) is required", secretEnv)
	case !httpapi.KnownRole(cfg.role):
		return cfg, fmt.Errorf("unknown role %q", cfg.role)
	}
	// Кассовая сессия одна на процесс: параллельные продажи перемешали бы корзины.
	if cfg.mode == modeCheckout {
		if cfg.concurrency != 1 {
			return cfg, errors.New("checkout mode requires -concurrency=1")
		}
		if cfg.productID <= 0 {
			return cfg, errors.New("product-id must be > 0")
		}
		if strings.TrimSpace(cfg.method) == "" {
			return cfg, errors.New("payment-method is required")
		}
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeBrowse:
		return modeBrowse, nil
	case modeDashboard:
		return modeDashboard, nil
	case modeCheckout:
		return modeCheckout, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

// bearerToken возвращает -token или выпускает токен на час.
func bearerToken(cfg config) (string, error) {
	if cfg.token != "" {
		return cfg.token, nil
	}
	auth, err := httpapi.NewAuthenticator(cfg.secret)
	if err != nil {
		return "", err
	}
	return auth.Issue("loadtest", cfg.role, time.Hour)
}

type apiClient struct {
	http    *http.Client
	baseURL string
	token   string
	timeout time.Duration
	col     *collector
}

// call выполняет запрос и учитывает его под именем route. Тело ответа
// вычитывается целиком, чтобы соединение вернулось в пул.
func (c *apiClient) call(route, method, path string, body any, headers map[string]string) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.col.record(route, time.Since(start), 0)
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	c.col.record(route, time.Since(start), resp.StatusCode)

	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func runScenario(client *apiClient, cfg config, index int, runID string) error {
	scenarioStart := time.Now()
	status := http.StatusOK
	defer func() {
		client.col.record("scenario", time.Since(scenarioStart), status)
	}()

	fail := func(code int, callErr error) error {
		status = code
		if status == 0 || status < 300 {
			status = http.StatusInternalServerError
		}
		return callErr
	}

	switch cfg.mode {
	case modeBrowse:
		for _, step := range []struct{ route, path string }{
			{"GET /session", "/api/v1/session"},
			{"GET /products", "/api/v1/products"},
			{"GET /cart", "/api/v1/cart"},
		} {
			if code, callErr := client.call(step.route, http.MethodGet, step.path, nil, nil); callErr != nil {
				return fail(code, callErr)
			}
		}
	case modeDashboard:
		if code, callErr := client.call("GET /dashboard", http.MethodGet, "/api/v1/dashboard", nil, nil); callErr != nil {
			return fail(code, callErr)
		}
	case modeCheckout:
		cartID := fmt.Sprintf("lt-%s-%d", runID, index)
		steps := []struct {
			route, method, path string
			body                any
			headers             map[string]string
		}{
			{"PUT /session/active-cart", http.MethodPut, "/api/v1/session/active-cart", map[string]string{"cart_id": cartID}, nil},
			{"POST /cart/items", http.MethodPost, "/api/v1/cart/items", map[string]int64{"product_id": cfg.productID}, nil},
			{"PUT /cart/payment-method", http.MethodPut, "/api/v1/cart/payment-method", map[string]string{"method": cfg.method}, nil},
			{"POST /cart/submit", http.MethodPost, "/api/v1/cart/submit", nil, map[string]string{idempotencyHeader: "lt-submit-" + cartID}},
		}
		for _, step := range steps {
			if code, callErr := client.call(step.route, step.method, step.path, step.body, step.headers); callErr != nil {
				return fail(code, callErr)
			}
		}
	}
	return nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	token, err := bearerToken(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		os.Exit(1)
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	client := &apiClient{
		http: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency,
			MaxIdleConnsPerHost: cfg.concurrency,
		}},
		baseURL: cfg.baseURL,
		token:   token,
		timeout: cfg.timeout,
		col:     newCollector(),
	}

	result := execute(client, cfg, runID, startedAt)
	printReport(os.Stdout, result, cfg)
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

func execute(client *apiClient, cfg config, runID string, startedAt time.Time) report {
	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(client, cfg, id, runID); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := client.col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result
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

func printReport(out io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(out, "Load test summary")
	_, _ = fmt.Fprintf(out, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg),
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate,
	)
	_, _ = fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	names := make([]string, 0, len(result.Routes))
	for name := range result.Routes {
		if name != "scenario" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Routes[name]
		_, _ = fmt.Fprintf(out, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95,
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
