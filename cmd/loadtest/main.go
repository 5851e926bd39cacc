package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/checkout/internal/service/grpc"
)

type loadMode string

const (
	modePlace       loadMode = "place"
	modePlaceGet    loadMode = "place-get"
	modePlaceReplay loadMode = "place-replay"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	customerID  string
	lines       []domain.OrderLineRequest
	outputPath  string
}

func parseConfig(args []string, output io.Writer) (config, error) {
	var (
		cfg       config
		modeValue string
		linesRaw  string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modePlace), "load mode: place | place-get | place-replay")
	fs.StringVar(&cfg.customerID, "customer", "C1", "customer id for placed orders")
	fs.StringVar(&linesRaw, "lines", "P1:1", "order lines as product:quantity,product:quantity")
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

	lines, err := parseLines(linesRaw)
	if err != nil {
		return cfg, err
	}
	cfg.lines = lines

	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case strings.TrimSpace(cfg.customerID) == "":
		return cfg, errors.New("customer is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modePlace, modePlaceGet, modePlaceReplay:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

// parseLines разбирает "P1:2,P2:1". Количество по умолчанию - 1.
func parseLines(raw string) ([]domain.OrderLineRequest, error) {
	var lines []domain.OrderLineRequest
	for _, chunk := range strings.Split(raw, ",") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		productID, qtyRaw, hasQty := strings.Cut(chunk, ":")
		productID = strings.TrimSpace(productID)
		if productID == "" {
			return nil, fmt.Errorf("line %q: product id is required", chunk)
		}
		qty := int64(1)
		if hasQty {
			parsed, err := strconv.ParseInt(strings.TrimSpace(qtyRaw), 10, 64)
			if err != nil || parsed <= 0 {
				return nil, fmt.Errorf("line %q: quantity must be a positive integer", chunk)
			}
			qty = parsed
		}
		lines = append(lines, domain.OrderLineRequest{ProductID: productID, Quantity: qty})
	}
	if len(lines) == 0 {
		return nil, errors.New("at least one line is required")
	}
	return lines, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]grpcsvc.OrderServiceClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, grpcsvc.NewOrderServiceClient(conn))
	}
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	result := runLoad(cfg, clients)

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

// runLoad распределяет сценарии по воркерам и возвращает итоговый отчёт.
func runLoad(cfg config, clients []grpcsvc.OrderServiceClient) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func(cli grpcsvc.OrderServiceClient) {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(cli, cfg, id, runID, col)
			}
		}(clients[workerID%len(clients)])
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
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

func runScenario(client grpcsvc.OrderServiceClient, cfg config, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	scenarioCode := codes.OK
	defer func() {
		col.record(scenarioMethod, time.Since(scenarioStart), scenarioCode)
	}()

	key := fmt.Sprintf("lt-place-%s-%d", runID, index)
	order, err := callPlaceOrder(client, cfg, key, col)
	if err != nil {
		scenarioCode = grpcCode(err)
		return err
	}

	switch cfg.mode {
	case modePlaceGet:
		if err := callGetOrder(client, cfg.timeout, order.ID, col); err != nil {
			scenarioCode = grpcCode(err)
			return err
		}
	case modePlaceReplay:
		replayed, err := callPlaceOrder(client, cfg, key, col)
		if err != nil {
			scenarioCode = grpcCode(err)
			return err
		}
		if replayed.ID != order.ID {
			scenarioCode = codes.Internal
			return fmt.Errorf("replay returned order %s, expected %s", replayed.ID, order.ID)
		}
	}

	return nil
}

func callPlaceOrder(client grpcsvc.OrderServiceClient, cfg config, key string, col *collector) (domain.Order, error) {
	req, err := grpcsvc.NewPlaceOrderRequest(cfg.customerID, cfg.lines)
	if err != nil {
		return domain.Order{}, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, grpcsvc.IdempotencyKeyHeader, key)

	resp, err := client.PlaceOrder(ctx, req)
	col.record("PlaceOrder", time.Since(start), grpcCode(err))
	if err != nil {
		return domain.Order{}, err
	}

	order, err := grpcsvc.DecodeOrder(resp)
	if err != nil {
		return domain.Order{}, status.Error(codes.Internal, err.Error())
	}
	if order.ID == "" {
		return domain.Order{}, status.Error(codes.Internal, "place response returned empty order id")
	}
	return order, nil
}

func callGetOrder(client grpcsvc.OrderServiceClient, timeout time.Duration, orderID string, col *collector) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := client.GetOrder(ctx, grpcsvc.NewGetOrderRequest(orderID))
	col.record("GetOrder", time.Since(start), grpcCode(err))
	return err
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}
