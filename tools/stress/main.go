// Command stress load-tests a running mlarrays server with ping
// requests and reports throughput and latency.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mvanberg/mlarrays/server"
)

// Config holds configuration for the stress run.
type Config struct {
	Address     string
	Concurrency int
	Duration    time.Duration
	AuthToken   string
	ReportFile  string
}

// Result holds the outcome of a stress run.
type Result struct {
	TotalRequests  int64
	SuccessfulReqs int64
	FailedReqs     int64
	TotalDuration  time.Duration
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	RequestsPerSec float64
}

func main() {
	config := parseFlags()

	fmt.Println("=== mlarrays server stress test ===")
	fmt.Printf("Target: %s\n", config.Address)
	fmt.Printf("Concurrency: %d workers\n", config.Concurrency)
	fmt.Printf("Duration: %v\n", config.Duration)
	fmt.Println()

	result := run(config)
	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() Config {
	config := Config{}

	flag.StringVar(&config.Address, "addr", "127.0.0.1:7341", "server address")
	flag.IntVar(&config.Concurrency, "c", 10, "number of concurrent workers")
	flag.DurationVar(&config.Duration, "d", 30*time.Second, "duration of the run")
	flag.StringVar(&config.AuthToken, "token", "", "auth token")
	flag.StringVar(&config.ReportFile, "o", "", "output report file (JSON)")

	flag.Parse()
	return config
}

func run(config Config) Result {
	var (
		totalReqs    int64
		successReqs  int64
		failedReqs   int64
		totalLatency int64
		minLatency   int64 = 1<<63 - 1
		maxLatency   int64
		wg           sync.WaitGroup
		stopChan     = make(chan struct{})
	)

	startTime := time.Now()

	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(config, stopChan, &totalReqs, &successReqs, &failedReqs, &totalLatency, &minLatency, &maxLatency)
		}()
	}

	time.Sleep(config.Duration)
	close(stopChan)
	wg.Wait()

	duration := time.Since(startTime)
	total := atomic.LoadInt64(&totalReqs)
	success := atomic.LoadInt64(&successReqs)
	failed := atomic.LoadInt64(&failedReqs)
	latencySum := atomic.LoadInt64(&totalLatency)

	var avgLatency time.Duration
	if success > 0 {
		avgLatency = time.Duration(latencySum / success)
	}

	return Result{
		TotalRequests:  total,
		SuccessfulReqs: success,
		FailedReqs:     failed,
		TotalDuration:  duration,
		AvgLatency:     avgLatency,
		MinLatency:     time.Duration(atomic.LoadInt64(&minLatency)),
		MaxLatency:     time.Duration(atomic.LoadInt64(&maxLatency)),
		RequestsPerSec: float64(total) / duration.Seconds(),
	}
}

// worker hammers the server with ping requests over one connection,
// reconnecting on failure, until stopped.
func worker(config Config, stop chan struct{}, totalReqs, successReqs, failedReqs, totalLatency, minLatency, maxLatency *int64) {
	var conn net.Conn

	for {
		select {
		case <-stop:
			if conn != nil {
				conn.Close()
			}
			return
		default:
		}

		if conn == nil {
			var err error
			conn, err = net.DialTimeout("tcp", config.Address, 5*time.Second)
			if err != nil {
				atomic.AddInt64(totalReqs, 1)
				atomic.AddInt64(failedReqs, 1)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}

		latency, err := ping(conn, config.AuthToken)
		atomic.AddInt64(totalReqs, 1)

		if err != nil {
			atomic.AddInt64(failedReqs, 1)
			conn.Close()
			conn = nil
			time.Sleep(10 * time.Millisecond)
			continue
		}

		atomic.AddInt64(successReqs, 1)
		atomic.AddInt64(totalLatency, int64(latency))

		lat := int64(latency)
		for {
			old := atomic.LoadInt64(minLatency)
			if lat >= old || atomic.CompareAndSwapInt64(minLatency, old, lat) {
				break
			}
		}
		for {
			old := atomic.LoadInt64(maxLatency)
			if lat <= old || atomic.CompareAndSwapInt64(maxLatency, old, lat) {
				break
			}
		}
	}
}

// ping sends one ping request and waits for its response.
func ping(conn net.Conn, token string) (time.Duration, error) {
	if err := conn.SetDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return 0, err
	}

	envelope, err := server.EncodeRequest(&server.Request{Op: server.OpPing, Token: token})
	if err != nil {
		return 0, err
	}

	start := time.Now()
	if err := server.WriteFrame(conn, envelope); err != nil {
		return 0, err
	}

	data, err := server.ReadFrame(conn)
	if err != nil {
		return 0, err
	}
	latency := time.Since(start)

	resp, err := server.DecodeResponse(data)
	if err != nil {
		return 0, err
	}
	if resp.Status != "ok" {
		return 0, fmt.Errorf("server error: %s", resp.Error)
	}
	return latency, nil
}

func printResults(result Result) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Requests:  %d\n", result.TotalRequests)
	fmt.Printf("Successful:      %d (%.2f%%)\n", result.SuccessfulReqs, float64(result.SuccessfulReqs)/float64(result.TotalRequests)*100)
	fmt.Printf("Failed:          %d (%.2f%%)\n", result.FailedReqs, float64(result.FailedReqs)/float64(result.TotalRequests)*100)
	fmt.Printf("Requests/sec:    %.2f\n", result.RequestsPerSec)
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))
}

func saveReport(config Config, result Result) {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"address":     config.Address,
			"concurrency": config.Concurrency,
			"duration":    config.Duration.String(),
		},
		"results": map[string]interface{}{
			"total_requests":   result.TotalRequests,
			"successful":       result.SuccessfulReqs,
			"failed":           result.FailedReqs,
			"requests_per_sec": result.RequestsPerSec,
			"avg_latency_ms":   float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":   float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":   float64(result.MaxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
