// Backtest tool for replaying historical loan screening data through Kestrel.
//
// Usage:
//
//	go run ./cmd/backtest -csv /path/to/loan_screening.csv -url http://localhost:8080
//
// This tool:
//  1. Reads a Loan_Screening_Model CSV export (with default_status labels)
//  2. Sends each application to POST /assessments
//  3. Compares the final decision (and the raw model output) with the label
//  4. Prints the confusion matrix, precision, recall, F1, accuracy and override rate
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var errRejected = errors.New("application rejected")

var (
	okColor      = color.New(color.FgGreen)
	missColor    = color.New(color.FgRed, color.Bold)
	headingColor = color.New(color.FgCyan, color.Bold)
)

// client posts applications to a running Kestrel.
type client struct {
	http     *http.Client
	baseURL  string
	tenantID string
	username string
	password string
}

func main() {
	csvPath := flag.String("csv", "", "Path to Loan_Screening_Model CSV export")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "backtest", "Tenant ID for requests")
	username := flag.String("user", "", "Credit officer username (when auth is enabled)")
	password := flag.String("password", "", "Credit officer password")
	limit := flag.Int("limit", 0, "Maximum applications to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each application result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: backtest -csv /path/to/loan_screening.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *workers < 1 {
		*workers = 1
	}

	fmt.Println("=================================================================")
	fmt.Println("          KESTREL BACKTEST - Loan Screening Replay")
	fmt.Println("=================================================================")
	fmt.Printf("\nCSV File:     %s\n", *csvPath)
	fmt.Printf("Kestrel URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:    %s\n", *tenantID)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Println()

	c := &client{
		http:     &http.Client{Timeout: 10 * time.Second},
		baseURL:  strings.TrimRight(*baseURL, "/"),
		tenantID: *tenantID,
		username: *username,
		password: *password,
	}

	if err := c.checkHealth(); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	okColor.Println("Kestrel is healthy")

	apps, skipped, err := readApplicationsFile(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d applications (%d malformed rows skipped)\n", len(apps), skipped)
	if len(apps) == 0 {
		os.Exit(1)
	}

	fmt.Printf("\nRunning backtest with %d workers...\n", *workers)
	start := time.Now()
	metrics := runBacktest(c, apps, *workers, *verbose)
	printResults(metrics, time.Since(start))
}

func (c *client) checkHealth() error {
	resp, err := c.http.Get(c.baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func runBacktest(c *client, apps []Application, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Application, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for app := range work {
				start := time.Now()
				out, err := c.assess(app)
				metrics.record(app, out, time.Since(start), errors.Is(err, errRejected), err)

				if verbose {
					printRow(app, out, err)
				}
			}
		}()
	}

	for _, app := range apps {
		work <- app
	}
	close(work)
	wg.Wait()

	return metrics
}

func (c *client) assess(app Application) (*Outcome, error) {
	body, err := json.Marshal(api.AssessRequest{
		ApplicantName: app.ApplicantName,
		Profile:       app.Profile,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/assessments", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.TenantIDHeader, c.tenantID)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: status %d", errRejected, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result api.AssessResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if result.AssessmentResponse == nil {
		return nil, errors.New("empty assessment response")
	}

	return &Outcome{
		FinalHighRisk: result.FinalDecision == domain.DecisionHighRisk,
		RawHighRisk:   result.RawPrediction == 1,
		Overridden:    result.Overridden,
	}, nil
}

func printRow(app Application, out *Outcome, err error) {
	if err != nil {
		missColor.Printf("ERROR row %d -> %v\n", app.Row, err)
		return
	}
	mark := okColor.Sprint("ok")
	if out.FinalHighRisk != app.Defaulted {
		mark = missColor.Sprint("XX")
	}
	fmt.Printf("%s row %-5d | Income: $%8.2f | Loan: $%8.2f | Defaulted: %-5v | HighRisk: %-5v | Model: %-5v | Override: %v\n",
		mark, app.Row,
		app.Profile.MonthlyIncome,
		app.Profile.LoanAmount,
		app.Defaulted,
		out.FinalHighRisk,
		out.RawHighRisk,
		out.Overridden,
	)
}

func printConfusion(title string, c Confusion) {
	headingColor.Printf("\n%s\n", title)
	fmt.Println("                         Predicted")
	fmt.Println("                   HighRisk     LowRisk")
	fmt.Println("              +------------+------------+")
	fmt.Printf("   Actual  D  | %10d | %10d |  (TP, FN)\n", c.TruePositives, c.FalseNegatives)
	fmt.Println("              +------------+------------+")
	fmt.Printf("          ND  | %10d | %10d |  (FP, TN)\n", c.FalsePositives, c.TrueNegatives)
	fmt.Println("              +------------+------------+")
	fmt.Printf("   Precision:  %.4f\n", c.Precision())
	fmt.Printf("   Recall:     %.4f\n", c.Recall())
	fmt.Printf("   F1-Score:   %.4f\n", c.F1())
	fmt.Printf("   Accuracy:   %.4f\n", c.Accuracy())
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n=================================================================")
	fmt.Println("                       BACKTEST RESULTS")
	fmt.Println("=================================================================")

	headingColor.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.Processed)
	fmt.Printf("   Defaulted:        %d\n", m.Defaulted)
	fmt.Printf("   Rejected (4xx):   %d\n", m.Rejected)
	fmt.Printf("   Errors:           %d\n", m.Errors)

	printConfusion("FINAL DECISION (model + rules)", m.Final)
	printConfusion("MODEL ONLY (raw prediction)", m.Model)

	headingColor.Printf("\nOVERRIDES\n")
	fmt.Printf("   Overridden:       %d (%.2f%%)\n", m.Overridden, 100*m.OverrideRate())
	fmt.Printf("   Recall gain:      %+.4f\n", m.Final.Recall()-m.Model.Recall())

	headingColor.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	fmt.Printf("   Avg Latency:      %v\n", m.MeanLatency().Round(time.Microsecond))
	fmt.Printf("   p50 Latency:      %v\n", m.Percentile(0.50).Round(time.Microsecond))
	fmt.Printf("   p95 Latency:      %v\n", m.Percentile(0.95).Round(time.Microsecond))
	if duration > 0 {
		fmt.Printf("   Throughput:       %.2f req/sec\n", float64(m.Processed)/duration.Seconds())
	}
	fmt.Println()
}
