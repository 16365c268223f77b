// Load generator that replays PaySim fraud data through Heron's monitor.
//
// Usage:
//
//	go run ./cmd/loadgen -csv /path/to/paysim.csv -url http://localhost:8080
//
// This tool:
//  1. Reads PaySim transaction data (with fraud labels)
//  2. Registers each sender as a subject and records its transactions
//  3. Waits for the transaction monitor, then reads back which were flagged
//  4. Calculates precision, recall, F1-score and a confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// PaySimTransaction represents a row from the PaySim dataset
type PaySimTransaction struct {
	Step           int
	Type           string
	Amount         decimal.Decimal
	NameOrig       string
	OldBalanceOrg  float64
	NewBalanceOrig float64
	NameDest       string
	IsFraud        bool
}

// Recorded pairs a stored transaction id with its fraud label.
type Recorded struct {
	ID      string
	IsFraud bool
}

// Metrics tracks run results
type Metrics struct {
	TruePositives  int64 // Fraud flagged by the monitor
	FalsePositives int64 // Non-fraud flagged
	TrueNegatives  int64 // Non-fraud left alone
	FalseNegatives int64 // Fraud left alone (missed!)

	TotalRecorded int64
	TotalFraud    int64
	TotalNonFraud int64
	TotalErrors   int64

	RecordTimeMs int64
}

type client struct {
	http    *http.Client
	baseURL string
	actor   string

	subjects sync.Map
}

func main() {
	csvPath := flag.String("csv", "", "Path to PaySim CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Heron base URL")
	actor := flag.String("actor", "loadgen", "Actor ID sent with every request")
	limit := flag.Int("limit", 10000, "Maximum transactions to record (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only replay fraud transactions")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	settle := flag.Duration("settle", 5*time.Second, "How long to wait for the monitor before reading results")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: loadgen -csv /path/to/paysim.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("HERON LOADGEN - PaySim replay")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Heron URL:   %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	c := &client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(*baseURL, "/"),
		actor:   *actor,
	}

	if err := c.checkHealth(); err != nil {
		fmt.Printf("ERROR: Heron not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Heron is running:")
		fmt.Println("  go run ./cmd/heron")
		os.Exit(1)
	}
	fmt.Println("Heron is healthy")

	fmt.Printf("\nReading PaySim data from %s...\n", *csvPath)
	transactions, err := readPaySimCSV(*csvPath, *limit, *fraudOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(transactions) == 0 {
		fmt.Println("No transactions selected")
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions\n", len(transactions))

	fmt.Printf("\nRecording with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := &Metrics{}
	recorded := c.record(transactions, *workers, metrics, *verbose)
	duration := time.Since(startTime)

	fmt.Printf("Waiting %v for the monitor...\n", *settle)
	time.Sleep(*settle)

	c.collect(recorded, *workers, metrics, *verbose)
	printResults(metrics, duration)
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

func readPaySimCSV(path string, limit int, fraudOnly bool, sampleRate float64) ([]PaySimTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}

	var transactions []PaySimTransaction
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isFraud := record[colIndex["isfraud"]] == "1"
		if fraudOnly && !isFraud {
			continue
		}
		if !isFraud && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		amount, err := decimal.NewFromString(record[colIndex["amount"]])
		if err != nil || !amount.IsPositive() {
			continue
		}
		step, _ := strconv.Atoi(record[colIndex["step"]])
		oldBalanceOrg, _ := strconv.ParseFloat(record[colIndex["oldbalanceorg"]], 64)
		newBalanceOrig, _ := strconv.ParseFloat(record[colIndex["newbalanceorig"]], 64)

		transactions = append(transactions, PaySimTransaction{
			Step:           step,
			Type:           record[colIndex["type"]],
			Amount:         amount,
			NameOrig:       record[colIndex["nameorig"]],
			OldBalanceOrg:  oldBalanceOrg,
			NewBalanceOrig: newBalanceOrig,
			NameDest:       record[colIndex["namedest"]],
			IsFraud:        isFraud,
		})

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

// record sends every transaction, registering unseen senders first.
func (c *client) record(transactions []PaySimTransaction, numWorkers int, metrics *Metrics, verbose bool) []Recorded {
	work := make(chan PaySimTransaction, 100)
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out = make([]Recorded, 0, len(transactions))
	)

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tx := range work {
				start := time.Now()
				id, err := c.recordOne(tx)
				atomic.AddInt64(&metrics.RecordTimeMs, time.Since(start).Milliseconds())

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.NameOrig, err)
					}
					continue
				}
				atomic.AddInt64(&metrics.TotalRecorded, 1)

				mu.Lock()
				out = append(out, Recorded{ID: id, IsFraud: tx.IsFraud})
				mu.Unlock()
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)
	wg.Wait()

	return out
}

func (c *client) recordOne(tx PaySimTransaction) (string, error) {
	if err := c.ensureSubject(tx.NameOrig); err != nil {
		return "", err
	}

	var stored struct {
		ID string `json:"id"`
	}
	err := c.post("/transactions", map[string]any{
		"senderUserId":   tx.NameOrig,
		"senderAmount":   tx.Amount.StringFixed(2),
		"senderCurrency": "USD",
		"method":         strings.ToLower(tx.Type),
	}, http.StatusCreated, &stored)
	return stored.ID, err
}

// ensureSubject registers a sender once. A subject left over from an
// earlier run is reused.
func (c *client) ensureSubject(id string) error {
	if _, seen := c.subjects.LoadOrStore(id, true); seen {
		return nil
	}
	err := c.post("/subjects", map[string]any{
		"id":        id,
		"name":      id,
		"kycStatus": "approved",
	}, http.StatusCreated, nil)
	if err != nil && !strings.Contains(err.Error(), "status 409") {
		c.subjects.Delete(id)
		return err
	}
	return nil
}

// collect reads back each recorded transaction and fills the confusion matrix.
func (c *client) collect(recorded []Recorded, numWorkers int, metrics *Metrics, verbose bool) {
	work := make(chan Recorded, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range work {
				var tx struct {
					IsSuspect bool    `json:"isSuspect"`
					RiskScore float64 `json:"riskScore"`
				}
				if err := c.get("/transactions/"+rec.ID, &tx); err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					continue
				}

				if rec.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}

				predicted, actual := tx.IsSuspect, rec.IsFraud
				switch {
				case predicted && actual:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !actual:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !actual:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					fmt.Printf("%s | Fraud: %-5v | Flagged: %-5v | Score: %.1f\n", rec.ID, actual, predicted, tx.RiskScore)
				}
			}
		}()
	}

	for _, rec := range recorded {
		work <- rec
	}
	close(work)
	wg.Wait()
}

func (c *client) post(path string, body any, want int, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, want, out)
}

func (c *client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusOK, out)
}

func (c *client) do(req *http.Request, want int, out any) error {
	req.Header.Set("X-Actor-ID", c.actor)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nRESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Recorded:         %d\n", m.TotalRecorded)
	fmt.Printf("   Fraud:            %d\n", m.TotalFraud)
	fmt.Printf("   Non-Fraud:        %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Flagged")
	fmt.Println("                    yes         no")
	fmt.Printf("   Actual  F    %8d   %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF    %8d   %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	recall := ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	accuracy := ratio(m.TruePositives+m.TrueNegatives, m.TruePositives+m.TrueNegatives+m.FalsePositives+m.FalseNegatives)

	fmt.Printf("\nDETECTION\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Record Duration:  %v\n", duration.Round(time.Millisecond))
	if m.TotalRecorded > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.RecordTimeMs)/float64(m.TotalRecorded))
		fmt.Printf("   Throughput:       %.2f tx/sec\n", float64(m.TotalRecorded)/duration.Seconds())
	}
	fmt.Println()
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
