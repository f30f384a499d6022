package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/claimscan/internal/domain"
)

// LabelledClaim is one line of a replay file: a claim plus whether it was
// confirmed fraudulent.
type LabelledClaim struct {
	Fraud bool         `json:"fraud"`
	Claim domain.Claim `json:"claim"`
}

// replayResult is the part of the API response replay needs.
type replayResult struct {
	Decision domain.Tier `json:"decision"`
	Score    float64     `json:"score"`
}

// Metrics tracks replay results against the labels.
type Metrics struct {
	TruePositives  int64 `json:"truePositives"`
	FalsePositives int64 `json:"falsePositives"`
	TrueNegatives  int64 `json:"trueNegatives"`
	FalseNegatives int64 `json:"falseNegatives"`

	TotalProcessed int64 `json:"totalProcessed"`
	TotalErrors    int64 `json:"totalErrors"`

	Tiers map[domain.Tier]int64 `json:"tiers"`

	ProcessingTimeMs int64 `json:"processingTimeMs"`
}

// Record adds one evaluated claim. A claim counts as flagged when its
// decision is at or above flagTier.
func (m *Metrics) Record(fraud bool, decision domain.Tier, flagTier domain.Tier) {
	m.TotalProcessed++
	if m.Tiers == nil {
		m.Tiers = make(map[domain.Tier]int64)
	}
	m.Tiers[decision]++

	flagged := decision.AtLeast(flagTier)
	switch {
	case flagged && fraud:
		m.TruePositives++
	case flagged && !fraud:
		m.FalsePositives++
	case !flagged && !fraud:
		m.TrueNegatives++
	default:
		m.FalseNegatives++
	}
}

// Precision is the share of flagged claims that were fraudulent.
func (m *Metrics) Precision() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
}

// Recall is the share of fraudulent claims that were flagged.
func (m *Metrics) Recall() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func newReplayCmd() *cobra.Command {
	var (
		file     string
		baseURL  string
		tenantID string
		flagTier string
		workers  int
		limit    int
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay labelled claims against a running server and report precision/recall",
		Long: `Replay posts each claim of a JSON-lines file ({"fraud": bool, "claim": {...}})
to POST /evaluate and compares the decision tier with the label.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tier := domain.Tier(flagTier)
			if tier.Rank() < 0 {
				return fmt.Errorf("unknown tier %q", flagTier)
			}

			claims, err := readLabelledClaims(file, limit)
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 10 * time.Second}
			if err := checkHealth(cmd.Context(), client, baseURL); err != nil {
				return fmt.Errorf("server not reachable at %s: %w", baseURL, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Replaying %d claims against %s (tenant %s, flag tier %s)\n", len(claims), baseURL, tenantID, tier)

			start := time.Now()
			metrics := replay(cmd.Context(), client, claims, baseURL, tenantID, tier, workers, verbose, out)
			printResults(out, metrics, time.Since(start))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "JSON-lines file of labelled claims")
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "ClaimScan base URL")
	cmd.Flags().StringVar(&tenantID, "tenant", "replay", "Tenant ID for requests")
	cmd.Flags().StringVar(&flagTier, "flag-tier", string(domain.TierSoftHold), "Decisions at or above this tier count as flagged")
	cmd.Flags().IntVar(&workers, "workers", 8, "Number of concurrent requests")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum claims to replay (0 = all)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Print each claim result")
	cmd.MarkFlagRequired("file")

	return cmd
}

func readLabelledClaims(path string, limit int) ([]LabelledClaim, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	var claims []LabelledClaim
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var lc LabelledClaim
		if err := json.Unmarshal([]byte(text), &lc); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		claims = append(claims, lc)

		if limit > 0 && len(claims) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	return claims, nil
}

func replay(ctx context.Context, client *http.Client, claims []LabelledClaim, baseURL, tenantID string, flagTier domain.Tier, numWorkers int, verbose bool, out io.Writer) *Metrics {
	if numWorkers <= 0 {
		numWorkers = 1
	}

	metrics := &Metrics{Tiers: make(map[domain.Tier]int64)}
	var mu sync.Mutex

	work := make(chan LabelledClaim, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for lc := range work {
				start := time.Now()
				result, err := evaluateClaim(ctx, client, baseURL, tenantID, &lc.Claim)
				elapsed := time.Since(start).Milliseconds()

				mu.Lock()
				metrics.ProcessingTimeMs += elapsed
				if err != nil {
					metrics.TotalErrors++
					if verbose {
						fmt.Fprintf(out, "ERROR %s -> %v\n", lc.Claim.ID, err)
					}
					mu.Unlock()
					continue
				}
				metrics.Record(lc.Fraud, result.Decision, flagTier)
				if verbose {
					mark := "ok"
					if result.Decision.AtLeast(flagTier) != lc.Fraud {
						mark = "MISS"
					}
					fmt.Fprintf(out, "%-4s %-20s fraud=%-5v decision=%-18s score=%.2f\n", mark, lc.Claim.ID, lc.Fraud, result.Decision, result.Score)
				}
				mu.Unlock()
			}
		}()
	}

	for _, lc := range claims {
		if ctx.Err() != nil {
			break
		}
		work <- lc
	}
	close(work)
	wg.Wait()

	return metrics
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func evaluateClaim(ctx context.Context, client *http.Client, baseURL, tenantID string, claim *domain.Claim) (*replayResult, error) {
	body, err := json.Marshal(claim)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result replayResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(out io.Writer, m *Metrics, duration time.Duration) {
	fmt.Fprintf(out, "\nProcessed: %d  Errors: %d\n", m.TotalProcessed, m.TotalErrors)

	fmt.Fprintln(out, "\nTier distribution")
	tiers := make([]domain.Tier, 0, len(m.Tiers))
	for tier := range m.Tiers {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Rank() < tiers[j].Rank() })
	for _, tier := range tiers {
		fmt.Fprintf(out, "  %-18s %8d  (%.1f%%)\n", tier, m.Tiers[tier], 100*ratio(m.Tiers[tier], m.TotalProcessed))
	}

	fmt.Fprintln(out, "\nConfusion matrix (flagged vs label)")
	fmt.Fprintf(out, "  TP %8d   FN %8d\n", m.TruePositives, m.FalseNegatives)
	fmt.Fprintf(out, "  FP %8d   TN %8d\n", m.FalsePositives, m.TrueNegatives)

	fmt.Fprintf(out, "\nPrecision: %.4f\nRecall:    %.4f\nF1:        %.4f\n", m.Precision(), m.Recall(), m.F1())

	if m.TotalProcessed > 0 {
		fmt.Fprintf(out, "\nDuration: %v  Avg latency: %.2f ms  Throughput: %.2f claims/sec\n",
			duration.Round(time.Millisecond),
			float64(m.ProcessingTimeMs)/float64(m.TotalProcessed+m.TotalErrors),
			float64(m.TotalProcessed)/duration.Seconds(),
		)
	}
}
