package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/claimscan/internal/config"
	"github.com/opensource-finance/claimscan/internal/domain"
	"github.com/opensource-finance/claimscan/internal/evaluator"
	"github.com/opensource-finance/claimscan/internal/refindex"
)

func newEvaluateCmd(configPath *string) *cobra.Command {
	var (
		claimPath     string
		referencePath string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate claims from a file against a reference dataset and print the outcomes",
		Long: `Evaluate reads a claim (or a JSON array of claims) and prints one outcome per
claim as JSON. No database, cache or bus is used; custom rules do not run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			setupLogger(cfg.Logging)

			if referencePath == "" {
				referencePath = cfg.Reference.Path
			}
			return evaluateFile(cmd.OutOrStdout(), claimPath, referencePath, cfg.Scoring)
		},
	}

	cmd.Flags().StringVar(&claimPath, "claim", "-", "Claim JSON file (use '-' for stdin)")
	cmd.Flags().StringVar(&referencePath, "reference", "", "Reference dataset (YAML or JSON); defaults to reference.path from config")

	return cmd
}

func evaluateFile(out io.Writer, claimPath, referencePath string, scoring domain.ScoringConfig) error {
	claims, single, err := readClaims(claimPath)
	if err != nil {
		return err
	}

	idx := refindex.Empty()
	if referencePath != "" {
		data, err := refindex.LoadFile(referencePath)
		if err != nil {
			return err
		}
		idx = refindex.Build(data)
	}

	ev, err := evaluator.New(scoring, nil)
	if err != nil {
		return err
	}

	outcomes := make([]*domain.Outcome, 0, len(claims))
	for _, claim := range claims {
		outcomes = append(outcomes, ev.Run(claim, idx, nil).Outcome)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if single {
		return enc.Encode(outcomes[0])
	}
	return enc.Encode(outcomes)
}

// readClaims accepts a single claim object or an array of claims.
func readClaims(path string) ([]*domain.Claim, bool, error) {
	var (
		content []byte
		err     error
	)
	if path == "-" || path == "" {
		content, err = io.ReadAll(os.Stdin)
	} else {
		content, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, false, fmt.Errorf("read claims: %w", err)
	}

	content = bytes.TrimSpace(content)
	if len(content) > 0 && content[0] == '[' {
		var claims []*domain.Claim
		if err := json.Unmarshal(content, &claims); err != nil {
			return nil, false, fmt.Errorf("parse claims: %w", err)
		}
		if len(claims) == 0 {
			return nil, false, fmt.Errorf("no claims in %s", path)
		}
		return claims, false, nil
	}

	var claim domain.Claim
	if err := json.Unmarshal(content, &claim); err != nil {
		return nil, false, fmt.Errorf("parse claim: %w", err)
	}
	return []*domain.Claim{&claim}, true, nil
}
