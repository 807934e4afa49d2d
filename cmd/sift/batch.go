package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/sift/internal/api"
	"github.com/jackzampolin/sift/internal/extraction"
	"github.com/jackzampolin/sift/internal/home"
	"github.com/jackzampolin/sift/internal/input"
	"github.com/jackzampolin/sift/internal/server/endpoints"
)

// DocumentResult is written to {home}/results/{batch}/{document}.json.
type DocumentResult struct {
	DocumentID    string               `json:"document_id"`
	Path          string               `json:"path"`
	ExpectedClass string               `json:"expected_class,omitempty"`
	Record        map[string]any       `json:"record,omitempty"`
	Usage         extraction.Metering  `json:"usage,omitempty"`
	Metadata      *extraction.Metadata `json:"metadata,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// BatchSummary is printed when a batch finishes.
type BatchSummary struct {
	BatchID    string              `json:"batch_id" yaml:"batch_id"`
	Documents  int                 `json:"documents" yaml:"documents"`
	Succeeded  int                 `json:"succeeded" yaml:"succeeded"`
	Failed     []string            `json:"failed,omitempty" yaml:"failed,omitempty"`
	ResultsDir string              `json:"results_dir" yaml:"results_dir"`
	Usage      extraction.Metering `json:"usage" yaml:"usage"`
	Duration   string              `json:"duration" yaml:"duration"`
}

var (
	batchOpts        extractFlags
	batchManifest    string
	batchID          string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Extract records for every document in a manifest",
	Long: `Run one extraction per manifest entry with bounded concurrency.

A manifest is CSV (document_id, document_path, baseline_path columns) or
JSON (an array of entries or {"documents": [...]}). Each result is written
to {home}/results/{batch-id}/{document_id}.json. A failed document does not
stop the others.

Examples:
  sift batch -s invoice.yaml --manifest invoices.csv
  sift batch -s receipt --manifest receipts.json --concurrency 8`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		start := time.Now()

		entries, err := input.ValidateManifest(batchManifest)
		if err != nil {
			return err
		}

		base, err := batchOpts.request(cmd)
		if err != nil {
			return err
		}

		s, err := newSession()
		if err != nil {
			return err
		}
		eng, err := s.openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		cfg := s.config.Get()
		limit := batchConcurrency
		if limit <= 0 {
			limit = cfg.Defaults.Concurrency
		}
		if batchID == "" {
			batchID = uuid.New().String()
		}

		results := make([]DocumentResult, len(entries))
		var reqs []extraction.Request
		var index []int
		for i, entry := range entries {
			results[i] = DocumentResult{
				DocumentID:    entry.DocumentID,
				Path:          entry.Path,
				ExpectedClass: entry.ExpectedClass,
			}
			req, err := prepareEntry(base, entry)
			if err == nil {
				var extReq extraction.Request
				if extReq, err = req.Build(cfg, eng.schemas); err == nil {
					reqs = append(reqs, extReq)
					index = append(index, i)
					continue
				}
			}
			results[i].Error = err.Error()
		}

		s.logger.Info("starting batch",
			"batch_id", batchID, "documents", len(entries), "runnable", len(reqs), "concurrency", limit)

		for _, out := range eng.extractor.ExtractAll(ctx, reqs, limit) {
			r := &results[index[out.Index]]
			if out.Err != nil {
				r.Error = out.Err.Error()
				s.logger.Warn("document failed", "document_id", r.DocumentID, "error", out.Err)
				continue
			}
			r.Record = out.Result.Record
			r.Usage = out.Result.Usage
			r.Metadata = &out.Result.Metadata
		}

		summary := BatchSummary{
			BatchID:    batchID,
			Documents:  len(entries),
			ResultsDir: filepath.Join(s.home.ResultsPath(), batchID),
			Usage:      extraction.Metering{},
		}
		for _, r := range results {
			if err := writeResult(s.home, batchID, r); err != nil {
				return err
			}
			if r.Error != "" {
				summary.Failed = append(summary.Failed, r.DocumentID)
				continue
			}
			summary.Succeeded++
			summary.Usage.Merge(r.Usage)
		}
		summary.Duration = time.Since(start).Round(time.Millisecond).String()

		if err := api.Output(summary); err != nil {
			return err
		}
		if len(summary.Failed) > 0 {
			return fmt.Errorf("%d of %d documents failed", len(summary.Failed), len(entries))
		}
		return nil
	},
}

// prepareEntry reads one manifest document and its baseline into a copy of base.
func prepareEntry(base endpoints.ExtractRequest, entry input.Entry) (endpoints.ExtractRequest, error) {
	req := base
	data, err := os.ReadFile(entry.Path)
	if err != nil {
		return req, err
	}
	req.Data = data
	req.Filename = filepath.Base(entry.Path)

	if entry.BaselinePath != "" {
		if req.Existing, err = input.LoadBaseline(entry.BaselinePath); err != nil {
			return req, err
		}
	}
	return req, nil
}

func writeResult(h *home.Dir, batchID string, r DocumentResult) error {
	path := h.ResultPath(batchID, r.DocumentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func init() {
	batchOpts.register(batchCmd)
	batchCmd.Flags().StringVar(&batchManifest, "manifest", "", "CSV or JSON manifest (required)")
	batchCmd.Flags().StringVar(&batchID, "batch-id", "", "Results subdirectory (default: a new UUID)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "Documents in flight (default from config)")
	batchCmd.MarkFlagRequired("manifest")

	rootCmd.AddCommand(batchCmd)
}
