package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sift/internal/api"
	"github.com/jackzampolin/sift/internal/input"
	"github.com/jackzampolin/sift/internal/server/endpoints"
)

// extractFlags are the invocation settings shared by extract and batch.
type extractFlags struct {
	schemaRef    string
	provider     string
	model        string
	instruction  string
	systemPrompt string
	usageCtx     string
	review       bool
	maxTokens    int
	maxIter      int
}

func (f *extractFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.schemaRef, "schema", "s", "", "Schema file or name in {home}/schemas (required)")
	cmd.Flags().StringVar(&f.provider, "provider", "", "Provider name (default from config)")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Model ID (default from config)")
	cmd.Flags().StringVar(&f.instruction, "instruction", "", "Extra instruction appended to the system prompt")
	cmd.Flags().StringVar(&f.systemPrompt, "system-prompt", "", "Replace the built-in system prompt")
	cmd.Flags().StringVar(&f.usageCtx, "context", "", "Metering context (default from config)")
	cmd.Flags().BoolVar(&f.review, "review", false, "Ask the model to review its extraction")
	cmd.Flags().IntVar(&f.maxTokens, "max-output-tokens", 0, "Output token cap per call")
	cmd.Flags().IntVar(&f.maxIter, "max-iterations", 0, "Tool loop iteration cap")
	cmd.MarkFlagRequired("schema")
}

func (f *extractFlags) request(cmd *cobra.Command) (endpoints.ExtractRequest, error) {
	req := endpoints.ExtractRequest{
		Provider:          f.provider,
		Model:             f.model,
		SystemPrompt:      f.systemPrompt,
		CustomInstruction: f.instruction,
		Context:           f.usageCtx,
		MaxOutputTokens:   f.maxTokens,
		MaxIterations:     f.maxIter,
	}
	if cmd.Flags().Changed("review") {
		review := f.review
		req.Review = &review
	}
	return req, req.SetSchemaRef(f.schemaRef)
}

var (
	extractOpts     extractFlags
	extractText     string
	extractExisting string
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract a structured record from a document",
	Long: `Extract a structured record from a text file, an image or a PDF.

The input type is detected from its content. With --existing the model
updates a baseline record instead of starting from scratch. Token usage
is recorded in the ledger.

Examples:
  sift extract -s invoice.yaml scan.pdf
  sift extract -s person --text "Jane Doe, 34, lives in Lisbon"
  sift extract -s receipt.json --existing prior.json --review photo.jpg -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req, err := extractOpts.request(cmd)
		if err != nil {
			return err
		}
		switch {
		case len(args) == 1 && extractText != "":
			return errors.New("pass either a file or --text, not both")
		case len(args) == 1:
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			req.Data = data
			req.Filename = filepath.Base(args[0])
		default:
			req.Text = extractText
		}
		if extractExisting != "" {
			if req.Existing, err = input.LoadBaseline(extractExisting); err != nil {
				return err
			}
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

		extReq, err := req.Build(s.config.Get(), eng.schemas)
		if err != nil {
			return err
		}

		res, err := eng.extractor.Extract(ctx, extReq)
		if err != nil {
			return err
		}
		return api.Output(res)
	},
}

func init() {
	extractOpts.register(extractCmd)
	extractCmd.Flags().StringVar(&extractText, "text", "", "Extract from this text instead of a file")
	extractCmd.Flags().StringVar(&extractExisting, "existing", "", "Baseline record (JSON or YAML) to update")

	rootCmd.AddCommand(extractCmd)
}
