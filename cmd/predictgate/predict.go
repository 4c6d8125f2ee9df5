package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/predictgate/pkg/client"
	"github.com/pario-ai/predictgate/pkg/models"
	"github.com/pario-ai/predictgate/pkg/predict"
)

func newPredictCmd(a *app) *cobra.Command {
	var (
		value  float64
		text   string
		params []string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Send a single prediction to the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}

			st, err := buildStack(a.cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			out, err := st.service.Predict(context.Background(), models.PredictionRequest{
				Value:  value,
				Text:   text,
				Params: p,
			})
			if err != nil {
				return fmt.Errorf("%s (%w)", client.UserMessage(err), err)
			}

			if asJSON {
				out.Result.RawResponse = nil
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			fmt.Print(formatOutcome(out))
			return nil
		},
	}

	cmd.Flags().Float64Var(&value, "value", 0, "numeric input")
	cmd.Flags().StringVar(&text, "text", "", "text input")
	cmd.Flags().StringArrayVar(&params, "param", nil, "extra parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	return cmd
}

// parseParams turns key=value pairs into a params map. Values that parse as
// numbers or booleans keep that type.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", pair)
		}
		switch {
		case v == "true" || v == "false":
			out[k] = v == "true"
		default:
			n, err := strconv.ParseFloat(v, 64)
			switch {
			case err != nil:
				out[k] = v
			case math.IsNaN(n) || math.IsInf(n, 0):
				return nil, fmt.Errorf("invalid --param %q, number must be finite", pair)
			default:
				out[k] = n
			}
		}
	}
	return out, nil
}

func formatOutcome(out predict.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed value: %s\n", strconv.FormatFloat(out.Result.ProcessedValue, 'f', -1, 64))
	fmt.Fprintf(&b, "Prediction:      %s\n", out.Result.PredictionText)
	switch out.Source {
	case predict.SourceBackend:
		fmt.Fprintf(&b, "Source:          backend\n")
	default:
		fmt.Fprintf(&b, "Source:          %s (cached %s)\n", out.Source, humanize.Time(out.CachedAt))
	}
	if out.Result.Message != "" {
		fmt.Fprintf(&b, "Message:         %s\n", out.Result.Message)
	}
	return b.String()
}
