package models

import (
	"encoding/json"
	"strings"
)

// PredictionRequest is a single user-triggered prediction call.
type PredictionRequest struct {
	Value  float64        `json:"value"`
	Text   string         `json:"text,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// Normalize trims the text and drops an empty params map.
func (r PredictionRequest) Normalize() PredictionRequest {
	out := PredictionRequest{
		Value: r.Value,
		Text:  strings.TrimSpace(r.Text),
	}
	if len(r.Params) > 0 {
		out.Params = r.Params
	}
	return out
}

// PredictionResult is the unwrapped outcome of a successful prediction.
type PredictionResult struct {
	ProcessedValue float64         `json:"processed_value"`
	PredictionText string          `json:"prediction"`
	Status         string          `json:"status,omitempty"`
	Message        string          `json:"message,omitempty"`
	RawResponse    json.RawMessage `json:"raw_response,omitempty"`
}
