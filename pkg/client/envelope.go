package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pario-ai/predictgate/pkg/models"
)

// gradioRequest is the request body accepted by the Gradio-compatible API.
type gradioRequest struct {
	Data []any `json:"data"`
}

// gradioResponse is the outer {data: [...]} wrapper. The flat variant also
// carries status and message next to data.
type gradioResponse struct {
	Data    []json.RawMessage `json:"data"`
	Status  string            `json:"status"`
	Message string            `json:"message"`
}

// backendResponse is the inner {success, data, error} envelope.
type backendResponse struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// resultObject is the object form of a prediction payload.
type resultObject struct {
	ProcessedValue json.RawMessage `json:"processed_value"`
	Prediction     string          `json:"prediction"`
}

// unwrapEnvelope decodes a 2xx response body. Both the flat
// {data: [number, string]} shape and the enveloped
// {data: [{success, data, error}]} shape are accepted.
func unwrapEnvelope(body []byte) (models.PredictionResult, error) {
	var outer gradioResponse
	if err := json.Unmarshal(body, &outer); err != nil {
		return models.PredictionResult{}, &ProtocolError{Reason: fmt.Sprintf("decode body: %v", err)}
	}
	if len(outer.Data) == 0 {
		return models.PredictionResult{}, &ProtocolError{Reason: "missing or empty data array"}
	}

	var (
		result models.PredictionResult
		err    error
	)
	first := bytes.TrimSpace(outer.Data[0])
	if len(first) > 0 && first[0] == '{' {
		result, err = decodeObjectElement(first)
	} else {
		result, err = decodePair(outer.Data)
	}
	if err != nil {
		return models.PredictionResult{}, err
	}

	result.Status = outer.Status
	result.Message = outer.Message
	result.RawResponse = json.RawMessage(body)
	return result, nil
}

// decodeObjectElement handles data[0] being either the inner backend envelope
// or a bare result object.
func decodeObjectElement(raw json.RawMessage) (models.PredictionResult, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return models.PredictionResult{}, &ProtocolError{Reason: fmt.Sprintf("decode data[0]: %v", err)}
	}

	if _, ok := probe["success"]; !ok {
		if _, ok := probe["processed_value"]; ok {
			return decodePayload(raw)
		}
		return models.PredictionResult{}, &ProtocolError{Reason: "data[0] is neither an envelope nor a result"}
	}

	var inner backendResponse
	if err := json.Unmarshal(raw, &inner); err != nil {
		return models.PredictionResult{}, &ProtocolError{Reason: fmt.Sprintf("decode envelope: %v", err)}
	}
	if inner.Success == nil || !*inner.Success {
		msg := strings.TrimSpace(inner.Error)
		if msg == "" {
			msg = "unknown backend error"
		}
		return models.PredictionResult{}, &BackendRejection{Message: msg}
	}
	if len(bytes.TrimSpace(inner.Data)) == 0 || string(bytes.TrimSpace(inner.Data)) == "null" {
		return models.PredictionResult{}, &ProtocolError{Reason: "successful envelope without data"}
	}
	return decodePayload(inner.Data)
}

// decodePayload decodes the inner payload, an object or a [number, string] pair.
func decodePayload(raw json.RawMessage) (models.PredictionResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var pair []json.RawMessage
		if err := json.Unmarshal(trimmed, &pair); err != nil {
			return models.PredictionResult{}, &ProtocolError{Reason: fmt.Sprintf("decode payload: %v", err)}
		}
		return decodePair(pair)
	}

	var obj resultObject
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return models.PredictionResult{}, &ProtocolError{Reason: fmt.Sprintf("decode payload: %v", err)}
	}
	value, err := parseNumber(obj.ProcessedValue)
	if err != nil {
		return models.PredictionResult{}, &ProtocolError{Reason: "processed_value: " + err.Error()}
	}
	return models.PredictionResult{ProcessedValue: value, PredictionText: obj.Prediction}, nil
}

// decodePair decodes a [number, string] pair.
func decodePair(elems []json.RawMessage) (models.PredictionResult, error) {
	if len(elems) < 2 {
		return models.PredictionResult{}, &ProtocolError{Reason: fmt.Sprintf("expected [number, string], got %d elements", len(elems))}
	}
	value, err := parseNumber(elems[0])
	if err != nil {
		return models.PredictionResult{}, &ProtocolError{Reason: "data[0]: " + err.Error()}
	}
	var text string
	if err := json.Unmarshal(elems[1], &text); err != nil {
		return models.PredictionResult{}, &ProtocolError{Reason: "data[1]: expected string"}
	}
	return models.PredictionResult{ProcessedValue: value, PredictionText: text}, nil
}

// parseNumber accepts a JSON number or a numeric string.
func parseNumber(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("missing number")
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("expected number")
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("expected number, got %q", s)
	}
	return n, nil
}
