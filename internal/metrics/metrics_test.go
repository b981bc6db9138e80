package metrics

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"
)

func TestRecorderFlushOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(io.Discard)

	New("ImageEdit").
		Dimension("Operation", "edit").
		Dimension("Outcome", "succeeded").
		Duration("LatencyMs", 1500*time.Millisecond).
		Count("EditCount").
		Property("submissionId", "abc-123").
		Flush()

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse metric output as JSON: %v\nOutput: %s", err, buf.String())
	}

	if doc["namespace"] != "ImageEdit" {
		t.Errorf("namespace = %v, want ImageEdit", doc["namespace"])
	}
	dims, _ := doc["dimensions"].(map[string]interface{})
	if dims["Operation"] != "edit" || dims["Outcome"] != "succeeded" {
		t.Errorf("dimensions = %v", dims)
	}
	values, _ := doc["metrics"].(map[string]interface{})
	if values["LatencyMs"] != 1500.0 {
		t.Errorf("LatencyMs = %v, want 1500", values["LatencyMs"])
	}
	if values["EditCount"] != 1.0 {
		t.Errorf("EditCount = %v, want 1", values["EditCount"])
	}
	units, _ := doc["units"].(map[string]interface{})
	if units["LatencyMs"] != UnitMilliseconds {
		t.Errorf("LatencyMs unit = %v, want %s", units["LatencyMs"], UnitMilliseconds)
	}
	props, _ := doc["properties"].(map[string]interface{})
	if props["submissionId"] != "abc-123" {
		t.Errorf("submissionId = %v, want abc-123", props["submissionId"])
	}
}

func TestRecorderFlushEmpty(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(io.Discard)

	New("ImageEdit").Dimension("Operation", "noop").Flush()

	if buf.Len() != 0 {
		t.Errorf("expected no output for recorder without metrics, got %q", buf.String())
	}
}
