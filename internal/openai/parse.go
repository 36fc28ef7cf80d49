package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"claims-orchestrator/internal/domain"
)

var claimAllowedKeys = map[string]struct{}{
	"claim_number":    {},
	"patient_name":    {},
	"patient_dob":     {},
	"member_id":       {},
	"provider_name":   {},
	"provider_npi":    {},
	"service_date":    {},
	"diagnosis_codes": {},
	"line_items":      {},
	"total_billed":    {},
	"confidence":      {},
}

var claimRequiredKeys = []string{
	"claim_number", "patient_name", "member_id", "provider_name", "provider_npi",
	"service_date", "line_items", "total_billed", "confidence",
}

// ParseClaim checks model output against the claim schema and returns the
// canonical JSON encoding together with the model's own confidence.
func ParseClaim(raw string) ([]byte, float64, error) {
	trimmed := stripCodeFence(strings.TrimSpace(raw))
	if trimmed == "" {
		return nil, 0, fmt.Errorf("empty model output")
	}
	if err := validateKeys(trimmed, claimAllowedKeys, claimRequiredKeys); err != nil {
		return nil, 0, err
	}

	var v domain.ClaimExtraction
	if err := strictDecode([]byte(trimmed), &v); err != nil {
		return nil, 0, err
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, 0, fmt.Errorf("confidence %.2f outside [0,1]", v.Confidence)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, 0, err
	}
	return out, v.Confidence, nil
}

// stripCodeFence removes a surrounding ```json fence some models emit even
// in JSON mode.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func strictDecode(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

func validateKeys(raw string, allowed map[string]struct{}, required []string) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &rawMap); err != nil {
		return err
	}
	for k := range rawMap {
		if _, ok := allowed[k]; !ok {
			return fmt.Errorf("unknown key %q, allowed: %v", k, sortedKeys(allowed))
		}
	}
	for _, req := range required {
		if _, ok := rawMap[req]; !ok {
			return fmt.Errorf("missing required key %q", req)
		}
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
