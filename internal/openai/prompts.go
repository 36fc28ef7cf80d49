package openai

import (
	"strings"

	"claims-orchestrator/internal/domain"
)

const BASE_SYSTEM = `You are a healthcare claim extraction engine.
You read CMS-1500 and UB-04 style claim documents and output ONLY valid JSON.
No markdown. No comments. No extra keys.
If a value is unknown, use null for strings.
Dates must be ISO format YYYY-MM-DD.`

const BASE_USER_TEMPLATE = `Extract the claim below into JSON that matches EXACTLY this schema.

Rules:
- Output JSON only, using the schema keys exactly.
- Amounts are plain numbers without currency symbols.
- provider_npi is the 10 digit National Provider Identifier.
- diagnosis_codes are ICD-10 codes without descriptions.
- Each line item carries its CPT/HCPCS procedure code, units and billed amount.
- total_billed is the claim total as printed on the document.
- confidence is a number between 0 and 1. If a required field is missing, set it to null and keep confidence below 0.6.

Schema (JSON Schema):
{{JSON_SCHEMA}}

Claim document:
{{DOC_TEXT}}

Return JSON only.`

const REPAIR_SYSTEM = `You are a strict JSON repair engine.
You receive output that failed parsing or schema validation.
Return ONLY corrected JSON that matches the schema exactly.
No markdown. No commentary. No extra keys. No surrounding text.`

const REPAIR_USER_TEMPLATE = `The previous output was invalid or did not match the schema.

Schema (JSON Schema):
{{JSON_SCHEMA}}

Parse error:
{{PARSE_ERROR}}

Invalid output:
{{MODEL_OUTPUT}}

Return the fixed JSON only.`

const CORRECT_SYSTEM = `You are a healthcare claim correction engine.
Output ONLY valid JSON matching the schema exactly.
No markdown. No commentary. No extra keys.`

const CORRECT_USER_TEMPLATE = `The extracted claim failed validation.
Correct ONLY the fields listed below, using the claim document as the source of truth.
If the document does not support a correction, keep the original value and lower confidence.

Schema (JSON Schema):
{{JSON_SCHEMA}}

Claim document:
{{DOC_TEXT}}

Current claim JSON:
{{CURRENT_JSON}}

Validation errors:
{{FAILED_RULES}}

Return the corrected JSON only.`

func RenderTemplate(tpl string, vars map[string]string) string {
	rendered := tpl
	for k, v := range vars {
		rendered = strings.ReplaceAll(rendered, "{{"+k+"}}", v)
	}
	return rendered
}

func BuildBaseUserPrompt(docText string) string {
	return RenderTemplate(BASE_USER_TEMPLATE, map[string]string{
		"JSON_SCHEMA": domain.ClaimJSONSchema,
		"DOC_TEXT":    docText,
	})
}

func BuildRepairUserPrompt(modelOutput string, parseErr error) string {
	msg := "unknown"
	if parseErr != nil {
		msg = parseErr.Error()
	}
	return RenderTemplate(REPAIR_USER_TEMPLATE, map[string]string{
		"JSON_SCHEMA":  domain.ClaimJSONSchema,
		"PARSE_ERROR":  msg,
		"MODEL_OUTPUT": modelOutput,
	})
}

func BuildCorrectUserPrompt(docText string, currentJSON string, issues []domain.ValidationIssue) string {
	return RenderTemplate(CORRECT_USER_TEMPLATE, map[string]string{
		"JSON_SCHEMA":  domain.ClaimJSONSchema,
		"DOC_TEXT":     docText,
		"CURRENT_JSON": currentJSON,
		"FAILED_RULES": formatIssues(issues),
	})
}

func formatIssues(issues []domain.ValidationIssue) string {
	if len(issues) == 0 {
		return "- none reported"
	}
	var b strings.Builder
	for i, issue := range issues {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(issue.Field)
		b.WriteString(": ")
		b.WriteString(issue.Rule)
		if issue.Message != "" {
			b.WriteString(" (")
			b.WriteString(issue.Message)
			b.WriteString(")")
		}
	}
	return b.String()
}
