package stages

import (
	"bytes"
	"context"
	"unicode/utf8"

	"claims-orchestrator/internal/workflow"
)

var binarySignatures = [][]byte{
	[]byte("%PDF-"),
	{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'},
	{0xff, 0xd8, 0xff},
	[]byte("PK\x03\x04"),
}

// IsPlainText reports whether content looks like a UTF-8 text document.
func IsPlainText(content []byte) bool {
	if len(bytes.TrimSpace(content)) == 0 {
		return false
	}
	for _, sig := range binarySignatures {
		if bytes.HasPrefix(content, sig) {
			return false
		}
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return false
	}
	return utf8.Valid(content)
}

// TextParser accepts plain text documents only. OCR is out of scope.
type TextParser struct{}

func (TextParser) Run(_ context.Context, req workflow.StageRequest) (workflow.StageResult, error) {
	if !IsPlainText(req.Document) {
		return failed("document is not plain UTF-8 text", nil), nil
	}
	return workflow.Succeeded(workflow.ParsedDocument{
		Filename: req.Claim.Record.Metadata[workflow.MetaFilename],
		Text:     string(req.Document),
	}, nil)
}
