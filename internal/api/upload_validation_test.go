package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUploadAcceptsOnlyPlainTextClaims(t *testing.T) {
	cases := []struct {
		name string
		body []byte
		want int
	}{
		{"claim form text", []byte("CLAIM FORM\npatient: Jane Roe\nmember id: M-1\nprocedure 99213 x1 $125.00\n"), http.StatusAccepted},
		{"utf8 names", []byte("patient: Zoë Ñúñez\nprovider: Clínica Sur\n"), http.StatusAccepted},
		{"whitespace only", []byte(" \n\t "), http.StatusUnsupportedMediaType},
		{"invalid utf8", []byte{0xff, 0xfe, 0xfd}, http.StatusUnsupportedMediaType},
		{"nul bytes", []byte("claim\x00form"), http.StatusUnsupportedMediaType},
		{"scanned pdf", []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n"), http.StatusUnsupportedMediaType},
		{"png scan", []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d}, http.StatusUnsupportedMediaType},
		{"zip archive", []byte("PK\x03\x04claims.csv"), http.StatusUnsupportedMediaType},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			body, ct := multipartBody(t, "claim.txt", tc.body, nil)
			rec := f.do(t, http.MethodPost, "/v1/claims", body, ct)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			if tc.want != http.StatusAccepted {
				assert.Empty(t, f.temporal.starts)
			}
		})
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	f := newFixture(t, nil)
	h := NewHandler(Options{AllowedUploadBytes: 16}, f.states, f.queue, f.blobs, f.temporal)
	f.router = NewRouter(h)

	body, ct := multipartBody(t, "claim.txt", []byte("this claim text is longer than sixteen bytes"), nil)
	rec := f.do(t, http.MethodPost, "/v1/claims", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.temporal.starts)
}
