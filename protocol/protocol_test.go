package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/furin-lab/nanika/ghosterr"
)

func TestParseRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
	}{
		{"no refs", NewRequest(MethodGet, "SHIORI/3.0", "OnSecondChange")},
		{"boot", NewRequest(MethodGet, "SHIORI/3.0", "OnBoot", "nanika", "1.0.0", "linux")},
		{"empty ref", NewRequest(MethodNotify, "SHIORI/3.0", "OnMouseClick", "0", "", "120", "0")},
		{"colon in ref", NewRequest(MethodGet, "SHIORI/3.0", "OnTalk", "time: 12:00")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest(FormatRequest(tt.req))
			require.NoError(t, err)
			assert.Equal(t, tt.req.Method, got.Method)
			assert.Equal(t, tt.req.Version, got.Version)
			assert.Equal(t, tt.req.ID, got.ID)
			assert.Equal(t, tt.req.References, got.References)
		})
	}
}

func TestFormatRequestLayout(t *testing.T) {
	req := NewRequest(MethodGet, "SHIORI/3.0", "OnBoot", "a", "b")
	assert.Equal(t, "GET SHIORI/3.0\r\nID: OnBoot\r\nReference0: a\r\nReference1: b\r\n\r\n", FormatRequest(req))
}

func TestParseRequestLF(t *testing.T) {
	req, err := ParseRequest("NOTIFY SSTP/1.1\nSender: tester\nCharset: UTF-8\nEvent: OnTest\nReference2: z\n\n")
	require.NoError(t, err)

	assert.Equal(t, MethodNotify, req.Method)
	assert.Equal(t, "SSTP/1.1", req.Version)
	assert.Equal(t, "tester", req.Headers.Get(HeaderSender))
	assert.Equal(t, "OnTest", req.Headers.Get(HeaderEvent))
	assert.Equal(t, []string{"", "", "z"}, req.References)
	assert.Equal(t, []string{"Sender", "Charset", "Event", "Reference2"}, req.Headers.Keys())
}

func TestParseRequestSkipsBadHeaders(t *testing.T) {
	req, err := ParseRequest("GET SHIORI/3.0\r\nnot a header\r\nID: OnBoot\r\n: empty\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "OnBoot", req.ID)
	assert.Equal(t, 1, req.Headers.Len())
}

func TestParseRequestShiori2(t *testing.T) {
	req, err := ParseRequest("GET Version SHIORI/2.6\r\nCharset: UTF-8\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "Version", req.ID)
	assert.Equal(t, "SHIORI/2.6", req.Version)
}

func TestParseRequestBody(t *testing.T) {
	req, err := ParseRequest("SEND SSTP/1.4\r\nSender: x\r\nContent-Length: 5\r\n\r\nhello world")
	require.NoError(t, err)
	assert.Equal(t, "hello", req.Body)

	req, err = ParseRequest("SEND SSTP/1.4\r\nSender: x\r\n\r\nrest")
	require.NoError(t, err)
	assert.Equal(t, "rest", req.Body)
}

func TestParseRequestErrors(t *testing.T) {
	for _, text := range []string{"", "\r\n\r\n", "GET\r\n\r\n", "FETCH SHIORI/3.0\r\n\r\n", "get SHIORI/3.0\r\n\r\n"} {
		_, err := ParseRequest(text)
		assert.ErrorIs(t, err, ghosterr.ErrParse, "%q", text)
	}
}

func TestEvaluateTrust(t *testing.T) {
	parse := func(text string) *Request {
		req, err := ParseRequest(text)
		require.NoError(t, err)
		return req
	}

	local := parse("SEND SSTP/1.4\r\nSecurityLevel: local\r\nSecurityToken: s3cret\r\n\r\n")
	assert.Equal(t, TrustLocal, local.EvaluateTrust("s3cret"))
	assert.Equal(t, TrustLocal, local.Trust)

	assert.Equal(t, TrustExternal, local.EvaluateTrust("other"))
	assert.Equal(t, TrustExternal, local.EvaluateTrust(""), "empty configured token never trusts")

	noToken := parse("SEND SSTP/1.4\r\nSecurityLevel: local\r\n\r\n")
	assert.Equal(t, TrustExternal, noToken.EvaluateTrust("s3cret"))

	external := parse("SEND SSTP/1.4\r\nSecurityLevel: external\r\nSecurityToken: s3cret\r\n\r\n")
	assert.Equal(t, TrustExternal, external.EvaluateTrust("s3cret"))

	unset := parse("SEND SSTP/1.4\r\n\r\n")
	assert.Equal(t, TrustExternal, unset.EvaluateTrust("s3cret"))
}

func TestExtractValue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "SHIORI/3.0 200 OK\r\nValue: \\h\\s[0]Hi\\e\r\n\r\n", "\\h\\s[0]Hi\\e"},
		{"multi line", "SHIORI/3.0 200 OK\r\nValue: line one\r\nline two\r\n  line three  \r\n\r\nignored", "line one\nline two\n  line three"},
		{"bare lf", "SHIORI/3.0 200 OK\nSender: x\nValue:  padded \n\n", "padded"},
		{"no value", "SHIORI/3.0 204 No Content\r\n\r\n", ""},
		{"empty value", "SHIORI/3.0 200 OK\r\nValue: \r\n\r\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractValue(tt.in))
		})
	}
}

func TestFormatResponse(t *testing.T) {
	resp := NewResponse(StatusOK, "\\h\\s[0]Hi\\e")
	assert.Equal(t, "SHIORI/3.0 200 OK\r\nContent-Type: text/plain\r\nValue: \\h\\s[0]Hi\\e\r\n\r\n", FormatResponse(resp))

	resp = NewResponse(StatusNoContent, "")
	resp.Version = "SHIORI/3.0"
	resp.Headers.Set(HeaderSender, "nanika")
	assert.Equal(t, "SHIORI/3.0 204 No Content\r\nContent-Type: text/plain\r\nSender: nanika\r\nValue: \r\n\r\n", FormatResponse(resp))
}

func TestResponseMultiLineRoundTrip(t *testing.T) {
	value := "first\nsecond\nthird"
	text := FormatResponse(NewResponse(StatusOK, value))
	assert.Equal(t, value, ExtractValue(text))

	parsed, err := ParseResponse(text)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, parsed.StatusCode)
	assert.Equal(t, "OK", parsed.StatusText)
	assert.Equal(t, value, parsed.Value)
	assert.False(t, parsed.Headers.Has(HeaderValue))
}

func TestFormatStatus(t *testing.T) {
	resp := NewResponse(StatusBadRequest, "")
	resp.Version = "SSTP/1.4"
	resp.Headers.Set(HeaderCharset, "UTF-8")
	resp.Headers.Set(HeaderSender, "nanika")
	assert.Equal(t, "SSTP/1.4 400 Bad Request\r\nCharset: UTF-8\r\nSender: nanika\r\n\r\n", FormatStatus(resp))
}

func TestParseResponseErrors(t *testing.T) {
	_, err := ParseResponse("garbage")
	assert.ErrorIs(t, err, ghosterr.ErrParse)
	_, err = ParseResponse("SHIORI/3.0 abc OK\r\n\r\n")
	assert.ErrorIs(t, err, ghosterr.ErrParse)
}

func TestHeadersOrder(t *testing.T) {
	var h Headers
	h.Set("B", "1")
	h.Set("A", "2")
	h.Set("B", "3")
	assert.Equal(t, []string{"B", "A"}, h.Keys())
	assert.Equal(t, "3", h.Get("B"))
	assert.False(t, h.Has("b"), "names are case-sensitive")

	h.Del("B")
	assert.Equal(t, []string{"A"}, h.Keys())
	_, ok := h.Lookup("B")
	assert.False(t, ok)
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "Not Local IP", StatusText(StatusNotLocalIP))
	assert.Equal(t, "", StatusText(299))
}
