package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOTPExtractor_Extract(t *testing.T) {
	e := NewOTPExtractor()

	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"code with label", "Your code: 482913", "482913", true},
		{"no digits", "Hello, welcome!", "", false},
		{"six digit wins over four", "PIN 1234, login code 987654", "987654", true},
		{"four digit only", "Use 4821 to sign in", "4821", true},
		{"keyword with eight digits", "OTP: 12345678", "12345678", true},
		{"one-time password", "Your one-time password is below.\none-time password: 55443322", "55443322", true},
		{"long numbers ignored", "Order 1234567890 shipped", "", false},
		{"false positive on year", "Copyright 2026", "2026", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := e.Extract(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "john@example.com", NormalizeAddress(`"John Doe" <John@Example.com>`))
	assert.Equal(t, "plain@example.com", NormalizeAddress("  plain@example.com "))
	assert.Equal(t, "not an address", NormalizeAddress("Not An Address"))
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("me@example.com"))
	assert.True(t, ValidEmail("first.last+tag@sub.example.org"))
	assert.False(t, ValidEmail("me@localhost"))
	assert.False(t, ValidEmail("Me <me@example.com>"))
	assert.False(t, ValidEmail("nope"))
	assert.False(t, ValidEmail(""))
}

func TestHTMLParser_Parse(t *testing.T) {
	p := NewHTMLParser()

	text, err := p.Parse(`<html><head><style>p{color:red}</style></head>
<body><p>Hello&nbsp;there</p><div>Your code is <b>123456</b></div><script>alert(1)</script></body></html>`)
	require.NoError(t, err)
	assert.Contains(t, text, "Hello")
	assert.Contains(t, text, "Your code is 123456")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color")
}

func TestHTMLParser_ParseCleansText(t *testing.T) {
	p := NewHTMLParser()

	text, err := p.Parse(`<div>Code&#8203;:   <b>42&#8203;17</b></div><p>  </p><p>Visit <a href="https://x.example/v?c=9">here</a></p>`)
	require.NoError(t, err)
	assert.Equal(t, "Code: 4217\nVisit here (https://x.example/v?c=9)", text)
}

func TestHTMLParser_Body(t *testing.T) {
	p := NewHTMLParser()
	assert.Equal(t, "plain", p.Body(" plain ", "<p>html</p>"))
	assert.Equal(t, "html", p.Body("", "<p>html</p>"))
	assert.Equal(t, "", p.Body("", ""))
}
