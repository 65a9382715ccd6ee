package parser

import "regexp"

// OTPExtractor pulls one-time passcodes out of email text
type OTPExtractor struct {
	patterns []*otpPattern
}

type otpPattern struct {
	Name  string
	Regex *regexp.Regexp
}

// NewOTPExtractor creates an extractor. Patterns are tried in order and the
// first match wins; bare numbers come first, so any 6 or 4 digit number in
// the body is taken even when it is not a code.
func NewOTPExtractor() *OTPExtractor {
	return &OTPExtractor{
		patterns: []*otpPattern{
			{Name: "six_digits", Regex: regexp.MustCompile(`\b(\d{6})\b`)},
			{Name: "four_digits", Regex: regexp.MustCompile(`\b(\d{4})\b`)},
			{Name: "code", Regex: regexp.MustCompile(`(?i)code[:\s]+(\d{4,8})`)},
			{Name: "otp", Regex: regexp.MustCompile(`(?i)otp[:\s]+(\d{4,8})`)},
			{Name: "passcode", Regex: regexp.MustCompile(`(?i)passcode[:\s]+(\d{4,8})`)},
			{Name: "verification", Regex: regexp.MustCompile(`(?i)verification[:\s]+(\d{4,8})`)},
			{Name: "one_time", Regex: regexp.MustCompile(`(?i)one-time\s+(?:password|passcode|code)[:\s]+(\d{4,8})`)},
		},
	}
}

// Extract returns the first code found in text
func (e *OTPExtractor) Extract(text string) (string, bool) {
	for _, p := range e.patterns {
		if m := p.Regex.FindStringSubmatch(text); len(m) > 1 {
			return m[1], true
		}
	}
	return "", false
}
