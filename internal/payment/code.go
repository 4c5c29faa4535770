package payment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Default correlation code delimiters
const (
	DefaultPrefix = "DH"
	DefaultSuffix = "PAY"
)

// Codec derives correlation codes from payment attempt ids.
// A code is Prefix + decimal id + Suffix, always upper case.
type Codec struct {
	prefix  string
	suffix  string
	pattern *regexp.Regexp
}

// NewCodec builds a codec; prefix and suffix must be non-empty letters so
// that the numeric id stays delimited inside free-text narrations.
func NewCodec(prefix, suffix string) (*Codec, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	suffix = strings.ToUpper(strings.TrimSpace(suffix))
	if !lettersOnly(prefix) || !lettersOnly(suffix) {
		return nil, fmt.Errorf("payment code prefix and suffix must be letters, got %q/%q", prefix, suffix)
	}

	pattern := regexp.MustCompile(regexp.QuoteMeta(prefix) + `([0-9]+)` + regexp.QuoteMeta(suffix))
	return &Codec{prefix: prefix, suffix: suffix, pattern: pattern}, nil
}

// MustCodec is NewCodec that panics on invalid delimiters
func MustCodec(prefix, suffix string) *Codec {
	c, err := NewCodec(prefix, suffix)
	if err != nil {
		panic(err)
	}
	return c
}

// Format returns the correlation code for an attempt id
func (c *Codec) Format(attemptID int64) string {
	return c.prefix + strconv.FormatInt(attemptID, 10) + c.suffix
}

// Parse recovers the attempt id from a code
func (c *Codec) Parse(code string) (int64, error) {
	normalized := Normalize(code)
	if len(normalized) <= len(c.prefix)+len(c.suffix) ||
		!strings.HasPrefix(normalized, c.prefix) || !strings.HasSuffix(normalized, c.suffix) {
		return 0, fmt.Errorf("invalid payment code: %q", code)
	}

	digits := normalized[len(c.prefix) : len(normalized)-len(c.suffix)]
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" || digits[0] == '0' {
		return 0, fmt.Errorf("invalid payment code: %q", code)
	}

	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid payment code: %q", code)
	}
	return id, nil
}

// Extract returns every well-formed code contained in a bank narration,
// in order of appearance and without duplicates.
func (c *Codec) Extract(narration string) []string {
	matches := c.pattern.FindAllString(Normalize(narration), -1)

	seen := make(map[string]bool, len(matches))
	codes := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m] {
			continue
		}
		if _, err := c.Parse(m); err != nil {
			continue
		}
		seen[m] = true
		codes = append(codes, m)
	}
	return codes
}

// Normalize upper-cases s and drops everything that is not a letter or digit.
// Banking rails insert spaces, dashes and dots into transfer content freely.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

func lettersOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
