package util

import (
	"errors"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidPhone = errors.New("invalid phone number")
	ErrInvalidCode  = errors.New("verification code must be 4 to 8 digits")

	e164Pattern    = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)
	codePattern    = regexp.MustCompile(`^[0-9]{4,8}$`)
	phoneSeparator = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

const maxNameLength = 80

// SanitizeInput escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious reports markup or template fragments in free text.
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	lower := strings.ToLower(s)
	for _, c := range badChars {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// NormalizePhone strips common separators and requires E.164 form.
func NormalizePhone(raw string) (string, error) {
	phone := phoneSeparator.Replace(strings.TrimSpace(raw))
	if strings.HasPrefix(phone, "00") {
		phone = "+" + phone[2:]
	}
	if !e164Pattern.MatchString(phone) {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

// ValidateOTPCode accepts only the digit codes the issuer can produce.
func ValidateOTPCode(code string) error {
	if !codePattern.MatchString(code) {
		return ErrInvalidCode
	}
	return nil
}

// SanitizeName trims a display name, escapes markup and caps its length.
func SanitizeName(name string) string {
	name = SanitizeInput(name)
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}
	return name
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
