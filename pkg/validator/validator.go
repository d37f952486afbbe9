package validator

import (
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var msgs []string
	for _, e := range v {
		msgs = append(msgs, e.Field+": "+e.Message)
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any errors
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// Add adds a validation error
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// ValidateEmail validates an email address
func ValidateEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

// ValidateName validates a user name
func ValidateName(name string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	return n >= 2 && n <= 100
}

// ValidateURL accepts absolute http and https links.
func ValidateURL(raw string) bool {
	u, err := url.ParseRequestURI(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ValidatePartnership checks a landing-page partnership request.
func ValidatePartnership(name, email, website string) ValidationErrors {
	var errs ValidationErrors
	if !ValidateName(name) {
		errs.Add("name", "Имя обязательно для заполнения.")
	}
	if !ValidateEmail(email) {
		errs.Add("email", "Введите корректный email.")
	}
	if !ValidateURL(website) {
		errs.Add("website", "Введите корректную ссылку на ваш ресурс.")
	}
	return errs
}

// ValidatePaymentDetails checks the free-form payout requisites.
func ValidatePaymentDetails(details string) ValidationErrors {
	var errs ValidationErrors
	details = strings.TrimSpace(details)
	switch {
	case details == "":
		errs.Add("paymentDetails", "Укажите платежные реквизиты.")
	case utf8.RuneCountInString(details) > 1000:
		errs.Add("paymentDetails", "Слишком длинные реквизиты.")
	}
	return errs
}

// Fields flattens the errors into a field to message map, first message wins.
func (v ValidationErrors) Fields() map[string]string {
	if len(v) == 0 {
		return nil
	}
	out := make(map[string]string, len(v))
	for _, e := range v {
		if _, ok := out[e.Field]; !ok {
			out[e.Field] = e.Message
		}
	}
	return out
}

// SanitizeString trims whitespace and limits length in runes
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxLen {
		return string([]rune(s)[:maxLen])
	}
	return s
}

// SanitizeEmail normalizes an email address
func SanitizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
