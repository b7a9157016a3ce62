// Package leads holds the validation rules shared by the lead form and the
// checkout contact step. Invalid input never reaches the store; every rule
// reports a field-level code the front end can map to an inline message.
package leads

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Field-level validation codes returned to the client.
const (
	CodeRequired          = "required"
	CodeTooShort          = "too_short"
	CodeInvalidCharacters = "invalid_characters"
	CodeInvalidEmail      = "invalid_email"
	CodeDisposableEmail   = "disposable_email"
	CodeInvalidPhone      = "invalid_phone"
	CodeConsentRequired   = "consent_required"
)

// emailPattern accepts the practical shape of an address. Deliverability is
// the mail provider's problem, not ours.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidationError reports a single failed field with a stable code and a
// user-facing message in Portuguese.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Code)
}

// ContactInput is the raw contact data submitted by the lead form or the
// checkout contact step.
type ContactInput struct {
	Name        string
	Email       string
	Phone       string
	LGPDConsent bool
}

// ValidateContact runs every field rule and returns one error per failed
// field. An empty slice means the input is acceptable.
func ValidateContact(in ContactInput) []ValidationError {
	var errs []ValidationError
	if err := ValidateName(in.Name); err != nil {
		errs = append(errs, *err)
	}
	if err := ValidateEmail(in.Email); err != nil {
		errs = append(errs, *err)
	}
	if in.Phone != "" {
		if err := ValidatePhone(in.Phone); err != nil {
			errs = append(errs, *err)
		}
	}
	if !in.LGPDConsent {
		errs = append(errs, ValidationError{
			Field:   "lgpd_consent",
			Code:    CodeConsentRequired,
			Message: "É necessário aceitar a política de privacidade",
		})
	}
	return errs
}

// ValidateName requires at least three letters and allows only letters and
// spaces. Accented characters count as letters.
func ValidateName(name string) *ValidationError {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Field: "name", Code: CodeRequired, Message: "Nome é obrigatório"}
	}

	letters := 0
	for _, r := range name {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsSpace(r):
		default:
			return &ValidationError{Field: "name", Code: CodeInvalidCharacters, Message: "Nome deve conter apenas letras"}
		}
	}
	if letters < 3 {
		return &ValidationError{Field: "name", Code: CodeTooShort, Message: "Nome deve ter pelo menos 3 letras"}
	}
	return nil
}

// ValidateEmail checks the address shape and rejects known disposable
// providers.
func ValidateEmail(email string) *ValidationError {
	email = NormalizeEmail(email)
	if email == "" {
		return &ValidationError{Field: "email", Code: CodeRequired, Message: "E-mail é obrigatório"}
	}
	if len(email) > 254 || !emailPattern.MatchString(email) {
		return &ValidationError{Field: "email", Code: CodeInvalidEmail, Message: "E-mail inválido"}
	}
	if IsDisposableDomain(EmailDomain(email)) {
		return &ValidationError{Field: "email", Code: CodeDisposableEmail, Message: "E-mails temporários não são aceitos"}
	}
	return nil
}

// ValidatePhone accepts Brazilian numbers: an optional +55 country code
// followed by a two-digit area code and an 8 or 9 digit subscriber number.
// Separators like spaces, dots, dashes and parentheses are ignored.
func ValidatePhone(phone string) *ValidationError {
	invalid := &ValidationError{Field: "phone", Code: CodeInvalidPhone, Message: "Telefone inválido"}

	digits := make([]rune, 0, len(phone))
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, r)
		case r == '+' && i == 0:
		case r == ' ' || r == '(' || r == ')' || r == '-' || r == '.':
		default:
			return invalid
		}
	}

	number := string(digits)
	if strings.HasPrefix(phone, "+") {
		if !strings.HasPrefix(number, "55") {
			return invalid
		}
		number = number[2:]
	} else if len(number) >= 12 && strings.HasPrefix(number, "55") {
		number = number[2:]
	}

	if len(number) != 10 && len(number) != 11 {
		return invalid
	}
	// Area codes run from 11 to 99.
	if number[0] == '0' {
		return invalid
	}
	// Nine-digit subscriber numbers are mobile and always start with 9.
	if len(number) == 11 && number[2] != '9' {
		return invalid
	}
	return nil
}

// NormalizeEmail lowercases and trims an address so lookups and rate-limit
// keys treat case variants as the same person.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CleanName trims a submitted name and collapses internal whitespace runs.
func CleanName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// EmailDomain returns the domain part of an address, or "" when the address
// has no "@".
func EmailDomain(email string) string {
	parts := strings.SplitN(NormalizeEmail(email), "@", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}
