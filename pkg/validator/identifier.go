package validator

import (
	"errors"
	"strings"

	playground "github.com/go-playground/validator/v10"
)

var (
	// ErrEmptyIdentifier indicates the identifier is empty
	ErrEmptyIdentifier = errors.New("identifier cannot be empty")

	// ErrInvalidPhone indicates the phone number cannot be normalised to E.164
	ErrInvalidPhone = errors.New("phone number must be a valid international number")

	// ErrInvalidEmail indicates the email address is malformed
	ErrInvalidEmail = errors.New("email address is invalid")
)

// Channel is the delivery channel an identifier resolves to
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Identifier is a normalised phone number or email address
type Identifier struct {
	Value   string
	Channel Channel
}

// IdentifierValidator normalises guest contact identifiers
type IdentifierValidator struct {
	countryCode string
	validate    *playground.Validate
}

// NewIdentifierValidator creates a validator. Local numbers with a leading
// zero are rewritten with countryCode (digits only, e.g. "94").
func NewIdentifierValidator(countryCode string) *IdentifierValidator {
	return &IdentifierValidator{
		countryCode: strings.TrimPrefix(countryCode, "+"),
		validate:    playground.New(),
	}
}

// Normalize resolves raw into an identifier. Anything containing "@" is
// treated as an email address, everything else as a phone number.
func (v *IdentifierValidator) Normalize(raw string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identifier{}, ErrEmptyIdentifier
	}

	if strings.Contains(raw, "@") {
		email, err := v.NormalizeEmail(raw)
		if err != nil {
			return Identifier{}, err
		}
		return Identifier{Value: email, Channel: ChannelEmail}, nil
	}

	phone, err := v.NormalizePhone(raw)
	if err != nil {
		return Identifier{}, err
	}
	return Identifier{Value: phone, Channel: ChannelSMS}, nil
}

// NormalizeEmail lower-cases and validates an email address
func (v *IdentifierValidator) NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := v.validate.Var(email, "required,email"); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// NormalizePhone converts a phone number to E.164
// Accepts: +94771234567, 0094771234567, 94771234567, 077 123 4567, (077) 123-4567
func (v *IdentifierValidator) NormalizePhone(phone string) (string, error) {
	sanitized := Sanitize(phone)
	if sanitized == "" {
		return "", ErrInvalidPhone
	}

	switch {
	case strings.HasPrefix(sanitized, "+"):
	case strings.HasPrefix(sanitized, "00"):
		sanitized = "+" + sanitized[2:]
	case strings.HasPrefix(sanitized, "0"):
		if v.countryCode == "" {
			return "", ErrInvalidPhone
		}
		sanitized = "+" + v.countryCode + sanitized[1:]
	default:
		sanitized = "+" + sanitized
	}

	if err := v.validate.Var(sanitized, "e164"); err != nil {
		return "", ErrInvalidPhone
	}
	return sanitized, nil
}

// IsValid is a convenience method that returns true if raw normalises
func (v *IdentifierValidator) IsValid(raw string) bool {
	_, err := v.Normalize(raw)
	return err == nil
}

// Sanitize removes common separators from a phone number, keeping a leading +
func Sanitize(phone string) string {
	phone = strings.TrimSpace(phone)
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	phone = replacer.Replace(phone)

	if strings.HasPrefix(phone, "+") {
		return "+" + strings.ReplaceAll(phone[1:], "+", "")
	}
	return strings.ReplaceAll(phone, "+", "")
}
