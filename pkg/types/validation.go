package types

import (
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator with the custom tags registered
// FUNCTIONAL DISCOVERY: "dottedquad" is stricter than validator's builtin ipv4
// (which also accepts IPv4-mapped IPv6 text) so matching and validation agree
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("dottedquad", func(fl validator.FieldLevel) bool {
			return IsValidIPv4(fl.Field().String())
		})
	})
	return validate
}

// Validate checks the create-session input
func (in *CreateSessionInput) Validate() error {
	return structError("session.Create", Validator().Struct(in))
}

// Validate checks the join input
func (in *MarkAttendanceInput) Validate() error {
	return structError("attendance.Mark", Validator().Struct(in))
}

// structError converts validator output into a ValidationError naming the first bad field
func structError(op string, err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		switch fe.Tag() {
		case "required":
			return NewValidationError(op, fe.Field()+" is required")
		case "max":
			return NewValidationError(op, fe.Field()+" must be at most "+fe.Param()+" characters")
		case "dottedquad":
			return NewValidationError(op, fe.Field()+" must be an IPv4 dotted-quad address")
		default:
			return NewValidationError(op, fe.Field()+" is invalid")
		}
	}
	return &Error{Kind: ErrValidation, Op: op, Message: "invalid input", Err: err}
}

// ParseIPv4 splits a dotted-quad address into its four octets.
// It accepts exactly four dot-separated groups of 1-3 decimal digits, each 0-255.
func ParseIPv4(addr string) ([4]int, bool) {
	var octets [4]int
	parts := strings.Split(addr, ".")
	if len(parts) != 4 {
		return octets, false
	}
	for i, part := range parts {
		if len(part) == 0 || len(part) > 3 {
			return octets, false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return octets, false
			}
		}
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return octets, false
		}
		octets[i] = n
	}
	return octets, true
}

// IsValidIPv4 reports whether addr is a well-formed dotted-quad
func IsValidIPv4(addr string) bool {
	_, ok := ParseIPv4(addr)
	return ok
}

// IsValidStatus checks membership in the status enumeration
func IsValidStatus(status AttendanceStatus) bool {
	switch status {
	case StatusPresent, StatusAbsent, StatusLate:
		return true
	default:
		return false
	}
}
