package refund

import (
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Status constants for a refund request.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// Domain errors
var (
	ErrInvalidEnrollmentID = errors.New("refund must reference a session enrollment")
	ErrEmptyReason         = errors.New("refund reason is required")
	ErrNegativeAmount      = errors.New("refund amount cannot be negative")
	ErrInvalidAccount      = errors.New("account number must contain 8 to 20 digits")
	ErrIncompleteAccount   = errors.New("bank name, account number and holder must be given together")
	ErrDetailedReasonLong  = errors.New("detailed reason is too long")
)

// MaxDetailedReasonLen caps the free-text explanation, in characters.
const MaxDetailedReasonLen = 1000

// Request carries the user-supplied fields of a refund request.
type Request struct {
	SessionEnrollmentID int64  `json:"sessionEnrollmentId"`
	Reason              string `json:"reason"`
	DetailedReason      string `json:"detailedReason,omitempty"`
	RefundAmount        *int64 `json:"refundAmount,omitempty"`
	BankName            string `json:"bankName,omitempty"`
	AccountNumber       string `json:"accountNumber,omitempty"`
	AccountHolder       string `json:"accountHolder,omitempty"`
}

// Validate checks the request before it is sent.
// PRE: Request struct is populated from user input
// POST: Returns nil if valid, a field-scoped error otherwise
func (r *Request) Validate() error {
	if r.SessionEnrollmentID <= 0 {
		return ErrInvalidEnrollmentID
	}
	if strings.TrimSpace(r.Reason) == "" {
		return ErrEmptyReason
	}
	if utf8.RuneCountInString(r.DetailedReason) > MaxDetailedReasonLen {
		return ErrDetailedReasonLong
	}
	if r.RefundAmount != nil && *r.RefundAmount < 0 {
		return ErrNegativeAmount
	}
	given := 0
	for _, f := range []string{r.BankName, r.AccountNumber, r.AccountHolder} {
		if strings.TrimSpace(f) != "" {
			given++
		}
	}
	if given != 0 && given != 3 {
		return ErrIncompleteAccount
	}
	if r.AccountNumber != "" && !validAccountNumber(r.AccountNumber) {
		return ErrInvalidAccount
	}
	return nil
}

// Field names the input field a validation error belongs to.
func Field(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEnrollmentID):
		return "sessionEnrollmentId"
	case errors.Is(err, ErrEmptyReason):
		return "reason"
	case errors.Is(err, ErrNegativeAmount):
		return "refundAmount"
	case errors.Is(err, ErrInvalidAccount), errors.Is(err, ErrIncompleteAccount):
		return "accountNumber"
	case errors.Is(err, ErrDetailedReasonLong):
		return "detailedReason"
	}
	return ""
}

// validAccountNumber accepts digits with optional dashes or spaces.
func validAccountNumber(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '-' || r == ' ':
		default:
			return false
		}
	}
	return digits >= 8 && digits <= 20
}

// Refund is a refund request record as held by the client.
type Refund struct {
	ID                  int64     `json:"id"`
	SessionEnrollmentID int64     `json:"sessionEnrollmentId"`
	Reason              string    `json:"reason"`
	DetailedReason      string    `json:"detailedReason,omitempty"`
	RefundAmount        *int64    `json:"refundAmount,omitempty"`
	BankName            string    `json:"bankName,omitempty"`
	AccountNumber       string    `json:"accountNumber,omitempty"`
	AccountHolder       string    `json:"accountHolder,omitempty"`
	Status              string    `json:"status"`
	RequestedAt         time.Time `json:"requestedAt"`
	ProcessedAt         time.Time `json:"processedAt,omitempty"`
}

// FromRequest builds the provisional record shown before confirmation.
// POST: AccountNumber is masked down to its last four digits
func FromRequest(r Request, now time.Time) Refund {
	return Refund{
		SessionEnrollmentID: r.SessionEnrollmentID,
		Reason:              r.Reason,
		DetailedReason:      r.DetailedReason,
		RefundAmount:        r.RefundAmount,
		BankName:            strings.TrimSpace(r.BankName),
		AccountNumber:       MaskAccountNumber(r.AccountNumber),
		AccountHolder:       strings.TrimSpace(r.AccountHolder),
		Status:              StatusPending,
		RequestedAt:         now,
	}
}

// MaskAccountNumber keeps the last four digits, e.g. "123-456-7890" becomes
// "******7890". Empty input stays empty.
func MaskAccountNumber(s string) string {
	var digits []rune
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 4 {
		return string(digits)
	}
	return strings.Repeat("*", len(digits)-4) + string(digits[len(digits)-4:])
}

// RecordID returns the server-assigned id (zero while provisional).
func (r Refund) RecordID() int64 { return r.ID }

// TargetID returns the session enrollment the refund is for.
func (r Refund) TargetID() int64 { return r.SessionEnrollmentID }

// RecordStatus returns the current status.
func (r Refund) RecordStatus() string { return r.Status }

// WithStatus returns a copy carrying status s.
func (r Refund) WithStatus(s string) Refund {
	r.Status = s
	return r
}

// IsActive reports whether the refund is still open or granted.
func (r Refund) IsActive() bool {
	return r.Status != StatusRejected
}

// IsValidStatus reports whether s is a known refund status.
func IsValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}
