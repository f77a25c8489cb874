package domain

import (
	"database/sql/driver"
	"strings"

	"github.com/google/uuid"

	dErrors "kinledger/pkg/domain-errors"
)

// Typed identifiers. Each is a distinct type so a PayoutID can never be passed
// where a RequestID is expected.
type (
	HouseholdID    uuid.UUID
	ProfileID      uuid.UUID
	KinID          uuid.UUID
	RequestID      uuid.UUID
	ApprovalID     uuid.UUID
	PayoutID       uuid.UUID
	TransactionID  uuid.UUID
	JobID          uuid.UUID
	AccountID      uuid.UUID
	SubscriptionID uuid.UUID
	OrphanID       uuid.UUID
	MessageID      uuid.UUID
)

// parseUUID enforces that identifiers crossing a trust boundary are
// non-empty, well-formed and not the nil UUID.
func parseUUID(s, field string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s is required", field)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s must be a valid UUID", field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s must not be the nil UUID", field)
	}
	return u, nil
}

func scanUUID(src any) (uuid.UUID, error) {
	var u uuid.UUID
	err := u.Scan(src)
	return u, err
}

func NewHouseholdID() HouseholdID { return HouseholdID(uuid.New()) }

// ParseHouseholdID parses a household_id received from a client or provider.
func ParseHouseholdID(s string) (HouseholdID, error) {
	u, err := parseUUID(s, "household_id")
	return HouseholdID(u), err
}

func (id HouseholdID) String() string { return uuid.UUID(id).String() }
func (id HouseholdID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id HouseholdID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *HouseholdID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id HouseholdID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }

func (id *HouseholdID) Scan(src any) error {
	u, err := scanUUID(src)
	*id = HouseholdID(u)
	return err
}

func NewProfileID() ProfileID { return ProfileID(uuid.New()) }

// ParseProfileID parses a profile_id received from a client or provider.
func ParseProfileID(s string) (ProfileID, error) {
	u, err := parseUUID(s, "profile_id")
	return ProfileID(u), err
}

func (id ProfileID) String() string { return uuid.UUID(id).String() }
func (id ProfileID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id ProfileID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *ProfileID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id ProfileID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }

func (id *ProfileID) Scan(src any) error {
	u, err := scanUUID(src)
	*id = ProfileID(u)
	return err
}

func NewKinID() KinID { return KinID(uuid.New()) }

// ParseKinID parses a kin_id received from a client or provider.
func ParseKinID(s string) (KinID, error) {
	u, err := parseUUID(s, "kin_id")
	return KinID(u), err
}

func (id KinID) String() string { return uuid.UUID(id).String() }
func (id KinID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id KinID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *KinID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id KinID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }

func (id *KinID) Scan(src any) error {
	u, err := scanUUID(src)
	*id = KinID(u)
	return err
}

func NewRequestID() RequestID { return RequestID(uuid.New()) }

// ParseRequestID parses a request_id received from a client or provider.
func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID(s, "request_id")
	return RequestID(u), err
}

func (id RequestID) String() string { return uuid.UUID(id).String() }
func (id RequestID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id RequestID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *RequestID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id RequestID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }

func (id *RequestID) Scan(src any) error {
	u, err := scanUUID(src)
	*id = RequestID(u)
	return err
}

func NewApprovalID() ApprovalID { return ApprovalID(uuid.New()) }

// ParseApprovalID parses a approval_id received from a client or provider.
func ParseApprovalID(s string) (ApprovalID, error) {
	u, err := parseUUID(s, "approval_id")
	return ApprovalID(u), err
}

func (id ApprovalID) String() string { return uuid.UUID(id).String() }
func (id ApprovalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id ApprovalID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *ApprovalID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id ApprovalID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }

func (id *ApprovalID) Scan(src any) error {
	u, err := scanUUID(src)
	*id = ApprovalID(u)
	return err
}

func NewPayoutID() PayoutID { return PayoutID(uuid.New()) }

// ParsePayoutID parses a payout_id received from a client or provider.
func ParsePayoutID(s string) (PayoutID, error) {
	u, err := parseUUID(s, "payout_id")
	return PayoutID(u), err
}

func (id PayoutID) String() string { return uuid.UUID(id).String() }
func (id PayoutID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id PayoutID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *PayoutID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id PayoutID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }

func (id *PayoutID) Scan(src any) error {
	u, err := scanUUID(src)
	*id = PayoutID(u)
	return err
}

func NewTransactionID() TransactionID { return TransactionID(uuid.New()) }

// ParseTransactionID parses a transaction_id received from a client or provider.
func ParseTransactionID(s string) (TransactionID, error) {
	u, err := parseUUID(s, "transaction_id")
	return TransactionID(u), err
}

func (id TransactionID) String() string { return uuid.UUID(id).String() }
func (id TransactionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id TransactionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *TransactionID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id TransactionID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }

func (id *TransactionID) Scan(src any) error {
	u, err := scanUUID(src)
	*id = TransactionID(u)
	return err
}

func NewJobID() JobID { return JobID(uuid.New()) }

// ParseJobID parses a job_id received from a client or provider.
func ParseJobID(s string) (JobID, error) {
	u, err := parseUUID(s, "job_id")
	return JobID(u), err
}

func (id JobID) String() string { return uuid.UUID(id).String() }
func (id JobID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id JobID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *JobID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id JobID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }

func (id *JobID) Scan(src any) error {
	u, err := scanUUID(src)
	*id = JobID(u)
	return err
}

func NewAccountID() AccountID { return AccountID(uuid.New()) }

// ParseAccountID parses a account_id received from a client or provider.
func ParseAccountID(s string) (AccountID, error) {
	u, err := parseUUID(s, "account_id")
	return AccountID(u), err
}

func (id AccountID) String() string { return uuid.UUID(id).String() }
func (id AccountID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id AccountID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *AccountID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id AccountID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }

func (id *AccountID) Scan(src any) error {
	u, err := scanUUID(src)
	*id = AccountID(u)
	return err
}

func NewSubscriptionID() SubscriptionID { return SubscriptionID(uuid.New()) }

// ParseSubscriptionID parses a subscription_id received from a client or provider.
func ParseSubscriptionID(s string) (SubscriptionID, error) {
	u, err := parseUUID(s, "subscription_id")
	return SubscriptionID(u), err
}

func (id SubscriptionID) String() string { return uuid.UUID(id).String() }
func (id SubscriptionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id SubscriptionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *SubscriptionID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id SubscriptionID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }

func (id *SubscriptionID) Scan(src any) error {
	u, err := scanUUID(src)
	*id = SubscriptionID(u)
	return err
}

func NewOrphanID() OrphanID { return OrphanID(uuid.New()) }

// ParseOrphanID parses a orphan_id received from a client or provider.
func ParseOrphanID(s string) (OrphanID, error) {
	u, err := parseUUID(s, "orphan_id")
	return OrphanID(u), err
}

func (id OrphanID) String() string { return uuid.UUID(id).String() }
func (id OrphanID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id OrphanID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *OrphanID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id OrphanID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }

func (id *OrphanID) Scan(src any) error {
	u, err := scanUUID(src)
	*id = OrphanID(u)
	return err
}

func NewMessageID() MessageID { return MessageID(uuid.New()) }

// ParseMessageID parses a message_id received from a client or provider.
func ParseMessageID(s string) (MessageID, error) {
	u, err := parseUUID(s, "message_id")
	return MessageID(u), err
}

func (id MessageID) String() string { return uuid.UUID(id).String() }
func (id MessageID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id MessageID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *MessageID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id MessageID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }

func (id *MessageID) Scan(src any) error {
	u, err := scanUUID(src)
	*id = MessageID(u)
	return err
}
