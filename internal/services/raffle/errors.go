package raffle

import "errors"

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidArgument
	KindStateConflict
	KindUnauthorized
	KindInsufficientResource
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindStateConflict:
		return "state_conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindInsufficientResource:
		return "insufficient_resource"
	default:
		return "internal"
	}
}

// Error is a ledger failure of a given kind. An Error without a message is a
// kind sentinel: errors.Is(err, NotFound) matches every NotFound error.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Kind == e.Kind
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

var (
	NotFound             = &Error{Kind: KindNotFound}
	InvalidArgument      = &Error{Kind: KindInvalidArgument}
	StateConflict        = &Error{Kind: KindStateConflict}
	Unauthorized         = &Error{Kind: KindUnauthorized}
	InsufficientResource = &Error{Kind: KindInsufficientResource}
)

var (
	ErrRaffleNotFound    = newError(KindNotFound, "raffle not found")
	ErrUnknownItem       = newError(KindNotFound, "no raffle item for stake kind and id")
	ErrRequestNotFound   = newError(KindNotFound, "randomness request not found")
	ErrInvalidStakeIndex = newError(KindNotFound, "stake index out of range")
	ErrInvalidPrizeIndex = newError(KindNotFound, "prize index out of range")

	ErrInvalidEndTime = newError(KindInvalidArgument, "end time too close")
	ErrNoItems        = newError(KindInvalidArgument, "raffle has no items")
	ErrNoPrizes       = newError(KindInvalidArgument, "raffle item has no prizes")
	ErrZeroPrizeValue = newError(KindInvalidArgument, "prize value is zero")
	ErrZeroAddress    = newError(KindInvalidArgument, "zero address")
	ErrDuplicateItem  = newError(KindInvalidArgument, "duplicate raffle item")
	ErrEmptyStake     = newError(KindInvalidArgument, "empty stake")
	ErrZeroValue      = newError(KindInvalidArgument, "zero stake value")
	ErrStakeOverflow  = newError(KindInvalidArgument, "stake total overflow")
	ErrUnsortedUnits  = newError(KindInvalidArgument, "claimed units not strictly increasing")
	ErrUnitOutOfRange = newError(KindInvalidArgument, "claimed unit out of range")
	ErrNotAWinner     = newError(KindInvalidArgument, "claimed unit not won by stake")
	ErrDuplicateClaim = newError(KindInvalidArgument, "duplicate claim entry")
	ErrZeroRandom     = newError(KindInvalidArgument, "zero random value")
	ErrInvalidContext = newError(KindInvalidArgument, "invalid deposit context")
	ErrZeroFunding    = newError(KindInvalidArgument, "zero funding amount")
	ErrFeeOverflow    = newError(KindInvalidArgument, "fee balance overflow")

	ErrExpired             = newError(KindStateConflict, "raffle expired")
	ErrNotExpired          = newError(KindStateConflict, "raffle not expired")
	ErrAlreadyResolved     = newError(KindStateConflict, "random number already set")
	ErrAlreadyClaimed      = newError(KindStateConflict, "prize already claimed")
	ErrRandomNotReady      = newError(KindStateConflict, "random number not ready")
	ErrOracleNotConfigured = newError(KindStateConflict, "randomness oracle not configured")

	ErrNotOwner  = newError(KindUnauthorized, "caller is not the owner")
	ErrNotOracle = newError(KindUnauthorized, "caller is not the oracle")

	ErrInsufficientFee = newError(KindInsufficientResource, "insufficient oracle fee balance")
)

// KindOf returns the kind of a ledger error, KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
