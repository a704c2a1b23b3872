package ledger

import "fmt"

// ErrorKind classifies ledger rejections by how a caller can recover from them.
type ErrorKind string

const (
	// KindPrecondition marks invalid input; the caller can adjust and retry.
	KindPrecondition ErrorKind = "PRECONDITION_VIOLATION"
	// KindAuthorization marks a caller-identity failure.
	KindAuthorization ErrorKind = "AUTHORIZATION_FAILURE"
	// KindNotFound marks a lookup of an identifier that was never assigned.
	KindNotFound ErrorKind = "NOT_FOUND"
	// KindStateConflict marks an operation whose target already moved to a
	// terminal or otherwise incompatible state.
	KindStateConflict ErrorKind = "STATE_CONFLICT"
)

// Rejection codes. One code per distinct failure; handlers and auditors key on these.
const (
	CodeInvalidRarity         = "INVALID_RARITY"
	CodeAttackTooHigh         = "ATTACK_TOO_HIGH"
	CodeDefenseTooHigh        = "DEFENSE_TOO_HIGH"
	CodeInvalidAddress        = "INVALID_ADDRESS"
	CodeNotOwner              = "NOT_OWNER"
	CodeCardNotFound          = "CARD_NOT_FOUND"
	CodeInvalidPackType       = "INVALID_PACK_TYPE"
	CodeInsufficientPayment   = "INSUFFICIENT_PAYMENT"
	CodeInsufficientFunds     = "INSUFFICIENT_FUNDS"
	CodeInvalidAmount         = "INVALID_AMOUNT"
	CodePurchaseNotFound      = "PURCHASE_NOT_FOUND"
	CodeSelfTrade             = "SELF_TRADE"
	CodeEmptyCardList         = "EMPTY_CARD_LIST"
	CodeDuplicateCard         = "DUPLICATE_CARD"
	CodeProposerDoesNotOwn    = "PROPOSER_DOES_NOT_OWN_CARD"
	CodeAcceptorDoesNotOwn    = "ACCEPTOR_DOES_NOT_OWN_CARD"
	CodeNotAcceptor           = "NOT_ACCEPTOR"
	CodeNotProposer           = "NOT_PROPOSER"
	CodeTradeNotActive        = "TRADE_NOT_ACTIVE"
	CodeTradeNotFound         = "TRADE_NOT_FOUND"
	CodeOwnershipChanged      = "OWNERSHIP_CHANGED"
	CodeOperatorNotApproved   = "OPERATOR_NOT_APPROVED"
	CodeNotAuthorized         = "NOT_AUTHORIZED"
	CodeSamePlayer            = "SAME_PLAYER"
	CodeInvalidWinner         = "INVALID_WINNER"
	CodeInvalidFingerprint    = "INVALID_FINGERPRINT"
	CodeMatchNotFound         = "MATCH_NOT_FOUND"
	CodeMalformedOperation    = "MALFORMED_OPERATION"
	CodeUnknownOperationType  = "UNKNOWN_OPERATION_TYPE"
)

// Error is a structured ledger rejection. A rejected operation leaves state
// identical to before the attempt; the error alone is the outcome.
type Error struct {
	Kind   ErrorKind
	Code   string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s - %s", e.Kind, e.Code, e.Detail)
}

func precondition(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindPrecondition, Code: code, Detail: fmt.Sprintf(format, args...)}
}

func unauthorized(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Detail: fmt.Sprintf(format, args...)}
}

func notFound(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Code: code, Detail: fmt.Sprintf(format, args...)}
}

func stateConflict(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindStateConflict, Code: code, Detail: fmt.Sprintf(format, args...)}
}
