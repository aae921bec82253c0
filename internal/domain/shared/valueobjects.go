// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strconv"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// Identity Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// AccountID identifies a signing party on the ledger (university administrator,
// student, professor). Signature verification happens in the host runtime; by the
// time an AccountID reaches the domain it is already authenticated.
type AccountID string

// String returns the string representation.
func (a AccountID) String() string {
	return string(a)
}

// IsEmpty reports whether the account is unset, i.e. the origin was not signed.
func (a AccountID) IsEmpty() bool {
	return strings.TrimSpace(string(a)) == ""
}

// InstitutionID is the opaque identifier of a university in the institution registry.
type InstitutionID string

// String returns the string representation.
func (i InstitutionID) String() string {
	return string(i)
}

// IsValid checks that the identifier is non-empty and contains no separator
// characters used in composite keys.
func (i InstitutionID) IsValid() bool {
	s := string(i)
	return s != "" && !strings.ContainsAny(s, "/: \t\n")
}

// ═══════════════════════════════════════════════════════════════════════════
// Time Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// BlockNumber is the discrete time unit of the ledger. All scheduling in the
// domain is expressed in blocks, never in wall-clock time.
type BlockNumber uint64

// Uint64 returns the underlying value.
func (b BlockNumber) Uint64() uint64 {
	return uint64(b)
}

// String returns the decimal representation.
func (b BlockNumber) String() string {
	return strconv.FormatUint(uint64(b), 10)
}

// Next returns the following block number.
func (b BlockNumber) Next() BlockNumber {
	return b + 1
}

// ParseBlockNumber parses a decimal block number.
func ParseBlockNumber(s string) (BlockNumber, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, WrapError("shared", "ParseBlockNumber", ErrInvalidInput, "invalid block number", err)
	}
	return BlockNumber(n), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Document Reference
// ═══════════════════════════════════════════════════════════════════════════

// MaxDocumentRefLength bounds an off-ledger document reference (an IPFS link).
const MaxDocumentRefLength = 300

// DocumentRef is an opaque reference to an off-ledger document. The ledger
// stores it verbatim and never resolves it.
type DocumentRef string

// String returns the string representation.
func (d DocumentRef) String() string {
	return string(d)
}

// IsValid checks the reference fits the storage bound.
func (d DocumentRef) IsValid() bool {
	return len(d) <= MaxDocumentRefLength
}
