package ledger

import (
	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

// CallKind names a dispatchable intake operation.
type CallKind string

const (
	CallAnnounceIntake      CallKind = "announce_intake"
	CallApplyForIntake      CallKind = "apply_for_intake"
	CallWithdrawApplication CallKind = "withdraw_application"
	CallAcceptApplication   CallKind = "accept_application"
	CallFinaliseIntake      CallKind = "finalise_intake"
)

// Call is the payload of an extrinsic. Which optional fields are required
// depends on Kind.
type Call struct {
	Kind   CallKind  `json:"kind" cbor:"kind" validate:"required,oneof=announce_intake apply_for_intake withdraw_application accept_application finalise_intake"`
	Intake intake.ID `json:"intake" cbor:"intake"`

	// announce_intake
	Institution shared.InstitutionID    `json:"institution,omitempty" cbor:"institution,omitempty"`
	Params      *intake.NewIntakeParams `json:"params,omitempty" cbor:"params,omitempty" validate:"-"`

	// apply_for_intake (optional) and accept_application (required)
	Applicant shared.AccountID `json:"applicant,omitempty" cbor:"applicant,omitempty"`

	// apply_for_intake
	Document shared.DocumentRef `json:"document,omitempty" cbor:"document,omitempty"`
}

// Extrinsic is a call signed by an account. Signature verification happens
// before an extrinsic reaches the runtime.
type Extrinsic struct {
	Signer shared.AccountID `json:"signer" cbor:"signer"`
	Call   Call             `json:"call" cbor:"call"`
}

// checkShape verifies the fields each call kind needs are present. Semantic
// checks belong to the engine and surface as the extrinsic's outcome.
func (c Call) checkShape() error {
	if !c.Intake.IsValid() {
		return shared.WrapError("ledger", "Submit", shared.ErrMalformedCall, "intake id is required", nil)
	}
	switch c.Kind {
	case CallAnnounceIntake:
		if c.Params == nil || c.Institution == "" {
			return shared.WrapError("ledger", "Submit", shared.ErrMalformedCall,
				"announce_intake requires institution and params", nil)
		}
	case CallAcceptApplication:
		if c.Applicant.IsEmpty() {
			return shared.WrapError("ledger", "Submit", shared.ErrMalformedCall,
				"accept_application requires applicant", nil)
		}
	}
	return nil
}

// Receipt acknowledges a queued extrinsic.
type Receipt struct {
	ID          string             `json:"id"`
	QueuedAt    shared.BlockNumber `json:"queued_at"`
	TargetBlock shared.BlockNumber `json:"target_block"`
}
