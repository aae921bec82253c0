package ledger

import (
	"errors"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/codec"
)

// ExtrinsicResult is the outcome of one dispatched extrinsic.
type ExtrinsicResult struct {
	ID        string               `json:"id" cbor:"id"`
	Extrinsic Extrinsic            `json:"extrinsic" cbor:"extrinsic"`
	Success   bool                 `json:"success" cbor:"success"`
	ErrorKind string               `json:"error_kind,omitempty" cbor:"error_kind,omitempty"`
	Error     string               `json:"error,omitempty" cbor:"error,omitempty"`
	Events    []shared.EventRecord `json:"events" cbor:"events"`
}

// Block is a sealed block. Initialization events come from the expiry sweep,
// which runs before any extrinsic of the block.
type Block struct {
	Number               shared.BlockNumber   `json:"number" cbor:"number"`
	ParentHash           codec.Hash           `json:"parent_hash" cbor:"parent_hash"`
	StateRoot            codec.Hash           `json:"state_root" cbor:"state_root"`
	Closed               []intake.ID          `json:"closed" cbor:"closed"`
	InitializationEvents []shared.EventRecord `json:"initialization_events" cbor:"initialization_events"`
	Extrinsics           []ExtrinsicResult    `json:"extrinsics" cbor:"extrinsics"`
	Hash                 codec.Hash           `json:"hash" cbor:"-"`
}

// Events returns every event of the block in emission order.
func (b *Block) Events() []shared.EventRecord {
	out := make([]shared.EventRecord, 0, len(b.InitializationEvents))
	out = append(out, b.InitializationEvents...)
	for _, x := range b.Extrinsics {
		out = append(out, x.Events...)
	}
	return out
}

// seal computes the block hash over the sealed view of the block.
func (b *Block) seal() error {
	h, err := codec.Digest(b.sealedView())
	if err != nil {
		return err
	}
	b.Hash = h
	return nil
}

// sealedBlock is what the hash covers. Receipt and correlation IDs are node
// local and error messages carry driver text, so only the error kind is sealed.
type sealedBlock struct {
	Number               shared.BlockNumber   `cbor:"number"`
	ParentHash           codec.Hash           `cbor:"parent_hash"`
	StateRoot            codec.Hash           `cbor:"state_root"`
	Closed               []intake.ID          `cbor:"closed"`
	InitializationEvents []shared.EventRecord `cbor:"initialization_events"`
	Extrinsics           []sealedExtrinsic    `cbor:"extrinsics"`
}

type sealedExtrinsic struct {
	Extrinsic Extrinsic            `cbor:"extrinsic"`
	Success   bool                 `cbor:"success"`
	ErrorKind string               `cbor:"error_kind,omitempty"`
	Events    []shared.EventRecord `cbor:"events"`
}

func (b *Block) sealedView() sealedBlock {
	v := sealedBlock{
		Number:               b.Number,
		ParentHash:           b.ParentHash,
		StateRoot:            b.StateRoot,
		Closed:               b.Closed,
		InitializationEvents: uncorrelated(b.InitializationEvents),
		Extrinsics:           make([]sealedExtrinsic, 0, len(b.Extrinsics)),
	}
	for _, x := range b.Extrinsics {
		v.Extrinsics = append(v.Extrinsics, sealedExtrinsic{
			Extrinsic: x.Extrinsic,
			Success:   x.Success,
			ErrorKind: x.ErrorKind,
			Events:    uncorrelated(x.Events),
		})
	}
	return v
}

func uncorrelated(records []shared.EventRecord) []shared.EventRecord {
	out := make([]shared.EventRecord, len(records))
	for i, rec := range records {
		rec.CorrelationID = ""
		out[i] = rec
	}
	return out
}

var errorKinds = []struct {
	err  error
	kind string
}{
	{shared.ErrInsufficientPermission, "InsufficientPermission"},
	{shared.ErrNoSuchInstitution, "NoSuchInstitution"},
	{shared.ErrIntakeAlreadyExists, "IntakeAlreadyExists"},
	{shared.ErrInvalidParameter, "InvalidParameter"},
	{shared.ErrNoSuchIntake, "NoSuchIntake"},
	{shared.ErrIntakeClosed, "IntakeClosed"},
	{shared.ErrIntakeOngoing, "IntakeOngoing"},
	{shared.ErrIntakeNotClosed, "IntakeNotClosed"},
	{shared.ErrNoSuchApplication, "NoSuchApplication"},
	{shared.ErrDuplicateApplication, "DuplicateApplication"},
	{shared.ErrDuplicateAcceptance, "DuplicateAcceptance"},
	{shared.ErrAcceptanceLimitReached, "AcceptanceLimitReached"},
	{shared.ErrUnknownCall, "UnknownCall"},
	{shared.ErrStorage, "Storage"},
}

// ErrorKind names the failure of a dispatched call.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Other"
}
