// Package memory provides the in-process intake store used by the ledger
// runtime and by tests. All reads and commits are serialized by one lock,
// so a committed changeset is never partially visible.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/codec"
)

// Store is an in-memory implementation of intake.Store.
type Store struct {
	mu sync.RWMutex

	intakes      map[intake.ID]intake.Info
	closing      []intake.ClosingEntry // sorted by (block, intake)
	applications map[intake.ID]map[shared.AccountID]intake.Application
	accepted     map[intake.ID]map[shared.AccountID]struct{}
	lastIntake   map[shared.InstitutionID]intake.ID
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		intakes:      make(map[intake.ID]intake.Info),
		applications: make(map[intake.ID]map[shared.AccountID]intake.Application),
		accepted:     make(map[intake.ID]map[shared.AccountID]struct{}),
		lastIntake:   make(map[shared.InstitutionID]intake.ID),
	}
}

var _ intake.Store = (*Store)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// Reads
// ══════════════════════════════════════════════════════════════════════════════

// Intake implements intake.Reader.
func (s *Store) Intake(_ context.Context, id intake.ID) (*intake.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.intakes[id]
	if !ok {
		return nil, shared.ErrNoSuchIntake
	}
	return &info, nil
}

// Application implements intake.Reader.
func (s *Store) Application(_ context.Context, id intake.ID, applicant shared.AccountID) (*intake.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[id][applicant]
	if !ok {
		return nil, shared.ErrNoSuchApplication
	}
	return &app, nil
}

// Applications implements intake.Reader.
func (s *Store) Applications(_ context.Context, id intake.ID) ([]intake.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	apps := make([]intake.Application, 0, len(s.applications[id]))
	for _, app := range s.applications[id] {
		apps = append(apps, app)
	}
	slices.SortFunc(apps, func(a, b intake.Application) int {
		switch {
		case a.Applicant < b.Applicant:
			return -1
		case a.Applicant > b.Applicant:
			return 1
		default:
			return 0
		}
	})
	return apps, nil
}

// IsAccepted implements intake.Reader.
func (s *Store) IsAccepted(_ context.Context, id intake.ID, applicant shared.AccountID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.accepted[id][applicant]
	return ok, nil
}

// AcceptedCount implements intake.Reader.
func (s *Store) AcceptedCount(_ context.Context, id intake.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.accepted[id]), nil
}

// LastIntake implements intake.Reader.
func (s *Store) LastIntake(_ context.Context, institution shared.InstitutionID) (intake.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.lastIntake[institution]
	if !ok {
		return intake.ID{}, shared.ErrNoSuchIntake
	}
	return id, nil
}

// DueForClosing implements intake.Reader.
func (s *Store) DueForClosing(_ context.Context, upTo shared.BlockNumber) ([]intake.ClosingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for n < len(s.closing) && s.closing[n].Block <= upTo {
		n++
	}
	return slices.Clone(s.closing[:n]), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// Commit
// ══════════════════════════════════════════════════════════════════════════════

// Commit implements intake.Store. Nothing here can fail once the lock is
// held, so the changeset is applied in full or, on a cancelled context,
// not at all.
func (s *Store) Commit(ctx context.Context, cs *intake.Changeset) error {
	if err := ctx.Err(); err != nil {
		return shared.WrapError("memory", "Commit", shared.ErrStorage, "commit aborted", err)
	}
	if cs.IsEmpty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range cs.Intakes {
		s.intakes[r.ID] = r.Info
	}
	for _, e := range cs.IndexClosing {
		s.insertClosing(e)
	}
	for _, e := range cs.UnindexClosing {
		s.removeClosing(e)
	}
	for _, r := range cs.LastIntakes {
		s.lastIntake[r.Institution] = r.Intake
	}
	for _, r := range cs.PutApplications {
		apps, ok := s.applications[r.Intake]
		if !ok {
			apps = make(map[shared.AccountID]intake.Application)
			s.applications[r.Intake] = apps
		}
		apps[r.Application.Applicant] = r.Application
	}
	for _, k := range cs.DeleteApplications {
		if apps, ok := s.applications[k.Intake]; ok {
			delete(apps, k.Applicant)
			if len(apps) == 0 {
				delete(s.applications, k.Intake)
			}
		}
	}
	for _, id := range cs.PurgeApplications {
		delete(s.applications, id)
	}
	for _, k := range cs.Accepted {
		set, ok := s.accepted[k.Intake]
		if !ok {
			set = make(map[shared.AccountID]struct{})
			s.accepted[k.Intake] = set
		}
		set[k.Applicant] = struct{}{}
	}
	return nil
}

func (s *Store) insertClosing(e intake.ClosingEntry) {
	i, found := slices.BinarySearchFunc(s.closing, e, intake.ClosingEntry.Compare)
	if found {
		return
	}
	s.closing = slices.Insert(s.closing, i, e)
}

func (s *Store) removeClosing(e intake.ClosingEntry) {
	i, found := slices.BinarySearchFunc(s.closing, e, intake.ClosingEntry.Compare)
	if !found {
		return
	}
	s.closing = slices.Delete(s.closing, i, i+1)
}

// ══════════════════════════════════════════════════════════════════════════════
// State root
// ══════════════════════════════════════════════════════════════════════════════

type intakeRow struct {
	ID   intake.ID   `cbor:"id"`
	Info intake.Info `cbor:"info"`
}

type applicationRow struct {
	Intake      intake.ID          `cbor:"intake"`
	Application intake.Application `cbor:"application"`
}

type lastIntakeRow struct {
	Institution shared.InstitutionID `cbor:"institution"`
	Intake      intake.ID            `cbor:"intake"`
}

// Snapshot is an ordered dump of every store. Equal states produce equal
// snapshots regardless of map iteration order.
type Snapshot struct {
	Intakes      []intakeRow             `cbor:"intakes"`
	Closing      []intake.ClosingEntry   `cbor:"closing"`
	Applications []applicationRow        `cbor:"applications"`
	Accepted     []intake.ApplicationKey `cbor:"accepted"`
	LastIntakes  []lastIntakeRow         `cbor:"last_intakes"`
}

// Snapshot returns an ordered copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Intakes:      make([]intakeRow, 0, len(s.intakes)),
		Closing:      slices.Clone(s.closing),
		Applications: []applicationRow{},
		Accepted:     []intake.ApplicationKey{},
		LastIntakes:  make([]lastIntakeRow, 0, len(s.lastIntake)),
	}
	for id, info := range s.intakes {
		snap.Intakes = append(snap.Intakes, intakeRow{ID: id, Info: info})
	}
	slices.SortFunc(snap.Intakes, func(a, b intakeRow) int { return a.ID.Compare(b.ID) })

	for id, apps := range s.applications {
		for _, app := range apps {
			snap.Applications = append(snap.Applications, applicationRow{Intake: id, Application: app})
		}
	}
	slices.SortFunc(snap.Applications, func(a, b applicationRow) int {
		return compareKey(a.Intake, a.Application.Applicant, b.Intake, b.Application.Applicant)
	})

	for id, set := range s.accepted {
		for applicant := range set {
			snap.Accepted = append(snap.Accepted, intake.ApplicationKey{Intake: id, Applicant: applicant})
		}
	}
	slices.SortFunc(snap.Accepted, func(a, b intake.ApplicationKey) int {
		return compareKey(a.Intake, a.Applicant, b.Intake, b.Applicant)
	})

	for inst, id := range s.lastIntake {
		snap.LastIntakes = append(snap.LastIntakes, lastIntakeRow{Institution: inst, Intake: id})
	}
	slices.SortFunc(snap.LastIntakes, func(a, b lastIntakeRow) int {
		switch {
		case a.Institution < b.Institution:
			return -1
		case a.Institution > b.Institution:
			return 1
		default:
			return 0
		}
	})
	return snap
}

// StateRoot hashes the deterministic encoding of the current state.
func (s *Store) StateRoot() (codec.Hash, error) {
	return codec.Digest(s.Snapshot())
}

func compareKey(aID intake.ID, aApplicant shared.AccountID, bID intake.ID, bApplicant shared.AccountID) int {
	if c := aID.Compare(bID); c != 0 {
		return c
	}
	switch {
	case aApplicant < bApplicant:
		return -1
	case aApplicant > bApplicant:
		return 1
	default:
		return 0
	}
}
