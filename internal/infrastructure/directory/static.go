package directory

import (
	"context"
	"sort"
	"sync"

	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

// Static is an in-memory institution directory.
type Static struct {
	mu     sync.RWMutex
	admins map[shared.InstitutionID]shared.AccountID
	names  map[shared.InstitutionID]string
}

var _ intake.InstitutionDirectory = (*Static)(nil)

// NewStatic creates an empty directory.
func NewStatic() *Static {
	return &Static{
		admins: make(map[shared.InstitutionID]shared.AccountID),
		names:  make(map[shared.InstitutionID]string),
	}
}

// FromGenesis builds a directory from a validated genesis.
func FromGenesis(g Genesis) *Static {
	d := NewStatic()
	for _, inst := range g.Institutions {
		d.Register(inst.ID, inst.Name, inst.Administrator)
	}
	return d
}

// Register adds or replaces an institution.
func (d *Static) Register(id shared.InstitutionID, name string, admin shared.AccountID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.admins[id] = admin
	d.names[id] = name
}

// AdministratorOf implements intake.InstitutionDirectory.
func (d *Static) AdministratorOf(_ context.Context, institution shared.InstitutionID) (shared.AccountID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	admin, ok := d.admins[institution]
	return admin, ok
}

// Institutions lists registered institutions ordered by id.
func (d *Static) Institutions() []InstitutionEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]InstitutionEntry, 0, len(d.admins))
	for id, admin := range d.admins {
		out = append(out, InstitutionEntry{ID: id, Name: d.names[id], Administrator: admin})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
