package intake

import "github.com/edu-chain/credential-ledger/internal/domain/shared"

// ══════════════════════════════════════════════════════════════════════════════
// CHANGESET
// Операция сначала читает и проверяет состояние, затем собирает все изменения
// в Changeset и передаёт его хранилищу одним вызовом Commit.
// ══════════════════════════════════════════════════════════════════════════════

// IntakeRecord - запись реестра окон.
type IntakeRecord struct {
	ID   ID
	Info Info
}

// ApplicationRecord - запись журнала заявок.
type ApplicationRecord struct {
	Intake      ID
	Application Application
}

// LastIntakeRecord - указатель на последнее окно университета.
type LastIntakeRecord struct {
	Institution shared.InstitutionID
	Intake      ID
}

// Changeset - набор изменений одной операции.
// Хранилище применяет группы в порядке объявления полей.
type Changeset struct {
	Intakes            []IntakeRecord
	IndexClosing       []ClosingEntry
	UnindexClosing     []ClosingEntry
	LastIntakes        []LastIntakeRecord
	PutApplications    []ApplicationRecord
	DeleteApplications []ApplicationKey
	PurgeApplications  []ID
	Accepted           []ApplicationKey
}

// NewChangeset создаёт пустой набор изменений.
func NewChangeset() *Changeset {
	return &Changeset{}
}

// PutIntake записывает метаданные окна.
func (c *Changeset) PutIntake(id ID, info Info) *Changeset {
	c.Intakes = append(c.Intakes, IntakeRecord{ID: id, Info: info})
	return c
}

// IndexClose добавляет окно в индекс закрытия.
func (c *Changeset) IndexClose(block shared.BlockNumber, id ID) *Changeset {
	c.IndexClosing = append(c.IndexClosing, ClosingEntry{Block: block, Intake: id})
	return c
}

// UnindexClose удаляет запись из индекса закрытия.
func (c *Changeset) UnindexClose(entry ClosingEntry) *Changeset {
	c.UnindexClosing = append(c.UnindexClosing, entry)
	return c
}

// SetLastIntake обновляет указатель на последнее окно университета.
func (c *Changeset) SetLastIntake(institution shared.InstitutionID, id ID) *Changeset {
	c.LastIntakes = append(c.LastIntakes, LastIntakeRecord{Institution: institution, Intake: id})
	return c
}

// PutApplication записывает заявку.
func (c *Changeset) PutApplication(id ID, app Application) *Changeset {
	c.PutApplications = append(c.PutApplications, ApplicationRecord{Intake: id, Application: app})
	return c
}

// DeleteApplication удаляет заявку.
func (c *Changeset) DeleteApplication(id ID, applicant shared.AccountID) *Changeset {
	c.DeleteApplications = append(c.DeleteApplications, ApplicationKey{Intake: id, Applicant: applicant})
	return c
}

// PurgeApplicationsOf удаляет все заявки окна. Отметки о зачислении не затрагиваются.
func (c *Changeset) PurgeApplicationsOf(id ID) *Changeset {
	c.PurgeApplications = append(c.PurgeApplications, id)
	return c
}

// Accept добавляет отметку о зачислении.
func (c *Changeset) Accept(id ID, applicant shared.AccountID) *Changeset {
	c.Accepted = append(c.Accepted, ApplicationKey{Intake: id, Applicant: applicant})
	return c
}

// IsEmpty возвращает true, если изменений нет.
func (c *Changeset) IsEmpty() bool {
	return c == nil || (len(c.Intakes) == 0 &&
		len(c.IndexClosing) == 0 &&
		len(c.UnindexClosing) == 0 &&
		len(c.LastIntakes) == 0 &&
		len(c.PutApplications) == 0 &&
		len(c.DeleteApplications) == 0 &&
		len(c.PurgeApplications) == 0 &&
		len(c.Accepted) == 0)
}

// Touched возвращает окна, затронутые набором изменений. Используется
// кэшем для инвалидации.
func (c *Changeset) Touched() []ID {
	if c == nil {
		return nil
	}
	seen := make(map[ID]struct{})
	var ids []ID
	add := func(id ID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, r := range c.Intakes {
		add(r.ID)
	}
	for _, r := range c.PutApplications {
		add(r.Intake)
	}
	for _, k := range c.DeleteApplications {
		add(k.Intake)
	}
	for _, id := range c.PurgeApplications {
		add(id)
	}
	for _, k := range c.Accepted {
		add(k.Intake)
	}
	return ids
}

// TouchedInstitutions возвращает университеты, чей указатель LastIntake изменился.
func (c *Changeset) TouchedInstitutions() []shared.InstitutionID {
	if c == nil {
		return nil
	}
	out := make([]shared.InstitutionID, 0, len(c.LastIntakes))
	for _, r := range c.LastIntakes {
		out = append(out, r.Institution)
	}
	return out
}
