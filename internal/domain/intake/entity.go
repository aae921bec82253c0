// Package intake содержит доменную модель окна приёма (intake) университета.
// Это ядро бизнес-логики - здесь нет внешних зависимостей.
package intake

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// ID - составной идентификатор окна приёма: (университет, порядковый номер окна).
// Уникален и неизменяем после создания.
type ID struct {
	Institution shared.InstitutionID `json:"institution" cbor:"institution"`
	Index       uint32               `json:"index" cbor:"index"`
}

// NewID создаёт идентификатор окна приёма.
func NewID(institution shared.InstitutionID, index uint32) ID {
	return ID{Institution: institution, Index: index}
}

// String возвращает каноническое представление "institution/index".
func (id ID) String() string {
	return id.Institution.String() + "/" + strconv.FormatUint(uint64(id.Index), 10)
}

// IsValid проверяет корректность идентификатора.
func (id ID) IsValid() bool {
	return id.Institution.IsValid()
}

// Compare задаёт полный порядок на идентификаторах: сначала университет, затем номер окна.
func (id ID) Compare(other ID) int {
	if c := strings.Compare(string(id.Institution), string(other.Institution)); c != 0 {
		return c
	}
	switch {
	case id.Index < other.Index:
		return -1
	case id.Index > other.Index:
		return 1
	default:
		return 0
	}
}

// ParseID разбирает строку вида "institution/index".
func ParseID(s string) (ID, error) {
	i := strings.LastIndex(s, "/")
	if i <= 0 || i == len(s)-1 {
		return ID{}, shared.ErrInvalidIntakeID
	}
	index, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return ID{}, shared.WrapError("intake", "ParseID", shared.ErrInvalidID, "invalid window index", err)
	}
	id := NewID(shared.InstitutionID(s[:i]), uint32(index))
	if !id.IsValid() {
		return ID{}, shared.ErrInvalidIntakeID
	}
	return id, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Status определяет стадию жизненного цикла окна приёма.
// Переходы только вперёд: Pending → Ongoing → Closed → Finalised.
type Status string

const (
	// StatusPending - окно объявлено, но приём заявок ещё не начался.
	StatusPending Status = "pending"
	// StatusOngoing - идёт приём заявок.
	StatusOngoing Status = "ongoing"
	// StatusClosed - приём закрыт планировщиком, идёт отбор.
	StatusClosed Status = "closed"
	// StatusFinalised - отбор завершён, единственное терминальное состояние.
	StatusFinalised Status = "finalised"
)

// IsValid проверяет, что статус корректен.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusOngoing, StatusClosed, StatusFinalised:
		return true
	default:
		return false
	}
}

// IsTerminal возвращает true для финального состояния.
func (s Status) IsTerminal() bool {
	return s == StatusFinalised
}

// CanTransitionTo проверяет, допустим ли переход в следующий статус.
// Пропускать стадии нельзя.
func (s Status) CanTransitionTo(next Status) bool {
	switch next {
	case StatusOngoing:
		return s == StatusPending
	case StatusClosed:
		return s == StatusOngoing
	case StatusFinalised:
		return s == StatusClosed
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: INFO
// ══════════════════════════════════════════════════════════════════════════════

// NewIntakeParams - параметры объявления нового окна приёма.
// Теги validate проверяются на уровне приложения.
type NewIntakeParams struct {
	ApplicationOpens  shared.BlockNumber `json:"application_opens" yaml:"application_opens"`
	ApplicationCloses shared.BlockNumber `json:"application_closes" yaml:"application_closes" validate:"gtfield=ApplicationOpens"`
	MaxApplicants     uint32             `json:"max_applicants" yaml:"max_applicants" validate:"gt=0"`
	MaxAccepted       uint32             `json:"max_accepted" yaml:"max_accepted" validate:"gt=0,ltefield=MaxApplicants"`
}

// Info хранит метаданные окна приёма.
// Создаётся при объявлении, меняется только переходами статуса, никогда не удаляется.
type Info struct {
	ApplicationOpens  shared.BlockNumber `json:"application_opens" cbor:"application_opens"`
	ApplicationCloses shared.BlockNumber `json:"application_closes" cbor:"application_closes"`
	MaxApplicants     uint32             `json:"max_applicants" cbor:"max_applicants"`
	MaxAccepted       uint32             `json:"max_accepted" cbor:"max_accepted"`
	Status            Status             `json:"status" cbor:"status"`
}

// NewInfo создаёт окно приёма. Начальный статус выбирается по текущему блоку:
// Ongoing, если приём уже открыт, иначе Pending.
func NewInfo(params NewIntakeParams, now shared.BlockNumber) Info {
	status := StatusPending
	if now >= params.ApplicationOpens {
		status = StatusOngoing
	}
	return Info{
		ApplicationOpens:  params.ApplicationOpens,
		ApplicationCloses: params.ApplicationCloses,
		MaxApplicants:     params.MaxApplicants,
		MaxAccepted:       params.MaxAccepted,
		Status:            status,
	}
}

// EffectiveStatus возвращает статус с учётом текущего блока.
// Переход Pending → Ongoing не хранится, а вычисляется при чтении.
func (i Info) EffectiveStatus(now shared.BlockNumber) Status {
	if i.Status == StatusPending && now >= i.ApplicationOpens {
		return StatusOngoing
	}
	return i.Status
}

// At возвращает копию с эффективным статусом на указанный блок.
func (i Info) At(now shared.BlockNumber) Info {
	i.Status = i.EffectiveStatus(now)
	return i
}

// AcceptsApplications возвращает true, если окно сейчас принимает заявки.
func (i Info) AcceptsApplications(now shared.BlockNumber) bool {
	return i.EffectiveStatus(now) == StatusOngoing
}

// Transition переводит окно в следующий статус.
func (i *Info) Transition(now shared.BlockNumber, next Status) error {
	current := i.EffectiveStatus(now)
	if !current.CanTransitionTo(next) {
		return shared.NewDomainError("intake", "Transition", shared.ErrStateTransition,
			fmt.Sprintf("cannot move from %s to %s", current, next))
	}
	i.Status = next
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Application - заявка абитуриента на окно приёма.
type Application struct {
	Applicant shared.AccountID   `json:"applicant" cbor:"applicant"`
	AppliedOn shared.BlockNumber `json:"applied_on" cbor:"applied_on"`
	Document  shared.DocumentRef `json:"document" cbor:"document"`
}

// NewApplication создаёт заявку. Блок подачи всегда берётся из контекста
// исполнения, а не из входных данных.
func NewApplication(applicant shared.AccountID, document shared.DocumentRef, now shared.BlockNumber) Application {
	return Application{
		Applicant: applicant,
		AppliedOn: now,
		Document:  document,
	}
}

// ApplicationKey адресует заявку или отметку о зачислении.
type ApplicationKey struct {
	Intake    ID               `json:"intake" cbor:"intake"`
	Applicant shared.AccountID `json:"applicant" cbor:"applicant"`
}

// ClosingEntry - запись индекса закрытия: (блок закрытия, окно).
type ClosingEntry struct {
	Block  shared.BlockNumber `json:"block" cbor:"block"`
	Intake ID                 `json:"intake" cbor:"intake"`
}

// Compare упорядочивает записи по блоку, затем по идентификатору окна.
func (e ClosingEntry) Compare(other ClosingEntry) int {
	switch {
	case e.Block < other.Block:
		return -1
	case e.Block > other.Block:
		return 1
	default:
		return e.Intake.Compare(other.Intake)
	}
}
