package intake

import (
	"context"

	"github.com/edu-chain/credential-ledger/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Reader - операции чтения над хранилищами окон приёма.
type Reader interface {
	// Intake возвращает сохранённые метаданные окна (статус как записан, без
	// учёта текущего блока).
	// Возвращает ErrNoSuchIntake, если окно не найдено.
	Intake(ctx context.Context, id ID) (*Info, error)

	// Application возвращает заявку абитуриента.
	// Возвращает ErrNoSuchApplication, если заявки нет.
	Application(ctx context.Context, id ID, applicant shared.AccountID) (*Application, error)

	// Applications возвращает все оставшиеся заявки окна, упорядоченные по абитуриенту.
	Applications(ctx context.Context, id ID) ([]Application, error)

	// IsAccepted проверяет наличие отметки о зачислении.
	IsAccepted(ctx context.Context, id ID, applicant shared.AccountID) (bool, error)

	// AcceptedCount возвращает число зачисленных абитуриентов окна.
	AcceptedCount(ctx context.Context, id ID) (int, error)

	// LastIntake возвращает последнее объявленное окно университета.
	// Возвращает ErrNoSuchIntake, если университет ещё ничего не объявлял.
	LastIntake(ctx context.Context, institution shared.InstitutionID) (ID, error)

	// DueForClosing возвращает записи индекса закрытия с блоком <= upTo,
	// упорядоченные по (блок, окно).
	DueForClosing(ctx context.Context, upTo shared.BlockNumber) ([]ClosingEntry, error)
}

// Store - полный контракт хранилища. Все изменения одной операции
// применяются атомарно через Commit: либо все, либо ни одного.
type Store interface {
	Reader

	// Commit атомарно применяет набор изменений.
	Commit(ctx context.Context, cs *Changeset) error
}

// ══════════════════════════════════════════════════════════════════════════════
// EXTERNAL COLLABORATORS
// ══════════════════════════════════════════════════════════════════════════════

// InstitutionDirectory - реестр университетов, которым владеет внешний модуль.
// Ядро только читает его.
type InstitutionDirectory interface {
	// AdministratorOf возвращает администратора университета.
	// Второе значение false, если университет неизвестен.
	AdministratorOf(ctx context.Context, institution shared.InstitutionID) (shared.AccountID, bool)
}

// Provider - контракт для других модулей, которым нужны данные об окнах приёма.
type Provider interface {
	// IntakeInfo возвращает метаданные окна с эффективным статусом.
	// Возвращает ErrNoSuchIntake, если окно не найдено.
	IntakeInfo(ctx context.Context, id ID) (*Info, error)
}
