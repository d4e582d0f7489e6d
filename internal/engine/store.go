package engine

import (
	"context"

	"pdfcp/internal/domain"
)

// Store is the persistence boundary. Implementations must report a locked
// line as *domain.LockedError and a missing one as domain.ErrNotFound, and
// must apply a StatusChange as one compare-and-swap that yields
// *domain.ConflictError when the stored status is not the expected one.
type Store interface {
	InsertProgram(ctx context.Context, p domain.Program, created domain.ValidationHistoryEntry) error
	GetProgram(ctx context.Context, id string) (domain.Program, error)
	GetProgramByCode(ctx context.Context, code string) (domain.Program, error)
	ListPrograms(ctx context.Context, f domain.ProgramFilter) ([]domain.Program, error)
	UpdateProgram(ctx context.Context, p domain.Program) error
	ArchiveProgram(ctx context.Context, id string, entry domain.ValidationHistoryEntry) error

	InsertActionLines(ctx context.Context, lines []domain.ActionLine, evts []domain.LineEvent) ([]domain.ActionLine, error)
	GetActionLine(ctx context.Context, programID, id string) (domain.ActionLine, error)
	UpdateActionLine(ctx context.Context, l domain.ActionLine, ev domain.LineEvent) error
	DeleteActionLine(ctx context.Context, programID, id string, ev domain.LineEvent) error
	ListActionLines(ctx context.Context, programID string, layer *domain.Layer) ([]domain.ActionLine, error)
	ListLineEvents(ctx context.Context, programID string, limit int) ([]domain.LineEvent, error)

	ApplyStatusChange(ctx context.Context, sc domain.StatusChange) error
	ListValidationHistory(ctx context.Context, programID string) ([]domain.ValidationHistoryEntry, error)
}
