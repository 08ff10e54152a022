package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dmakarov/persona-chat/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*PersonaRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewPersonaRepository(db), mock, func() { _ = db.Close() }
}

func personaColumns() []string {
	return []string{"id", "name", "title", "avatar_url", "description", "greeting", "system_prompt", "temperature", "max_tokens"}
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, name, title, avatar_url").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrPersonaNotFound) {
		t.Fatalf("expected ErrPersonaNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDMapsAllColumns(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows(personaColumns()).
		AddRow("ada", "Ada Lovelace", "Mathematician", "/avatars/ada.png", "First programmer", "Hello!", "You are Ada Lovelace.", 0.6, 800)
	mock.ExpectQuery("SELECT id, name, title, avatar_url").
		WithArgs("ada").
		WillReturnRows(rows)

	p, err := repo.GetByID(context.Background(), "ada")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if p.Name != "Ada Lovelace" || p.SystemPrompt != "You are Ada Lovelace." {
		t.Fatalf("unexpected persona: %+v", p)
	}
	if p.Temperature != 0.6 || p.MaxTokens != 800 {
		t.Fatalf("unexpected generation params: %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDServesRepeatLookupsFromCache(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows(personaColumns()).
		AddRow("ada", "Ada Lovelace", "", "", "", "", "prompt", 0.7, 1024)
	mock.ExpectQuery("SELECT id, name, title, avatar_url").
		WithArgs("ada").
		WillReturnRows(rows)

	if _, err := repo.GetByID(context.Background(), "ada"); err != nil {
		t.Fatalf("GetByID() first call error = %v", err)
	}
	p, err := repo.GetByID(context.Background(), "ada")
	if err != nil {
		t.Fatalf("GetByID() second call error = %v", err)
	}
	if p.Name != "Ada Lovelace" {
		t.Fatalf("unexpected cached persona: %+v", p)
	}
	// One ExpectQuery registered: a second database hit would fail here.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListReturnsPersonasInQueryOrder(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows(personaColumns()).
		AddRow("ada", "Ada Lovelace", "", "", "", "", "prompt a", 0.0, 0).
		AddRow("turing", "Alan Turing", "", "", "", "", "prompt t", 0.0, 0)
	mock.ExpectQuery("SELECT id, name, title, avatar_url").WillReturnRows(rows)

	personas, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(personas) != 2 {
		t.Fatalf("expected 2 personas, got %d", len(personas))
	}
	if personas[0].ID != "ada" || personas[1].ID != "turing" {
		t.Fatalf("unexpected order: %s, %s", personas[0].ID, personas[1].ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
