package repo

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/operator/entity"
)

func TestIsActiveUsesIdentityTableOfKind(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer mockDB.Close()
	r := NewOperatorRepo(sqlx.NewDb(mockDB, "postgres"))
	ctx := context.Background()

	mock.ExpectQuery(`SELECT status FROM users WHERE id=\$1`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
	mock.ExpectQuery(`SELECT status FROM volunteers WHERE id=\$1`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("disabled"))
	mock.ExpectQuery(`SELECT status FROM volunteers WHERE id=\$1`).WithArgs(int64(4)).
		WillReturnError(sql.ErrNoRows)

	if ok, err := r.IsActive(ctx, entity.Operator{Kind: entity.KindUser, ID: 3}); err != nil || !ok {
		t.Fatalf("user 3: ok=%v err=%v", ok, err)
	}
	if ok, err := r.IsActive(ctx, entity.Operator{Kind: entity.KindVolunteer, ID: 3}); err != nil || ok {
		t.Fatalf("volunteer 3: ok=%v err=%v", ok, err)
	}
	if ok, err := r.IsActive(ctx, entity.Operator{Kind: entity.KindVolunteer, ID: 4}); err != nil || ok {
		t.Fatalf("volunteer 4: ok=%v err=%v", ok, err)
	}
	if _, err := r.IsActive(ctx, entity.Operator{Kind: "guest", ID: 4}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
