package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/medvault/internal/domain/model"
)

const userColumns = `wallet_address, role, name, email, phone, hospital, specialty, is_active, created_at`

// UserRepository — справочник участников.
type UserRepository interface {
	// GetOrCreate возвращает участника, создавая его с ролью role при первом упоминании.
	// Роль существующего участника не меняется. created — была ли вставка.
	GetOrCreate(ctx context.Context, address string, role model.Role) (*model.User, bool, error)
	// FindByAddress возвращает участника или ErrNotFound.
	FindByAddress(ctx context.Context, address string) (*model.User, error)
}

type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий участников.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

// GetOrCreate — атомарный get-or-create через INSERT ... ON CONFLICT DO NOTHING.
// Конкурентные первые обращения к одному адресу дают одну строку.
func (r *userRepo) GetOrCreate(ctx context.Context, address string, role model.Role) (*model.User, bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO users (wallet_address, role)
		VALUES ($1, $2)
		ON CONFLICT (wallet_address) DO NOTHING
		RETURNING %s`, userColumns)

	u, err := scanUser(r.db.QueryRow(ctx, query, address, string(role)))
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("ошибка создания участника: %w", err)
	}

	// Строка уже существует
	u, err = r.FindByAddress(ctx, address)
	if err != nil {
		return nil, false, err
	}
	return u, false, nil
}

// FindByAddress возвращает участника по адресу.
func (r *userRepo) FindByAddress(ctx context.Context, address string) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE wallet_address = $1`, userColumns)

	u, err := scanUser(r.db.QueryRow(ctx, query, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения участника: %w", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	var role string
	if err := row.Scan(
		&u.Address, &role, &u.Name, &u.Email, &u.Phone,
		&u.Hospital, &u.Specialty, &u.IsActive, &u.CreatedAt,
	); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return u, nil
}
