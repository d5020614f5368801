package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StoreAPI interface {
	FindUser(ctx context.Context, userID string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, user User) (string, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, userID string, update UserUpdate) (User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func (s *Store) FindUser(ctx context.Context, userID string) (User, error) {
	return s.scanUser(s.DB.QueryRow(ctx, `
    SELECT id, email, display_name, role, COALESCE(assigned_to::text, ''), phone, password_hash, created_at
    FROM users
    WHERE id = $1
  `, userID))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.DB.QueryRow(ctx, `
    SELECT id, email, display_name, role, COALESCE(assigned_to::text, ''), phone, password_hash, created_at
    FROM users
    WHERE lower(email) = lower($1)
  `, strings.TrimSpace(email)))
}

func (s *Store) CreateUser(ctx context.Context, user User) (string, error) {
	var assignedTo any
	if user.AssignedTo != "" {
		assignedTo = user.AssignedTo
	}
	var id string
	err := s.DB.QueryRow(ctx, `
    INSERT INTO users (email, display_name, role, assigned_to, phone, password_hash)
    VALUES ($1,$2,$3,$4,$5,$6)
    RETURNING id
  `, strings.TrimSpace(user.Email), user.DisplayName, user.RoleName, assignedTo, user.Phone, user.PasswordHash).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrEmailTaken
		}
		return "", err
	}
	return id, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, email, display_name, role, COALESCE(assigned_to::text, ''), phone, password_hash, created_at
    FROM users
    ORDER BY display_name, email
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser applies the non-nil fields of update. An empty AssignedTo
// clears the routing.
func (s *Store) UpdateUser(ctx context.Context, userID string, update UserUpdate) (User, error) {
	var assignedTo any
	if update.AssignedTo != nil && *update.AssignedTo != "" {
		assignedTo = *update.AssignedTo
	}
	return s.scanUser(s.DB.QueryRow(ctx, `
    UPDATE users SET
      display_name = COALESCE($2, display_name),
      role = COALESCE($3, role),
      assigned_to = CASE WHEN $4 THEN $5::uuid ELSE assigned_to END,
      phone = COALESCE($6, phone)
    WHERE id = $1
    RETURNING id, email, display_name, role, COALESCE(assigned_to::text, ''), phone, password_hash, created_at
  `, userID, update.DisplayName, update.RoleName, update.AssignedTo != nil, assignedTo, update.Phone))
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	tag, err := s.DB.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Store) scanUser(row pgx.Row) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.RoleName, &u.AssignedTo, &u.Phone, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}
