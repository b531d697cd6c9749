package branches

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"branch-ops/internal/access"
	"branch-ops/internal/db"
	"branch-ops/internal/models"

	"github.com/google/uuid"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{1,8}$`)

type Service struct {
	gw *db.Gateway
}

func NewService(gw *db.Gateway) *Service {
	return &Service{gw: gw}
}

type NewBranch struct {
	Code           string  `json:"code" validate:"required"`
	Name           string  `json:"name" validate:"required"`
	TelegramChatID *string `json:"telegram_chat_id"`
}

func (s *Service) Create(ctx context.Context, actor access.Actor, in NewBranch) (*models.Branch, error) {
	if !actor.Can(access.ManageBranches) {
		return nil, models.PermissionDenied("you cannot manage branches")
	}
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	if !codePattern.MatchString(code) {
		return nil, models.Validation("branch code must be 1-8 letters or digits")
	}

	b := &models.Branch{Code: code, Name: strings.TrimSpace(in.Name), Active: true, TelegramChatID: in.TelegramChatID}
	err := s.gw.DB.QueryRowContext(ctx, `
		INSERT INTO branches (code, name, telegram_chat_id) VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, b.Code, b.Name, b.TelegramChatID).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, models.Conflict("branch code %s already exists", code)
		}
		return nil, fmt.Errorf("failed to create branch: %w", err)
	}
	return b, nil
}

// Get loads a branch by id through any Querier, so engines can read the
// branch code inside their own transaction.
func Get(ctx context.Context, q db.Querier, id uuid.UUID) (*models.Branch, error) {
	b := &models.Branch{}
	err := q.QueryRowContext(ctx, `
		SELECT id, code, name, active, telegram_chat_id, created_at FROM branches WHERE id = $1
	`, id).Scan(&b.ID, &b.Code, &b.Name, &b.Active, &b.TelegramChatID, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NotFound("branch not found")
		}
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}
	return b, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Branch, error) {
	return Get(ctx, s.gw.DB, id)
}

// List returns every branch visible in scope, active first.
func (s *Service) List(ctx context.Context, scope access.Scope) ([]*models.Branch, error) {
	var args db.Args
	rows, err := s.gw.DB.QueryContext(ctx, `
		SELECT id, code, name, active, telegram_chat_id, created_at
		FROM branches WHERE `+scope.Filter("id", &args)+`
		ORDER BY active DESC, code
	`, args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("failed to query branches: %w", err)
	}
	defer rows.Close()

	var out []*models.Branch
	for rows.Next() {
		b := &models.Branch{}
		if err := rows.Scan(&b.ID, &b.Code, &b.Name, &b.Active, &b.TelegramChatID, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Deactivate soft-deletes a branch. Branches are never hard-deleted while
// anything references them.
func (s *Service) Deactivate(ctx context.Context, actor access.Actor, id uuid.UUID) error {
	if !actor.Can(access.ManageBranches) {
		return models.PermissionDenied("you cannot manage branches")
	}
	res, err := s.gw.DB.ExecContext(ctx, `UPDATE branches SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate branch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NotFound("branch not found")
	}
	return nil
}

// ChatIDs maps branch id to its notification chat, for branches that have one.
func (s *Service) ChatIDs(ctx context.Context) (map[uuid.UUID]string, error) {
	rows, err := s.gw.DB.QueryContext(ctx, `SELECT id, telegram_chat_id FROM branches WHERE telegram_chat_id IS NOT NULL AND active`)
	if err != nil {
		return nil, fmt.Errorf("failed to query branch chats: %w", err)
	}
	defer rows.Close()
	out := make(map[uuid.UUID]string)
	for rows.Next() {
		var id uuid.UUID
		var chat string
		if err := rows.Scan(&id, &chat); err != nil {
			return nil, fmt.Errorf("failed to scan branch chat: %w", err)
		}
		out[id] = chat
	}
	return out, rows.Err()
}
