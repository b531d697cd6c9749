package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"branch-ops/internal/access"
	"branch-ops/internal/db"
	"branch-ops/internal/logging"
	"branch-ops/internal/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInactiveUser       = errors.New("user is deactivated")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

type Service struct {
	gw     *db.Gateway
	tokens *TokenManager
}

func NewService(gw *db.Gateway, tokens *TokenManager) *Service {
	return &Service{gw: gw, tokens: tokens}
}

type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := getUser(ctx, s.gw.DB, "username", strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrInactiveUser
	}

	token, expires, err := s.tokens.Generate(user.ID.String(), user.Username, user.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: expires, User: user}, nil
}

// Authenticate verifies a bearer token and loads the acting user fresh from
// the database, so role and branch changes apply without re-login.
func (s *Service) Authenticate(ctx context.Context, token string) (access.Actor, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return access.Actor{}, ErrInvalidToken
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return access.Actor{}, ErrInvalidToken
	}
	user, err := getUser(ctx, s.gw.DB, "id", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return access.Actor{}, ErrInvalidToken
		}
		return access.Actor{}, err
	}
	if !user.Active {
		return access.Actor{}, ErrInactiveUser
	}
	return ActorFor(user), nil
}

// ActorFor converts a loaded user into the request's acting identity.
func ActorFor(u *models.User) access.Actor {
	return access.NewActor(u.ID, u.Username, access.Role(u.Role), u.SystemWide, u.BranchIDs, u.PrimaryBranchID)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := getUser(ctx, s.gw.DB, "id", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("user not found")
	}
	return u, err
}

type NewUser struct {
	Username        string      `json:"username" validate:"required,min=3,max=64"`
	Password        string      `json:"password" validate:"required,min=8"`
	FullName        string      `json:"full_name" validate:"required"`
	Role            string      `json:"role" validate:"required"`
	SystemWide      *bool       `json:"system_wide"`
	PrimaryBranchID *uuid.UUID  `json:"primary_branch_id"`
	BranchIDs       []uuid.UUID `json:"branch_ids"`
	ManagerID       *uuid.UUID  `json:"manager_id"`
	Email           *string     `json:"email" validate:"omitempty,email"`
}

// CreateUser inserts a staff account and its branch assignments in one
// transaction. The primary branch is always part of the assigned set.
func (s *Service) CreateUser(ctx context.Context, actor access.Actor, in NewUser) (*models.User, error) {
	if !actor.Can(access.ManageUsers) {
		return nil, models.PermissionDenied("you cannot manage users")
	}
	role, ok := access.ParseRole(in.Role)
	if !ok {
		return nil, models.Validation("unknown role %q", in.Role)
	}
	systemWide := role.SystemWideByDefault()
	if in.SystemWide != nil {
		systemWide = *in.SystemWide
	}
	if !systemWide && in.PrimaryBranchID == nil && len(in.BranchIDs) == 0 {
		return nil, models.Validation("branch-scoped users need at least one branch")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	branchIDs := append([]uuid.UUID(nil), in.BranchIDs...)
	if in.PrimaryBranchID != nil && !containsID(branchIDs, *in.PrimaryBranchID) {
		branchIDs = append(branchIDs, *in.PrimaryBranchID)
	}

	user := &models.User{
		ID:              uuid.New(),
		Username:        strings.TrimSpace(in.Username),
		PasswordHash:    string(hash),
		FullName:        in.FullName,
		Role:            string(role),
		SystemWide:      systemWide,
		PrimaryBranchID: in.PrimaryBranchID,
		ManagerID:       in.ManagerID,
		BranchIDs:       branchIDs,
		Email:           in.Email,
		Active:          true,
	}

	err = s.gw.WithTx(ctx, "create_user", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO users (id, username, password_hash, full_name, role, system_wide, primary_branch_id, manager_id, email)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at
		`, user.ID, user.Username, user.PasswordHash, user.FullName, user.Role, user.SystemWide,
			user.PrimaryBranchID, user.ManagerID, user.Email).Scan(&user.CreatedAt)
		if err != nil {
			if db.IsUniqueViolation(err, "users_username_key") {
				return models.Conflict("username %s is already taken", user.Username)
			}
			if db.IsForeignKeyViolation(err, "") {
				return models.NotFound("manager or primary branch not found")
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		return insertUserBranches(ctx, tx, user.ID, branchIDs)
	})
	if err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Info().Str("user_id", user.ID.String()).Str("role", user.Role).Msg("Created user")
	return user, nil
}

// SetManager changes a user's manager, refusing any assignment that would
// make the user their own ancestor.
func (s *Service) SetManager(ctx context.Context, actor access.Actor, userID uuid.UUID, managerID *uuid.UUID) error {
	if !actor.Can(access.ManageUsers) {
		return models.PermissionDenied("you cannot manage users")
	}
	return s.gw.WithTx(ctx, "set_manager", func(tx *sql.Tx) error {
		if managerID != nil {
			var cycle bool
			err := tx.QueryRowContext(ctx, `
				WITH RECURSIVE chain(id, manager_id) AS (
					SELECT id, manager_id FROM users WHERE id = $1
					UNION
					SELECT u.id, u.manager_id FROM users u JOIN chain c ON u.id = c.manager_id
				)
				SELECT EXISTS (SELECT 1 FROM chain WHERE id = $2)
			`, *managerID, userID).Scan(&cycle)
			if err != nil {
				return fmt.Errorf("failed to check manager chain: %w", err)
			}
			if cycle {
				return models.InvalidState("manager assignment would create a cycle")
			}
		}
		res, err := tx.ExecContext(ctx, `UPDATE users SET manager_id = $1 WHERE id = $2`, managerID, userID)
		if err != nil {
			if db.IsForeignKeyViolation(err, "") {
				return models.NotFound("manager not found")
			}
			return fmt.Errorf("failed to update manager: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.NotFound("user not found")
		}
		return nil
	})
}

// DeactivateUser soft-deletes a staff account.
func (s *Service) DeactivateUser(ctx context.Context, actor access.Actor, userID uuid.UUID) error {
	if !actor.Can(access.ManageUsers) {
		return models.PermissionDenied("you cannot manage users")
	}
	if userID == actor.ID {
		return models.InvalidState("you cannot deactivate yourself")
	}
	res, err := s.gw.DB.ExecContext(ctx, `UPDATE users SET active = FALSE WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NotFound("user not found")
	}
	return nil
}

// SeedAdmin creates the bootstrap administrator when no user has the
// username yet. It is safe to run on every start.
func (s *Service) SeedAdmin(ctx context.Context, username, password string) (bool, error) {
	var exists bool
	if err := s.gw.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check admin user: %w", err)
	}
	if exists {
		return false, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("failed to hash password: %w", err)
	}
	_, err = s.gw.DB.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, full_name, role, system_wide)
		VALUES ($1, $2, 'Administrator', $3, TRUE)
		ON CONFLICT (username) DO NOTHING
	`, username, string(hash), string(access.RoleAdmin))
	if err != nil {
		return false, fmt.Errorf("failed to create admin user: %w", err)
	}
	logging.Info().Str("username", username).Msg("Created default admin user")
	return true, nil
}

func getUser(ctx context.Context, q db.Querier, column string, value interface{}) (*models.User, error) {
	if column != "id" && column != "username" {
		return nil, fmt.Errorf("unsupported user lookup column %q", column)
	}
	u := &models.User{}
	err := q.QueryRowContext(ctx, `
		SELECT id, username, password_hash, full_name, role, system_wide, primary_branch_id, manager_id, email, active, created_at
		FROM users WHERE `+column+` = $1
	`, value).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FullName, &u.Role, &u.SystemWide,
		&u.PrimaryBranchID, &u.ManagerID, &u.Email, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	rows, err := q.QueryContext(ctx, `SELECT branch_id FROM user_branches WHERE user_id = $1 ORDER BY branch_id`, u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user branches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user branch: %w", err)
		}
		u.BranchIDs = append(u.BranchIDs, id)
	}
	return u, rows.Err()
}

func insertUserBranches(ctx context.Context, tx *sql.Tx, userID uuid.UUID, branchIDs []uuid.UUID) error {
	for _, b := range branchIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_branches (user_id, branch_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, userID, b)
		if err != nil {
			if db.IsForeignKeyViolation(err, "") {
				return models.NotFound("branch %s not found", b)
			}
			return fmt.Errorf("failed to assign branch: %w", err)
		}
	}
	return nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
