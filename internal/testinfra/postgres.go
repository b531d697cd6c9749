//go:build integration

// Package testinfra starts throwaway PostgreSQL containers for integration
// tests and seeds the minimal rows the engines need.
package testinfra

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"branch-ops/internal/access"
	"branch-ops/internal/db"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	DefaultPostgresImage = "postgres:16-alpine"
	postgresPort         = "5432/tcp"
	postgresUser         = "ops"
	postgresPassword     = "ops"
	postgresDB           = "ops_test"
)

// SkipIfNoDocker skips the test when no Docker daemon is reachable.
func SkipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

// PostgresContainer is a running database with the schema applied.
type PostgresContainer struct {
	testcontainers.Container
	URL     string
	Gateway *db.Gateway
}

// NewPostgres starts PostgreSQL, connects, runs every migration and
// registers cleanup on t.
func NewPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	SkipIfNoDocker(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        DefaultPostgresImage,
			ExposedPorts: []string{postgresPort},
			Env: map[string]string{
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPassword,
				"POSTGRES_DB":       postgresDB,
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort(postgresPort),
			).WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("create postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, postgresPort)
	if err != nil {
		t.Fatalf("get mapped port: %v", err)
	}
	url := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, host, port.Port(), postgresDB)

	conn, err := db.Connect(ctx, url, db.PoolConfig{MaxOpenConns: 20})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.RunMigrations(ctx, conn); err != nil {
		conn.Close()
		t.Fatalf("migrate: %v", err)
	}
	gw := db.NewGateway(conn)
	t.Cleanup(func() { _ = gw.Close() })

	return &PostgresContainer{Container: container, URL: url, Gateway: gw}
}

// Branch inserts an active branch and returns its id.
func (p *PostgresContainer) Branch(t *testing.T, code string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := p.Gateway.DB.QueryRowContext(context.Background(),
		`INSERT INTO branches (code, name) VALUES ($1, $2) RETURNING id`, code, "Branch "+code).Scan(&id)
	if err != nil {
		t.Fatalf("insert branch %s: %v", code, err)
	}
	return id
}

// User inserts a staff row and returns the matching actor. The password hash
// is a placeholder; tests never log in through it.
func (p *PostgresContainer) User(t *testing.T, username string, role access.Role, systemWide bool, branchIDs ...uuid.UUID) access.Actor {
	t.Helper()
	ctx := context.Background()
	var id uuid.UUID
	err := p.Gateway.DB.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, full_name, role, system_wide)
		VALUES ($1, 'x', $1, $2, $3) RETURNING id
	`, username, string(role), systemWide).Scan(&id)
	if err != nil {
		t.Fatalf("insert user %s: %v", username, err)
	}
	for _, b := range branchIDs {
		if _, err := p.Gateway.DB.ExecContext(ctx, `INSERT INTO user_branches (user_id, branch_id) VALUES ($1, $2)`, id, b); err != nil {
			t.Fatalf("assign branch: %v", err)
		}
	}
	var primary *uuid.UUID
	if len(branchIDs) > 0 {
		primary = &branchIDs[0]
	}
	return access.NewActor(id, username, role, systemWide, branchIDs, primary)
}

// Admin inserts a system-wide administrator.
func (p *PostgresContainer) Admin(t *testing.T) access.Actor {
	t.Helper()
	return p.User(t, "admin-"+uuid.NewString()[:8], access.RoleAdmin, true)
}

// Student inserts an active student with the given session balance.
func (p *PostgresContainer) Student(t *testing.T, branchID uuid.UUID, code string, remaining int) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := p.Gateway.DB.QueryRowContext(context.Background(), `
		INSERT INTO students (branch_id, code, full_name, parent_name, parent_phone, status,
			total_sessions, remaining_sessions, fee_status)
		VALUES ($1, $2, $3, 'Parent', '0901234567', 'active', $4, $4, 'active')
		RETURNING id
	`, branchID, code, "Student "+code, remaining).Scan(&id)
	if err != nil {
		t.Fatalf("insert student %s: %v", code, err)
	}
	return id
}

// Exec runs a fixture statement and fails the test on error.
func (p *PostgresContainer) Exec(t *testing.T, query string, args ...interface{}) {
	t.Helper()
	if _, err := p.Gateway.DB.ExecContext(context.Background(), query, args...); err != nil {
		t.Fatalf("exec fixture: %v", err)
	}
}

// Class inserts an active weekly class without generating sessions.
func (p *PostgresContainer) Class(t *testing.T, branchID uuid.UUID, code string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := p.Gateway.DB.QueryRowContext(context.Background(), `
		INSERT INTO classes (branch_id, code, name, schedule_days, start_time, end_time, start_date, total_sessions)
		VALUES ($1, $2, $2, 'MON', '18:00', '19:30', '2026-01-05', 10) RETURNING id
	`, branchID, code).Scan(&id)
	if err != nil {
		t.Fatalf("insert class %s: %v", code, err)
	}
	return id
}
