package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/tenantry/internal/auth/domain"
	"github.com/smallbiznis/tenantry/internal/auth/repository"
	"github.com/smallbiznis/tenantry/internal/clock"
	"github.com/smallbiznis/tenantry/internal/config"
	"github.com/smallbiznis/tenantry/pkg/db"
	"go.uber.org/zap"
)

type testEnv struct {
	svc   authdomain.Service
	repo  authdomain.Repository
	clock *clock.FakeClock
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := dbConn.AutoMigrate(&authdomain.User{}, &authdomain.Session{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	repo, sessionRepo := repository.New(dbConn)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	svc := New(Params{
		Log:         zap.NewNop(),
		Cfg:         config.Config{SessionTTL: time.Hour},
		Repo:        repo,
		SessionRepo: sessionRepo,
		GenID:       node,
		Clock:       clk,
	})
	return testEnv{svc: svc, repo: repo, clock: clk}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)

	user, err := env.svc.CreateUser(context.Background(), authdomain.CreateUserRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if user == nil {
		t.Fatal("expected user")
	}

	_, err = env.svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "alice@example.com",
		Password: "wrong-password",
	})
	if !errors.Is(err, authdomain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestCreateUserNormalizesAndDefaults(t *testing.T) {
	env := newTestEnv(t)

	user, err := env.svc.CreateUser(context.Background(), authdomain.CreateUserRequest{
		Email:    "  Bob@Example.COM ",
		Password: "strong-password",
	})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if user.Email != "bob@example.com" {
		t.Fatalf("expected normalized email, got %s", user.Email)
	}
	if user.Name != "bob" {
		t.Fatalf("expected name derived from email, got %s", user.Name)
	}
	if user.PlatformRole != authdomain.PlatformRoleUser || user.Status != authdomain.UserStatusActive {
		t.Fatalf("unexpected defaults: role=%s status=%s", user.PlatformRole, user.Status)
	}
	if user.OnboardingCompleted || user.DefaultWorkspaceID != nil {
		t.Fatalf("new user must start without onboarding or default workspace")
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.CreateUser(ctx, authdomain.CreateUserRequest{Email: "dup@example.com", Password: "password-1"}); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	_, err := env.svc.CreateUser(ctx, authdomain.CreateUserRequest{Email: "DUP@example.com", Password: "password-2"})
	if !errors.Is(err, authdomain.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.CreateUser(ctx, authdomain.CreateUserRequest{Email: "not-an-email", Password: "password-1"}); !errors.Is(err, authdomain.ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := env.svc.CreateUser(ctx, authdomain.CreateUserRequest{Email: "a@example.com", Password: "short"}); !errors.Is(err, authdomain.ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestLoginAuthenticateLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.svc.CreateUser(ctx, authdomain.CreateUserRequest{Email: "carol@example.com", Password: "carol-password"})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	result, err := env.svc.Login(ctx, authdomain.LoginRequest{Email: "carol@example.com", Password: "carol-password"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.RawToken == "" || result.User.ID != user.ID {
		t.Fatalf("unexpected login result: %+v", result)
	}

	principal, err := env.svc.Authenticate(ctx, result.RawToken)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if principal.User.ID != user.ID || principal.Session.ID != result.SessionID {
		t.Fatalf("principal does not match login")
	}

	if err := env.svc.Logout(ctx, result.RawToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if _, err := env.svc.Authenticate(ctx, result.RawToken); !errors.Is(err, authdomain.ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestAuthenticateExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.CreateUser(ctx, authdomain.CreateUserRequest{Email: "dave@example.com", Password: "dave-password"}); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	result, err := env.svc.Login(ctx, authdomain.LoginRequest{Email: "dave@example.com", Password: "dave-password"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	env.clock.Advance(time.Hour)
	if _, err := env.svc.Authenticate(ctx, result.RawToken); !errors.Is(err, authdomain.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestLoginSuspendedUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.svc.CreateUser(ctx, authdomain.CreateUserRequest{Email: "erin@example.com", Password: "erin-password"})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if err := env.repo.UpdateFields(ctx, user.ID, map[string]any{"status": authdomain.UserStatusSuspended}); err != nil {
		t.Fatalf("failed to suspend: %v", err)
	}

	_, err = env.svc.Login(ctx, authdomain.LoginRequest{Email: "erin@example.com", Password: "erin-password"})
	if !errors.Is(err, authdomain.ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.svc.EnsureAdmin(ctx, "root@example.com", "root-password")
	if err != nil {
		t.Fatalf("ensure admin failed: %v", err)
	}
	if !first.IsPlatformAdmin() {
		t.Fatalf("expected platform admin")
	}

	second, err := env.svc.EnsureAdmin(ctx, "root@example.com", "root-password")
	if err != nil {
		t.Fatalf("second ensure admin failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same admin user")
	}

	count, err := env.repo.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 user, got %d", count)
	}
}
