package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantry/internal/admin/domain"
	auditdomain "github.com/smallbiznis/tenantry/internal/audit/domain"
	auditrepository "github.com/smallbiznis/tenantry/internal/audit/repository"
	auditservice "github.com/smallbiznis/tenantry/internal/audit/service"
	authdomain "github.com/smallbiznis/tenantry/internal/auth/domain"
	authrepository "github.com/smallbiznis/tenantry/internal/auth/repository"
	"github.com/smallbiznis/tenantry/internal/authorization"
	"github.com/smallbiznis/tenantry/internal/clock"
	"github.com/smallbiznis/tenantry/internal/identity"
	invitationdomain "github.com/smallbiznis/tenantry/internal/invitation/domain"
	"github.com/smallbiznis/tenantry/internal/outbox"
	workspacedomain "github.com/smallbiznis/tenantry/internal/workspace/domain"
	workspacerepository "github.com/smallbiznis/tenantry/internal/workspace/repository"
	workspaceservice "github.com/smallbiznis/tenantry/internal/workspace/service"
	"github.com/smallbiznis/tenantry/pkg/apperr"
	"github.com/smallbiznis/tenantry/pkg/db"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db           *gorm.DB
	svc          domain.Service
	workspaceSvc workspacedomain.Service
	userRepo     authdomain.Repository
	node         *snowflake.Node
	clock        *clock.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&authdomain.User{},
		&authdomain.Session{},
		&workspacedomain.Workspace{},
		&workspacedomain.Member{},
		&invitationdomain.Invitation{},
		&outbox.Event{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC))

	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepository.Provide(),
		Clock: clk,
	})
	authz := authorization.NewService(authorization.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		Enforcer: enforcer,
		AuditSvc: auditSvc,
	})

	userRepo, sessionRepo := authrepository.New(conn)
	workspaceRepo := workspacerepository.NewRepository(conn)
	workspaceSvc := workspaceservice.NewService(workspaceservice.Params{
		DB:        conn,
		Log:       zap.NewNop(),
		Repo:      workspaceRepo,
		UserRepo:  userRepo,
		Authz:     authz,
		Publisher: outbox.NewPublisher(conn, node, clk),
		GenID:     node,
		Clock:     clk,
		AuditSvc:  auditSvc,
	})

	svc := NewService(Params{
		DB:            conn,
		Log:           zap.NewNop(),
		UserRepo:      userRepo,
		SessionRepo:   sessionRepo,
		WorkspaceRepo: workspaceRepo,
		WorkspaceSvc:  workspaceSvc,
		AuditSvc:      auditSvc,
		Clock:         clk,
	})

	return &testEnv{
		db:           conn,
		svc:          svc,
		workspaceSvc: workspaceSvc,
		userRepo:     userRepo,
		node:         node,
		clock:        clk,
	}
}

func (e *testEnv) createUser(t *testing.T, email, name, role string) identity.Identity {
	t.Helper()

	now := e.clock.Now()
	user := &authdomain.User{
		ID:           e.node.Generate(),
		Email:        email,
		Name:         name,
		PlatformRole: role,
		Status:       authdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, e.userRepo.Create(context.Background(), user))
	return identity.ForUser(e.node.Generate(), user.ID, role == authdomain.PlatformRoleAdmin)
}

func (e *testEnv) createWorkspace(t *testing.T, owner identity.Identity, name string) snowflake.ID {
	t.Helper()

	ws, err := e.workspaceSvc.Create(context.Background(), owner, workspacedomain.CreateWorkspaceRequest{Name: name})
	require.NoError(t, err)
	id, err := snowflake.ParseString(ws.ID)
	require.NoError(t, err)
	return id
}

func (e *testEnv) createSession(t *testing.T, userID snowflake.ID) snowflake.ID {
	t.Helper()

	now := e.clock.Now()
	session := &authdomain.Session{
		ID:               e.node.Generate(),
		UserID:           userID,
		SessionTokenHash: e.node.Generate().String(),
		ExpiresAt:        now.Add(24 * time.Hour),
		CreatedAt:        now,
		LastSeenAt:       now,
	}
	require.NoError(t, e.db.Create(session).Error)
	return session.ID
}

func (e *testEnv) sessionRevoked(t *testing.T, id snowflake.ID) bool {
	t.Helper()

	var session authdomain.Session
	require.NoError(t, e.db.First(&session, "id = ?", id).Error)
	return session.RevokedAt != nil
}

func assertAppErr(t *testing.T, err error, kind apperr.Kind, code string) {
	t.Helper()

	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), "unexpected kind for %v", err)
	assert.Equal(t, code, apperr.CodeOf(err), "unexpected code for %v", err)
}

func ptr(s string) *string { return &s }

func TestConsoleRequiresPlatformAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice@example.com", "Alice", authdomain.PlatformRoleUser)

	_, err := env.svc.ListUsers(ctx, alice, domain.ListUsersRequest{})
	assertAppErr(t, err, apperr.KindForbidden, "platform_admin_required")

	_, err = env.svc.ListWorkspaces(ctx, identity.Identity{}, pagination.Request{})
	assertAppErr(t, err, apperr.KindUnauthorized, "unauthenticated")

	admin := env.createUser(t, "root@example.com", "Root", authdomain.PlatformRoleAdmin)
	impersonating := admin.As(alice.RealUserID, false)
	err = env.svc.DeleteUser(ctx, impersonating, alice.RealUserID)
	assertAppErr(t, err, apperr.KindForbidden, "platform_admin_required")
}

func TestListUsersFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createUser(t, "root@example.com", "Root", authdomain.PlatformRoleAdmin)
	env.createUser(t, "alice@example.com", "Alice", authdomain.PlatformRoleUser)
	env.createUser(t, "bob@example.com", "Bob", authdomain.PlatformRoleUser)
	env.createUser(t, "bobby@example.com", "Bobby", authdomain.PlatformRoleUser)

	page, err := env.svc.ListUsers(ctx, admin, domain.ListUsersRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, page.Total)

	page, err = env.svc.ListUsers(ctx, admin, domain.ListUsersRequest{
		Request: pagination.Request{Search: "BOB", SortBy: "email", SortOrder: "asc", PageSize: 1},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	assert.Equal(t, 2, page.PageCount)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "bob@example.com", page.Items[0].Email)

	page, err = env.svc.ListUsers(ctx, admin, domain.ListUsersRequest{Role: "ADMIN"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "root@example.com", page.Items[0].Email)

	_, err = env.svc.ListUsers(ctx, admin, domain.ListUsersRequest{Status: "gone"})
	assertAppErr(t, err, apperr.KindValidation, "invalid_status")
}

func TestGetUserIncludesMemberships(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createUser(t, "root@example.com", "Root", authdomain.PlatformRoleAdmin)
	alice := env.createUser(t, "alice@example.com", "Alice", authdomain.PlatformRoleUser)
	wsID := env.createWorkspace(t, alice, "Acme")

	detail, err := env.svc.GetUser(ctx, admin, alice.RealUserID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", detail.Email)
	require.NotNil(t, detail.DefaultWorkspaceID)
	assert.Equal(t, wsID.String(), *detail.DefaultWorkspaceID)
	require.Len(t, detail.Memberships, 1)
	assert.Equal(t, "acme", detail.Memberships[0].WorkspaceSlug)
	assert.Equal(t, workspacedomain.RoleOwner, detail.Memberships[0].Role)

	_, err = env.svc.GetUser(ctx, admin, env.node.Generate())
	assertAppErr(t, err, apperr.KindNotFound, "user_not_found")
}

func TestUpdateUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createUser(t, "root@example.com", "Root", authdomain.PlatformRoleAdmin)
	alice := env.createUser(t, "alice@example.com", "Alice", authdomain.PlatformRoleUser)
	sessionID := env.createSession(t, alice.RealUserID)

	updated, err := env.svc.UpdateUser(ctx, admin, alice.RealUserID, domain.UpdateUserRequest{
		Name:   ptr("  Alice Smith "),
		Status: ptr("suspended"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", updated.Name)
	assert.Equal(t, authdomain.UserStatusSuspended, updated.Status)
	assert.True(t, env.sessionRevoked(t, sessionID))

	logs, err := env.svc.ListAuditLogs(ctx, admin, auditdomain.ListAuditLogRequest{Action: auditdomain.ActionUserUpdated})
	require.NoError(t, err)
	require.Len(t, logs.AuditLogs, 1)
	require.NotNil(t, logs.AuditLogs[0].ActorID)
	assert.Equal(t, admin.RealUserID.String(), *logs.AuditLogs[0].ActorID)
	assert.Equal(t, "SUSPENDED", logs.AuditLogs[0].Metadata["new_status"])

	updated, err = env.svc.UpdateUser(ctx, admin, alice.RealUserID, domain.UpdateUserRequest{PlatformRole: ptr("admin")})
	require.NoError(t, err)
	assert.Equal(t, authdomain.PlatformRoleAdmin, updated.PlatformRole)
}

func TestUpdateUserValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createUser(t, "root@example.com", "Root", authdomain.PlatformRoleAdmin)
	alice := env.createUser(t, "alice@example.com", "Alice", authdomain.PlatformRoleUser)

	_, err := env.svc.UpdateUser(ctx, admin, alice.RealUserID, domain.UpdateUserRequest{})
	assertAppErr(t, err, apperr.KindValidation, "empty_update")

	_, err = env.svc.UpdateUser(ctx, admin, alice.RealUserID, domain.UpdateUserRequest{Name: ptr("   ")})
	assertAppErr(t, err, apperr.KindValidation, "invalid_name")

	_, err = env.svc.UpdateUser(ctx, admin, alice.RealUserID, domain.UpdateUserRequest{PlatformRole: ptr("root")})
	assertAppErr(t, err, apperr.KindValidation, "invalid_platform_role")

	_, err = env.svc.UpdateUser(ctx, admin, alice.RealUserID, domain.UpdateUserRequest{Status: ptr("DELETED")})
	assertAppErr(t, err, apperr.KindValidation, "invalid_status")

	_, err = env.svc.UpdateUser(ctx, admin, admin.RealUserID, domain.UpdateUserRequest{PlatformRole: ptr("user")})
	assertAppErr(t, err, apperr.KindForbidden, "self_modification")

	renamed, err := env.svc.UpdateUser(ctx, admin, admin.RealUserID, domain.UpdateUserRequest{Name: ptr("Root Admin")})
	require.NoError(t, err)
	assert.Equal(t, "Root Admin", renamed.Name)
}

func TestDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createUser(t, "root@example.com", "Root", authdomain.PlatformRoleAdmin)
	alice := env.createUser(t, "alice@example.com", "Alice", authdomain.PlatformRoleUser)
	bob := env.createUser(t, "bob@example.com", "Bob", authdomain.PlatformRoleUser)
	wsID := env.createWorkspace(t, alice, "Acme")
	_, err := env.workspaceSvc.AddMember(ctx, alice, wsID, workspacedomain.AddMemberRequest{Email: "bob@example.com", Role: "member"})
	require.NoError(t, err)
	sessionID := env.createSession(t, bob.RealUserID)

	err = env.svc.DeleteUser(ctx, admin, alice.RealUserID)
	assertAppErr(t, err, apperr.KindConflict, "user_owns_workspaces")

	err = env.svc.DeleteUser(ctx, admin, admin.RealUserID)
	assertAppErr(t, err, apperr.KindForbidden, "self_modification")

	require.NoError(t, env.svc.DeleteUser(ctx, admin, bob.RealUserID))
	require.NoError(t, env.svc.DeleteUser(ctx, admin, bob.RealUserID))

	detail, err := env.svc.GetUser(ctx, admin, bob.RealUserID)
	require.NoError(t, err)
	assert.Equal(t, authdomain.UserStatusDeleted, detail.Status)
	assert.Nil(t, detail.DefaultWorkspaceID)
	assert.Empty(t, detail.Memberships)
	assert.True(t, env.sessionRevoked(t, sessionID))

	logs, err := env.svc.ListAuditLogs(ctx, admin, auditdomain.ListAuditLogRequest{Action: auditdomain.ActionUserDeleted})
	require.NoError(t, err)
	assert.Len(t, logs.AuditLogs, 1)
}

func TestDeleteUserWithCoOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createUser(t, "root@example.com", "Root", authdomain.PlatformRoleAdmin)
	alice := env.createUser(t, "alice@example.com", "Alice", authdomain.PlatformRoleUser)
	env.createUser(t, "bob@example.com", "Bob", authdomain.PlatformRoleUser)
	wsID := env.createWorkspace(t, alice, "Acme")
	_, err := env.workspaceSvc.AddMember(ctx, alice, wsID, workspacedomain.AddMemberRequest{Email: "bob@example.com", Role: "owner"})
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteUser(ctx, admin, alice.RealUserID))

	ws, err := env.svc.GetWorkspace(ctx, admin, wsID)
	require.NoError(t, err)
	require.Len(t, ws.Members, 1)
	assert.Equal(t, "bob@example.com", ws.Members[0].Email)
	assert.Equal(t, workspacedomain.RoleOwner, ws.Members[0].Role)
}

func TestWorkspaceConsole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createUser(t, "root@example.com", "Root", authdomain.PlatformRoleAdmin)
	alice := env.createUser(t, "alice@example.com", "Alice", authdomain.PlatformRoleUser)
	env.createUser(t, "bob@example.com", "Bob", authdomain.PlatformRoleUser)
	acme := env.createWorkspace(t, alice, "Acme")
	env.createWorkspace(t, alice, "Globex")
	_, err := env.workspaceSvc.AddMember(ctx, alice, acme, workspacedomain.AddMemberRequest{Email: "bob@example.com", Role: "viewer"})
	require.NoError(t, err)

	page, err := env.svc.ListWorkspaces(ctx, admin, pagination.Request{SortBy: "member_count", SortOrder: "desc"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "acme", page.Items[0].Slug)
	assert.EqualValues(t, 2, page.Items[0].MemberCount)

	page, err = env.svc.ListWorkspaces(ctx, admin, pagination.Request{Search: "glob"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Globex", page.Items[0].Name)

	detail, err := env.svc.GetWorkspace(ctx, admin, acme)
	require.NoError(t, err)
	assert.EqualValues(t, 2, detail.MemberCount)
	require.Len(t, detail.Members, 2)
	assert.Equal(t, workspacedomain.RoleOwner, detail.Members[0].Role)

	require.NoError(t, env.svc.DeleteWorkspace(ctx, admin, acme))
	_, err = env.svc.GetWorkspace(ctx, admin, acme)
	assertAppErr(t, err, apperr.KindNotFound, "workspace_not_found")

	logs, err := env.svc.ListAuditLogs(ctx, admin, auditdomain.ListAuditLogRequest{Action: auditdomain.ActionWorkspaceDeleted})
	require.NoError(t, err)
	require.Len(t, logs.AuditLogs, 1)
	require.NotNil(t, logs.AuditLogs[0].WorkspaceID)
	assert.Equal(t, acme, *logs.AuditLogs[0].WorkspaceID)
}
