package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tenantry/internal/audit/domain"
	auditrepository "github.com/smallbiznis/tenantry/internal/audit/repository"
	auditservice "github.com/smallbiznis/tenantry/internal/audit/service"
	authdomain "github.com/smallbiznis/tenantry/internal/auth/domain"
	authrepository "github.com/smallbiznis/tenantry/internal/auth/repository"
	"github.com/smallbiznis/tenantry/internal/authorization"
	"github.com/smallbiznis/tenantry/internal/clock"
	"github.com/smallbiznis/tenantry/internal/config"
	"github.com/smallbiznis/tenantry/internal/identity"
	"github.com/smallbiznis/tenantry/internal/invitation/domain"
	"github.com/smallbiznis/tenantry/internal/invitation/repository"
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

const testBaseURL = "https://app.example.com"

type testEnv struct {
	db         *gorm.DB
	svc        domain.Service
	repo       domain.Repository
	workspaces workspacedomain.Service
	userRepo   authdomain.Repository
	authz      authorization.Service
	publisher  outbox.Publisher
	node       *snowflake.Node
	clock      *clock.FakeClock
}

func newTestEnv(t *testing.T, policy config.PolicyConfig) *testEnv {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&authdomain.User{},
		&workspacedomain.Workspace{},
		&workspacedomain.Member{},
		&domain.Invitation{},
		&outbox.Event{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))

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

	userRepo, _ := authrepository.New(conn)
	workspaceRepo := workspacerepository.NewRepository(conn)
	publisher := outbox.NewPublisher(conn, node, clk)
	repo := repository.NewRepository(conn)

	workspaces := workspaceservice.NewService(workspaceservice.Params{
		DB:        conn,
		Log:       zap.NewNop(),
		Repo:      workspaceRepo,
		UserRepo:  userRepo,
		Authz:     authz,
		Publisher: publisher,
		GenID:     node,
		Clock:     clk,
		AuditSvc:  auditSvc,
	})
	svc := NewService(Params{
		DB:            conn,
		Log:           zap.NewNop(),
		Cfg:           config.Config{BaseURL: testBaseURL + "/"},
		Policy:        config.NewStaticPolicyHolder(policy),
		Repo:          repo,
		WorkspaceRepo: workspaceRepo,
		UserRepo:      userRepo,
		Authz:         authz,
		Publisher:     publisher,
		GenID:         node,
		Clock:         clk,
		AuditSvc:      auditSvc,
	})

	return &testEnv{
		db:         conn,
		svc:        svc,
		repo:       repo,
		workspaces: workspaces,
		userRepo:   userRepo,
		authz:      authz,
		publisher:  publisher,
		node:       node,
		clock:      clk,
	}
}

func (e *testEnv) createUser(t *testing.T, email string) identity.Identity {
	t.Helper()

	now := e.clock.Now()
	user := &authdomain.User{
		ID:           e.node.Generate(),
		Email:        email,
		Name:         strings.Split(email, "@")[0],
		PlatformRole: authdomain.PlatformRoleUser,
		Status:       authdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, e.userRepo.Create(context.Background(), user))
	return identity.ForUser(e.node.Generate(), user.ID, false)
}

func (e *testEnv) createWorkspace(t *testing.T, owner identity.Identity, name string) snowflake.ID {
	t.Helper()

	ws, err := e.workspaces.Create(context.Background(), owner, workspacedomain.CreateWorkspaceRequest{Name: name})
	require.NoError(t, err)
	id, err := snowflake.ParseString(ws.ID)
	require.NoError(t, err)
	return id
}

func (e *testEnv) invite(t *testing.T, actor identity.Identity, workspaceID snowflake.ID, email, role string) *domain.CreateResult {
	t.Helper()

	result, err := e.svc.Create(context.Background(), actor, workspaceID, domain.CreateRequest{Email: email, Role: role})
	require.NoError(t, err)
	return result
}

func (e *testEnv) invitation(t *testing.T, result *domain.CreateResult) *domain.Invitation {
	t.Helper()

	id, err := snowflake.ParseString(result.Invitation.ID)
	require.NoError(t, err)
	inv, err := e.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return inv
}

func assertAppErr(t *testing.T, err error, kind apperr.Kind, code string) {
	t.Helper()

	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), "unexpected kind for %v", err)
	assert.Equal(t, code, apperr.CodeOf(err), "unexpected code for %v", err)
}

func TestInviteAndAccept(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()
	alice := env.createUser(t, "alice@example.com")
	bob := env.createUser(t, "bob@example.com")

	wsID := env.createWorkspace(t, alice, "My Team!")
	createdAt := env.clock.Now()

	result := env.invite(t, alice, wsID, " Bob@Example.com ", "member")
	assert.Equal(t, "bob@example.com", result.Invitation.Email)
	assert.Equal(t, workspacedomain.RoleMember, result.Invitation.Role)
	assert.Equal(t, domain.StatusPending, result.Invitation.Status)
	assert.True(t, result.Invitation.ExpiresAt.Equal(createdAt.Add(7*24*time.Hour)))
	assert.Equal(t, testBaseURL+"/invitations/accept?token="+result.Token, result.AcceptURL)

	stored := env.invitation(t, result)
	assert.NotEqual(t, result.Token, stored.TokenHash)
	assert.Equal(t, hashToken(result.Token), stored.TokenHash)

	env.clock.Advance(time.Hour)
	accepted, err := env.svc.Accept(ctx, bob, result.Token)
	require.NoError(t, err)
	assert.Equal(t, wsID.String(), accepted.WorkspaceID)
	assert.Equal(t, "My Team!", accepted.WorkspaceName)
	assert.Equal(t, "my-team", accepted.WorkspaceSlug)
	assert.Equal(t, workspacedomain.RoleMember, accepted.Role)

	role, err := env.authz.RoleOf(ctx, wsID, bob.RealUserID)
	require.NoError(t, err)
	assert.Equal(t, workspacedomain.RoleMember, role)

	stored = env.invitation(t, result)
	assert.Equal(t, domain.StatusAccepted, stored.Status)
	require.NotNil(t, stored.AcceptedBy)
	assert.Equal(t, bob.RealUserID, *stored.AcceptedBy)
	assert.Nil(t, stored.PendingKey)

	user, err := env.userRepo.FindByID(ctx, bob.RealUserID)
	require.NoError(t, err)
	assert.True(t, user.OnboardingCompleted)
	require.NotNil(t, user.DefaultWorkspaceID)
	assert.Equal(t, wsID, *user.DefaultWorkspaceID)

	events, err := env.publisher.Pending(ctx, 10)
	require.NoError(t, err)
	topics := make([]string, 0, len(events))
	for _, event := range events {
		topics = append(topics, event.EventType)
	}
	assert.Equal(t, []string{outbox.TopicWorkspaceCreated, outbox.TopicMemberJoined}, topics)

	_, err = env.svc.Accept(ctx, bob, result.Token)
	assertAppErr(t, err, apperr.KindConflict, "already_accepted")
}

func TestAcceptConcurrentlyHasOneWinner(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	alice := env.createUser(t, "alice@example.com")
	wsID := env.createWorkspace(t, alice, "Acme")
	result := env.invite(t, alice, wsID, "team@example.com", workspacedomain.RoleMember)

	acceptors := []identity.Identity{
		env.createUser(t, "bob@example.com"),
		env.createUser(t, "carol@example.com"),
		env.createUser(t, "dave@example.com"),
	}

	errs := make([]error, len(acceptors))
	var wg sync.WaitGroup
	for i, actor := range acceptors {
		wg.Add(1)
		go func(i int, actor identity.Identity) {
			defer wg.Done()
			_, errs[i] = env.svc.Accept(context.Background(), actor, result.Token)
		}(i, actor)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assertAppErr(t, err, apperr.KindConflict, "already_accepted")
	}
	assert.Equal(t, 1, succeeded)

	var members int64
	require.NoError(t, env.db.Model(&workspacedomain.Member{}).Where("workspace_id = ?", wsID).Count(&members).Error)
	assert.EqualValues(t, 2, members)
}

func TestAcceptExpired(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()
	alice := env.createUser(t, "alice@example.com")
	bob := env.createUser(t, "bob@example.com")
	wsID := env.createWorkspace(t, alice, "Acme")
	result := env.invite(t, alice, wsID, "bob@example.com", workspacedomain.RoleViewer)

	env.clock.Advance(7 * 24 * time.Hour)
	_, err := env.svc.Accept(ctx, bob, result.Token)
	assertAppErr(t, err, apperr.KindExpired, "invitation_expired")

	stored := env.invitation(t, result)
	assert.Equal(t, domain.StatusExpired, stored.Status)
	assert.Nil(t, stored.PendingKey)

	role, err := env.authz.RoleOf(ctx, wsID, bob.RealUserID)
	require.NoError(t, err)
	assert.Empty(t, role)

	again := env.invite(t, alice, wsID, "bob@example.com", workspacedomain.RoleViewer)
	_, err = env.svc.Accept(ctx, bob, again.Token)
	require.NoError(t, err)
}

func TestAcceptInvalidToken(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	bob := env.createUser(t, "bob@example.com")

	_, err := env.svc.Accept(context.Background(), bob, "  ")
	assertAppErr(t, err, apperr.KindValidation, "invalid_token")

	_, err = env.svc.Accept(context.Background(), bob, "not-a-token")
	assertAppErr(t, err, apperr.KindNotFound, "invitation_not_found")

	_, err = env.svc.Accept(context.Background(), identity.Identity{}, "not-a-token")
	assertAppErr(t, err, apperr.KindUnauthorized, "unauthenticated")
}

func TestAcceptByExistingMember(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()
	alice := env.createUser(t, "alice@example.com")
	wsID := env.createWorkspace(t, alice, "Acme")
	result := env.invite(t, alice, wsID, "someone@example.com", workspacedomain.RoleAdmin)

	_, err := env.svc.Accept(ctx, alice, result.Token)
	assertAppErr(t, err, apperr.KindConflict, "already_member")

	stored := env.invitation(t, result)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestCreateRejectsDuplicatePending(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()
	alice := env.createUser(t, "alice@example.com")
	wsID := env.createWorkspace(t, alice, "Acme")
	first := env.invite(t, alice, wsID, "bob@example.com", workspacedomain.RoleMember)

	_, err := env.svc.Create(ctx, alice, wsID, domain.CreateRequest{Email: "BOB@example.com", Role: workspacedomain.RoleAdmin})
	assertAppErr(t, err, apperr.KindConflict, "invitation_pending")

	env.clock.Advance(8 * 24 * time.Hour)
	second := env.invite(t, alice, wsID, "bob@example.com", workspacedomain.RoleAdmin)
	assert.NotEqual(t, first.Invitation.ID, second.Invitation.ID)
	assert.Equal(t, domain.StatusExpired, env.invitation(t, first).Status)
}

func TestCreateValidatesInput(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()
	alice := env.createUser(t, "alice@example.com")
	wsID := env.createWorkspace(t, alice, "Acme")

	_, err := env.svc.Create(ctx, alice, wsID, domain.CreateRequest{Email: "not-an-email", Role: workspacedomain.RoleMember})
	assertAppErr(t, err, apperr.KindValidation, "invalid_email")

	_, err = env.svc.Create(ctx, alice, wsID, domain.CreateRequest{Email: "bob@example.com", Role: "guest"})
	assertAppErr(t, err, apperr.KindValidation, "invalid_role")

	_, err = env.svc.Create(ctx, alice, wsID, domain.CreateRequest{Email: "alice@example.com", Role: workspacedomain.RoleMember})
	assertAppErr(t, err, apperr.KindConflict, "already_member")
}

func TestCreateRequiresPermission(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()
	alice := env.createUser(t, "alice@example.com")
	bob := env.createUser(t, "bob@example.com")
	carol := env.createUser(t, "carol@example.com")
	wsID := env.createWorkspace(t, alice, "Acme")

	env.accept(t, bob, env.invite(t, alice, wsID, "bob@example.com", workspacedomain.RoleMember))
	env.accept(t, carol, env.invite(t, alice, wsID, "carol@example.com", workspacedomain.RoleAdmin))

	_, err := env.svc.Create(ctx, bob, wsID, domain.CreateRequest{Email: "dave@example.com", Role: workspacedomain.RoleViewer})
	assertAppErr(t, err, apperr.KindForbidden, "insufficient_role")

	_, err = env.svc.Create(ctx, carol, wsID, domain.CreateRequest{Email: "dave@example.com", Role: workspacedomain.RoleOwner})
	assertAppErr(t, err, apperr.KindForbidden, "insufficient_role")

	result, err := env.svc.Create(ctx, carol, wsID, domain.CreateRequest{Email: "dave@example.com", Role: workspacedomain.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, carol.RealUserID.String(), result.Invitation.InvitedBy)
}

func TestCreateEnforcesPendingCap(t *testing.T) {
	policy := config.DefaultPolicyConfig()
	policy.MaxPendingInvitations = 2
	env := newTestEnv(t, policy)
	alice := env.createUser(t, "alice@example.com")
	wsID := env.createWorkspace(t, alice, "Acme")

	env.invite(t, alice, wsID, "a@example.com", workspacedomain.RoleMember)
	env.invite(t, alice, wsID, "b@example.com", workspacedomain.RoleMember)

	_, err := env.svc.Create(context.Background(), alice, wsID, domain.CreateRequest{Email: "c@example.com", Role: workspacedomain.RoleMember})
	assertAppErr(t, err, apperr.KindConflict, "too_many_pending_invitations")
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()
	alice := env.createUser(t, "alice@example.com")
	bob := env.createUser(t, "bob@example.com")
	wsID := env.createWorkspace(t, alice, "Acme")
	result := env.invite(t, alice, wsID, "bob@example.com", workspacedomain.RoleMember)
	id := env.invitation(t, result).ID

	require.NoError(t, env.svc.Cancel(ctx, alice, wsID, id))

	_, err := env.svc.Accept(ctx, bob, result.Token)
	assertAppErr(t, err, apperr.KindConflict, "invitation_cancelled")

	err = env.svc.Cancel(ctx, alice, wsID, id)
	assertAppErr(t, err, apperr.KindConflict, "invitation_resolved")

	err = env.svc.Cancel(ctx, alice, snowflake.ID(42), id)
	assertAppErr(t, err, apperr.KindNotFound, "invitation_not_found")

	var actions []string
	require.NoError(t, env.db.Raw(`SELECT action FROM audit_logs`).Scan(&actions).Error)
	assert.Contains(t, actions, auditdomain.ActionInvitationCancelled)
}

func TestCancelByInviterAndOthers(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()
	alice := env.createUser(t, "alice@example.com")
	bob := env.createUser(t, "bob@example.com")
	carol := env.createUser(t, "carol@example.com")
	wsID := env.createWorkspace(t, alice, "Acme")

	env.accept(t, bob, env.invite(t, alice, wsID, "bob@example.com", workspacedomain.RoleAdmin))
	env.accept(t, carol, env.invite(t, alice, wsID, "carol@example.com", workspacedomain.RoleMember))

	byBob := env.invitation(t, env.invite(t, bob, wsID, "dave@example.com", workspacedomain.RoleMember))
	byAlice := env.invitation(t, env.invite(t, alice, wsID, "erin@example.com", workspacedomain.RoleMember))

	_, err := env.workspaces.ChangeMemberRole(ctx, alice, wsID, bob.RealUserID, workspacedomain.RoleMember)
	require.NoError(t, err)

	require.NoError(t, env.svc.Cancel(ctx, bob, wsID, byBob.ID))

	err = env.svc.Cancel(ctx, bob, wsID, byAlice.ID)
	assertAppErr(t, err, apperr.KindForbidden, "insufficient_role")

	err = env.svc.Cancel(ctx, carol, wsID, byAlice.ID)
	assertAppErr(t, err, apperr.KindForbidden, "insufficient_role")
}

func TestListPending(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()
	alice := env.createUser(t, "alice@example.com")
	bob := env.createUser(t, "bob@example.com")
	wsID := env.createWorkspace(t, alice, "Acme")

	stale := env.invite(t, alice, wsID, "stale@example.com", workspacedomain.RoleMember)
	env.clock.Advance(6 * 24 * time.Hour)
	fresh := env.invite(t, alice, wsID, "fresh@example.com", workspacedomain.RoleViewer)
	env.accept(t, bob, env.invite(t, alice, wsID, "bob@example.com", workspacedomain.RoleMember))
	env.clock.Advance(2 * 24 * time.Hour)

	page, err := env.svc.ListPending(ctx, alice, wsID, domain.ListRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, fresh.Invitation.ID, page.Items[0].ID)
	assert.Equal(t, domain.StatusPending, page.Items[0].Status)

	page, err = env.svc.ListPending(ctx, alice, wsID, domain.ListRequest{
		Request:        pagination.Request{SortBy: "email", SortOrder: "desc"},
		IncludeExpired: true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, stale.Invitation.ID, page.Items[0].ID)
	assert.Equal(t, domain.StatusExpired, page.Items[0].Status)

	page, err = env.svc.ListPending(ctx, alice, wsID, domain.ListRequest{
		Request:        pagination.Request{Search: "FRESH"},
		IncludeExpired: true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)

	_, err = env.svc.ListPending(ctx, bob, wsID, domain.ListRequest{})
	assertAppErr(t, err, apperr.KindForbidden, "insufficient_role")
}

func TestListPendingKeepsInvitationExpiredOnAccept(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()
	alice := env.createUser(t, "alice@example.com")
	bob := env.createUser(t, "bob@example.com")
	wsID := env.createWorkspace(t, alice, "Acme")
	result := env.invite(t, alice, wsID, "bob@example.com", workspacedomain.RoleMember)

	env.clock.Advance(8 * 24 * time.Hour)
	_, err := env.svc.Accept(ctx, bob, result.Token)
	assertAppErr(t, err, apperr.KindExpired, "invitation_expired")

	page, err := env.svc.ListPending(ctx, alice, wsID, domain.ListRequest{IncludeExpired: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, result.Invitation.ID, page.Items[0].ID)
	assert.Equal(t, domain.StatusExpired, page.Items[0].Status)

	page, err = env.svc.ListPending(ctx, alice, wsID, domain.ListRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, page.Total)
}

func TestLookup(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()
	alice := env.createUser(t, "alice@example.com")
	wsID := env.createWorkspace(t, alice, "My Team!")
	result := env.invite(t, alice, wsID, "bob@example.com", workspacedomain.RoleAdmin)

	preview, err := env.svc.Lookup(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, "My Team!", preview.WorkspaceName)
	assert.Equal(t, "my-team", preview.WorkspaceSlug)
	assert.Equal(t, "bob@example.com", preview.Email)
	assert.Equal(t, workspacedomain.RoleAdmin, preview.Role)
	assert.Equal(t, domain.StatusPending, preview.Status)

	env.clock.Advance(7*24*time.Hour + time.Second)
	preview, err = env.svc.Lookup(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, preview.Status)

	_, err = env.svc.Lookup(ctx, "unknown")
	assertAppErr(t, err, apperr.KindNotFound, "invitation_not_found")
}

func (e *testEnv) accept(t *testing.T, actor identity.Identity, result *domain.CreateResult) {
	t.Helper()

	_, err := e.svc.Accept(context.Background(), actor, result.Token)
	require.NoError(t, err)
}
