package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/tenantry/internal/audit/domain"
	authdomain "github.com/smallbiznis/tenantry/internal/auth/domain"
	authservice "github.com/smallbiznis/tenantry/internal/auth/service"
	"github.com/smallbiznis/tenantry/internal/authorization"
	"github.com/smallbiznis/tenantry/internal/clock"
	"github.com/smallbiznis/tenantry/internal/config"
	"github.com/smallbiznis/tenantry/internal/identity"
	"github.com/smallbiznis/tenantry/internal/invitation/domain"
	"github.com/smallbiznis/tenantry/internal/observability/metrics"
	"github.com/smallbiznis/tenantry/internal/outbox"
	workspacedomain "github.com/smallbiznis/tenantry/internal/workspace/domain"
	"github.com/smallbiznis/tenantry/pkg/db"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Cfg           config.Config
	Policy        *config.PolicyHolder
	Repo          domain.Repository
	WorkspaceRepo workspacedomain.Repository
	UserRepo      authdomain.Repository
	Authz         authorization.Service
	Publisher     outbox.Publisher
	GenID         *snowflake.Node
	Clock         clock.Clock
	AuditSvc      auditdomain.Service `optional:"true"`
	Metrics       *metrics.Metrics    `optional:"true"`
}

type service struct {
	db            *gorm.DB
	log           *zap.Logger
	baseURL       string
	policy        *config.PolicyHolder
	repo          domain.Repository
	workspaceRepo workspacedomain.Repository
	userRepo      authdomain.Repository
	authz         authorization.Service
	publisher     outbox.Publisher
	genID         *snowflake.Node
	clock         clock.Clock
	auditSvc      auditdomain.Service
	metrics       *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:            p.DB,
		log:           p.Log.Named("invitation.service"),
		baseURL:       strings.TrimRight(p.Cfg.BaseURL, "/"),
		policy:        p.Policy,
		repo:          p.Repo,
		workspaceRepo: p.WorkspaceRepo,
		userRepo:      p.UserRepo,
		authz:         p.Authz,
		publisher:     p.Publisher,
		genID:         p.GenID,
		clock:         p.Clock,
		auditSvc:      p.AuditSvc,
		metrics:       p.Metrics,
	}
}

func (s *service) Create(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID, req domain.CreateRequest) (*domain.CreateResult, error) {
	if err := s.authz.Authorize(ctx, actor, workspaceID, authorization.ActionMemberInvite); err != nil {
		return nil, err
	}

	email, err := authservice.NormalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	role, ok := authorization.NormalizeRole(req.Role)
	if !ok {
		return nil, domain.ErrInvalidRole
	}
	if role == authorization.RoleOwner {
		if err := s.authz.Authorize(ctx, actor, workspaceID, authorization.ActionOwnerManage); err != nil {
			return nil, err
		}
	}
	if err := s.ensureGrantable(ctx, actor, workspaceID, role); err != nil {
		return nil, err
	}

	if _, err := s.workspaceRepo.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	member, err := s.workspaceRepo.IsMemberByEmail(ctx, workspaceID, email)
	if err != nil {
		return nil, err
	}
	if member {
		return nil, workspacedomain.ErrAlreadyMember
	}

	policy := s.policy.Get()
	now := s.clock.Now()
	if policy.MaxPendingInvitations > 0 {
		pending, err := s.repo.CountPending(ctx, workspaceID, now)
		if err != nil {
			return nil, err
		}
		if pending >= int64(policy.MaxPendingInvitations) {
			return nil, domain.ErrTooManyPending
		}
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	pendingKey := domain.PendingKeyFor(workspaceID, email)
	inv := &domain.Invitation{
		ID:          s.genID.Generate(),
		WorkspaceID: workspaceID,
		Email:       email,
		Role:        role,
		TokenHash:   hashToken(token),
		Status:      domain.StatusPending,
		PendingKey:  &pendingKey,
		InvitedBy:   actor.ActingUserID,
		ExpiresAt:   now.Add(policy.InvitationTTL),
		CreatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindPending(ctx, workspaceID, email)
		switch {
		case err == nil:
			if now.Before(existing.ExpiresAt) {
				return domain.ErrPending
			}
			if _, err := repo.MarkExpired(ctx, existing.ID, now); err != nil {
				return err
			}
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		if err := repo.Create(ctx, inv); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrPending
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invitation created",
		zap.String("invitation_id", inv.ID.String()),
		zap.String("workspace_id", workspaceID.String()),
		zap.String("role", role),
	)
	s.metrics.RecordInvitation(ctx, "created")
	s.audit(ctx, actor, workspaceID, auditdomain.ActionInvitationCreated, inv.ID.String(), map[string]any{
		"email": email,
		"role":  role,
	})

	return &domain.CreateResult{
		Invitation: domain.NewInvitationResponse(*inv, now),
		Token:      token,
		AcceptURL:  s.acceptURL(token),
	}, nil
}

// Accept redeems token for the acting user. The token is the only
// capability checked; the invited email is not compared.
func (s *service) Accept(ctx context.Context, actor identity.Identity, token string) (*domain.AcceptResult, error) {
	if !actor.Valid() {
		return nil, authorization.ErrUnauthenticated
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrInvalidToken
	}

	now := s.clock.Now()
	userID := actor.ActingUserID
	var (
		inv *domain.Invitation
		ws  *workspacedomain.Workspace
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		inv, err = repo.GetByTokenHash(ctx, hashToken(token))
		if err != nil {
			return err
		}

		accepted, err := repo.MarkAccepted(ctx, inv.ID, userID, now)
		if err != nil {
			return err
		}
		if !accepted {
			current, err := repo.GetByID(ctx, inv.ID)
			if err != nil {
				return err
			}
			inv = current
			return rejectionFor(*current, now)
		}

		workspaceRepo := s.workspaceRepo.WithTx(tx)
		ws, err = workspaceRepo.GetWorkspace(ctx, inv.WorkspaceID)
		if err != nil {
			return err
		}
		if err := workspaceRepo.AddMember(ctx, workspacedomain.Member{
			ID:          s.genID.Generate(),
			WorkspaceID: inv.WorkspaceID,
			UserID:      userID,
			Role:        inv.Role,
			JoinedAt:    now,
		}); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return workspacedomain.ErrAlreadyMember
			}
			return err
		}

		if err := s.userRepo.WithTx(tx).CompleteOnboarding(ctx, userID, inv.WorkspaceID, now); err != nil {
			return err
		}

		return s.publisher.WithTx(tx).Publish(ctx, inv.WorkspaceID, outbox.TopicMemberJoined, map[string]string{
			"workspace_id":  inv.WorkspaceID.String(),
			"user_id":       userID.String(),
			"role":          inv.Role,
			"invitation_id": inv.ID.String(),
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrExpired) && inv != nil && inv.Status == domain.StatusPending {
			s.expire(ctx, inv.ID, now)
		}
		s.metrics.RecordInvitation(ctx, "rejected")
		return nil, err
	}

	s.log.Info("invitation accepted",
		zap.String("invitation_id", inv.ID.String()),
		zap.String("workspace_id", inv.WorkspaceID.String()),
		zap.String("user_id", userID.String()),
	)
	s.metrics.RecordInvitation(ctx, "accepted")
	s.audit(ctx, actor, inv.WorkspaceID, auditdomain.ActionInvitationAccepted, inv.ID.String(), map[string]any{
		"role": inv.Role,
	})

	return &domain.AcceptResult{
		WorkspaceID:   ws.ID.String(),
		WorkspaceName: ws.Name,
		WorkspaceSlug: ws.Slug,
		Role:          inv.Role,
	}, nil
}

// Cancel is allowed for admins of the workspace and for the member who
// sent the invitation.
func (s *service) Cancel(ctx context.Context, actor identity.Identity, workspaceID, invitationID snowflake.ID) error {
	if !actor.Valid() {
		return authorization.ErrUnauthenticated
	}

	inv, err := s.repo.GetByID(ctx, invitationID)
	if err != nil {
		return err
	}
	if inv.WorkspaceID != workspaceID {
		return domain.ErrNotFound
	}

	if err := s.authorizeCancel(ctx, actor, *inv); err != nil {
		return err
	}

	now := s.clock.Now()
	cancelled, err := s.repo.MarkCancelled(ctx, invitationID, now)
	if err != nil {
		return err
	}
	if !cancelled {
		return domain.ErrResolved
	}

	s.metrics.RecordInvitation(ctx, "cancelled")
	s.audit(ctx, actor, workspaceID, auditdomain.ActionInvitationCancelled, invitationID.String(), map[string]any{
		"email": inv.Email,
	})
	return nil
}

// ListPending hides expired rows unless IncludeExpired is set, in which case
// they are reported with status EXPIRED.
func (s *service) ListPending(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID, req domain.ListRequest) (pagination.Page[domain.InvitationResponse], error) {
	if err := s.authz.Authorize(ctx, actor, workspaceID, authorization.ActionInvitationList); err != nil {
		return pagination.Page[domain.InvitationResponse]{}, err
	}

	now := s.clock.Now()
	q := req.Normalize(domain.SortSpec)
	rows, total, err := s.repo.ListPending(ctx, domain.ListFilter{
		WorkspaceID:    workspaceID,
		Query:          q,
		IncludeExpired: req.IncludeExpired,
		Now:            now,
	})
	if err != nil {
		return pagination.Page[domain.InvitationResponse]{}, err
	}

	items := make([]domain.InvitationResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.NewInvitationResponse(row, now))
	}
	return pagination.NewPage(items, total, q), nil
}

func (s *service) Lookup(ctx context.Context, token string) (*domain.Preview, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrInvalidToken
	}
	inv, err := s.repo.GetByTokenHash(ctx, hashToken(token))
	if err != nil {
		return nil, err
	}
	ws, err := s.workspaceRepo.GetWorkspace(ctx, inv.WorkspaceID)
	if err != nil {
		if errors.Is(err, workspacedomain.ErrWorkspaceNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	return &domain.Preview{
		WorkspaceName: ws.Name,
		WorkspaceSlug: ws.Slug,
		Email:         inv.Email,
		Role:          inv.Role,
		Status:        inv.EffectiveStatus(s.clock.Now()),
		ExpiresAt:     inv.ExpiresAt,
	}, nil
}

// authorizeCancel lets the inviter withdraw their own invitation while they
// remain a member, even without the invitation.cancel permission.
func (s *service) authorizeCancel(ctx context.Context, actor identity.Identity, inv domain.Invitation) error {
	if inv.InvitedBy == actor.ActingUserID {
		role, err := s.authz.RoleOf(ctx, inv.WorkspaceID, actor.ActingUserID)
		if err != nil {
			return err
		}
		if role != "" {
			return nil
		}
	}
	return s.authz.Authorize(ctx, actor, inv.WorkspaceID, authorization.ActionInvitationCancel)
}

func (s *service) expire(ctx context.Context, id snowflake.ID, now time.Time) {
	expired, err := s.repo.MarkExpired(ctx, id, now)
	if err != nil {
		s.log.Warn("failed to expire invitation", zap.String("invitation_id", id.String()), zap.Error(err))
		return
	}
	if expired {
		s.metrics.RecordInvitation(ctx, "expired")
	}
}

func (s *service) ensureGrantable(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID, role string) error {
	if actor.ActingAdmin {
		return nil
	}
	actorRole, err := s.authz.RoleOf(ctx, workspaceID, actor.ActingUserID)
	if err != nil {
		return err
	}
	if !authorization.CanGrant(actorRole, role) {
		return domain.ErrRoleNotGrantable
	}
	return nil
}

func (s *service) acceptURL(token string) string {
	return s.baseURL + "/invitations/accept?token=" + url.QueryEscape(token)
}

func (s *service) audit(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID, action, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if _, ok := identity.FromContext(ctx); !ok {
		ctx = identity.WithIdentity(ctx, actor)
	}
	if err := s.auditSvc.AuditLog(ctx, &workspaceID, "", nil, action, "invitation", &targetID, metadata); err != nil {
		s.log.Warn("failed to audit", zap.String("action", action), zap.Error(err))
	}
}

// rejectionFor explains why a PENDING compare-and-swap did not match.
func rejectionFor(inv domain.Invitation, now time.Time) error {
	switch inv.EffectiveStatus(now) {
	case domain.StatusAccepted:
		return domain.ErrAlreadyAccepted
	case domain.StatusCancelled:
		return domain.ErrCancelled
	case domain.StatusExpired:
		return domain.ErrExpired
	default:
		return domain.ErrNotFound
	}
}
