package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/tenantry/internal/audit/domain"
	authdomain "github.com/smallbiznis/tenantry/internal/auth/domain"
	authservice "github.com/smallbiznis/tenantry/internal/auth/service"
	"github.com/smallbiznis/tenantry/internal/authorization"
	"github.com/smallbiznis/tenantry/internal/clock"
	"github.com/smallbiznis/tenantry/internal/identity"
	"github.com/smallbiznis/tenantry/internal/observability/metrics"
	"github.com/smallbiznis/tenantry/internal/outbox"
	"github.com/smallbiznis/tenantry/internal/workspace/domain"
	"github.com/smallbiznis/tenantry/pkg/db"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      domain.Repository
	UserRepo  authdomain.Repository
	Authz     authorization.Service
	Publisher outbox.Publisher
	GenID     *snowflake.Node
	Clock     clock.Clock
	AuditSvc  auditdomain.Service `optional:"true"`
	Metrics   *metrics.Metrics    `optional:"true"`
}

type service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	userRepo  authdomain.Repository
	authz     authorization.Service
	publisher outbox.Publisher
	genID     *snowflake.Node
	clock     clock.Clock
	auditSvc  auditdomain.Service
	metrics   *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:        p.DB,
		log:       p.Log.Named("workspace.service"),
		repo:      p.Repo,
		userRepo:  p.UserRepo,
		authz:     p.Authz,
		publisher: p.Publisher,
		genID:     p.GenID,
		clock:     p.Clock,
		auditSvc:  p.AuditSvc,
		metrics:   p.Metrics,
	}
}

type workspaceCreatedPayload struct {
	WorkspaceID string `json:"workspace_id"`
	Slug        string `json:"slug"`
	OwnerUserID string `json:"owner_user_id"`
	CreatedAt   string `json:"created_at"`
}

// Create makes a workspace owned by the acting user and completes their
// onboarding in the same transaction.
func (s *service) Create(ctx context.Context, actor identity.Identity, req domain.CreateWorkspaceRequest) (*domain.WorkspaceResponse, error) {
	if !actor.Valid() {
		return nil, authorization.ErrUnauthenticated
	}

	name, err := normalizeName(req.Name)
	if err != nil {
		return nil, err
	}
	workspaceSlug := slug.Make(name)
	if workspaceSlug == "" {
		return nil, domain.ErrInvalidSlug
	}

	taken, err := s.repo.SlugExists(ctx, workspaceSlug)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, domain.ErrSlugTaken
	}

	now := s.clock.Now()
	ownerID := actor.ActingUserID
	ws := domain.Workspace{
		ID:        s.genID.Generate(),
		Name:      name,
		Slug:      workspaceSlug,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateWorkspace(ctx, ws); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrSlugTaken
			}
			return err
		}

		if err := repo.AddMember(ctx, domain.Member{
			ID:          s.genID.Generate(),
			WorkspaceID: ws.ID,
			UserID:      ownerID,
			Role:        domain.RoleOwner,
			JoinedAt:    now,
		}); err != nil {
			return err
		}

		if err := s.userRepo.WithTx(tx).CompleteOnboarding(ctx, ownerID, ws.ID, now); err != nil {
			return err
		}

		return s.publisher.WithTx(tx).Publish(ctx, ws.ID, outbox.TopicWorkspaceCreated, workspaceCreatedPayload{
			WorkspaceID: ws.ID.String(),
			Slug:        ws.Slug,
			OwnerUserID: ownerID.String(),
			CreatedAt:   now.Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("workspace created",
		zap.String("workspace_id", ws.ID.String()),
		zap.String("slug", ws.Slug),
		zap.String("owner_user_id", ownerID.String()),
	)
	s.metrics.RecordWorkspaceCreated(ctx)
	s.audit(ctx, actor, ws.ID, auditdomain.ActionWorkspaceCreated, "workspace", ws.ID.String(), map[string]any{
		"name": ws.Name,
		"slug": ws.Slug,
	})

	user, err := s.userRepo.FindByID(ctx, ownerID)
	isDefault := err == nil && user.DefaultWorkspaceID != nil && *user.DefaultWorkspaceID == ws.ID
	return toResponse(ws, domain.RoleOwner, isDefault), nil
}

func (s *service) Get(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID) (*domain.WorkspaceResponse, error) {
	if err := s.authz.Authorize(ctx, actor, workspaceID, authorization.ActionWorkspaceView); err != nil {
		return nil, err
	}
	ws, err := s.repo.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	role, err := s.authz.RoleOf(ctx, workspaceID, actor.ActingUserID)
	if err != nil {
		return nil, err
	}
	return toResponse(*ws, role, s.isDefault(ctx, actor.ActingUserID, ws.ID)), nil
}

func (s *service) ListForUser(ctx context.Context, actor identity.Identity) ([]domain.WorkspaceResponse, error) {
	if !actor.Valid() {
		return nil, authorization.ErrUnauthenticated
	}

	items, err := s.repo.ListWorkspacesByUser(ctx, actor.ActingUserID)
	if err != nil {
		return nil, err
	}

	var defaultID snowflake.ID
	if user, err := s.userRepo.FindByID(ctx, actor.ActingUserID); err == nil && user.DefaultWorkspaceID != nil {
		defaultID = *user.DefaultWorkspaceID
	}

	resp := make([]domain.WorkspaceResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.WorkspaceResponse{
			ID:        item.ID.String(),
			Name:      item.Name,
			Slug:      item.Slug,
			Role:      item.Role,
			IsDefault: item.ID == defaultID,
			CreatedAt: item.CreatedAt,
			UpdatedAt: item.UpdatedAt,
		})
	}
	return resp, nil
}

func (s *service) Update(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID, req domain.UpdateWorkspaceRequest) (*domain.WorkspaceResponse, error) {
	if err := s.authz.Authorize(ctx, actor, workspaceID, authorization.ActionWorkspaceUpdate); err != nil {
		return nil, err
	}
	name, err := normalizeName(req.Name)
	if err != nil {
		return nil, err
	}

	ws, err := s.repo.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if ws.Name != name {
		now := s.clock.Now()
		if err := s.repo.RenameWorkspace(ctx, workspaceID, name, now); err != nil {
			return nil, err
		}
		s.audit(ctx, actor, workspaceID, auditdomain.ActionWorkspaceUpdated, "workspace", workspaceID.String(), map[string]any{
			"old_name": ws.Name,
			"new_name": name,
		})
		ws.Name = name
		ws.UpdatedAt = now
	}

	role, err := s.authz.RoleOf(ctx, workspaceID, actor.ActingUserID)
	if err != nil {
		return nil, err
	}
	return toResponse(*ws, role, s.isDefault(ctx, actor.ActingUserID, ws.ID)), nil
}

func (s *service) Delete(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID) error {
	if err := s.authz.Authorize(ctx, actor, workspaceID, authorization.ActionWorkspaceDelete); err != nil {
		return err
	}
	ws, err := s.repo.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.userRepo.WithTx(tx).ClearDefaultWorkspace(ctx, workspaceID, now); err != nil {
			return err
		}
		return s.repo.WithTx(tx).DeleteWorkspace(ctx, workspaceID)
	})
	if err != nil {
		return err
	}

	s.log.Info("workspace deleted", zap.String("workspace_id", workspaceID.String()))
	s.audit(ctx, actor, workspaceID, auditdomain.ActionWorkspaceDeleted, "workspace", workspaceID.String(), map[string]any{
		"name": ws.Name,
		"slug": ws.Slug,
	})
	return nil
}

func (s *service) SetDefault(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID) error {
	if !actor.Valid() {
		return authorization.ErrUnauthenticated
	}
	if _, err := s.repo.GetMember(ctx, workspaceID, actor.ActingUserID); err != nil {
		if errors.Is(err, domain.ErrMemberNotFound) {
			return authorization.ErrNotMember
		}
		return err
	}
	return s.userRepo.UpdateFields(ctx, actor.ActingUserID, map[string]any{
		"default_workspace_id": workspaceID,
		"updated_at":           s.clock.Now(),
	})
}

func (s *service) ListMembers(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID, req pagination.Request) (pagination.Page[domain.MemberResponse], error) {
	if err := s.authz.Authorize(ctx, actor, workspaceID, authorization.ActionMemberList); err != nil {
		return pagination.Page[domain.MemberResponse]{}, err
	}

	q := req.Normalize(domain.MemberSortSpec)
	rows, total, err := s.repo.ListMembers(ctx, workspaceID, q)
	if err != nil {
		return pagination.Page[domain.MemberResponse]{}, err
	}

	items := make([]domain.MemberResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.NewMemberResponse(row))
	}
	return pagination.NewPage(items, total, q), nil
}

// AddMember attaches an existing account directly, without an invitation.
func (s *service) AddMember(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID, req domain.AddMemberRequest) (*domain.MemberResponse, error) {
	if err := s.authz.Authorize(ctx, actor, workspaceID, authorization.ActionMemberAdd); err != nil {
		return nil, err
	}
	role, ok := authorization.NormalizeRole(req.Role)
	if !ok {
		return nil, domain.ErrInvalidRole
	}
	if role == domain.RoleOwner {
		if err := s.authz.Authorize(ctx, actor, workspaceID, authorization.ActionOwnerManage); err != nil {
			return nil, err
		}
	}
	email, err := authservice.NormalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}

	if _, err := s.repo.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, authdomain.ErrUserNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	if !user.IsActive() {
		return nil, domain.ErrUserNotFound
	}

	now := s.clock.Now()
	member := domain.Member{
		ID:          s.genID.Generate(),
		WorkspaceID: workspaceID,
		UserID:      user.ID,
		Role:        role,
		JoinedAt:    now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).AddMember(ctx, member); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrAlreadyMember
			}
			return err
		}
		if err := s.userRepo.WithTx(tx).CompleteOnboarding(ctx, user.ID, workspaceID, now); err != nil {
			return err
		}
		return s.publisher.WithTx(tx).Publish(ctx, workspaceID, outbox.TopicMemberJoined, map[string]string{
			"workspace_id": workspaceID.String(),
			"user_id":      user.ID.String(),
			"role":         role,
		})
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor, workspaceID, auditdomain.ActionMemberAdded, "user", user.ID.String(), map[string]any{
		"role": role,
	})
	return &domain.MemberResponse{
		UserID:   user.ID.String(),
		Email:    user.Email,
		Name:     user.Name,
		Role:     role,
		JoinedAt: now,
	}, nil
}

func (s *service) ChangeMemberRole(ctx context.Context, actor identity.Identity, workspaceID, userID snowflake.ID, role string) (*domain.MemberResponse, error) {
	if err := s.authz.Authorize(ctx, actor, workspaceID, authorization.ActionMemberChangeRole); err != nil {
		return nil, err
	}
	newRole, ok := authorization.NormalizeRole(role)
	if !ok {
		return nil, domain.ErrInvalidRole
	}

	member, err := s.repo.GetMember(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if member.Role == domain.RoleOwner || newRole == domain.RoleOwner {
		if err := s.authz.Authorize(ctx, actor, workspaceID, authorization.ActionOwnerManage); err != nil {
			return nil, err
		}
	}
	if err := s.ensureGrantable(ctx, actor, workspaceID, newRole); err != nil {
		return nil, err
	}

	if member.Role != newRole {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			if _, err := repo.LockOwners(ctx, workspaceID); err != nil {
				return err
			}
			changed, err := repo.UpdateMemberRole(ctx, workspaceID, userID, newRole)
			if err != nil {
				return err
			}
			if !changed {
				return s.explainUnchangedTx(ctx, tx, workspaceID, userID)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.audit(ctx, actor, workspaceID, auditdomain.ActionMemberRoleChanged, "user", userID.String(), map[string]any{
			"old_role": member.Role,
			"new_role": newRole,
		})
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.MemberResponse{
		UserID:   userID.String(),
		Email:    user.Email,
		Name:     user.Name,
		Role:     newRole,
		JoinedAt: member.JoinedAt,
	}, nil
}

func (s *service) RemoveMember(ctx context.Context, actor identity.Identity, workspaceID, userID snowflake.ID) error {
	if err := s.authz.Authorize(ctx, actor, workspaceID, authorization.ActionMemberRemove); err != nil {
		return err
	}
	member, err := s.repo.GetMember(ctx, workspaceID, userID)
	if err != nil {
		return err
	}
	if member.Role == domain.RoleOwner {
		if err := s.authz.Authorize(ctx, actor, workspaceID, authorization.ActionOwnerManage); err != nil {
			return err
		}
	}
	if err := s.removeMember(ctx, workspaceID, userID); err != nil {
		return err
	}

	s.audit(ctx, actor, workspaceID, auditdomain.ActionMemberRemoved, "user", userID.String(), map[string]any{
		"role": member.Role,
	})
	return nil
}

func (s *service) Leave(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID) error {
	if !actor.Valid() {
		return authorization.ErrUnauthenticated
	}
	member, err := s.repo.GetMember(ctx, workspaceID, actor.ActingUserID)
	if err != nil {
		if errors.Is(err, domain.ErrMemberNotFound) {
			return authorization.ErrNotMember
		}
		return err
	}
	if err := s.removeMember(ctx, workspaceID, actor.ActingUserID); err != nil {
		return err
	}

	s.audit(ctx, actor, workspaceID, auditdomain.ActionMemberRemoved, "user", actor.ActingUserID.String(), map[string]any{
		"role":   member.Role,
		"reason": "left",
	})
	return nil
}

func (s *service) removeMember(ctx context.Context, workspaceID, userID snowflake.ID) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.LockOwners(ctx, workspaceID); err != nil {
			return err
		}
		removed, err := repo.RemoveMember(ctx, workspaceID, userID)
		if err != nil {
			return err
		}
		if !removed {
			return s.explainUnchangedTx(ctx, tx, workspaceID, userID)
		}
		return s.userRepo.WithTx(tx).UnsetDefaultWorkspace(ctx, userID, workspaceID, now)
	})
}

// ensureGrantable stops members from handing out a role above their own.
// Platform admins are not bound by membership.
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

// explainUnchangedTx tells a vanished member apart from a last-owner refusal.
func (s *service) explainUnchangedTx(ctx context.Context, tx *gorm.DB, workspaceID, userID snowflake.ID) error {
	if _, err := s.repo.WithTx(tx).GetMember(ctx, workspaceID, userID); err != nil {
		return err
	}
	return domain.ErrLastOwner
}

func (s *service) isDefault(ctx context.Context, userID, workspaceID snowflake.ID) bool {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return false
	}
	return user.DefaultWorkspaceID != nil && *user.DefaultWorkspaceID == workspaceID
}

func (s *service) audit(ctx context.Context, actor identity.Identity, workspaceID snowflake.ID, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if _, ok := identity.FromContext(ctx); !ok {
		ctx = identity.WithIdentity(ctx, actor)
	}
	if err := s.auditSvc.AuditLog(ctx, &workspaceID, "", nil, action, targetType, &targetID, metadata); err != nil {
		s.log.Warn("failed to audit", zap.String("action", action), zap.Error(err))
	}
}

func normalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" || utf8.RuneCountInString(name) > domain.MaxNameLength {
		return "", domain.ErrInvalidName
	}
	return name, nil
}

func toResponse(ws domain.Workspace, role string, isDefault bool) *domain.WorkspaceResponse {
	return &domain.WorkspaceResponse{
		ID:        ws.ID.String(),
		Name:      ws.Name,
		Slug:      ws.Slug,
		Role:      role,
		IsDefault: isDefault,
		CreatedAt: ws.CreatedAt,
		UpdatedAt: ws.UpdatedAt,
	}
}
