package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/repairpay/internal/actorcontext"
	auditdomain "github.com/smallbiznis/repairpay/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectOrder      = "order"
	ObjectAdjustment = "adjustment"
	ObjectReturns    = "returns"
	ObjectSettlement = "settlement"
	ObjectReport     = "report"
	ObjectAuditLog   = "audit_log"
)

const (
	ActionOrderCreate = "order.create"
	ActionOrderUpdate = "order.update"
	ActionOrderClose  = "order.close"
	ActionOrderDelete = "order.delete"

	ActionAdjustmentCreate = "adjustment.create"
	ActionAdjustmentDelete = "adjustment.delete"

	ActionReturnsSettle = "returns.settle"

	ActionSettlementView   = "settlement.view"
	ActionSettlementCreate = "settlement.create"

	ActionReportView   = "report.view"
	ActionAuditLogView = "audit_log.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, object string, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	actor := actorcontext.ActorFromContext(ctx)
	subject, roleName, err := resolveActor(actor)
	if err != nil {
		return err
	}
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, object, action)
		return ErrForbidden
	}
	return nil
}

func resolveActor(actor actorcontext.Actor) (string, string, error) {
	switch actor.Role {
	case actorcontext.RoleSystem:
		return "system", "role:system", nil
	case actorcontext.RoleAdmin, actorcontext.RoleTechnician:
		if actor.ID == "" {
			return "", "", ErrInvalidActor
		}
		return fmt.Sprintf("user:%s", actor.ID), fmt.Sprintf("role:%s", actor.Role), nil
	default:
		return "", "", ErrInvalidActor
	}
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	target := object
	_ = s.auditSvc.AuditLog(ctx, auditdomain.Entry{
		Action:     "authorization.denied",
		TargetType: "authorization",
		TargetID:   &target,
		Metadata: map[string]any{
			"object": object,
			"action": action,
		},
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Technicians record their own work and read their payroll.
		{"role:technician", ObjectOrder, ActionOrderCreate},
		{"role:technician", ObjectOrder, ActionOrderUpdate},
		{"role:technician", ObjectAdjustment, ActionAdjustmentCreate},
		{"role:technician", ObjectSettlement, ActionSettlementView},

		{"role:admin", ObjectOrder, ActionOrderCreate},
		{"role:admin", ObjectOrder, ActionOrderUpdate},
		{"role:admin", ObjectOrder, ActionOrderClose},
		{"role:admin", ObjectOrder, ActionOrderDelete},
		{"role:admin", ObjectAdjustment, ActionAdjustmentCreate},
		{"role:admin", ObjectAdjustment, ActionAdjustmentDelete},
		{"role:admin", ObjectReturns, ActionReturnsSettle},
		{"role:admin", ObjectSettlement, ActionSettlementView},
		{"role:admin", ObjectSettlement, ActionSettlementCreate},
		{"role:admin", ObjectReport, ActionReportView},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},

		// Background jobs and internal callers.
		{"role:system", ObjectOrder, ActionOrderCreate},
		{"role:system", ObjectOrder, ActionOrderUpdate},
		{"role:system", ObjectOrder, ActionOrderClose},
		{"role:system", ObjectOrder, ActionOrderDelete},
		{"role:system", ObjectAdjustment, ActionAdjustmentCreate},
		{"role:system", ObjectAdjustment, ActionAdjustmentDelete},
		{"role:system", ObjectReturns, ActionReturnsSettle},
		{"role:system", ObjectSettlement, ActionSettlementView},
		{"role:system", ObjectSettlement, ActionSettlementCreate},
		{"role:system", ObjectReport, ActionReportView},
	}

	for _, policy := range policies {
		params := make([]interface{}, 0, len(policy))
		for _, value := range policy {
			params = append(params, value)
		}
		has, err := enforcer.HasPolicy(params...)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(params...); err != nil {
			return err
		}
	}
	return nil
}
