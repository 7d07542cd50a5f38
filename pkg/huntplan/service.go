// Package huntplan is the registry of vehicles' standing load searches.
package huntplan

import (
	"context"
	"strings"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/sage/pkg/audit"
	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tenancy"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

type Store interface {
	Create(ctx context.Context, plan *models.HuntPlan) (*models.HuntPlan, error)
	Update(ctx context.Context, plan *models.HuntPlan) (*models.HuntPlan, error)
	Get(ctx context.Context, tenantID, id string) (*models.HuntPlan, error)
	List(ctx context.Context, tenantID string, activeOnly bool) ([]models.HuntPlan, error)
}

type VehicleStore interface {
	Get(ctx context.Context, tenantID, id string) (*models.Vehicle, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, entries ...models.AuditLogEntry) error
}

type Service struct {
	plans    Store
	vehicles VehicleStore
	audit    AuditRecorder
	validate *validator.Validate
	logger   ectologger.Logger
}

func NewService(plans Store, vehicles VehicleStore, auditRecorder AuditRecorder, logger ectologger.Logger) *Service {
	return &Service{
		plans:    plans,
		vehicles: vehicles,
		audit:    auditRecorder,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

func (s *Service) Create(ctx context.Context, scope tenancy.Scope, req models.CreateHuntPlanRequest) (*models.HuntPlanResult, error) {
	ctx, span := tracing.StartSpan(ctx, "huntplan.Service.Create")
	defer span.End()

	if err := scope.Require(); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	plan := &models.HuntPlan{
		TenantID:       scope.TenantID,
		VehicleID:      req.VehicleID,
		Name:           strings.TrimSpace(req.Name),
		Origin:         normalizeLocation(req.Origin),
		RadiusMiles:    req.RadiusMiles,
		EquipmentTypes: cleanEquipment(req.EquipmentTypes),
		AvailableFeet:  req.AvailableFeet,
		MaxWeightLbs:   req.MaxWeightLbs,
		AvailableFrom:  req.AvailableFrom,
		AvailableUntil: req.AvailableUntil,
		Active:         true,
		CreatedBy:      scope.ActorID,
	}
	if err := checkPlan(plan); err != nil {
		return nil, err
	}
	if err := s.requireVehicle(ctx, scope, plan.VehicleID); err != nil {
		return nil, err
	}

	created, err := s.plans.Create(ctx, plan)
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":    scope.TenantID,
		"hunt_plan_id": created.ID,
		"vehicle_id":   created.VehicleID,
	}).Info("Created hunt plan")

	return &models.HuntPlanResult{Plan: created, Degraded: s.record(ctx, scope, nil, created)}, nil
}

// Update applies the non-nil fields of req. The vehicle a plan hunts for never changes.
func (s *Service) Update(ctx context.Context, scope tenancy.Scope, id string, req models.UpdateHuntPlanRequest) (*models.HuntPlanResult, error) {
	ctx, span := tracing.StartSpan(ctx, "huntplan.Service.Update")
	defer span.End()

	if err := scope.Require(); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	current, err := s.plans.Get(ctx, scope.TenantID, id)
	if err != nil {
		return nil, err
	}
	if err := scope.Owns(current.TenantID); err != nil {
		return nil, err
	}

	next := *current
	if req.Name != nil {
		next.Name = strings.TrimSpace(*req.Name)
	}
	if req.Origin != nil {
		next.Origin = normalizeLocation(*req.Origin)
	}
	if req.RadiusMiles != nil {
		next.RadiusMiles = req.RadiusMiles
	}
	if req.EquipmentTypes != nil {
		next.EquipmentTypes = cleanEquipment(req.EquipmentTypes)
	}
	if req.AvailableFeet != nil {
		next.AvailableFeet = req.AvailableFeet
	}
	if req.MaxWeightLbs != nil {
		next.MaxWeightLbs = req.MaxWeightLbs
	}
	if req.AvailableFrom != nil {
		next.AvailableFrom = req.AvailableFrom
	}
	if req.AvailableUntil != nil {
		next.AvailableUntil = req.AvailableUntil
	}
	if err := checkPlan(&next); err != nil {
		return nil, err
	}

	updated, err := s.plans.Update(ctx, &next)
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":    scope.TenantID,
		"hunt_plan_id": id,
	}).Info("Updated hunt plan")

	return &models.HuntPlanResult{Plan: updated, Degraded: s.record(ctx, scope, current, updated)}, nil
}

// Deactivate stops a plan from producing new candidates. Existing matches are untouched.
// Deactivating an inactive plan is a no-op.
func (s *Service) Deactivate(ctx context.Context, scope tenancy.Scope, id string) (*models.HuntPlanResult, error) {
	ctx, span := tracing.StartSpan(ctx, "huntplan.Service.Deactivate")
	defer span.End()

	if err := scope.Require(); err != nil {
		return nil, err
	}

	current, err := s.plans.Get(ctx, scope.TenantID, id)
	if err != nil {
		return nil, err
	}
	if err := scope.Owns(current.TenantID); err != nil {
		return nil, err
	}
	if !current.Active {
		return &models.HuntPlanResult{Plan: current}, nil
	}

	next := *current
	next.Active = false
	updated, err := s.plans.Update(ctx, &next)
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":    scope.TenantID,
		"hunt_plan_id": id,
	}).Info("Deactivated hunt plan")

	return &models.HuntPlanResult{Plan: updated, Degraded: s.record(ctx, scope, current, updated)}, nil
}

func (s *Service) Get(ctx context.Context, scope tenancy.Scope, id string) (*models.HuntPlan, error) {
	ctx, span := tracing.StartSpan(ctx, "huntplan.Service.Get")
	defer span.End()

	if err := scope.Require(); err != nil {
		return nil, err
	}
	return s.plans.Get(ctx, scope.TenantID, id)
}

// ListActive returns the tenant's plans that are currently hunting.
func (s *Service) ListActive(ctx context.Context, scope tenancy.Scope) ([]models.HuntPlan, error) {
	return s.list(ctx, scope, true)
}

func (s *Service) List(ctx context.Context, scope tenancy.Scope) ([]models.HuntPlan, error) {
	return s.list(ctx, scope, false)
}

func (s *Service) list(ctx context.Context, scope tenancy.Scope, activeOnly bool) ([]models.HuntPlan, error) {
	ctx, span := tracing.StartSpan(ctx, "huntplan.Service.List")
	defer span.End()

	if err := scope.Require(); err != nil {
		return nil, err
	}
	plans, err := s.plans.List(ctx, scope.TenantID, activeOnly)
	if err != nil {
		return nil, err
	}
	if plans == nil {
		plans = []models.HuntPlan{}
	}
	return plans, nil
}

func (s *Service) requireVehicle(ctx context.Context, scope tenancy.Scope, vehicleID string) error {
	vehicle, err := s.vehicles.Get(ctx, scope.TenantID, vehicleID)
	if apperrors.Is(err, apperrors.KindNotFound) {
		return apperrors.Precondition("vehicle does not belong to this tenant").With("vehicle_id", vehicleID)
	}
	if err != nil {
		return err
	}
	if err := scope.Owns(vehicle.TenantID); err != nil {
		return err
	}
	if !vehicle.Active {
		return apperrors.Precondition("vehicle is inactive").With("vehicle_id", vehicleID)
	}
	return nil
}

// record writes the audit entry and reports whether it failed.
func (s *Service) record(ctx context.Context, scope tenancy.Scope, before, after *models.HuntPlan) bool {
	var prior any
	if before != nil {
		prior = before
	}
	entry := audit.Entry(scope.TenantID, scope.ActorID, models.EntityTypeHuntPlan, after.ID, audit.ActionHuntPlanChanged, prior, after)
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("hunt_plan_id", after.ID).Warn("Hunt plan change not audited")
		return true
	}
	return false
}

func checkPlan(plan *models.HuntPlan) error {
	if plan.Name == "" {
		return apperrors.Validation("hunt plan name is required")
	}
	if plan.AvailableFrom != nil && plan.AvailableUntil != nil && plan.AvailableUntil.Before(*plan.AvailableFrom) {
		return apperrors.Validation("available_until is before available_from")
	}
	if plan.RadiusMiles != nil && !plan.Origin.HasCoordinates() && plan.Origin.Zip == "" && plan.Origin.City == "" {
		return apperrors.Validation("a radius needs an origin city, zip or coordinates")
	}
	return nil
}

func normalizeLocation(l models.Location) models.Location {
	l.City = strings.TrimSpace(l.City)
	l.State = strings.ToUpper(strings.TrimSpace(l.State))
	l.Zip = strings.TrimSpace(l.Zip)
	return l
}

func cleanEquipment(types []string) []string {
	trimmed := ectolinq.Map(types, strings.TrimSpace)
	return ectolinq.Filter(trimmed, func(t string) bool { return t != "" })
}
