package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/trainflow-renewal/internal/models"
	"github.com/noah-isme/trainflow-renewal/internal/repository"
	appErrors "github.com/noah-isme/trainflow-renewal/pkg/errors"
	"github.com/noah-isme/trainflow-renewal/pkg/logger"
	"github.com/noah-isme/trainflow-renewal/pkg/middleware/requestid"
)

const (
	defaultStoreTimeout    = 5 * time.Second
	defaultConflictRetries = 3
	tracerName             = "github.com/noah-isme/trainflow-renewal/internal/service"
)

// roleCapabilities lists, per role, the step roles it may decide. Identity by
// default so a higher authority cannot skip a lower step.
var roleCapabilities = map[models.UserRole][]models.UserRole{
	models.RoleLineSupervisor:        {models.RoleLineSupervisor},
	models.RoleDepartmentManager:     {models.RoleDepartmentManager},
	models.RoleTrainingAdministrator: {models.RoleTrainingAdministrator},
	models.RoleSystemAdministrator:   {models.RoleSystemAdministrator},
}

type renewalMetrics interface {
	ObserveRenewalOperation(operation, outcome string, duration time.Duration)
	RecordRenewalTransition(from, to models.RenewalStatus)
}

// OpenRenewalParams describes a request to open a renewal workflow.
// An empty ApprovalChain is resolved from the course category when a policy is configured.
type OpenRenewalParams struct {
	TenantID          string            `validate:"required"`
	EnrollmentID      string            `validate:"required"`
	RequestedBy       string            `validate:"required"`
	Reason            string            `validate:"max=2000"`
	ApprovalChain     []models.UserRole `validate:"omitempty,dive,required"`
	WarningWindowDays int               `validate:"min=0"`
}

// DecideStepParams records one approver decision.
type DecideStepParams struct {
	TenantID  string              `validate:"required"`
	RequestID string              `validate:"required"`
	StepOrder int                 `validate:"min=1"`
	ActorID   string              `validate:"required"`
	Decision  models.StepDecision `validate:"required,oneof=approved rejected"`
	Comment   string              `validate:"max=2000"`
}

// RenewalWorkflowService owns the renewal request state machine. It keeps no
// state between calls; every transition is one store transaction.
type RenewalWorkflowService struct {
	store           WorkflowStore
	tracker         *EnrollmentTracker
	sink            EventSink
	policy          *ApprovalChainPolicy
	metrics         renewalMetrics
	validate        *validator.Validate
	logger          *zap.Logger
	tracer          trace.Tracer
	capabilities    map[models.UserRole][]models.UserRole
	storeTimeout    time.Duration
	conflictRetries int
}

// RenewalWorkflowOption configures the service.
type RenewalWorkflowOption func(*RenewalWorkflowService)

// WithRenewalEventSink sets the sink receiving committed transitions.
func WithRenewalEventSink(sink EventSink) RenewalWorkflowOption {
	return func(s *RenewalWorkflowService) {
		s.sink = sink
	}
}

// WithApprovalChainPolicy resolves chains for requests opened without one.
func WithApprovalChainPolicy(policy *ApprovalChainPolicy) RenewalWorkflowOption {
	return func(s *RenewalWorkflowService) {
		s.policy = policy
	}
}

// WithRenewalMetrics records operation latency and status transitions.
func WithRenewalMetrics(metrics renewalMetrics) RenewalWorkflowOption {
	return func(s *RenewalWorkflowService) {
		s.metrics = metrics
	}
}

// WithRenewalStoreTimeout bounds each operation when the caller set no deadline.
func WithRenewalStoreTimeout(timeout time.Duration) RenewalWorkflowOption {
	return func(s *RenewalWorkflowService) {
		if timeout > 0 {
			s.storeTimeout = timeout
		}
	}
}

// WithRenewalConflictRetries bounds re-reads after a version conflict.
func WithRenewalConflictRetries(retries int) RenewalWorkflowOption {
	return func(s *RenewalWorkflowService) {
		if retries >= 0 {
			s.conflictRetries = retries
		}
	}
}

// WithRoleCapabilities replaces the role capability table.
func WithRoleCapabilities(capabilities map[models.UserRole][]models.UserRole) RenewalWorkflowOption {
	return func(s *RenewalWorkflowService) {
		if capabilities != nil {
			s.capabilities = capabilities
		}
	}
}

// WithRenewalTracer overrides the tracer taken from the global provider.
func WithRenewalTracer(tracer trace.Tracer) RenewalWorkflowOption {
	return func(s *RenewalWorkflowService) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewRenewalWorkflowService constructs the engine with defaults.
func NewRenewalWorkflowService(store WorkflowStore, tracker *EnrollmentTracker, validate *validator.Validate, logger *zap.Logger, opts ...RenewalWorkflowOption) *RenewalWorkflowService {
	if tracker == nil {
		tracker = NewEnrollmentTracker()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RenewalWorkflowService{
		store:           store,
		tracker:         tracker,
		validate:        validate,
		logger:          logger,
		tracer:          otel.Tracer(tracerName),
		capabilities:    roleCapabilities,
		storeTimeout:    defaultStoreTimeout,
		conflictRetries: defaultConflictRetries,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// OpenRequest creates a pending renewal request and its waiting steps for a
// renewal candidate enrollment.
func (s *RenewalWorkflowService) OpenRequest(ctx context.Context, params OpenRenewalParams) (result *models.RenewalRequest, err error) {
	ctx, finish := s.begin(ctx, "open_request", attribute.String("tenant.id", params.TenantID), attribute.String("enrollment.id", params.EnrollmentID))
	defer func() { finish(err) }()

	if err := s.validate.Struct(params); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	var (
		request *models.RenewalRequest
		steps   []models.WorkflowStep
	)
	err = s.runTx(ctx, func(tx WorkflowTx) error {
		if err := s.ensureTenant(ctx, tx, params.TenantID); err != nil {
			return err
		}
		if _, err := tx.LoadWorker(ctx, params.TenantID, params.RequestedBy); err != nil {
			return notFoundOr(err, appErrors.ErrForbidden, "requester does not belong to tenant")
		}
		enrollment, err := tx.LoadEnrollment(ctx, params.TenantID, params.EnrollmentID)
		if err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "enrollment not found")
		}
		if !s.tracker.IsRenewalCandidate(*enrollment, params.WarningWindowDays) {
			return appErrors.Clone(appErrors.ErrIneligibleEnrollment, fmt.Sprintf("enrollment %s is %s and not within the renewal window", enrollment.ID, s.tracker.Evaluate(*enrollment)))
		}
		if _, err := tx.LoadOpenRequestForEnrollment(ctx, params.TenantID, enrollment.ID); err == nil {
			return appErrors.ErrDuplicateOpenRequest
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		chain, err := s.resolveChain(ctx, tx, params, enrollment)
		if err != nil {
			return err
		}

		now := s.tracker.Now()
		request = &models.RenewalRequest{
			ID:           uuid.NewString(),
			TenantID:     params.TenantID,
			WorkerID:     enrollment.WorkerID,
			EnrollmentID: enrollment.ID,
			Status:       models.RenewalStatusPending,
			RequestedBy:  params.RequestedBy,
			RequestedAt:  now,
			Reason:       strings.TrimSpace(params.Reason),
		}
		steps = make([]models.WorkflowStep, len(chain))
		for i, role := range chain {
			steps[i] = models.WorkflowStep{
				ID:           uuid.NewString(),
				TenantID:     params.TenantID,
				RequestID:    request.ID,
				StepOrder:    i + 1,
				RequiredRole: role,
				Decision:     models.StepDecisionWaiting,
			}
		}
		return tx.SaveRequest(ctx, request, steps)
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition("", request.Status)
	s.publish(ctx, s.newEvent(ctx, models.EventRequestOpened, request, params.RequestedBy, 0, nil, snapshotOf(request, steps)))
	copied := *request
	return &copied, nil
}

// DecideStep records an approval or rejection on the lowest waiting step.
func (s *RenewalWorkflowService) DecideStep(ctx context.Context, params DecideStepParams) (result *models.RenewalRequest, err error) {
	ctx, finish := s.begin(ctx, "decide_step", attribute.String("tenant.id", params.TenantID), attribute.String("renewal.request_id", params.RequestID), attribute.Int("renewal.step_order", params.StepOrder))
	defer func() { finish(err) }()

	if err := s.validate.Struct(params); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	var (
		request       *models.RenewalRequest
		before, after *models.RenewalSnapshot
		fromStatus    models.RenewalStatus
	)
	err = s.runTx(ctx, func(tx WorkflowTx) error {
		if err := s.ensureTenant(ctx, tx, params.TenantID); err != nil {
			return err
		}
		loaded, err := tx.LoadRequest(ctx, params.TenantID, params.RequestID)
		if err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "renewal request not found")
		}
		if loaded.Status.Terminal() {
			return appErrors.Clone(appErrors.ErrRequestAlreadyTerminal, fmt.Sprintf("renewal request is already %s", loaded.Status))
		}
		steps, err := tx.LoadSteps(ctx, params.TenantID, loaded.ID)
		if err != nil {
			return err
		}
		sortSteps(steps)

		idx := -1
		lowestWaiting := 0
		for i := range steps {
			if steps[i].StepOrder == params.StepOrder {
				idx = i
			}
			if lowestWaiting == 0 && steps[i].Decision == models.StepDecisionWaiting {
				lowestWaiting = steps[i].StepOrder
			}
		}
		if idx < 0 {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("renewal request has no step %d", params.StepOrder))
		}
		step := steps[idx]
		if step.Decision != models.StepDecisionWaiting {
			return appErrors.Clone(appErrors.ErrStepAlreadyDecided, fmt.Sprintf("step %d is already %s", step.StepOrder, step.Decision))
		}
		if step.StepOrder != lowestWaiting {
			return appErrors.Clone(appErrors.ErrStepOutOfOrder, fmt.Sprintf("step %d is still waiting", lowestWaiting))
		}
		if err := s.authorizeActor(ctx, tx, params.TenantID, params.ActorID, step.RequiredRole); err != nil {
			return err
		}

		before = snapshotOf(loaded, steps)
		fromStatus = loaded.Status

		now := s.tracker.Now()
		actorID := params.ActorID
		comment := optionalString(params.Comment)
		step.Decision = params.Decision
		step.ActorID = &actorID
		step.DecidedAt = &now
		step.Comment = comment
		steps[idx] = step

		switch {
		case params.Decision == models.StepDecisionRejected:
			loaded.Status = models.RenewalStatusRejected
		case idx == len(steps)-1:
			loaded.Status = models.RenewalStatusApproved
		default:
			loaded.Status = models.RenewalStatusInReview
		}
		loaded.ApproverID = &actorID
		loaded.DecidedAt = &now
		loaded.DecisionComment = comment

		if err := tx.SaveRequest(ctx, loaded, []models.WorkflowStep{step}); err != nil {
			return err
		}
		request = loaded
		after = snapshotOf(loaded, steps)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(fromStatus, request.Status)
	s.publish(ctx, s.newEvent(ctx, models.EventStepDecided, request, params.ActorID, params.StepOrder, before, after))
	if request.Status == models.RenewalStatusRejected {
		s.publish(ctx, s.newEvent(ctx, models.EventRequestRejected, request, params.ActorID, params.StepOrder, before, after))
	}
	copied := *request
	return &copied, nil
}

// Finalize completes an approved request and starts a new enrollment cycle in
// the same transaction.
func (s *RenewalWorkflowService) Finalize(ctx context.Context, tenantID, requestID, actorID string) (result *models.RenewalRequest, successor *models.Enrollment, err error) {
	ctx, finish := s.begin(ctx, "finalize", attribute.String("tenant.id", tenantID), attribute.String("renewal.request_id", requestID))
	defer func() { finish(err) }()

	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(requestID) == "" || strings.TrimSpace(actorID) == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "tenant, request and actor are required")
	}

	var (
		request    *models.RenewalRequest
		enrollment models.Enrollment
		before     *models.RenewalSnapshot
		after      *models.RenewalSnapshot
	)
	err = s.runTx(ctx, func(tx WorkflowTx) error {
		if err := s.ensureTenant(ctx, tx, tenantID); err != nil {
			return err
		}
		loaded, err := tx.LoadRequest(ctx, tenantID, requestID)
		if err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "renewal request not found")
		}
		switch loaded.Status {
		case models.RenewalStatusApproved:
		case models.RenewalStatusPending, models.RenewalStatusInReview:
			return appErrors.Clone(appErrors.ErrNotYetApproved, fmt.Sprintf("renewal request is still %s", loaded.Status))
		default:
			return appErrors.Clone(appErrors.ErrRequestAlreadyTerminal, fmt.Sprintf("renewal request is already %s", loaded.Status))
		}
		actor, err := tx.LoadWorker(ctx, tenantID, actorID)
		if err != nil {
			return notFoundOr(err, appErrors.ErrForbidden, "actor does not belong to tenant")
		}
		if !actor.Active {
			return appErrors.Clone(appErrors.ErrForbidden, "actor is inactive")
		}
		current, err := tx.LoadEnrollment(ctx, tenantID, loaded.EnrollmentID)
		if err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "enrollment not found")
		}
		course, err := tx.LoadCourse(ctx, tenantID, current.CourseID)
		if err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "course not found")
		}

		before = snapshotOf(loaded, nil)
		next := s.tracker.CompleteRenewal(*current, *course)
		if err := tx.SaveEnrollment(ctx, &next); err != nil {
			return err
		}
		now := s.tracker.Now()
		loaded.Status = models.RenewalStatusCompleted
		loaded.DecidedAt = &now
		if err := tx.SaveRequest(ctx, loaded, nil); err != nil {
			return err
		}
		request = loaded
		enrollment = next
		after = snapshotOf(loaded, nil)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.recordTransition(models.RenewalStatusApproved, request.Status)
	s.publish(ctx, s.newEvent(ctx, models.EventRequestCompleted, request, actorID, 0, before, after))
	copied := *request
	return &copied, &enrollment, nil
}

// GetRequest returns a request and its ordered steps.
func (s *RenewalWorkflowService) GetRequest(ctx context.Context, tenantID, requestID string) (result *models.RenewalRequest, steps []models.WorkflowStep, err error) {
	ctx, finish := s.begin(ctx, "get_request", attribute.String("tenant.id", tenantID), attribute.String("renewal.request_id", requestID))
	defer func() { finish(err) }()

	err = s.runTx(ctx, func(tx WorkflowTx) error {
		loaded, err := tx.LoadRequest(ctx, tenantID, requestID)
		if err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "renewal request not found")
		}
		loadedSteps, err := tx.LoadSteps(ctx, tenantID, requestID)
		if err != nil {
			return err
		}
		sortSteps(loadedSteps)
		result, steps = loaded, loadedSteps
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, steps, nil
}

func (s *RenewalWorkflowService) ensureTenant(ctx context.Context, tx WorkflowTx, tenantID string) error {
	tenant, err := tx.LoadTenant(ctx, tenantID)
	if err != nil {
		return notFoundOr(err, appErrors.ErrNotFound, "tenant not found")
	}
	if !tenant.Active {
		return appErrors.Clone(appErrors.ErrForbidden, "tenant is inactive")
	}
	return nil
}

func (s *RenewalWorkflowService) resolveChain(ctx context.Context, tx WorkflowTx, params OpenRenewalParams, enrollment *models.Enrollment) ([]models.UserRole, error) {
	chain := params.ApprovalChain
	if len(chain) == 0 && s.policy != nil {
		course, err := tx.LoadCourse(ctx, params.TenantID, enrollment.CourseID)
		if err != nil {
			return nil, notFoundOr(err, appErrors.ErrNotFound, "course not found")
		}
		chain = s.policy.ChainFor(*course)
	}
	if len(chain) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "approval chain must not be empty")
	}
	for _, role := range chain {
		if !role.Valid() || role == models.RoleWorker {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%q cannot approve a renewal step", role))
		}
	}
	return chain, nil
}

func (s *RenewalWorkflowService) authorizeActor(ctx context.Context, tx WorkflowTx, tenantID, actorID string, required models.UserRole) error {
	actor, err := tx.LoadWorker(ctx, tenantID, actorID)
	if err != nil {
		return notFoundOr(err, appErrors.ErrRoleMismatch, "actor does not belong to tenant")
	}
	if !actor.Active {
		return appErrors.Clone(appErrors.ErrRoleMismatch, "actor is inactive")
	}
	if !s.canDecide(actor.Role, required) {
		return appErrors.Clone(appErrors.ErrRoleMismatch, fmt.Sprintf("role %s cannot decide a %s step", actor.Role, required))
	}
	return nil
}

func (s *RenewalWorkflowService) canDecide(actor, required models.UserRole) bool {
	for _, role := range s.capabilities[actor] {
		if role == required {
			return true
		}
	}
	return false
}

// runTx applies the store timeout and re-runs fn from a fresh read after a
// version conflict.
func (s *RenewalWorkflowService) runTx(ctx context.Context, fn func(tx WorkflowTx) error) error {
	if s.store == nil {
		return appErrors.Clone(appErrors.ErrStoreUnavailable, "workflow store not configured")
	}
	if _, ok := ctx.Deadline(); !ok && s.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
	}

	var err error
	for attempt := 0; attempt <= s.conflictRetries; attempt++ {
		err = s.store.RunInTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return translateStoreError(err)
		}
		s.logger.Debug("renewal transaction conflicted, re-reading", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return appErrors.WrapKind(appErrors.ErrStoreUnavailable, err, "renewal store kept conflicting")
}

func translateStoreError(err error) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.As(err, &netErr):
		return appErrors.WrapKind(appErrors.ErrStoreUnavailable, err, "")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "renewal store failure")
	}
}

func notFoundOr(err error, kind *appErrors.Error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(kind, message)
	}
	return err
}

func (s *RenewalWorkflowService) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "renewal."+operation, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = appErrors.FromError(err).Code
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		if s.metrics != nil {
			s.metrics.ObserveRenewalOperation(operation, outcome, time.Since(start))
		}
	}
}

func (s *RenewalWorkflowService) recordTransition(from, to models.RenewalStatus) {
	if s.metrics != nil && from != to {
		s.metrics.RecordRenewalTransition(from, to)
	}
}

func (s *RenewalWorkflowService) newEvent(ctx context.Context, kind models.RenewalEventKind, request *models.RenewalRequest, actorID string, stepOrder int, before, after *models.RenewalSnapshot) models.RenewalEvent {
	return models.RenewalEvent{
		ID:            uuid.NewString(),
		Kind:          kind,
		TenantID:      request.TenantID,
		RequestID:     request.ID,
		EnrollmentID:  request.EnrollmentID,
		WorkerID:      request.WorkerID,
		ActorID:       actorID,
		StepOrder:     stepOrder,
		Status:        request.Status,
		Before:        marshalSnapshot(before),
		After:         marshalSnapshot(after),
		CorrelationID: requestid.FromContext(ctx),
		OccurredAt:    s.tracker.Now(),
	}
}

// publish hands the event to the sink. The store is authoritative, so failures are logged and dropped.
func (s *RenewalWorkflowService) publish(ctx context.Context, event models.RenewalEvent) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(ctx, event); err != nil {
		logger.ForTenant(s.logger, event.TenantID).Warn("failed to publish renewal event",
			zap.String("kind", string(event.Kind)),
			zap.String("request_id", event.RequestID),
			zap.Error(err),
		)
	}
}

func snapshotOf(request *models.RenewalRequest, steps []models.WorkflowStep) *models.RenewalSnapshot {
	if request == nil {
		return nil
	}
	snapshot := &models.RenewalSnapshot{Request: *request}
	if len(steps) > 0 {
		snapshot.Steps = append([]models.WorkflowStep(nil), steps...)
	}
	return snapshot
}

func marshalSnapshot(snapshot *models.RenewalSnapshot) json.RawMessage {
	if snapshot == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil
	}
	return payload
}

func sortSteps(steps []models.WorkflowStep) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	v := strings.TrimSpace(value)
	return &v
}
