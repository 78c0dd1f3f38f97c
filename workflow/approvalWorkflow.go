package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/fieldops_backend/config"
	"bitbucket.org/mmdatafocus/fieldops_backend/models"
	"bitbucket.org/mmdatafocus/fieldops_backend/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

const changeRequestLockType = "ChangeRequestDecision"

type DecisionOutcome string

const (
	OutcomeApprovedAndApplied DecisionOutcome = "approved_and_applied"
	OutcomeApprovedOnly       DecisionOutcome = "approved_only"
	OutcomeRejected           DecisionOutcome = "rejected"
)

type DecisionResult struct {
	ChangeRequest *models.ChangeRequest `json:"change_request"`
	Outcome       DecisionOutcome       `json:"outcome"`
	FieldsChanged int                   `json:"fields_changed"`
	ApplyError    string                `json:"apply_error,omitempty"`
}

// obtainDecisionLock is a best-effort Redis lock around one change request's
// decision. The conditional UPDATE below is the real authority; a broken
// Redis must not block decisions, so only contention is surfaced.
func obtainDecisionLock(ctx context.Context, changeRequestId int) (*redislock.Lock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, nil
	}
	lockKey := fmt.Sprintf("%s:%d", changeRequestLockType, changeRequestId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		return nil, errors.New("another decision is in progress for this change request")
	} else if err != nil {
		config.LogError(config.GetLogger(), "workflow", "obtainDecisionLock", "obtain lock", changeRequestId, err)
		return nil, nil
	}
	return lock, nil
}

// ApproveChangeRequest commits a pending change request as approved, then
// applies the diff onto the point of sale. The approval is final once the
// conditional UPDATE lands: a failed apply downgrades the outcome but never
// reverts the decision.
func ApproveChangeRequest(ctx context.Context, id int) (*DecisionResult, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	changeRequest, err := models.GetChangeRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if changeRequest.Status != models.ChangeRequestStatusPending {
		return nil, utils.ErrorInvalidState
	}

	allowed, err := models.CanActOnZone(ctx, userId, changeRequest.ZoneId)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, utils.ErrorForbiddenScope
	}

	// snapshot the diff before committing; the applied fields must be the
	// ones the approver saw, not whatever the row holds later
	diff, err := changeRequest.DiffFields()
	if err != nil {
		return nil, fmt.Errorf("stored diff is unreadable: %w", err)
	}

	lock, err := obtainDecisionLock(ctx, id)
	if err != nil {
		return nil, err
	}
	if lock != nil {
		defer func() {
			_ = lock.Release(ctx)
		}()
	}

	now := time.Now().UTC()
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&models.ChangeRequest{}).
		Where("business_id = ? AND id = ? AND status = ?", businessId, id, models.ChangeRequestStatusPending).
		Updates(map[string]interface{}{
			"status":     models.ChangeRequestStatusApproved,
			"decided_by": userId,
			"decided_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// lost the race; report against the state that actually won
		if _, err := models.GetChangeRequest(ctx, id); err != nil {
			return nil, err
		}
		return nil, utils.ErrorInvalidState
	}

	decided, err := models.GetChangeRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := models.SaveHistory(ctx, models.HistoryActionUpdate, id, "ChangeRequest",
		changeRequest, decided, "Change request approved."); err != nil {
		config.LogError(config.GetLogger(), "workflow", "ApproveChangeRequest", "create history", id, err)
	}

	result := DecisionResult{
		ChangeRequest: decided,
		Outcome:       OutcomeApprovedAndApplied,
	}

	fieldsChanged, applyErr := models.ApplyPointOfSaleFields(ctx, businessId, changeRequest.PointOfSaleId, diff)
	if applyErr != nil {
		result.Outcome = OutcomeApprovedOnly
		result.ApplyError = applyErr.Error()
		logDecision(ctx, "change request approved but apply failed", decided, result, logrus.ErrorLevel)
		return &result, nil
	}
	if fieldsChanged == 0 {
		// every diff key was filtered out; the approval stands but nothing landed
		result.Outcome = OutcomeApprovedOnly
		result.ApplyError = "empty diff"
		logDecision(ctx, "change request approved with empty effective diff", decided, result, logrus.WarnLevel)
		return &result, nil
	}
	result.FieldsChanged = fieldsChanged

	logDecision(ctx, "change request approved", decided, result, logrus.InfoLevel)
	return &result, nil
}

// RejectChangeRequest commits a pending change request as rejected.
// Nothing is written to the point of sale.
func RejectChangeRequest(ctx context.Context, id int, reason string) (*DecisionResult, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	changeRequest, err := models.GetChangeRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if changeRequest.Status != models.ChangeRequestStatusPending {
		return nil, utils.ErrorInvalidState
	}

	allowed, err := models.CanActOnZone(ctx, userId, changeRequest.ZoneId)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, utils.ErrorForbiddenScope
	}

	lock, err := obtainDecisionLock(ctx, id)
	if err != nil {
		return nil, err
	}
	if lock != nil {
		defer func() {
			_ = lock.Release(ctx)
		}()
	}

	now := time.Now().UTC()
	db := config.GetDB()
	res := db.WithContext(ctx).Model(&models.ChangeRequest{}).
		Where("business_id = ? AND id = ? AND status = ?", businessId, id, models.ChangeRequestStatusPending).
		Updates(map[string]interface{}{
			"status":           models.ChangeRequestStatusRejected,
			"rejection_reason": utils.NilIfEmpty(reason),
			"decided_by":       userId,
			"decided_at":       now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := models.GetChangeRequest(ctx, id); err != nil {
			return nil, err
		}
		return nil, utils.ErrorInvalidState
	}

	decided, err := models.GetChangeRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := models.SaveHistory(ctx, models.HistoryActionUpdate, id, "ChangeRequest",
		changeRequest, decided, "Change request rejected."); err != nil {
		config.LogError(config.GetLogger(), "workflow", "RejectChangeRequest", "create history", id, err)
	}

	result := DecisionResult{
		ChangeRequest: decided,
		Outcome:       OutcomeRejected,
	}
	logDecision(ctx, "change request rejected", decided, result, logrus.InfoLevel)
	return &result, nil
}

func logDecision(ctx context.Context, message string, changeRequest *models.ChangeRequest, result DecisionResult, level logrus.Level) {
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	entry := config.GetLogger().WithFields(logrus.Fields{
		"change_request_id": changeRequest.ID,
		"point_of_sale_id":  changeRequest.PointOfSaleId,
		"zone_id":           changeRequest.ZoneId,
		"decided_by":        utils.DereferencePtr(changeRequest.DecidedBy),
		"outcome":           result.Outcome,
		"fields_changed":    result.FieldsChanged,
		"correlation_id":    correlationId,
	})
	if result.ApplyError != "" {
		entry = entry.WithField("apply_error", result.ApplyError)
	}
	entry.Log(level, message)
}
