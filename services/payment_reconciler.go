package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spacehub/spacehub-api/apperr"
	"github.com/spacehub/spacehub-api/events"
	"github.com/spacehub/spacehub-api/models"
	"github.com/spacehub/spacehub-api/payments"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	SourceVerify  = "verify"
	SourceWebhook = "webhook"
	SourceSweep   = "sweep"
	SourceFree    = "free"

	referencePrefix = "SPH-"
)

type ReconcilerConfig struct {
	Timeout     time.Duration
	CallbackURL string
	PublicKey   string
}

type CheckoutSession struct {
	EnrollmentID     uuid.UUID `json:"enrollment_id"`
	Reference        string    `json:"reference"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	AuthorizationURL string    `json:"authorization_url,omitempty"`
	AccessCode       string    `json:"access_code,omitempty"`
	PublicKey        string    `json:"public_key"`
	Confirmed        bool      `json:"confirmed"`
}

type VerificationResult struct {
	Reference        string              `json:"reference"`
	EnrollmentID     uuid.UUID           `json:"enrollment_id"`
	Status           string              `json:"status"`
	State            models.PaymentState `json:"state"`
	Amount           int64               `json:"amount"`
	GatewayStatus    string              `json:"gateway_status,omitempty"`
	AlreadyProcessed bool                `json:"already_processed"`
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference       string `json:"reference"`
		Amount          int64  `json:"amount"`
		Currency        string `json:"currency"`
		Status          string `json:"status"`
		Channel         string `json:"channel"`
		GatewayResponse string `json:"gateway_response"`
	} `json:"data"`
}

// outcome is a gateway answer about one reference, from either trigger.
type outcome struct {
	reference string
	status    payments.ChargeStatus
	amount    int64
	currency  string
	channel   string
	source    string
	raw       []byte
}

// PaymentReconciler moves enrollments out of AWAITING_CONFIRMATION. The
// verify call and the webhook both end in settle, where a conditional UPDATE
// on payment_status decides which caller performs the transition.
type PaymentReconciler struct {
	db      *gorm.DB
	gateway payments.Gateway
	signer  *payments.Signer
	events  events.Publisher
	cfg     ReconcilerConfig
	logger  *slog.Logger
}

func NewPaymentReconciler(db *gorm.DB, gateway payments.Gateway, signer *payments.Signer, publisher events.Publisher, cfg ReconcilerConfig, logger *slog.Logger) *PaymentReconciler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &PaymentReconciler{
		db:      db,
		gateway: gateway,
		signer:  signer,
		events:  publisher,
		cfg:     cfg,
		logger:  logger,
	}
}

// BeginCheckout assigns the payment reference (once) and initializes the
// charge with the gateway. A gateway failure keeps the reference so a retry
// or a late webhook still lines up with this enrollment.
func (r *PaymentReconciler) BeginCheckout(ctx context.Context, studentID, enrollmentID uuid.UUID) (*CheckoutSession, error) {
	var enrollment models.Enrollment
	err := r.db.WithContext(ctx).
		Preload("Student").
		Preload("Course").
		Where("id = ? AND student_id = ?", enrollmentID, studentID).
		First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("enrollment not found")
		}
		return nil, apperr.Internal(err, "failed to load enrollment")
	}

	switch enrollment.PaymentStatus {
	case models.PaymentCompleted:
		return nil, apperr.Conflict("enrollment is already paid")
	case models.PaymentFailed:
		return nil, apperr.Conflict("payment failed, enroll again to start a new checkout")
	}

	if enrollment.PaymentReference == nil {
		ref := referencePrefix + uuid.NewString()
		res := r.db.WithContext(ctx).Model(&models.Enrollment{}).
			Where("id = ? AND payment_reference IS NULL AND payment_status = ?", enrollment.ID, models.PaymentPending).
			Updates(map[string]interface{}{
				"payment_reference": ref,
				"amount":            enrollment.Course.Price,
				"updated_at":        time.Now().UTC(),
			})
		if res.Error != nil {
			return nil, apperr.Internal(res.Error, "failed to assign payment reference")
		}

		if res.RowsAffected == 0 {
			// Another checkout call got there first; use what it stored.
			if err := r.db.WithContext(ctx).First(&enrollment, "id = ?", enrollment.ID).Error; err != nil {
				return nil, apperr.Internal(err, "failed to reload enrollment")
			}
			if enrollment.PaymentReference == nil || enrollment.Terminal() {
				return nil, apperr.Conflict("enrollment is changing state, retry")
			}
		} else {
			enrollment.PaymentReference = &ref
			enrollment.Amount = enrollment.Course.Price
			r.logger.InfoContext(ctx, "payment reference assigned", "enrollment_id", enrollment.ID, "reference", ref)
		}
	}

	reference := *enrollment.PaymentReference
	session := &CheckoutSession{
		EnrollmentID: enrollment.ID,
		Reference:    reference,
		Amount:       enrollment.Amount,
		Currency:     enrollment.Course.Currency,
		PublicKey:    r.cfg.PublicKey,
	}

	if enrollment.Amount == 0 {
		if _, _, err := r.settle(ctx, outcome{
			reference: reference,
			status:    payments.ChargeSuccess,
			currency:  enrollment.Course.Currency,
			source:    SourceFree,
		}); err != nil {
			return nil, err
		}
		session.Confirmed = true
		return session, nil
	}

	gctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	init, err := r.gateway.Initialize(gctx, payments.InitializeRequest{
		Email:       enrollment.Student.Email,
		Amount:      enrollment.Amount,
		Currency:    enrollment.Course.Currency,
		Reference:   reference,
		CallbackURL: r.cfg.CallbackURL,
	})
	if err != nil {
		return nil, r.gatewayError(ctx, "initialize", reference, err)
	}

	session.AuthorizationURL = init.AuthorizationURL
	session.AccessCode = init.AccessCode
	return session, nil
}

// Verify asks the gateway about a reference and settles the answer. Terminal
// enrollments are answered from the store without calling the gateway.
func (r *PaymentReconciler) Verify(ctx context.Context, reference string) (*VerificationResult, error) {
	enrollment, err := r.findByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return r.verify(ctx, enrollment, SourceVerify)
}

// VerifyForUser is Verify scoped to the caller: students only see their own
// references, admins see all of them.
func (r *PaymentReconciler) VerifyForUser(ctx context.Context, caller Identity, reference string) (*VerificationResult, error) {
	enrollment, err := r.findByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && enrollment.StudentID != caller.UserID {
		return nil, apperr.ErrReferenceNotFound
	}
	return r.verify(ctx, enrollment, SourceVerify)
}

func (r *PaymentReconciler) verify(ctx context.Context, enrollment *models.Enrollment, source string) (*VerificationResult, error) {
	reference := *enrollment.PaymentReference
	if enrollment.Terminal() {
		return resultFor(enrollment, true, ""), nil
	}

	gctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	txn, err := r.gateway.Verify(gctx, reference)
	if err != nil {
		return nil, r.gatewayError(ctx, "verify", reference, err)
	}

	if !txn.Status.Settled() {
		r.logger.InfoContext(ctx, "payment not settled yet", "reference", reference, "gateway_status", txn.Status)
		return resultFor(enrollment, false, string(txn.Status)), nil
	}

	transitioned, current, err := r.settle(ctx, outcome{
		reference: reference,
		status:    txn.Status,
		amount:    txn.Amount,
		currency:  txn.Currency,
		channel:   txn.Channel,
		source:    source,
		raw:       txn.Raw,
	})
	if err != nil {
		return nil, err
	}
	return resultFor(current, !transitioned, string(txn.Status)), nil
}

// HandleWebhook authenticates the raw body before looking at it. Unknown
// references are still recorded and reported as ReferenceNotFound.
func (r *PaymentReconciler) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !r.signer.Valid(body, signature) {
		r.logger.WarnContext(ctx, "webhook signature rejected", "security_event", true, "body_bytes", len(body))
		return apperr.ErrInvalidSignature
	}

	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return apperr.Validation("malformed webhook payload")
	}
	if evt.Data.Reference == "" {
		return apperr.Validation("webhook payload has no reference")
	}

	var status payments.ChargeStatus
	switch evt.Event {
	case "charge.success":
		status = payments.ChargeSuccess
	case "charge.failed":
		status = payments.ChargeFailed
	default:
		r.logger.InfoContext(ctx, "webhook event ignored", "event", evt.Event, "reference", evt.Data.Reference)
		return nil
	}

	transitioned, current, err := r.settle(ctx, outcome{
		reference: evt.Data.Reference,
		status:    status,
		amount:    evt.Data.Amount,
		currency:  evt.Data.Currency,
		channel:   evt.Data.Channel,
		source:    SourceWebhook,
		raw:       body,
	})
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "webhook processed",
		"event", evt.Event,
		"reference", evt.Data.Reference,
		"transitioned", transitioned,
		"state", current.PaymentState(),
	)
	return nil
}

// settle records the gateway answer and applies it to the enrollment. Only
// the caller whose UPDATE hits the still-pending row bumps the course
// counter and publishes; every other caller sees zero affected rows.
func (r *PaymentReconciler) settle(ctx context.Context, o outcome) (bool, *models.Enrollment, error) {
	var (
		transitioned bool
		missing      bool
		enrollment   models.Enrollment
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := models.PaymentRecord{
			Reference:        o.reference,
			Amount:           o.amount,
			Currency:         o.currency,
			Status:           string(o.status),
			Channel:          o.channel,
			Source:           o.source,
			ProviderResponse: datatypes.JSON(rawOrEmpty(o.raw)),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reference"}},
			DoUpdates: clause.AssignmentColumns([]string{"amount", "currency", "status", "channel", "source", "provider_response", "updated_at"}),
		}).Create(&record).Error
		if err != nil {
			return err
		}

		if err := tx.Preload("Course").Where("payment_reference = ?", o.reference).First(&enrollment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				missing = true
				return nil
			}
			return err
		}

		confirmed := o.status == payments.ChargeSuccess && o.amount == enrollment.Amount &&
			(o.currency == "" || enrollment.Course.Currency == "" || strings.EqualFold(o.currency, enrollment.Course.Currency))
		if o.status == payments.ChargeSuccess && !confirmed {
			r.logger.WarnContext(ctx, "payment amount mismatch",
				"reference", o.reference,
				"expected", enrollment.Amount,
				"paid", o.amount,
				"currency", o.currency,
			)
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{"payment_status": models.PaymentFailed, "updated_at": now}
		if confirmed {
			updates["payment_status"] = models.PaymentCompleted
			updates["completed_at"] = now
		}

		res := tx.Model(&models.Enrollment{}).
			Where("payment_reference = ? AND payment_status = ?", o.reference, models.PaymentPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			transitioned = true
			if confirmed {
				err := tx.Model(&models.Course{}).
					Where("id = ?", enrollment.CourseID).
					UpdateColumn("enrollment_count", gorm.Expr("enrollment_count + ?", 1)).Error
				if err != nil {
					return err
				}
			}
		}

		return tx.First(&enrollment, "id = ?", enrollment.ID).Error
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "settle failed", "reference", o.reference, "source", o.source, "error", err)
		return false, nil, apperr.Internal(err, "failed to reconcile payment")
	}

	if missing {
		r.logger.WarnContext(ctx, "payment reference not found", "reference", o.reference, "source", o.source)
		return false, nil, apperr.ErrReferenceNotFound
	}

	if transitioned {
		eventType := events.EnrollmentRejected
		if enrollment.PaymentStatus == models.PaymentCompleted {
			eventType = events.EnrollmentConfirmed
		}
		r.logger.InfoContext(ctx, "enrollment settled",
			"enrollment_id", enrollment.ID,
			"reference", o.reference,
			"source", o.source,
			"state", enrollment.PaymentState(),
		)
		r.publish(ctx, eventType, &enrollment, o.currency)
	}
	return transitioned, &enrollment, nil
}

// Stale lists enrollments waiting on a confirmation for longer than minAge.
func (r *PaymentReconciler) Stale(ctx context.Context, minAge time.Duration, limit int) ([]models.Enrollment, error) {
	var stale []models.Enrollment
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND payment_reference IS NOT NULL AND updated_at < ?", models.PaymentPending, time.Now().UTC().Add(-minAge)).
		Order("updated_at ASC").
		Limit(limit).
		Find(&stale).Error
	if err != nil {
		return nil, apperr.Internal(err, "failed to list stale enrollments")
	}
	return stale, nil
}

// Sweep re-verifies one stale enrollment. It shares the verify path, so a
// webhook racing the sweep is settled by the same conditional update.
func (r *PaymentReconciler) Sweep(ctx context.Context, enrollment models.Enrollment) (*VerificationResult, error) {
	if enrollment.PaymentReference == nil {
		return nil, apperr.Validation("enrollment has no payment reference")
	}
	return r.verify(ctx, &enrollment, SourceSweep)
}

func (r *PaymentReconciler) findByReference(ctx context.Context, reference string) (*models.Enrollment, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, apperr.Validation("reference is required")
	}

	var enrollment models.Enrollment
	if err := r.db.WithContext(ctx).Where("payment_reference = ?", reference).First(&enrollment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.logger.WarnContext(ctx, "payment reference not found", "reference", reference)
			return nil, apperr.ErrReferenceNotFound
		}
		return nil, apperr.Internal(err, "failed to load enrollment")
	}
	return &enrollment, nil
}

// gatewayError separates retryable transport failures, which leave the
// enrollment awaiting confirmation, from unexpected gateway answers.
func (r *PaymentReconciler) gatewayError(ctx context.Context, op, reference string, err error) error {
	if errors.Is(err, payments.ErrUnreachable) || errors.Is(err, context.DeadlineExceeded) {
		r.logger.WarnContext(ctx, "payment gateway unreachable", "op", op, "reference", reference, "error", err)
		return apperr.GatewayUnreachable(err)
	}
	r.logger.ErrorContext(ctx, "payment gateway error", "op", op, "reference", reference, "error", err)
	return apperr.Internal(err, "payment gateway returned an error")
}

func (r *PaymentReconciler) publish(ctx context.Context, eventType string, e *models.Enrollment, currency string) {
	payload := events.EnrollmentEvent{
		EnrollmentID: e.ID,
		StudentID:    e.StudentID,
		CourseID:     e.CourseID,
		Amount:       e.Amount,
		Currency:     currency,
		Status:       string(e.PaymentStatus),
		Progress:     e.Progress,
	}
	if e.PaymentReference != nil {
		payload.Reference = *e.PaymentReference
	}
	if err := r.events.Publish(ctx, eventType, payload); err != nil {
		r.logger.ErrorContext(ctx, "failed to publish event", "event", eventType, "enrollment_id", e.ID, "error", err)
	}
}

func resultFor(e *models.Enrollment, alreadyProcessed bool, gatewayStatus string) *VerificationResult {
	status := "pending"
	switch e.PaymentStatus {
	case models.PaymentCompleted:
		status = "confirmed"
	case models.PaymentFailed:
		status = "rejected"
	}

	result := &VerificationResult{
		EnrollmentID:     e.ID,
		Status:           status,
		State:            e.PaymentState(),
		Amount:           e.Amount,
		GatewayStatus:    gatewayStatus,
		AlreadyProcessed: alreadyProcessed && e.Terminal(),
	}
	if e.PaymentReference != nil {
		result.Reference = *e.PaymentReference
	}
	return result
}

func rawOrEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
