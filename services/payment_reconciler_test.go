package services

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/spacehub/spacehub-api/apperr"
	"github.com/spacehub/spacehub-api/database/dbtest"
	"github.com/spacehub/spacehub-api/events"
	"github.com/spacehub/spacehub-api/models"
	"github.com/spacehub/spacehub-api/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentReconciler_VerifyThenWebhookScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.enrollWithReference(t, f.student, "ref-1")
	require.Equal(t, models.PaymentPending, e.PaymentStatus)

	result, err := f.reconciler.Verify(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "confirmed", result.Status)
	assert.False(t, result.AlreadyProcessed)
	assert.Equal(t, models.PaymentCompleted, f.reload(t, e.ID.String()).PaymentStatus)
	assert.Equal(t, int64(1), f.enrollmentCount(t))

	body, sig := f.webhook(t, "charge.success", "ref-1", 100000)
	require.NoError(t, f.reconciler.HandleWebhook(ctx, body, sig))

	var record models.PaymentRecord
	require.NoError(t, f.db.First(&record, "reference = ?", "ref-1").Error)
	assert.Equal(t, SourceWebhook, record.Source)
	assert.Equal(t, int64(1), f.countRows(t, &models.PaymentRecord{}))
	assert.Equal(t, int64(1), f.enrollmentCount(t), "webhook after verify must not count twice")
	assert.Len(t, f.recorder.OfType(events.EnrollmentConfirmed), 1)

	_, err = f.enrollments.Create(ctx, f.student.ID, f.course.ID)
	assert.ErrorIs(t, err, apperr.ErrDuplicateEnrollment)
	assert.Equal(t, int64(1), f.countRows(t, &models.Enrollment{}))
}

func TestPaymentReconciler_VerifyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enrollWithReference(t, f.student, "ref-idem")

	first, err := f.reconciler.Verify(ctx, "ref-idem")
	require.NoError(t, err)
	second, err := f.reconciler.Verify(ctx, "ref-idem")
	require.NoError(t, err)

	assert.False(t, first.AlreadyProcessed)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, models.StateConfirmed, second.State)
	assert.Equal(t, int64(1), f.enrollmentCount(t))
	assert.Len(t, f.recorder.OfType(events.EnrollmentConfirmed), 1)
	assert.Equal(t, int32(1), f.gateway.verifyCalls.Load(), "terminal enrollments are answered from the store")
}

func TestPaymentReconciler_WebhookThenVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.enrollWithReference(t, f.student, "ref-wh-first")

	body, sig := f.webhook(t, "charge.success", "ref-wh-first", 100000)
	require.NoError(t, f.reconciler.HandleWebhook(ctx, body, sig))
	require.Equal(t, models.PaymentCompleted, f.reload(t, e.ID.String()).PaymentStatus)

	// Redelivery overwrites the audit row and changes nothing else.
	require.NoError(t, f.reconciler.HandleWebhook(ctx, body, sig))

	result, err := f.reconciler.Verify(ctx, "ref-wh-first")
	require.NoError(t, err)
	assert.True(t, result.AlreadyProcessed)
	assert.Equal(t, "confirmed", result.Status)

	assert.Equal(t, int64(1), f.enrollmentCount(t))
	assert.Equal(t, int64(1), f.countRows(t, &models.PaymentRecord{}))
	assert.Len(t, f.recorder.OfType(events.EnrollmentConfirmed), 1)
	assert.Zero(t, f.gateway.verifyCalls.Load())
}

func TestPaymentReconciler_ConcurrentWebhookAndVerifyConverge(t *testing.T) {
	f := newConcurrentFixture(t)
	ctx := context.Background()

	e := f.enrollWithReference(t, f.student, "ref-race")
	body, sig := f.webhook(t, "charge.success", "ref-race", 100000)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.reconciler.HandleWebhook(ctx, body, sig))
		}()
		go func() {
			defer wg.Done()
			result, err := f.reconciler.Verify(ctx, "ref-race")
			if assert.NoError(t, err) {
				assert.Equal(t, "confirmed", result.Status)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, models.PaymentCompleted, f.reload(t, e.ID.String()).PaymentStatus)
	assert.Equal(t, int64(1), f.enrollmentCount(t))
	assert.Len(t, f.recorder.OfType(events.EnrollmentConfirmed), 1)
}

func TestPaymentReconciler_WebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.enrollWithReference(t, f.student, "ref-sig")
	body, _ := f.webhook(t, "charge.success", "ref-sig", 100000)

	forger, err := payments.NewSigner("not-the-secret", "sha512")
	require.NoError(t, err)

	for _, sig := range []string{forger.Sign(body), "", "zz-not-hex"} {
		err := f.reconciler.HandleWebhook(ctx, body, sig)
		assert.ErrorIs(t, err, apperr.ErrInvalidSignature)
		assert.Equal(t, http.StatusBadRequest, apperr.From(err).Status())
	}

	assert.Zero(t, f.countRows(t, &models.PaymentRecord{}))
	assert.Equal(t, models.PaymentPending, f.reload(t, e.ID.String()).PaymentStatus)
	assert.Zero(t, f.enrollmentCount(t))
	assert.Empty(t, f.recorder.Events())
}

func TestPaymentReconciler_WebhookUnknownReferenceIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	body, sig := f.webhook(t, "charge.success", "ref-nobody", 100000)
	err := f.reconciler.HandleWebhook(ctx, body, sig)
	assert.ErrorIs(t, err, apperr.ErrReferenceNotFound)

	var record models.PaymentRecord
	require.NoError(t, f.db.First(&record, "reference = ?", "ref-nobody").Error)
	assert.Equal(t, "success", record.Status)
}

func TestPaymentReconciler_WebhookMalformedAndIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := []byte(`{"event":`)
	err := f.reconciler.HandleWebhook(ctx, bad, f.signer.Sign(bad))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	body, sig := f.webhook(t, "transfer.success", "ref-other", 100)
	assert.NoError(t, f.reconciler.HandleWebhook(ctx, body, sig))
	assert.Zero(t, f.countRows(t, &models.PaymentRecord{}))
}

func TestPaymentReconciler_WebhookChargeFailedRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.enrollWithReference(t, f.student, "ref-wh-failed")
	body, sig := f.webhook(t, "charge.failed", "ref-wh-failed", 100000)
	require.NoError(t, f.reconciler.HandleWebhook(ctx, body, sig))

	assert.Equal(t, models.StateRejected, f.reload(t, e.ID.String()).PaymentState())
	assert.Len(t, f.recorder.OfType(events.EnrollmentRejected), 1)
}

func TestPaymentReconciler_TimeoutLeavesAwaitingConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.reconciler.cfg.Timeout = 50 * time.Millisecond
	f.gateway.block = true

	e := f.enrollWithReference(t, f.student, "ref-slow")

	_, err := f.reconciler.Verify(ctx, "ref-slow")
	require.Error(t, err)
	assert.Equal(t, apperr.KindGatewayUnreachable, apperr.KindOf(err))
	assert.Equal(t, http.StatusGatewayTimeout, apperr.From(err).Status())
	assert.Equal(t, models.StateAwaitingConfirmation, f.reload(t, e.ID.String()).PaymentState())
	assert.Zero(t, f.countRows(t, &models.PaymentRecord{}))

	// A later webhook still confirms the enrollment.
	body, sig := f.webhook(t, "charge.success", "ref-slow", 100000)
	require.NoError(t, f.reconciler.HandleWebhook(ctx, body, sig))
	assert.Equal(t, models.StateConfirmed, f.reload(t, e.ID.String()).PaymentState())
	assert.Equal(t, int64(1), f.enrollmentCount(t))
}

func TestPaymentReconciler_GatewayDownIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.verifyErr = payments.ErrUnreachable
	e := f.enrollWithReference(t, f.student, "ref-down")

	_, err := f.reconciler.Verify(ctx, "ref-down")
	assert.Equal(t, apperr.KindGatewayUnreachable, apperr.KindOf(err))
	assert.Equal(t, http.StatusBadGateway, apperr.From(err).Status())
	assert.Equal(t, models.StateAwaitingConfirmation, f.reload(t, e.ID.String()).PaymentState())
}

func TestPaymentReconciler_AmountMismatchRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.set(payments.ChargeSuccess, 5000)
	e := f.enrollWithReference(t, f.student, "ref-short")

	result, err := f.reconciler.Verify(ctx, "ref-short")
	require.NoError(t, err)
	assert.Equal(t, "rejected", result.Status)
	assert.Zero(t, f.enrollmentCount(t))

	// A rejected enrollment stays rejected even if a correct webhook follows.
	body, sig := f.webhook(t, "charge.success", "ref-short", 100000)
	require.NoError(t, f.reconciler.HandleWebhook(ctx, body, sig))
	assert.Equal(t, models.PaymentFailed, f.reload(t, e.ID.String()).PaymentStatus)
	assert.Zero(t, f.enrollmentCount(t))
}

func TestPaymentReconciler_GatewayPendingChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.set(payments.ChargeOngoing, 100000)
	e := f.enrollWithReference(t, f.student, "ref-ongoing")

	result, err := f.reconciler.Verify(ctx, "ref-ongoing")
	require.NoError(t, err)
	assert.Equal(t, "pending", result.Status)
	assert.Equal(t, "ongoing", result.GatewayStatus)
	assert.Equal(t, models.StateAwaitingConfirmation, f.reload(t, e.ID.String()).PaymentState())
	assert.Zero(t, f.countRows(t, &models.PaymentRecord{}))
}

func TestPaymentReconciler_VerifyScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enrollWithReference(t, f.student, "ref-mine")
	other := dbtest.CreateUser(t, f.db, "other@spacehub.test", models.RoleStudent)

	_, err := f.reconciler.VerifyForUser(ctx, Identity{UserID: other.ID, Role: models.RoleStudent}, "ref-mine")
	assert.ErrorIs(t, err, apperr.ErrReferenceNotFound)

	result, err := f.reconciler.VerifyForUser(ctx, Identity{UserID: f.admin.ID, Role: models.RoleAdmin}, "ref-mine")
	require.NoError(t, err)
	assert.Equal(t, "confirmed", result.Status)

	_, err = f.reconciler.Verify(ctx, "ref-missing")
	assert.ErrorIs(t, err, apperr.ErrReferenceNotFound)
	assert.Equal(t, http.StatusNotFound, apperr.From(err).Status())
}

func TestPaymentReconciler_BeginCheckoutAssignsReferenceOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.enrollments.Create(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)

	first, err := f.reconciler.BeginCheckout(ctx, f.student.ID, e.ID)
	require.NoError(t, err)
	second, err := f.reconciler.BeginCheckout(ctx, f.student.ID, e.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Reference, second.Reference)
	assert.Contains(t, first.Reference, "SPH-")
	assert.Equal(t, int64(100000), first.Amount)
	assert.Equal(t, "pk_test", first.PublicKey)
	assert.Equal(t, "https://checkout.example/"+first.Reference, first.AuthorizationURL)
	assert.Equal(t, models.StateAwaitingConfirmation, f.reload(t, e.ID.String()).PaymentState())

	other := dbtest.CreateUser(t, f.db, "other@spacehub.test", models.RoleStudent)
	_, err = f.reconciler.BeginCheckout(ctx, other.ID, e.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestPaymentReconciler_BeginCheckoutGatewayDownKeepsReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gateway.initErr = payments.ErrUnreachable
	e, err := f.enrollments.Create(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)

	_, err = f.reconciler.BeginCheckout(ctx, f.student.ID, e.ID)
	assert.Equal(t, apperr.KindGatewayUnreachable, apperr.KindOf(err))

	stored := f.reload(t, e.ID.String())
	require.NotNil(t, stored.PaymentReference)
	assert.Equal(t, models.StateAwaitingConfirmation, stored.PaymentState())
}

func TestPaymentReconciler_BeginCheckoutOnPaidEnrollment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.enrollWithReference(t, f.student, "ref-paid")
	_, err := f.reconciler.Verify(ctx, "ref-paid")
	require.NoError(t, err)

	_, err = f.reconciler.BeginCheckout(ctx, f.student.ID, e.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestPaymentReconciler_FreeCourseConfirmsAtCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	free := dbtest.CreateCourse(t, f.db, f.instructor, "Free Taster", 0)
	e, err := f.enrollments.Create(ctx, f.student.ID, free.ID)
	require.NoError(t, err)

	session, err := f.reconciler.BeginCheckout(ctx, f.student.ID, e.ID)
	require.NoError(t, err)
	assert.True(t, session.Confirmed)
	assert.Zero(t, f.gateway.initCalls.Load())
	assert.Equal(t, models.PaymentCompleted, f.reload(t, e.ID.String()).PaymentStatus)
}

func TestPaymentReconciler_SweepSettlesStaleEnrollments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.enrollWithReference(t, f.student, "ref-stale")
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.db.Model(&models.Enrollment{}).Where("id = ?", e.ID).UpdateColumn("updated_at", past).Error)

	stale, err := f.reconciler.Stale(ctx, 15*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	result, err := f.reconciler.Sweep(ctx, stale[0])
	require.NoError(t, err)
	assert.Equal(t, "confirmed", result.Status)

	var record models.PaymentRecord
	require.NoError(t, f.db.First(&record, "reference = ?", "ref-stale").Error)
	assert.Equal(t, SourceSweep, record.Source)

	stale, err = f.reconciler.Stale(ctx, 15*time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}
