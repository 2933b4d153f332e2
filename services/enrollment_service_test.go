package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/spacehub/spacehub-api/apperr"
	"github.com/spacehub/spacehub-api/database/dbtest"
	"github.com/spacehub/spacehub-api/events"
	"github.com/spacehub/spacehub-api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollmentService_CreatePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.enrollments.Create(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)

	assert.Equal(t, models.PaymentPending, e.PaymentStatus)
	assert.Equal(t, models.StateAwaitingPayment, e.PaymentState())
	assert.Equal(t, int64(100000), e.Amount)
	assert.Nil(t, e.PaymentReference)
	assert.Zero(t, f.enrollmentCount(t), "counter only moves on confirmed payment")
}

func TestEnrollmentService_CreateUnknownOrUnpublishedCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.enrollments.Create(ctx, f.student.ID, uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	hidden := dbtest.CreateCourse(t, f.db, f.instructor, "Draft", 5000)
	require.NoError(t, f.db.Model(&hidden).Update("is_published", false).Error)

	_, err = f.enrollments.Create(ctx, f.student.ID, hidden.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestEnrollmentService_ConcurrentCreateKeepsOneActiveRow(t *testing.T) {
	f := newConcurrentFixture(t)
	ctx := context.Background()

	const callers = 10
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[uuid.UUID]int{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := f.enrollments.Create(ctx, f.student.ID, f.course.ID)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[e.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1, "every caller resumes the same pending enrollment")
	assert.Equal(t, int64(1), f.countRows(t, &models.Enrollment{}))
}

func TestEnrollmentService_DuplicateAfterPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.enrollWithReference(t, f.student, "ref-dup")
	_, err := f.reconciler.Verify(ctx, "ref-dup")
	require.NoError(t, err)
	require.Equal(t, models.PaymentCompleted, f.reload(t, e.ID.String()).PaymentStatus)

	_, err = f.enrollments.Create(ctx, f.student.ID, f.course.ID)
	assert.ErrorIs(t, err, apperr.ErrDuplicateEnrollment)
	assert.Equal(t, 409, apperr.From(err).Status())
	assert.Equal(t, int64(1), f.countRows(t, &models.Enrollment{}))
}

func TestEnrollmentService_ReenrollAfterFailedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.enrollWithReference(t, f.student, "ref-failed")
	f.gateway.set("failed", 100000)
	_, err := f.reconciler.Verify(ctx, "ref-failed")
	require.NoError(t, err)
	require.Equal(t, models.PaymentFailed, f.reload(t, first.ID.String()).PaymentStatus)

	second, err := f.enrollments.Create(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.PaymentPending, second.PaymentStatus)
	assert.Equal(t, int64(2), f.countRows(t, &models.Enrollment{}))
}

func TestEnrollmentService_ProgressIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.enrollWithReference(t, f.student, "ref-progress")
	_, err := f.reconciler.Verify(ctx, "ref-progress")
	require.NoError(t, err)

	updated, err := f.enrollments.UpdateProgress(ctx, f.student.ID, e.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, updated.Progress)

	_, err = f.enrollments.UpdateProgress(ctx, f.student.ID, e.ID, 30)
	assert.ErrorIs(t, err, apperr.ErrInvalidProgress)
	assert.Equal(t, 400, apperr.From(err).Status())
	assert.Equal(t, 50, f.reload(t, e.ID.String()).Progress)

	same, err := f.enrollments.UpdateProgress(ctx, f.student.ID, e.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, same.Progress)
}

func TestEnrollmentService_ProgressValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.enrollments.Create(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)

	for _, p := range []int{-1, 101} {
		_, err := f.enrollments.UpdateProgress(ctx, f.student.ID, e.ID, p)
		assert.ErrorIs(t, err, apperr.ErrInvalidProgress, "progress %d", p)
	}

	_, err = f.enrollments.UpdateProgress(ctx, f.student.ID, e.ID, 10)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "unpaid enrollments do not track progress")

	other := dbtest.CreateUser(t, f.db, "other@spacehub.test", models.RoleStudent)
	_, err = f.enrollments.UpdateProgress(ctx, other.ID, e.ID, 10)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestEnrollmentService_CompletionPublishedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.enrollWithReference(t, f.student, "ref-complete")
	_, err := f.reconciler.Verify(ctx, "ref-complete")
	require.NoError(t, err)

	_, err = f.enrollments.UpdateProgress(ctx, f.student.ID, e.ID, 100)
	require.NoError(t, err)
	again, err := f.enrollments.UpdateProgress(ctx, f.student.ID, e.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, again.Progress)

	completed := f.recorder.OfType(events.EnrollmentProgressCompleted)
	require.Len(t, completed, 1)

	var payload events.EnrollmentEvent
	require.NoError(t, completed[0].Decode(&payload))
	assert.Equal(t, e.ID, payload.EnrollmentID)
	assert.Equal(t, 100, payload.Progress)
}

func TestEnrollmentService_ListJoinsCourseFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enrollWithReference(t, f.student, "ref-list")

	views, err := f.enrollments.List(ctx, f.student.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)

	v := views[0]
	assert.Equal(t, f.course.ID, v.CourseID)
	assert.Equal(t, f.course.Title, v.CourseTitle)
	assert.Equal(t, f.course.Slug, v.CourseSlug)
	assert.Equal(t, int64(100000), v.CoursePrice)
	assert.Equal(t, "Test instructor", v.InstructorName)
	assert.Equal(t, models.StateAwaitingConfirmation, v.PaymentState)

	other, err := f.enrollments.List(ctx, f.admin.ID)
	require.NoError(t, err)
	assert.Empty(t, other)
}
