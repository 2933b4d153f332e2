package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spacehub/spacehub-api/database/dbtest"
	"github.com/spacehub/spacehub-api/events"
	"github.com/spacehub/spacehub-api/models"
	"github.com/spacehub/spacehub-api/payments"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_test"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway answers Verify with a fixed transaction per reference.
type fakeGateway struct {
	mu          sync.Mutex
	status      payments.ChargeStatus
	amount      int64
	verifyErr   error
	initErr     error
	block       bool
	verifyCalls atomic.Int32
	initCalls   atomic.Int32
}

func (g *fakeGateway) set(status payments.ChargeStatus, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = status
	g.amount = amount
}

func (g *fakeGateway) Initialize(ctx context.Context, req payments.InitializeRequest) (*payments.InitializeResponse, error) {
	g.initCalls.Add(1)
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &payments.InitializeResponse{
		AuthorizationURL: "https://checkout.example/" + req.Reference,
		AccessCode:       "access-" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, reference string) (*payments.Transaction, error) {
	g.verifyCalls.Add(1)
	if g.block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", payments.ErrUnreachable, ctx.Err())
	}
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	raw, _ := json.Marshal(map[string]interface{}{"reference": reference, "status": g.status, "amount": g.amount})
	return &payments.Transaction{
		Reference: reference,
		Amount:    g.amount,
		Currency:  "NGN",
		Status:    g.status,
		Channel:   "card",
		Raw:       raw,
	}, nil
}

type fixture struct {
	db          *gorm.DB
	student     models.User
	instructor  models.User
	admin       models.User
	course      models.Course
	recorder    *events.Recorder
	gateway     *fakeGateway
	signer      *payments.Signer
	enrollments *EnrollmentService
	reconciler  *PaymentReconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, dbtest.Open(t))
}

// newConcurrentFixture backs the services with a pooled WAL database so
// racing goroutines hit the store on separate connections.
func newConcurrentFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, dbtest.OpenConcurrent(t))
}

func newFixtureOn(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()

	f := &fixture{
		db:         db,
		student:    dbtest.CreateUser(t, db, "student@spacehub.test", models.RoleStudent),
		instructor: dbtest.CreateUser(t, db, "instructor@spacehub.test", models.RoleInstructor),
		admin:      dbtest.CreateUser(t, db, "admin@spacehub.test", models.RoleAdmin),
		recorder:   events.NewRecorder(),
		gateway:    &fakeGateway{status: payments.ChargeSuccess, amount: 100000},
	}
	f.course = dbtest.CreateCourse(t, db, f.instructor, "Intro to Orbital Mechanics", 100000)

	signer, err := payments.NewSigner(webhookSecret, "sha512")
	require.NoError(t, err)
	f.signer = signer

	f.enrollments = NewEnrollmentService(db, f.recorder, testLogger())
	f.reconciler = NewPaymentReconciler(db, f.gateway, signer, f.recorder, ReconcilerConfig{
		Timeout:   time.Second,
		PublicKey: "pk_test",
	}, testLogger())
	return f
}

// enrollWithReference creates a pending enrollment and pins its reference,
// as if checkout had started.
func (f *fixture) enrollWithReference(t *testing.T, student models.User, reference string) models.Enrollment {
	t.Helper()

	e, err := f.enrollments.Create(context.Background(), student.ID, f.course.ID)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.Enrollment{}).Where("id = ?", e.ID).Update("payment_reference", reference).Error)
	return f.reload(t, e.ID.String())
}

func (f *fixture) reload(t *testing.T, enrollmentID string) models.Enrollment {
	t.Helper()
	var e models.Enrollment
	require.NoError(t, f.db.First(&e, "id = ?", enrollmentID).Error)
	return e
}

func (f *fixture) enrollmentCount(t *testing.T) int64 {
	t.Helper()
	var c models.Course
	require.NoError(t, f.db.First(&c, "id = ?", f.course.ID).Error)
	return c.EnrollmentCount
}

func (f *fixture) countRows(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func (f *fixture) webhook(t *testing.T, event, reference string, amount int64) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"event": event,
		"data": map[string]interface{}{
			"reference": reference,
			"amount":    amount,
			"currency":  "NGN",
			"status":    "success",
			"channel":   "card",
		},
	})
	require.NoError(t, err)
	return body, f.signer.Sign(body)
}
