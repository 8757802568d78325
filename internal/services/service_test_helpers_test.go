package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/hycredit/internal/database/testutil"
	"github.com/charlesng35/hycredit/internal/models"
	"github.com/charlesng35/hycredit/internal/permissions"
)

var (
	producerA  = testutil.Producer("producer-a")
	producerB  = testutil.Producer("producer-b")
	certifierA = testutil.Certifier("certifier-a")
	certifierB = testutil.Certifier("certifier-b")
	operator   = testutil.Operator("operator-1")
)

// stepClock returns a strictly increasing time on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *recordingDispatcher) Enqueue(requestID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, requestID)
	return true
}

func (d *recordingDispatcher) queued() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

type serviceEnv struct {
	db       *gorm.DB
	clock    *stepClock
	checker  *permissions.Checker
	audit    *AuditService
	parties  *PartyService
	requests *CreditRequestService
	credits  *CreditLedgerService
	reviews  *ReviewService
	stats    *StatisticsService
}

func newServiceEnv(t *testing.T, opts ...ReviewOption) *serviceEnv {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithParties(producerA, producerB, certifierA, certifierB, operator))
	clock := newStepClock()

	checker, err := permissions.NewChecker(db)
	require.NoError(t, err)
	audit, err := NewAuditService(db, checker)
	require.NoError(t, err)
	audit.now = clock.Now
	parties, err := NewPartyService(db)
	require.NoError(t, err)
	parties.now = clock.Now
	requests, err := NewCreditRequestService(db, checker, audit)
	require.NoError(t, err)
	requests.now = clock.Now
	credits, err := NewCreditLedgerService(db, checker, audit)
	require.NoError(t, err)
	credits.now = clock.Now
	reviews, err := NewReviewService(requests, credits, checker, opts...)
	require.NoError(t, err)
	reviews.now = clock.Now
	stats, err := NewStatisticsService(db, checker)
	require.NoError(t, err)

	return &serviceEnv{
		db:       db,
		clock:    clock,
		checker:  checker,
		audit:    audit,
		parties:  parties,
		requests: requests,
		credits:  credits,
		reviews:  reviews,
		stats:    stats,
	}
}

func actorOf(p models.Party) permissions.Actor {
	return permissions.Actor{ID: p.ID, Role: p.Role}
}

func sampleData(batch string) models.RequestData {
	return models.RequestData{
		BatchID:          batch,
		HydrogenProduced: 1250.5,
		EnergySource:     models.EnergyWind,
		ProductionPeriod: models.ProductionPeriod{
			StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC),
		},
		PlantLocation: models.PlantLocation{Name: "Coastal Electrolysis", Latitude: 53.55, Longitude: 9.99, Country: "DE"},
		EnergySourceDetails: models.EnergySourceDetails{
			Capacity:            20,
			Efficiency:          68.5,
			RenewablePercentage: 100,
		},
	}
}

func (e *serviceEnv) submit(t *testing.T, batch string) *models.CreditRequest {
	t.Helper()
	req, err := e.requests.Create(context.Background(), actorOf(producerA), CreateRequestInput{
		CertifierID: certifierA.ID,
		Data:        sampleData(batch),
	})
	require.NoError(t, err)
	return req
}

func (e *serviceEnv) approve(t *testing.T, requestID string, amount int64) *models.CreditRequest {
	t.Helper()
	req, err := e.reviews.Approve(context.Background(), actorOf(certifierA), requestID, ApproveInput{
		Notes:        "verified",
		CreditAmount: decimal.NewFromInt(amount),
	})
	require.NoError(t, err)
	return req
}

// issuedCredit submits, approves and returns the credit minted for producerA.
func (e *serviceEnv) issuedCredit(t *testing.T, batch string, amount int64) *models.Credit {
	t.Helper()
	req := e.approve(t, e.submit(t, batch).RequestID, amount)
	credit, err := e.credits.Get(context.Background(), actorOf(producerA), req.CreditDetails.CreditID)
	require.NoError(t, err)
	return credit
}
