package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medops/hospital-reservations/internal/auth"
	"github.com/medops/hospital-reservations/internal/outbox"
	"github.com/medops/hospital-reservations/internal/slot"
)

// fakeRepo serializes writers per slot with a mutex, mirroring the row lock,
// and stages tx mutations so a failing fn leaves no partial state behind.
type fakeRepo struct {
	mu        sync.Mutex
	slotLocks map[uuid.UUID]*sync.Mutex
	slots     map[uuid.UUID]*slot.Slot
	appts     map[uuid.UUID]*Appointment
	events    []outbox.Event
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		slotLocks: make(map[uuid.UUID]*sync.Mutex),
		slots:     make(map[uuid.UUID]*slot.Slot),
		appts:     make(map[uuid.UUID]*Appointment),
	}
}

func (f *fakeRepo) addSlot(s slot.Slot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[s.ID] = &s
	f.slotLocks[s.ID] = &sync.Mutex{}
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) Search(_ context.Context, filter Filter, limit, offset int, _ string, _ bool) ([]Appointment, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []Appointment
	for _, a := range f.appts {
		if filter.PatientID != nil && a.PatientID != *filter.PatientID {
			continue
		}
		if filter.DoctorID != nil && a.DoctorID != *filter.DoctorID {
			continue
		}
		if filter.DepartmentCode != "" && a.DepartmentCode != filter.DepartmentCode {
			continue
		}
		result = append(result, *a)
	}

	total := len(result)
	if offset >= len(result) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], total, nil
}

func (f *fakeRepo) WithSlotLease(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context, tx Tx, locked *slot.Slot) error) error {
	f.mu.Lock()
	lock, ok := f.slotLocks[slotID]
	f.mu.Unlock()
	if !ok {
		return slot.ErrSlotNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	f.mu.Lock()
	locked := *f.slots[slotID]
	f.mu.Unlock()

	tx := &fakeTx{repo: f}
	if err := fn(ctx, tx, &locked); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range tx.staged {
		op()
	}
	return nil
}

func (f *fakeRepo) slotStatus(id uuid.UUID) slot.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[id].Status
}

func (f *fakeRepo) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		types = append(types, ev.EventType)
	}
	return types
}

// fakeTx checks compare-and-set conditions at call time (writers of a slot
// are already serialized by the lease) and applies writes on commit only.
type fakeTx struct {
	repo   *fakeRepo
	staged []func()
}

func (t *fakeTx) CreateAppointment(_ context.Context, a *Appointment) error {
	cp := *a
	t.staged = append(t.staged, func() {
		t.repo.appts[cp.ID] = &cp
	})
	return nil
}

func (t *fakeTx) MarkCancelled(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	a, ok := t.repo.appts[id]
	if !ok || a.Status != StatusBooked {
		return false, nil
	}
	cancelledAt := at
	t.staged = append(t.staged, func() {
		a.Status = StatusCancelled
		a.CancelledAt = &cancelledAt
	})
	return true, nil
}

func (t *fakeTx) UpdateSlotStatus(_ context.Context, slotID uuid.UUID, from, to slot.Status) (bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	s, ok := t.repo.slots[slotID]
	if !ok || s.Status != from {
		return false, nil
	}
	t.staged = append(t.staged, func() {
		s.Status = to
	})
	return true, nil
}

func (t *fakeTx) AppendEvent(_ context.Context, ev outbox.Event) error {
	t.staged = append(t.staged, func() {
		t.repo.events = append(t.repo.events, ev)
	})
	return nil
}

func availableSlot() slot.Slot {
	start := time.Now().Add(24 * time.Hour)
	return slot.Slot{
		ID:             uuid.New(),
		DoctorID:       uuid.New(),
		DepartmentCode: "CARDIO",
		Mode:           slot.ModeInPerson,
		StartAt:        start,
		EndAt:          start.Add(30 * time.Minute),
		Status:         slot.StatusAvailable,
	}
}

func adminCaller() auth.Caller {
	return auth.Caller{Subject: "admin-1", Role: auth.RoleAdmin}
}

func patientCaller(id uuid.UUID) auth.Caller {
	return auth.Caller{Subject: "patient-" + id.String(), Role: auth.RolePatient, PatientID: &id}
}

func TestBookFlipsSlotAndCreatesAppointment(t *testing.T) {
	repo := newFakeRepo()
	s := availableSlot()
	repo.addSlot(s)
	svc := NewService(repo)

	patientID := uuid.New()
	appt, err := svc.Book(context.Background(), s.ID, &patientID, "checkup", adminCaller())
	require.NoError(t, err)

	assert.Equal(t, StatusBooked, appt.Status)
	assert.Equal(t, s.ID, appt.SlotID)
	assert.Equal(t, patientID, appt.PatientID)
	assert.Equal(t, s.DoctorID, appt.DoctorID)
	assert.Equal(t, s.DepartmentCode, appt.DepartmentCode)
	assert.Equal(t, s.StartAt, appt.StartAt)
	assert.Equal(t, s.EndAt, appt.EndAt)

	assert.Equal(t, slot.StatusBooked, repo.slotStatus(s.ID))
	assert.Equal(t, []string{EventAppointmentBooked}, repo.eventTypes())
}

func TestBookSecondAttemptConflictsAndLeavesStateUnchanged(t *testing.T) {
	repo := newFakeRepo()
	s := availableSlot()
	repo.addSlot(s)
	svc := NewService(repo)

	first := uuid.New()
	_, err := svc.Book(context.Background(), s.ID, &first, "", adminCaller())
	require.NoError(t, err)

	apptCount := len(repo.appts)
	eventCount := len(repo.events)

	second := uuid.New()
	_, err = svc.Book(context.Background(), s.ID, &second, "", adminCaller())
	require.ErrorIs(t, err, ErrSlotNotAvailable)

	assert.Equal(t, slot.StatusBooked, repo.slotStatus(s.ID))
	assert.Len(t, repo.appts, apptCount)
	assert.Len(t, repo.events, eventCount)
}

func TestBookUnknownSlot(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	patientID := uuid.New()
	_, err := svc.Book(context.Background(), uuid.New(), &patientID, "", adminCaller())
	require.ErrorIs(t, err, slot.ErrSlotNotFound)
}

func TestBookConcurrentExactlyOneWins(t *testing.T) {
	repo := newFakeRepo()
	s := availableSlot()
	repo.addSlot(s)
	svc := NewService(repo)

	const attempts = 64

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			patientID := uuid.New()
			_, errs[i] = svc.Book(context.Background(), s.ID, &patientID, "", adminCaller())
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		default:
			require.ErrorIs(t, err, ErrSlotNotAvailable)
			conflicts++
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, conflicts)
	assert.Len(t, repo.appts, 1)
	assert.Equal(t, slot.StatusBooked, repo.slotStatus(s.ID))
	assert.Equal(t, []string{EventAppointmentBooked}, repo.eventTypes())
}

func TestBookPatientIdentityRules(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	own := uuid.New()
	other := uuid.New()

	t.Run("admin must supply patient id", func(t *testing.T) {
		_, err := svc.Book(ctx, uuid.New(), nil, "", adminCaller())
		require.ErrorIs(t, err, ErrPatientRequired)
	})

	t.Run("patient cannot book for someone else", func(t *testing.T) {
		_, err := svc.Book(ctx, uuid.New(), &other, "", patientCaller(own))
		require.ErrorIs(t, err, ErrPatientMismatch)
	})

	t.Run("patient books self without explicit id", func(t *testing.T) {
		s := availableSlot()
		repo.addSlot(s)
		appt, err := svc.Book(ctx, s.ID, nil, "", patientCaller(own))
		require.NoError(t, err)
		assert.Equal(t, own, appt.PatientID)
	})

	t.Run("doctor cannot book", func(t *testing.T) {
		docID := uuid.New()
		caller := auth.Caller{Role: auth.RoleDoctor, DoctorID: &docID}
		_, err := svc.Book(ctx, uuid.New(), &other, "", caller)
		require.ErrorIs(t, err, auth.ErrAccessDenied)
	})
}

func TestCancelFreesSlotAndIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	s := availableSlot()
	repo.addSlot(s)
	svc := NewService(repo)

	patientID := uuid.New()
	appt, err := svc.Book(context.Background(), s.ID, &patientID, "", adminCaller())
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), appt.ID, patientCaller(patientID)))

	got, err := repo.GetByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
	assert.Equal(t, slot.StatusAvailable, repo.slotStatus(s.ID))
	assert.Equal(t, []string{EventAppointmentBooked, EventAppointmentCancelled}, repo.eventTypes())

	// Second cancel: same end state, no extra event.
	require.NoError(t, svc.Cancel(context.Background(), appt.ID, patientCaller(patientID)))
	assert.Equal(t, []string{EventAppointmentBooked, EventAppointmentCancelled}, repo.eventTypes())
	assert.Equal(t, slot.StatusAvailable, repo.slotStatus(s.ID))
}

func TestCancelLeavesIndependentlyCancelledSlotAlone(t *testing.T) {
	repo := newFakeRepo()
	s := availableSlot()
	repo.addSlot(s)
	svc := NewService(repo)

	patientID := uuid.New()
	appt, err := svc.Book(context.Background(), s.ID, &patientID, "", adminCaller())
	require.NoError(t, err)

	// Slot cancelled out of band while the appointment was live.
	repo.mu.Lock()
	repo.slots[s.ID].Status = slot.StatusCancelled
	repo.mu.Unlock()

	require.NoError(t, svc.Cancel(context.Background(), appt.ID, adminCaller()))
	assert.Equal(t, slot.StatusCancelled, repo.slotStatus(s.ID))
}

func TestCancelAuthorization(t *testing.T) {
	repo := newFakeRepo()
	s := availableSlot()
	repo.addSlot(s)
	svc := NewService(repo)

	patientID := uuid.New()
	appt, err := svc.Book(context.Background(), s.ID, &patientID, "", adminCaller())
	require.NoError(t, err)

	stranger := uuid.New()
	err = svc.Cancel(context.Background(), appt.ID, patientCaller(stranger))
	require.ErrorIs(t, err, auth.ErrAccessDenied)

	err = svc.Cancel(context.Background(), uuid.New(), adminCaller())
	require.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestSearchRoleRestrictions(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	p1, p2 := uuid.New(), uuid.New()
	doc := uuid.New()

	for _, a := range []Appointment{
		{ID: uuid.New(), PatientID: p1, DoctorID: doc, Status: StatusBooked},
		{ID: uuid.New(), PatientID: p2, DoctorID: doc, Status: StatusBooked},
		{ID: uuid.New(), PatientID: p2, DoctorID: uuid.New(), Status: StatusBooked},
	} {
		cp := a
		repo.appts[a.ID] = &cp
	}

	t.Run("admin sees everything", func(t *testing.T) {
		_, total, err := svc.Search(ctx, Filter{}, 10, 0, "", adminCaller())
		require.NoError(t, err)
		assert.Equal(t, 3, total)
	})

	t.Run("patient restricted to self even with foreign filter", func(t *testing.T) {
		items, total, err := svc.Search(ctx, Filter{PatientID: &p2}, 10, 0, "", patientCaller(p1))
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, items, 1)
		assert.Equal(t, p1, items[0].PatientID)
	})

	t.Run("doctor restricted to own schedule", func(t *testing.T) {
		caller := auth.Caller{Role: auth.RoleDoctor, DoctorID: &doc}
		_, total, err := svc.Search(ctx, Filter{}, 10, 0, "", caller)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})

	t.Run("staff rejected", func(t *testing.T) {
		_, _, err := svc.Search(ctx, Filter{}, 10, 0, "", auth.Caller{Role: auth.RoleStaff})
		require.ErrorIs(t, err, auth.ErrAccessDenied)
	})

	t.Run("bad sort field", func(t *testing.T) {
		_, _, err := svc.Search(ctx, Filter{}, 10, 0, "slot_id", adminCaller())
		require.ErrorIs(t, err, ErrInvalidSort)
	})
}
