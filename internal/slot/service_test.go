package slot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medops/hospital-reservations/internal/auth"
	"github.com/medops/hospital-reservations/internal/outbox"
)

type fakeRepo struct {
	mu        sync.Mutex
	slots     map[uuid.UUID]*Slot
	slotLocks map[uuid.UUID]*sync.Mutex
	events    []outbox.Event

	leaseCalls      int // number of WithSlotLease acquisitions
	failCreateAfter int // n > 0 makes the n+1th CreateSlot in a tx fail
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		slots:     make(map[uuid.UUID]*Slot),
		slotLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (f *fakeRepo) add(s *Slot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[s.ID] = s
	f.slotLocks[s.ID] = &sync.Mutex{}
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRepo) SearchAvailable(_ context.Context, filter Filter, limit, offset int, _ string, _ bool) ([]Slot, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []Slot
	for _, s := range f.slots {
		if s.Status != StatusAvailable {
			continue
		}
		if filter.DepartmentCode != "" && s.DepartmentCode != filter.DepartmentCode {
			continue
		}
		if filter.DoctorID != nil && s.DoctorID != *filter.DoctorID {
			continue
		}
		result = append(result, *s)
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

func (f *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &fakeTx{repo: f}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range tx.staged {
		op()
	}
	return nil
}

func (f *fakeRepo) WithSlotLease(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context, tx Tx, locked *Slot) error) error {
	f.mu.Lock()
	f.leaseCalls++
	lock, ok := f.slotLocks[slotID]
	f.mu.Unlock()
	if !ok {
		return ErrSlotNotFound
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

func (f *fakeRepo) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		types = append(types, ev.EventType)
	}
	return types
}

type fakeTx struct {
	repo    *fakeRepo
	staged  []func()
	creates int
}

func (t *fakeTx) CreateSlot(_ context.Context, s *Slot) error {
	t.creates++
	if t.repo.failCreateAfter > 0 && t.creates > t.repo.failCreateAfter {
		return errors.New("insert failed")
	}
	cp := *s
	t.staged = append(t.staged, func() {
		t.repo.slots[cp.ID] = &cp
		t.repo.slotLocks[cp.ID] = &sync.Mutex{}
	})
	return nil
}

func (t *fakeTx) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	s, ok := t.repo.slots[id]
	if !ok || s.Status != from {
		return false, nil
	}
	t.staged = append(t.staged, func() {
		s.Status = to
		s.UpdatedAt = time.Now()
	})
	return true, nil
}

func (t *fakeTx) AppendEvent(_ context.Context, ev outbox.Event) error {
	t.staged = append(t.staged, func() {
		t.repo.events = append(t.repo.events, ev)
	})
	return nil
}

func adminCaller() auth.Caller {
	return auth.Caller{Subject: "admin-1", Role: auth.RoleAdmin}
}

func doctorCaller(doctorID uuid.UUID) auth.Caller {
	return auth.Caller{Subject: "doc-1", Role: auth.RoleDoctor, DoctorID: &doctorID}
}

func validInput(doctorID uuid.UUID) CreateInput {
	start := time.Now().Add(24 * time.Hour).Truncate(time.Minute)
	return CreateInput{
		DoctorID:       doctorID,
		DepartmentCode: "CARDIO",
		Mode:           ModeInPerson,
		StartAt:        start,
		EndAt:          start.Add(30 * time.Minute),
	}
}

func TestCreateSlot(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, auth.NewDepartmentACL())
	ctx := context.Background()

	doc := uuid.New()
	created, err := svc.Create(ctx, validInput(doc), doctorCaller(doc))
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, created.Status)
	assert.Equal(t, doc, created.DoctorID)
	assert.Equal(t, []string{EventSlotCreated}, repo.eventTypes())

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestCreateSlotRejectsInvertedTimeRange(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, auth.NewDepartmentACL())

	doc := uuid.New()
	in := validInput(doc)
	in.StartAt, in.EndAt = in.EndAt, in.StartAt

	_, err := svc.Create(context.Background(), in, doctorCaller(doc))
	require.ErrorIs(t, err, ErrInvalidTimeRange)

	// Zero-length slots are rejected too.
	in = validInput(doc)
	in.EndAt = in.StartAt
	_, err = svc.Create(context.Background(), in, doctorCaller(doc))
	require.ErrorIs(t, err, ErrInvalidTimeRange)
}

func TestCreateSlotAuthorization(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, auth.NewDepartmentACL())
	ctx := context.Background()

	owner := uuid.New()
	other := uuid.New()

	t.Run("doctor creates own slot", func(t *testing.T) {
		_, err := svc.Create(ctx, validInput(owner), doctorCaller(owner))
		require.NoError(t, err)
	})

	t.Run("doctor cannot create for another doctor", func(t *testing.T) {
		_, err := svc.Create(ctx, validInput(other), doctorCaller(owner))
		require.ErrorIs(t, err, auth.ErrAccessDenied)
	})

	t.Run("staff with department authority can", func(t *testing.T) {
		staff := auth.Caller{Subject: "staff-1", Role: auth.RoleStaff, Departments: []string{"CARDIO"}}
		_, err := svc.Create(ctx, validInput(other), staff)
		require.NoError(t, err)
	})

	t.Run("admin can", func(t *testing.T) {
		_, err := svc.Create(ctx, validInput(other), adminCaller())
		require.NoError(t, err)
	})
}

func TestCreateBulk(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, auth.NewDepartmentACL())
	ctx := context.Background()

	doc := uuid.New()
	var inputs []CreateInput
	for i := 0; i < 3; i++ {
		in := validInput(doc)
		in.StartAt = in.StartAt.Add(time.Duration(i) * time.Hour)
		in.EndAt = in.EndAt.Add(time.Duration(i) * time.Hour)
		inputs = append(inputs, in)
	}

	created, err := svc.CreateBulk(ctx, inputs, doctorCaller(doc))
	require.NoError(t, err)
	assert.Len(t, created, 3)
	assert.Len(t, repo.eventTypes(), 3)
}

func TestCreateBulkEmpty(t *testing.T) {
	svc := NewService(newFakeRepo(), auth.NewDepartmentACL())
	_, err := svc.CreateBulk(context.Background(), nil, adminCaller())
	require.ErrorIs(t, err, ErrEmptyBulk)
}

func TestCreateBulkIsAllOrNothing(t *testing.T) {
	repo := newFakeRepo()
	repo.failCreateAfter = 2
	svc := NewService(repo, auth.NewDepartmentACL())

	doc := uuid.New()
	inputs := []CreateInput{validInput(doc), validInput(doc), validInput(doc)}

	_, err := svc.CreateBulk(context.Background(), inputs, doctorCaller(doc))
	require.Error(t, err)

	// The two successful inserts rolled back with the failed one.
	assert.Empty(t, repo.slots)
	assert.Empty(t, repo.eventTypes())
}

func TestCancelSlot(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, auth.NewDepartmentACL())
	ctx := context.Background()

	s := &Slot{ID: uuid.New(), DoctorID: uuid.New(), DepartmentCode: "CARDIO", Status: StatusAvailable}
	repo.add(s)

	require.NoError(t, svc.Cancel(ctx, s.ID, adminCaller()))

	got, err := svc.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, []string{EventSlotCancelled}, repo.eventTypes())

	// Repeat cancel is a no-op: no second event and no lock taken.
	leases := repo.leaseCalls
	require.NoError(t, svc.Cancel(ctx, s.ID, adminCaller()))
	assert.Equal(t, []string{EventSlotCancelled}, repo.eventTypes())
	assert.Equal(t, leases, repo.leaseCalls)
}

func TestCancelBookedSlotConflicts(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, auth.NewDepartmentACL())

	s := &Slot{ID: uuid.New(), DoctorID: uuid.New(), DepartmentCode: "CARDIO", Status: StatusBooked}
	repo.add(s)

	err := svc.Cancel(context.Background(), s.ID, adminCaller())
	require.ErrorIs(t, err, ErrSlotBooked)

	got, err := svc.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, got.Status)
}

func TestCancelUnknownSlot(t *testing.T) {
	svc := NewService(newFakeRepo(), auth.NewDepartmentACL())
	err := svc.Cancel(context.Background(), uuid.New(), adminCaller())
	require.ErrorIs(t, err, ErrSlotNotFound)
}

func TestSearchAvailableFiltersBookedOut(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, auth.NewDepartmentACL())

	doc := uuid.New()
	repo.add(&Slot{ID: uuid.New(), DoctorID: doc, DepartmentCode: "CARDIO", Status: StatusAvailable})
	repo.add(&Slot{ID: uuid.New(), DoctorID: doc, DepartmentCode: "CARDIO", Status: StatusBooked})
	repo.add(&Slot{ID: uuid.New(), DoctorID: uuid.New(), DepartmentCode: "NEURO", Status: StatusAvailable})

	_, total, err := svc.SearchAvailable(context.Background(), Filter{}, 10, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, total, err = svc.SearchAvailable(context.Background(), Filter{DoctorID: &doc}, 10, 0, "start_at:desc")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSearchAvailableRejectsUnknownSort(t *testing.T) {
	svc := NewService(newFakeRepo(), auth.NewDepartmentACL())

	_, _, err := svc.SearchAvailable(context.Background(), Filter{}, 10, 0, "doctor_id")
	require.ErrorIs(t, err, ErrInvalidSort)

	_, _, err = svc.SearchAvailable(context.Background(), Filter{}, 10, 0, "start_at; DROP TABLE slots")
	require.ErrorIs(t, err, ErrInvalidSort)
}

func TestParseSort(t *testing.T) {
	field, desc, err := parseSort("")
	require.NoError(t, err)
	assert.Equal(t, "start_at", field)
	assert.False(t, desc)

	field, desc, err = parseSort("created_at:desc")
	require.NoError(t, err)
	assert.Equal(t, "created_at", field)
	assert.True(t, desc)

	field, desc, err = parseSort("end_at:asc")
	require.NoError(t, err)
	assert.Equal(t, "end_at", field)
	assert.False(t, desc)
}
