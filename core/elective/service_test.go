package elective_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrXof/ElectiveFlow/core"
	"github.com/MrXof/ElectiveFlow/core/elective"
	"github.com/MrXof/ElectiveFlow/core/user"
	appfs "github.com/MrXof/ElectiveFlow/fs"
	emailsvc "github.com/MrXof/ElectiveFlow/services/email"
	logsvc "github.com/MrXof/ElectiveFlow/services/logger"
	inmemdb "github.com/MrXof/ElectiveFlow/storage/database/inmem"
	testutil "github.com/MrXof/ElectiveFlow/tests"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// clock ticks one minute on every read.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(time.Minute)
	return t
}

type fixture struct {
	ctx      context.Context
	repo     elective.Repository
	users    user.Repository
	svc      *elective.Service
	mail     *emailsvc.ConsoleServiceMock
	clock    *clock
	teacher  user.User
	students []user.User
}

func newFixture(t *testing.T, nStudents int) *fixture {
	t.Helper()
	conf := core.NewTestConfig()

	tmpls, err := core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf.FrontendBaseURL, true)
	require.NoError(t, err)

	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	logger.Enable(false)

	db := inmemdb.NewDB()
	f := &fixture{
		ctx:   context.Background(),
		repo:  inmemdb.NewElectiveRepository(db),
		users: inmemdb.NewUserRepository(db),
		mail:  emailsvc.NewConsoleServiceMock(conf, tmpls),
		clock: &clock{now: base},
	}
	f.svc = elective.NewService(conf, f.repo, inmemdb.NewAnalyticsRepository(db), f.mail, logger)
	t.Cleanup(elective.SetNowFunc(f.clock.Now))

	f.teacher = testutil.CreateUser(t, f.users, "Grace", "grace@test.test", "pwd", []string{user.RoleTeacher}, true)
	for i := 0; i < nStudents; i++ {
		name := string(rune('A' + i))
		usr := testutil.CreateUser(t, f.users, name, name+"@test.test", "pwd", []string{user.RoleStudent}, true)
		f.students = append(f.students, usr)
	}
	return f
}

func (f *fixture) offering(t *testing.T, capacity int, policy elective.Policy, opts ...testutil.OfferingOption) elective.Offering {
	t.Helper()
	opts = append([]testutil.OfferingOption{
		testutil.WithRegistrationWindow(base.AddDate(0, 0, -1), base.AddDate(0, 0, 10)),
	}, opts...)
	return testutil.CreateOffering(t, f.repo, f.teacher, "Robotics", capacity, policy, opts...)
}

func (f *fixture) register(t *testing.T, offeringID string, student user.User, priority ...int) elective.Registration {
	t.Helper()
	var nr elective.NewRegistration
	if len(priority) > 0 {
		nr.Priority = &priority[0]
	}
	reg, err := f.svc.Register(f.ctx, offeringID, student, nr)
	require.NoError(t, err)
	return reg
}

func groupOf(reg elective.Registration) int {
	if reg.Group == nil {
		return 0
	}
	return *reg.Group
}

func isValidationErr(err error) bool {
	_, ok := errors.Cause(err).(*core.ValidationError)
	return ok
}

func TestService_CreateOffering(t *testing.T) {
	f := newFixture(t, 1)
	groups := 3

	valid := elective.NewOffering{
		Name:              "Robotics",
		Description:       "Build robots",
		Period:            "2026 spring",
		Capacity:          30,
		Categories:        []string{"engineering"},
		Policy:            elective.PolicyUniform,
		NumberOfGroups:    &groups,
		RegistrationStart: base,
		RegistrationEnd:   base.AddDate(0, 0, 14),
	}
	tooManyGroups := valid
	fortyGroups := 40
	tooManyGroups.NumberOfGroups = &fortyGroups

	tests := []struct {
		name      string
		by        user.User
		data      elective.NewOffering
		wantValid bool
	}{
		{name: "by a student", by: f.students[0], data: valid},
		{name: "more groups than seats", by: f.teacher, data: tooManyGroups},
		{name: "valid", by: f.teacher, data: valid, wantValid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			off, err := f.svc.CreateOffering(f.ctx, tt.by, tt.data)
			if !tt.wantValid {
				assert.True(t, isValidationErr(err), "want ValidationError, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, off.ID)
			assert.Equal(t, f.teacher.ID, off.TeacherID)
			assert.Equal(t, 0, off.Enrolled)
			assert.Equal(t, 10, off.MaxPerGroup())
		})
	}
}

func TestService_UpdateOffering(t *testing.T) {
	f := newFixture(t, 0)
	off := f.offering(t, 10, elective.PolicyManual, testutil.WithGroups(2))

	zero, capacity := 0, 12
	updated, err := f.svc.UpdateOffering(f.ctx, off.ID, elective.UpdateOffering{
		Name:           "  Advanced Robotics ",
		Capacity:       &capacity,
		NumberOfGroups: &zero,
	})
	require.NoError(t, err)
	assert.Equal(t, "Advanced Robotics", updated.Name)
	assert.Equal(t, 12, updated.Capacity)
	assert.Nil(t, updated.NumberOfGroups)
	assert.Equal(t, off.Description, updated.Description)

	_, err = f.svc.UpdateOffering(f.ctx, "unknown", elective.UpdateOffering{})
	assert.Equal(t, elective.ErrNotFound, errors.Cause(err))
}

func TestService_UpdateOffering_releasesStrandedRegistrations(t *testing.T) {
	f := newFixture(t, 3)
	off := f.offering(t, 9, elective.PolicyUniform, testutil.WithGroups(3))

	regs := make([]elective.Registration, 0, len(f.students))
	for _, s := range f.students {
		regs = append(regs, f.register(t, off.ID, s))
	}
	require.Equal(t, 3, groupOf(regs[2]))

	two := 2
	_, err := f.svc.UpdateOffering(f.ctx, off.ID, elective.UpdateOffering{NumberOfGroups: &two})
	require.NoError(t, err)

	c, err := f.svc.GetRegistration(f.ctx, regs[2].ID)
	require.NoError(t, err)
	assert.Nil(t, c.Group)
	assert.Equal(t, elective.StatusPending, c.Status)
	a, err := f.svc.GetRegistration(f.ctx, regs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, groupOf(a))
	assert.Equal(t, elective.StatusConfirmed, a.Status)

	placed, err := f.svc.AutoDistribute(f.ctx, off.ID)
	require.NoError(t, err)
	require.Len(t, placed, 1)
	assert.Equal(t, regs[2].ID, placed[0].ID)

	zero := 0
	_, err = f.svc.UpdateOffering(f.ctx, off.ID, elective.UpdateOffering{NumberOfGroups: &zero})
	require.NoError(t, err)
	grouped, err := f.svc.QueryRegistrations(f.ctx, elective.RegistrationFilter{OfferingID: off.ID, Status: elective.StatusConfirmed})
	require.NoError(t, err)
	assert.Empty(t, grouped)
}

func TestService_ReassignTeacher(t *testing.T) {
	f := newFixture(t, 1)
	off := f.offering(t, 10, elective.PolicyManual)
	ada := testutil.CreateUser(t, f.users, "Ada", "ada@test.test", "pwd", []string{user.RoleTeacher}, true)

	updated, err := f.svc.ReassignTeacher(f.ctx, off.ID, ada)
	require.NoError(t, err)
	assert.Equal(t, ada.ID, updated.TeacherID)
	assert.Equal(t, "Ada", updated.TeacherName)

	stored, err := f.svc.GetOffering(f.ctx, off.ID)
	require.NoError(t, err)
	assert.Equal(t, ada.ID, stored.TeacherID)

	_, err = f.svc.ReassignTeacher(f.ctx, off.ID, f.students[0])
	assert.True(t, isValidationErr(err))

	_, err = f.svc.ReassignTeacher(f.ctx, "unknown", ada)
	assert.Equal(t, elective.ErrNotFound, errors.Cause(err))
}

func TestService_Register_uniform(t *testing.T) {
	f := newFixture(t, 3)
	off := f.offering(t, 4, elective.PolicyUniform, testutil.WithGroups(2))

	var groups []int
	for _, s := range f.students {
		reg := f.register(t, off.ID, s)
		assert.Equal(t, elective.StatusConfirmed, reg.Status)
		groups = append(groups, groupOf(reg))
	}
	assert.Equal(t, []int{1, 2, 1}, groups)

	off, err := f.svc.GetOffering(f.ctx, off.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, off.Enrolled)

	sent := f.mail.SentMessages()
	require.Len(t, sent, 3)
	assert.Equal(t, f.students[0].Email, sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "placed in group 1")
}

func TestService_Register_uniformGroupsFull(t *testing.T) {
	f := newFixture(t, 5)
	// 5 seats over 2 groups of at most 2
	off := f.offering(t, 5, elective.PolicyUniform, testutil.WithGroups(2))

	regs := make([]elective.Registration, 0, len(f.students))
	for _, s := range f.students {
		regs = append(regs, f.register(t, off.ID, s))
	}
	last := regs[4]
	assert.Equal(t, elective.StatusPending, last.Status)
	assert.Nil(t, last.Group)

	stored, err := f.svc.QueryRegistrations(f.ctx, elective.RegistrationFilter{OfferingID: off.ID})
	require.NoError(t, err)
	sizes := make(map[int]int)
	for _, reg := range stored {
		sizes[groupOf(reg)]++
	}
	assert.Equal(t, map[int]int{0: 1, 1: 2, 2: 2}, sizes)

	off, err = f.svc.GetOffering(f.ctx, off.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, off.Enrolled)

	_, err = f.svc.ReassignGroups(f.ctx, off.ID, elective.Changeset{})
	assert.NoError(t, err)

	res, err := f.svc.Optimize(f.ctx, off.ID, false)
	require.NoError(t, err)
	sizes = make(map[int]int)
	for _, reg := range res.Registrations {
		sizes[groupOf(reg)]++
	}
	assert.LessOrEqual(t, sizes[1], 2)
	assert.LessOrEqual(t, sizes[2], 2)
}

func TestService_Register_lastSeatConcurrently(t *testing.T) {
	f := newFixture(t, 8)
	off := f.offering(t, 1, elective.PolicyUniform)

	var wg sync.WaitGroup
	errs := make(chan error, len(f.students))
	for _, s := range f.students {
		wg.Add(1)
		go func(s user.User) {
			defer wg.Done()
			_, err := f.svc.Register(f.ctx, off.ID, s, elective.NewRegistration{})
			errs <- err
		}(s)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	off, err := f.svc.GetOffering(f.ctx, off.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, off.Enrolled)

	waitlisted, err := f.svc.QueryRegistrations(f.ctx, elective.RegistrationFilter{OfferingID: off.ID, Status: elective.StatusWaitlisted})
	require.NoError(t, err)
	assert.Len(t, waitlisted, len(f.students)-1)
}

func TestService_Register_rejections(t *testing.T) {
	f := newFixture(t, 1)
	student := f.students[0]
	open := f.offering(t, 10, elective.PolicyPriority)
	closed := testutil.CreateOffering(t, f.repo, f.teacher, "Closed", 10, elective.PolicyPriority,
		testutil.WithRegistrationWindow(base.AddDate(0, 0, -10), base.AddDate(0, 0, -5)))

	reg := f.register(t, open.ID, student, 1)
	assert.Equal(t, elective.StatusPending, reg.Status)
	assert.Nil(t, reg.Group)

	zero := 0
	tests := []struct {
		name    string
		offID   string
		usr     user.User
		data    elective.NewRegistration
		wantErr func(err error) bool
	}{
		{
			name: "already registered", offID: open.ID, usr: student,
			wantErr: func(err error) bool { return errors.Cause(err) == elective.ErrAlreadyRegistered },
		},
		{
			name: "unknown elective", offID: "unknown", usr: student,
			wantErr: func(err error) bool { return errors.Cause(err) == elective.ErrNotFound },
		},
		{name: "registration closed", offID: closed.ID, usr: student, wantErr: isValidationErr},
		{name: "not a student", offID: open.ID, usr: f.teacher, wantErr: isValidationErr},
		{
			name: "invalid priority", offID: closed.ID, usr: student, data: elective.NewRegistration{Priority: &zero},
			wantErr: func(err error) bool { return errors.Cause(err) == elective.ErrInvalidArgument },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(f.ctx, tt.offID, tt.usr, tt.data)
			assert.True(t, tt.wantErr(err), "unexpected error: %v", err)
		})
	}
}

func TestService_waitlist(t *testing.T) {
	f := newFixture(t, 3)
	off := f.offering(t, 1, elective.PolicyUniform)

	first := f.register(t, off.ID, f.students[0])
	second := f.register(t, off.ID, f.students[1])
	third := f.register(t, off.ID, f.students[2])
	assert.Equal(t, elective.StatusPending, first.Status)
	assert.Equal(t, elective.StatusWaitlisted, second.Status)
	assert.Equal(t, elective.StatusWaitlisted, third.Status)

	off, err := f.svc.GetOffering(f.ctx, off.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, off.Enrolled)

	// unregistering a waitlisted student frees no seat
	require.NoError(t, f.svc.Unregister(f.ctx, third.ID))
	off, _ = f.svc.GetOffering(f.ctx, off.ID)
	assert.Equal(t, 1, off.Enrolled)

	// the earliest waitlisted student takes the freed seat
	require.NoError(t, f.svc.Unregister(f.ctx, first.ID))
	promoted, err := f.svc.GetRegistration(f.ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, elective.StatusPending, promoted.Status)
	off, _ = f.svc.GetOffering(f.ctx, off.ID)
	assert.Equal(t, 1, off.Enrolled)

	err = f.svc.Unregister(f.ctx, first.ID)
	assert.Equal(t, elective.ErrRegistrationNotFound, errors.Cause(err))
}

func TestService_Optimize(t *testing.T) {
	f := newFixture(t, 4)
	off := f.offering(t, 4, elective.PolicyPriority, testutil.WithGroups(2))

	f.register(t, off.ID, f.students[0], 2)
	f.register(t, off.ID, f.students[1], 1)
	f.register(t, off.ID, f.students[2])
	f.register(t, off.ID, f.students[3], 3)

	preview, err := f.svc.Optimize(f.ctx, off.ID, false)
	require.NoError(t, err)
	assert.False(t, preview.Applied)
	assert.Equal(t, 0.0, preview.BalanceCoefficient)

	got := make(map[string]int)
	for _, reg := range preview.Registrations {
		got[reg.StudentName] = groupOf(reg)
		assert.Equal(t, elective.StatusConfirmed, reg.Status)
	}
	assert.Equal(t, map[string]int{"B": 1, "A": 2, "D": 1, "C": 2}, got)

	stored, err := f.svc.QueryRegistrations(f.ctx, elective.RegistrationFilter{OfferingID: off.ID, Status: elective.StatusPending})
	require.NoError(t, err)
	assert.Len(t, stored, 4, "preview must not save anything")

	applied, err := f.svc.Optimize(f.ctx, off.ID, true)
	require.NoError(t, err)
	assert.True(t, applied.Applied)
	stored, err = f.svc.QueryRegistrations(f.ctx, elective.RegistrationFilter{OfferingID: off.ID, Status: elective.StatusConfirmed})
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	noGroups := f.offering(t, 4, elective.PolicyPriority)
	_, err = f.svc.Optimize(f.ctx, noGroups.ID, false)
	assert.True(t, isValidationErr(err))
}

func TestService_ReassignAndAutoDistribute(t *testing.T) {
	f := newFixture(t, 3)
	off := f.offering(t, 4, elective.PolicyManual, testutil.WithGroups(2))

	regs := make([]elective.Registration, 0, len(f.students))
	for _, s := range f.students {
		regs = append(regs, f.register(t, off.ID, s))
	}

	one, two := 1, 2
	_, err := f.svc.ReassignGroups(f.ctx, off.ID, elective.Changeset{
		regs[0].ID: &one, regs[1].ID: &one, regs[2].ID: &one,
	})
	assert.True(t, isValidationErr(err), "group 1 holds at most 2 students")

	changed, err := f.svc.ReassignGroups(f.ctx, off.ID, elective.Changeset{regs[0].ID: &two})
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, 2, groupOf(changed[0]))

	placed, err := f.svc.AutoDistribute(f.ctx, off.ID)
	require.NoError(t, err)
	require.Len(t, placed, 2)
	assert.Equal(t, 1, groupOf(placed[0]))
	assert.Equal(t, 1, groupOf(placed[1]))

	placed, err = f.svc.AutoDistribute(f.ctx, off.ID)
	require.NoError(t, err)
	assert.Empty(t, placed)

	noGroups := f.offering(t, 4, elective.PolicyManual)
	placed, err = f.svc.AutoDistribute(f.ctx, noGroups.ID)
	require.NoError(t, err)
	assert.Empty(t, placed)
}

func TestService_Analytics(t *testing.T) {
	f := newFixture(t, 6)
	off := f.offering(t, 10, elective.PolicyUniform, testutil.WithGroups(2))

	// 1, 2 & 3 registrations on three consecutive days
	idx := 0
	for day := 0; day < 3; day++ {
		f.clock.now = base.AddDate(0, 0, day)
		for i := 0; i <= day; i++ {
			f.register(t, off.ID, f.students[idx])
			idx++
		}
	}

	res, err := f.svc.Analytics(f.ctx, off.ID, 0)
	require.NoError(t, err)
	require.Len(t, res.Daily, 3)
	assert.Equal(t, elective.DailyCount{Day: core.StartOfDay(base), Count: 1}, res.Daily[0])
	assert.Equal(t, 3, res.Daily[2].Count)
	require.NotNil(t, res.PredictedFinal)
	assert.Equal(t, 15, *res.PredictedFinal)
	require.NotNil(t, res.Balance)
	assert.Equal(t, 0.0, res.Balance.Coefficient)

	// a 1 day window starts yesterday
	res, err = f.svc.Analytics(f.ctx, off.ID, 1)
	require.NoError(t, err)
	assert.Len(t, res.Daily, 2)

	empty := f.offering(t, 10, elective.PolicyManual)
	res, err = f.svc.Analytics(f.ctx, empty.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Daily)
	assert.Nil(t, res.PredictedFinal)
	assert.Nil(t, res.Balance)
}

func TestService_Recommend(t *testing.T) {
	f := newFixture(t, 1)
	student := f.students[0]
	student.Interests = []string{"math", "music"}

	music := f.offering(t, 10, elective.PolicyManual, testutil.WithCategories("music"))
	both := f.offering(t, 10, elective.PolicyManual, testutil.WithCategories("math", "music"))
	f.offering(t, 10, elective.PolicyManual, testutil.WithCategories("sport"))

	recs, err := f.svc.Recommend(f.ctx, student, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, both.ID, recs[0].ID)
	assert.Equal(t, music.ID, recs[1].ID)

	recs, err = f.svc.Recommend(f.ctx, student, 1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestService_ExportRegistrations(t *testing.T) {
	f := newFixture(t, 3)
	off := f.offering(t, 10, elective.PolicyManual, testutil.WithGroups(2))

	regs := make([]elective.Registration, 0, len(f.students))
	for _, s := range f.students {
		regs = append(regs, f.register(t, off.ID, s, 1))
	}
	one, two := 1, 2
	_, err := f.svc.ReassignGroups(f.ctx, off.ID, elective.Changeset{regs[0].ID: &two, regs[2].ID: &one})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.svc.ExportRegistrations(f.ctx, off.ID, &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"id", "student_id", "student_name", "registered_at", "priority", "group", "status"}, rows[0])
	assert.Equal(t, []string{"C", "1", "confirmed"}, []string{rows[1][2], rows[1][5], rows[1][6]})
	assert.Equal(t, []string{"A", "2", "confirmed"}, []string{rows[2][2], rows[2][5], rows[2][6]})
	assert.Equal(t, []string{"B", "", "pending"}, []string{rows[3][2], rows[3][5], rows[3][6]})
	assert.Equal(t, regs[1].RegisteredAt.Format(time.RFC3339), rows[3][3])
}

func TestService_DeleteOffering(t *testing.T) {
	f := newFixture(t, 1)
	off := f.offering(t, 10, elective.PolicyUniform)
	reg := f.register(t, off.ID, f.students[0])

	require.NoError(t, f.svc.DeleteOffering(f.ctx, off.ID))

	_, err := f.svc.GetOffering(f.ctx, off.ID)
	assert.Equal(t, elective.ErrNotFound, errors.Cause(err))
	_, err = f.svc.GetRegistration(f.ctx, reg.ID)
	assert.Equal(t, elective.ErrRegistrationNotFound, errors.Cause(err))

	res, err := f.svc.Analytics(f.ctx, off.ID, 0)
	assert.Equal(t, elective.ErrNotFound, errors.Cause(err))
	assert.Empty(t, res.Daily)

	assert.Equal(t, elective.ErrNotFound, errors.Cause(f.svc.DeleteOffering(f.ctx, off.ID)))
}
