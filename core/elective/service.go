package elective

import (
	"context"
	"net/mail"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/MrXof/ElectiveFlow/core"
	"github.com/MrXof/ElectiveFlow/core/user"
)

var (
	nowFunc = time.Now // mockable

	// errors
	ErrNotFound             = errors.New("elective not found")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrAlreadyRegistered    = errors.New("student already registered for this elective")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrNoGroups             = errors.New("elective has no groups configured")
	ErrGroupsFull           = errors.New("every group of the elective is full")
	errNotStudent           = errors.New("only students can register for electives")
	errNotTeacher           = errors.New("only teachers can manage electives")
	errRegistrationClosed   = errors.New("registration is closed for this elective")
)

type (
	// Repository persists offerings and registrations.
	Repository interface {
		CreateOffering(ctx context.Context, off Offering) (Offering, error)
		QueryOfferings(ctx context.Context, filter *OfferingFilter) ([]Offering, error)
		GetOffering(ctx context.Context, id string) (Offering, error)
		// UpdateOffering replaces the stored Offering; Enrolled is left untouched, see IncrementEnrolled.
		UpdateOffering(ctx context.Context, off Offering) (Offering, error)
		// DeleteOffering deletes the Offering and all its registrations.
		DeleteOffering(ctx context.Context, id string) error
		// IncrementEnrolled atomically adds delta to the Offering's enrolled count.
		IncrementEnrolled(ctx context.Context, id string, delta int) error
		// ReserveSeat atomically increments the enrolled count unless it already reached the capacity.
		// It reports whether a seat was taken.
		ReserveSeat(ctx context.Context, id string) (bool, error)

		CreateRegistration(ctx context.Context, reg Registration) (Registration, error)
		QueryRegistrations(ctx context.Context, filter RegistrationFilter) ([]Registration, error)
		GetRegistration(ctx context.Context, id string) (Registration, error)
		UpdateRegistrations(ctx context.Context, regs ...Registration) error
		DeleteRegistration(ctx context.Context, id string) error
	}

	// AnalyticsRepository persists the per-day registration counters of each Offering.
	AnalyticsRepository interface {
		// RecordDailyRegistration atomically increments the counter of the day `at` falls in,
		// creating it if needed.
		RecordDailyRegistration(ctx context.Context, offeringID string, at time.Time) error
		// QueryDailyCounts returns the counters of days in [from, to], ascending by day.
		QueryDailyCounts(ctx context.Context, offeringID string, from, to time.Time) ([]DailyCount, error)
		DeleteDailyCounts(ctx context.Context, offeringID string) error
	}

	Service struct {
		repo                Repository
		analytics           AnalyticsRepository
		mailSvc             core.EmailService
		logger              core.Logger
		forecastWindowDays  int
		recommendationLimit int
	}

	OptimizeResult struct {
		Registrations      []Registration `json:"registrations"`
		BalanceCoefficient float64        `json:"balance_coefficient"`
		Applied            bool           `json:"applied"`
	}
)

func NewService(conf *core.Config, repo Repository, analytics AnalyticsRepository, mailSvc core.EmailService, logger core.Logger) *Service {
	return &Service{
		repo:                repo,
		analytics:           analytics,
		mailSvc:             mailSvc,
		logger:              logger,
		forecastWindowDays:  conf.ForecastWindowDays,
		recommendationLimit: conf.RecommendationLimit,
	}
}

// ProfileOf builds the interest Profile of a user.
func ProfileOf(usr user.User) Profile {
	return Profile{Interests: usr.Interests}
}

func checkOffering(off Offering) error {
	var fldErrs []core.FieldError
	if off.Capacity < 1 {
		fldErrs = append(fldErrs, core.FieldError{Field: "capacity", Error: "capacity must be at least 1"})
	}
	if off.NumberOfGroups != nil && off.MaxPerGroup() < 1 {
		fldErrs = append(fldErrs, core.FieldError{Field: "number_of_groups", Error: "there cannot be more groups than seats"})
	}
	if !off.RegistrationEnd.After(off.RegistrationStart) {
		fldErrs = append(fldErrs, core.FieldError{Field: "registration_end", Error: "registration must end after it starts"})
	}
	if fldErrs != nil {
		return core.NewValidationError(nil, fldErrs...)
	}
	return nil
}

// Offerings

func (svc *Service) CreateOffering(ctx context.Context, teacher user.User, no NewOffering) (Offering, error) {
	if !(teacher.IsTeacher() || teacher.IsAdmin()) {
		return Offering{}, core.NewValidationError(errNotTeacher)
	}
	now := nowFunc().UTC()
	off := Offering{
		Name:              no.Name,
		Description:       no.Description,
		Period:            no.Period,
		TeacherID:         teacher.ID,
		TeacherName:       teacher.Name,
		Capacity:          no.Capacity,
		Categories:        no.Categories,
		ImageURL:          no.ImageURL,
		Policy:            no.Policy,
		NumberOfGroups:    no.NumberOfGroups,
		RegistrationStart: no.RegistrationStart.UTC(),
		RegistrationEnd:   no.RegistrationEnd.UTC(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := checkOffering(off); err != nil {
		return Offering{}, err
	}
	return svc.repo.CreateOffering(ctx, off)
}

func (svc *Service) QueryOfferings(ctx context.Context, filter *OfferingFilter) ([]Offering, error) {
	return svc.repo.QueryOfferings(ctx, filter)
}

func (svc *Service) GetOffering(ctx context.Context, id string) (Offering, error) {
	return svc.repo.GetOffering(ctx, id)
}

func (svc *Service) UpdateOffering(ctx context.Context, id string, uo UpdateOffering) (Offering, error) {
	orig, err := svc.repo.GetOffering(ctx, id)
	if err != nil {
		return Offering{}, errors.Wrap(err, "finding elective")
	}
	off := uo.apply(orig)
	off.UpdatedAt = nowFunc().UTC()
	if err = checkOffering(off); err != nil {
		return Offering{}, err
	}
	regs, err := svc.seated(ctx, off.ID)
	if err != nil {
		return Offering{}, err
	}

	if off, err = svc.repo.UpdateOffering(ctx, off); err != nil {
		return Offering{}, err
	}
	// fewer or smaller groups: their extra members go back to pending
	if released := releaseStranded(regs, off.Groups(), off.MaxPerGroup()); len(released) > 0 {
		if err = svc.repo.UpdateRegistrations(ctx, released...); err != nil {
			return Offering{}, errors.Wrap(err, "releasing registrations")
		}
		svc.logger.Info("registrations released from groups", map[string]interface{}{
			"elective": off.ID, "released": len(released),
		})
	}
	return off, nil
}

// ReassignTeacher hands the elective over to another teacher.
func (svc *Service) ReassignTeacher(ctx context.Context, offeringID string, teacher user.User) (Offering, error) {
	if !teacher.IsTeacher() {
		return Offering{}, core.NewValidationError(errNotTeacher)
	}
	off, err := svc.repo.GetOffering(ctx, offeringID)
	if err != nil {
		return Offering{}, errors.Wrap(err, "finding elective")
	}
	off.TeacherID = teacher.ID
	off.TeacherName = teacher.Name
	off.UpdatedAt = nowFunc().UTC()
	return svc.repo.UpdateOffering(ctx, off)
}

func (svc *Service) DeleteOffering(ctx context.Context, id string) error {
	if err := svc.repo.DeleteOffering(ctx, id); err != nil {
		return err
	}
	return errors.Wrap(svc.analytics.DeleteDailyCounts(ctx, id), "deleting daily counts")
}

// Registrations

// Register enrolls a student. Depending on the elective's Policy the student is placed in a group
// right away (uniform) or left pending (priority, manual). A full elective waitlists the student.
func (svc *Service) Register(ctx context.Context, offeringID string, student user.User, nr NewRegistration) (Registration, error) {
	if !student.IsStudent() {
		return Registration{}, core.NewValidationError(errNotStudent)
	}
	if nr.Priority != nil && *nr.Priority < 1 {
		return Registration{}, invalidArgument("priority must be a positive integer, got %d", *nr.Priority)
	}

	off, err := svc.repo.GetOffering(ctx, offeringID)
	if err != nil {
		return Registration{}, errors.Wrap(err, "finding elective")
	}
	existing, err := svc.repo.QueryRegistrations(ctx, RegistrationFilter{OfferingID: off.ID})
	if err != nil {
		return Registration{}, errors.Wrap(err, "querying registrations")
	}
	for _, reg := range existing {
		if reg.StudentID == student.ID {
			return Registration{}, ErrAlreadyRegistered
		}
	}

	now := nowFunc().UTC()
	if !off.IsRegistrationOpen(now) {
		return Registration{}, core.NewValidationError(errRegistrationClosed)
	}

	reg := Registration{
		StudentID:    student.ID,
		StudentName:  student.Name,
		OfferingID:   off.ID,
		RegisteredAt: now,
		Priority:     nr.Priority,
		Status:       StatusWaitlisted,
	}
	// the seat is taken atomically; concurrent registrations for the last one are waitlisted
	var seated bool
	if !off.IsFull() {
		if seated, err = svc.repo.ReserveSeat(ctx, off.ID); err != nil {
			return Registration{}, errors.Wrap(err, "reserving seat")
		}
	}
	if seated {
		reg.Status = StatusPending
		if err = place(&reg, off, existing); err != nil {
			svc.releaseSeat(ctx, off.ID)
			return Registration{}, errors.Wrap(err, "placing student")
		}
	}

	if reg, err = svc.repo.CreateRegistration(ctx, reg); err != nil {
		if seated {
			svc.releaseSeat(ctx, off.ID)
		}
		return Registration{}, errors.Wrap(err, "creating registration")
	}
	if err = svc.analytics.RecordDailyRegistration(ctx, off.ID, now); err != nil {
		// registration is already stored; analytics are best effort
		svc.logger.Error("recording daily registration", errors.Wrap(err, "recording daily registration"))
	}

	svc.notifyRegistered(student, off, reg)
	return reg, nil
}

// place puts a seated registration in a group right away under the uniform policy. It stays pending
// without a group when every group is full.
func place(reg *Registration, off Offering, existing []Registration) error {
	if off.Policy != PolicyUniform || off.Groups() == 0 {
		return nil
	}
	group, err := PlaceStudent(existing, off.Groups(), off.MaxPerGroup())
	switch {
	case errors.Cause(err) == ErrGroupsFull:
		return nil
	case err != nil:
		return err
	}
	reg.Group = &group
	reg.Status = StatusConfirmed
	return nil
}

// releaseSeat gives back a seat reserved for a registration that could not be stored.
func (svc *Service) releaseSeat(ctx context.Context, offeringID string) {
	if err := svc.repo.IncrementEnrolled(ctx, offeringID, -1); err != nil {
		svc.logger.Error("releasing seat", errors.Wrap(err, "releasing seat"), map[string]interface{}{"elective": offeringID})
	}
}

// Unregister removes a registration. The seat it frees goes to the earliest waitlisted student.
func (svc *Service) Unregister(ctx context.Context, id string) error {
	reg, err := svc.repo.GetRegistration(ctx, id)
	if err != nil {
		return errors.Wrap(err, "finding registration")
	}
	if err = svc.repo.DeleteRegistration(ctx, reg.ID); err != nil {
		return errors.Wrap(err, "deleting registration")
	}
	if reg.Status == StatusWaitlisted {
		return nil
	}
	if err = svc.repo.IncrementEnrolled(ctx, reg.OfferingID, -1); err != nil {
		return errors.Wrap(err, "decrementing enrolled count")
	}
	return errors.Wrap(svc.promoteWaitlisted(ctx, reg.OfferingID), "promoting waitlisted student")
}

func (svc *Service) promoteWaitlisted(ctx context.Context, offeringID string) error {
	waitlisted, err := svc.repo.QueryRegistrations(ctx, RegistrationFilter{OfferingID: offeringID, Status: StatusWaitlisted})
	if err != nil || len(waitlisted) == 0 {
		return err
	}
	sort.SliceStable(waitlisted, func(i, j int) bool {
		return waitlisted[i].RegisteredAt.Before(waitlisted[j].RegisteredAt)
	})

	off, err := svc.repo.GetOffering(ctx, offeringID)
	if err != nil {
		return err
	}
	seated, err := svc.repo.ReserveSeat(ctx, offeringID)
	if err != nil || !seated {
		return err
	}

	promoted := waitlisted[0]
	promoted.Status = StatusPending
	existing, err := svc.seated(ctx, offeringID)
	if err == nil {
		err = place(&promoted, off, existing)
	}
	if err == nil {
		err = svc.repo.UpdateRegistrations(ctx, promoted)
	}
	if err != nil {
		svc.releaseSeat(ctx, offeringID)
	}
	return err
}

func (svc *Service) GetRegistration(ctx context.Context, id string) (Registration, error) {
	return svc.repo.GetRegistration(ctx, id)
}

func (svc *Service) QueryRegistrations(ctx context.Context, filter RegistrationFilter) ([]Registration, error) {
	return svc.repo.QueryRegistrations(ctx, filter)
}

// seated returns the registrations holding a seat, ie. not waitlisted.
func (svc *Service) seated(ctx context.Context, offeringID string) ([]Registration, error) {
	regs, err := svc.repo.QueryRegistrations(ctx, RegistrationFilter{OfferingID: offeringID})
	if err != nil {
		return nil, errors.Wrap(err, "querying registrations")
	}
	seated := make([]Registration, 0, len(regs))
	for _, reg := range regs {
		if reg.Status != StatusWaitlisted {
			seated = append(seated, reg)
		}
	}
	return seated, nil
}

// Groups

// Optimize recomputes the whole group distribution of an elective. Nothing is saved unless `apply`.
func (svc *Service) Optimize(ctx context.Context, offeringID string, apply bool) (OptimizeResult, error) {
	off, err := svc.repo.GetOffering(ctx, offeringID)
	if err != nil {
		return OptimizeResult{}, errors.Wrap(err, "finding elective")
	}
	if off.Groups() == 0 {
		return OptimizeResult{}, core.NewValidationError(ErrNoGroups)
	}
	regs, err := svc.seated(ctx, off.ID)
	if err != nil {
		return OptimizeResult{}, err
	}

	allocated, coef, err := AllocateGroups(regs, off.Groups(), off.MaxPerGroup())
	if err != nil {
		return OptimizeResult{}, errors.Wrap(err, "allocating groups")
	}
	res := OptimizeResult{Registrations: allocated, BalanceCoefficient: coef}
	if !apply {
		return res, nil
	}

	changed := make([]Registration, 0, len(allocated))
	for i, reg := range allocated {
		if !sameGroup(reg.Group, regs[i].Group) || reg.Status != regs[i].Status {
			changed = append(changed, reg)
		}
	}
	if len(changed) > 0 {
		if err = svc.repo.UpdateRegistrations(ctx, changed...); err != nil {
			return OptimizeResult{}, errors.Wrap(err, "saving registrations")
		}
	}
	res.Applied = true
	svc.logger.Info("groups optimized", map[string]interface{}{
		"elective": off.ID, "changed": len(changed), "balance_coefficient": coef,
	})
	return res, nil
}

// AutoDistribute places every student without a group and returns the newly placed registrations.
// Electives without groups are left alone.
func (svc *Service) AutoDistribute(ctx context.Context, offeringID string) ([]Registration, error) {
	off, err := svc.repo.GetOffering(ctx, offeringID)
	if err != nil {
		return nil, errors.Wrap(err, "finding elective")
	}
	if off.Groups() == 0 {
		return []Registration{}, nil
	}
	regs, err := svc.seated(ctx, off.ID)
	if err != nil {
		return nil, err
	}

	filled, err := AutoFillUnassigned(regs, off.Groups())
	if err != nil {
		return nil, errors.Wrap(err, "filling groups")
	}
	// AutoFillUnassigned picks the least loaded group, so a full pick means every group is full
	loads := newBuckets(off.Groups())
	loads.countAssigned(regs)
	placed := make([]Registration, 0)
	for i, reg := range filled {
		if regs[i].Group != nil || reg.Group == nil {
			continue
		}
		if g := *reg.Group - 1; loads[g] < off.MaxPerGroup() {
			loads[g]++
			placed = append(placed, reg)
		}
	}
	if len(placed) > 0 {
		if err = svc.repo.UpdateRegistrations(ctx, placed...); err != nil {
			return nil, errors.Wrap(err, "saving registrations")
		}
	}
	return placed, nil
}

// ReassignGroups validates manual group edits against the current registrations and saves the diff.
func (svc *Service) ReassignGroups(ctx context.Context, offeringID string, cs Changeset) ([]Registration, error) {
	off, err := svc.repo.GetOffering(ctx, offeringID)
	if err != nil {
		return nil, errors.Wrap(err, "finding elective")
	}
	if off.Groups() == 0 {
		return nil, core.NewValidationError(ErrNoGroups)
	}
	regs, err := svc.seated(ctx, off.ID)
	if err != nil {
		return nil, err
	}

	changed, err := ApplyChangeset(regs, cs, off.Groups(), off.MaxPerGroup())
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		if err = svc.repo.UpdateRegistrations(ctx, changed...); err != nil {
			return nil, errors.Wrap(err, "saving registrations")
		}
	}
	return changed, nil
}

// Analytics

// Analytics reports the daily registrations of the last `days` days (the configured window when
// days <= 0), the forecast final count and the group balance.
func (svc *Service) Analytics(ctx context.Context, offeringID string, days int) (Analytics, error) {
	off, err := svc.repo.GetOffering(ctx, offeringID)
	if err != nil {
		return Analytics{}, errors.Wrap(err, "finding elective")
	}
	if days <= 0 {
		days = svc.forecastWindowDays
	}

	now := nowFunc().UTC()
	daily, err := svc.analytics.QueryDailyCounts(ctx, off.ID, core.StartOfDay(now).AddDate(0, 0, -days), now)
	if err != nil {
		return Analytics{}, errors.Wrap(err, "querying daily counts")
	}
	if daily == nil {
		daily = []DailyCount{}
	}

	res := Analytics{Daily: daily}
	if predicted, ok := PredictFinalCount(daily); ok {
		res.PredictedFinal = &predicted
	}
	if off.Groups() > 0 {
		regs, err := svc.seated(ctx, off.ID)
		if err != nil {
			return Analytics{}, err
		}
		balance := Balance(regs, off.Groups())
		res.Balance = &balance
	}
	return res, nil
}

// Recommend returns the electives matching the student's interests best; at most `limit` of them
// (the configured limit when limit <= 0).
func (svc *Service) Recommend(ctx context.Context, student user.User, limit int) ([]Offering, error) {
	if limit <= 0 {
		limit = svc.recommendationLimit
	}
	offerings, err := svc.repo.QueryOfferings(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying electives")
	}
	return Recommend(ProfileOf(student), offerings, limit), nil
}

// Notifications

type registrationMailData struct {
	StudentName  string
	ElectiveName string
	Status       Status
	Group        int
}

func (svc *Service) notifyRegistered(student user.User, off Offering, reg Registration) {
	if student.Email == "" || svc.mailSvc == nil {
		return
	}
	data := registrationMailData{
		StudentName:  student.Name,
		ElectiveName: off.Name,
		Status:       reg.Status,
	}
	if reg.Group != nil {
		data.Group = *reg.Group
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: student.Name, Address: student.Email}},
		Subject:      "Registration to " + off.Name,
		TemplateName: "registration",
		TemplateData: data,
	})
}
