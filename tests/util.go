package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/MrXof/ElectiveFlow/core/elective"
	"github.com/MrXof/ElectiveFlow/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if err := usr.SetPassword(pwd); err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	return usr
}

// OfferingOption customizes the Offering built by CreateOffering.
type OfferingOption func(off *elective.Offering)

func WithGroups(n int) OfferingOption {
	return func(off *elective.Offering) { off.NumberOfGroups = &n }
}

func WithCategories(categories ...string) OfferingOption {
	return func(off *elective.Offering) { off.Categories = categories }
}

func WithRegistrationWindow(start, end time.Time) OfferingOption {
	return func(off *elective.Offering) {
		off.RegistrationStart = start.UTC()
		off.RegistrationEnd = end.UTC()
	}
}

// CreateOffering stores an Offering open for registration for a week around now.
func CreateOffering(
	t *testing.T,
	repo elective.Repository,
	teacher user.User,
	name string,
	capacity int,
	policy elective.Policy,
	opts ...OfferingOption,
) elective.Offering {
	t.Helper()
	now := time.Now().UTC()
	off := elective.Offering{
		Name:              name,
		Description:       name + " elective",
		Period:            "2026 fall",
		TeacherID:         teacher.ID,
		TeacherName:       teacher.Name,
		Capacity:          capacity,
		Categories:        []string{"general"},
		Policy:            policy,
		RegistrationStart: now.AddDate(0, 0, -7),
		RegistrationEnd:   now.AddDate(0, 0, 7),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, opt := range opts {
		opt(&off)
	}
	off, err := repo.CreateOffering(context.Background(), off)
	if err != nil {
		t.Fatalf("CreateOffering(): %v", err)
	}
	return off
}

// CreateRegistration stores a Registration of student to off, counting it as enrolled unless waitlisted.
func CreateRegistration(
	t *testing.T,
	repo elective.Repository,
	off elective.Offering,
	student user.User,
	status elective.Status,
	group *int,
	registeredAt ...time.Time,
) elective.Registration {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(registeredAt) > 0 {
		tstamp = registeredAt[0].UTC()
	}
	ctx := context.Background()
	reg, err := repo.CreateRegistration(ctx, elective.Registration{
		StudentID:    student.ID,
		StudentName:  student.Name,
		OfferingID:   off.ID,
		RegisteredAt: tstamp,
		Group:        group,
		Status:       status,
	})
	if err != nil {
		t.Fatalf("CreateRegistration(): %v", err)
	}
	if status != elective.StatusWaitlisted {
		if err = repo.IncrementEnrolled(ctx, off.ID, 1); err != nil {
			t.Fatalf("CreateRegistration(): %v", err)
		}
	}
	return reg
}
