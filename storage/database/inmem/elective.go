package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrXof/ElectiveFlow/core/elective"
)

type electiveRepository struct {
	db *DB
}

var _ elective.Repository = (*electiveRepository)(nil)

func NewElectiveRepository(db *DB) *electiveRepository {
	return &electiveRepository{db: db}
}

func cloneOffering(off elective.Offering) elective.Offering {
	off.Categories = append([]string(nil), off.Categories...)
	if off.NumberOfGroups != nil {
		n := *off.NumberOfGroups
		off.NumberOfGroups = &n
	}
	return off
}

func cloneRegistration(reg elective.Registration) elective.Registration {
	if reg.Priority != nil {
		p := *reg.Priority
		reg.Priority = &p
	}
	if reg.Group != nil {
		g := *reg.Group
		reg.Group = &g
	}
	return reg
}

func matchOffering(off elective.Offering, filter *elective.OfferingFilter) bool {
	if filter == nil {
		return true
	}
	if filter.TeacherID != "" && off.TeacherID != filter.TeacherID {
		return false
	}
	if filter.Policy != "" && off.Policy != filter.Policy {
		return false
	}
	if filter.Category != "" {
		var found bool
		for _, c := range off.Categories {
			if strings.EqualFold(c, filter.Category) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Search != "" {
		search := strings.ToLower(filter.Search)
		if !(strings.Contains(strings.ToLower(off.Name), search) || strings.Contains(strings.ToLower(off.Description), search)) {
			return false
		}
	}
	if !filter.OpenAt.IsZero() && !off.IsRegistrationOpen(filter.OpenAt) {
		return false
	}
	return true
}

func (repo *electiveRepository) CreateOffering(_ context.Context, off elective.Offering) (elective.Offering, error) {
	repo.db.electiveMu.Lock()
	defer repo.db.electiveMu.Unlock()

	off.ID = uuid.New().String()
	stored := cloneOffering(off)
	repo.db.offerings[off.ID] = &stored
	return off, nil
}

func (repo *electiveRepository) QueryOfferings(_ context.Context, filter *elective.OfferingFilter) ([]elective.Offering, error) {
	repo.db.electiveMu.RLock()
	defer repo.db.electiveMu.RUnlock()

	offs := make([]elective.Offering, 0, len(repo.db.offerings))
	for _, off := range repo.db.offerings {
		if matchOffering(*off, filter) {
			offs = append(offs, cloneOffering(*off))
		}
	}
	sort.Slice(offs, func(i, j int) bool {
		if !offs[i].CreatedAt.Equal(offs[j].CreatedAt) {
			return offs[i].CreatedAt.Before(offs[j].CreatedAt)
		}
		return offs[i].ID < offs[j].ID
	})
	return offs, nil
}

func (repo *electiveRepository) GetOffering(_ context.Context, id string) (elective.Offering, error) {
	repo.db.electiveMu.RLock()
	defer repo.db.electiveMu.RUnlock()

	if off, ok := repo.db.offerings[id]; ok {
		return cloneOffering(*off), nil
	}
	return elective.Offering{}, elective.ErrNotFound
}

func (repo *electiveRepository) UpdateOffering(_ context.Context, off elective.Offering) (elective.Offering, error) {
	repo.db.electiveMu.Lock()
	defer repo.db.electiveMu.Unlock()

	orig, ok := repo.db.offerings[off.ID]
	if !ok {
		return elective.Offering{}, elective.ErrNotFound
	}
	off.Enrolled = orig.Enrolled
	off.CreatedAt = orig.CreatedAt
	stored := cloneOffering(off)
	repo.db.offerings[off.ID] = &stored
	return off, nil
}

func (repo *electiveRepository) DeleteOffering(_ context.Context, id string) error {
	repo.db.electiveMu.Lock()
	defer repo.db.electiveMu.Unlock()

	if _, ok := repo.db.offerings[id]; !ok {
		return elective.ErrNotFound
	}
	delete(repo.db.offerings, id)
	for regID, reg := range repo.db.registrations {
		if reg.OfferingID == id {
			delete(repo.db.registrations, regID)
		}
	}
	return nil
}

func (repo *electiveRepository) IncrementEnrolled(_ context.Context, id string, delta int) error {
	repo.db.electiveMu.Lock()
	defer repo.db.electiveMu.Unlock()

	off, ok := repo.db.offerings[id]
	if !ok {
		return elective.ErrNotFound
	}
	off.Enrolled += delta
	if off.Enrolled < 0 {
		off.Enrolled = 0
	}
	off.UpdatedAt = time.Now().UTC()
	return nil
}

func (repo *electiveRepository) ReserveSeat(_ context.Context, id string) (bool, error) {
	repo.db.electiveMu.Lock()
	defer repo.db.electiveMu.Unlock()

	off, ok := repo.db.offerings[id]
	if !ok {
		return false, elective.ErrNotFound
	}
	if off.Enrolled >= off.Capacity {
		return false, nil
	}
	off.Enrolled++
	off.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (repo *electiveRepository) CreateRegistration(_ context.Context, reg elective.Registration) (elective.Registration, error) {
	repo.db.electiveMu.Lock()
	defer repo.db.electiveMu.Unlock()

	if _, ok := repo.db.offerings[reg.OfferingID]; !ok {
		return elective.Registration{}, elective.ErrNotFound
	}
	for _, r := range repo.db.registrations {
		if r.OfferingID == reg.OfferingID && r.StudentID == reg.StudentID {
			return elective.Registration{}, elective.ErrAlreadyRegistered
		}
	}

	reg.ID = uuid.New().String()
	stored := cloneRegistration(reg)
	repo.db.registrations[reg.ID] = &stored
	return reg, nil
}

func (repo *electiveRepository) QueryRegistrations(_ context.Context, filter elective.RegistrationFilter) ([]elective.Registration, error) {
	repo.db.electiveMu.RLock()
	defer repo.db.electiveMu.RUnlock()

	regs := make([]elective.Registration, 0)
	for _, reg := range repo.db.registrations {
		if filter.OfferingID != "" && reg.OfferingID != filter.OfferingID {
			continue
		}
		if filter.StudentID != "" && reg.StudentID != filter.StudentID {
			continue
		}
		if filter.Status != "" && reg.Status != filter.Status {
			continue
		}
		regs = append(regs, cloneRegistration(*reg))
	}
	sort.Slice(regs, func(i, j int) bool {
		if !regs[i].RegisteredAt.Equal(regs[j].RegisteredAt) {
			return regs[i].RegisteredAt.Before(regs[j].RegisteredAt)
		}
		return regs[i].ID < regs[j].ID
	})
	return regs, nil
}

func (repo *electiveRepository) GetRegistration(_ context.Context, id string) (elective.Registration, error) {
	repo.db.electiveMu.RLock()
	defer repo.db.electiveMu.RUnlock()

	if reg, ok := repo.db.registrations[id]; ok {
		return cloneRegistration(*reg), nil
	}
	return elective.Registration{}, elective.ErrRegistrationNotFound
}

// UpdateRegistrations saves the group & status of every registration, all or nothing.
func (repo *electiveRepository) UpdateRegistrations(_ context.Context, regs ...elective.Registration) error {
	repo.db.electiveMu.Lock()
	defer repo.db.electiveMu.Unlock()

	for _, reg := range regs {
		if _, ok := repo.db.registrations[reg.ID]; !ok {
			return elective.ErrRegistrationNotFound
		}
	}
	for _, reg := range regs {
		stored := repo.db.registrations[reg.ID]
		updated := cloneRegistration(reg)
		stored.Group = updated.Group
		stored.Status = updated.Status
	}
	return nil
}

func (repo *electiveRepository) DeleteRegistration(_ context.Context, id string) error {
	repo.db.electiveMu.Lock()
	defer repo.db.electiveMu.Unlock()

	if _, ok := repo.db.registrations[id]; !ok {
		return elective.ErrRegistrationNotFound
	}
	delete(repo.db.registrations, id)
	return nil
}
