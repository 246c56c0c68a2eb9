package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/MrXof/ElectiveFlow/core/elective"
)

const (
	offeringColumns = "id, name, description, period, teacher_id, teacher_name, capacity, enrolled, categories, " +
		"image_url, policy, number_of_groups, registration_start, registration_end, created_at, updated_at"
	registrationColumns = "id, offering_id, student_id, student_name, registered_at, priority, group_number, status"
)

type offeringRow struct {
	ID                string         `db:"id"`
	Name              string         `db:"name"`
	Description       string         `db:"description"`
	Period            string         `db:"period"`
	TeacherID         string         `db:"teacher_id"`
	TeacherName       string         `db:"teacher_name"`
	Capacity          int            `db:"capacity"`
	Enrolled          int            `db:"enrolled"`
	Categories        pq.StringArray `db:"categories"`
	ImageURL          string         `db:"image_url"`
	Policy            string         `db:"policy"`
	NumberOfGroups    null.Int       `db:"number_of_groups"`
	RegistrationStart time.Time      `db:"registration_start"`
	RegistrationEnd   time.Time      `db:"registration_end"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func toOfferingRow(off elective.Offering) offeringRow {
	return offeringRow{
		ID:                off.ID,
		Name:              off.Name,
		Description:       off.Description,
		Period:            off.Period,
		TeacherID:         off.TeacherID,
		TeacherName:       off.TeacherName,
		Capacity:          off.Capacity,
		Enrolled:          off.Enrolled,
		Categories:        nonNil(off.Categories),
		ImageURL:          off.ImageURL,
		Policy:            string(off.Policy),
		NumberOfGroups:    null.IntFromPtr(off.NumberOfGroups),
		RegistrationStart: off.RegistrationStart.UTC(),
		RegistrationEnd:   off.RegistrationEnd.UTC(),
		CreatedAt:         off.CreatedAt.UTC(),
		UpdatedAt:         off.UpdatedAt.UTC(),
	}
}

func (r offeringRow) toOffering() elective.Offering {
	return elective.Offering{
		ID:                r.ID,
		Name:              r.Name,
		Description:       r.Description,
		Period:            r.Period,
		TeacherID:         r.TeacherID,
		TeacherName:       r.TeacherName,
		Capacity:          r.Capacity,
		Enrolled:          r.Enrolled,
		Categories:        r.Categories,
		ImageURL:          r.ImageURL,
		Policy:            elective.Policy(r.Policy),
		NumberOfGroups:    r.NumberOfGroups.Ptr(),
		RegistrationStart: r.RegistrationStart.UTC(),
		RegistrationEnd:   r.RegistrationEnd.UTC(),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

type registrationRow struct {
	ID           string    `db:"id"`
	OfferingID   string    `db:"offering_id"`
	StudentID    string    `db:"student_id"`
	StudentName  string    `db:"student_name"`
	RegisteredAt time.Time `db:"registered_at"`
	Priority     null.Int  `db:"priority"`
	Group        null.Int  `db:"group_number"`
	Status       string    `db:"status"`
}

func toRegistrationRow(reg elective.Registration) registrationRow {
	return registrationRow{
		ID:           reg.ID,
		OfferingID:   reg.OfferingID,
		StudentID:    reg.StudentID,
		StudentName:  reg.StudentName,
		RegisteredAt: reg.RegisteredAt.UTC(),
		Priority:     null.IntFromPtr(reg.Priority),
		Group:        null.IntFromPtr(reg.Group),
		Status:       string(reg.Status),
	}
}

func (r registrationRow) toRegistration() elective.Registration {
	return elective.Registration{
		ID:           r.ID,
		OfferingID:   r.OfferingID,
		StudentID:    r.StudentID,
		StudentName:  r.StudentName,
		RegisteredAt: r.RegisteredAt.UTC(),
		Priority:     r.Priority.Ptr(),
		Group:        r.Group.Ptr(),
		Status:       elective.Status(r.Status),
	}
}

type electiveRepository struct {
	db *sqlx.DB
}

var _ elective.Repository = (*electiveRepository)(nil)

func NewElectiveRepository(db *sqlx.DB) *electiveRepository {
	return &electiveRepository{db: db}
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Offerings

func (repo *electiveRepository) CreateOffering(ctx context.Context, off elective.Offering) (elective.Offering, error) {
	off.ID = uuid.New().String()
	off.Enrolled = 0
	q := `INSERT INTO offerings (` + offeringColumns + `) VALUES (
		:id, :name, :description, :period, :teacher_id, :teacher_name, :capacity, :enrolled, :categories,
		:image_url, :policy, :number_of_groups, :registration_start, :registration_end, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, toOfferingRow(off)); err != nil {
		return elective.Offering{}, errors.Wrap(err, "inserting offering")
	}
	return off, nil
}

func (repo *electiveRepository) QueryOfferings(ctx context.Context, filter *elective.OfferingFilter) ([]elective.Offering, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil {
		if filter.TeacherID != "" {
			where = append(where, "teacher_id = "+arg(filter.TeacherID))
		}
		if filter.Policy != "" {
			where = append(where, "policy = "+arg(string(filter.Policy)))
		}
		if filter.Category != "" {
			where = append(where, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM UNNEST(categories) category WHERE category ILIKE %s)", arg(filter.Category)))
		}
		if filter.Search != "" {
			val := arg("%" + filter.Search + "%")
			where = append(where, fmt.Sprintf("(name ILIKE %s OR description ILIKE %s)", val, val))
		}
		if !filter.OpenAt.IsZero() {
			at := arg(filter.OpenAt.UTC())
			where = append(where, fmt.Sprintf("registration_start <= %s AND registration_end >= %s", at, at))
		}
	}

	q := "SELECT " + offeringColumns + " FROM offerings"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at ASC, id ASC"

	var rows []offeringRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting offerings")
	}
	offs := make([]elective.Offering, 0, len(rows))
	for _, r := range rows {
		offs = append(offs, r.toOffering())
	}
	return offs, nil
}

func (repo *electiveRepository) GetOffering(ctx context.Context, id string) (elective.Offering, error) {
	if !isUUID(id) {
		return elective.Offering{}, elective.ErrNotFound
	}
	var r offeringRow
	if err := repo.db.GetContext(ctx, &r, "SELECT "+offeringColumns+" FROM offerings WHERE id = $1", id); err != nil {
		if err == sql.ErrNoRows {
			return elective.Offering{}, elective.ErrNotFound
		}
		return elective.Offering{}, errors.Wrap(err, "selecting offering")
	}
	return r.toOffering(), nil
}

func (repo *electiveRepository) UpdateOffering(ctx context.Context, off elective.Offering) (elective.Offering, error) {
	q := `UPDATE offerings SET
		name = :name, description = :description, period = :period, teacher_id = :teacher_id,
		teacher_name = :teacher_name, capacity = :capacity,
		categories = :categories, image_url = :image_url, policy = :policy, number_of_groups = :number_of_groups,
		registration_start = :registration_start, registration_end = :registration_end, updated_at = :updated_at
		WHERE id = :id
		RETURNING ` + offeringColumns

	stmt, err := repo.db.PrepareNamedContext(ctx, q)
	if err != nil {
		return elective.Offering{}, errors.Wrap(err, "preparing offering update")
	}
	defer func() { _ = stmt.Close() }()

	var r offeringRow
	if err = stmt.GetContext(ctx, &r, toOfferingRow(off)); err != nil {
		if err == sql.ErrNoRows {
			return elective.Offering{}, elective.ErrNotFound
		}
		return elective.Offering{}, errors.Wrap(err, "updating offering")
	}
	return r.toOffering(), nil
}

func (repo *electiveRepository) DeleteOffering(ctx context.Context, id string) error {
	if !isUUID(id) {
		return elective.ErrNotFound
	}
	// registrations & daily counts are deleted in cascade
	res, err := repo.db.ExecContext(ctx, "DELETE FROM offerings WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting offering")
	}
	return checkAffected(res, elective.ErrNotFound)
}

func (repo *electiveRepository) IncrementEnrolled(ctx context.Context, id string, delta int) error {
	if !isUUID(id) {
		return elective.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx,
		"UPDATE offerings SET enrolled = GREATEST(enrolled + $1, 0), updated_at = $2 WHERE id = $3",
		delta, time.Now().UTC(), id,
	)
	if err != nil {
		return errors.Wrap(err, "updating enrolled count")
	}
	return checkAffected(res, elective.ErrNotFound)
}

func (repo *electiveRepository) ReserveSeat(ctx context.Context, id string) (bool, error) {
	if !isUUID(id) {
		return false, elective.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx,
		"UPDATE offerings SET enrolled = enrolled + 1, updated_at = $1 WHERE id = $2 AND enrolled < capacity",
		time.Now().UTC(), id,
	)
	if err != nil {
		return false, errors.Wrap(err, "reserving seat")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "getting affected rows")
	}
	if n > 0 {
		return true, nil
	}

	// full or missing
	var exists bool
	if err = repo.db.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM offerings WHERE id = $1)", id); err != nil {
		return false, errors.Wrap(err, "checking offering")
	}
	if !exists {
		return false, elective.ErrNotFound
	}
	return false, nil
}

// Registrations

func (repo *electiveRepository) CreateRegistration(ctx context.Context, reg elective.Registration) (elective.Registration, error) {
	reg.ID = uuid.New().String()
	q := `INSERT INTO registrations (` + registrationColumns + `) VALUES (
		:id, :offering_id, :student_id, :student_name, :registered_at, :priority, :group_number, :status)`
	if _, err := repo.db.NamedExecContext(ctx, q, toRegistrationRow(reg)); err != nil {
		switch {
		case isUniqueViolation(err):
			return elective.Registration{}, elective.ErrAlreadyRegistered
		case isForeignKeyViolation(err):
			return elective.Registration{}, elective.ErrNotFound
		}
		return elective.Registration{}, errors.Wrap(err, "inserting registration")
	}
	return reg, nil
}

func (repo *electiveRepository) QueryRegistrations(ctx context.Context, filter elective.RegistrationFilter) ([]elective.Registration, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.OfferingID != "" {
		if !isUUID(filter.OfferingID) {
			return []elective.Registration{}, nil
		}
		args = append(args, filter.OfferingID)
		where = append(where, fmt.Sprintf("offering_id = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	q := "SELECT " + registrationColumns + " FROM registrations"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY registered_at ASC, id ASC"

	var rows []registrationRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting registrations")
	}
	regs := make([]elective.Registration, 0, len(rows))
	for _, r := range rows {
		regs = append(regs, r.toRegistration())
	}
	return regs, nil
}

func (repo *electiveRepository) GetRegistration(ctx context.Context, id string) (elective.Registration, error) {
	if !isUUID(id) {
		return elective.Registration{}, elective.ErrRegistrationNotFound
	}
	var r registrationRow
	q := "SELECT " + registrationColumns + " FROM registrations WHERE id = $1"
	if err := repo.db.GetContext(ctx, &r, q, id); err != nil {
		if err == sql.ErrNoRows {
			return elective.Registration{}, elective.ErrRegistrationNotFound
		}
		return elective.Registration{}, errors.Wrap(err, "selecting registration")
	}
	return r.toRegistration(), nil
}

// UpdateRegistrations saves the group & status of every registration in a single transaction.
func (repo *electiveRepository) UpdateRegistrations(ctx context.Context, regs ...elective.Registration) (err error) {
	if len(regs) == 0 {
		return nil
	}
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, "UPDATE registrations SET group_number = $1, status = $2 WHERE id = $3")
	if err != nil {
		return errors.Wrap(err, "preparing registration update")
	}
	defer func() { _ = stmt.Close() }()

	for _, reg := range regs {
		if !isUUID(reg.ID) {
			return elective.ErrRegistrationNotFound
		}
		res, err := stmt.ExecContext(ctx, null.IntFromPtr(reg.Group), string(reg.Status), reg.ID)
		if err != nil {
			return errors.Wrapf(err, "updating registration %s", reg.ID)
		}
		if err = checkAffected(res, elective.ErrRegistrationNotFound); err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func (repo *electiveRepository) DeleteRegistration(ctx context.Context, id string) error {
	if !isUUID(id) {
		return elective.ErrRegistrationNotFound
	}
	res, err := repo.db.ExecContext(ctx, "DELETE FROM registrations WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting registration")
	}
	return checkAffected(res, elective.ErrRegistrationNotFound)
}
