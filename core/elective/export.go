package elective

import (
	"context"
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

var exportHeader = []string{"id", "student_id", "student_name", "registered_at", "priority", "group", "status"}

// WriteRegistrationsCSV writes one row per registration, preceded by a header row.
// Missing priorities and groups are written as empty cells.
func WriteRegistrationsCSV(w io.Writer, regs []Registration) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return errors.Wrap(err, "writing csv header")
	}
	for _, reg := range regs {
		row := []string{
			reg.ID,
			reg.StudentID,
			reg.StudentName,
			reg.RegisteredAt.UTC().Format(time.RFC3339),
			optionalInt(reg.Priority),
			optionalInt(reg.Group),
			string(reg.Status),
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrapf(err, "writing registration %s", reg.ID)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing csv")
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// ExportRegistrations writes the registrations of an elective as CSV, ordered by group then
// registration time.
func (svc *Service) ExportRegistrations(ctx context.Context, offeringID string, w io.Writer) error {
	off, err := svc.repo.GetOffering(ctx, offeringID)
	if err != nil {
		return errors.Wrap(err, "finding elective")
	}
	regs, err := svc.repo.QueryRegistrations(ctx, RegistrationFilter{OfferingID: off.ID})
	if err != nil {
		return errors.Wrap(err, "querying registrations")
	}
	sortForExport(regs)
	return WriteRegistrationsCSV(w, regs)
}

// sortForExport orders registrations by group, ungrouped last, then by registration time.
func sortForExport(regs []Registration) {
	sort.SliceStable(regs, func(i, j int) bool {
		a, b := regs[i], regs[j]
		if !sameGroup(a.Group, b.Group) {
			switch {
			case a.Group == nil:
				return false
			case b.Group == nil:
				return true
			default:
				return *a.Group < *b.Group
			}
		}
		return a.RegisteredAt.Before(b.RegisteredAt)
	})
}
