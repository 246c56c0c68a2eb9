package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"

	"github.com/MrXof/ElectiveFlow/core/elective"
)

func (cli *commandLine) optimize(offeringID string, apply bool) error {
	res, err := cli.electiveSvc.Optimize(context.Background(), offeringID, apply)
	if err != nil {
		return errors.Wrap(err, "optimizing groups")
	}
	if err = cli.renderRegistrations(res.Registrations); err != nil {
		return err
	}
	cli.println(pterm.Info.Sprintf("balance coefficient: %g", res.BalanceCoefficient))
	if res.Applied {
		cli.println(pterm.Success.Sprint("groups saved"))
	} else {
		cli.println(pterm.Warning.Sprint("preview only, run again with -apply to save"))
	}
	return nil
}

func (cli *commandLine) autofill(offeringID string) error {
	placed, err := cli.electiveSvc.AutoDistribute(context.Background(), offeringID)
	if err != nil {
		return errors.Wrap(err, "filling groups")
	}
	if len(placed) == 0 {
		cli.println(pterm.Info.Sprint("every student already has a group"))
		return nil
	}
	if err = cli.renderRegistrations(placed); err != nil {
		return err
	}
	cli.println(pterm.Success.Sprintf("%d students placed", len(placed)))
	return nil
}

func (cli *commandLine) groups(offeringID string) error {
	ctx := context.Background()
	off, err := cli.electiveSvc.GetOffering(ctx, offeringID)
	if err != nil {
		return errors.Wrap(err, "finding elective")
	}
	regs, err := cli.electiveSvc.QueryRegistrations(ctx, elective.RegistrationFilter{OfferingID: off.ID})
	if err != nil {
		return errors.Wrap(err, "querying registrations")
	}
	cli.println(pterm.Info.Sprintf("%s: %d/%d enrolled, %d groups", off.Name, off.Enrolled, off.Capacity, off.Groups()))
	return cli.renderRegistrations(regs)
}

func (cli *commandLine) forecast(offeringID string, days int) error {
	res, err := cli.electiveSvc.Analytics(context.Background(), offeringID, days)
	if err != nil {
		return errors.Wrap(err, "computing analytics")
	}

	data := pterm.TableData{{"Day", "Registrations"}}
	for _, dc := range res.Daily {
		data = append(data, []string{dc.Day.Format("2006-01-02"), strconv.Itoa(dc.Count)})
	}
	if err = cli.renderTable(data); err != nil {
		return err
	}
	if res.PredictedFinal == nil {
		cli.println(pterm.Warning.Sprint("not enough data to forecast"))
		return nil
	}
	cli.println(pterm.Success.Sprintf("predicted final count: %d", *res.PredictedFinal))
	return nil
}

// renderRegistrations prints registrations by group, ungrouped last, then by registration time.
func (cli *commandLine) renderRegistrations(regs []elective.Registration) error {
	sorted := append([]elective.Registration(nil), regs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		switch {
		case a.Group == nil && b.Group != nil:
			return false
		case a.Group != nil && b.Group == nil:
			return true
		case a.Group != nil && *a.Group != *b.Group:
			return *a.Group < *b.Group
		}
		return a.RegisteredAt.Before(b.RegisteredAt)
	})

	data := pterm.TableData{{"Group", "Student", "Priority", "Status", "Registered at"}}
	for _, reg := range sorted {
		data = append(data, []string{
			optionalInt(reg.Group),
			reg.StudentName,
			optionalInt(reg.Priority),
			string(reg.Status),
			reg.RegisteredAt.Format(time.RFC3339),
		})
	}
	return cli.renderTable(data)
}

func (cli *commandLine) renderTable(data pterm.TableData) error {
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "rendering table")
	}
	cli.println(table)
	return nil
}

func (cli *commandLine) println(a ...interface{}) {
	_, _ = fmt.Fprintln(cli.out, a...)
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}
