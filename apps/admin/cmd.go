package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/MrXof/ElectiveFlow/core/elective"
	"github.com/MrXof/ElectiveFlow/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db          *sql.DB // nil unless the postgres engine is used
	usrRepo     user.Repository
	electiveSvc *elective.Service
	out         io.Writer
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprintln(cli.out, "Usage:")
	_, _ = fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                           - run a goose migration command")
	_, _ = fmt.Fprintln(cli.out, "  adduser -email EMAIL -name NAME [-role ROLE]     - create or update a user")
	_, _ = fmt.Fprintln(cli.out, "  resetpassword -email EMAIL                       - reset user's password")
	_, _ = fmt.Fprintln(cli.out, "  optimize -offering ID [-apply]                   - recompute the groups of an elective")
	_, _ = fmt.Fprintln(cli.out, "  autofill -offering ID                            - place students without a group")
	_, _ = fmt.Fprintln(cli.out, "  groups -offering ID                              - print the groups of an elective")
	_, _ = fmt.Fprintln(cli.out, "  forecast -offering ID [-days N]                  - print daily registrations and the forecast")
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

// promptPassword reads a password from the terminal without echoing it.
func (cli *commandLine) promptPassword() (string, error) {
	_, _ = fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	_, _ = fmt.Fprintln(cli.out)
	return string(pwd), err
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := cli.newFlagSet("adduser")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserName := addUserCmd.String("name", "", "The user's name.")
	addUserRole := addUserCmd.String("role", "student", "One of: student, teacher, admin, owner.")

	resetPasswordCmd := cli.newFlagSet("resetpassword")
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The user's email. The password will be prompted next.")

	optimizeCmd := cli.newFlagSet("optimize")
	optimizeOffering := optimizeCmd.String("offering", "", "The elective ID.")
	optimizeApply := optimizeCmd.Bool("apply", false, "Save the new groups; only a preview is printed otherwise.")

	autofillCmd := cli.newFlagSet("autofill")
	autofillOffering := autofillCmd.String("offering", "", "The elective ID.")

	groupsCmd := cli.newFlagSet("groups")
	groupsOffering := groupsCmd.String("offering", "", "The elective ID.")

	forecastCmd := cli.newFlagSet("forecast")
	forecastOffering := forecastCmd.String("offering", "", "The elective ID.")
	forecastDays := forecastCmd.Int("days", 0, "Number of past days to consider; the configured window when 0.")

	// parse returns errHelp when `required` is empty after parsing.
	parse := func(fs *flag.FlagSet, required *string) error {
		if err := fs.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *required == "" {
			fs.Usage()
			return errHelp
		}
		return nil
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "adduser":
		if err := parse(addUserCmd, addUserEmail); err != nil {
			return err
		}
		roles, ok := roleFlags[*addUserRole]
		if !ok {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserEmail, *addUserName, pwd, roles)
	case "resetpassword":
		if err := parse(resetPasswordCmd, resetPasswordEmail); err != nil {
			return err
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordEmail, pwd)
	case "optimize":
		if err := parse(optimizeCmd, optimizeOffering); err != nil {
			return err
		}
		return cli.optimize(*optimizeOffering, *optimizeApply)
	case "autofill":
		if err := parse(autofillCmd, autofillOffering); err != nil {
			return err
		}
		return cli.autofill(*autofillOffering)
	case "groups":
		if err := parse(groupsCmd, groupsOffering); err != nil {
			return err
		}
		return cli.groups(*groupsOffering)
	case "forecast":
		if err := parse(forecastCmd, forecastOffering); err != nil {
			return err
		}
		return cli.forecast(*forecastOffering, *forecastDays)
	default:
		cli.printUsage()
		return errHelp
	}
}
