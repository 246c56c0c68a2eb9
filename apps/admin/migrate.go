package main

import (
	"errors"

	"github.com/trezcool/goose"

	appfs "github.com/MrXof/ElectiveFlow/fs"
)

var (
	gooseRunFunc = goose.RunFS // mockable

	errNoSQLDB = errors.New("migrations only apply to the postgres engine")
)

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoSQLDB
	}
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(args[0], cli.db, appfs.FS, appfs.MigrationsDir, arguments...)
}
