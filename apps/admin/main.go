package main

import (
	"database/sql"
	"log"
	"os"

	dig_container "github.com/MrXof/ElectiveFlow/apps/api/di/dig"
	"github.com/MrXof/ElectiveFlow/core"
	"github.com/MrXof/ElectiveFlow/core/elective"
	"github.com/MrXof/ElectiveFlow/core/user"
	"github.com/MrXof/ElectiveFlow/storage/database"
)

var logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

func main() {
	var code int
	defer func() { os.Exit(code) }()

	c := dig_container.New()
	errAndDie(c.Invoke(func(
		conf *core.Config,
		usrRepo user.Repository,
		electiveSvc *elective.Service,
		closeDB dig_container.DBCloser,
	) {
		defer func() { _ = closeDB() }()

		// goose works on the raw SQL connection
		var db *sql.DB
		if conf.Database.Engine == core.DBEnginePostgres {
			sqlxDB, err := database.Open(conf)
			errAndDie(err)
			defer func() { _ = sqlxDB.Close() }()
			db = sqlxDB.DB
		}

		// start CLI
		cli := commandLine{
			db:          db,
			usrRepo:     usrRepo,
			electiveSvc: electiveSvc,
			out:         os.Stdout,
		}
		if err := cli.run(os.Args); err != nil {
			if err != errHelp {
				logger.Printf("\nerror: %s\n", err)
			}
			code = 1
		}
	}))
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
