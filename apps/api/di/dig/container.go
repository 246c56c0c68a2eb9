package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/MrXof/ElectiveFlow/apps/api/echo"
	"github.com/MrXof/ElectiveFlow/core"
	"github.com/MrXof/ElectiveFlow/core/elective"
	"github.com/MrXof/ElectiveFlow/core/news"
	"github.com/MrXof/ElectiveFlow/core/user"
	appfs "github.com/MrXof/ElectiveFlow/fs"
	emailsvc "github.com/MrXof/ElectiveFlow/services/email"
	logsvc "github.com/MrXof/ElectiveFlow/services/logger"
	"github.com/MrXof/ElectiveFlow/storage/database"
	inmemdb "github.com/MrXof/ElectiveFlow/storage/database/inmem"
	mongorepos "github.com/MrXof/ElectiveFlow/storage/database/mongo"
	boiledrepos "github.com/MrXof/ElectiveFlow/storage/database/sqlboiler"
	sqlxrepos "github.com/MrXof/ElectiveFlow/storage/database/sqlx"
)

var dbSetupTimeout = time.Minute

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// DBCloser releases the storage connections.
	DBCloser func() error

	Repositories struct {
		dig.Out
		Users     user.Repository
		Electives elective.Repository
		Analytics elective.AnalyticsRepository
		News      news.Repository
		Closer    DBCloser
	}

	ServerParams struct {
		dig.In
		UserSvc     *user.Service
		ElectiveSvc *elective.Service
		NewsSvc     *news.Service
		Validate    *validator.Validate
		Translator  ut.Translator
	}
)

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newPostgresRepositories(ctx context.Context, conf *core.Config) (Repositories, error) {
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return Repositories{}, err
	}
	db, err := database.Open(conf)
	if err != nil {
		return Repositories{}, err
	}
	if err = database.Ping(ctx, db); err != nil {
		_ = db.Close()
		return Repositories{}, err
	}
	if err = database.Migrate(db.DB); err != nil {
		_ = db.Close()
		return Repositories{}, err
	}
	return Repositories{
		Users:     sqlxrepos.NewUserRepository(db),
		Electives: sqlxrepos.NewElectiveRepository(db),
		Analytics: boiledrepos.NewAnalyticsRepository(db),
		News:      sqlxrepos.NewNewsRepository(db),
		Closer:    db.Close,
	}, nil
}

func newMongoRepositories(ctx context.Context, conf *core.Config) (Repositories, error) {
	client, err := database.ConnectMongo(ctx, conf)
	if err != nil {
		return Repositories{}, err
	}
	db := client.Database(conf.Database.Name)
	if err = mongorepos.EnsureIndexes(ctx, db); err != nil {
		_ = client.Disconnect(ctx)
		return Repositories{}, err
	}
	return Repositories{
		Users:     mongorepos.NewUserRepository(db),
		Electives: mongorepos.NewElectiveRepository(db),
		Analytics: mongorepos.NewAnalyticsRepository(db),
		News:      mongorepos.NewNewsRepository(db),
		Closer:    func() error { return client.Disconnect(context.Background()) },
	}, nil
}

func newRepositories(conf *core.Config, loggerParam DBLoggerParam) Repositories {
	ctx, cancel := context.WithTimeout(context.Background(), dbSetupTimeout)
	defer cancel()

	var repos Repositories
	var err error
	switch conf.Database.Engine {
	case core.DBEnginePostgres:
		repos, err = newPostgresRepositories(ctx, conf)
	case core.DBEngineMongo:
		repos, err = newMongoRepositories(ctx, conf)
	case core.DBEngineMemory:
		db := inmemdb.NewDB()
		repos = Repositories{
			Users:     inmemdb.NewUserRepository(db),
			Electives: inmemdb.NewElectiveRepository(db),
			Analytics: inmemdb.NewAnalyticsRepository(db),
			News:      inmemdb.NewNewsRepository(db),
			Closer:    func() error { return nil },
		}
	default:
		err = errors.Errorf("unknown database engine %q", conf.Database.Engine)
	}
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	loggerParam.Logger.Info("database ready", map[string]interface{}{"engine": conf.Database.Engine})
	return repos
}

func newEmailTemplates(conf *core.Config) (*core.EmailTemplates, error) {
	return core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf.FrontendBaseURL, true)
}

func newEmailService(conf *core.Config, tmpls *core.EmailTemplates, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, tmpls, logger)
	}
	return emailsvc.NewSendgridService(conf, tmpls, logger)
}

func newServerDeps(p ServerParams) echoapi.Deps {
	return echoapi.Deps{
		UserSvc:     p.UserSvc,
		ElectiveSvc: p.ElectiveSvc,
		NewsSvc:     p.NewsSvc,
		Validate:    p.Validate,
		Translator:  p.Translator,
	}
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newRepositories))
	must(c.Provide(newEmailTemplates))
	must(c.Provide(newEmailService))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(user.NewService))
	must(c.Provide(elective.NewService))
	must(c.Provide(news.NewService))
	must(c.Provide(newServerDeps))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
