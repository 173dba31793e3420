package app

import (
	"os"
	"os/signal"
	"syscall"

	runtime "github.com/banzaicloud/logrus-runtime-formatter"
	"github.com/bombsimon/logrusr/v2"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
)

// App holds attributes for the vmconsole application
type App struct {
	// Viper loads configuration parameters.
	v *viper.Viper
	// App configuration.
	Config *Configuration
	// Kind is the type of application - client/backend
	Kind model.AppKind
	// Logger is the app logger
	Logger *logrus.Logger
}

// New returns returns a new instance of the vmconsole app
func New(appKind model.AppKind, gatewayKind model.GatewayKind, cfgFile string, loglevel int) (*App, <-chan os.Signal, error) {
	if appKind != model.AppKindClient && appKind != model.AppKindBackend {
		return nil, nil, errors.Wrap(ErrConfig, "invalid app kind: "+string(appKind))
	}

	app := &App{
		v:      viper.New(),
		Kind:   appKind,
		Config: &Configuration{},
		Logger: logrus.New(),
	}

	if err := app.LoadConfiguration(cfgFile, gatewayKind); err != nil {
		return nil, nil, err
	}

	switch loglevel {
	case model.LogLevelDebug:
		app.Logger.Level = logrus.DebugLevel
	case model.LogLevelTrace:
		app.Logger.Level = logrus.TraceLevel
	default:
		app.Logger.Level = logrus.InfoLevel
	}

	// a log level in the configuration file takes effect when no flag was given
	if loglevel == model.LogLevelInfo && app.Config.LogLevel != "" {
		if level, err := logrus.ParseLevel(app.Config.LogLevel); err == nil {
			app.Logger.Level = level
		}
	}

	app.Logger.SetFormatter(
		&runtime.Formatter{ChildFormatter: &logrus.JSONFormatter{}},
	)

	// otel internal errors are logged through the app logger
	otel.SetLogger(logrusr.New(app.Logger))

	termCh := make(chan os.Signal, 1)

	// register for SIGINT, SIGTERM
	signal.Notify(termCh, syscall.SIGINT, syscall.SIGTERM)

	return app, termCh, nil
}
