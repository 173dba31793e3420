package app

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jeremywohl/flatten"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

const (
	defaultGatewayTimeout     = 30 * time.Second
	defaultNatsConnectTimeout = 60 * time.Second
	defaultNatsSubjectPrefix  = "vmconsole"
	defaultRefreshConcurrency = 2
	defaultRefreshAttempts    = 5
	defaultMetricsAddress     = "0.0.0.0:9090"
)

var (
	ErrConfig = errors.New("configuration error")
)

// Configuration holds application configuration read from a YAML or set by env variables.
//
// nolint:govet // prefer readability over field alignment optimization for this case.
type Configuration struct {
	// LogLevel is the app verbose logging level.
	// one of - info, debug, trace
	LogLevel string `mapstructure:"log_level"`

	// AppKind is the application kind - client / backend
	AppKind model.AppKind `mapstructure:"app_kind"`

	Gateway GatewayOptions `mapstructure:"gateway"`

	Inventory InventoryOptions `mapstructure:"inventory"`

	Refresh RefreshOptions `mapstructure:"refresh"`

	Metrics MetricsOptions `mapstructure:"metrics"`

	// NatsOptions is required when the gateway kind is nats.
	NatsOptions *NatsOptions `mapstructure:"nats"`

	// HTTPOptions is required when the gateway kind is http.
	HTTPOptions *HTTPOptions `mapstructure:"http"`
}

type GatewayOptions struct {
	Kind    model.GatewayKind `mapstructure:"kind"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// InventoryOptions points to the YAML inventory served by the local gateway and the backend.
type InventoryOptions struct {
	File string `mapstructure:"file"`
}

type RefreshOptions struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

type MetricsOptions struct {
	ListenAddress string `mapstructure:"listen_address"`
}

// NatsOptions defines the NATS request/reply gateway parameters.
type NatsOptions struct {
	URL            string        `mapstructure:"url"`
	CredsFile      string        `mapstructure:"creds_file"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// HTTPOptions defines configuration for the REST management endpoint client.
type HTTPOptions struct {
	EndpointURL        *url.URL
	Endpoint           string   `mapstructure:"endpoint"`
	OidcIssuerEndpoint string   `mapstructure:"oidc_issuer_endpoint"`
	OidcAudience       string   `mapstructure:"oidc_audience"`
	OidcClientSecret   string   `mapstructure:"oidc_client_secret"`
	OidcClientID       string   `mapstructure:"oidc_client_id"`
	OidcClientScopes   []string `mapstructure:"oidc_client_scopes"`
	DisableOAuth       bool     `mapstructure:"disable_oauth"`
}

// LoadConfiguration loads application configuration
//
// Reads in the cfgFile when available and overrides from environment variables.
func (a *App) LoadConfiguration(cfgFile string, gatewayKind model.GatewayKind) error {
	a.v.SetConfigType("yaml")
	a.v.SetEnvPrefix(model.AppName)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	// these are initialized here so viper can read in configuration from env vars
	// once https://github.com/spf13/viper/pull/1429 is merged, this can go.
	a.Config.NatsOptions = &NatsOptions{}
	a.Config.HTTPOptions = &HTTPOptions{}

	if cfgFile != "" {
		fh, err := os.Open(cfgFile)
		if err != nil {
			return errors.Wrap(ErrConfig, err.Error())
		}

		defer fh.Close()

		if err = a.v.ReadConfig(fh); err != nil {
			return errors.Wrap(ErrConfig, "ReadConfig error:"+err.Error())
		}
	}

	a.v.SetDefault("gateway.timeout", defaultGatewayTimeout)
	a.v.SetDefault("refresh.concurrency", defaultRefreshConcurrency)
	a.v.SetDefault("refresh.max_attempts", defaultRefreshAttempts)
	a.v.SetDefault("metrics.listen_address", defaultMetricsAddress)

	if err := a.envBindVars(); err != nil {
		return errors.Wrap(ErrConfig, "env var bind error:"+err.Error())
	}

	if err := a.v.Unmarshal(a.Config); err != nil {
		return errors.Wrap(ErrConfig, "Unmarshal error: "+err.Error())
	}

	a.Config.AppKind = a.Kind

	// the gateway kind given on the command line wins over the configuration file.
	if gatewayKind != "" {
		a.Config.Gateway.Kind = gatewayKind
	}

	if a.Config.Gateway.Kind == "" {
		a.Config.Gateway.Kind = model.GatewayKindLocal
	}

	switch a.Config.Gateway.Kind {
	case model.GatewayKindNats:
		if err := a.envVarNatsOverrides(); err != nil {
			return errors.Wrap(ErrConfig, "nats env overrides error:"+err.Error())
		}
	case model.GatewayKindHTTP:
		if err := a.envVarHTTPOverrides(); err != nil {
			return errors.Wrap(ErrConfig, "http env overrides error:"+err.Error())
		}
	case model.GatewayKindLocal:
		if a.Config.Inventory.File == "" {
			return errors.Wrap(ErrConfig, "inventory.file required for the local gateway")
		}
	default:
		return errors.Wrap(ErrConfig, "unsupported gateway kind: "+string(a.Config.Gateway.Kind))
	}

	// the backend always serves an inventory
	if a.Kind == model.AppKindBackend && a.Config.Inventory.File == "" {
		return errors.Wrap(ErrConfig, "inventory.file required for the backend")
	}

	return nil
}

// envBindVars binds environment variables to the struct
// without a configuration file being unmarshalled,
// this is a workaround for a viper bug,
//
// This can be replaced by the solution in https://github.com/spf13/viper/pull/1429
// once that PR is merged.
func (a *App) envBindVars() error {
	envKeysMap := map[string]interface{}{}
	if err := mapstructure.Decode(a.Config, &envKeysMap); err != nil {
		return err
	}

	// Flatten nested conf map
	flat, err := flatten.Flatten(envKeysMap, "", flatten.DotStyle)
	if err != nil {
		return errors.Wrap(err, "Unable to flatten config")
	}

	for k := range flat {
		if err := a.v.BindEnv(k); err != nil {
			return errors.Wrap(ErrConfig, "env var bind error: "+err.Error())
		}
	}

	return nil
}

// NatsParams returns the NATS connection parameters.
func (a *App) NatsParams() (nurl, credsFile string, connectTimeout time.Duration, err error) {
	if a.v.GetString("nats.url") != "" {
		nurl = a.v.GetString("nats.url")
	}

	if nurl == "" {
		return "", "", 0, errors.New("missing parameter: nats.url")
	}

	// the creds file is optional, a local nats-server runs without auth.
	if a.v.GetString("nats.creds.file") != "" {
		credsFile = a.v.GetString("nats.creds.file")
	}

	connectTimeout = defaultNatsConnectTimeout
	if a.v.GetDuration("nats.connect.timeout") != 0 {
		connectTimeout = a.v.GetDuration("nats.connect.timeout")
	}

	return nurl, credsFile, connectTimeout, nil
}

func (a *App) envVarNatsOverrides() error {
	if a.Config.NatsOptions == nil {
		a.Config.NatsOptions = &NatsOptions{}
	}

	nurl, credsFile, connectTimeout, err := a.NatsParams()
	if err != nil {
		return err
	}

	a.Config.NatsOptions.URL = nurl

	if a.Config.NatsOptions.ConnectTimeout == 0 || a.v.GetDuration("nats.connect.timeout") != 0 {
		a.Config.NatsOptions.ConnectTimeout = connectTimeout
	}

	if credsFile != "" {
		a.Config.NatsOptions.CredsFile = credsFile
	}

	if a.v.GetString("nats.subject_prefix") != "" {
		a.Config.NatsOptions.SubjectPrefix = a.v.GetString("nats.subject_prefix")
	}

	if a.Config.NatsOptions.SubjectPrefix == "" {
		a.Config.NatsOptions.SubjectPrefix = defaultNatsSubjectPrefix
	}

	return nil
}

// nolint:gocyclo // parameter validation is cyclomatic
func (a *App) envVarHTTPOverrides() error {
	if a.Config.HTTPOptions == nil {
		a.Config.HTTPOptions = &HTTPOptions{}
	}

	if a.v.GetString("http.endpoint") != "" {
		a.Config.HTTPOptions.Endpoint = a.v.GetString("http.endpoint")
	}

	if a.Config.HTTPOptions.Endpoint == "" {
		return errors.New("http endpoint not defined")
	}

	endpointURL, err := url.Parse(a.Config.HTTPOptions.Endpoint)
	if err != nil {
		return errors.New("http endpoint URL error: " + err.Error())
	}

	a.Config.HTTPOptions.EndpointURL = endpointURL

	if a.v.GetString("http.disable_oauth") != "" {
		a.Config.HTTPOptions.DisableOAuth = a.v.GetBool("http.disable_oauth")
	}

	if a.Config.HTTPOptions.DisableOAuth {
		return nil
	}

	if a.v.GetString("http.oidc_issuer_endpoint") != "" {
		a.Config.HTTPOptions.OidcIssuerEndpoint = a.v.GetString("http.oidc_issuer_endpoint")
	}

	if a.Config.HTTPOptions.OidcIssuerEndpoint == "" {
		return errors.New("http oidc_issuer_endpoint not defined")
	}

	if a.v.GetString("http.oidc_audience") != "" {
		a.Config.HTTPOptions.OidcAudience = a.v.GetString("http.oidc_audience")
	}

	if a.Config.HTTPOptions.OidcAudience == "" {
		return errors.New("http oidc_audience not defined")
	}

	if a.v.GetString("http.oidc_client_secret") != "" {
		a.Config.HTTPOptions.OidcClientSecret = a.v.GetString("http.oidc_client_secret")
	}

	if a.Config.HTTPOptions.OidcClientSecret == "" {
		return errors.New("http oidc_client_secret not defined")
	}

	if a.v.GetString("http.oidc_client_id") != "" {
		a.Config.HTTPOptions.OidcClientID = a.v.GetString("http.oidc_client_id")
	}

	if a.Config.HTTPOptions.OidcClientID == "" {
		return errors.New("http oidc_client_id not defined")
	}

	if a.v.GetString("http.oidc_client_scopes") != "" {
		a.Config.HTTPOptions.OidcClientScopes = a.v.GetStringSlice("http.oidc_client_scopes")
	}

	if len(a.Config.HTTPOptions.OidcClientScopes) == 0 {
		return errors.New("http oidc_client_scopes not defined")
	}

	return nil
}
