package main

import (
	"context"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/couchbaselabs/ravenclient/client"
	"github.com/couchbaselabs/ravenclient/utils/buildversion"
	"github.com/couchbaselabs/ravenclient/utils/secretsmanager"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var buildVersion string = buildversion.GetVersion("github.com/couchbaselabs/ravenclient")

var rootCmd = &cobra.Command{
	Version: buildVersion,

	Use:   "ravenctl",
	Short: "A topology aware command line client for RavenDB clusters",

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// values from the environment always win over these files
		_ = godotenv.Load(".env")
		_ = godotenv.Load(".env.local")

		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			err := viper.ReadInConfig()
			if err != nil {
				return fmt.Errorf("failed to load specified config file: %w", err)
			}
		}

		return nil
	},
}

var cfgFile string
var watchCfgFile bool

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "specifies a config file to load")
	rootCmd.PersistentFlags().BoolVar(&watchCfgFile, "watch-config", false, "indicates whether to watch the config file for changes")

	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.StringSlice("urls", []string{"http://127.0.0.1:8080"}, "the seed urls of the cluster")
	configFlags.String("database", "", "the default database")
	configFlags.String("cert", "", "path to a pem file holding the client certificate and key")
	configFlags.String("trust-store", "", "path to a pem file of certificates trusted for the server")
	configFlags.String("proxy", "", "address of a proxy to send requests through")
	configFlags.StringSlice("dns-override", nil, "host=ip pairs which bypass dns resolution")
	configFlags.Bool("disable-topology-updates", false, "disables topology refreshes after the initial discovery")
	configFlags.String("read-balance", "none", "how requests are spread across nodes (none, fastest)")
	configFlags.Duration("topology-refresh-interval", 60*time.Second, "how often the topology is refreshed")
	configFlags.Duration("request-timeout", 0, "timeout for each request, 0 for none")
	configFlags.String("bind-address", "0.0.0.0", "the local address to bind the web api to")
	configFlags.Int("web-port", 9091, "the web metrics/health port")
	configFlags.String("otlp-endpoint", "", "opentelemetry endpoint to send telemetry to")
	configFlags.Bool("disable-otlp-traces", false, "disable sending traces to otlp")
	configFlags.Bool("disable-otlp-metrics", false, "disable sending metrics to otlp")
	configFlags.Bool("trace-everything", false, "enables tracing of all requests")
	configFlags.String("cert-aws-id", "", "id of secret in aws sm storing the client certificate")
	configFlags.String("cert-aws-region", "", "region of cert-aws-id secret")
	configFlags.String("cert-azure-id", "", "id of secret in azure kv storing the client certificate")
	configFlags.String("cert-azure-vault-name", "", "name of key vault storing cert-azure-id")
	configFlags.String("cert-gcp-id", "", "id of secret in gcp sm storing the client certificate")
	configFlags.String("cert-gcp-project-id", "", "id of project containing cert-gcp-id")
	rootCmd.PersistentFlags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("raven")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)

	rootCmd.AddCommand(topologyCmd, docsCmd, watchCmd)
}

func initTelemetry(
	ctx context.Context,
	logger *zap.Logger,
	otlpEndpoint string,
	enableTraces bool,
	enableMetrics bool,
	traceEverything bool,
) (
	*sdktrace.TracerProvider,
	*sdkmetric.MeterProvider,
	error,
) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			// the service name used to display traces in backends
			semconv.ServiceNameKey.String("ravenctl"),
		),
	)
	if err != nil {
		if res == nil {
			return nil, nil, err
		}

		logger.Warn("failed to setup some part of opentelemetry resource", zap.Error(err))
	}

	promExp, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	var meterProvider *sdkmetric.MeterProvider
	if !enableMetrics || otlpEndpoint == "" {
		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExp),
		)
	} else {
		metricExp, err := otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithEndpoint(otlpEndpoint))
		if err != nil {
			return nil, nil, err
		}

		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExp),
			sdkmetric.WithReader(
				sdkmetric.NewPeriodicReader(
					metricExp,
				),
			),
		)
	}

	var tracerProvider *sdktrace.TracerProvider
	if enableTraces && otlpEndpoint != "" {
		traceClient := otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(otlpEndpoint))
		traceExp, err := otlptrace.New(ctx, traceClient)
		if err != nil {
			return nil, nil, err
		}

		baseTracing := sdktrace.NeverSample()
		if traceEverything {
			baseTracing = sdktrace.AlwaysSample()
		}

		bsp := sdktrace.NewBatchSpanProcessor(traceExp)
		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(baseTracing)),
			sdktrace.WithResource(res),
			sdktrace.WithSpanProcessor(bsp),
		)
	}

	return tracerProvider, meterProvider, nil
}

func getLogger() (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stderr), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

type config struct {
	logLevelStr             string
	urls                    []string
	database                string
	certPath                string
	trustStorePath          string
	proxy                   string
	dnsOverrides            []string
	disableTopologyUpdates  bool
	readBalance             string
	topologyRefreshInterval time.Duration
	requestTimeout          time.Duration
	bindAddress             string
	webPort                 int
	otlpEndpoint            string
	disableOtlpTraces       bool
	disableOtlpMetrics      bool
	traceEverything         bool
	certAwsId               string
	certAwsRegion           string
	certAzureId             string
	certAzureVaultName      string
	certGcpId               string
	certGcpProjectId        string
}

func readConfig(logger *zap.Logger) *config {
	config := &config{
		logLevelStr:             viper.GetString("log-level"),
		urls:                    viper.GetStringSlice("urls"),
		database:                viper.GetString("database"),
		certPath:                viper.GetString("cert"),
		trustStorePath:          viper.GetString("trust-store"),
		proxy:                   viper.GetString("proxy"),
		dnsOverrides:            viper.GetStringSlice("dns-override"),
		disableTopologyUpdates:  viper.GetBool("disable-topology-updates"),
		readBalance:             viper.GetString("read-balance"),
		topologyRefreshInterval: viper.GetDuration("topology-refresh-interval"),
		requestTimeout:          viper.GetDuration("request-timeout"),
		bindAddress:             viper.GetString("bind-address"),
		webPort:                 viper.GetInt("web-port"),
		otlpEndpoint:            viper.GetString("otlp-endpoint"),
		disableOtlpTraces:       viper.GetBool("disable-otlp-traces"),
		disableOtlpMetrics:      viper.GetBool("disable-otlp-metrics"),
		traceEverything:         viper.GetBool("trace-everything"),
		certAwsId:               viper.GetString("cert-aws-id"),
		certAwsRegion:           viper.GetString("cert-aws-region"),
		certAzureId:             viper.GetString("cert-azure-id"),
		certAzureVaultName:      viper.GetString("cert-azure-vault-name"),
		certGcpId:               viper.GetString("cert-gcp-id"),
		certGcpProjectId:        viper.GetString("cert-gcp-project-id"),
	}

	logger.Debug("parsed ravenctl configuration",
		zap.String("logLevelStr", config.logLevelStr),
		zap.Strings("urls", config.urls),
		zap.String("database", config.database),
		zap.String("certPath", config.certPath),
		zap.String("trustStorePath", config.trustStorePath),
		zap.String("proxy", config.proxy),
		zap.Strings("dnsOverrides", config.dnsOverrides),
		zap.Bool("disableTopologyUpdates", config.disableTopologyUpdates),
		zap.String("readBalance", config.readBalance),
		zap.Duration("topologyRefreshInterval", config.topologyRefreshInterval),
		zap.Duration("requestTimeout", config.requestTimeout),
		zap.String("bindAddress", config.bindAddress),
		zap.Int("webPort", config.webPort),
		zap.String("otlpEndpoint", config.otlpEndpoint),
		zap.Bool("disableOtlpTraces", config.disableOtlpTraces),
		zap.Bool("disableOtlpMetrics", config.disableOtlpMetrics),
		zap.Bool("traceEverything", config.traceEverything),
		zap.String("certAwsId", config.certAwsId),
		zap.String("certAwsRegion", config.certAwsRegion),
		zap.String("certAzureId", config.certAzureId),
		zap.String("certAzureVaultName", config.certAzureVaultName),
		zap.String("certGcpId", config.certGcpId),
		zap.String("certGcpProjectId", config.certGcpProjectId))

	return config
}

func setLogLevel(logger *zap.Logger, logLevel zap.AtomicLevel, logLevelStr string) {
	parsedLogLevel, err := zapcore.ParseLevel(logLevelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead")
		parsedLogLevel = zapcore.InfoLevel
	}
	logLevel.SetLevel(parsedLogLevel)
}

func parseDNSOverrides(entries []string) (map[string]net.IP, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	overrides := make(map[string]net.IP, len(entries))
	for _, entry := range entries {
		host, addr, ok := strings.Cut(entry, "=")
		if !ok || host == "" {
			return nil, fmt.Errorf("invalid dns override %q, expected host=ip", entry)
		}

		ip := net.ParseIP(addr)
		if ip == nil {
			return nil, fmt.Errorf("invalid ip address in dns override %q", entry)
		}

		overrides[host] = ip
	}

	return overrides, nil
}

func loadTrustStore(path string) (*x509.CertPool, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}

	return pool, nil
}

// fetchIdentity returns the client identity stored in a cloud secret manager,
// or nil when none was configured.
func fetchIdentity(ctx context.Context, logger *zap.Logger, config *config) ([]byte, error) {
	if config.certAwsId != "" {
		if config.certAwsRegion == "" {
			return nil, fmt.Errorf("must specify region and id when fetching secrets from aws")
		}

		logger.Info("fetching client certificate from aws secrets manager")
		return secretsmanager.FetchAWSIdentity(ctx, config.certAwsId, config.certAwsRegion)
	}

	if config.certAzureId != "" {
		if config.certAzureVaultName == "" {
			return nil, fmt.Errorf("must specify key vault name and id when fetching secrets from azure")
		}

		logger.Info("fetching client certificate from azure key vault")
		return secretsmanager.FetchAzureIdentity(ctx, config.certAzureId, config.certAzureVaultName)
	}

	if config.certGcpId != "" {
		if config.certGcpProjectId == "" {
			return nil, fmt.Errorf("must specify project and secret ids when fetching secrets from gcp")
		}

		logger.Info("fetching client certificate from gcp secrets manager")
		return secretsmanager.FetchGcpIdentity(ctx, config.certGcpId, config.certGcpProjectId)
	}

	return nil, nil
}

func buildConventions(config *config) (client.Conventions, error) {
	conventions := client.DefaultConventions()
	conventions.DisableTopologyUpdates = config.disableTopologyUpdates
	conventions.TopologyRefreshInterval = config.topologyRefreshInterval
	conventions.RequestTimeout = config.requestTimeout

	switch config.readBalance {
	case "", "none":
		conventions.ReadBalanceBehavior = client.ReadBalanceNone
	case "fastest":
		conventions.ReadBalanceBehavior = client.ReadBalanceFastestNode
	default:
		return conventions, fmt.Errorf("unknown read balance behaviour %q", config.readBalance)
	}

	return conventions, nil
}

type storeEnv struct {
	store          *client.DocumentStore
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

func (e *storeEnv) Close(ctx context.Context) {
	e.store.Close()
	if e.tracerProvider != nil {
		_ = e.tracerProvider.Shutdown(ctx)
	}
	if e.meterProvider != nil {
		_ = e.meterProvider.Shutdown(ctx)
	}
}

func openStore(ctx context.Context, logger *zap.Logger, config *config) (*storeEnv, error) {
	tracerProvider, meterProvider, err :=
		initTelemetry(ctx,
			logger,
			config.otlpEndpoint,
			!config.disableOtlpTraces,
			!config.disableOtlpMetrics,
			config.traceEverything)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize opentelemetry: %w", err)
	}

	conventions, err := buildConventions(config)
	if err != nil {
		return nil, err
	}

	dnsOverrides, err := parseDNSOverrides(config.dnsOverrides)
	if err != nil {
		return nil, err
	}

	builder := client.NewDocumentStoreBuilder().
		SetURLs(config.urls...).
		SetDatabaseName(config.database).
		SetDNSOverrides(dnsOverrides).
		SetProxyAddress(config.proxy).
		SetConventions(conventions).
		SetLogger(logger.Named("client")).
		SetMeterProvider(meterProvider)
	if tracerProvider != nil {
		builder.SetTracerProvider(tracerProvider)
	}

	if config.certPath != "" {
		builder.SetClientCertificate(config.certPath)
	} else {
		identity, err := fetchIdentity(ctx, logger, config)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch client certificate: %w", err)
		}
		if identity != nil {
			builder.SetClientCertificatePEM(identity)
		}
	}

	if config.trustStorePath != "" {
		pool, err := loadTrustStore(config.trustStorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load trust store: %w", err)
		}
		builder.SetTrustStore(pool)
	}

	store, err := builder.Build()
	if err != nil {
		return nil, err
	}

	return &storeEnv{
		store:          store,
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
	}, nil
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
