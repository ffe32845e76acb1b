package di

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"

	"signals-backend/application/commands/bus"
	cmdhandlers "signals-backend/application/commands/handlers"
	"signals-backend/application/ports"
	querybus "signals-backend/application/queries/bus"
	queryhandlers "signals-backend/application/queries/handlers"
	"signals-backend/application/services"
	domainconfig "signals-backend/domain/config"
	domainservices "signals-backend/domain/services"
	"signals-backend/infrastructure/config"
	"signals-backend/infrastructure/llm"
	"signals-backend/infrastructure/messaging/eventbridge"
	"signals-backend/infrastructure/persistence/dynamodb"
	"signals-backend/infrastructure/persistence/memory"
	"signals-backend/interfaces/http/rest"
	"signals-backend/pkg/auth"
	"signals-backend/pkg/errors"
	"signals-backend/pkg/observability"
)

// Persistence bundles the storage ports of the selected backend.
type Persistence struct {
	Repositories services.Repositories
	UnitOfWork   ports.UnitOfWorkFactory
	Locker       ports.SubjectLocker
}

// ProvideLogger creates a zap logger
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "signals-backend"), zap.String("version", cfg.Version)), nil
}

// ProvideErrorHandler creates the HTTP error renderer. Stack traces are shown outside production.
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *errors.ErrorHandler {
	return errors.NewErrorHandler(logger, cfg.IsDevelopment())
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideEventPublisher publishes to EventBridge on the dynamodb backend. The memory
// backend is local-only and logs events instead.
func ProvideEventPublisher(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) ports.EventPublisher {
	if cfg.StoreBackend == "memory" || cfg.EventBusName == "" {
		return &loggingPublisher{logger: logger}
	}
	return eventbridge.NewPublisher(client, cfg.EventBusName, logger)
}

// ProvidePersistence selects the storage backend.
func ProvidePersistence(
	cfg *config.Config,
	client *awsdynamodb.Client,
	publisher ports.EventPublisher,
	logger *zap.Logger,
) *Persistence {
	if cfg.StoreBackend == "memory" {
		store := memory.NewStore(publisher, logger)
		return &Persistence{
			Repositories: repositoriesOf(store),
			UnitOfWork:   store,
			Locker:       memory.NewLocker(),
		}
	}

	store := dynamodb.NewStore(client, cfg.DynamoDBTable, publisher, logger)
	owner := cfg.LambdaFunctionName
	if owner == "" {
		owner, _ = os.Hostname()
	}
	return &Persistence{
		Repositories: repositoriesOf(store),
		UnitOfWork:   store,
		Locker:       dynamodb.NewDistributedLock(client, cfg.DynamoDBTable, owner, logger),
	}
}

type repositorySource interface {
	Realms() ports.RealmRepository
	Signals() ports.SignalRepository
	Clusters() ports.ClusterRepository
	Reflections() ports.ReflectionRepository
	Syntheses() ports.SynthesisRepository
}

func repositoriesOf(src repositorySource) services.Repositories {
	return services.Repositories{
		Realms:      src.Realms(),
		Signals:     src.Signals(),
		Clusters:    src.Clusters(),
		Reflections: src.Reflections(),
		Syntheses:   src.Syntheses(),
	}
}

// ProvideCollector creates the Prometheus collector
func ProvideCollector() *observability.Collector {
	return observability.NewCollector("signals")
}

// ProvideCloudWatchMetrics creates the CloudWatch sink. It is inert unless metrics are enabled.
func ProvideCloudWatchMetrics(cfg *config.Config, client *awscloudwatch.Client, logger *zap.Logger) *observability.CloudWatchMetrics {
	if !cfg.EnableMetrics {
		return observability.NewCloudWatchMetrics(cfg.MetricsNS, nil, logger)
	}
	return observability.NewCloudWatchMetrics(cfg.MetricsNS, client, logger)
}

// ProvideMetrics fans orchestration measurements out to Prometheus and CloudWatch.
func ProvideMetrics(collector *observability.Collector, cw *observability.CloudWatchMetrics) ports.Metrics {
	return observability.MultiRecorder{collector, cw}
}

// ProvideCredentials loads the provider credentials file once.
func ProvideCredentials(cfg *config.Config) (*config.CredentialStore, error) {
	return config.LoadCredentials(cfg.CredentialsFile)
}

// ProvideProviderRegistry creates the AI provider registry. The mock provider is
// available everywhere but production.
func ProvideProviderRegistry(cfg *config.Config, creds *config.CredentialStore, logger *zap.Logger) ports.ProviderRegistry {
	return llm.NewRegistry(creds, !cfg.IsProduction(), logger)
}

// ProvideDomainConfig overlays environment tunables on the domain defaults.
func ProvideDomainConfig(cfg *config.Config) *domainconfig.DomainConfig {
	return cfg.DomainConfig()
}

// ProvideCoordinator assembles the orchestration engines around the storage ports.
func ProvideCoordinator(
	p *Persistence,
	registry ports.ProviderRegistry,
	metrics ports.Metrics,
	dcfg *domainconfig.DomainConfig,
	logger *zap.Logger,
) *services.Coordinator {
	repos := p.Repositories
	hierarchy := domainservices.NewClusterHierarchyService(dcfg)
	invoker := services.NewProviderInvoker(registry, dcfg, metrics, logger)

	return services.NewCoordinator(
		repos,
		p.UnitOfWork,
		p.Locker,
		services.NewSubjectResolver(repos.Signals, repos.Clusters),
		services.NewAccountRegistry(repos.Realms, p.UnitOfWork, dcfg, logger),
		services.NewAnalysisEngine(invoker, dcfg, logger),
		services.NewReflectionEngine(invoker, repos.Signals, repos.Clusters, dcfg, logger),
		services.NewSynthesisEngine(invoker, repos.Signals, repos.Clusters, repos.Reflections, hierarchy, dcfg, logger),
		hierarchy,
		dcfg,
		metrics,
		logger,
	)
}

// ProvideCommandBus registers every orchestration command.
func ProvideCommandBus(coordinator *services.Coordinator, logger *zap.Logger) (*bus.CommandBus, error) {
	b := bus.NewCommandBus(bus.LoggingMiddleware(logger))
	if err := cmdhandlers.NewOrchestrationHandlers(coordinator).Register(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ProvideQueryBus registers every orchestration query.
func ProvideQueryBus(coordinator *services.Coordinator) (*querybus.QueryBus, error) {
	b := querybus.NewQueryBus()
	if err := queryhandlers.Register(b, coordinator); err != nil {
		return nil, err
	}
	return b, nil
}

// ProvideJWTValidator creates the token validator from the secret loaded at startup.
func ProvideJWTValidator(cfg *config.Config) (*auth.JWTValidator, error) {
	var audience []string
	if cfg.JWTAudience != "" {
		audience = strings.Split(cfg.JWTAudience, ",")
	}
	return auth.NewJWTValidator(auth.JWTConfig{
		SigningMethod: cfg.JWTMethod,
		PublicKey:     cfg.JWTPublicKey,
		SecretKey:     cfg.JWTSecret,
		Issuer:        cfg.JWTIssuer,
		Audience:      audience,
	})
}

// ProvideRateLimiter creates the per-realm limiter for orchestration routes.
func ProvideRateLimiter(cfg *config.Config) *auth.KeyedLimiter {
	if cfg.RealmRateLimit <= 0 {
		return nil
	}
	return auth.NewKeyedLimiter(cfg.RealmRateLimit, cfg.RealmBurst)
}

// ProvideHTTPHandler builds the chi router.
func ProvideHTTPHandler(
	cfg *config.Config,
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	validator *auth.JWTValidator,
	limiter *auth.KeyedLimiter,
	collector *observability.Collector,
	logger *zap.Logger,
	errorHandler *errors.ErrorHandler,
) http.Handler {
	var origins []string
	if cfg.EnableCORS {
		origins = strings.Split(cfg.AllowedOrigin, ",")
	}
	if !cfg.EnableMetrics {
		collector = nil
	}
	return rest.NewRouter(commandBus, queryBus, validator, limiter, collector, origins, logger, errorHandler).Setup()
}
