package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"identity-service/internal/bucketing"
	"identity-service/internal/client"
	"identity-service/internal/config"
	"identity-service/internal/hashing"
	"identity-service/internal/notify"
	redisrepo "identity-service/internal/repository/redis"
	"identity-service/internal/repository/scylla"
	"identity-service/internal/service"
	"identity-service/internal/tls"
	"identity-service/internal/token"
	"identity-service/internal/util"
)

// Factory builds and owns every application dependency, leaf to root.
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	redisClient   *client.RedisClient
	scyllaClient  *scylla.ScyllaClient
	kafkaProducer *client.KafkaProducer

	issuer      *token.Issuer
	authService *service.AuthService

	closeOnce sync.Once
}

func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{config: cfg}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg.Server.CertFile, cfg.Server.KeyFile)
	}

	redisClient, err := client.NewRedisClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis client: %w", err)
	}
	f.redisClient = redisClient

	scyllaClient, err := scylla.NewScyllaClient(cfg)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize scylla client: %w", err)
	}
	f.scyllaClient = scyllaClient

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Kafka.Enabled {
		producer, err := client.NewKafkaProducer(cfg)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to initialize kafka producer: %w", err)
		}
		f.kafkaProducer = producer
		notifier = notify.NewKafkaNotifier(producer, cfg.Kafka.OTPTopic)
	}

	bucketingMgr := bucketing.NewBucketingManager(cfg.Bucketing.AccountBuckets)
	hasher := hashing.NewHasher(cfg.Hashing.BcryptCost)
	f.issuer = token.NewIssuer(cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)

	accountRepo := scylla.NewAccountRepository(scyllaClient)
	auditRepo := scylla.NewOTPAuditRepository(scyllaClient)
	sessionRepo := scylla.NewSessionRepository(scyllaClient)
	challengeCache := redisrepo.NewChallengeCache(redisClient)

	credentials := service.NewCredentialStore(accountRepo, hasher, bucketingMgr)
	otpService := service.NewOTPService(challengeCache, auditRepo, notifier, cfg.OTP.Length, cfg.OTP.TTL)
	tokenService := service.NewTokenService(f.issuer, sessionRepo, bucketingMgr)
	f.authService = service.NewAuthService(credentials, otpService, tokenService)

	util.Info("Factory initialized",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled))

	return f, nil
}

// Bootstrap runs the startup checks and seeds the admin account. Health
// checks run concurrently; seeding waits for them.
func (f *Factory) Bootstrap(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.redisClient.HealthCheck(ctx) })
	g.Go(func() error { return f.scyllaClient.HealthCheck(ctx) })
	if f.kafkaProducer != nil {
		g.Go(func() error { return f.kafkaProducer.HealthCheck(ctx) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("startup health checks failed: %w", err)
	}

	admin := f.config.Admin
	if err := f.authService.EnsureAdmin(ctx, admin.Email, admin.Password); err != nil {
		return fmt.Errorf("failed to seed admin account: %w", err)
	}

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) AuthService() *service.AuthService {
	return f.authService
}

func (f *Factory) TokenIssuer() *token.Issuer {
	return f.issuer
}

// Close releases clients in reverse initialization order. Safe to call
// more than once and on a partially initialized factory.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.kafkaProducer != nil {
			_ = f.kafkaProducer.Close()
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			_ = f.redisClient.Close()
		}
		util.Sync()
	})
}
