package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/dermassist/internal/config"
	"github.com/wolfman30/dermassist/internal/results"
	"github.com/wolfman30/dermassist/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available; speech cache disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// LoadAWSConfig centralizes AWS SDK initialization so LocalStack and
// production share the same wiring.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	return awsconfig.LoadDefaultConfig(ctx, loaders...)
}

// NewS3Client builds an S3 client, honoring AWS_ENDPOINT_OVERRIDE with
// path-style addressing.
func NewS3Client(awsCfg aws.Config, endpointOverride string) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(endpointOverride); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
}

// ResultStores is the assembled persistence fan-out plus the resources it owns.
type ResultStores struct {
	Store *results.MultiStore
	Pool  *pgxpool.Pool
}

// Close releases the Postgres pool, if any.
func (r *ResultStores) Close() {
	if r != nil && r.Pool != nil {
		r.Pool.Close()
	}
}

// BuildResultStores enables every backend that has configuration. An empty
// fan-out is valid; predictions are then only logged.
func BuildResultStores(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*ResultStores, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	out := &ResultStores{}
	var stores []results.Store

	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: open postgres pool: %w", err)
		}
		out.Pool = pool
		stores = append(stores, results.NewPostgresStore(pool, cfg.PredictionsTable))
		logger.Info("prediction store enabled", "backend", "postgres", "table", cfg.PredictionsTable)
	}

	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		rest, err := results.NewRESTStore(results.RESTConfig{
			BaseURL: cfg.SupabaseURL,
			APIKey:  cfg.SupabaseKey,
			Table:   cfg.PredictionsTable,
		})
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("bootstrap: rest store: %w", err)
		}
		stores = append(stores, rest)
		logger.Info("prediction store enabled", "backend", "rest", "table", cfg.PredictionsTable)
	}

	if bucket := strings.TrimSpace(cfg.PredictionArchiveBucket); bucket != "" {
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		stores = append(stores, results.NewArchiveStore(NewS3Client(awsCfg, cfg.AWSEndpointOverride), bucket))
		logger.Info("prediction store enabled", "backend", "s3", "bucket", bucket)
	}

	out.Store = results.NewMultiStore(stores...)
	if out.Store.Len() == 0 {
		logger.Warn("no prediction store configured; results will not be persisted")
	}
	return out, nil
}
