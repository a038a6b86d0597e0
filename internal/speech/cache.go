package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dermassist/internal/diagnosis"
	"github.com/wolfman30/dermassist/pkg/logging"
)

const (
	keyPrefix  = "speech:"
	defaultTTL = 24 * time.Hour
)

// Synthesizer produces advisory audio. *diagnosis.Client satisfies it.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, disease, tip string, lang diagnosis.Language) (*diagnosis.AudioClip, error)
}

// Cache serves repeated advisories from Redis instead of re-synthesizing them.
// Redis failures degrade to a direct call; they never fail synthesis.
type Cache struct {
	next   Synthesizer
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
	logger *logging.Logger
}

// NewCache wraps next. A nil redis client makes the cache a pass-through.
func NewCache(next Synthesizer, redisClient *redis.Client, ttl time.Duration, logger *logging.Logger) *Cache {
	if next == nil {
		panic("speech: synthesizer cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Cache{
		next:   next,
		redis:  redisClient,
		ttl:    ttl,
		tracer: otel.Tracer("dermassist.internal.speech"),
		logger: logger,
	}
}

// SynthesizeSpeech returns cached audio for the exact disease/tip/language triple
// or delegates and stores the result.
func (c *Cache) SynthesizeSpeech(ctx context.Context, disease, tip string, lang diagnosis.Language) (*diagnosis.AudioClip, error) {
	if c.redis == nil {
		return c.next.SynthesizeSpeech(ctx, disease, tip, lang)
	}

	ctx, span := c.tracer.Start(ctx, "speech.cache.synthesize")
	defer span.End()

	key := cacheKey(disease, tip, lang)
	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil && len(data) > 0:
		c.logger.Debug("speech cache hit", "disease", disease, "language", string(lang))
		return &diagnosis.AudioClip{
			Data:     data,
			MIMEType: "audio/mpeg",
			Disease:  disease,
			Language: lang,
		}, nil
	case err != nil && !errors.Is(err, redis.Nil):
		span.RecordError(err)
		c.logger.Warn("speech cache read failed", "error", err)
	}

	clip, err := c.next.SynthesizeSpeech(ctx, disease, tip, lang)
	if err != nil {
		return nil, err
	}
	if err := c.redis.Set(ctx, key, clip.Data, c.ttl).Err(); err != nil {
		span.RecordError(err)
		c.logger.Warn("speech cache write failed", "error", err)
	}
	return clip, nil
}

func cacheKey(disease, tip string, lang diagnosis.Language) string {
	sum := sha256.Sum256([]byte(string(lang) + "\x00" + disease + "\x00" + tip))
	return keyPrefix + hex.EncodeToString(sum[:])
}
