package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// QuizCache shares non-draft quizzes between instances. Entries are stored as
// JSON under quiz:{id}:data; quiz:{id}:gen is bumped on every invalidation and
// a fill only lands if the generation it started from is still current.
// Redis failures degrade to reading through the loader.
type QuizCache struct {
	client *redis.Client
	loader app.QuizReader
	ttl    time.Duration
	sf     singleflight.Group
}

func NewQuizCache(client *redis.Client, loader app.QuizReader, ttl time.Duration) *QuizCache {
	return &QuizCache{client: client, loader: loader, ttl: ttl}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := c.cached(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another instance filled it.
		if quiz, ok := c.cached(ctx, quizID); ok {
			return quiz, nil
		}
		gen, genErr := c.generation(ctx, quizID)

		quiz, err := c.loader.GetQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if genErr == nil && quiz.Status != domain.StatusDraft && c.ttl > 0 {
			c.fill(ctx, quiz, gen)
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// Invalidate drops the entry and moves the generation forward.
func (c *QuizCache) Invalidate(ctx context.Context, quizID string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, c.dataKey(quizID))
	pipe.Incr(ctx, c.genKey(quizID))
	pipe.Expire(ctx, c.genKey(quizID), 24*time.Hour)
	_, err := pipe.Exec(ctx)
	c.sf.Forget(quizID)
	return err
}

func (c *QuizCache) cached(ctx context.Context, quizID string) (domain.Quiz, bool) {
	raw, err := c.client.Get(ctx, c.dataKey(quizID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("quiz cache get %s: %v", quizID, err)
		}
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		log.Printf("quiz cache decode %s: %v", quizID, err)
		return domain.Quiz{}, false
	}
	return quiz, true
}

func (c *QuizCache) generation(ctx context.Context, quizID string) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey(quizID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *QuizCache) fill(ctx context.Context, quiz domain.Quiz, gen int64) {
	payload, err := json.Marshal(quiz)
	if err != nil {
		return
	}
	genKey := c.genKey(quiz.ID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.dataKey(quiz.ID), payload, ttlWithJitter(c.ttl))
			return nil
		})
		return err
	}, genKey)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		log.Printf("quiz cache fill %s: %v", quiz.ID, err)
	}
}

func (c *QuizCache) dataKey(quizID string) string {
	return "quiz:" + quizID + ":data"
}

func (c *QuizCache) genKey(quizID string) string {
	return "quiz:" + quizID + ":gen"
}

// ttlWithJitter adds up to 10% to spread expirations.
func ttlWithJitter(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	jitterMax := int64(ttl) / 10
	return ttl + time.Duration(rand.Int63n(jitterMax+1))
}
