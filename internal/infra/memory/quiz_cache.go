package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// QuizCache caches non-draft quizzes with a jittered TTL so the student hot
// path does not reload the quiz on every answer. Drafts are never cached since
// they still change; callers invalidate on finish, update and delete.
type QuizCache struct {
	loader app.QuizReader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedQuiz
	// gen and inflight only hold quizzes with a load in progress.
	gen      map[string]uint64
	inflight map[string]int
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizCache(loader app.QuizReader, ttl time.Duration) *QuizCache {
	return &QuizCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		cache:    make(map[string]cachedQuiz),
		gen:      make(map[string]uint64),
		inflight: make(map[string]int),
	}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := c.lookup(quizID); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		if quiz, ok := c.lookup(quizID); ok {
			return quiz, nil
		}
		c.mu.Lock()
		gen := c.gen[quizID]
		c.inflight[quizID]++
		c.mu.Unlock()

		quiz, err := c.loader.GetQuiz(ctx, quizID)

		c.mu.Lock()
		defer c.mu.Unlock()
		// an Invalidate that ran while loading wins over this fill
		fresh := c.gen[quizID] == gen
		c.release(quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if fresh && quiz.Status != domain.StatusDraft && c.ttl > 0 {
			c.cache[quizID] = cachedQuiz{quiz: quiz, expiresAt: c.clock().Add(ttlWithJitter(c.ttl))}
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return cloneQuiz(result.(domain.Quiz)), nil
}

// Invalidate drops the cached entry and any fill already in flight.
func (c *QuizCache) Invalidate(_ context.Context, quizID string) error {
	c.mu.Lock()
	delete(c.cache, quizID)
	if c.inflight[quizID] > 0 {
		c.gen[quizID]++
	} else {
		delete(c.gen, quizID)
	}
	c.mu.Unlock()
	c.sf.Forget(quizID)
	return nil
}

// release ends one load; the last one out drops the quiz's bookkeeping.
// Callers hold c.mu.
func (c *QuizCache) release(quizID string) {
	if c.inflight[quizID] > 1 {
		c.inflight[quizID]--
		return
	}
	delete(c.inflight, quizID)
	delete(c.gen, quizID)
}

func (c *QuizCache) lookup(quizID string) (domain.Quiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[quizID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Quiz{}, false
	}
	return cloneQuiz(entry.quiz), true
}

// ttlWithJitter adds up to 10% to spread expirations.
func ttlWithJitter(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	jitterMax := int64(ttl) / 10
	return ttl + time.Duration(rand.Int63n(jitterMax+1))
}
