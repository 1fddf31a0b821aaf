package domain

import "math"

// QuestionStats is the per-question accuracy shown on the results page.
type QuestionStats struct {
	QuestionNumber int     `json:"question_number"`
	QuestionID     string  `json:"question_id"`
	Text           string  `json:"text"`
	TotalAnswers   int     `json:"total_answers"`
	CorrectAnswers int     `json:"correct_answers"`
	Accuracy       float64 `json:"accuracy"`
}

// QuizStatistics is the full results payload for a quiz.
type QuizStatistics struct {
	QuizID string `json:"quiz_id"`
	Title  string `json:"title"`
	ResponseStats
	QuestionsStats []QuestionStats `json:"questions_stats"`
}

const statsTextLimit = 50

// AggregateResponses computes ResponseStats in memory. Stores without a
// native aggregation use it directly.
func AggregateResponses(responses []StudentResponse) ResponseStats {
	var stats ResponseStats
	if len(responses) == 0 {
		return stats
	}
	total := 0
	stats.LowestScore = math.MaxInt
	for _, r := range responses {
		stats.TotalParticipants++
		if r.IsCompleted {
			stats.CompletedParticipants++
		}
		total += r.Score
		if r.Score > stats.HighestScore {
			stats.HighestScore = r.Score
		}
		if r.Score < stats.LowestScore {
			stats.LowestScore = r.Score
		}
	}
	stats.AverageScore = float64(total) / float64(len(responses))
	return stats
}

// BuildStatistics combines the aggregate with per-question accuracy.
func BuildStatistics(quiz Quiz, stats ResponseStats, responses []StudentResponse) QuizStatistics {
	type tally struct{ total, correct int }
	counts := make(map[string]*tally, len(quiz.Questions))
	for _, q := range quiz.Questions {
		counts[q.ID] = &tally{}
	}
	for _, r := range responses {
		for _, a := range r.Answers {
			t, ok := counts[a.QuestionID]
			if !ok {
				continue
			}
			t.total++
			if a.IsCorrect {
				t.correct++
			}
		}
	}

	questions := make([]QuestionStats, 0, len(quiz.Questions))
	for i, q := range quiz.Questions {
		t := counts[q.ID]
		accuracy := 0.0
		if t.total > 0 {
			accuracy = Round(float64(t.correct)/float64(t.total)*100, 1)
		}
		questions = append(questions, QuestionStats{
			QuestionNumber: i + 1,
			QuestionID:     q.ID,
			Text:           truncate(q.Text, statsTextLimit),
			TotalAnswers:   t.total,
			CorrectAnswers: t.correct,
			Accuracy:       accuracy,
		})
	}

	stats.AverageScore = Round(stats.AverageScore, 2)
	return QuizStatistics{
		QuizID:         quiz.ID,
		Title:          quiz.Title,
		ResponseStats:  stats,
		QuestionsStats: questions,
	}
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
