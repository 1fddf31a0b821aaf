// Package mongo is the document-store backend: quizzes embed their questions
// and every lifecycle or answer mutation is a single filtered update.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quiz-session-service/internal/domain"
)

const (
	quizzesCollection   = "quizzes"
	responsesCollection = "student_responses"
)

type quizDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	domain.Quiz `bson:",inline"`
}

func (d quizDoc) toDomain() domain.Quiz {
	quiz := d.Quiz
	quiz.ID = d.ID.Hex()
	if quiz.Questions == nil {
		quiz.Questions = []domain.Question{}
	}
	return quiz
}

type responseDoc struct {
	ID                     primitive.ObjectID `bson:"_id,omitempty"`
	domain.StudentResponse `bson:",inline"`
}

func (d responseDoc) toDomain() domain.StudentResponse {
	resp := d.StudentResponse
	resp.ID = d.ID.Hex()
	if resp.Answers == nil {
		resp.Answers = []domain.RecordedAnswer{}
	}
	return resp
}

// Store implements app.Store on MongoDB.
type Store struct {
	client    *mongo.Client
	quizzes   *mongo.Collection
	responses *mongo.Collection
}

func NewStore(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:    client,
		quizzes:   db.Collection(quizzesCollection),
		responses: db.Collection(responsesCollection),
	}
}

// Connect dials uri and verifies the connection.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// EnsureIndexes creates the lookup indexes and the uniqueness guarantee on
// (quiz_id, student_email) that join idempotency relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.quizzes.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "course_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("quiz indexes: %w", err)
	}
	_, err = s.responses.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "quiz_id", Value: 1}, {Key: "student_email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "quiz_id", Value: 1}, {Key: "started_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("response indexes: %w", err)
	}
	return nil
}

func (s *Store) CreateQuiz(ctx context.Context, quiz domain.Quiz) (domain.Quiz, error) {
	if quiz.Questions == nil {
		quiz.Questions = []domain.Question{}
	}
	res, err := s.quizzes.InsertOne(ctx, quizDoc{Quiz: quiz})
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("insert quiz: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return domain.Quiz{}, fmt.Errorf("insert quiz: unexpected id %T", res.InsertedID)
	}
	quiz.ID = oid.Hex()
	return quiz, nil
}

func (s *Store) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	oid, err := primitive.ObjectIDFromHex(quizID)
	if err != nil {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	var doc quizDoc
	if err := s.quizzes.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Quiz{}, domain.ErrQuizNotFound
		}
		return domain.Quiz{}, fmt.Errorf("find quiz: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) ListQuizzes(ctx context.Context, filter domain.QuizFilter) ([]domain.QuizSummary, error) {
	query := bson.M{}
	if filter.CourseIDs != nil {
		if len(filter.CourseIDs) == 0 {
			return []domain.QuizSummary{}, nil
		}
		query["course_id"] = bson.M{"$in": filter.CourseIDs}
	}
	cursor, err := s.quizzes.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []quizDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode quizzes: %w", err)
	}
	out := make([]domain.QuizSummary, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain().Summary())
	}
	return out, nil
}

func (s *Store) UpdateQuiz(ctx context.Context, quizID string, patch domain.QuizPatch, at time.Time) (domain.Quiz, error) {
	oid, err := primitive.ObjectIDFromHex(quizID)
	if err != nil {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	set := bson.M{"updated_at": at}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	quiz, err := s.updateQuiz(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, err
}

// DeleteQuiz clears responses before and after the quiz delete. A join that
// inserts after the final sweep finds the quiz gone and removes its own
// response in CreateResponse.
func (s *Store) DeleteQuiz(ctx context.Context, quizID string) error {
	oid, err := primitive.ObjectIDFromHex(quizID)
	if err != nil {
		return domain.ErrQuizNotFound
	}
	if _, err := s.responses.DeleteMany(ctx, bson.M{"quiz_id": quizID}); err != nil {
		return fmt.Errorf("delete responses: %w", err)
	}
	res, err := s.quizzes.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrQuizNotFound
	}
	if _, err := s.responses.DeleteMany(ctx, bson.M{"quiz_id": quizID}); err != nil {
		return fmt.Errorf("sweep responses: %w", err)
	}
	return nil
}

func (s *Store) Activate(ctx context.Context, quizID string, at time.Time) (domain.Quiz, error) {
	oid, err := primitive.ObjectIDFromHex(quizID)
	if err != nil {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	quiz, err := s.updateQuiz(ctx,
		bson.M{"_id": oid, "status": domain.StatusDraft, "questions.0": bson.M{"$exists": true}},
		bson.M{"$set": bson.M{"status": domain.StatusActive, "activated_at": at, "updated_at": at}},
	)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Quiz{}, s.explain(ctx, quizID, domain.Quiz.CheckActivate, domain.ErrAlreadyActive)
	}
	return quiz, err
}

func (s *Store) Finish(ctx context.Context, quizID string, at time.Time) (domain.Quiz, error) {
	oid, err := primitive.ObjectIDFromHex(quizID)
	if err != nil {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	quiz, err := s.updateQuiz(ctx,
		bson.M{"_id": oid, "status": domain.StatusActive},
		bson.M{"$set": bson.M{"status": domain.StatusFinished, "finished_at": at, "updated_at": at}},
	)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Quiz{}, s.explain(ctx, quizID, domain.Quiz.CheckFinish, domain.ErrAlreadyFinished)
	}
	return quiz, err
}

func (s *Store) AddQuestion(ctx context.Context, quizID string, question domain.Question, at time.Time) (domain.Question, error) {
	oid, err := primitive.ObjectIDFromHex(quizID)
	if err != nil {
		return domain.Question{}, domain.ErrQuizNotFound
	}
	_, err = s.updateQuiz(ctx,
		bson.M{"_id": oid, "status": domain.StatusDraft},
		bson.M{"$push": bson.M{"questions": question}, "$set": bson.M{"updated_at": at}},
	)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Question{}, s.explain(ctx, quizID, domain.Quiz.CheckEditable, domain.ErrQuizNotDraft)
	}
	if err != nil {
		return domain.Question{}, err
	}
	return question, nil
}

func (s *Store) ReplaceQuestion(ctx context.Context, quizID string, question domain.Question, at time.Time) (domain.Question, error) {
	oid, err := primitive.ObjectIDFromHex(quizID)
	if err != nil {
		return domain.Question{}, domain.ErrQuizNotFound
	}
	_, err = s.updateQuiz(ctx,
		bson.M{"_id": oid, "status": domain.StatusDraft, "questions._id": question.ID},
		bson.M{"$set": bson.M{"questions.$": question, "updated_at": at}},
	)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Question{}, s.explain(ctx, quizID, editableWith(question.ID), domain.ErrQuizNotDraft)
	}
	if err != nil {
		return domain.Question{}, err
	}
	return question, nil
}

func (s *Store) RemoveQuestion(ctx context.Context, quizID, questionID string, at time.Time) error {
	oid, err := primitive.ObjectIDFromHex(quizID)
	if err != nil {
		return domain.ErrQuizNotFound
	}
	_, err = s.updateQuiz(ctx,
		bson.M{"_id": oid, "status": domain.StatusDraft, "questions._id": questionID},
		bson.M{"$pull": bson.M{"questions": bson.M{"_id": questionID}}, "$set": bson.M{"updated_at": at}},
	)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return s.explain(ctx, quizID, editableWith(questionID), domain.ErrQuizNotDraft)
	}
	return err
}

func (s *Store) GetQuestion(ctx context.Context, quizID, questionID string) (domain.Question, error) {
	quiz, err := s.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Question{}, err
	}
	question, ok := quiz.Question(questionID)
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return question, nil
}

func (s *Store) updateQuiz(ctx context.Context, filter, update bson.M) (domain.Quiz, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc quizDoc
	if err := s.quizzes.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Quiz{}, err
		}
		return domain.Quiz{}, fmt.Errorf("update quiz: %w", err)
	}
	return doc.toDomain(), nil
}

// explain reloads the quiz after a conditional update matched nothing and
// reports which precondition failed. fallback covers a state that changed
// back between the update and the reload.
func (s *Store) explain(ctx context.Context, quizID string, check func(domain.Quiz) error, fallback error) error {
	quiz, err := s.GetQuiz(ctx, quizID)
	if err != nil {
		return err
	}
	if err := check(quiz); err != nil {
		return err
	}
	return fallback
}

func editableWith(questionID string) func(domain.Quiz) error {
	return func(q domain.Quiz) error {
		if err := q.CheckEditable(); err != nil {
			return err
		}
		if _, ok := q.Question(questionID); !ok {
			return domain.ErrQuestionNotFound
		}
		return nil
	}
}

func (s *Store) CreateResponse(ctx context.Context, resp domain.StudentResponse) (domain.StudentResponse, bool, error) {
	quizOID, err := primitive.ObjectIDFromHex(resp.QuizID)
	if err != nil {
		return domain.StudentResponse{}, false, domain.ErrQuizNotFound
	}
	if resp.Answers == nil {
		resp.Answers = []domain.RecordedAnswer{}
	}
	res, err := s.responses.InsertOne(ctx, responseDoc{StudentResponse: resp})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			existing, err := s.GetResponse(ctx, resp.QuizID, resp.StudentEmail)
			return existing, false, err
		}
		return domain.StudentResponse{}, false, fmt.Errorf("insert response: %w", err)
	}
	oid, _ := res.InsertedID.(primitive.ObjectID)
	resp.ID = oid.Hex()

	// No transaction spans both collections; re-check the quiz so an insert
	// landing after DeleteQuiz's final sweep does not survive it.
	n, err := s.quizzes.CountDocuments(ctx, bson.M{"_id": quizOID})
	if err != nil {
		return domain.StudentResponse{}, false, fmt.Errorf("check quiz: %w", err)
	}
	if n == 0 {
		if _, err := s.responses.DeleteOne(ctx, bson.M{"_id": oid}); err != nil {
			return domain.StudentResponse{}, false, fmt.Errorf("remove orphaned response: %w", err)
		}
		return domain.StudentResponse{}, false, domain.ErrQuizNotFound
	}
	return resp, true, nil
}

func (s *Store) GetResponse(ctx context.Context, quizID, email string) (domain.StudentResponse, error) {
	var doc responseDoc
	err := s.responses.FindOne(ctx, bson.M{"quiz_id": quizID, "student_email": email}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.StudentResponse{}, domain.ErrResponseNotFound
		}
		return domain.StudentResponse{}, fmt.Errorf("find response: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) AppendAnswer(ctx context.Context, quizID, email string, answer domain.RecordedAnswer) (domain.StudentResponse, bool, error) {
	filter := bson.M{
		"quiz_id":             quizID,
		"student_email":       email,
		"is_completed":        false,
		"answers.question_id": bson.M{"$ne": answer.QuestionID},
		"$expr":               bson.M{"$lt": bson.A{bson.M{"$size": "$answers"}, "$total_questions"}},
	}
	inc := 0
	if answer.IsCorrect {
		inc = 1
	}
	// The second stage sees the appended array, so the answer that fills the
	// response completes it in the same write.
	reached := bson.M{"$gte": bson.A{bson.M{"$size": "$answers"}, "$total_questions"}}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"answers": bson.M{"$concatArrays": bson.A{"$answers", bson.A{bson.M{"$literal": answer}}}},
			"score":   bson.M{"$add": bson.A{"$score", inc}},
		}}},
		{{Key: "$set", Value: bson.M{
			"is_completed": reached,
			"completed_at": bson.M{"$cond": bson.A{reached, answer.AnsweredAt, "$completed_at"}},
		}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc responseDoc
	err := s.responses.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toDomain(), doc.IsCompleted, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.StudentResponse{}, false, fmt.Errorf("append answer: %w", err)
	}
	current, err := s.GetResponse(ctx, quizID, email)
	if err != nil {
		return domain.StudentResponse{}, false, err
	}
	if err := current.CheckAppend(answer.QuestionID); err != nil {
		return domain.StudentResponse{}, false, err
	}
	return domain.StudentResponse{}, false, domain.ErrAlreadyAnswered
}

func (s *Store) ListResponses(ctx context.Context, quizID string) ([]domain.StudentResponse, error) {
	cursor, err := s.responses.Find(ctx, bson.M{"quiz_id": quizID}, options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []responseDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode responses: %w", err)
	}
	out := make([]domain.StudentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

type statsRow struct {
	Total     int     `bson:"total"`
	Completed int     `bson:"completed"`
	Average   float64 `bson:"average"`
	Highest   int     `bson:"highest"`
	Lowest    int     `bson:"lowest"`
}

// ResponseStats aggregates server side so the snapshot does not pull every
// response over the wire.
func (s *Store) ResponseStats(ctx context.Context, quizID string) (domain.ResponseStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"quiz_id": quizID}}},
		{{Key: "$group", Value: bson.M{
			"_id":       nil,
			"total":     bson.M{"$sum": 1},
			"completed": bson.M{"$sum": bson.M{"$cond": bson.A{"$is_completed", 1, 0}}},
			"average":   bson.M{"$avg": "$score"},
			"highest":   bson.M{"$max": "$score"},
			"lowest":    bson.M{"$min": "$score"},
		}}},
	}
	cursor, err := s.responses.Aggregate(ctx, pipeline)
	if err != nil {
		return domain.ResponseStats{}, fmt.Errorf("aggregate responses: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []statsRow
	if err := cursor.All(ctx, &rows); err != nil {
		return domain.ResponseStats{}, fmt.Errorf("decode stats: %w", err)
	}
	if len(rows) == 0 {
		return domain.ResponseStats{}, nil
	}
	row := rows[0]
	return domain.ResponseStats{
		TotalParticipants:     row.Total,
		CompletedParticipants: row.Completed,
		AverageScore:          row.Average,
		HighestScore:          row.Highest,
		LowestScore:           row.Lowest,
	}, nil
}
