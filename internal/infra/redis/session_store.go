package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"classquiz/internal/app"
	"classquiz/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// SessionStore keeps the shared session record in Redis so every client (and every server
// instance) sees the same roster, answers and game state.
//
// Keys:
//
//	quiz:state                          JSON GameStateRecord
//	quiz:version                        INCR counter; survives resets
//	quiz:{session}:roster               LIST of participant ids in join order
//	quiz:{session}:participants         HASH id -> JSON participant
//	quiz:{session}:scores               HASH id -> cumulative score
//	quiz:{session}:answers:{question}   HASH participant id -> JSON answer (HSETNX)
type SessionStore struct {
	client    *redis.Client
	questions app.QuestionSource
	clock     clockwork.Clock
	ttl       time.Duration
}

func NewSessionStore(client *redis.Client, questions app.QuestionSource, clock clockwork.Clock, ttl time.Duration) *SessionStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionStore{
		client:    client,
		questions: questions,
		clock:     clock,
		ttl:       ttl,
	}
}

const (
	stateKey   = "quiz:state"
	versionKey = "quiz:version"
)

func (s *SessionStore) GetRoster(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	sid, ok, err := s.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []domain.Participant{}, nil
	}
	ids, err := s.client.LRange(ctx, s.rosterKey(sid), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	out := make([]domain.Participant, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	raw, err := s.client.HMGet(ctx, s.participantsKey(sid), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("read participants: %w", err)
	}
	scores, err := s.client.HMGet(ctx, s.scoresKey(sid), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("read scores: %w", err)
	}
	for i, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var p domain.Participant
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			return nil, fmt.Errorf("decode participant %s: %w", ids[i], err)
		}
		if score, ok := scores[i].(string); ok {
			p.Score, _ = strconv.Atoi(score)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SessionStore) AddParticipant(ctx context.Context, name, sessionID string) (domain.Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Participant{}, domain.ErrEmptyName
	}
	state, err := s.GetGameState(ctx)
	if err != nil {
		return domain.Participant{}, err
	}
	if state.Empty() || (sessionID != "" && sessionID != state.SessionID) {
		return domain.Participant{}, domain.ErrSessionNotFound
	}
	if state.Phase != domain.PhaseLobby {
		return domain.Participant{}, domain.ErrJoinClosed
	}

	p := domain.Participant{
		ID:        uuid.NewString(),
		Name:      name,
		SessionID: state.SessionID,
		JoinedAt:  s.clock.Now().UTC(),
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("encode participant: %w", err)
	}

	rosterKey := s.rosterKey(state.SessionID)
	n, err := s.client.RPush(ctx, rosterKey, p.ID).Result()
	if err != nil {
		return domain.Participant{}, fmt.Errorf("join: %w", err)
	}
	if n > domain.MaxParticipants {
		if err := s.client.LRem(ctx, rosterKey, 1, p.ID).Err(); err != nil {
			return domain.Participant{}, errors.Join(domain.ErrSessionFull, fmt.Errorf("undo join of %s: %w", p.ID, err))
		}
		return domain.Participant{}, domain.ErrSessionFull
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.participantsKey(state.SessionID), p.ID, payload)
	pipe.HSet(ctx, s.scoresKey(state.SessionID), p.ID, 0)
	s.expire(ctx, pipe, rosterKey, s.participantsKey(state.SessionID), s.scoresKey(state.SessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		err = fmt.Errorf("store participant: %w", err)
		if undo := s.client.LRem(ctx, rosterKey, 1, p.ID).Err(); undo != nil {
			err = errors.Join(err, fmt.Errorf("undo join of %s: %w", p.ID, undo))
		}
		return domain.Participant{}, err
	}
	return p, nil
}

func (s *SessionStore) GetQuestions(ctx context.Context) ([]domain.Question, error) {
	return s.questions.GetQuestions(ctx)
}

// SubmitAnswer records the answer with HSETNX and then adds its score and refreshes the
// answer key's TTL in one transaction. Only the caller that wins the HSETNX adds to the score;
// everyone else gets the stored result replayed. When that transaction fails after the answer
// was stored, ErrPartialSubmit is returned together with the result.
func (s *SessionStore) SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) (domain.SubmitResult, error) {
	questions, err := s.questions.GetQuestions(ctx)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("load questions: %w", err)
	}
	q, ok := domain.FindQuestion(questions, sub.QuestionID)
	if !ok {
		return domain.SubmitResult{}, domain.ErrQuestionNotFound
	}
	state, err := s.GetGameState(ctx)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if state.Empty() || (sub.SessionID != "" && sub.SessionID != state.SessionID) {
		return domain.SubmitResult{}, domain.ErrSessionNotFound
	}
	sid := state.SessionID
	joined, err := s.client.HExists(ctx, s.participantsKey(sid), sub.ParticipantID).Result()
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("read participant: %w", err)
	}
	if !joined {
		return domain.SubmitResult{}, domain.ErrParticipantNotFound
	}

	answersKey := s.answersKey(sid, sub.QuestionID)
	if prior, ok, err := s.storedAnswer(ctx, answersKey, sub.ParticipantID); err != nil {
		return domain.SubmitResult{}, err
	} else if ok {
		return domain.ResultOf(prior, q, true), nil
	}

	i := state.CurrentQuestionIndex
	if !state.Phase.AcceptsAnswers() || i < 0 || i >= len(questions) || questions[i].ID != sub.QuestionID {
		return domain.SubmitResult{}, domain.ErrNotAcceptingAnswers
	}

	answer, err := domain.GradeAnswer(q, sub, state.TimeBudget, s.clock.Now().UTC())
	if err != nil {
		return domain.SubmitResult{}, err
	}
	answer.SessionID = sid
	payload, err := json.Marshal(answer)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("encode answer: %w", err)
	}

	won, err := s.client.HSetNX(ctx, answersKey, sub.ParticipantID, payload).Result()
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("store answer: %w", err)
	}
	if !won {
		prior, ok, err := s.storedAnswer(ctx, answersKey, sub.ParticipantID)
		if err != nil {
			return domain.SubmitResult{}, err
		}
		if !ok {
			return domain.SubmitResult{}, fmt.Errorf("answer of %s changed concurrently", sub.ParticipantID)
		}
		return domain.ResultOf(prior, q, true), nil
	}

	result := domain.ResultOf(answer, q, false)
	pipe := s.client.TxPipeline()
	if answer.Score > 0 {
		pipe.HIncrBy(ctx, s.scoresKey(sid), sub.ParticipantID, int64(answer.Score))
	}
	s.expire(ctx, pipe, answersKey)
	if pipe.Len() == 0 {
		return result, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return result, fmt.Errorf("%w: %v", domain.ErrPartialSubmit, err)
	}
	return result, nil
}

func (s *SessionStore) GetAnswers(ctx context.Context, questionID, sessionID string) ([]domain.Answer, error) {
	sid, ok, err := s.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := []domain.Answer{}
	if !ok {
		return out, nil
	}
	raw, err := s.client.HGetAll(ctx, s.answersKey(sid, questionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	for pid, v := range raw {
		var a domain.Answer
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			return nil, fmt.Errorf("decode answer of %s: %w", pid, err)
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AnsweredAt.Equal(out[j].AnsweredAt) {
			return out[i].AnsweredAt.Before(out[j].AnsweredAt)
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out, nil
}

func (s *SessionStore) GetGameState(ctx context.Context) (domain.GameStateRecord, error) {
	raw, err := s.client.Get(ctx, stateKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.GameStateRecord{}, nil
	}
	if err != nil {
		return domain.GameStateRecord{}, fmt.Errorf("read game state: %w", err)
	}
	var rec domain.GameStateRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.GameStateRecord{}, fmt.Errorf("decode game state: %w", err)
	}
	return rec, nil
}

// SetGameState writes the whole record as one value so readers never see half of it.
func (s *SessionStore) SetGameState(ctx context.Context, rec domain.GameStateRecord) (domain.GameStateRecord, error) {
	if !rec.Phase.Published() {
		return domain.GameStateRecord{}, fmt.Errorf("phase %q: %w", rec.Phase, domain.ErrInvalidTransition)
	}
	cur, err := s.GetGameState(ctx)
	if err != nil {
		return domain.GameStateRecord{}, err
	}
	if rec.SessionID == "" {
		rec.SessionID = cur.SessionID
	}
	if rec.SessionID == "" || (!cur.Empty() && rec.SessionID != cur.SessionID) {
		return domain.GameStateRecord{}, domain.ErrSessionNotFound
	}
	return s.writeState(ctx, rec)
}

// ResetSession opens a new session in WAITING and deletes every key of the previous one.
func (s *SessionStore) ResetSession(ctx context.Context) error {
	cur, err := s.GetGameState(ctx)
	if err != nil {
		return err
	}
	_, err = s.writeState(ctx, domain.GameStateRecord{
		SessionID:      uuid.NewString(),
		Phase:          domain.PhaseWaiting,
		TimeBudget:     domain.DefaultTimeBudget,
		PhaseStartedAt: s.clock.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if cur.Empty() {
		return nil
	}
	return s.dropSession(ctx, cur.SessionID)
}

func (s *SessionStore) writeState(ctx context.Context, rec domain.GameStateRecord) (domain.GameStateRecord, error) {
	version, err := s.client.Incr(ctx, versionKey).Result()
	if err != nil {
		return domain.GameStateRecord{}, fmt.Errorf("next version: %w", err)
	}
	rec.Version = version
	payload, err := json.Marshal(rec)
	if err != nil {
		return domain.GameStateRecord{}, fmt.Errorf("encode game state: %w", err)
	}
	if err := s.client.Set(ctx, stateKey, payload, s.ttl).Err(); err != nil {
		return domain.GameStateRecord{}, fmt.Errorf("write game state: %w", err)
	}
	return rec, nil
}

func (s *SessionStore) dropSession(ctx context.Context, sessionID string) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.sessionPrefix(sessionID)+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan session keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete session keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *SessionStore) storedAnswer(ctx context.Context, key, participantID string) (domain.Answer, bool, error) {
	raw, err := s.client.HGet(ctx, key, participantID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Answer{}, false, nil
	}
	if err != nil {
		return domain.Answer{}, false, fmt.Errorf("read answer: %w", err)
	}
	var a domain.Answer
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.Answer{}, false, fmt.Errorf("decode answer: %w", err)
	}
	return a, true, nil
}

// resolve maps an optional session id to the active one. ok is false for other sessions.
func (s *SessionStore) resolve(ctx context.Context, sessionID string) (string, bool, error) {
	state, err := s.GetGameState(ctx)
	if err != nil {
		return "", false, err
	}
	if state.Empty() {
		return "", false, nil
	}
	if sessionID != "" && sessionID != state.SessionID {
		return "", false, nil
	}
	return state.SessionID, true, nil
}

func (s *SessionStore) expire(ctx context.Context, pipe redis.Pipeliner, keys ...string) {
	if s.ttl <= 0 {
		return
	}
	for _, k := range keys {
		pipe.Expire(ctx, k, s.ttl)
	}
}

func (s *SessionStore) sessionPrefix(sessionID string) string {
	return "quiz:" + sessionID + ":"
}

func (s *SessionStore) rosterKey(sessionID string) string {
	return s.sessionPrefix(sessionID) + "roster"
}

func (s *SessionStore) participantsKey(sessionID string) string {
	return s.sessionPrefix(sessionID) + "participants"
}

func (s *SessionStore) scoresKey(sessionID string) string {
	return s.sessionPrefix(sessionID) + "scores"
}

func (s *SessionStore) answersKey(sessionID, questionID string) string {
	return s.sessionPrefix(sessionID) + "answers:" + questionID
}
