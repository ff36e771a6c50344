package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/greencard-rag/backend/internal/storage/models"
	"github.com/greencard-rag/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS flagged_questions (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		language TEXT NOT NULL,
		confidence_score REAL NOT NULL,
		frequency_count INTEGER NOT NULL,
		first_asked INTEGER NOT NULL,
		last_asked INTEGER NOT NULL,
		status TEXT NOT NULL,
		expert_reviewer TEXT,
		expert_answer TEXT,
		expert_sources TEXT,
		expert_credentials TEXT,
		review_date INTEGER,
		audit_trail TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_flagged_status ON flagged_questions(status);
	CREATE INDEX IF NOT EXISTS idx_flagged_frequency ON flagged_questions(frequency_count);

	CREATE TABLE IF NOT EXISTS frequency_records (
		question_hash TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		language TEXT NOT NULL,
		frequency_count INTEGER NOT NULL,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		average_confidence REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS knowledge_entries (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		language TEXT NOT NULL,
		category TEXT NOT NULL,
		sources TEXT NOT NULL,
		expert_credentials TEXT,
		review_date INTEGER,
		confidence_score REAL,
		frequency_count INTEGER,
		audit_trail TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_updated INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_knowledge_language ON knowledge_entries(language);
	CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge_entries(category);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) SaveFlaggedQuestion(q *models.FlaggedQuestion) error {
	sourcesJSON, _ := json.Marshal(q.ExpertSources)
	auditJSON, _ := json.Marshal(q.AuditTrail)

	var reviewDate interface{}
	if q.ReviewDate != nil {
		reviewDate = q.ReviewDate.Unix()
	}

	query := `
		INSERT INTO flagged_questions (id, question, language, confidence_score, frequency_count,
			first_asked, last_asked, status, expert_reviewer, expert_answer, expert_sources,
			expert_credentials, review_date, audit_trail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			confidence_score = excluded.confidence_score,
			frequency_count = excluded.frequency_count,
			last_asked = excluded.last_asked,
			status = excluded.status,
			expert_reviewer = excluded.expert_reviewer,
			expert_answer = excluded.expert_answer,
			expert_sources = excluded.expert_sources,
			expert_credentials = excluded.expert_credentials,
			review_date = excluded.review_date,
			audit_trail = excluded.audit_trail
	`

	_, err := c.db.Exec(
		query,
		q.ID,
		q.Question,
		q.Language,
		q.ConfidenceScore,
		q.FrequencyCount,
		q.FirstAsked.Unix(),
		q.LastAsked.Unix(),
		string(q.Status),
		q.ExpertReviewer,
		q.ExpertAnswer,
		string(sourcesJSON),
		q.ExpertCredentials,
		reviewDate,
		string(auditJSON),
	)

	if err != nil {
		return fmt.Errorf("failed to save flagged question: %w", err)
	}

	logger.Debug("Flagged question saved", zap.String("id", q.ID))
	return nil
}

func (c *Client) ListFlaggedQuestions() ([]models.FlaggedQuestion, error) {
	query := `
		SELECT id, question, language, confidence_score, frequency_count, first_asked,
			last_asked, status, expert_reviewer, expert_answer, expert_sources,
			expert_credentials, review_date, audit_trail
		FROM flagged_questions
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list flagged questions: %w", err)
	}
	defer rows.Close()

	var questions []models.FlaggedQuestion
	for rows.Next() {
		var q models.FlaggedQuestion
		var firstAsked, lastAsked int64
		var status, sourcesJSON, auditJSON string
		var reviewer, answer, credentials sql.NullString
		var reviewDate sql.NullInt64

		err := rows.Scan(
			&q.ID,
			&q.Question,
			&q.Language,
			&q.ConfidenceScore,
			&q.FrequencyCount,
			&firstAsked,
			&lastAsked,
			&status,
			&reviewer,
			&answer,
			&sourcesJSON,
			&credentials,
			&reviewDate,
			&auditJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		q.FirstAsked = time.Unix(firstAsked, 0)
		q.LastAsked = time.Unix(lastAsked, 0)
		q.Status = models.ReviewStatus(status)
		q.ExpertReviewer = reviewer.String
		q.ExpertAnswer = answer.String
		q.ExpertCredentials = credentials.String
		if reviewDate.Valid {
			t := time.Unix(reviewDate.Int64, 0)
			q.ReviewDate = &t
		}
		json.Unmarshal([]byte(sourcesJSON), &q.ExpertSources)
		json.Unmarshal([]byte(auditJSON), &q.AuditTrail)

		questions = append(questions, q)
	}

	return questions, rows.Err()
}

func (c *Client) SaveFrequencyRecord(r *models.FrequencyRecord) error {
	query := `
		INSERT INTO frequency_records (question_hash, question, language, frequency_count,
			first_seen, last_seen, average_confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(question_hash) DO UPDATE SET
			frequency_count = excluded.frequency_count,
			last_seen = excluded.last_seen,
			average_confidence = excluded.average_confidence
	`

	_, err := c.db.Exec(
		query,
		r.QuestionHash,
		r.Question,
		r.Language,
		r.FrequencyCount,
		r.FirstSeen.Unix(),
		r.LastSeen.Unix(),
		r.AverageConfidence,
	)

	if err != nil {
		return fmt.Errorf("failed to save frequency record: %w", err)
	}

	return nil
}

func (c *Client) ListFrequencyRecords() ([]models.FrequencyRecord, error) {
	query := `
		SELECT question_hash, question, language, frequency_count, first_seen, last_seen, average_confidence
		FROM frequency_records
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list frequency records: %w", err)
	}
	defer rows.Close()

	var records []models.FrequencyRecord
	for rows.Next() {
		var r models.FrequencyRecord
		var firstSeen, lastSeen int64

		err := rows.Scan(
			&r.QuestionHash,
			&r.Question,
			&r.Language,
			&r.FrequencyCount,
			&firstSeen,
			&lastSeen,
			&r.AverageConfidence,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.FirstSeen = time.Unix(firstSeen, 0)
		r.LastSeen = time.Unix(lastSeen, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}

func (c *Client) InsertKnowledgeEntry(e *models.KnowledgeEntry) error {
	sourcesJSON, _ := json.Marshal(e.Sources)
	auditJSON, _ := json.Marshal(e.AuditTrail)

	var reviewDate interface{}
	if e.ReviewDate != nil {
		reviewDate = e.ReviewDate.Unix()
	}

	query := `
		INSERT INTO knowledge_entries (id, question, answer, language, category, sources,
			expert_credentials, review_date, confidence_score, frequency_count, audit_trail,
			created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		e.ID,
		e.Question,
		e.Answer,
		e.Language,
		e.Category,
		string(sourcesJSON),
		e.ExpertCredentials,
		reviewDate,
		e.ConfidenceScore,
		e.FrequencyCount,
		string(auditJSON),
		e.CreatedAt.Unix(),
		e.LastUpdated.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert knowledge entry: %w", err)
	}

	logger.Info("Knowledge entry stored",
		zap.String("entry_id", e.ID),
		zap.String("language", e.Language),
	)

	return nil
}

func (c *Client) GetKnowledgeEntry(id string) (*models.KnowledgeEntry, error) {
	query := `
		SELECT id, question, answer, language, category, sources, expert_credentials,
			review_date, confidence_score, frequency_count, audit_trail, created_at, last_updated
		FROM knowledge_entries WHERE id = ?
	`

	var e models.KnowledgeEntry
	var sourcesJSON, auditJSON string
	var credentials sql.NullString
	var reviewDate sql.NullInt64
	var createdAt, lastUpdated int64

	err := c.db.QueryRow(query, id).Scan(
		&e.ID,
		&e.Question,
		&e.Answer,
		&e.Language,
		&e.Category,
		&sourcesJSON,
		&credentials,
		&reviewDate,
		&e.ConfidenceScore,
		&e.FrequencyCount,
		&auditJSON,
		&createdAt,
		&lastUpdated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge entry: %w", err)
	}

	e.ExpertCredentials = credentials.String
	if reviewDate.Valid {
		t := time.Unix(reviewDate.Int64, 0)
		e.ReviewDate = &t
	}
	e.CreatedAt = time.Unix(createdAt, 0)
	e.LastUpdated = time.Unix(lastUpdated, 0)
	json.Unmarshal([]byte(sourcesJSON), &e.Sources)
	json.Unmarshal([]byte(auditJSON), &e.AuditTrail)

	return &e, nil
}

func (c *Client) CountKnowledgeEntries(category string) (int, error) {
	var count int
	err := c.db.QueryRow(
		`SELECT COUNT(*) FROM knowledge_entries WHERE category = ? OR ? = ''`,
		category, category,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count knowledge entries: %w", err)
	}
	return count, nil
}
