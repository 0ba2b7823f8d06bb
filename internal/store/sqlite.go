package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/marketing-agent/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS campaigns (
	id          TEXT PRIMARY KEY,
	external_id TEXT NOT NULL,
	name        TEXT NOT NULL,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'active',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL,
	UNIQUE (external_id, source)
);

CREATE TABLE IF NOT EXISTS daily_metrics (
	id          TEXT PRIMARY KEY,
	date        TEXT NOT NULL,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id),
	source      TEXT NOT NULL,
	impressions INTEGER NOT NULL DEFAULT 0,
	clicks      INTEGER NOT NULL DEFAULT 0,
	spend       REAL NOT NULL DEFAULT 0,
	conversions INTEGER NOT NULL DEFAULT 0,
	revenue     REAL NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL,
	UNIQUE (date, campaign_id, source)
);

CREATE TABLE IF NOT EXISTS weekly_metrics (
	id          TEXT PRIMARY KEY,
	week_start  TEXT NOT NULL,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id),
	source      TEXT NOT NULL,
	impressions INTEGER NOT NULL DEFAULT 0,
	clicks      INTEGER NOT NULL DEFAULT 0,
	spend       REAL NOT NULL DEFAULT 0,
	conversions INTEGER NOT NULL DEFAULT 0,
	revenue     REAL NOT NULL DEFAULT 0,
	roas        REAL NOT NULL DEFAULT 0,
	ctr         REAL NOT NULL DEFAULT 0,
	cpc         REAL NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL,
	UNIQUE (week_start, campaign_id, source)
);

CREATE TABLE IF NOT EXISTS agent_runs (
	id            TEXT PRIMARY KEY,
	run_type      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME,
	input_params  TEXT NOT NULL,
	output        TEXT,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS insights (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL REFERENCES agent_runs(id),
	campaign_id    TEXT,
	type           TEXT NOT NULL,
	metric         TEXT NOT NULL,
	change_percent REAL,
	severity       TEXT NOT NULL,
	description    TEXT NOT NULL,
	created_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS actions (
	id                TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL REFERENCES agent_runs(id),
	campaign_id       TEXT,
	type              TEXT NOT NULL,
	description       TEXT NOT NULL,
	priority          TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	budget_change_pct REAL NOT NULL DEFAULT 0,
	requires_approval INTEGER NOT NULL DEFAULT 0,
	guardrail_notes   TEXT,
	approved_by       TEXT,
	approved_at       DATETIME,
	created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS creatives (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL REFERENCES agent_runs(id),
	action_id      TEXT NOT NULL REFERENCES actions(id),
	platform       TEXT NOT NULL,
	creative_type  TEXT NOT NULL,
	headline       TEXT NOT NULL,
	primary_text   TEXT NOT NULL,
	description    TEXT NOT NULL,
	call_to_action TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'draft',
	approved_by    TEXT,
	approved_at    DATETIME,
	created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_daily_metrics_date ON daily_metrics(date);
CREATE INDEX IF NOT EXISTS idx_daily_metrics_campaign ON daily_metrics(campaign_id);
CREATE INDEX IF NOT EXISTS idx_agent_runs_status ON agent_runs(status);
CREATE INDEX IF NOT EXISTS idx_insights_run ON insights(run_id);
CREATE INDEX IF NOT EXISTS idx_actions_run ON actions(run_id);
CREATE INDEX IF NOT EXISTS idx_creatives_run ON creatives(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertCampaign(ctx context.Context, c CampaignUpsert) (*model.Campaign, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, external_id, name, source, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (external_id, source) DO UPDATE SET
		   name = excluded.name, status = excluded.status, updated_at = excluded.updated_at`,
		id, c.ExternalID, c.Name, string(c.Source), string(c.Status), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert campaign %s", c.ExternalID)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, name, source, status, created_at, updated_at
		 FROM campaigns WHERE external_id = ? AND source = ?`,
		c.ExternalID, string(c.Source),
	)
	return scanCampaign(row)
}

func (s *SQLiteStore) UpsertDailyMetric(ctx context.Context, m MetricUpsert) (*model.DailyMetric, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_metrics (id, date, campaign_id, source, impressions, clicks, spend, conversions, revenue, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (date, campaign_id, source) DO UPDATE SET
		   impressions = excluded.impressions, clicks = excluded.clicks,
		   spend = excluded.spend, conversions = excluded.conversions, revenue = excluded.revenue`,
		id, m.Date, m.CampaignID, string(m.Source),
		m.Impressions, m.Clicks, m.Spend, m.Conversions, m.Revenue, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert daily metric %s/%s", m.CampaignID, m.Date)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, date, campaign_id, source, impressions, clicks, spend, conversions, revenue, created_at
		 FROM daily_metrics WHERE date = ? AND campaign_id = ? AND source = ?`,
		m.Date, m.CampaignID, string(m.Source),
	)
	var dm model.DailyMetric
	err = row.Scan(&dm.ID, &dm.Date, &dm.CampaignID, &dm.Source,
		&dm.Impressions, &dm.Clicks, &dm.Spend, &dm.Conversions, &dm.Revenue, &dm.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read back daily metric")
	}
	return &dm, nil
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, name, source, status, created_at, updated_at FROM campaigns WHERE id = ?`,
		id,
	)
	return scanCampaign(row)
}

func (s *SQLiteStore) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]model.Campaign, error) {
	query := `SELECT id, external_id, name, source, status, created_at, updated_at FROM campaigns WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY name, source`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list campaigns")
	}
	defer rows.Close()

	var campaigns []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, eris.Wrap(rows.Err(), "sqlite: list campaigns iterate")
}

func (s *SQLiteStore) MetricsInRange(ctx context.Context, from, to string) ([]model.DailyMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, campaign_id, source, impressions, clicks, spend, conversions, revenue, created_at
		 FROM daily_metrics WHERE date >= ? AND date < ?
		 ORDER BY date, campaign_id, source`,
		from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: metrics in range")
	}
	defer rows.Close()

	var metrics []model.DailyMetric
	for rows.Next() {
		var m model.DailyMetric
		if err := rows.Scan(&m.ID, &m.Date, &m.CampaignID, &m.Source,
			&m.Impressions, &m.Clicks, &m.Spend, &m.Conversions, &m.Revenue, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan daily metric")
		}
		metrics = append(metrics, m)
	}
	return metrics, eris.Wrap(rows.Err(), "sqlite: metrics in range iterate")
}

func (s *SQLiteStore) RecomputeWeekly(ctx context.Context, weekStart string) (int, error) {
	end, err := time.Parse("2006-01-02", weekStart)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: parse week start %s", weekStart)
	}
	weekEnd := end.AddDate(0, 0, 7).Format("2006-01-02")

	rows, err := s.db.QueryContext(ctx,
		`SELECT campaign_id, source,
		        SUM(impressions), SUM(clicks), SUM(spend), SUM(conversions), SUM(revenue)
		 FROM daily_metrics WHERE date >= ? AND date < ?
		 GROUP BY campaign_id, source
		 ORDER BY campaign_id, source`,
		weekStart, weekEnd,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: aggregate weekly")
	}
	defer rows.Close()

	var totals []model.WeeklyMetric
	for rows.Next() {
		var w model.WeeklyMetric
		if err := rows.Scan(&w.CampaignID, &w.Source,
			&w.Impressions, &w.Clicks, &w.Spend, &w.Conversions, &w.Revenue); err != nil {
			return 0, eris.Wrap(err, "sqlite: scan weekly aggregate")
		}
		totals = append(totals, w)
	}
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "sqlite: aggregate weekly iterate")
	}

	now := time.Now().UTC()
	for _, w := range totals {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO weekly_metrics (id, week_start, campaign_id, source, impressions, clicks, spend, conversions, revenue, roas, ctr, cpc, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (week_start, campaign_id, source) DO UPDATE SET
			   impressions = excluded.impressions, clicks = excluded.clicks,
			   spend = excluded.spend, conversions = excluded.conversions, revenue = excluded.revenue,
			   roas = excluded.roas, ctr = excluded.ctr, cpc = excluded.cpc`,
			uuid.New().String(), weekStart, w.CampaignID, string(w.Source),
			w.Impressions, w.Clicks, w.Spend, w.Conversions, w.Revenue,
			model.SafeDiv(w.Revenue, w.Spend),
			model.SafeDiv(float64(w.Clicks), float64(w.Impressions)),
			model.SafeDiv(w.Spend, float64(w.Clicks)),
			now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert weekly metric %s", w.CampaignID)
		}
	}
	return len(totals), nil
}

func (s *SQLiteStore) ListWeeklyMetrics(ctx context.Context, campaignID string, limit int) ([]model.WeeklyMetric, error) {
	if limit <= 0 {
		limit = 52
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, week_start, campaign_id, source, impressions, clicks, spend, conversions, revenue, roas, ctr, cpc, created_at
		 FROM weekly_metrics WHERE campaign_id = ?
		 ORDER BY week_start DESC LIMIT ?`,
		campaignID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list weekly metrics")
	}
	defer rows.Close()

	var weeks []model.WeeklyMetric
	for rows.Next() {
		var w model.WeeklyMetric
		if err := rows.Scan(&w.ID, &w.WeekStart, &w.CampaignID, &w.Source,
			&w.Impressions, &w.Clicks, &w.Spend, &w.Conversions, &w.Revenue,
			&w.ROAS, &w.CTR, &w.CPC, &w.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan weekly metric")
		}
		weeks = append(weeks, w)
	}
	return weeks, eris.Wrap(rows.Err(), "sqlite: list weekly metrics iterate")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, runType model.RunType, params model.RunParams) (*model.AgentRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal run params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_runs (id, run_type, status, started_at, input_params) VALUES (?, ?, ?, ?, ?)`,
		id, string(runType), string(model.RunStatusPending), now, string(paramsJSON),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.AgentRun{
		ID:          id,
		RunType:     runType,
		Status:      model.RunStatusPending,
		StartedAt:   now,
		InputParams: params,
	}, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs SET status = ? WHERE id = ? AND status = ?`,
		string(model.RunStatusRunning), runID, string(model.RunStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: start run %s", runID)
	}
	return s.explainRunNoop(ctx, res, runID, model.RunStatusRunning)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run report")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs SET status = ?, output = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(model.RunStatusCompleted), string(reportJSON), time.Now().UTC(),
		runID, string(model.RunStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return s.explainRunNoop(ctx, res, runID, model.RunStatusCompleted)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs SET status = ?, error_message = ?, completed_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(model.RunStatusFailed), reason, time.Now().UTC(),
		runID, string(model.RunStatusPending), string(model.RunStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return s.explainRunNoop(ctx, res, runID, model.RunStatusFailed)
}

// explainRunNoop turns a zero-rows-affected run update into a precise error:
// the run either does not exist or is already terminal.
func (s *SQLiteStore) explainRunNoop(ctx context.Context, res sql.Result, runID string, to model.RunStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM agent_runs WHERE id = ?`, runID).Scan(&current)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: lookup run %s", runID)
	}
	return &model.InvalidTransitionError{Entity: "run", ID: runID, From: current, To: string(to)}
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.AgentRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_type, status, started_at, completed_at, input_params, output, error_message
		 FROM agent_runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AgentRun, error) {
	query := `SELECT id, run_type, status, started_at, completed_at, input_params, output, error_message
	          FROM agent_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.RunType != "" {
		query += ` AND run_type = ?`
		args = append(args, string(filter.RunType))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.AgentRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveInsights(ctx context.Context, insights []model.Insight) error {
	for _, in := range insights {
		var change any
		if in.ChangePercent != nil {
			change = *in.ChangePercent
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO insights (id, run_id, campaign_id, type, metric, change_percent, severity, description, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			in.ID, in.RunID, nullable(in.CampaignID), string(in.Type), in.Metric,
			change, string(in.Severity), in.Description, in.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert insight %s", in.ID)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveActions(ctx context.Context, actions []model.Action) error {
	for _, a := range actions {
		notesJSON, err := json.Marshal(a.GuardrailNotes)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal guardrail notes")
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO actions (id, run_id, campaign_id, type, description, priority, status, budget_change_pct, requires_approval, guardrail_notes, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.RunID, nullable(a.CampaignID), string(a.Type), a.Description,
			string(a.Priority), string(a.Status), a.BudgetChangePct, a.RequiresApproval,
			string(notesJSON), a.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert action %s", a.ID)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveCreatives(ctx context.Context, creatives []model.Creative) error {
	for _, c := range creatives {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO creatives (id, run_id, action_id, platform, creative_type, headline, primary_text, description, call_to_action, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.RunID, c.ActionID, c.Platform, c.CreativeType,
			c.Headline, c.PrimaryText, c.Description, c.CallToAction, string(c.Status), c.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert creative %s", c.ID)
		}
	}
	return nil
}

func (s *SQLiteStore) TransitionAction(ctx context.Context, actionID string, to model.ActionStatus, approver string) (*model.Action, error) {
	from, ok := requiredActionStatus(to)
	if !ok {
		return nil, &model.InvalidTransitionError{Entity: "action", ID: actionID, To: string(to)}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE actions SET status = ?, approved_by = ?, approved_at = ? WHERE id = ? AND status = ?`,
		string(to), approver, time.Now().UTC(), actionID, string(from),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: transition action %s", actionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var current string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM actions WHERE id = ?`, actionID).Scan(&current)
		if err == sql.ErrNoRows {
			return nil, eris.Wrapf(ErrNotFound, "action %s", actionID)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: lookup action %s", actionID)
		}
		return nil, &model.InvalidTransitionError{Entity: "action", ID: actionID, From: current, To: string(to)}
	}
	return s.GetAction(ctx, actionID)
}

func (s *SQLiteStore) TransitionCreative(ctx context.Context, creativeID string, to model.CreativeStatus, approver string) (*model.Creative, error) {
	from, ok := requiredCreativeStatus(to)
	if !ok {
		return nil, &model.InvalidTransitionError{Entity: "creative", ID: creativeID, To: string(to)}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE creatives SET status = ?, approved_by = ?, approved_at = ? WHERE id = ? AND status = ?`,
		string(to), approver, time.Now().UTC(), creativeID, string(from),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: transition creative %s", creativeID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var current string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM creatives WHERE id = ?`, creativeID).Scan(&current)
		if err == sql.ErrNoRows {
			return nil, eris.Wrapf(ErrNotFound, "creative %s", creativeID)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: lookup creative %s", creativeID)
		}
		return nil, &model.InvalidTransitionError{Entity: "creative", ID: creativeID, From: current, To: string(to)}
	}
	return s.GetCreative(ctx, creativeID)
}

func (s *SQLiteStore) GetAction(ctx context.Context, actionID string) (*model.Action, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, campaign_id, type, description, priority, status, budget_change_pct, requires_approval, guardrail_notes, approved_by, approved_at, created_at
		 FROM actions WHERE id = ?`,
		actionID,
	)

	var a model.Action
	var campaignID, notesJSON, approvedBy sql.NullString
	var approvedAt sql.NullTime
	err := row.Scan(&a.ID, &a.RunID, &campaignID, &a.Type, &a.Description, &a.Priority,
		&a.Status, &a.BudgetChangePct, &a.RequiresApproval, &notesJSON, &approvedBy, &approvedAt, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "action %s", actionID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan action")
	}
	a.CampaignID = campaignID.String
	a.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		t := approvedAt.Time
		a.ApprovedAt = &t
	}
	if notesJSON.Valid && notesJSON.String != "" {
		if err := json.Unmarshal([]byte(notesJSON.String), &a.GuardrailNotes); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal guardrail notes")
		}
	}
	return &a, nil
}

func (s *SQLiteStore) GetCreative(ctx context.Context, creativeID string) (*model.Creative, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, action_id, platform, creative_type, headline, primary_text, description, call_to_action, status, approved_by, approved_at, created_at
		 FROM creatives WHERE id = ?`,
		creativeID,
	)

	var c model.Creative
	var approvedBy sql.NullString
	var approvedAt sql.NullTime
	err := row.Scan(&c.ID, &c.RunID, &c.ActionID, &c.Platform, &c.CreativeType,
		&c.Headline, &c.PrimaryText, &c.Description, &c.CallToAction, &c.Status,
		&approvedBy, &approvedAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "creative %s", creativeID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan creative")
	}
	c.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		t := approvedAt.Time
		c.ApprovedAt = &t
	}
	return &c, nil
}

// helpers

// requiredActionStatus maps a target status to the only status an action may
// currently hold for the transition to be legal.
func requiredActionStatus(to model.ActionStatus) (model.ActionStatus, bool) {
	switch to {
	case model.ActionApproved, model.ActionRejected:
		return model.ActionPending, true
	case model.ActionExecuted:
		return model.ActionApproved, true
	default:
		return "", false
	}
}

func requiredCreativeStatus(to model.CreativeStatus) (model.CreativeStatus, bool) {
	switch to {
	case model.CreativeApproved, model.CreativeRejected:
		return model.CreativeDraft, true
	case model.CreativePublished:
		return model.CreativeApproved, true
	default:
		return "", false
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCampaign(row scannable) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.ExternalID, &c.Name, &c.Source, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "campaign")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan campaign")
	}
	return &c, nil
}

func scanRun(row scannable) (*model.AgentRun, error) {
	var r model.AgentRun
	var completedAt sql.NullTime
	var paramsJSON string
	var outputJSON, errMsg sql.NullString

	err := row.Scan(&r.ID, &r.RunType, &r.Status, &r.StartedAt, &completedAt, &paramsJSON, &outputJSON, &errMsg)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	r.ErrorMessage = errMsg.String
	if err := json.Unmarshal([]byte(paramsJSON), &r.InputParams); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run params")
	}
	if outputJSON.Valid && outputJSON.String != "" {
		r.Output = &model.RunReport{}
		if err := json.Unmarshal([]byte(outputJSON.String), r.Output); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run report")
		}
	}
	return &r, nil
}
