package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/marketing-agent/internal/db"
	"github.com/sells-group/marketing-agent/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// preparedStatements lists queries to prepare on each new connection for the
// hot ingestion path.
var preparedStatements = map[string]string{
	"upsert_campaign": `INSERT INTO campaigns (id, external_id, name, source, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_id, source) DO UPDATE SET
		  name = EXCLUDED.name, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		RETURNING id, external_id, name, source, status, created_at, updated_at`,
	"upsert_daily_metric": `INSERT INTO daily_metrics (id, date, campaign_id, source, impressions, clicks, spend, conversions, revenue, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (date, campaign_id, source) DO UPDATE SET
		  impressions = EXCLUDED.impressions, clicks = EXCLUDED.clicks,
		  spend = EXCLUDED.spend, conversions = EXCLUDED.conversions, revenue = EXCLUDED.revenue
		RETURNING id, date, campaign_id, source, impressions, clicks, spend, conversions, revenue, created_at`,
	"get_run": `SELECT id, run_type, status, started_at, completed_at, input_params, output, error_message FROM agent_runs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS campaigns (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	external_id TEXT NOT NULL,
	name        TEXT NOT NULL,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'active',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (external_id, source)
);

CREATE TABLE IF NOT EXISTS daily_metrics (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	date        DATE NOT NULL,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id),
	source      TEXT NOT NULL,
	impressions BIGINT NOT NULL DEFAULT 0,
	clicks      BIGINT NOT NULL DEFAULT 0,
	spend       DOUBLE PRECISION NOT NULL DEFAULT 0,
	conversions BIGINT NOT NULL DEFAULT 0,
	revenue     DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (date, campaign_id, source)
);

CREATE TABLE IF NOT EXISTS weekly_metrics (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	week_start  DATE NOT NULL,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id),
	source      TEXT NOT NULL,
	impressions BIGINT NOT NULL DEFAULT 0,
	clicks      BIGINT NOT NULL DEFAULT 0,
	spend       DOUBLE PRECISION NOT NULL DEFAULT 0,
	conversions BIGINT NOT NULL DEFAULT 0,
	revenue     DOUBLE PRECISION NOT NULL DEFAULT 0,
	roas        DOUBLE PRECISION NOT NULL DEFAULT 0,
	ctr         DOUBLE PRECISION NOT NULL DEFAULT 0,
	cpc         DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (week_start, campaign_id, source)
);

CREATE TABLE IF NOT EXISTS agent_runs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_type      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at  TIMESTAMPTZ,
	input_params  JSONB NOT NULL,
	output        JSONB,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS insights (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id         TEXT NOT NULL REFERENCES agent_runs(id),
	campaign_id    TEXT,
	type           TEXT NOT NULL,
	metric         TEXT NOT NULL,
	change_percent DOUBLE PRECISION,
	severity       TEXT NOT NULL,
	description    TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS actions (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id            TEXT NOT NULL REFERENCES agent_runs(id),
	campaign_id       TEXT,
	type              TEXT NOT NULL,
	description       TEXT NOT NULL,
	priority          TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	budget_change_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	requires_approval BOOLEAN NOT NULL DEFAULT false,
	guardrail_notes   JSONB,
	approved_by       TEXT,
	approved_at       TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS creatives (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
	approved_at    TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_daily_metrics_date ON daily_metrics(date);
CREATE INDEX IF NOT EXISTS idx_daily_metrics_campaign ON daily_metrics(campaign_id);
CREATE INDEX IF NOT EXISTS idx_agent_runs_status ON agent_runs(status);
CREATE INDEX IF NOT EXISTS idx_agent_runs_started ON agent_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_insights_run ON insights(run_id);
CREATE INDEX IF NOT EXISTS idx_actions_run ON actions(run_id);
CREATE INDEX IF NOT EXISTS idx_creatives_run ON creatives(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertCampaign(ctx context.Context, c CampaignUpsert) (*model.Campaign, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	var out model.Campaign
	err := s.pool.QueryRow(ctx,
		`INSERT INTO campaigns (id, external_id, name, source, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (external_id, source) DO UPDATE SET
		   name = EXCLUDED.name, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		 RETURNING id, external_id, name, source, status, created_at, updated_at`,
		id, c.ExternalID, c.Name, string(c.Source), string(c.Status), now, now,
	).Scan(&out.ID, &out.ExternalID, &out.Name, &out.Source, &out.Status, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert campaign %s", c.ExternalID)
	}
	return &out, nil
}

func (s *PostgresStore) UpsertDailyMetric(ctx context.Context, m MetricUpsert) (*model.DailyMetric, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	var out model.DailyMetric
	var date time.Time
	err := s.pool.QueryRow(ctx,
		`INSERT INTO daily_metrics (id, date, campaign_id, source, impressions, clicks, spend, conversions, revenue, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (date, campaign_id, source) DO UPDATE SET
		   impressions = EXCLUDED.impressions, clicks = EXCLUDED.clicks,
		   spend = EXCLUDED.spend, conversions = EXCLUDED.conversions, revenue = EXCLUDED.revenue
		 RETURNING id, date, campaign_id, source, impressions, clicks, spend, conversions, revenue, created_at`,
		id, m.Date, m.CampaignID, string(m.Source),
		m.Impressions, m.Clicks, m.Spend, m.Conversions, m.Revenue, now,
	).Scan(&out.ID, &date, &out.CampaignID, &out.Source,
		&out.Impressions, &out.Clicks, &out.Spend, &out.Conversions, &out.Revenue, &out.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert daily metric %s/%s", m.CampaignID, m.Date)
	}
	out.Date = date.Format("2006-01-02")
	return &out, nil
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	err := s.pool.QueryRow(ctx,
		`SELECT id, external_id, name, source, status, created_at, updated_at FROM campaigns WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.ExternalID, &c.Name, &c.Source, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "campaign %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get campaign %s", id)
	}
	return &c, nil
}

func (s *PostgresStore) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]model.Campaign, error) {
	query := `SELECT id, external_id, name, source, status, created_at, updated_at FROM campaigns WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, string(filter.Source))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY name, source`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list campaigns")
	}
	defer rows.Close()

	var campaigns []model.Campaign
	for rows.Next() {
		var c model.Campaign
		if err := rows.Scan(&c.ID, &c.ExternalID, &c.Name, &c.Source, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan campaign")
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, eris.Wrap(rows.Err(), "postgres: list campaigns iterate")
}

func (s *PostgresStore) MetricsInRange(ctx context.Context, from, to string) ([]model.DailyMetric, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, date, campaign_id, source, impressions, clicks, spend, conversions, revenue, created_at
		 FROM daily_metrics WHERE date >= $1 AND date < $2
		 ORDER BY date, campaign_id, source`,
		from, to,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: metrics in range")
	}
	defer rows.Close()

	var metrics []model.DailyMetric
	for rows.Next() {
		var m model.DailyMetric
		var date time.Time
		if err := rows.Scan(&m.ID, &date, &m.CampaignID, &m.Source,
			&m.Impressions, &m.Clicks, &m.Spend, &m.Conversions, &m.Revenue, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan daily metric")
		}
		m.Date = date.Format("2006-01-02")
		metrics = append(metrics, m)
	}
	return metrics, eris.Wrap(rows.Err(), "postgres: metrics in range iterate")
}

func (s *PostgresStore) RecomputeWeekly(ctx context.Context, weekStart string) (int, error) {
	start, err := time.Parse("2006-01-02", weekStart)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: parse week start %s", weekStart)
	}
	weekEnd := start.AddDate(0, 0, 7).Format("2006-01-02")

	rows, err := s.pool.Query(ctx,
		`SELECT campaign_id, source,
		        SUM(impressions), SUM(clicks), SUM(spend), SUM(conversions), SUM(revenue)
		 FROM daily_metrics WHERE date >= $1 AND date < $2
		 GROUP BY campaign_id, source
		 ORDER BY campaign_id, source`,
		weekStart, weekEnd,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: aggregate weekly")
	}
	defer rows.Close()

	var totals []model.WeeklyMetric
	for rows.Next() {
		var w model.WeeklyMetric
		if err := rows.Scan(&w.CampaignID, &w.Source,
			&w.Impressions, &w.Clicks, &w.Spend, &w.Conversions, &w.Revenue); err != nil {
			return 0, eris.Wrap(err, "postgres: scan weekly aggregate")
		}
		totals = append(totals, w)
	}
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "postgres: aggregate weekly iterate")
	}

	now := time.Now().UTC()
	for _, w := range totals {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO weekly_metrics (id, week_start, campaign_id, source, impressions, clicks, spend, conversions, revenue, roas, ctr, cpc, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 ON CONFLICT (week_start, campaign_id, source) DO UPDATE SET
			   impressions = EXCLUDED.impressions, clicks = EXCLUDED.clicks,
			   spend = EXCLUDED.spend, conversions = EXCLUDED.conversions, revenue = EXCLUDED.revenue,
			   roas = EXCLUDED.roas, ctr = EXCLUDED.ctr, cpc = EXCLUDED.cpc`,
			uuid.New().String(), weekStart, w.CampaignID, string(w.Source),
			w.Impressions, w.Clicks, w.Spend, w.Conversions, w.Revenue,
			model.SafeDiv(w.Revenue, w.Spend),
			model.SafeDiv(float64(w.Clicks), float64(w.Impressions)),
			model.SafeDiv(w.Spend, float64(w.Clicks)),
			now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: upsert weekly metric %s", w.CampaignID)
		}
	}
	return len(totals), nil
}

func (s *PostgresStore) ListWeeklyMetrics(ctx context.Context, campaignID string, limit int) ([]model.WeeklyMetric, error) {
	if limit <= 0 {
		limit = 52
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, week_start, campaign_id, source, impressions, clicks, spend, conversions, revenue, roas, ctr, cpc, created_at
		 FROM weekly_metrics WHERE campaign_id = $1
		 ORDER BY week_start DESC LIMIT $2`,
		campaignID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list weekly metrics")
	}
	defer rows.Close()

	var weeks []model.WeeklyMetric
	for rows.Next() {
		var w model.WeeklyMetric
		var weekStart time.Time
		if err := rows.Scan(&w.ID, &weekStart, &w.CampaignID, &w.Source,
			&w.Impressions, &w.Clicks, &w.Spend, &w.Conversions, &w.Revenue,
			&w.ROAS, &w.CTR, &w.CPC, &w.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan weekly metric")
		}
		w.WeekStart = weekStart.Format("2006-01-02")
		weeks = append(weeks, w)
	}
	return weeks, eris.Wrap(rows.Err(), "postgres: list weekly metrics iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context, runType model.RunType, params model.RunParams) (*model.AgentRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal run params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO agent_runs (id, run_type, status, started_at, input_params) VALUES ($1, $2, $3, $4, $5)`,
		id, string(runType), string(model.RunStatusPending), now, paramsJSON,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.AgentRun{
		ID:          id,
		RunType:     runType,
		Status:      model.RunStatusPending,
		StartedAt:   now,
		InputParams: params,
	}, nil
}

func (s *PostgresStore) StartRun(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_runs SET status = $1 WHERE id = $2 AND status = $3`,
		string(model.RunStatusRunning), runID, string(model.RunStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: start run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return s.explainRunNoop(ctx, runID, model.RunStatusRunning)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run report")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_runs SET status = $1, output = $2, completed_at = $3 WHERE id = $4 AND status = $5`,
		string(model.RunStatusCompleted), reportJSON, time.Now().UTC(),
		runID, string(model.RunStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return s.explainRunNoop(ctx, runID, model.RunStatusCompleted)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_runs SET status = $1, error_message = $2, completed_at = $3
		 WHERE id = $4 AND status IN ($5, $6)`,
		string(model.RunStatusFailed), reason, time.Now().UTC(),
		runID, string(model.RunStatusPending), string(model.RunStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return s.explainRunNoop(ctx, runID, model.RunStatusFailed)
	}
	return nil
}

func (s *PostgresStore) explainRunNoop(ctx context.Context, runID string, to model.RunStatus) error {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM agent_runs WHERE id = $1`, runID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: lookup run %s", runID)
	}
	return &model.InvalidTransitionError{Entity: "run", ID: runID, From: current, To: string(to)}
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.AgentRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, run_type, status, started_at, completed_at, input_params, output, error_message
		 FROM agent_runs WHERE id = $1`,
		runID,
	)
	return scanRunPG(row)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AgentRun, error) {
	query := `SELECT id, run_type, status, started_at, completed_at, input_params, output, error_message
	          FROM agent_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.RunType != "" {
		query += fmt.Sprintf(` AND run_type = $%d`, argIdx)
		args = append(args, string(filter.RunType))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.AgentRun
	for rows.Next() {
		r, err := scanRunPG(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveInsights(ctx context.Context, insights []model.Insight) error {
	for _, in := range insights {
		var change any
		if in.ChangePercent != nil {
			change = *in.ChangePercent
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO insights (id, run_id, campaign_id, type, metric, change_percent, severity, description, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			in.ID, in.RunID, pgNullable(in.CampaignID), string(in.Type), in.Metric,
			change, string(in.Severity), in.Description, in.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert insight %s", in.ID)
		}
	}
	return nil
}

func (s *PostgresStore) SaveActions(ctx context.Context, actions []model.Action) error {
	for _, a := range actions {
		notesJSON, err := json.Marshal(a.GuardrailNotes)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal guardrail notes")
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO actions (id, run_id, campaign_id, type, description, priority, status, budget_change_pct, requires_approval, guardrail_notes, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			a.ID, a.RunID, pgNullable(a.CampaignID), string(a.Type), a.Description,
			string(a.Priority), string(a.Status), a.BudgetChangePct, a.RequiresApproval,
			notesJSON, a.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert action %s", a.ID)
		}
	}
	return nil
}

func (s *PostgresStore) SaveCreatives(ctx context.Context, creatives []model.Creative) error {
	for _, c := range creatives {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO creatives (id, run_id, action_id, platform, creative_type, headline, primary_text, description, call_to_action, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			c.ID, c.RunID, c.ActionID, c.Platform, c.CreativeType,
			c.Headline, c.PrimaryText, c.Description, c.CallToAction, string(c.Status), c.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert creative %s", c.ID)
		}
	}
	return nil
}

func (s *PostgresStore) TransitionAction(ctx context.Context, actionID string, to model.ActionStatus, approver string) (*model.Action, error) {
	from, ok := requiredActionStatus(to)
	if !ok {
		return nil, &model.InvalidTransitionError{Entity: "action", ID: actionID, To: string(to)}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE actions SET status = $1, approved_by = $2, approved_at = $3 WHERE id = $4 AND status = $5`,
		string(to), approver, time.Now().UTC(), actionID, string(from),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: transition action %s", actionID)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.pool.QueryRow(ctx, `SELECT status FROM actions WHERE id = $1`, actionID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "action %s", actionID)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: lookup action %s", actionID)
		}
		return nil, &model.InvalidTransitionError{Entity: "action", ID: actionID, From: current, To: string(to)}
	}
	return s.GetAction(ctx, actionID)
}

func (s *PostgresStore) TransitionCreative(ctx context.Context, creativeID string, to model.CreativeStatus, approver string) (*model.Creative, error) {
	from, ok := requiredCreativeStatus(to)
	if !ok {
		return nil, &model.InvalidTransitionError{Entity: "creative", ID: creativeID, To: string(to)}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE creatives SET status = $1, approved_by = $2, approved_at = $3 WHERE id = $4 AND status = $5`,
		string(to), approver, time.Now().UTC(), creativeID, string(from),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: transition creative %s", creativeID)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.pool.QueryRow(ctx, `SELECT status FROM creatives WHERE id = $1`, creativeID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "creative %s", creativeID)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: lookup creative %s", creativeID)
		}
		return nil, &model.InvalidTransitionError{Entity: "creative", ID: creativeID, From: current, To: string(to)}
	}
	return s.GetCreative(ctx, creativeID)
}

func (s *PostgresStore) GetAction(ctx context.Context, actionID string) (*model.Action, error) {
	var a model.Action
	var campaignID, approvedBy *string
	var approvedAt *time.Time
	var notesJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, run_id, campaign_id, type, description, priority, status, budget_change_pct, requires_approval, guardrail_notes, approved_by, approved_at, created_at
		 FROM actions WHERE id = $1`,
		actionID,
	).Scan(&a.ID, &a.RunID, &campaignID, &a.Type, &a.Description, &a.Priority,
		&a.Status, &a.BudgetChangePct, &a.RequiresApproval, &notesJSON, &approvedBy, &approvedAt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "action %s", actionID)
		}
		return nil, eris.Wrapf(err, "postgres: get action %s", actionID)
	}

	if campaignID != nil {
		a.CampaignID = *campaignID
	}
	if approvedBy != nil {
		a.ApprovedBy = *approvedBy
	}
	a.ApprovedAt = approvedAt
	if len(notesJSON) > 0 {
		if err := json.Unmarshal(notesJSON, &a.GuardrailNotes); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal guardrail notes")
		}
	}
	return &a, nil
}

func (s *PostgresStore) GetCreative(ctx context.Context, creativeID string) (*model.Creative, error) {
	var c model.Creative
	var approvedBy *string
	var approvedAt *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT id, run_id, action_id, platform, creative_type, headline, primary_text, description, call_to_action, status, approved_by, approved_at, created_at
		 FROM creatives WHERE id = $1`,
		creativeID,
	).Scan(&c.ID, &c.RunID, &c.ActionID, &c.Platform, &c.CreativeType,
		&c.Headline, &c.PrimaryText, &c.Description, &c.CallToAction, &c.Status,
		&approvedBy, &approvedAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "creative %s", creativeID)
		}
		return nil, eris.Wrapf(err, "postgres: get creative %s", creativeID)
	}

	if approvedBy != nil {
		c.ApprovedBy = *approvedBy
	}
	c.ApprovedAt = approvedAt
	return &c, nil
}

func pgNullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanRunPG(row pgx.Row) (*model.AgentRun, error) {
	var r model.AgentRun
	var completedAt *time.Time
	var paramsJSON []byte
	var outputJSON *[]byte
	var errMsg *string

	err := row.Scan(&r.ID, &r.RunType, &r.Status, &r.StartedAt, &completedAt, &paramsJSON, &outputJSON, &errMsg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrap(ErrNotFound, "run")
		}
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	r.CompletedAt = completedAt
	if errMsg != nil {
		r.ErrorMessage = *errMsg
	}
	if err := json.Unmarshal(paramsJSON, &r.InputParams); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run params")
	}
	if outputJSON != nil && len(*outputJSON) > 0 {
		r.Output = &model.RunReport{}
		if err := json.Unmarshal(*outputJSON, r.Output); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run report")
		}
	}
	return &r, nil
}
