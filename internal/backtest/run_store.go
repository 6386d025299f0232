package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stratlab/internal/engine"
	"stratlab/internal/stats"

	_ "modernc.org/sqlite"
)

// ResultStore 把回测任务与其产出（成交、动作日志、资金曲线）写入
// 单个 sqlite 文件。run 删除时级联清理从表。
type ResultStore struct {
	db   *sql.DB
	path string
}

func NewResultStore(path string) (*ResultStore, error) {
	if path == "" {
		return nil, fmt.Errorf("result store path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			profile TEXT,
			status TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			execution_tf TEXT NOT NULL,
			strategy_tf TEXT,
			initial_balance REAL NOT NULL,
			final_balance REAL NOT NULL,
			total_pnl REAL DEFAULT 0,
			return_pct REAL DEFAULT 0,
			win_rate REAL DEFAULT 0,
			max_drawdown REAL DEFAULT 0,
			trades INTEGER DEFAULT 0,
			actions INTEGER DEFAULT 0,
			config_json TEXT NOT NULL,
			stats_json TEXT,
			message TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			average_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			quantity REAL NOT NULL,
			pnl REAL NOT NULL,
			pnl_percent REAL NOT NULL,
			entry_ts INTEGER NOT NULL,
			exit_ts INTEGER NOT NULL,
			reason TEXT NOT NULL,
			dca_orders INTEGER DEFAULT 0,
			total_orders INTEGER DEFAULT 0,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			order_id INTEGER,
			price REAL NOT NULL,
			quantity REAL,
			level INTEGER,
			reason TEXT,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_equity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			balance REAL NOT NULL,
			pnl REAL NOT NULL,
			cumulative_pnl REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON backtest_trades(run_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_run ON backtest_actions(run_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_equity_run ON backtest_equity(run_id, ts);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun 写入一条 run 记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return err
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
			(id, symbol, profile, status, start_ts, end_ts, execution_tf, strategy_tf,
			initial_balance, final_balance, total_pnl, return_pct, win_rate, max_drawdown,
			trades, actions, config_json, stats_json, message, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Symbol, run.Profile, run.Status, run.StartTS, run.EndTS,
		run.ExecutionTimeframe, nullIfEmpty(run.StrategyTimeframe),
		run.InitialBalance, run.FinalBalance, run.TotalPnL, run.ReturnPct, run.WinRate,
		run.MaxDrawdownPct, run.Trades, run.Actions, string(cfgJSON), bytesOrNil(statsJSON),
		run.Message, now, now, nullableTime(run.CompletedAt))
	return err
}

// UpdateRunStatus 仅更新状态与提示。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	now := time.Now().UnixMilli()
	var completed interface{}
	if status == RunStatusDone || status == RunStatusFailed {
		completed = now
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, message=?, updated_at=?, completed_at=CASE WHEN ? IS NULL THEN completed_at ELSE ? END
		WHERE id=?`, status, message, now, completed, completed, id)
	return err
}

// UpdateRunSummary 在回放结束时落盘汇总指标。
func (s *ResultStore) UpdateRunSummary(ctx context.Context, id, status string, sum stats.Summary, trades, actions int64, message string) error {
	statsJSON, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	var completed interface{}
	if status == RunStatusDone || status == RunStatusFailed {
		completed = now
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, final_balance=?, total_pnl=?, return_pct=?, win_rate=?, max_drawdown=?,
		    trades=?, actions=?, stats_json=?, message=?, updated_at=?,
		    completed_at=CASE WHEN ? IS NULL THEN completed_at ELSE ? END
		WHERE id=?`,
		status, sum.ActualBalance, sum.TotalPnL, sum.TotalReturnPercent, sum.WinRate,
		sum.MaxDrawdownPercent, trades, actions, string(statsJSON), message, now,
		completed, completed, id)
	return err
}

// InsertTrades 批量写入成交记录，seq 为回放内的产生顺序。
func (s *ResultStore) InsertTrades(ctx context.Context, runID string, trades []engine.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades
			(run_id, seq, symbol, side, entry_price, average_price, exit_price, quantity,
			 pnl, pnl_percent, entry_ts, exit_ts, reason, dca_orders, total_orders)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i, t := range trades {
		if _, err := stmt.ExecContext(ctx, runID, i, t.Symbol, string(t.Side),
			t.EntryPrice, t.AveragePrice, t.ExitPrice, t.Quantity,
			t.PnL, t.PnLPercent, t.EntryTime, t.ExitTime, string(t.Reason),
			t.AddOnCount, t.TotalOrders); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// InsertActions 批量写入动作日志。平仓动作的成交明细见 trades 表，
// 这里只保留标量字段。
func (s *ResultStore) InsertActions(ctx context.Context, runID string, actions []engine.Action) error {
	if len(actions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_actions
			(run_id, seq, ts, type, order_id, price, quantity, level, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i, a := range actions {
		if _, err := stmt.ExecContext(ctx, runID, i, a.Timestamp, string(a.Type),
			nullIfZeroInt(a.OrderID), a.Price, nullIfZero(a.Quantity),
			nullIfZeroInt(int64(a.Level)), nullIfEmpty(string(a.Reason))); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// InsertEquity 批量写入资金曲线点。
func (s *ResultStore) InsertEquity(ctx context.Context, runID string, points []stats.BalancePoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_equity (run_id, ts, balance, pnl, cumulative_pnl)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, runID, p.Timestamp, p.Balance, p.PnL, p.CumulativePnL); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, profile, status, start_ts, end_ts, execution_tf, strategy_tf,
		       initial_balance, final_balance, total_pnl, return_pct, win_rate, max_drawdown,
		       trades, actions, config_json, stats_json, message, created_at, updated_at, completed_at
		FROM backtest_runs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, run)
	}
	return list, rows.Err()
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, profile, status, start_ts, end_ts, execution_tf, strategy_tf,
		       initial_balance, final_balance, total_pnl, return_pct, win_rate, max_drawdown,
		       trades, actions, config_json, stats_json, message, created_at, updated_at, completed_at
		FROM backtest_runs WHERE id=?`, id)
	return scanRun(row)
}

// DeleteRun 删除 run 及其级联记录。
func (s *ResultStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM backtest_runs WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *ResultStore) ListTrades(ctx context.Context, runID string, limit int) ([]engine.Trade, error) {
	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, side, entry_price, average_price, exit_price, quantity,
		       pnl, pnl_percent, entry_ts, exit_ts, reason, dca_orders, total_orders
		FROM backtest_trades
		WHERE run_id=?
		ORDER BY seq ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engine.Trade
	for rows.Next() {
		var t engine.Trade
		var side, reason string
		if err := rows.Scan(&t.Symbol, &side, &t.EntryPrice, &t.AveragePrice, &t.ExitPrice,
			&t.Quantity, &t.PnL, &t.PnLPercent, &t.EntryTime, &t.ExitTime, &reason,
			&t.AddOnCount, &t.TotalOrders); err != nil {
			return nil, err
		}
		t.Side = engine.Side(side)
		t.Reason = engine.CloseReason(reason)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *ResultStore) ListActions(ctx context.Context, runID string, limit int) ([]engine.Action, error) {
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, type, order_id, price, quantity, level, reason
		FROM backtest_actions
		WHERE run_id=?
		ORDER BY seq ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engine.Action
	for rows.Next() {
		var a engine.Action
		var typ string
		var orderID, level sql.NullInt64
		var quantity sql.NullFloat64
		var reason sql.NullString
		if err := rows.Scan(&a.Timestamp, &typ, &orderID, &a.Price, &quantity, &level, &reason); err != nil {
			return nil, err
		}
		a.Type = engine.ActionType(typ)
		if orderID.Valid {
			a.OrderID = orderID.Int64
		}
		if quantity.Valid {
			a.Quantity = quantity.Float64
		}
		if level.Valid {
			a.Level = int(level.Int64)
		}
		if reason.Valid {
			a.Reason = engine.CloseReason(reason.String)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *ResultStore) ListEquity(ctx context.Context, runID string, limit int) ([]stats.BalancePoint, error) {
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, balance, pnl, cumulative_pnl
		FROM backtest_equity
		WHERE run_id=?
		ORDER BY ts ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []stats.BalancePoint
	for rows.Next() {
		var p stats.BalancePoint
		if err := rows.Scan(&p.Timestamp, &p.Balance, &p.PnL, &p.CumulativePnL); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func bytesOrNil(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func nullIfZero(v float64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullIfZeroInt(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var cfgStr string
	var strategyTF, statsStr, message sql.NullString
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64
	if err := row.Scan(&run.ID, &run.Symbol, &run.Profile, &run.Status,
		&run.StartTS, &run.EndTS, &run.ExecutionTimeframe, &strategyTF,
		&run.InitialBalance, &run.FinalBalance, &run.TotalPnL, &run.ReturnPct,
		&run.WinRate, &run.MaxDrawdownPct, &run.Trades, &run.Actions,
		&cfgStr, &statsStr, &message, &createdAt, &updatedAt, &completedAt); err != nil {
		return Run{}, err
	}
	if strategyTF.Valid {
		run.StrategyTimeframe = strategyTF.String
	}
	if message.Valid {
		run.Message = message.String
	}
	run.CreatedAt = timeFromMillis(createdAt)
	run.UpdatedAt = timeFromMillis(updatedAt)
	if completedAt.Valid {
		run.CompletedAt = timeFromMillis(completedAt.Int64)
	}
	if err := json.Unmarshal([]byte(cfgStr), &run.Config); err != nil {
		return Run{}, err
	}
	if statsStr.Valid && statsStr.String != "" {
		if err := json.Unmarshal([]byte(statsStr.String), &run.Stats); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}
