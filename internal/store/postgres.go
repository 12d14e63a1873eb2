package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"taskboard/api/internal/position"
)

const pgUniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Users

const userColumns = `id, name, email, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
	if err != nil {
		return User{}, notFound(err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email))
	if err != nil {
		return User{}, notFound(err)
	}
	return u, nil
}

func (s *PostgresStore) ListUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("marshal user ids: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id IN (SELECT jsonb_array_elements_text($1::jsonb))
		ORDER BY name
	`, string(raw))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0, len(ids))
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// Boards

func (s *PostgresStore) CreateBoard(ctx context.Context, board Board) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create board: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO boards (id, name, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, board.ID, board.Name, board.CreatedBy, board.CreatedAt); err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	for i, list := range board.Lists {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO board_lists (id, board_id, name, sort_order) VALUES ($1, $2, $3, $4)
		`, list.ID, board.ID, list.Name, i); err != nil {
			return fmt.Errorf("insert list: %w", err)
		}
	}
	for _, m := range board.Members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO board_members (board_id, user_id, role, invitation_accepted, joined_at)
			VALUES ($1, $2, $3, $4, $5)
		`, board.ID, m.UserID, m.Role, m.InvitationAccepted, m.JoinedAt); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create board: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	var b Board
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_by, created_at, updated_at FROM boards WHERE id=$1
	`, boardID).Scan(&b.ID, &b.Name, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Board{}, notFound(err)
	}
	if err := s.loadBoardChildren(ctx, &b); err != nil {
		return Board{}, err
	}
	return b, nil
}

func (s *PostgresStore) loadBoardChildren(ctx context.Context, b *Board) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name FROM board_lists WHERE board_id=$1 ORDER BY sort_order, id
	`, b.ID)
	if err != nil {
		return fmt.Errorf("list board lists: %w", err)
	}
	b.Lists = make([]List, 0)
	for rows.Next() {
		var l List
		if err := rows.Scan(&l.ID, &l.Name); err != nil {
			rows.Close()
			return fmt.Errorf("scan list: %w", err)
		}
		b.Lists = append(b.Lists, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate lists: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT user_id, role, invitation_accepted, joined_at
		FROM board_members WHERE board_id=$1 ORDER BY joined_at, user_id
	`, b.ID)
	if err != nil {
		return fmt.Errorf("list board members: %w", err)
	}
	defer rows.Close()
	b.Members = make([]Member, 0)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Role, &m.InvitationAccepted, &m.JoinedAt); err != nil {
			return fmt.Errorf("scan member: %w", err)
		}
		b.Members = append(b.Members, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate members: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBoardsForUser(ctx context.Context, userID string) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.name, b.created_by, b.created_at, b.updated_at
		FROM boards b
		JOIN board_members m ON m.board_id = b.id
		WHERE m.user_id = $1
		ORDER BY b.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	boards := make([]Board, 0)
	for rows.Next() {
		var b Board
		if err := rows.Scan(&b.ID, &b.Name, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	for i := range boards {
		if err := s.loadBoardChildren(ctx, &boards[i]); err != nil {
			return nil, err
		}
	}
	return boards, nil
}

// DeleteBoard removes the board; lists, members and tasks cascade.
func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM boards WHERE id=$1`, boardID)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) touchBoard(ctx context.Context, q execer, boardID string) error {
	res, err := q.ExecContext(ctx, `UPDATE boards SET updated_at=NOW() WHERE id=$1`, boardID)
	if err != nil {
		return fmt.Errorf("touch board: %w", err)
	}
	return requireAffected(res)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) AddList(ctx context.Context, boardID string, list List) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add list: %w", err)
	}
	defer tx.Rollback()

	if err := s.touchBoard(ctx, tx, boardID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO board_lists (id, board_id, name, sort_order)
		VALUES ($1, $2, $3, (SELECT COALESCE(MAX(sort_order) + 1, 0) FROM board_lists WHERE board_id=$2))
	`, list.ID, boardID, list.Name); err != nil {
		return fmt.Errorf("insert list: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add list: %w", err)
	}
	return nil
}

// DeleteList removes the list and every task in it.
func (s *PostgresStore) DeleteList(ctx context.Context, boardID, listID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete list: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM board_lists WHERE id=$1 AND board_id=$2`, listID, boardID)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE list_id=$1 AND board_id=$2`, listID, boardID); err != nil {
		return fmt.Errorf("delete list tasks: %w", err)
	}
	if err := s.touchBoard(ctx, tx, boardID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete list: %w", err)
	}
	return nil
}

// ReorderLists sets the list order to listIDs, which must name exactly the
// board's lists.
func (s *PostgresStore) ReorderLists(ctx context.Context, boardID string, listIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder lists: %w", err)
	}
	defer tx.Rollback()

	for i, id := range listIDs {
		res, err := tx.ExecContext(ctx, `UPDATE board_lists SET sort_order=$1 WHERE id=$2 AND board_id=$3`, i, id, boardID)
		if err != nil {
			return fmt.Errorf("reorder list: %w", err)
		}
		if err := requireAffected(res); err != nil {
			return err
		}
	}
	if err := s.touchBoard(ctx, tx, boardID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder lists: %w", err)
	}
	return nil
}

// Members

func (s *PostgresStore) AddMember(ctx context.Context, boardID string, member Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO board_members (board_id, user_id, role, invitation_accepted, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`, boardID, member.UserID, member.Role, member.InvitationAccepted, member.JoinedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrAlreadyMember
		}
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// AcceptMember flips a pending membership. It reports false when the member
// had already accepted.
func (s *PostgresStore) AcceptMember(ctx context.Context, boardID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE board_members SET invitation_accepted=TRUE, joined_at=NOW()
		WHERE board_id=$1 AND user_id=$2 AND NOT invitation_accepted
	`, boardID, userID)
	if err != nil {
		return false, fmt.Errorf("accept member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// RemoveMember drops the membership and unassigns the user from the board's tasks.
func (s *PostgresStore) RemoveMember(ctx context.Context, boardID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove member: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM board_members WHERE board_id=$1 AND user_id=$2`, boardID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET assigned_to = assigned_to - $2::text, updated_at=NOW()
		WHERE board_id=$1 AND assigned_to @> jsonb_build_array($2::text)
	`, boardID, userID); err != nil {
		return fmt.Errorf("unassign removed member: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove member: %w", err)
	}
	return nil
}

// Tasks

const taskColumns = `id, board_id, list_id, title, description, deadline, attachment, position, created_by, assigned_to, completed, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var (
		t        Task
		deadline sql.NullTime
		assigned []byte
	)
	if err := row.Scan(&t.ID, &t.BoardID, &t.ListID, &t.Title, &t.Description, &deadline, &t.Attachment,
		&t.Position, &t.CreatedBy, &assigned, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Task{}, err
	}
	if deadline.Valid {
		d := deadline.Time
		t.Deadline = &d
	}
	t.AssignedTo = []string{}
	if len(assigned) > 0 {
		if err := json.Unmarshal(assigned, &t.AssignedTo); err != nil {
			return Task{}, fmt.Errorf("decode assignees: %w", err)
		}
	}
	return t, nil
}

func encodeAssignees(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode assignees: %w", err)
	}
	return string(raw), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID))
	if err != nil {
		return Task{}, notFound(err)
	}
	return t, nil
}

func (s *PostgresStore) queryTasks(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// ListTasks returns the board's tasks ordered by list order then position.
func (s *PostgresStore) ListTasks(ctx context.Context, boardID string) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumnsPrefixed+`
		FROM tasks t
		LEFT JOIN board_lists l ON l.id = t.list_id
		WHERE t.board_id=$1
		ORDER BY l.sort_order NULLS LAST, t.list_id, t.position
	`, boardID)
}

const taskColumnsPrefixed = `t.id, t.board_id, t.list_id, t.title, t.description, t.deadline, t.attachment, t.position, t.created_by, t.assigned_to, t.completed, t.created_at, t.updated_at`

// ListDueTasks returns open, assigned tasks whose deadline is at or before until.
func (s *PostgresStore) ListDueTasks(ctx context.Context, until time.Time) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE NOT completed
			AND deadline IS NOT NULL
			AND deadline <= $1
			AND jsonb_array_length(assigned_to) > 0
		ORDER BY deadline
	`, until)
}

// SearchTasks runs a full-text match over title and description.
func (s *PostgresStore) SearchTasks(ctx context.Context, boardID, text string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE board_id=$1 AND fts @@ plainto_tsquery('simple', $2)
		ORDER BY ts_rank(fts, plainto_tsquery('simple', $2)) DESC, updated_at DESC
		LIMIT $3
	`, boardID, text, limit)
}

func (s *PostgresStore) ListSnapshot(ctx context.Context, listID string) (position.Snapshot, error) {
	snap := position.Snapshot{ListID: listID}
	err := s.db.QueryRowContext(ctx, `
		SELECT l.version, (SELECT COUNT(*) FROM tasks t WHERE t.list_id = l.id)
		FROM board_lists l WHERE l.id=$1
	`, listID).Scan(&snap.Version, &snap.Count)
	if err != nil {
		return position.Snapshot{}, notFound(err)
	}
	return snap, nil
}

// claimVersions bumps each expected list version, failing with
// position.ErrConflict if any moved since the snapshot.
func claimVersions(ctx context.Context, tx *sql.Tx, versions map[string]int64) error {
	ids := make([]string, 0, len(versions))
	for id := range versions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `UPDATE board_lists SET version = version + 1 WHERE id=$1 AND version=$2`, id, versions[id])
		if err != nil {
			return fmt.Errorf("claim list version: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return position.ErrConflict
		}
	}
	return nil
}

func applyShifts(ctx context.Context, tx *sql.Tx, shifts []position.Shift, exclude string) error {
	for _, shift := range shifts {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET position = position + $1
			WHERE list_id=$2 AND position >= $3 AND ($4 < 0 OR position <= $4) AND id <> $5
		`, shift.Delta, shift.ListID, shift.Min, shift.Max, exclude); err != nil {
			return fmt.Errorf("shift positions: %w", err)
		}
	}
	return nil
}

// lockTaskAt verifies the task is still at the expected slot.
func lockTaskAt(ctx context.Context, tx *sql.Tx, taskID, listID string, pos int) error {
	var ok bool
	err := tx.QueryRowContext(ctx, `
		SELECT TRUE FROM tasks WHERE id=$1 AND list_id=$2 AND position=$3 FOR UPDATE
	`, taskID, listID, pos).Scan(&ok)
	if errors.Is(err, sql.ErrNoRows) {
		return position.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("lock task: %w", err)
	}
	return nil
}

// lockMembers share-locks the board's membership rows and returns them as a
// set. RemoveMember deletes a member row before stripping assignments, so
// holding these locks keeps a task write from reinstating a removed member.
// Callers must take this lock before any task row lock.
func lockMembers(ctx context.Context, tx *sql.Tx, boardID string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT user_id FROM board_members WHERE board_id=$1 FOR SHARE`, boardID)
	if err != nil {
		return nil, fmt.Errorf("lock members: %w", err)
	}
	defer rows.Close()
	members := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// patchLocked locks the task row, applies p to its current contents and
// drops assignees who are no longer members.
func patchLocked(ctx context.Context, tx *sql.Tx, taskID string, p TaskPatch) (Task, error) {
	var boardID string
	if err := tx.QueryRowContext(ctx, `SELECT board_id FROM tasks WHERE id=$1`, taskID).Scan(&boardID); err != nil {
		return Task{}, notFound(err)
	}
	members, err := lockMembers(ctx, tx, boardID)
	if err != nil {
		return Task{}, err
	}
	current, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, taskID))
	if err != nil {
		return Task{}, notFound(err)
	}
	t := p.Apply(current)
	t.AssignedTo = KeepMembers(t.AssignedTo, members)
	return t, nil
}

func writeTask(ctx context.Context, tx *sql.Tx, t *Task) error {
	assigned, err := encodeAssignees(t.AssignedTo)
	if err != nil {
		return err
	}
	err = tx.QueryRowContext(ctx, `
		UPDATE tasks SET list_id=$2, position=$3, title=$4, description=$5, deadline=$6, attachment=$7,
			assigned_to=$8::jsonb, completed=$9, updated_at=NOW()
		WHERE id=$1
		RETURNING updated_at
	`, t.ID, t.ListID, t.Position, t.Title, t.Description, nullTime(t.Deadline), t.Attachment,
		assigned, t.Completed).Scan(&t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("write task: %w", notFound(err))
	}
	return nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task, plan position.Plan, versions map[string]int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert task: %w", err)
	}
	defer tx.Rollback()

	if err := claimVersions(ctx, tx, versions); err != nil {
		return err
	}
	members, err := lockMembers(ctx, tx, task.BoardID)
	if err != nil {
		return err
	}
	assigned, err := encodeAssignees(KeepMembers(task.AssignedTo, members))
	if err != nil {
		return err
	}
	if err := applyShifts(ctx, tx, plan.Shifts, task.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, board_id, list_id, title, description, deadline, attachment, position, created_by, assigned_to, completed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12, $12)
	`, task.ID, task.BoardID, plan.ListID, task.Title, task.Description, nullTime(task.Deadline), task.Attachment,
		plan.Position, task.CreatedBy, assigned, task.Completed, task.CreatedAt); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert task: %w", err)
	}
	return nil
}

// MoveTask relocates the task from (fromList, fromPos) per plan and applies
// p in the same transaction.
func (s *PostgresStore) MoveTask(ctx context.Context, taskID string, p TaskPatch, fromList string, fromPos int, plan position.Plan, versions map[string]int64) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin move task: %w", err)
	}
	defer tx.Rollback()

	if err := claimVersions(ctx, tx, versions); err != nil {
		return Task{}, err
	}
	task, err := patchLocked(ctx, tx, taskID, p)
	if errors.Is(err, ErrNotFound) {
		return Task{}, position.ErrConflict
	}
	if err != nil {
		return Task{}, err
	}
	if task.ListID != fromList || task.Position != fromPos {
		return Task{}, position.ErrConflict
	}
	if err := applyShifts(ctx, tx, plan.Shifts, taskID); err != nil {
		return Task{}, err
	}
	task.ListID, task.Position = plan.ListID, plan.Position
	if err := writeTask(ctx, tx, &task); err != nil {
		return Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit move task: %w", err)
	}
	return task, nil
}

// UpdateTask applies p to the locked row. Position and list are untouched.
func (s *PostgresStore) UpdateTask(ctx context.Context, taskID string, p TaskPatch) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin update task: %w", err)
	}
	defer tx.Rollback()

	task, err := patchLocked(ctx, tx, taskID, p)
	if err != nil {
		return Task{}, err
	}
	if err := writeTask(ctx, tx, &task); err != nil {
		return Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit update task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, task Task, plan position.Plan, versions map[string]int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete task: %w", err)
	}
	defer tx.Rollback()

	if err := claimVersions(ctx, tx, versions); err != nil {
		return err
	}
	if err := lockTaskAt(ctx, tx, task.ID, task.ListID, task.Position); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, task.ID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if err := applyShifts(ctx, tx, plan.Shifts, task.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete task: %w", err)
	}
	return nil
}

// Notifications

const notificationColumns = `id, recipient_id, type, message, link, is_read, created_at`

func scanNotification(row interface{ Scan(...any) error }) (Notification, error) {
	var n Notification
	if err := row.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Message, &n.Link, &n.IsRead, &n.CreatedAt); err != nil {
		return Notification{}, err
	}
	return n, nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, type, message, link, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.RecipientID, string(n.Type), n.Message, n.Link, n.IsRead, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns one page for recipient, newest first, and the total count.
func (s *PostgresStore) ListNotifications(ctx context.Context, recipientID string, offset, limit int) ([]Notification, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE recipient_id=$1`, recipientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id=$1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3
	`, recipientID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0, limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, recipientID string) (Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx, `
		UPDATE notifications SET is_read=TRUE
		WHERE id=$1 AND recipient_id=$2
		RETURNING `+notificationColumns,
		notificationID, recipientID))
	if err != nil {
		return Notification{}, notFound(err)
	}
	return n, nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read=TRUE WHERE recipient_id=$1 AND NOT is_read`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, notificationID, recipientID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id=$1 AND recipient_id=$2`, notificationID, recipientID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) NotificationExists(ctx context.Context, recipientID string, typ NotificationType, link string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM notifications WHERE recipient_id=$1 AND type=$2 AND link=$3)
	`, recipientID, string(typ), link).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	return exists, nil
}
