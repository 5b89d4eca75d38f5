package repository

import (
	"database/sql"
	"time"

	"github.com/dcayres/campaign-dispatch/internal/model"
)

type DelayedTaskRepositoryInterface interface {
	Create(t *model.DelayedTask) error
	ClaimDue(now time.Time, limit int) ([]*model.DelayedTask, error)
	ReleaseStale(cutoff time.Time) (int, error)
	MarkDone(id string) error
	MarkFailed(id, lastError string) error
}

type DelayedTaskRepository struct {
	DB *sql.DB
}

func (r *DelayedTaskRepository) Create(t *model.DelayedTask) error {
	t.CreatedAt = time.Now()
	if t.Status == "" {
		t.Status = model.TaskPending
	}
	query := `
        INSERT INTO delayed_tasks (id, kind, fire_at, payload, agendamento_id, campaign_id, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := r.DB.Exec(query, t.ID, t.Kind, t.FireAt, []byte(t.Payload), t.AgendamentoID, t.CampaignID, t.Status, t.CreatedAt)
	return err
}

// ClaimDue atomically flips due pending tasks to RUNNING and returns them,
// so each task is executed at most once even with concurrent pollers.
func (r *DelayedTaskRepository) ClaimDue(now time.Time, limit int) ([]*model.DelayedTask, error) {
	query := `
        UPDATE delayed_tasks
        SET status=$1, claimed_at=$3
        WHERE id IN (
            SELECT id FROM delayed_tasks
            WHERE status=$2 AND fire_at<=$3
            ORDER BY fire_at
            LIMIT $4
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, kind, fire_at, payload, agendamento_id, campaign_id, status, created_at
    `
	rows, err := r.DB.Query(query, model.TaskRunning, model.TaskPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*model.DelayedTask{}
	for rows.Next() {
		t := &model.DelayedTask{}
		var payload []byte
		if err := rows.Scan(&t.ID, &t.Kind, &t.FireAt, &payload, &t.AgendamentoID, &t.CampaignID, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Payload = payload
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ReleaseStale re-pends RUNNING tasks claimed before the cutoff. A claim
// that old means the claiming process died mid-run; the next poll picks the
// task up again.
func (r *DelayedTaskRepository) ReleaseStale(cutoff time.Time) (int, error) {
	query := `
        UPDATE delayed_tasks
        SET status=$1, claimed_at=NULL
        WHERE status=$2 AND claimed_at<$3
    `
	res, err := r.DB.Exec(query, model.TaskPending, model.TaskRunning, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *DelayedTaskRepository) MarkDone(id string) error {
	_, err := r.DB.Exec(`UPDATE delayed_tasks SET status=$1, payload=NULL WHERE id=$2`, model.TaskDone, id)
	return err
}

func (r *DelayedTaskRepository) MarkFailed(id, lastError string) error {
	_, err := r.DB.Exec(`UPDATE delayed_tasks SET status=$1, last_error=$2, payload=NULL WHERE id=$3`, model.TaskFailed, lastError, id)
	return err
}

var _ DelayedTaskRepositoryInterface = (*DelayedTaskRepository)(nil)
