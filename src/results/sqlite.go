package results

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"time"

	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// SqliteSink appends grasps to the grasp_results table.
type SqliteSink struct {
	db  *sql.DB
	now func() time.Time
}

func NewSqliteSink(path string) (*SqliteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create grasp_results")
	}
	return &SqliteSink{db: db, now: time.Now}, nil
}

func (s *SqliteSink) Store(ctx context.Context, runID string, grasps []datastructures.ObjectGrasp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO grasp_results (run_id, object, input, found, score, pose, contact, opening, num_candidates, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	created := s.now().Unix()
	for _, g := range grasps {
		pose, err := json.Marshal(g.Grasp.Pose)
		if err != nil {
			tx.Rollback()
			return err
		}
		contact, err := json.Marshal(g.Grasp.Contact)
		if err != nil {
			tx.Rollback()
			return err
		}
		_, err = tx.ExecContext(ctx, query, runID, g.Object, g.Input, g.Found, g.Grasp.Score,
			string(pose), string(contact), g.Grasp.Opening, g.NumCandidates, created)
		if err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "insert %s", Key(g))
		}
	}
	return tx.Commit()
}

// Load returns the grasps stored for a run in insertion order.
func (s *SqliteSink) Load(ctx context.Context, runID string) ([]datastructures.ObjectGrasp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT object, input, found, score, pose, contact, opening, num_candidates
		FROM grasp_results WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []datastructures.ObjectGrasp
	for rows.Next() {
		var g datastructures.ObjectGrasp
		var pose, contact string
		if err := rows.Scan(&g.Object, &g.Input, &g.Found, &g.Grasp.Score, &pose, &contact,
			&g.Grasp.Opening, &g.NumCandidates); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(pose), &g.Grasp.Pose); err != nil {
			return nil, errors.Wrap(err, "decode pose")
		}
		if err := json.Unmarshal([]byte(contact), &g.Grasp.Contact); err != nil {
			return nil, errors.Wrap(err, "decode contact")
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (s *SqliteSink) Close() error {
	return s.db.Close()
}
