package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/prominence-eu/prominence/internal/common/prominenceerrors"
	"github.com/prominence-eu/prominence/internal/model"
)

var dialect = goqu.Dialect("postgres")

// PostgresJobRepository stores each job as a jsonb document. Status and creation time are
// duplicated into columns so that queries can filter and order without reading the document.
// The table is created on first use.
type PostgresJobRepository struct {
	db        *pgxpool.Pool
	tableName string
}

func NewPostgresJobRepository(db *pgxpool.Pool, tableName string) (*PostgresJobRepository, error) {
	if db == nil {
		return nil, errors.WithStack(&prominenceerrors.ErrInvalidArgument{
			Name:    "db",
			Value:   db,
			Message: "db must be non-nil",
		})
	}
	if tableName == "" {
		return nil, errors.WithStack(&prominenceerrors.ErrInvalidArgument{
			Name:    "TableName",
			Value:   tableName,
			Message: "TableName must be non-empty",
		})
	}
	return &PostgresJobRepository{db: db, tableName: tableName}, nil
}

func (r *PostgresJobRepository) CreateJob(ctx context.Context, job *model.Job) error {
	err := r.createJob(ctx, job)
	if isUndefinedTable(err) {
		if err := r.createTable(ctx); err != nil {
			return errors.WithStack(err)
		}
		err = r.createJob(ctx, job)
	}
	return err
}

func (r *PostgresJobRepository) createJob(ctx context.Context, job *model.Job) error {
	document, err := json.Marshal(job)
	if err != nil {
		return errors.WithStack(err)
	}
	sql, args, err := dialect.Insert(r.tableName).
		Rows(goqu.Record{
			"id":          job.Id,
			"status":      string(job.Status),
			"create_time": job.CreateTime(),
			"document":    document,
		}).
		OnConflict(goqu.DoNothing()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return errors.WithStack(err)
	}
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return errors.WithStack(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.WithStack(errJobExists(job.Id))
	}
	return nil
}

func (r *PostgresJobRepository) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return r.get(ctx, r.db, r.selectDocument(id), id)
}

func (r *PostgresJobRepository) UpdateJob(ctx context.Context, id string, update UpdateFunc) (*model.Job, bool, error) {
	var result *model.Job
	var changed bool
	err := r.db.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		// The row lock serialises concurrent updates of the same job.
		job, err := r.get(ctx, tx, r.selectDocument(id).ForUpdate(exp.Wait), id)
		if err != nil {
			return err
		}
		result = job
		if !update(job) {
			return nil
		}
		document, err := json.Marshal(job)
		if err != nil {
			return errors.WithStack(err)
		}
		sql, args, err := dialect.Update(r.tableName).
			Set(goqu.Record{"status": string(job.Status), "document": document}).
			Where(goqu.C("id").Eq(id)).
			Prepared(true).
			ToSQL()
		if err != nil {
			return errors.WithStack(err)
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return errors.WithStack(err)
		}
		changed = true
		return nil
	})
	if err != nil {
		if isUndefinedTable(err) {
			return nil, false, errors.WithStack(errJobNotFound(id))
		}
		return nil, false, err
	}
	return result, changed, nil
}

func (r *PostgresJobRepository) QueryJobs(ctx context.Context, filter JobFilter) ([]*model.Job, error) {
	ds := dialect.From(r.tableName).Select("document")
	if filter.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(filter.Status)))
	}
	sql, args, err := ds.Order(goqu.C("create_time").Asc(), goqu.C("id").Asc()).Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rows, err := r.db.Query(ctx, sql, args...)
	if isUndefinedTable(err) {
		return []*model.Job{}, nil
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	jobs := make([]*model.Job, 0)
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, errors.WithStack(err)
		}
		job := &model.Job{}
		if err := json.Unmarshal(document, job); err != nil {
			return nil, errors.WithStack(err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return []*model.Job{}, nil
		}
		return nil, errors.WithStack(err)
	}
	return jobs, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *PostgresJobRepository) selectDocument(id string) *goqu.SelectDataset {
	return dialect.From(r.tableName).Select("document").Where(goqu.C("id").Eq(id))
}

func (r *PostgresJobRepository) get(ctx context.Context, db queryRower, ds *goqu.SelectDataset, id string) (*model.Job, error) {
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var document []byte
	err = db.QueryRow(ctx, sql, args...).Scan(&document)
	if errors.Is(err, pgx.ErrNoRows) || isUndefinedTable(err) {
		return nil, errors.WithStack(errJobNotFound(id))
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	job := &model.Job{}
	if err := json.Unmarshal(document, job); err != nil {
		return nil, errors.WithStack(err)
	}
	return job, nil
}

func (r *PostgresJobRepository) createTable(ctx context.Context) error {
	_, err := r.db.Exec(ctx, fmt.Sprintf(`create table %[1]s (
		id text primary key,
		status text not null,
		create_time double precision not null,
		document jsonb not null
	);
	create index %[1]s_status_idx on %[1]s (status, create_time, id);`, r.tableName))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.DuplicateTable { // created concurrently by another process
		return nil
	}
	return err
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable
}
