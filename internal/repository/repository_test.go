package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prominence-eu/prominence/internal/common/prominenceerrors"
	"github.com/prominence-eu/prominence/internal/common/util"
	"github.com/prominence-eu/prominence/internal/model"
)

func withRepositories(t *testing.T, action func(t *testing.T, repo JobRepository)) {
	t.Run("memory", func(t *testing.T) {
		repo, err := NewInMemoryJobRepository()
		require.NoError(t, err)
		action(t, repo)
	})
	t.Run("redis", func(t *testing.T) {
		db, err := miniredis.Run()
		require.NoError(t, err)
		defer db.Close()
		client := redis.NewClient(&redis.Options{Addr: db.Addr()})
		defer client.Close()
		action(t, NewRedisJobRepository(client))
	})
	t.Run("postgres", func(t *testing.T) {
		url := os.Getenv("PROMINENCE_TEST_POSTGRES")
		if url == "" {
			t.Skip("PROMINENCE_TEST_POSTGRES not set")
		}
		ctx := context.Background()
		db, err := pgxpool.Connect(ctx, url)
		require.NoError(t, err)
		defer db.Close()
		tableName := "jobs_" + util.NewULID()
		defer db.Exec(ctx, "drop table if exists "+tableName)
		repo, err := NewPostgresJobRepository(db, tableName)
		require.NoError(t, err)
		action(t, repo)
	})
}

func testJob(id string, createTime float64, status model.JobStatus) *model.Job {
	return &model.Job{
		Id:        id,
		Tasks:     []model.Task{{Image: "centos:7", Runtime: model.RuntimeSingularity, Env: map[string]string{"A": "1"}}},
		Resources: model.Resources{Cpus: 1, Memory: 1, Disk: 1, Nodes: 1, Walltime: 60},
		Status:    status,
		Events:    []model.Event{{Time: createTime, Type: model.EventCreated}},
		Execution: &model.Execution{},
	}
}

func TestCreateAndGetJob(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo JobRepository) {
		ctx := context.Background()
		job := testJob("a", 100, model.JobPending)
		require.NoError(t, repo.CreateJob(ctx, job))

		got, err := repo.GetJob(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, job, got)

		err = repo.CreateJob(ctx, testJob("a", 200, model.JobPending))
		var alreadyExists *prominenceerrors.ErrAlreadyExists
		assert.ErrorAs(t, err, &alreadyExists)
	})
}

func TestGetJob_NotFound(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo JobRepository) {
		_, err := repo.GetJob(context.Background(), "missing")
		assert.True(t, prominenceerrors.IsNotFound(err))
	})
}

func TestGetJob_ReturnsCopy(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo JobRepository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateJob(ctx, testJob("a", 100, model.JobPending)))

		got, err := repo.GetJob(ctx, "a")
		require.NoError(t, err)
		got.Status = model.JobFailed
		got.Tasks[0].Env["A"] = "2"

		again, err := repo.GetJob(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, model.JobPending, again.Status)
		assert.Equal(t, "1", again.Tasks[0].Env["A"])
	})
}

func TestUpdateJob(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo JobRepository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateJob(ctx, testJob("a", 100, model.JobPending)))

		updated, changed, err := repo.UpdateJob(ctx, "a", func(job *model.Job) bool {
			job.Status = model.JobAssigned
			return true
		})
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, model.JobAssigned, updated.Status)

		got, err := repo.GetJob(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, model.JobAssigned, got.Status)

		pending, err := repo.QueryJobs(ctx, JobFilter{Status: model.JobPending})
		require.NoError(t, err)
		assert.Empty(t, pending)
		assigned, err := repo.QueryJobs(ctx, JobFilter{Status: model.JobAssigned})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(assigned))
	})
}

func TestUpdateJob_Unchanged(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo JobRepository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateJob(ctx, testJob("a", 100, model.JobRunning)))

		job, changed, err := repo.UpdateJob(ctx, "a", func(job *model.Job) bool {
			if job.Status != model.JobPending {
				return false
			}
			job.Status = model.JobAssigned
			return true
		})
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, model.JobRunning, job.Status)

		got, err := repo.GetJob(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, model.JobRunning, got.Status)
	})
}

func TestUpdateJob_NotFound(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo JobRepository) {
		_, _, err := repo.UpdateJob(context.Background(), "missing", func(job *model.Job) bool { return true })
		assert.True(t, prominenceerrors.IsNotFound(err))
	})
}

func TestUpdateJob_Concurrent(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo JobRepository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateJob(ctx, testJob("a", 100, model.JobPending)))

		const updates = 5
		wg := sync.WaitGroup{}
		for i := 0; i < updates; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := repo.UpdateJob(ctx, "a", func(job *model.Job) bool {
					job.EnsureExecution().Retries++
					return true
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := repo.GetJob(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, updates, got.Retries())
	})
}

func TestQueryJobs_Ordering(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo JobRepository) {
		ctx := context.Background()
		jobs := []*model.Job{
			testJob("c", 100, model.JobPending),
			testJob("b", 300, model.JobPending),
			testJob("a", 100, model.JobPending),
			testJob("d", 200, model.JobRunning),
			testJob("e", 50, model.JobPending),
		}
		for _, job := range jobs {
			require.NoError(t, repo.CreateJob(ctx, job))
		}

		tests := map[string]struct {
			filter   JobFilter
			expected []string
		}{
			"pending": {
				filter:   JobFilter{Status: model.JobPending},
				expected: []string{"e", "a", "c", "b"},
			},
			"running": {
				filter:   JobFilter{Status: model.JobRunning},
				expected: []string{"d"},
			},
			"completed": {
				filter:   JobFilter{Status: model.JobCompleted},
				expected: []string{},
			},
			"all": {
				filter:   JobFilter{},
				expected: []string{"e", "a", "c", "d", "b"},
			},
		}
		for name, tc := range tests {
			t.Run(name, func(t *testing.T) {
				result, err := repo.QueryJobs(ctx, tc.filter)
				require.NoError(t, err)
				assert.Equal(t, tc.expected, ids(result))
			})
		}
	})
}

func TestQueryJobs_Many(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo JobRepository) {
		ctx := context.Background()
		for i := 0; i < 100; i++ {
			require.NoError(t, repo.CreateJob(ctx, testJob(fmt.Sprintf("job%03d", i), float64(1000-i), model.JobPending)))
		}
		result, err := repo.QueryJobs(ctx, JobFilter{Status: model.JobPending})
		require.NoError(t, err)
		require.Len(t, result, 100)
		assert.Equal(t, "job099", result[0].Id)
		assert.Equal(t, "job000", result[99].Id)
	})
}

func ids(jobs []*model.Job) []string {
	result := make([]string, len(jobs))
	for i, job := range jobs {
		result[i] = job.Id
	}
	return result
}
