// Package job 管理批处理任务
package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-memdb"
)

var ErrNotFound = errors.New("job not found")

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"

	tableJobs = "jobs"
	indexID   = "id"
)

type ItemResult struct {
	ImageURL     string `json:"image_url"`
	ProcessedURL string `json:"processed_url,omitempty"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	Operations []string
	Total      int
	Completed  int
	Failed     int
	Results    []ItemResult
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Progress 已结束的图片占比，0-100
func (j Job) Progress() int {
	if j.Total == 0 {
		return 0
	}
	return (j.Completed + j.Failed) * 100 / j.Total
}

func (j Job) Done() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

func (j *Job) clone() *Job {
	c := *j
	c.Operations = append([]string(nil), j.Operations...)
	c.Results = append([]ItemResult(nil), j.Results...)
	return &c
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableJobs: {
				Name: tableJobs,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}
}

// Store 内存中的任务表，读出的 Job 都是副本
type Store struct {
	db *memdb.MemDB
}

func NewStore() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Create(j Job) error {
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableJobs, indexID, j.ID)
	if err != nil {
		return fmt.Errorf("lookup job %s: %w", j.ID, err)
	}
	if existing != nil {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	if err := txn.Insert(tableJobs, j.clone()); err != nil {
		return fmt.Errorf("insert job %s: %w", j.ID, err)
	}
	txn.Commit()
	return nil
}

// Get 只返回属于 userID 的任务
func (s *Store) Get(userID, id string) (Job, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableJobs, indexID, id)
	if err != nil {
		return Job{}, fmt.Errorf("lookup job %s: %w", id, err)
	}
	if raw == nil {
		return Job{}, ErrNotFound
	}
	j := raw.(*Job)
	if j.UserID != userID {
		return Job{}, ErrNotFound
	}
	return *j.clone(), nil
}

// Update 在写事务中修改任务副本后整体替换
func (s *Store) Update(id string, fn func(j *Job)) (Job, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableJobs, indexID, id)
	if err != nil {
		return Job{}, fmt.Errorf("lookup job %s: %w", id, err)
	}
	if raw == nil {
		return Job{}, ErrNotFound
	}

	j := raw.(*Job).clone()
	fn(j)
	j.ID = id
	j.UpdatedAt = time.Now()

	if err := txn.Insert(tableJobs, j); err != nil {
		return Job{}, fmt.Errorf("update job %s: %w", id, err)
	}
	txn.Commit()
	return *j.clone(), nil
}

// Prune 删除 before 之前结束的任务，进行中的任务保留
func (s *Store) Prune(before time.Time) (int, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(tableJobs, indexID)
	if err != nil {
		return 0, fmt.Errorf("scan jobs: %w", err)
	}

	var expired []*Job
	for raw := it.Next(); raw != nil; raw = it.Next() {
		j := raw.(*Job)
		if j.Done() && j.UpdatedAt.Before(before) {
			expired = append(expired, j)
		}
	}

	for _, j := range expired {
		if err := txn.Delete(tableJobs, j); err != nil {
			return 0, fmt.Errorf("delete job %s: %w", j.ID, err)
		}
	}
	txn.Commit()
	return len(expired), nil
}
