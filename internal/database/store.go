package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/sshcollectorpro/fsmaudit/internal/audit"
	"github.com/sshcollectorpro/fsmaudit/internal/model"
)

// ErrRunNotFound 运行记录不存在
var ErrRunNotFound = errors.New("audit run not found")

// RunStore 审计结果持久化
type RunStore struct {
	db *gorm.DB
}

// NewRunStore 创建持久化仓库
func NewRunStore(gdb *gorm.DB) *RunStore {
	return &RunStore{db: gdb}
}

// SaveRun 在单个事务中写入运行、结果行与失败记录
func (s *RunStore) SaveRun(ctx context.Context, res *audit.Result) error {
	run := model.AuditRun{
		ID:         res.RunID,
		Job:        res.Job,
		Header:     model.EncodeCells(res.Header),
		Devices:    len(res.Reports),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	var rows []model.AuditRow
	var failures []model.AuditFailure
	for _, rep := range res.Reports {
		for _, cells := range rep.Rows {
			rows = append(rows, model.AuditRow{
				RunID:  res.RunID,
				Seq:    len(rows),
				Device: rep.Device,
				Cells:  model.EncodeCells(cells),
			})
		}
		if rep.Failure != nil {
			failures = append(failures, model.AuditFailure{
				RunID:    res.RunID,
				Device:   rep.Device,
				Kind:     rep.Failure.Kind,
				Message:  rep.Failure.Message,
				Attempts: rep.Attempts,
			})
		}
	}
	run.RowCount = len(rows)
	run.Failed = len(failures)

	// 写入与调用方 ctx 解耦：运行被取消时仍保存已完成的结果
	gdb := s.db.WithContext(context.WithoutCancel(ctx))
	return TransactionWithRetry(gdb, func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("failed to save audit run: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(&rows, 200).Error; err != nil {
				return fmt.Errorf("failed to save audit rows: %w", err)
			}
		}
		if len(failures) > 0 {
			if err := tx.Create(&failures).Error; err != nil {
				return fmt.Errorf("failed to save audit failures: %w", err)
			}
		}
		return nil
	}, 5, 0)
}

// ListRuns 按开始时间倒序列出最近的运行（不含行）
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]model.AuditRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []model.AuditRun
	err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit runs: %w", err)
	}
	return runs, nil
}

// GetRun 读取运行及其结果行、失败记录
func (s *RunStore) GetRun(ctx context.Context, id string) (*model.AuditRun, error) {
	var run model.AuditRun
	err := s.db.WithContext(ctx).
		Preload("Rows", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Preload("Failures", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load audit run: %w", err)
	}
	return &run, nil
}
