package gormstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	storemodel "kestrel/internal/store/model"

	"gorm.io/gorm/clause"
)

type connectionModel = storemodel.ConnectionModel
type strategyModel = storemodel.StrategyModel

// UpsertConnection 以名称为键登记交易所连接。
func (s *Store) UpsertConnection(ctx context.Context, conn *connectionModel) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	conn.Name = strings.TrimSpace(conn.Name)
	if conn.Name == "" {
		return fmt.Errorf("connection name 必填")
	}
	now := time.Now().Unix()
	if conn.CreatedAtUnix == 0 {
		conn.CreatedAtUnix = now
	}
	conn.UpdatedAtUnix = now
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"venue", "testnet", "active", "updated_at"}),
		}).
		Create(conn).Error
}

func (s *Store) ListActiveConnections(ctx context.Context) ([]connectionModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var out []connectionModel
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpsertStrategy(ctx context.Context, st *strategyModel) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	now := time.Now().Unix()
	if st.CreatedAtUnix == 0 {
		st.CreatedAtUnix = now
	}
	st.UpdatedAtUnix = now
	if st.ID > 0 {
		return s.db.WithContext(ctx).Save(st).Error
	}
	return s.db.WithContext(ctx).Create(st).Error
}

func (s *Store) GetStrategy(ctx context.Context, id int64) (*strategyModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var m strategyModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListActiveStrategies(ctx context.Context, connectionID int64) ([]strategyModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var out []strategyModel
	err := s.db.WithContext(ctx).
		Where("connection_id = ? AND active = ?", connectionID, true).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
