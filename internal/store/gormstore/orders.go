package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	storemodel "kestrel/internal/store/model"

	"gorm.io/gorm"
)

type orderModel = storemodel.OrderModel
type orderAuditModel = storemodel.OrderAuditModel

// InsertOrder 落库新订单并回填自增 ID。
func (s *Store) InsertOrder(ctx context.Context, order *orderModel) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	now := time.Now().Unix()
	if order.CreatedAtUnix == 0 {
		order.CreatedAtUnix = now
	}
	order.UpdatedAtUnix = now
	if order.Status == "" {
		order.Status = storemodel.OrderStatusPending
	}
	return s.db.WithContext(ctx).Create(order).Error
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*orderModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var m orderModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkOrderFilled 记录成交结果：状态、实际成交量/价、手续费与交易所订单号。
func (s *Store) MarkOrderFilled(ctx context.Context, id int64, venueOrderID string, filledAmount, filledPrice, fee float64) error {
	return s.updateOrderStatus(ctx, id, storemodel.OrderStatusFilled, map[string]interface{}{
		"venue_order_id": venueOrderID,
		"filled_amount":  filledAmount,
		"filled_price":   filledPrice,
		"fee":            fee,
	})
}

func (s *Store) MarkOrderFailed(ctx context.Context, id int64) error {
	return s.updateOrderStatus(ctx, id, storemodel.OrderStatusFailed, nil)
}

func (s *Store) MarkOrderCancelled(ctx context.Context, id int64) error {
	return s.updateOrderStatus(ctx, id, storemodel.OrderStatusCancelled, nil)
}

func (s *Store) updateOrderStatus(ctx context.Context, id int64, to storemodel.OrderStatus, extra map[string]interface{}) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m orderModel
		if err := tx.First(&m, id).Error; err != nil {
			return err
		}
		if !m.Status.CanTransition(to) {
			return fmt.Errorf("订单 %d 状态 %s 不允许流向 %s", id, m.Status, to)
		}
		payload := map[string]interface{}{
			"status":     to,
			"updated_at": time.Now().Unix(),
		}
		for k, v := range extra {
			payload[k] = v
		}
		return tx.Model(&orderModel{}).Where("id = ?", id).Updates(payload).Error
	})
}

// CorrectOrderStatus 对账修正：允许覆盖终态，但必须写审计记录。
func (s *Store) CorrectOrderStatus(ctx context.Context, id int64, to storemodel.OrderStatus, source, note string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m orderModel
		if err := tx.First(&m, id).Error; err != nil {
			return err
		}
		if m.Status == to {
			return nil
		}
		audit := orderAuditModel{
			OrderID:       id,
			FromStatus:    m.Status,
			ToStatus:      to,
			Source:        source,
			Note:          note,
			CreatedAtUnix: time.Now().Unix(),
		}
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}
		return tx.Model(&orderModel{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now().Unix(),
		}).Error
	})
}

// ListOrdersForReconciliation 取某连接下待核对的订单（pending/filled 且已有交易所单号）。
func (s *Store) ListOrdersForReconciliation(ctx context.Context, connectionID int64) ([]orderModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []orderModel
	err := s.db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Where("status IN ?", []storemodel.OrderStatus{storemodel.OrderStatusPending, storemodel.OrderStatusFilled}).
		Where("venue_order_id != ''").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return models, nil
}

func (s *Store) ListPendingOrders(ctx context.Context, connectionID int64) ([]orderModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []orderModel
	err := s.db.WithContext(ctx).
		Where("connection_id = ? AND status = ?", connectionID, storemodel.OrderStatusPending).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return models, nil
}

// LinkOCOPair 将止损/止盈两腿绑成一组。
func (s *Store) LinkOCOPair(ctx context.Context, stopOrderID, limitOrderID int64, groupID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().Unix()
		if err := tx.Model(&orderModel{}).Where("id = ?", stopOrderID).Updates(map[string]interface{}{
			"oco_group_id":    groupID,
			"linked_order_id": limitOrderID,
			"updated_at":      now,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&orderModel{}).Where("id = ?", limitOrderID).Updates(map[string]interface{}{
			"oco_group_id":    groupID,
			"linked_order_id": stopOrderID,
			"updated_at":      now,
		}).Error
	})
}

func (s *Store) ListOrderAudits(ctx context.Context, orderID int64) ([]orderAuditModel, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var audits []orderAuditModel
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&audits).Error; err != nil {
		return nil, err
	}
	return audits, nil
}

// IsNotFound 统一判断记录不存在。
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
