package reconcile

import (
	"context"
	"errors"
	"time"

	"kestrel/internal/gateway/exchange"
	"kestrel/internal/logger"
	storemodel "kestrel/internal/store/model"
)

// 逐次拉长的查询间隔。市价单通常首查即终结，限价/止损单靠对账循环兜底。
var monitorDelays = []time.Duration{time.Second, 2 * time.Second, 5 * time.Second}

// MonitorOrder 短周期跟踪单笔 pending 订单直到终结或查完所有间隔。
// 返回是否已到终态。
func (r *Reconciler) MonitorOrder(ctx context.Context, orderID int64) (bool, error) {
	order, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order.Status != storemodel.OrderStatusPending {
		return true, nil
	}
	if order.VenueOrderID == "" {
		return false, nil
	}
	for _, delay := range monitorDelays {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
		st, err := r.venue.GetOrderStatus(ctx, order.VenueOrderID, order.Symbol)
		if err != nil {
			if errors.Is(err, exchange.ErrNotFound) {
				note := "venue reports order not found"
				if err := r.store.CorrectOrderStatus(ctx, order.ID, storemodel.OrderStatusCancelled, auditSource, note); err != nil {
					return false, err
				}
				return true, nil
			}
			logger.Warnf("订单 %s 状态查询失败: %v", order.VenueOrderID, err)
			continue
		}
		want, ok := normalizeVenueStatus(st.Status)
		if !ok || want == storemodel.OrderStatusPending {
			continue
		}
		if want == storemodel.OrderStatusFilled {
			if err := r.store.MarkOrderFilled(ctx, order.ID, order.VenueOrderID, st.FilledAmount, st.FilledPrice, 0); err != nil {
				return false, err
			}
			return true, nil
		}
		if err := r.store.MarkOrderCancelled(ctx, order.ID); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
