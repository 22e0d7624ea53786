package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kestrel/internal/gateway/exchange"
	"kestrel/internal/gateway/notifier"
	"kestrel/internal/logger"
	"kestrel/internal/store/gormstore"
	storemodel "kestrel/internal/store/model"
)

// 中文说明：
// 对账以交易所为准。本地账本状态偏离交易所实际状态时，显式修正并留审计，
// 而不是悄悄覆盖。对账可以反复跑，修正是幂等的。

const auditSource = "reconciler"

// 单轮偏差超过该数量，说明不是零星丢事件，而是系统性问题，聚合告警。
const discrepancyAlertThreshold = 5

type Reconciler struct {
	store        *gormstore.Store
	venue        exchange.Client
	alerter      notifier.Alerter
	connectionID int64
}

func NewReconciler(store *gormstore.Store, venue exchange.Client, alerter notifier.Alerter, connectionID int64) *Reconciler {
	if alerter == nil {
		alerter = notifier.Nop{}
	}
	return &Reconciler{store: store, venue: venue, alerter: alerter, connectionID: connectionID}
}

// Report 一轮对账的统计结果。
type Report struct {
	Checked       int
	Corrected     int
	Discrepancies []string
}

// Run 对账一轮：取出所有 pending/filled 且有交易所单号的订单，
// 逐个向交易所核对并修正本地状态。
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	orders, err := r.store.ListOrdersForReconciliation(ctx, r.connectionID)
	if err != nil {
		return nil, fmt.Errorf("待对账订单读取失败: %w", err)
	}
	report := &Report{}
	for i := range orders {
		order := &orders[i]
		report.Checked++
		corrected, note, err := r.reconcileOne(ctx, order)
		if err != nil {
			logger.Warnf("订单 %d(%s) 对账失败: %v", order.ID, order.VenueOrderID, err)
			continue
		}
		if corrected {
			report.Corrected++
			report.Discrepancies = append(report.Discrepancies,
				fmt.Sprintf("order %d: %s", order.ID, note))
		}
	}
	if report.Corrected > discrepancyAlertThreshold {
		r.alerter.SendAlert("对账偏差过多",
			fmt.Sprintf("单轮修正 %d 笔订单：\n%s",
				report.Corrected, strings.Join(report.Discrepancies, "\n")),
			notifier.PriorityHigh)
	}
	return report, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, order *storemodel.OrderModel) (bool, string, error) {
	st, err := r.venue.GetOrderStatus(ctx, order.VenueOrderID, order.Symbol)
	if err != nil {
		// 交易所查无此单：本地 pending 视为从未成交，修正为 cancelled。
		// 本地 filled 查无此单多半是交易所归档了历史单，不动。
		if errors.Is(err, exchange.ErrNotFound) {
			if order.Status == storemodel.OrderStatusPending {
				note := "venue reports order not found"
				if err := r.store.CorrectOrderStatus(ctx, order.ID, storemodel.OrderStatusCancelled, auditSource, note); err != nil {
					return false, "", err
				}
				return true, note, nil
			}
			return false, "", nil
		}
		return false, "", err
	}

	want, ok := normalizeVenueStatus(st.Status)
	if !ok {
		logger.Debugf("订单 %s 交易所状态 %q 暂不处理", order.VenueOrderID, st.Status)
		return false, "", nil
	}
	if want == order.Status {
		return false, "", nil
	}
	note := fmt.Sprintf("venue status %s, local %s", st.Status, order.Status)
	if err := r.store.CorrectOrderStatus(ctx, order.ID, want, auditSource, note); err != nil {
		return false, "", err
	}
	return true, note, nil
}

// normalizeVenueStatus 把交易所状态折算到本地三态。部分成交仍在执行中，
// 归 pending；第二个返回值为 false 表示该状态不触发修正。
func normalizeVenueStatus(venueStatus string) (storemodel.OrderStatus, bool) {
	switch strings.ToUpper(venueStatus) {
	case "NEW", "PARTIALLY_FILLED", "PENDING_NEW":
		return storemodel.OrderStatusPending, true
	case "FILLED":
		return storemodel.OrderStatusFilled, true
	case "CANCELED", "CANCELLED", "REJECTED", "EXPIRED", "EXPIRED_IN_MATCH":
		return storemodel.OrderStatusCancelled, true
	default:
		return "", false
	}
}

// FindOrphanedOrders 找出本地 pending 但交易所已终结（或查无）的订单。
// 只查询不修正，供运维排查。
func (r *Reconciler) FindOrphanedOrders(ctx context.Context) ([]storemodel.OrderModel, error) {
	orders, err := r.store.ListPendingOrders(ctx, r.connectionID)
	if err != nil {
		return nil, err
	}
	var orphans []storemodel.OrderModel
	for i := range orders {
		order := orders[i]
		if order.VenueOrderID == "" {
			continue
		}
		st, err := r.venue.GetOrderStatus(ctx, order.VenueOrderID, order.Symbol)
		if err != nil {
			if errors.Is(err, exchange.ErrNotFound) {
				orphans = append(orphans, order)
			}
			continue
		}
		if want, ok := normalizeVenueStatus(st.Status); ok && want != storemodel.OrderStatusPending {
			orphans = append(orphans, order)
		}
	}
	return orphans, nil
}
