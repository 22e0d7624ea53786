package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/gateway/exchange"
	"kestrel/internal/gateway/notifier"
	"kestrel/internal/store/gormstore"
	storemodel "kestrel/internal/store/model"
)

// statusVenue 只实现对账用到的状态查询，其余方法不会被调用。
type statusVenue struct {
	exchange.Client
	statuses map[string]string // venue_order_id -> venue status；缺失视为查无此单
	calls    int
}

func (v *statusVenue) GetOrderStatus(ctx context.Context, venueOrderID, symbol string) (*exchange.OrderStatus, error) {
	v.calls++
	st, ok := v.statuses[venueOrderID]
	if !ok {
		return nil, exchange.ErrNotFound
	}
	return &exchange.OrderStatus{VenueOrderID: venueOrderID, Status: st}, nil
}

type countingAlerter struct {
	alerts []string
}

func (a *countingAlerter) SendAlert(subject, message string, priority notifier.Priority) bool {
	a.alerts = append(a.alerts, subject)
	return true
}

func newTestStore(t *testing.T) *gormstore.Store {
	t.Helper()
	st, err := gormstore.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func insertOrder(t *testing.T, st *gormstore.Store, venueID string, status storemodel.OrderStatus) *storemodel.OrderModel {
	t.Helper()
	ctx := context.Background()
	order := &storemodel.OrderModel{
		ConnectionID: 1,
		StrategyID:   1,
		VenueOrderID: venueID,
		Symbol:       "BTCUSDT",
		Side:         storemodel.OrderSideBuy,
		Type:         storemodel.OrderTypeLimit,
		Amount:       1,
	}
	require.NoError(t, st.InsertOrder(ctx, order))
	if status == storemodel.OrderStatusFilled {
		require.NoError(t, st.MarkOrderFilled(ctx, order.ID, venueID, 1, 100, 0))
	}
	return order
}

func TestRunCorrectsDivergedStatuses(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	filled := insertOrder(t, st, "v1", storemodel.OrderStatusPending)  // 交易所已成交
	stays := insertOrder(t, st, "v2", storemodel.OrderStatusPending)   // 交易所仍挂着
	gone := insertOrder(t, st, "v3", storemodel.OrderStatusPending)    // 交易所查无此单
	matches := insertOrder(t, st, "v4", storemodel.OrderStatusFilled)  // 两边一致
	expired := insertOrder(t, st, "v5", storemodel.OrderStatusPending) // 交易所已过期

	venue := &statusVenue{statuses: map[string]string{
		"v1": "FILLED",
		"v2": "PARTIALLY_FILLED",
		"v4": "FILLED",
		"v5": "EXPIRED",
	}}
	r := NewReconciler(st, venue, nil, 1)

	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Checked)
	assert.Equal(t, 3, report.Corrected)

	for _, tc := range []struct {
		id   int64
		want storemodel.OrderStatus
	}{
		{filled.ID, storemodel.OrderStatusFilled},
		{stays.ID, storemodel.OrderStatusPending},
		{gone.ID, storemodel.OrderStatusCancelled},
		{matches.ID, storemodel.OrderStatusFilled},
		{expired.ID, storemodel.OrderStatusCancelled},
	} {
		got, err := st.GetOrder(ctx, tc.id)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.Status, "order %d", tc.id)
	}

	// 修正留下审计记录
	audits, err := st.ListOrderAudits(ctx, filled.ID)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "reconciler", audits[0].Source)
	assert.Equal(t, storemodel.OrderStatusPending, audits[0].FromStatus)
	assert.Equal(t, storemodel.OrderStatusFilled, audits[0].ToStatus)
}

func TestRunIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	order := insertOrder(t, st, "v1", storemodel.OrderStatusPending)

	venue := &statusVenue{statuses: map[string]string{"v1": "FILLED"}}
	r := NewReconciler(st, venue, nil, 1)

	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Corrected)

	// 第二轮不再产生修正，也不再追加审计
	report, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Corrected)

	audits, err := st.ListOrderAudits(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, audits, 1)
}

func TestRunAggregateAlertOnManyDiscrepancies(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	statuses := map[string]string{}
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		insertOrder(t, st, id, storemodel.OrderStatusPending)
		statuses[id] = "FILLED"
	}
	alerter := &countingAlerter{}
	r := NewReconciler(st, &statusVenue{statuses: statuses}, alerter, 1)

	report, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, report.Corrected)
	require.Len(t, alerter.alerts, 1, "六笔偏差聚合成一条告警")
	assert.Equal(t, "对账偏差过多", alerter.alerts[0])
}

func TestRunAlertThresholdIsExclusive(t *testing.T) {
	st := newTestStore(t)
	statuses := map[string]string{}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		insertOrder(t, st, id, storemodel.OrderStatusPending)
		statuses[id] = "FILLED"
	}
	alerter := &countingAlerter{}
	r := NewReconciler(st, &statusVenue{statuses: statuses}, alerter, 1)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Corrected)
	assert.Empty(t, alerter.alerts, "恰好到阈值不触发，超过才告警")
}

func TestRunFewDiscrepanciesNoAlert(t *testing.T) {
	st := newTestStore(t)
	insertOrder(t, st, "v1", storemodel.OrderStatusPending)
	alerter := &countingAlerter{}
	r := NewReconciler(st, &statusVenue{statuses: map[string]string{"v1": "FILLED"}}, alerter, 1)

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerter.alerts)
}

func TestFindOrphanedOrders(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	orphanGone := insertOrder(t, st, "gone", storemodel.OrderStatusPending)
	orphanDone := insertOrder(t, st, "done", storemodel.OrderStatusPending)
	alive := insertOrder(t, st, "alive", storemodel.OrderStatusPending)

	venue := &statusVenue{statuses: map[string]string{
		"done":  "CANCELED",
		"alive": "NEW",
	}}
	r := NewReconciler(st, venue, nil, 1)

	orphans, err := r.FindOrphanedOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 2)
	ids := []int64{orphans[0].ID, orphans[1].ID}
	assert.Contains(t, ids, orphanGone.ID)
	assert.Contains(t, ids, orphanDone.ID)
	assert.NotContains(t, ids, alive.ID)

	// 只查不改
	got, err := st.GetOrder(ctx, orphanGone.ID)
	require.NoError(t, err)
	assert.Equal(t, storemodel.OrderStatusPending, got.Status)
}

func TestNormalizeVenueStatus(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want storemodel.OrderStatus
		ok   bool
	}{
		{"NEW", storemodel.OrderStatusPending, true},
		{"PARTIALLY_FILLED", storemodel.OrderStatusPending, true},
		{"FILLED", storemodel.OrderStatusFilled, true},
		{"CANCELED", storemodel.OrderStatusCancelled, true},
		{"REJECTED", storemodel.OrderStatusCancelled, true},
		{"EXPIRED", storemodel.OrderStatusCancelled, true},
		{"filled", storemodel.OrderStatusFilled, true},
		{"SOMETHING_NEW", "", false},
	} {
		got, ok := normalizeVenueStatus(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if ok {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}
