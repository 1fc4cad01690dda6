package dashboard

import "testing"

func TestRecentOrdersEvictsOldest(t *testing.T) {
	t.Parallel()
	r := NewRecentOrders(2)
	r.Add(OrderStatus{OrderID: "1"})
	r.Add(OrderStatus{OrderID: "2"})
	r.Add(OrderStatus{OrderID: "3"})

	got := r.Snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].OrderID != "2" || got[1].OrderID != "3" {
		t.Fatalf("expected oldest entry evicted, got %+v", got)
	}
}
