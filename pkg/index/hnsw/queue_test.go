package hnsw

import "testing"

func TestMinQueueOrdering(t *testing.T) {
	q := newMinQueue()
	q.Push(neighbor{handle: 0, distance: 3})
	q.Push(neighbor{handle: 1, distance: 1})
	q.Push(neighbor{handle: 2, distance: 2})

	want := []float32{1, 2, 3}
	for _, w := range want {
		n, ok := q.Pop()
		if !ok || n.distance != w {
			t.Fatalf("Pop = %v (%v), want distance %v", n.distance, ok, w)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop on empty queue returned ok")
	}
}

func TestMaxQueueOrdering(t *testing.T) {
	q := newMaxQueue()
	q.Push(neighbor{handle: 0, distance: 3})
	q.Push(neighbor{handle: 1, distance: 1})
	q.Push(neighbor{handle: 2, distance: 2})

	want := []float32{3, 2, 1}
	for _, w := range want {
		n, ok := q.Pop()
		if !ok || n.distance != w {
			t.Fatalf("Pop = %v (%v), want distance %v", n.distance, ok, w)
		}
	}
}

func TestPushBounded(t *testing.T) {
	q := newMaxQueue()
	q.PushBounded(neighbor{handle: 0, distance: 5}, 2)
	q.PushBounded(neighbor{handle: 1, distance: 1}, 2)
	q.PushBounded(neighbor{handle: 2, distance: 3}, 2)

	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}

	sorted := q.Sorted()
	if sorted[0].distance != 1 || sorted[1].distance != 3 {
		t.Errorf("Sorted = %v, want [1 3]", sorted)
	}
}

func TestTopDoesNotPop(t *testing.T) {
	q := newMaxQueue()
	q.Push(neighbor{handle: 0, distance: 2})
	q.Push(neighbor{handle: 1, distance: 4})

	top, ok := q.Top()
	if !ok || top.distance != 4 {
		t.Fatalf("Top = %v (%v), want 4", top.distance, ok)
	}
	if q.Len() != 2 {
		t.Errorf("Top modified the queue, Len = %d", q.Len())
	}
}

func TestSortedAscending(t *testing.T) {
	for _, isMax := range []bool{true, false} {
		q := &neighborQueue{isMaxHeap: isMax}
		for _, d := range []float32{5, 1, 4, 2, 3} {
			q.Push(neighbor{distance: d})
		}
		sorted := q.Sorted()
		for i := 1; i < len(sorted); i++ {
			if sorted[i-1].distance > sorted[i].distance {
				t.Fatalf("isMax=%v: Sorted not ascending: %v", isMax, sorted)
			}
		}
	}
}
