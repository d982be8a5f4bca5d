package notify

import (
	"fmt"
	"testing"
)

func TestDrainClears(t *testing.T) {
	q := NewQueue(0)
	q.Success("saved")
	q.Error("failed")

	got := q.Drain()
	if len(got) != 2 || got[0].Level != LevelSuccess || got[1].Message != "failed" {
		t.Fatalf("drained = %+v", got)
	}
	if q.Len() != 0 || len(q.Drain()) != 0 {
		t.Error("expected empty queue after drain")
	}
}

func TestQueueDropsOldest(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 5; i++ {
		q.Info(fmt.Sprintf("n%d", i))
	}
	got := q.Drain()
	if len(got) != 3 || got[0].Message != "n2" || got[2].Message != "n4" {
		t.Errorf("drained = %+v", got)
	}
}
