package chat

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func confirmed(id string, at time.Time) Message {
	return Message{ID: id, Status: StatusConfirmed, CreatedAt: at}
}

func TestLessOrdersByCreatedAt(t *testing.T) {
	a := confirmed("m2", t0)
	b := confirmed("m1", t0.Add(time.Second))

	if !Less(a, b) {
		t.Fatal("expected earlier timestamp to sort first regardless of id")
	}
	if Less(b, a) {
		t.Fatal("expected later timestamp to sort last")
	}
}

func TestLessBreaksTiesByID(t *testing.T) {
	a := confirmed("m1", t0)
	b := confirmed("m2", t0)

	if !Less(a, b) {
		t.Fatal("expected id to break equal-timestamp ties")
	}
	if Less(b, a) {
		t.Fatal("expected m2 to sort after m1")
	}
}

func TestLessPlacesPendingLastAmongEqualTimestamps(t *testing.T) {
	p := Message{ID: "temp-1", Status: StatusPending, CreatedAt: t0}
	c := confirmed("zzz", t0)

	if !Less(c, p) {
		t.Fatal("expected confirmed entry to sort before pending at equal timestamps")
	}
	if Less(p, c) {
		t.Fatal("expected pending entry to sort after confirmed at equal timestamps")
	}
}

func TestLessPendingPairCompareEqual(t *testing.T) {
	// Equal pendings must compare equal both ways so a stable sort keeps
	// local issue order.
	p1 := Message{ID: "temp-1", Status: StatusPending, CreatedAt: t0}
	p2 := Message{ID: "temp-2", Status: StatusPending, CreatedAt: t0}

	if Less(p1, p2) || Less(p2, p1) {
		t.Fatal("expected equal-timestamp pendings to compare equal")
	}
}

func TestConfirmed(t *testing.T) {
	if (Message{Status: StatusPending}).Confirmed() {
		t.Fatal("pending must not report confirmed")
	}
	if (Message{Status: StatusFailed}).Confirmed() {
		t.Fatal("failed must not report confirmed")
	}
	if !(Message{Status: StatusConfirmed}).Confirmed() {
		t.Fatal("confirmed must report confirmed")
	}
}
