package slots

import (
	"testing"
	"time"

	"github.com/slotline/slotline/services/scheduling-service/internal/fault"
)

var day = time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

func TestGenerate_FullHour(t *testing.T) {
	starts, err := Generate(day, ClockTime{Hour: 8}, ClockTime{Hour: 9}, 15*time.Minute)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	want := []time.Time{
		day.Add(8 * time.Hour),
		day.Add(8*time.Hour + 15*time.Minute),
		day.Add(8*time.Hour + 30*time.Minute),
		day.Add(8*time.Hour + 45*time.Minute),
	}
	if len(starts) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(starts))
	}
	for i := range want {
		if !starts[i].Equal(want[i]) {
			t.Fatalf("slot %d: expected %s, got %s", i, want[i], starts[i])
		}
	}
}

func TestGenerate_LastSlotMustFit(t *testing.T) {
	// 08:00-08:59: the 08:45 slot would end at 09:00, past the window.
	starts, err := Generate(day, ClockTime{Hour: 8}, ClockTime{Hour: 8, Minute: 59}, 15*time.Minute)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(starts) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(starts))
	}
	if !starts[2].Equal(day.Add(8*time.Hour + 30*time.Minute)) {
		t.Fatalf("expected last slot 08:30, got %s", starts[2])
	}
}

func TestGenerate_WindowTooShort(t *testing.T) {
	_, err := Generate(day, ClockTime{Hour: 8, Minute: 15}, ClockTime{Hour: 8, Minute: 16}, 15*time.Minute)
	if err == nil {
		t.Fatal("expected error for one-minute window")
	}
	if fault.KindOf(err) != fault.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGenerate_SlotsAreStrictlyIncreasingAndExhaustive(t *testing.T) {
	duration := 15 * time.Minute
	start := ClockTime{Hour: 9}
	end := ClockTime{Hour: 17}

	starts, err := Generate(day, start, end, duration)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	// floor((end-start)/duration) slots for an exactly divisible window.
	if len(starts) != 32 {
		t.Fatalf("expected 32 slots, got %d", len(starts))
	}
	for i := 1; i < len(starts); i++ {
		if got := starts[i].Sub(starts[i-1]); got != duration {
			t.Fatalf("slots %d and %d are %s apart, want %s", i-1, i, got, duration)
		}
	}
	last := starts[len(starts)-1]
	if last.Add(duration).After(end.On(day)) {
		t.Fatalf("last slot %s overruns window end", last)
	}
}
