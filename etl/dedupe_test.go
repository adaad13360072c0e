package etl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ev(hadm, item int64, at time.Time, value string) Event {
	return Event{HadmID: hadm, ItemID: item, Time: at, Value: value}
}

func TestFindDuplicates(t *testing.T) {
	t0 := time.Date(2130, 4, 2, 8, 0, 0, 0, time.UTC)
	events := []Event{
		ev(1, 100, t0, "a"),
		ev(1, 100, t0, "b"),
		ev(1, 100, t0.Add(time.Minute), "c"),
		ev(2, 100, t0, "d"),
	}

	dups := FindDuplicates(events, Event.Key)
	assert.Len(t, dups, 2)
	assert.Equal(t, "a", dups[0].Value)
	assert.Equal(t, "b", dups[1].Value)

	assert.Equal(t, 1, CountDuplicateKeys(events, Event.Key))
}

func TestFindDuplicatesNone(t *testing.T) {
	t0 := time.Date(2130, 4, 2, 8, 0, 0, 0, time.UTC)
	events := []Event{
		ev(1, 100, t0, "a"),
		ev(1, 101, t0, "b"),
	}
	assert.Empty(t, FindDuplicates(events, Event.Key))
	assert.Zero(t, CountDuplicateKeys(events, Event.Key))
}

func TestCollapseExactKeepsFirst(t *testing.T) {
	t0 := time.Date(2130, 4, 2, 8, 0, 0, 0, time.UTC)
	events := []Event{
		ev(1, 100, t0, "first"),
		ev(1, 100, t0, "second"),
		ev(1, 100, t0, "third"),
		ev(1, 101, t0, "other"),
	}

	out := CollapseExact(events, Event.Key)
	assert.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Value)
	assert.Equal(t, "other", out[1].Value)

	// A second pass changes nothing.
	again := CollapseExact(out, Event.Key)
	assert.Equal(t, out, again)
}
