package tables

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mimic2clif/source"
)

func TestBuildPosition(t *testing.T) {
	chart := []source.ChartEvent{
		chartRow(1, 7, 70, positionItem, at(8, 0), "Supine", nil),
		chartRow(1, 7, 70, positionItem, at(9, 0), "Prone", nil),
		// Anything other than the exact Prone value is not prone.
		chartRow(1, 7, 70, positionItem, at(10, 0), "Lateral rotation", nil),
		chartRow(1, 7, 70, positionItem, at(11, 0), "", nil),
	}
	env := newTestEnv(t, source.Registry{
		source.Key("icu", "chartevents"):     fixedRows(chart),
		source.Key("icu", "procedureevents"): fixedRows([]source.ProcedureEvent(nil)),
	}, nil, nil)
	require.NoError(t, BuildPosition(context.Background(), env.deps))

	rows := readOutput[PositionRow](t, env, "position")
	require.Len(t, rows, 3)

	assert.Equal(t, "not_prone", *rows[0].PositionCategory)
	assert.Equal(t, "Supine", *rows[0].PositionName)
	assert.Equal(t, "prone", *rows[1].PositionCategory)
	assert.Equal(t, "not_prone", *rows[2].PositionCategory)
}
