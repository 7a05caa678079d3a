package condition

import (
	"errors"
	"testing"
	"time"

	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(values map[string]snapshotdomain.Value) snapshotdomain.Snapshot {
	snap := snapshotdomain.NewSnapshot("ent_1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	for k, v := range values {
		snap.Set(k, v)
	}
	return snap
}

func TestEvaluateLeafOperators(t *testing.T) {
	snap := testSnapshot(map[string]snapshotdomain.Value{
		"approval_rate": snapshotdomain.Number(50),
	})

	cases := []struct {
		op    Operator
		value float64
		want  bool
	}{
		{OpLT, 60, true},
		{OpLT, 50, false},
		{OpLTE, 50, true},
		{OpGT, 49.9, true},
		{OpGT, 50, false},
		{OpGTE, 50, true},
		{OpEQ, 50, true},
		{OpNE, 50, false},
		{OpNE, 51, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.op), func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(NumberLeaf("approval_rate", tc.op, tc.value), snap))
		})
	}
}

func TestEvaluateMissingFieldIsFalse(t *testing.T) {
	snap := testSnapshot(nil)

	for _, op := range []Operator{OpLT, OpLTE, OpGT, OpGTE, OpEQ, OpNE} {
		assert.False(t, Evaluate(NumberLeaf("does_not_exist", op, 0), snap), "operator %s", op)
	}
}

func TestEvaluateEmptyCompositeIsVacuouslyTrue(t *testing.T) {
	snap := testSnapshot(nil)

	assert.True(t, Evaluate(Composite{Operator: And}, snap))
	assert.True(t, Evaluate(Composite{Operator: Or}, snap))
	assert.True(t, Evaluate(Composite{Operator: And, Children: []Condition{}}, snap))
	assert.True(t, Evaluate(Composite{Operator: Or, Children: []Condition{}}, snap))
}

func TestEvaluateLowApprovalRule(t *testing.T) {
	snap := testSnapshot(map[string]snapshotdomain.Value{
		"approval_rate":   snapshotdomain.Number(20),
		"total_proposals": snapshotdomain.Number(6),
	})
	rule := AllOf(
		NumberLeaf("approval_rate", OpLT, 50),
		NumberLeaf("total_proposals", OpGTE, 5),
	)

	assert.True(t, Evaluate(rule, snap))

	snap.Set("total_proposals", snapshotdomain.Number(4))
	assert.False(t, Evaluate(rule, snap))
}

func TestEvaluateOr(t *testing.T) {
	snap := testSnapshot(map[string]snapshotdomain.Value{
		"failed_payments": snapshotdomain.Number(0),
	})
	cond := AnyOf(
		NumberLeaf("missing", OpGT, 1),
		NumberLeaf("failed_payments", OpGTE, 0),
	)
	assert.True(t, Evaluate(cond, snap))
}

func TestEvaluateTextLeaf(t *testing.T) {
	snap := testSnapshot(map[string]snapshotdomain.Value{
		"plan": snapshotdomain.Text("pro"),
	})

	assert.True(t, Evaluate(TextLeaf("plan", OpEQ, "pro"), snap))
	assert.False(t, Evaluate(TextLeaf("plan", OpNE, "pro"), snap))
	assert.False(t, Evaluate(TextLeaf("plan", OpGT, "a"), snap))
	assert.False(t, Evaluate(NumberLeaf("plan", OpEQ, 1), snap))
}

func TestEvaluateIsDeterministic(t *testing.T) {
	snap := testSnapshot(map[string]snapshotdomain.Value{
		"engagement_drop": snapshotdomain.Number(0.6),
	})
	cond := AllOf(NumberLeaf("engagement_drop", OpGTE, 0.5), AnyOf())
	first := Evaluate(cond, snap)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(cond, snap))
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	raw := []byte(`{"operator":"and","children":[
		{"field":"approval_rate","op":"lt","value":50},
		{"operator":"OR","children":[
			{"field":"plan","op":"eq","value":"pro"},
			{"field":"failed_payments","op":"gte","value":2}
		]}
	]}`)

	cond, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"approval_rate", "failed_payments", "plan"}, Fields(cond))
	assert.Equal(t, `(approval_rate lt 50 AND (plan eq "pro" OR failed_payments gte 2))`, String(cond))

	encoded, err := Encode(cond)
	require.NoError(t, err)
	again, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, cond, again)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":            ``,
		"null":             `null`,
		"unknown operator": `{"field":"approval_rate","op":"between","value":1}`,
		"unknown logic":    `{"operator":"XOR","children":[]}`,
		"mixed node":       `{"field":"a","op":"lt","value":1,"operator":"AND"}`,
		"missing value":    `{"field":"a","op":"lt"}`,
		"text ordering":    `{"field":"plan","op":"gt","value":"pro"}`,
		"bad value":        `{"field":"a","op":"lt","value":[1]}`,
		"unknown key":      `{"field":"a","op":"lt","value":1,"weight":3}`,
		"empty node":       `{}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			require.Error(t, err)
			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr))
		})
	}
}

func TestDecodeEmptyComposite(t *testing.T) {
	cond, err := Decode([]byte(`{"operator":"OR","children":[]}`))
	require.NoError(t, err)
	assert.True(t, Evaluate(cond, testSnapshot(nil)))
}
