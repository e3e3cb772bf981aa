package timeouttable

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"xs-timeout/internal/daemonize"
)

// TestMain lets this test binary act as the double-fork helper when
// ExecRange/ExecReset spawn commands through daemonize.Spawn, which
// re-execs the running binary.
func TestMain(m *testing.M) {
	daemonize.RunForkHelper()
	os.Exit(m.Run())
}

func TestAppendCreatesOrderedBuckets(t *testing.T) {
	tbl := New()
	tbl.Append(10, "c1")
	tbl.Append(5, "c2")
	tbl.Append(10, "c3")

	assert.Equal(t, 2, tbl.Len())

	b, ok := tbl.Get(10)
	assert.True(t, ok)
	assert.Equal(t, []string{"c1", "c3"}, b.Commands)

	b, ok = tbl.Get(5)
	assert.True(t, ok)
	assert.Equal(t, []string{"c2"}, b.Commands)
}

func TestAppendIsOrderInsensitive(t *testing.T) {
	forward := New()
	forward.Append(5, "a")
	forward.Append(10, "b")
	forward.Append(15, "c")

	backward := New()
	backward.Append(15, "c")
	backward.Append(10, "b")
	backward.Append(5, "a")

	var got, want strings.Builder
	forward.Inspect(&want)
	backward.Inspect(&got)
	assert.Equal(t, want.String(), got.String())
}

func TestGetMissingThreshold(t *testing.T) {
	tbl := New()
	tbl.Append(5, "a")

	_, ok := tbl.Get(6)
	assert.False(t, ok)
}

func TestNextSkipsResetAndReturnsLeastGreater(t *testing.T) {
	tbl := New()
	tbl.Append(ResetThreshold, "on-activity")
	tbl.Append(5, "a")
	tbl.Append(10, "b")
	tbl.Append(20, "c")

	next, ok := tbl.Next(0)
	assert.True(t, ok)
	assert.Equal(t, uint32(5), next)

	next, ok = tbl.Next(5)
	assert.True(t, ok)
	assert.Equal(t, uint32(10), next)

	next, ok = tbl.Next(20)
	assert.False(t, ok)
	assert.Equal(t, uint32(0), next)
}

func TestNextWithNoBuckets(t *testing.T) {
	tbl := New()
	_, ok := tbl.Next(0)
	assert.False(t, ok)
}

func TestExecRangeSkipsResetAndRespectsBounds(t *testing.T) {
	tbl := New()
	tbl.Append(ResetThreshold, "true")
	tbl.Append(5, "true")
	tbl.Append(10, "true")
	tbl.Append(10, "true")
	tbl.Append(20, "true")

	spawned := tbl.ExecRange(5, 10)
	assert.Equal(t, 2, spawned)
}

func TestExecRangeFromExclusiveToInclusive(t *testing.T) {
	tbl := New()
	tbl.Append(5, "true")
	tbl.Append(10, "true")

	assert.Equal(t, 0, tbl.ExecRange(10, 10))
	assert.Equal(t, 1, tbl.ExecRange(4, 5))
}

func TestExecResetOnlyFiresReservedBucket(t *testing.T) {
	tbl := New()
	tbl.Append(ResetThreshold, "true")
	tbl.Append(ResetThreshold, "true")
	tbl.Append(5, "true")

	assert.Equal(t, 2, tbl.ExecReset())
}

func TestExecResetWithoutBucketIsNoop(t *testing.T) {
	tbl := New()
	tbl.Append(5, "true")
	assert.Equal(t, 0, tbl.ExecReset())
}

func TestInspectFormat(t *testing.T) {
	tbl := New()
	tbl.Append(5, "foo")
	tbl.Append(10, "bar")
	tbl.Append(10, "baz")

	var sb strings.Builder
	n := tbl.Inspect(&sb)
	assert.Equal(t, `{5: ["foo"], 10: ["bar", "baz"]}`, sb.String())
	assert.Equal(t, len(sb.String()), n)
}

func TestFreeClearsBuckets(t *testing.T) {
	tbl := New()
	tbl.Append(5, "a")
	tbl.Free()
	assert.Equal(t, 0, tbl.Len())
}
