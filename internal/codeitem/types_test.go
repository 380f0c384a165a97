package codeitem

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestItemID_Deterministic(t *testing.T) {
	ns := uuid.New()
	a := ItemID(ns, "/src/lib.rs", KindFunction, []string{"crate", "add_one"})
	b := ItemID(ns, "/src/lib.rs", KindFunction, []string{"crate", "add_one"})
	assert.Equal(t, a, b)
}

func TestItemID_DiffersByQualifiedPath(t *testing.T) {
	ns := uuid.New()
	a := ItemID(ns, "/src/lib.rs", KindFunction, []string{"crate", "add_one"})
	b := ItemID(ns, "/src/lib.rs", KindFunction, []string{"crate", "add_two"})
	assert.NotEqual(t, a, b)
}

func TestRelationSet_DeduplicatesAndReportsDuplicates(t *testing.T) {
	s := NewRelationSet()
	r := Relation{SourceID: uuid.New(), TargetID: uuid.New(), Kind: RelContains}
	assert.True(t, s.Add(r))
	assert.False(t, s.Add(r), "adding the same relation twice must be detectable")
	assert.Equal(t, 1, s.Len())
}

func TestRelationSet_DistinctKindsAreNotDuplicates(t *testing.T) {
	s := NewRelationSet()
	src, tgt := uuid.New(), uuid.New()
	assert.True(t, s.Add(Relation{SourceID: src, TargetID: tgt, Kind: RelContains}))
	assert.True(t, s.Add(Relation{SourceID: src, TargetID: tgt, Kind: RelModuleSubmodule}))
	assert.Equal(t, 2, s.Len())
}
