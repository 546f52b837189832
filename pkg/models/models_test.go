package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepOrdering(t *testing.T) {
	assert.True(t, StepUploaded.Before(StepAudioExtracted))
	assert.True(t, StepAudioExtracted.Before(StepTranscribed))
	assert.True(t, StepTranscribed.Before(StepAnalyzed))
	assert.True(t, StepAnalyzed.Before(StepCompleted))

	assert.False(t, StepCompleted.Before(StepUploaded))
	assert.False(t, StepTranscribed.Before(StepTranscribed))
}

func TestStepValid(t *testing.T) {
	for _, s := range []Step{StepUploaded, StepAudioExtracted, StepTranscribed, StepAnalyzed, StepCompleted} {
		assert.True(t, s.Valid(), "step %s", s)
	}

	assert.False(t, Step("bogus").Valid())
	assert.False(t, Step("").Valid())
}

func TestSelectedSegmentValidate(t *testing.T) {
	assert.NoError(t, SelectedSegment{Start: 0, End: 10}.Validate())
	assert.NoError(t, SelectedSegment{Start: 10, End: 46}.Validate())

	assert.Error(t, SelectedSegment{Start: -1, End: 10}.Validate())
	assert.Error(t, SelectedSegment{Start: 10, End: 10}.Validate())
	assert.Error(t, SelectedSegment{Start: 20, End: 10}.Validate())
}

func TestChunkSet(t *testing.T) {
	set := make(ChunkSet)

	assert.True(t, set.Add(0))
	assert.True(t, set.Add(2))
	assert.False(t, set.Add(0), "re-adding an index reports not new")

	assert.True(t, set.Has(0))
	assert.True(t, set.Has(2))
	assert.False(t, set.Has(1))
	assert.Len(t, set, 2)
}

func TestChunkSet_DatabaseRoundTrip(t *testing.T) {
	set := ChunkSet{0: {}, 1: {}, 3: {}}

	value, err := set.Value()
	require.NoError(t, err)

	var restored ChunkSet
	require.NoError(t, restored.Scan(value))

	assert.Len(t, restored, 3)
	assert.True(t, restored.Has(0))
	assert.True(t, restored.Has(3))
	assert.False(t, restored.Has(2))
}

func TestChunkSet_ScanNil(t *testing.T) {
	var set ChunkSet
	require.NoError(t, set.Scan(nil))
	assert.NotNil(t, set)
	assert.Len(t, set, 0)
}

func TestSegmentListRoundTrip(t *testing.T) {
	list := SegmentList{
		{Start: 10, End: 46, Reason: "key argument"},
		{Start: 120, End: 180, Reason: "summary"},
	}

	value, err := list.Value()
	require.NoError(t, err)

	var restored SegmentList
	require.NoError(t, restored.Scan(value))

	require.Len(t, restored, 2)
	assert.Equal(t, 10, restored[0].Start)
	assert.Equal(t, 46, restored[0].End)
	assert.Equal(t, "key argument", restored[0].Reason)
}

func TestStructureListRoundTrip(t *testing.T) {
	list := StructureList{
		{ID: 1, Speaker: "Host", Topic: "Opening", StartTime: "00:00:00", EndTime: "00:02:30",
			StartSeconds: 0, EndSeconds: 150, Summary: "intro", Keywords: []string{"welcome"}},
	}

	value, err := list.Value()
	require.NoError(t, err)

	var restored StructureList
	require.NoError(t, restored.Scan(value))

	require.Len(t, restored, 1)
	assert.Equal(t, "Host", restored[0].Speaker)
	assert.Equal(t, 150, restored[0].EndSeconds)
}
