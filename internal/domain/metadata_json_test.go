package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataTaggedUnion(t *testing.T) {
	t.Parallel()

	t.Run("class selects the decoded variant", func(t *testing.T) {
		t.Parallel()

		raw, err := MarshalMeta(&AcquisitionMeta{ItemID: "B00ITEM", Stage: StageDecrypting})
		require.NoError(t, err)

		meta, err := UnmarshalMeta(ClassAcquisition, raw)
		require.NoError(t, err)

		acq, ok := meta.(*AcquisitionMeta)
		require.True(t, ok)
		assert.Equal(t, "B00ITEM", acq.ItemID)
		assert.Equal(t, StageDecrypting, acq.Stage)

		scanRaw, err := MarshalMeta(&ScanMeta{Matched: 3})
		require.NoError(t, err)
		scan, err := UnmarshalMeta(ClassPolicyScan, scanRaw)
		require.NoError(t, err)
		assert.Equal(t, 3, scan.(*ScanMeta).Matched)
	})

	t.Run("unknown class is rejected", func(t *testing.T) {
		t.Parallel()

		_, err := UnmarshalMeta(TaskClass("bogus"), []byte(`{}`))
		assert.ErrorIs(t, err, ErrTaskClassInvalid)
	})

	t.Run("nil and empty metadata round-trip to nil", func(t *testing.T) {
		t.Parallel()

		raw, err := MarshalMeta(nil)
		require.NoError(t, err)
		assert.Nil(t, raw)

		meta, err := UnmarshalMeta(ClassAcquisition, nil)
		require.NoError(t, err)
		assert.Nil(t, meta)
	})

	t.Run("key material never serializes", func(t *testing.T) {
		t.Parallel()

		raw, err := MarshalMeta(&AcquisitionMeta{
			ItemID: "B00ITEM",
			Key:    "deadbeef",
			IV:     "cafef00d",
		})
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "deadbeef")
		assert.NotContains(t, string(raw), "cafef00d")

		meta, err := UnmarshalMeta(ClassAcquisition, raw)
		require.NoError(t, err)
		assert.Empty(t, meta.(*AcquisitionMeta).Key)
	})
}
