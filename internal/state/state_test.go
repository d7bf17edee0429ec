package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObserversFireOnChangeOnly(t *testing.T) {
	a := New("ETH", "MKR")
	var got []Snapshot
	a.Subscribe(func(s Snapshot) { got = append(got, s) })

	a.SetNetwork(NetworkTest)
	a.SetNetwork(NetworkTest)
	a.SetAccount("0xabc")

	assert.Len(t, got, 2)
	assert.Equal(t, "0xabc", got[1].Account)
	assert.Equal(t, NetworkTest, got[1].Network)
}

func TestLoadingProgressClamped(t *testing.T) {
	a := New("ETH", "MKR")
	a.SetLoadingProgress(140)
	assert.Equal(t, 100, a.LoadingProgress())
	a.SetLoadingProgress(-3)
	assert.Equal(t, 0, a.LoadingProgress())
}

func TestPrivate(t *testing.T) {
	assert.True(t, Snapshot{}.Private())
	assert.True(t, Snapshot{Network: NetworkPrivate}.Private())
	assert.False(t, Snapshot{Network: NetworkMain}.Private())
	assert.False(t, Snapshot{}.Connected())
}

func TestSubscribeDuringNotification(t *testing.T) {
	a := New("ETH", "MKR")
	var first, late int
	a.Subscribe(func(Snapshot) {
		first++
		if first == 1 {
			a.Subscribe(func(Snapshot) { late++ })
		}
	})

	a.SetNetwork(NetworkTest)
	assert.Equal(t, 1, first)
	assert.Zero(t, late)

	a.SetAccount("0xabc")
	assert.Equal(t, 2, first)
	assert.Equal(t, 1, late)
}
