// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package events_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/drivesweep/events"
)

func TestBusSequencesPerTopic(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t), events.Config{})
	defer func() { require.NoError(t, bus.Close()) }()

	require.Equal(t, int64(1), bus.Publish("scan:a", events.KindProgress, 1))
	require.Equal(t, int64(2), bus.Publish("scan:a", events.KindProgress, 2))
	require.Equal(t, int64(1), bus.Publish("scan:b", events.KindProgress, 1))
	require.Equal(t, int64(3), bus.Publish("scan:a", events.KindComplete, nil))
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t), events.Config{})
	defer func() { require.NoError(t, bus.Close()) }()

	sub, err := bus.Subscribe("scan:a", "watcher", 0)
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 10; i++ {
		bus.Publish("scan:a", events.KindProgress, i)
	}

	for i := 0; i < 10; i++ {
		event := <-sub.Events()
		require.Equal(t, int64(i+1), event.Sequence)
		require.Equal(t, i, event.Payload)
	}
}

func TestBusReplayFromSequence(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t), events.Config{})
	defer func() { require.NoError(t, bus.Close()) }()

	for i := 0; i < 5; i++ {
		bus.Publish("scan:a", events.KindProgress, i)
	}

	replayed := bus.Replay("scan:a", 3)
	require.Len(t, replayed, 2)
	require.Equal(t, int64(4), replayed[0].Sequence)
	require.Equal(t, int64(5), replayed[1].Sequence)

	// a late subscriber gets the retained events it has not seen
	sub, err := bus.Subscribe("scan:a", "late", 2)
	require.NoError(t, err)
	defer sub.Close()
	event := <-sub.Events()
	require.Equal(t, int64(3), event.Sequence)
}

func TestBusDuplicateSubscriber(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t), events.Config{})
	defer func() { require.NoError(t, bus.Close()) }()

	sub, err := bus.Subscribe("scan:a", "watcher", 0)
	require.NoError(t, err)
	_, err = bus.Subscribe("scan:a", "watcher", 0)
	require.Error(t, err)

	sub.Close()
	resub, err := bus.Subscribe("scan:a", "watcher", 0)
	require.NoError(t, err)
	resub.Close()
}

func TestBusOverflowMarker(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t), events.Config{BufferSize: 4, SubscriberSize: 16})
	defer func() { require.NoError(t, bus.Close()) }()

	for i := 0; i < 6; i++ {
		bus.Publish("scan:a", events.KindProgress, i)
	}

	replayed := bus.Replay("scan:a", 0)
	require.Len(t, replayed, 4)

	sawOverflow := false
	for _, event := range replayed {
		if event.Kind == events.KindPhase && event.Payload == events.PayloadOverflow {
			sawOverflow = true
		}
	}
	require.True(t, sawOverflow)

	// the newest event survived the drop
	last := replayed[len(replayed)-1]
	require.Equal(t, 5, last.Payload)
}

func TestBusClosedRejectsSubscribe(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t), events.Config{})
	require.NoError(t, bus.Close())

	_, err := bus.Subscribe("scan:a", "watcher", 0)
	require.Error(t, err)
	require.Equal(t, int64(0), bus.Publish("scan:a", events.KindProgress, 1))
}

func TestTopicNames(t *testing.T) {
	require.Equal(t, "scan:s1", events.ScanTopic("s1"))
	require.Equal(t, "action:b1", events.ActionTopic("b1"))
}
