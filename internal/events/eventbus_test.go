package events

import (
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
	"math/big"
	"testing"
)

func TestBusOrderAndUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	var got []string
	unsubFirst := bus.Subscribe(TopicSession, func(e Event) {
		got = append(got, "first:"+e.(SessionChanged).State)
	})
	bus.Subscribe(TopicSession, func(e Event) {
		got = append(got, "second:"+e.(SessionChanged).State)
	})
	bus.Subscribe(TopicTransferComplete, func(e Event) {
		got = append(got, "transfer")
	})

	bus.Publish(SessionChanged{State: "connected"})
	unsubFirst()
	unsubFirst()
	bus.Publish(SessionChanged{State: "disconnected"})

	assert.Equal(t, []string{"first:connected", "second:connected", "second:disconnected"}, got)
	assert.Equal(t, 1, bus.SubscriberCount(TopicSession))
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	var unsub func()
	unsub = bus.Subscribe(TopicSession, func(Event) {
		calls++
		unsub()
	})
	bus.Publish(SessionChanged{})
	bus.Publish(SessionChanged{})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.SubscriberCount(TopicSession))
}

func TestSerialize(t *testing.T) {
	data := TransferCompleted{
		From:  "0xa",
		To:    "0xb",
		Value: big.NewInt(5e17),
		Hash:  "0x01",
	}.Serialize()
	assert.Equal(t, "500000000000000000", gjson.GetBytes(data, "value").Raw)
	assert.False(t, gjson.GetBytes(data, "block_number").Exists())

	session := SessionChanged{State: "connected", Address: "0xa", ChainID: 31337}.Serialize()
	assert.Equal(t, int64(31337), gjson.GetBytes(session, "chain_id").Int())
	assert.False(t, gjson.GetBytes(session, "Ledger").Exists())
}
