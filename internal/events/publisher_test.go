package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	orderID := uuid.Must(uuid.NewV4())
	sellerID := uuid.Must(uuid.NewV4())
	paid := New(TypePaymentCompleted, Event{OrderID: orderID, Reference: "PAY_1", Amount: decimal.RequireFromString("100.00"), Currency: "USD"})
	perSeller := New(TypeOrderPaid, Event{OrderID: orderID, SellerID: &sellerID, Reference: "PAY_1"})

	require.NoError(t, p.Publish(context.Background(), paid, perSeller))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, orderID.String(), string(w.msgs[0].Key))
	assert.Equal(t, "event-type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, "payment.completed", string(w.msgs[0].Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &decoded))
	assert.Equal(t, TypeOrderPaid, decoded.Type)
	require.NotNil(t, decoded.SellerID)
	assert.Equal(t, sellerID, *decoded.SellerID)
	assert.NotEqual(t, uuid.Nil, decoded.ID)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker unavailable")}}

	err := p.Publish(context.Background(), New(TypePaymentFailed, Event{OrderID: uuid.Must(uuid.NewV4())}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
}

func TestKafkaPublisher_NothingToPublish(t *testing.T) {
	w := &fakeWriter{err: errors.New("must not be called")}
	require.NoError(t, (&KafkaPublisher{writer: w}).Publish(context.Background()))
}

func TestLogPublisher(t *testing.T) {
	sellerID := uuid.Must(uuid.NewV4())
	require.NoError(t, LogPublisher{}.Publish(context.Background(), New(TypeOrderPaid, Event{SellerID: &sellerID})))
	require.NoError(t, LogPublisher{}.Close())
}
