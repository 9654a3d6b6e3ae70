package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMessage(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	msg, err := toMessage(Event{
		Type:         SensorImported,
		RunID:        7,
		DatasourceID: 3,
		Source:       "/data/buoys",
		SensorID:     "buoy-1",
		ServiceID:    "sos-1",
		Observations: 2,
		OccurredAt:   at,
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("/data/buoys"), msg.Key)
	assert.JSONEq(t, `{
		"event_type": "sensor_imported",
		"run_id": 7,
		"datasource_id": 3,
		"source": "/data/buoys",
		"sensor_id": "buoy-1",
		"service_id": "sos-1",
		"observations": 2,
		"occurred_at": "2024-06-01T12:00:00Z"
	}`, string(msg.Value))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("sensor_imported"), msg.Headers[0].Value)
	assert.Equal(t, "occurred_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("2024-06-01T12:00:00Z"), msg.Headers[1].Value)
}

func TestKafkaPublisher_EmptyBatch(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "harvest-events")
	assert.NoError(t, p.Publish(context.Background()))
	assert.NoError(t, p.Close())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: HarvestCompleted}))
	assert.NoError(t, p.Close())
}
