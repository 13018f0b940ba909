package series

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Series []struct {
		Metric string      `json:"metric"`
		Points [][]float64 `json:"points"`
		Host   string      `json:"host"`
		Tags   []string    `json:"tags"`
		Type   string      `json:"type"`
	} `json:"series"`
}

func TestSerializeGauge(t *testing.T) {
	g := NewGauge("foo.bar[env:prod]", 2.5, 1667123357, "node1", []string{"v:1"})

	s := NewSerializer()
	require.NoError(t, s.StartObject())
	require.NoError(t, s.AppendGauge(g))
	require.NoError(t, s.EndObject())

	var env envelope
	require.NoError(t, json.Unmarshal(s.Bytes(), &env))
	require.Len(t, env.Series, 1)

	got := env.Series[0]
	assert.Equal(t, "foo.bar", got.Metric)
	assert.Equal(t, [][]float64{{1667123357, 2.5}}, got.Points)
	assert.Equal(t, "node1", got.Host)
	assert.Equal(t, []string{"env:prod", "v:1"}, got.Tags)
	assert.Equal(t, "gauge", got.Type)
}

func TestSerializeWireShape(t *testing.T) {
	s := NewSerializer()
	require.NoError(t, s.StartObject())
	require.NoError(t, s.AppendCounter(NewCounter("a", 3, 10, "h", nil)))
	require.NoError(t, s.AppendGauge(NewGauge("b[k:v]", 0.5, 10, "h", nil)))
	require.NoError(t, s.EndObject())

	assert.Equal(t,
		`{"series":[`+
			`{"metric":"a","points":[[10,3]],"host":"h","tags":[],"type":"rate"},`+
			`{"metric":"b","points":[[10,0.5]],"host":"h","tags":["k:v"],"type":"gauge"}`+
			`]}`,
		s.String())
	assert.Equal(t, 2, s.Len())
}

func TestSerializeEmptyBatch(t *testing.T) {
	s := NewSerializer()
	require.NoError(t, s.StartObject())
	require.NoError(t, s.EndObject())
	assert.Equal(t, `{"series":[]}`, s.String())
}

func TestSerializeErrorLeavesBatchValid(t *testing.T) {
	s := NewSerializer()
	require.NoError(t, s.StartObject())
	require.NoError(t, s.AppendGauge(NewGauge("ok.one", 1, 10, "h", nil)))

	err := s.AppendGauge(NewGauge("bad", math.NaN(), 10, "h", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encoding bad")

	require.NoError(t, s.AppendGauge(NewGauge("ok.two", 2, 10, "h", nil)))
	require.NoError(t, s.EndObject())

	var env envelope
	require.NoError(t, json.Unmarshal(s.Bytes(), &env))
	require.Len(t, env.Series, 2)
	assert.Equal(t, "ok.one", env.Series[0].Metric)
	assert.Equal(t, "ok.two", env.Series[1].Metric)
}

func TestSerializeOutOfOrder(t *testing.T) {
	s := NewSerializer()
	assert.ErrorIs(t, s.AppendGauge(NewGauge("a", 1, 1, "h", nil)), ErrSerializerState)
	assert.ErrorIs(t, s.EndObject(), ErrSerializerState)

	require.NoError(t, s.StartObject())
	assert.ErrorIs(t, s.StartObject(), ErrSerializerState)
	require.NoError(t, s.EndObject())
	assert.ErrorIs(t, s.AppendCounter(NewCounter("a", 1, 1, "h", nil)), ErrSerializerState)
}

func TestSerializeTypeMismatch(t *testing.T) {
	s := NewSerializer()
	require.NoError(t, s.StartObject())
	assert.Error(t, s.AppendGauge(NewCounter("a", 1, 1, "h", nil)))
	assert.Error(t, s.AppendCounter(NewGauge("a", 1, 1, "h", nil)))
	assert.Equal(t, 0, s.Len())
}
