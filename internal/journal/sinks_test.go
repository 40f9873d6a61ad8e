package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/chrisdamba/foodagent/internal/cloudwriter"
	"github.com/chrisdamba/foodagent/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eventTime = time.Date(2025, 6, 7, 14, 30, 0, 0, time.UTC)

func encode(t *testing.T, e models.Event) []byte {
	t.Helper()
	if e.Time.IsZero() {
		e.Time = eventTime
	}
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}

func TestJSONSink_PartitionsByTopicAndHour(t *testing.T) {
	dir := t.TempDir()
	sink := NewJSONSink(dir, "journal")

	require.NoError(t, sink.WriteMessage("order_events", encode(t, models.Event{ID: "1", Type: models.EventClaimOrder, OrderID: "o"})))
	require.NoError(t, sink.WriteMessage("order_events", encode(t, models.Event{ID: "2", Type: models.EventDeliverOrder, OrderID: "o"})))
	require.NoError(t, sink.WriteMessage("payment_events", encode(t, models.Event{ID: "3", Type: models.EventGeneratePayment, OrderID: "o"})))
	require.NoError(t, sink.Close())

	path := filepath.Join(dir, "journal", "order_events", "year=2025", "month=06", "day=07", "hour=14", "data.json")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e models.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"1", "2"}, ids)

	_, err = os.Stat(filepath.Join(dir, "journal", "payment_events", "year=2025", "month=06", "day=07", "hour=14", "data.json"))
	assert.NoError(t, err)
}

func TestJSONSink_RejectsEventWithoutTime(t *testing.T) {
	sink := NewJSONSink(t.TempDir(), "journal")
	assert.Error(t, sink.WriteMessage("order_events", []byte(`{"id":"1"}`)))
	assert.Error(t, sink.WriteMessage("order_events", []byte(`not json`)))
}

func TestParquetSink_Local(t *testing.T) {
	dir := t.TempDir()
	sink := NewParquetSink(dir, "journal")
	sink.logger = quiet

	for i, typ := range []string{models.EventGeneratePayment, models.EventPaymentStateChanged} {
		e := models.Event{ID: string(rune('a' + i)), Type: typ, OrderID: "o-1", Amount: 50000, From: "pending", To: "processing"}
		require.NoError(t, sink.WriteMessage("payment_events", encode(t, e)))
	}
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(filepath.Join(dir, "journal", "payment_events", "year=2025", "month=06", "day=07", "hour=14", "data.parquet"))
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "PAR1", string(data[:4]))
	assert.Equal(t, "PAR1", string(data[len(data)-4:]))
}

type memoryObject struct {
	buf    bytes.Buffer
	closed bool
}

func (o *memoryObject) Write(p []byte) (int, error) { return o.buf.Write(p) }
func (o *memoryObject) Close() error                { o.closed = true; return nil }

type memoryBucket struct {
	mu      sync.Mutex
	objects map[string]*memoryObject
}

func (b *memoryBucket) NewWriter(bucket, objectPath string) (cloudwriter.CloudWriter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := &memoryObject{}
	b.objects[bucket+"/"+objectPath] = o
	return o, nil
}

func TestParquetSink_Cloud(t *testing.T) {
	bucket := &memoryBucket{objects: make(map[string]*memoryObject)}
	sink := NewCloudParquetSink(bucket, "audit", "journal")
	sink.logger = quiet

	require.NoError(t, sink.WriteMessage("order_events", encode(t, models.Event{ID: "1", Type: models.EventClaimOrder, OrderID: "o"})))
	require.NoError(t, sink.Close())

	obj, ok := bucket.objects["audit/journal/order_events/year=2025/month=06/day=07/hour=14/data.parquet"]
	require.True(t, ok)
	assert.True(t, obj.closed)
	data := obj.buf.Bytes()
	require.Greater(t, len(data), 8)
	assert.Equal(t, "PAR1", string(data[:4]))
	assert.Equal(t, "PAR1", string(data[len(data)-4:]))
}

func TestKafkaSink_SendsEncodedEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	msg := encode(t, models.Event{ID: "1", Type: models.EventClaimOrder, OrderID: "o-9"})
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if !bytes.Equal(val, msg) {
			return errors.New("unexpected payload")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSinkWithProducer(producer, "foodagent")
	sink.logger = quiet
	require.NoError(t, sink.WriteMessage("order_events", msg))
	require.ErrorIs(t, sink.WriteMessage("order_events", msg), sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())

	assert.Error(t, sink.WriteMessage("order_events", msg))
}

type recordingProducer struct {
	sarama.SyncProducer
	sent []*sarama.ProducerMessage
}

func (p *recordingProducer) SendMessage(m *sarama.ProducerMessage) (int32, int64, error) {
	p.sent = append(p.sent, m)
	return 0, int64(len(p.sent)), nil
}

func (p *recordingProducer) Close() error { return nil }

func TestKafkaSink_TopicAndKey(t *testing.T) {
	producer := &recordingProducer{}
	sink := NewKafkaSinkWithProducer(producer, "foodagent")
	require.NoError(t, sink.WriteMessage("payment_events", encode(t, models.Event{ID: "1", Type: models.EventGeneratePayment, OrderID: "o-9"})))

	require.Len(t, producer.sent, 1)
	m := producer.sent[0]
	assert.Equal(t, "foodagent.payment_events", m.Topic)
	assert.Equal(t, sarama.StringEncoder("o-9"), m.Key)
	assert.Equal(t, eventTime, m.Timestamp)
	assert.Equal(t, "payment_events", NewKafkaSinkWithProducer(producer, "").Topic("payment_events"))
}

func TestNewKafkaSink_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaSink(" , ", "foodagent")
	assert.Error(t, err)
}

type fakeRepository struct {
	created []*models.Event
	err     error
}

func (r *fakeRepository) EnsureSchema(context.Context) error { return nil }
func (r *fakeRepository) BulkCreate(_ context.Context, events []*models.Event) error {
	r.created = append(r.created, events...)
	return r.err
}
func (r *fakeRepository) Create(_ context.Context, e *models.Event) error {
	if r.err != nil {
		return r.err
	}
	r.created = append(r.created, e)
	return nil
}
func (r *fakeRepository) GetByOrderID(context.Context, string) ([]*models.Event, error) {
	return r.created, nil
}
func (r *fakeRepository) Count(context.Context) (int, error) { return len(r.created), nil }
func (r *fakeRepository) DeleteAll(context.Context) error    { r.created = nil; return nil }

func TestPostgresSink(t *testing.T) {
	repo := &fakeRepository{}
	sink := NewPostgresSink(repo)

	require.NoError(t, sink.WriteMessage("payment_events", encode(t, models.Event{ID: "1", Type: models.EventGeneratePayment, OrderID: "o", Amount: 1250})))
	require.Len(t, repo.created, 1)
	assert.Equal(t, models.Money(1250), repo.created[0].Amount)

	assert.Error(t, sink.WriteMessage("order_events", encode(t, models.Event{ID: "2", Type: models.EventGeneratePayment})))

	repo.err = errors.New("connection reset")
	assert.Error(t, sink.WriteMessage("order_events", encode(t, models.Event{ID: "3", Type: models.EventClaimOrder})))
	require.NoError(t, sink.Close())
}

func TestOpenSink(t *testing.T) {
	ctx := context.Background()
	for dest, want := range map[string]interface{}{
		"none":    nopSink{},
		"console": &ConsoleSink{},
		"json":    &JSONSink{},
		"parquet": &ParquetSink{},
	} {
		sink, err := OpenSink(ctx, &models.Config{OutputDestination: dest, OutputPath: t.TempDir(), OutputFolder: "journal"})
		require.NoError(t, err, dest)
		assert.IsType(t, want, sink, dest)
		require.NoError(t, sink.Close())
	}

	_, err := OpenSink(ctx, &models.Config{OutputDestination: "ftp"})
	assert.Error(t, err)
	_, err = OpenSink(ctx, &models.Config{OutputDestination: "parquet", CloudStorage: models.CloudStorage{Provider: "gcs", BucketName: "b"}})
	assert.Error(t, err)
}
