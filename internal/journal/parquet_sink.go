package journal

import (
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/chrisdamba/foodagent/internal/cloudwriter"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// eventRow is the parquet layout of a journal event.
type eventRow struct {
	ID      string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Time    int64  `parquet:"name=time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Type    string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	OrderID string `parquet:"name=order_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	AgentID string `parquet:"name=agent_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	From    string `parquet:"name=from_state, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	To      string `parquet:"name=to_state, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Amount  int64  `parquet:"name=amount, type=INT64"`
	Detail  string `parquet:"name=detail, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ParquetSink writes one parquet file per topic and hour partition. With a
// cloud writer factory the files are uploaded on Close instead of written
// under basePath.
type ParquetSink struct {
	basePath           string
	folder             string
	mu                 sync.Mutex
	writers            map[string]*writer.ParquetWriter
	files              map[string]source.ParquetFile
	cloudWriterFactory cloudwriter.CloudWriterFactory
	cloudBucketName    string
	logger             *log.Logger
}

func NewParquetSink(basePath, folder string) *ParquetSink {
	return &ParquetSink{
		basePath: basePath,
		folder:   folder,
		writers:  make(map[string]*writer.ParquetWriter),
		files:    make(map[string]source.ParquetFile),
		logger:   log.Default(),
	}
}

// NewCloudParquetSink uploads each partition file to bucket through factory.
func NewCloudParquetSink(factory cloudwriter.CloudWriterFactory, bucket, folder string) *ParquetSink {
	p := NewParquetSink("", folder)
	p.cloudWriterFactory = factory
	p.cloudBucketName = bucket
	return p
}

func (p *ParquetSink) WriteMessage(topic string, msg []byte) error {
	event, err := decodeEvent(msg)
	if err != nil {
		return err
	}
	key := path.Join(topic, partitionPath(event.Time))

	p.mu.Lock()
	defer p.mu.Unlock()

	pw, ok := p.writers[key]
	if !ok {
		pw, err = p.createNewWriter(key)
		if err != nil {
			return fmt.Errorf("failed to create parquet writer for %s: %w", key, err)
		}
	}

	row := eventRow{
		ID:      event.ID,
		Time:    event.Time.UnixMilli(),
		Type:    event.Type,
		OrderID: event.OrderID,
		AgentID: event.AgentID,
		From:    event.From,
		To:      event.To,
		Amount:  int64(event.Amount),
		Detail:  event.Detail,
	}
	if err := pw.Write(row); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func (p *ParquetSink) createNewWriter(key string) (*writer.ParquetWriter, error) {
	var fw source.ParquetFile
	if p.cloudWriterFactory != nil {
		objectPath := path.Join(p.folder, key, "data.parquet")
		cw, err := p.cloudWriterFactory.NewWriter(p.cloudBucketName, objectPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create cloud file writer: %w", err)
		}
		fw = NewCloudParquetFile(cw)
	} else {
		dir := filepath.Join(p.basePath, p.folder, filepath.FromSlash(key))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		var err error
		fw, err = local.NewLocalFileWriter(filepath.Join(dir, "data.parquet"))
		if err != nil {
			return nil, fmt.Errorf("failed to create local file writer: %w", err)
		}
	}

	pw, err := writer.NewParquetWriter(fw, new(eventRow), 1)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to create ParquetWriter: %w", err)
	}

	p.writers[key] = pw
	p.files[key] = fw
	return pw, nil
}

// Close writes every footer and closes (or uploads) every file.
func (p *ParquetSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for key, pw := range p.writers {
		if err := pw.WriteStop(); err != nil {
			lastErr = err
			p.logger.Printf("Error closing writer for key %s: %v", key, err)
		}
		if f, ok := p.files[key]; ok {
			if err := f.Close(); err != nil {
				lastErr = err
				p.logger.Printf("Error closing file for key %s: %v", key, err)
			}
		}
		delete(p.writers, key)
		delete(p.files, key)
	}
	return lastErr
}

// CloudParquetFile adapts a CloudWriter to the write half of source.ParquetFile.
type CloudParquetFile struct {
	cloudWriter cloudwriter.CloudWriter
	offset      int64
}

func NewCloudParquetFile(cw cloudwriter.CloudWriter) *CloudParquetFile {
	return &CloudParquetFile{cloudWriter: cw}
}

// Open and Create return the receiver: the object exists once written.
func (c *CloudParquetFile) Open(name string) (source.ParquetFile, error)   { return c, nil }
func (c *CloudParquetFile) Create(name string) (source.ParquetFile, error) { return c, nil }

func (c *CloudParquetFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		c.offset = offset
	case io.SeekCurrent:
		c.offset += offset
	default:
		return 0, fmt.Errorf("seek from end not supported for cloud storage")
	}
	return c.offset, nil
}

func (c *CloudParquetFile) Read(p []byte) (int, error) {
	return 0, fmt.Errorf("read not supported for cloud storage")
}

func (c *CloudParquetFile) Write(p []byte) (int, error) {
	n, err := c.cloudWriter.Write(p)
	c.offset += int64(n)
	return n, err
}

func (c *CloudParquetFile) Close() error {
	return c.cloudWriter.Close()
}
