package journal

import (
	"context"
	"fmt"
	"os"

	"github.com/chrisdamba/foodagent/internal/cloudwriter"
	"github.com/chrisdamba/foodagent/internal/models"
)

// OpenSink builds the sink selected by config.OutputDestination.
func OpenSink(ctx context.Context, config *models.Config) (Sink, error) {
	switch config.OutputDestination {
	case "", "none":
		return nopSink{}, nil
	case "console":
		return NewConsoleSink(os.Stderr), nil
	case "json":
		return NewJSONSink(config.OutputPath, config.OutputFolder), nil
	case "parquet":
		if config.CloudStorage.BucketName == "" {
			return NewParquetSink(config.OutputPath, config.OutputFolder), nil
		}
		var factory cloudwriter.CloudWriterFactory
		switch config.CloudStorage.Provider {
		case "s3":
			f, err := cloudwriter.NewS3WriterFactory(ctx, config.CloudStorage.Region)
			if err != nil {
				return nil, fmt.Errorf("failed to create cloud writer factory: %w", err)
			}
			factory = f
		default:
			return nil, fmt.Errorf("unsupported cloud storage provider: %s", config.CloudStorage.Provider)
		}
		return NewCloudParquetSink(factory, config.CloudStorage.BucketName, config.OutputFolder), nil
	case "kafka":
		return NewKafkaSink(config.KafkaBrokerList, config.KafkaTopicPrefix)
	case "postgres":
		return OpenPostgresSink(ctx, config.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported output destination: %s", config.OutputDestination)
	}
}

// Open builds the sink for config and starts a journal over it.
func Open(ctx context.Context, config *models.Config, opts ...Option) (*Journal, error) {
	sink, err := OpenSink(ctx, config)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{
		WithBatchSize(config.JournalBatchSize),
		WithFlushInterval(config.JournalFlushEvery),
		WithAgentID(config.AgentID),
	}, opts...)
	return New(sink, opts...), nil
}
