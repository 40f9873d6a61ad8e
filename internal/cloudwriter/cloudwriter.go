// Package cloudwriter buffers objects in memory and uploads them on Close.
package cloudwriter

// CloudWriter receives one journal object, typically a parquet file for a
// topic and hour partition. Nothing is visible in the bucket until Close.
type CloudWriter interface {
	Write(data []byte) (int, error)
	Close() error
}

// CloudWriterFactory opens a writer per object key; the parquet journal asks
// for a new one whenever an event lands in a partition it has not seen.
type CloudWriterFactory interface {
	NewWriter(bucket, objectPath string) (CloudWriter, error)
}
