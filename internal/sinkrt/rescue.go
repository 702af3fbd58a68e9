package sinkrt

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ssw-labs/flowcore/pkg/apperr"
)

// RescueHeaderSize is the fixed per-record header written to a .dat rescue
// file: length (u32), flags (u32), timestamp_us (i64), little-endian.
const RescueHeaderSize = 16

// RescueFlag bits stored in a rescue record's header.
type RescueFlag uint32

const (
	RescueFlagNone  RescueFlag = 0
	RescueFlagRetry RescueFlag = 1 << 0 // record was already requeued at least once
)

// Rescuer persists undeliverable encoded batches to disk under
// <dir>/<sink>/YYYY/MM/DD/<unix-nano>.dat, each record framed by a fixed
// 16-byte header so an external scan tool (cmd/rescuescan) can walk the
// records without parsing the payload format.
type Rescuer struct {
	baseDir string
	logger  *logrus.Logger
}

// NewRescuer binds a Rescuer to a base rescue directory.
func NewRescuer(baseDir string, logger *logrus.Logger) *Rescuer {
	return &Rescuer{baseDir: baseDir, logger: logger}
}

// Write appends one rescue file containing every record in encoded, all
// sharing the same flags and capture timestamp (the moment the batch gave
// up on live delivery).
func (r *Rescuer) Write(sink string, encoded [][]byte, flags RescueFlag, at time.Time) (string, error) {
	dir := filepath.Join(r.baseDir, sink, at.Format("2006"), at.Format("01"), at.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.SinkIO("sinkrt", "rescue_write", "failed to create rescue directory").Wrap(err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%d.dat", at.UnixNano()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", apperr.SinkIO("sinkrt", "rescue_write", "failed to create rescue file").Wrap(err)
	}
	defer f.Close()

	header := make([]byte, RescueHeaderSize)
	for _, rec := range encoded {
		binary.LittleEndian.PutUint32(header[0:4], uint32(len(rec)))
		binary.LittleEndian.PutUint32(header[4:8], uint32(flags))
		binary.LittleEndian.PutUint64(header[8:16], uint64(at.UnixMicro()))
		if _, err := f.Write(header); err != nil {
			return path, apperr.SinkIO("sinkrt", "rescue_write", "failed writing rescue header").Wrap(err)
		}
		if _, err := f.Write(rec); err != nil {
			return path, apperr.SinkIO("sinkrt", "rescue_write", "failed writing rescue payload").Wrap(err)
		}
	}

	r.logger.WithFields(logrus.Fields{
		"sink":    sink,
		"path":    path,
		"records": len(encoded),
	}).Warn("batch rescued to disk after persistent sink failure")

	return path, nil
}

// RescueEntry is one decoded record from a rescue file, returned by Scan.
type RescueEntry struct {
	Payload      []byte
	Flags        RescueFlag
	TimestampUs  int64
}

// Scan reads every framed record out of a rescue file at path, in order.
// Used both by tests and by cmd/rescuescan to count rescued records.
func Scan(path string) ([]RescueEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.SinkIO("sinkrt", "rescue_scan", "failed to read rescue file").Wrap(err)
	}
	var out []RescueEntry
	pos := 0
	for pos < len(data) {
		if pos+RescueHeaderSize > len(data) {
			return nil, apperr.MalformedCompound("sinkrt", "rescue_scan", "truncated rescue header")
		}
		length := binary.LittleEndian.Uint32(data[pos : pos+4])
		flags := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		ts := int64(binary.LittleEndian.Uint64(data[pos+8 : pos+16]))
		pos += RescueHeaderSize
		if pos+int(length) > len(data) {
			return nil, apperr.MalformedCompound("sinkrt", "rescue_scan", "truncated rescue payload")
		}
		out = append(out, RescueEntry{
			Payload:     data[pos : pos+int(length)],
			Flags:       RescueFlag(flags),
			TimestampUs: ts,
		})
		pos += int(length)
	}
	return out, nil
}
