package events

import (
	"io"
	"os"

	"github.com/bytedance/sonic"
	"github.com/gomlx/steptrace/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// ReadRaw decodes a producer's trace document from r.
func ReadRaw(r io.Reader) ([]RawEvent, error) {
	var doc RawTrace
	if err := sonic.ConfigStd.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode trace events")
	}
	return doc.TraceEvents, nil
}

// LoadRawFile reads the producer's trace document at filePath.
func LoadRawFile(filePath string) ([]RawEvent, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open trace file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	evs, err := ReadRaw(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %q", filePath)
	}
	return evs, nil
}

// MarshalTraceFile encodes tf as indented JSON, with sorted args keys.
func MarshalTraceFile(tf *TraceFile) ([]byte, error) {
	if tf.TraceEvents == nil {
		tf = &TraceFile{TraceEvents: []AnnotatedEvent{}}
	}
	data, err := sonic.ConfigStd.MarshalIndent(tf, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode trace file")
	}
	return data, nil
}

// WriteTraceFile writes tf to filePath. The file is replaced atomically: readers either
// see the previous content or the complete trace.
func WriteTraceFile(filePath string, tf *TraceFile) error {
	data, err := MarshalTraceFile(tf)
	if err != nil {
		return err
	}
	return errors.WithMessagef(fsutil.WriteFileAtomic(filePath, data, 0o644), "writing trace file")
}

// ReadTraceFile decodes a merged trace file.
func ReadTraceFile(filePath string) (*TraceFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read trace file %q", filePath)
	}
	tf := &TraceFile{}
	if err = sonic.ConfigStd.Unmarshal(data, tf); err != nil {
		return nil, errors.Wrapf(err, "failed to decode trace file %q", filePath)
	}
	return tf, nil
}
