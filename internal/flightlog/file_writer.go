package flightlog

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileWriter appends entries as JSON lines to a size-rotated file.
type FileWriter struct {
	mu  sync.Mutex
	out *lumberjack.Logger
	enc *json.Encoder
}

// NewFileWriter opens path for appending. maxSizeMB and maxBackups
// control rotation; zero values use lumberjack's defaults.
func NewFileWriter(path string, maxSizeMB, maxBackups int) *FileWriter {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   false,
	}
	return &FileWriter{out: lj, enc: json.NewEncoder(lj)}
}

func (f *FileWriter) AppendLog(e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enc.Encode(e)
}

func (f *FileWriter) AppendLogs(entries []Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		if err := f.enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

// Rotate starts a new file and keeps the old one as a backup.
func (f *FileWriter) Rotate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Rotate()
}

func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Close()
}

// JSONStdoutWriter prints entries as JSON lines.
type JSONStdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONStdoutWriter writes to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter { return &JSONStdoutWriter{out: os.Stdout} }

func (w *JSONStdoutWriter) AppendLog(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.out.Write(append(data, '\n'))
	return err
}
