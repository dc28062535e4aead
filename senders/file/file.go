package file

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/AlexAkulov/releasewatch"

	"github.com/sasha-s/go-deadlock"
)

// File appends every event as a JSON line.
type File struct {
	EventsFile string

	mu deadlock.Mutex
}

func (f *File) Start() error {
	return nil
}

func (f *File) Stop() error {
	return nil
}

func (f *File) Send(event releasewatch.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return appendLine(f.EventsFile, event)
}

func appendLine(file string, item interface{}) error {
	line, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("can't encode event with: %w", err)
	}
	fd, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("can't open events file with: %w", err)
	}
	defer fd.Close()
	if _, err := fd.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("can't write events file with: %w", err)
	}
	return nil
}
