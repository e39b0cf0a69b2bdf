package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/golang/glog"
)

const (
	// DefaultKeyFile is the CSV of serial number and key pairs.
	DefaultKeyFile = "rev7-7700-7999.csv"
	// DefaultOutputFile receives serial number, key and node ID rows.
	DefaultOutputFile = "nodeAssociations.csv"
)

// CSVKeyStore reads keys from a comma separated file. The first row with
// a field equal to the serial number wins and its second field is the key.
type CSVKeyStore struct {
	Path string
}

// LookupKey implements KeyStore.
func (s *CSVKeyStore) LookupKey(serial string) (string, bool, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	for {
		row, err := r.Read()
		if err == io.EOF {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("%s: %w", s.Path, err)
		}
		for _, field := range row {
			if field != serial {
				continue
			}
			if len(row) < 2 {
				return "", false, fmt.Errorf("%s: no key column for %q", s.Path, serial)
			}
			glog.V(2).Infof("key row for %s found in %s", serial, s.Path)
			return row[1], true, nil
		}
	}
}

// CSVResultStore appends results to a comma separated file.
type CSVResultStore struct {
	Path string

	mu sync.Mutex
}

// RecordSuccess implements ResultStore.
func (s *CSVResultStore) RecordSuccess(serial, key, id string) error {
	if serial == "" {
		return ErrNoSerial
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{serial, key, id}); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
