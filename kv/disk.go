package kv

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"modalnode/errkind"
)

// walRecord is one durable log line, grounded on ledger.go's WAL replay
// (bufio.Scanner over newline-delimited JSON) but generalized from ledger
// blocks to arbitrary key/value pairs.
type walRecord struct {
	Op    string `json:"op"` // "put" or "del"
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// Disk is the durable backend: an in-memory index kept consistent with an
// append-only write-ahead log and periodic snapshot, exactly the durability
// strategy core/ledger.go uses for the whole ledger, here scoped to a
// general byte-range store. Opening the same directory a second time with
// ReadOnly set permits concurrent readers; neither mode takes a lock file,
// so a read-only open never waits on the writer, satisfying the "read-only
// open permits multiple concurrent readers" requirement.
type Disk struct {
	mu       sync.RWMutex
	dir      string
	wal      *os.File // nil when ReadOnly
	data     map[string][]byte
	readOnly bool

	writesSinceSnapshot int
	snapshotEvery       int
}

const (
	snapshotFile = "kv.snapshot"
	walFile      = "kv.wal"
)

// Open loads (or creates) a disk-backed store rooted at dir. When readOnly
// is true no WAL handle is kept open and Put/Delete return an Invalid-kind
// error; any number of readers may open the same directory concurrently.
func Open(dir string, readOnly bool) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil && !readOnly {
		return nil, errkind.Wrap(errkind.Fatal, err, "create kv dir")
	}
	d := &Disk{dir: dir, data: make(map[string][]byte), readOnly: readOnly, snapshotEvery: 1000}

	if err := d.loadSnapshot(); err != nil {
		return nil, err
	}
	if err := d.replayWAL(); err != nil {
		return nil, err
	}

	if !readOnly {
		f, err := os.OpenFile(filepath.Join(dir, walFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errkind.Wrap(errkind.Fatal, err, "open kv wal")
		}
		d.wal = f
	}
	return d, nil
}

func (d *Disk) loadSnapshot() error {
	path := filepath.Join(d.dir, snapshotFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errkind.Wrap(errkind.Fatal, err, "read kv snapshot")
	}
	var encoded map[string]string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return errkind.Wrap(errkind.Fatal, err, "decode kv snapshot")
	}
	for k, hv := range encoded {
		v, err := hex.DecodeString(hv)
		if err != nil {
			return errkind.Wrap(errkind.Fatal, err, "decode kv snapshot value")
		}
		d.data[k] = v
	}
	return nil
}

func (d *Disk) replayWAL() error {
	path := filepath.Join(d.dir, walFile)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errkind.Wrap(errkind.Fatal, err, "open kv wal for replay")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec walRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// A partially-written final line after a crash is tolerated,
			// matching ledger.go's best-effort WAL replay.
			break
		}
		key, err := hex.DecodeString(rec.Key)
		if err != nil {
			continue
		}
		switch rec.Op {
		case "put":
			val, err := hex.DecodeString(rec.Value)
			if err != nil {
				continue
			}
			d.data[string(key)] = val
		case "del":
			delete(d.data, string(key))
		}
	}
	return errkind.Wrap(errkind.Fatal, scanner.Err(), "scan kv wal")
}

func (d *Disk) appendWAL(rec walRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, err, "encode kv wal record")
	}
	if _, err := d.wal.Write(append(line, '\n')); err != nil {
		return errkind.Wrap(errkind.Fatal, err, "append kv wal")
	}
	return d.wal.Sync()
}

func (d *Disk) Get(key []byte) ([]byte, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (d *Disk) Put(key, value []byte) error {
	if d.readOnly {
		return errkind.New(errkind.Invalid, "put on read-only kv store")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.appendWAL(walRecord{Op: "put", Key: hex.EncodeToString(key), Value: hex.EncodeToString(value)}); err != nil {
		return err
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	d.data[string(key)] = cp
	d.writesSinceSnapshot++
	if d.writesSinceSnapshot >= d.snapshotEvery {
		return d.snapshotLocked()
	}
	return nil
}

func (d *Disk) Delete(key []byte) error {
	if d.readOnly {
		return errkind.New(errkind.Invalid, "delete on read-only kv store")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.appendWAL(walRecord{Op: "del", Key: hex.EncodeToString(key)}); err != nil {
		return err
	}
	delete(d.data, string(key))
	d.writesSinceSnapshot++
	return nil
}

// snapshotLocked flushes the current index to disk and truncates the WAL,
// mirroring ledger.go's snapshot()/prune() cadence.
func (d *Disk) snapshotLocked() error {
	encoded := make(map[string]string, len(d.data))
	for k, v := range d.data {
		encoded[hex.EncodeToString([]byte(k))] = hex.EncodeToString(v)
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return errkind.Wrap(errkind.Fatal, err, "encode kv snapshot")
	}
	tmp := filepath.Join(d.dir, snapshotFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errkind.Wrap(errkind.Fatal, err, "write kv snapshot")
	}
	if err := os.Rename(tmp, filepath.Join(d.dir, snapshotFile)); err != nil {
		return errkind.Wrap(errkind.Fatal, err, "install kv snapshot")
	}
	if err := d.wal.Truncate(0); err != nil {
		return errkind.Wrap(errkind.Fatal, err, "truncate kv wal")
	}
	if _, err := d.wal.Seek(0, 0); err != nil {
		return errkind.Wrap(errkind.Fatal, err, "rewind kv wal")
	}
	d.writesSinceSnapshot = 0
	return nil
}

func (d *Disk) Iterator(prefix []byte) (Iterator, error) {
	upper, bounded := prefixUpperBound(prefix)

	d.mu.RLock()
	defer d.mu.RUnlock()

	entries := make([]kvPair, 0)
	for k, v := range d.data {
		kb := []byte(k)
		if bounded {
			if !inRange(kb, prefix, upper) {
				continue
			}
		} else if !inRange(kb, prefix, nil) {
			continue
		}
		vc := make([]byte, len(v))
		copy(vc, v)
		entries = append(entries, kvPair{key: kb, value: vc})
	}
	return newSliceIterator(entries), nil
}

func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.wal == nil {
		return nil
	}
	if err := d.snapshotLocked(); err != nil {
		return err
	}
	return d.wal.Close()
}
