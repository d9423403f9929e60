package fmq

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// statusReadAttempts bounds retries of a status read whose checksum fails,
// which is what a read racing a status write looks like.
const statusReadAttempts = 5

// store owns the file layout. Every byte that reaches the file goes through
// one of its accessors, which bound-check offsets against the header geometry.
type store struct {
	path     string
	file     *os.File
	dev      device
	hdr      Header
	readOnly bool
	sync     *syncPolicy
}

type storeOptions struct {
	mapReads      bool
	fsync         FsyncMode
	fsyncInterval time.Duration
}

// createStore allocates the backing file and writes an empty queue into it.
func createStore(path string, slotCount int32, bufferSize int64, overwrite bool, perm os.FileMode, so storeOptions) (*store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidConfig)
	}
	if slotCount <= 0 || bufferSize <= 0 {
		return nil, fmt.Errorf("%w: slot_count %d buffer_size %d must be positive", ErrInvalidConfig, slotCount, bufferSize)
	}
	if perm == 0 {
		perm = 0o666
	}
	flags := os.O_RDWR | os.O_CREATE | os.O_EXCL
	if overwrite {
		flags = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, perm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		return nil, fmt.Errorf("fmq: create %s: %w", path, err)
	}
	// Reformatting rewrites status and slots, so it needs the writer lock.
	if err := tryLockFile(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrWouldBlock) {
			return nil, fmt.Errorf("%w: %s", ErrWriterConflict, path)
		}
		return nil, fmt.Errorf("fmq: lock %s: %w", path, err)
	}
	hdr := Header{Version: FormatVersion, SlotCount: slotCount, BufferSize: alignUp(bufferSize, frameAlign)}
	s := &store{path: path, file: f, dev: &fileDevice{f: f}, hdr: hdr, sync: newSyncPolicy(so.fsync, so.fsyncInterval)}
	if terr := f.Truncate(0); terr != nil {
		err = fmt.Errorf("fmq: truncate %s: %w", path, terr)
	} else {
		err = s.format()
	}
	if uerr := unlockFile(f); err == nil && uerr != nil {
		err = fmt.Errorf("fmq: unlock %s: %w", path, uerr)
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// format writes the header, an empty status block and an unused slot table,
// and sizes the file to hold the data region.
func (s *store) format() error {
	if err := s.file.Truncate(s.hdr.fileSize()); err != nil {
		return fmt.Errorf("fmq: size %s: %w", s.path, err)
	}
	if _, err := s.dev.WriteAt(encodeHeader(s.hdr), 0); err != nil {
		return fmt.Errorf("fmq: write header: %w", err)
	}
	if err := s.resetSlots(); err != nil {
		return err
	}
	if err := s.writeStatus(emptyStatus()); err != nil {
		return err
	}
	return s.dev.Sync()
}

// resetSlots marks every slot unused with a single write.
func (s *store) resetSlots() error {
	table := make([]byte, int(s.hdr.SlotCount)*slotSize)
	for i := 0; i < int(s.hdr.SlotCount); i++ {
		putSlot(table[i*slotSize:(i+1)*slotSize], emptySlot())
	}
	if _, err := s.dev.WriteAt(table, slotsOffset); err != nil {
		return fmt.Errorf("fmq: write slot table: %w", err)
	}
	return nil
}

// openStore opens an existing queue file and validates its header.
func openStore(path string, readOnly bool, so storeOptions) (*store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidConfig)
	}
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("fmq: open %s: %w", path, err)
	}
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, headerSize), buf); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: short header", ErrNotAFmq, path)
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("fmq: stat %s: %w", path, err)
	}
	if fi.Size() < hdr.fileSize() {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, corrupt("header", "file is %d bytes, geometry needs %d", fi.Size(), hdr.fileSize()))
	}
	s := &store{path: path, file: f, hdr: hdr, readOnly: readOnly, sync: newSyncPolicy(so.fsync, so.fsyncInterval)}
	if readOnly && so.mapReads {
		md, err := newMappedDevice(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		s.dev = md
	} else {
		s.dev = &fileDevice{f: f}
	}
	return s, nil
}

func (s *store) close() error {
	if s == nil || s.dev == nil {
		return nil
	}
	err := s.dev.Close()
	s.dev = nil
	return err
}

// readStatus returns the status block. A checksum failure is retried, then
// reported as corruption.
func (s *store) readStatus() (StatusBlock, error) {
	buf := make([]byte, statusSize)
	for i := 0; i < statusReadAttempts; i++ {
		if _, err := s.dev.ReadAt(buf, statusOffset); err != nil {
			return StatusBlock{}, fmt.Errorf("fmq: read status: %w", err)
		}
		if st, ok := decodeStatus(buf); ok {
			return st, nil
		}
	}
	return StatusBlock{}, corrupt("status", "checksum mismatch after %d reads", statusReadAttempts)
}

// writeStatus persists the status block with one bounded write so a reader
// sees either the old block or the new one, never a mix it would accept.
func (s *store) writeStatus(st StatusBlock) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if _, err := s.dev.WriteAt(encodeStatus(st), statusOffset); err != nil {
		return fmt.Errorf("fmq: write status: %w", err)
	}
	return nil
}

func (s *store) checkSlot(i int32) error {
	if i < 0 || i >= s.hdr.SlotCount {
		return fmt.Errorf("fmq: slot %d out of range [0,%d)", i, s.hdr.SlotCount)
	}
	return nil
}

// readSlot reads one slot entry. ok is false when its checksum fails.
func (s *store) readSlot(i int32) (SlotEntry, bool, error) {
	if err := s.checkSlot(i); err != nil {
		return SlotEntry{}, false, err
	}
	buf := make([]byte, slotSize)
	if _, err := s.dev.ReadAt(buf, slotsOffset+int64(i)*slotSize); err != nil {
		return SlotEntry{}, false, fmt.Errorf("fmq: read slot %d: %w", i, err)
	}
	e, ok := decodeSlot(buf)
	return e, ok, nil
}

// readSlots reads the whole slot table in one read. Entries whose checksum
// fails come back unused and their indices are listed in bad.
func (s *store) readSlots() (slots []SlotEntry, bad []int32, err error) {
	n := int(s.hdr.SlotCount)
	buf := make([]byte, n*slotSize)
	if _, err := s.dev.ReadAt(buf, slotsOffset); err != nil {
		return nil, nil, fmt.Errorf("fmq: read slot table: %w", err)
	}
	slots = make([]SlotEntry, n)
	for i := 0; i < n; i++ {
		e, ok := decodeSlot(buf[i*slotSize : (i+1)*slotSize])
		if !ok {
			bad = append(bad, int32(i))
			e = emptySlot()
		}
		slots[i] = e
	}
	return slots, bad, nil
}

func (s *store) writeSlot(i int32, e SlotEntry) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if err := s.checkSlot(i); err != nil {
		return err
	}
	if _, err := s.dev.WriteAt(encodeSlot(e), slotsOffset+int64(i)*slotSize); err != nil {
		return fmt.Errorf("fmq: write slot %d: %w", i, err)
	}
	return nil
}

// readBytes reads length bytes from the data region starting at offset,
// continuing at the start of the region if the range passes its end.
func (s *store) readBytes(offset, length int64) ([]byte, error) {
	if err := s.checkRange(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	first := min(length, s.hdr.BufferSize-offset)
	if _, err := s.dev.ReadAt(out[:first], s.hdr.dataOffset()+offset); err != nil {
		return nil, fmt.Errorf("fmq: read data at %d: %w", offset, err)
	}
	if first < length {
		if _, err := s.dev.ReadAt(out[first:], s.hdr.dataOffset()); err != nil {
			return nil, fmt.Errorf("fmq: read data at 0: %w", err)
		}
	}
	return out, nil
}

// writeBytes writes data into the data region at offset with the same
// wraparound rule as readBytes.
func (s *store) writeBytes(offset int64, data []byte) error {
	if s.readOnly {
		return ErrReadOnly
	}
	length := int64(len(data))
	if err := s.checkRange(offset, length); err != nil {
		return err
	}
	first := min(length, s.hdr.BufferSize-offset)
	if _, err := s.dev.WriteAt(data[:first], s.hdr.dataOffset()+offset); err != nil {
		return fmt.Errorf("fmq: write data at %d: %w", offset, err)
	}
	if first < length {
		if _, err := s.dev.WriteAt(data[first:], s.hdr.dataOffset()); err != nil {
			return fmt.Errorf("fmq: write data at 0: %w", err)
		}
	}
	return nil
}

func (s *store) checkRange(offset, length int64) error {
	if offset < 0 || offset >= s.hdr.BufferSize || length < 0 || length > s.hdr.BufferSize {
		return fmt.Errorf("fmq: data range [%d,+%d) outside buffer of %d bytes", offset, length, s.hdr.BufferSize)
	}
	return nil
}
