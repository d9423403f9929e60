package archive

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble"
)

// Token encodes a read position as seq (8 bytes big-endian).
type Token [8]byte

// TokenFromSeq returns the token that starts a read at seq.
func TokenFromSeq(seq uint64) Token {
	var t Token
	binary.BigEndian.PutUint64(t[:], seq)
	return t
}

func (t Token) Seq() uint64 { return binary.BigEndian.Uint64(t[:]) }

// IsZero reports whether t is the zero token.
func (t Token) IsZero() bool { return t == Token{} }

type ReadOptions struct {
	Start   Token // if zero, begin from the first (or, reversed, the last) entry
	Limit   int
	Reverse bool
}

type Item struct {
	Seq uint64
	Entry
}

// Read returns up to Limit items starting at Start (inclusive). Reverse scans
// descending. The returned token is the next entry to read, or zero when the
// scan reached the end. Records that fail their checksum are skipped.
func (l *Log) Read(opts ReadOptions) ([]Item, Token, error) {
	low, high := entryBounds(l.queue)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return nil, Token{}, err
	}
	defer iter.Close()

	items := make([]Item, 0, max(1, opts.Limit))
	var next Token
	startKey := KeyEntry(l.queue, opts.Start.Seq())

	var ok bool
	switch {
	case opts.Reverse && opts.Start.IsZero():
		ok = iter.Last()
	case opts.Reverse:
		ok = iter.SeekLT(append(startKey, 0x00))
	case opts.Start.IsZero():
		ok = iter.First()
	default:
		ok = iter.SeekGE(startKey)
	}
	for ok && (opts.Limit == 0 || len(items) < opts.Limit) {
		if e, valid := DecodeRecord(iter.Value()); valid {
			items = append(items, Item{Seq: seqFromKey(iter.Key()), Entry: e})
		} else {
			l.logger.Warn("skipping damaged archive record")
		}
		if opts.Reverse {
			ok = iter.Prev()
		} else {
			ok = iter.Next()
		}
	}
	if ok {
		next = TokenFromSeq(seqFromKey(iter.Key()))
	}
	return items, next, iter.Error()
}
