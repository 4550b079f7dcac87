package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// EntryID is the log-assigned position of an entry, in Redis stream form <millis>-<seq>.
// The zero value is the beginning of the log.
type EntryID struct {
	Millis uint64
	Seq    uint64
}

// StartOfLog is the cursor position before the first entry.
var StartOfLog = EntryID{}

// ParseEntryID parses a "<millis>-<seq>" identifier. A bare "<millis>" means seq 0.
func ParseEntryID(s string) (EntryID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")

	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return EntryID{}, fmt.Errorf("%w: %q", ErrInvalidEntryID, s)
	}

	if !hasSeq {
		return EntryID{Millis: ms}, nil
	}

	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return EntryID{}, fmt.Errorf("%w: %q", ErrInvalidEntryID, s)
	}

	return EntryID{Millis: ms, Seq: seq}, nil
}

// String renders the id in stream form.
func (id EntryID) String() string {
	return strconv.FormatUint(id.Millis, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// Compare returns -1, 0 or +1 depending on whether id sorts before, equal to or after other.
func (id EntryID) Compare(other EntryID) int {
	switch {
	case id.Millis < other.Millis:
		return -1
	case id.Millis > other.Millis:
		return 1
	case id.Seq < other.Seq:
		return -1
	case id.Seq > other.Seq:
		return 1
	default:
		return 0
	}
}

// After reports whether id is strictly later in the log than other.
func (id EntryID) After(other EntryID) bool {
	return id.Compare(other) > 0
}

// IsZero reports whether id is the beginning of the log.
func (id EntryID) IsZero() bool {
	return id == StartOfLog
}

// Entry is one transaction as read back from the log.
type Entry struct {
	ID          EntryID
	Transaction Transaction
}
