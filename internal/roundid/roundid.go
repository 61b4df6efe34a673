// Package roundid maps wall-clock time to round identities.
//
// A round is a 6-hour UTC window. It has two representations: a Key (epoch
// date + slot) used by the datastore, and a 64-bit ID used to seed the
// on-chain accounts. Both must always be derived through this package.
package roundid

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"time"
)

const (
	// SlotsPerDay is the number of rounds in a UTC day.
	SlotsPerDay = 4
	// SlotDuration is the length of a round window.
	SlotDuration = 24 * time.Hour / SlotsPerDay

	dateLayout = "2006-01-02"
	secsPerDay = 24 * 60 * 60
)

var ErrInvalidKey = stderrors.New("roundid: invalid key")

// Key identifies a round by its UTC epoch date and slot number (0-3).
type Key struct {
	Date time.Time
	Slot int
}

// At returns the key of the round that contains t.
func At(t time.Time) Key {
	t = t.UTC()
	return Key{
		Date: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
		Slot: t.Hour() / int(SlotDuration/time.Hour),
	}
}

// NewKey validates date and slot. The date must be a UTC midnight not before the Unix epoch.
func NewKey(date time.Time, slot int) (Key, error) {
	if slot < 0 || slot >= SlotsPerDay {
		return Key{}, fmt.Errorf("%w: slot %d out of range", ErrInvalidKey, slot)
	}

	d := date.UTC()
	if !d.Equal(time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)) {
		return Key{}, fmt.Errorf("%w: date %s is not a UTC midnight", ErrInvalidKey, date)
	}

	if d.Unix() < 0 {
		return Key{}, fmt.Errorf("%w: date %s before unix epoch", ErrInvalidKey, d.Format(dateLayout))
	}

	return Key{Date: d, Slot: slot}, nil
}

// Parse parses the String form of a key, e.g. "2024-03-01#2".
func Parse(s string) (Key, error) {
	var (
		date string
		slot int
	)

	if _, err := fmt.Sscanf(s, "%10s#%d", &date, &slot); err != nil {
		return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, s, err)
	}

	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, s, err)
	}

	return NewKey(d, slot)
}

// FromID is the inverse of Key.ID.
func FromID(id uint64) Key {
	days := id / SlotsPerDay
	return Key{
		Date: time.Unix(int64(days)*secsPerDay, 0).UTC(),
		Slot: int(id % SlotsPerDay),
	}
}

// ID returns daysSinceUnixEpoch(date)*4 + slot.
func (k Key) ID() uint64 {
	days := k.Date.UTC().Unix() / secsPerDay
	return uint64(days)*SlotsPerDay + uint64(k.Slot)
}

// Window returns the [start, end) interval covered by the round.
func (k Key) Window() (start, end time.Time) {
	start = k.Date.UTC().Add(time.Duration(k.Slot) * SlotDuration)
	return start, start.Add(SlotDuration)
}

// Contains reports whether t falls within the round window.
func (k Key) Contains(t time.Time) bool {
	start, end := k.Window()
	return !t.Before(start) && t.Before(end)
}

func (k Key) Next() Key { return FromID(k.ID() + 1) }

func (k Key) Prev() Key { return FromID(k.ID() - 1) }

func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.Date.UTC().Format(dateLayout), k.Slot)
}

// Seed returns the account seed bytes for a round ID: 8 bytes, little-endian.
func Seed(id uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, id)
	return b
}
