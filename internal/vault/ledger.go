package vault

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const maxTxAttempts = 16

// ErrLedgerBusy is returned when a transaction keeps conflicting with concurrent writers.
var ErrLedgerBusy = stderrors.New("vault: ledger busy")

// Ledger stores accounts and applies transactions atomically: either every account written by
// a transaction is committed or none is.
type Ledger interface {
	// Transact loads the declared accounts and runs fn. Writes made through tx are committed
	// only when fn returns nil.
	Transact(ctx context.Context, addrs []Address, fn func(tx *Tx) error) error
}

// Tx is a view of the declared accounts within a single transaction.
type Tx struct {
	declared map[Address]bool
	data     map[Address][]byte
	dirty    map[Address]bool
}

func newTx(addrs []Address) *Tx {
	tx := &Tx{
		declared: make(map[Address]bool, len(addrs)),
		data:     make(map[Address][]byte, len(addrs)),
		dirty:    make(map[Address]bool),
	}
	for _, a := range addrs {
		tx.declared[a] = true
	}
	return tx
}

// Get decodes the account at addr into v. It reports false when the account does not exist.
func (tx *Tx) Get(addr Address, v any) (bool, error) {
	return tx.get(addr, v, false)
}

// getExact is Get for an account that must have exactly the layout of v.
// An account of another type is rejected with ErrInvalidAccount.
func (tx *Tx) getExact(addr Address, v any) (bool, error) {
	return tx.get(addr, v, true)
}

func (tx *Tx) get(addr Address, v any, exact bool) (bool, error) {
	if !tx.declared[addr] {
		return false, fmt.Errorf("%w: %s", ErrInvalidAccount, addr)
	}

	raw, ok := tx.data[addr]
	if !ok {
		return false, nil
	}

	if !exact {
		if err := json.Unmarshal(raw, v); err != nil {
			return false, fmt.Errorf("decode account %s: %w", addr, err)
		}
		return true, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidAccount, addr)
	}

	return true, nil
}

// Put stages v as the new content of the account at addr.
func (tx *Tx) Put(addr Address, v any) error {
	if !tx.declared[addr] {
		return fmt.Errorf("%w: %s", ErrInvalidAccount, addr)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", addr, err)
	}

	tx.data[addr] = raw
	tx.dirty[addr] = true
	return nil
}

// Declared reports whether addr was declared by the transaction.
func (tx *Tx) Declared(addr Address) bool {
	return tx.declared[addr]
}

// RedisLedger keeps accounts in Redis and uses optimistic transactions (WATCH/MULTI/EXEC).
// All keys share one hash tag so a transaction never spans cluster slots.
type RedisLedger struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisLedger(r redis.UniversalClient, prefix string) *RedisLedger {
	return &RedisLedger{redis: r, prefix: prefix}
}

func (l *RedisLedger) Transact(ctx context.Context, addrs []Address, fn func(tx *Tx) error) error {
	addrs = dedupe(addrs)
	keys := make([]string, len(addrs))
	for i, a := range addrs {
		keys[i] = l.key(a)
	}

	for range maxTxAttempts {
		err := l.redis.Watch(ctx, func(rtx *redis.Tx) error {
			vals, err := rtx.MGet(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("load accounts: %w", err)
			}

			tx := newTx(addrs)
			for i, v := range vals {
				if s, ok := v.(string); ok {
					tx.data[addrs[i]] = []byte(s)
				}
			}

			if err := fn(tx); err != nil {
				return err
			}

			if len(tx.dirty) == 0 {
				return nil
			}

			_, err = rtx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				for a := range tx.dirty {
					p.Set(ctx, l.key(a), tx.data[a], 0)
				}
				return nil
			})
			return err
		}, keys...)

		if stderrors.Is(err, redis.TxFailedErr) {
			continue
		}

		return err
	}

	return ErrLedgerBusy
}

func (l *RedisLedger) key(a Address) string {
	return fmt.Sprintf("%s:{ledger}:%s", l.prefix, a)
}

func dedupe(addrs []Address) []Address {
	seen := make(map[Address]bool, len(addrs))
	out := addrs[:0:0]
	for _, a := range addrs {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}
