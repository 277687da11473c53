package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Hubmakerlabs/nsecbox/pkg/errs"
	"github.com/Hubmakerlabs/nsecbox/pkg/slog"
	"github.com/dgraph-io/badger/v4"
)

// Badger is the durable backend.
type Badger struct {
	Path string
	*badger.DB
}

var _ I = (*Badger)(nil)

// OpenBadger opens (or creates) a store at path. An empty path opens an
// in-memory database.
func OpenBadger(path string) (b *Badger, err error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = logger{slog.GetLogLevel(), "badger " + path}
	b = &Badger{Path: path}
	if b.DB, err = badger.Open(opts); chk.E(err) {
		return nil, errs.Wrap(errs.ErrStorage, "open", err)
	}
	log.D.Ln("opened credential store at", path)
	return
}

func (b *Badger) Get(c context.Context, keys ...string) (v Values, err error) {
	v = make(Values, len(keys))
	err = b.View(func(txn *badger.Txn) (err error) {
		for _, k := range keys {
			var item *badger.Item
			if item, err = txn.Get([]byte(Namespace + k)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					err = nil
					continue
				}
				return
			}
			if v[k], err = item.ValueCopy(nil); err != nil {
				return
			}
		}
		return
	})
	if chk.E(err) {
		return nil, errs.Wrap(errs.ErrStorage, "get", err)
	}
	return
}

func (b *Badger) Set(c context.Context, entries Entries) (err error) {
	err = b.Update(func(txn *badger.Txn) (err error) {
		for k, val := range entries {
			if err = txn.Set([]byte(Namespace+k), val); err != nil {
				return
			}
		}
		return
	})
	if chk.E(err) {
		return errs.Wrap(errs.ErrStorage, "set", err)
	}
	return
}

func (b *Badger) Delete(c context.Context, keys ...string) (err error) {
	err = b.Update(func(txn *badger.Txn) (err error) {
		for _, k := range keys {
			if err = txn.Delete([]byte(Namespace + k)); err != nil {
				return
			}
		}
		return
	})
	if chk.E(err) {
		return errs.Wrap(errs.ErrStorage, "delete", err)
	}
	return
}

func (b *Badger) Close() (err error) {
	if err = b.DB.Close(); chk.E(err) {
		return errs.Wrap(errs.ErrStorage, "close", err)
	}
	return
}

// logger routes badger's own output through slog at or below the level the
// store was opened with.
type logger struct {
	Level int
	Label string
}

func (l logger) Errorf(s string, i ...interface{}) {
	if l.Level >= slog.Error {
		log.E.Ln(l.Label+":", strings.TrimSpace(fmt.Sprintf(s, i...)))
	}
}

func (l logger) Warningf(s string, i ...interface{}) {
	if l.Level >= slog.Warn {
		log.W.Ln(l.Label+":", strings.TrimSpace(fmt.Sprintf(s, i...)))
	}
}

func (l logger) Infof(s string, i ...interface{}) {
	if l.Level >= slog.Debug {
		log.D.Ln(l.Label+":", strings.TrimSpace(fmt.Sprintf(s, i...)))
	}
}

func (l logger) Debugf(s string, i ...interface{}) {
	if l.Level >= slog.Trace {
		log.T.Ln(l.Label+":", strings.TrimSpace(fmt.Sprintf(s, i...)))
	}
}
