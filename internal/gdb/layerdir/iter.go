package layerdir

import (
	"context"
	"errors"
	"io"

	"gdbexport/internal/gdb"
)

type rowIter struct {
	ctx    context.Context
	layer  layer
	idx    []int
	cur    []any
	err    error
	done   bool
	closed bool
}

func (it *rowIter) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}
	row, err := it.layer.Next()
	if errors.Is(err, io.EOF) {
		it.done = true
		return false
	}
	if err != nil {
		it.err = err
		return false
	}
	it.cur = gdb.Project(row, it.idx)
	return true
}

func (it *rowIter) Row() []any { return it.cur }
func (it *rowIter) Err() error { return it.err }

func (it *rowIter) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.layer.Close()
}
