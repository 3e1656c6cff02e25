package vts

import (
	"context"

	"github.com/wesleyorama2/vurun/internal/loaderr"
)

// Row references a row index across all columns
type Row struct {
	client *Client
	index  int
}

// Index returns the 1-based row index
func (r *Row) Index() int {
	return r.index
}

// Clear sets every non-null field in the row to the empty string.
// Null fields stay null.
func (r *Row) Clear(ctx context.Context) error {
	if err := validRow(r.index); err != nil {
		return err
	}
	_, err := r.client.call(ctx, "clearRow", request{Row: r.index})
	return err
}

// Values returns the row's field for every column
func (r *Row) Values(ctx context.Context) (map[string]Field, error) {
	if err := validRow(r.index); err != nil {
		return nil, err
	}
	resp, err := r.client.call(ctx, "getRowValues", request{Row: r.index})
	if err != nil {
		return nil, err
	}
	return fields(resp.Fields), nil
}

// SetValues writes values[i] into this row of column names[i]
func (r *Row) SetValues(ctx context.Context, names, values []string) error {
	if err := validRow(r.index); err != nil {
		return err
	}
	if err := validColumns(names); err != nil {
		return err
	}
	if len(names) != len(values) {
		return loaderr.Configf("values", "got %d values for %d columns", len(values), len(names))
	}
	_, err := r.client.call(ctx, "setRowValues", request{Row: r.index, Columns: names, Values: values})
	return err
}
