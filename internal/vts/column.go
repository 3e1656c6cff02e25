package vts

import (
	"context"
)

// Column references a named column on the server
type Column struct {
	client *Client
	name   string
}

// Name returns the column name
func (c *Column) Name() string {
	return c.name
}

// Client returns the client the column belongs to
func (c *Column) Client() *Client {
	return c.client
}

func (c *Column) do(ctx context.Context, op string, req request) (*response, error) {
	if err := validColumn(c.name); err != nil {
		return nil, err
	}
	req.Column = c.name
	return c.client.call(ctx, op, req)
}

// Clear removes all data in the column
func (c *Column) Clear(ctx context.Context) error {
	_, err := c.do(ctx, "clearColumn", request{})
	return err
}

// Size returns the number of fields that hold data
func (c *Column) Size(ctx context.Context) (int, error) {
	resp, err := c.do(ctx, "size", request{})
	if err != nil {
		return 0, err
	}
	return resp.Size, nil
}

// CreateIndex indexes the column so unique checks run in constant time.
// Mutations issued while the index builds complete once it is ready.
func (c *Column) CreateIndex(ctx context.Context) error {
	_, err := c.do(ctx, "createIndex", request{})
	return err
}

// DropIndex removes the column index
func (c *Column) DropIndex(ctx context.Context) error {
	_, err := c.do(ctx, "dropIndex", request{})
	return err
}

// AddValue writes value to the next open field at the bottom of the column.
// With ifUnique, the write is skipped when the column already holds value.
func (c *Column) AddValue(ctx context.Context, value string, ifUnique bool) error {
	_, err := c.do(ctx, "addValue", request{Value: &value, IfUnique: ifUnique})
	return err
}

// ClearField empties the field at row
func (c *Column) ClearField(ctx context.Context, row int) error {
	if err := validRow(row); err != nil {
		return err
	}
	_, err := c.do(ctx, "clearField", request{Row: row})
	return err
}

// IncrementField adds amount to the integer at row. A field that is empty or
// not an integer becomes amount.
func (c *Column) IncrementField(ctx context.Context, row int, amount int64) (Field, error) {
	if err := validRow(row); err != nil {
		return Null, err
	}
	resp, err := c.do(ctx, "incrementField", request{Row: row, Amount: amount})
	if err != nil {
		return Null, err
	}
	return fieldOf(resp.Value), nil
}

// FieldValue reads the field at row
func (c *Column) FieldValue(ctx context.Context, row int) (Field, error) {
	if err := validRow(row); err != nil {
		return Null, err
	}
	resp, err := c.do(ctx, "getFieldValue", request{Row: row})
	if err != nil {
		return Null, err
	}
	return fieldOf(resp.Value), nil
}

// SetFieldValue writes value at row. When existing is non-nil the write only
// happens if the field currently holds *existing.
func (c *Column) SetFieldValue(ctx context.Context, row int, value string, existing *string) error {
	if err := validRow(row); err != nil {
		return err
	}
	_, err := c.do(ctx, "setFieldValue", request{Row: row, Value: &value, Existing: existing})
	return err
}

// Pop removes and returns the top field; the fields below move up one row
func (c *Column) Pop(ctx context.Context) (Field, error) {
	resp, err := c.do(ctx, "pop", request{})
	if err != nil {
		return Null, err
	}
	return fieldOf(resp.Value), nil
}

// Rotate pops the top field and moves it to the bottom of the column. With
// Unique the value is discarded if the column still holds a copy.
func (c *Column) Rotate(ctx context.Context, placement Placement) (Field, error) {
	if err := validRotate(placement); err != nil {
		return Null, err
	}
	resp, err := c.do(ctx, "rotate", request{Placement: placement.String()})
	if err != nil {
		return Null, err
	}
	return fieldOf(resp.Value), nil
}
