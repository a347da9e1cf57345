package backend

import (
	"context"
	"encoding/json"
	"fmt"
)

// SelectAs decodes Select results into a slice of T.
func SelectAs[T any](ctx context.Context, c *Client, table string, q Query) ([]T, error) {
	raw, err := c.Select(ctx, table, q)
	if err != nil {
		return nil, err
	}
	return decode[[]T](table, raw)
}

// SingleAs decodes a Single result into T.
func SingleAs[T any](ctx context.Context, c *Client, table string, q Query) (T, error) {
	raw, err := c.Single(ctx, table, q)
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](table, raw)
}

// InsertOne inserts row and decodes the stored row.
func InsertOne[T any](ctx context.Context, c *Client, table string, row any) (T, error) {
	var zero T
	raw, err := c.Insert(ctx, table, row)
	if err != nil {
		return zero, err
	}
	return firstRow[T](table, raw)
}

// UpdateOne patches rows matching filters and decodes the first updated row.
// No matching row returns ErrNotFound.
func UpdateOne[T any](ctx context.Context, c *Client, table string, filters []Filter, patch any) (T, error) {
	var zero T
	raw, err := c.Update(ctx, table, filters, patch)
	if err != nil {
		return zero, err
	}
	return firstRow[T](table, raw)
}

// RPCAs calls fn and decodes its result into T.
func RPCAs[T any](ctx context.Context, c *Client, fn string, args any) (T, error) {
	raw, err := c.RPC(ctx, fn, args)
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](fn, raw)
}

func firstRow[T any](table string, raw json.RawMessage) (T, error) {
	var zero T
	rows, err := decode[[]T](table, raw)
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, table)
	}
	return rows[0], nil
}

func decode[T any](resource string, raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("backend: decode %s: %w", resource, err)
	}
	return out, nil
}
