package backendtest_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jonwraymond/querysync/backend"
	"github.com/jonwraymond/querysync/backend/backendtest"
)

type row struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Due    string `json:"due"`
}

func TestServer_CRUD(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	srv.Seed("invoices", row{"a", "pendente", "2025-03-02"}, row{"b", "pago", "2025-03-01"}, row{"c", "pendente", "2025-03-01"})

	c, err := backend.New(backend.Config{BaseURL: srv.URL, APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	q := backend.Query{Order: []backend.Order{{Column: "due"}}}.Where(backend.Eq("status", "pendente"))
	rows, err := backend.SelectAs[row](ctx, c, "invoices", q)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "c" {
		t.Errorf("Select() = %+v, want c then a", rows)
	}

	rows, _ = backend.SelectAs[row](ctx, c, "invoices", backend.Query{}.Where(backend.In("id", "a", "b")))
	if len(rows) != 2 {
		t.Errorf("Select(in) = %+v", rows)
	}

	updated, err := backend.UpdateOne[row](ctx, c, "invoices", []backend.Filter{backend.Eq("id", "a")}, map[string]any{"status": "pago"})
	if err != nil || updated.Status != "pago" {
		t.Errorf("UpdateOne() = %+v, %v", updated, err)
	}

	inserted, err := backend.InsertOne[row](ctx, c, "invoices", map[string]any{"status": "pendente"})
	if err != nil || inserted.ID == "" {
		t.Errorf("InsertOne() = %+v, %v", inserted, err)
	}

	if err := c.Delete(ctx, "invoices", []backend.Filter{backend.Eq("status", "pago")}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := len(srv.Rows("invoices")); got != 2 {
		t.Errorf("rows after Delete = %d, want 2", got)
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if n := srv.Count(http.MethodGet, "invoices"); n != 2 {
		t.Errorf("Count(GET) = %d, want 2", n)
	}
}

func TestServer_FailAndRPC(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()
	c, _ := backend.New(backend.Config{BaseURL: srv.URL, APIKey: "k"})
	ctx := context.Background()

	srv.HandleRPC("echo", func(args map[string]any) (any, error) {
		if args["fail"] == true {
			return nil, errors.New("boom")
		}
		return args, nil
	})
	out, err := backend.RPCAs[map[string]any](ctx, c, "echo", map[string]any{"x": "y"})
	if err != nil || out["x"] != "y" {
		t.Errorf("RPC(echo) = %v, %v", out, err)
	}
	_, err = c.RPC(ctx, "echo", map[string]any{"fail": true})
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "boom" {
		t.Errorf("RPC(fail) error = %v", err)
	}
	if _, err := c.RPC(ctx, "missing", nil); !backend.IsNotFound(err) {
		t.Errorf("RPC(missing) error = %v, want not found", err)
	}

	srv.Fail(http.MethodGet, "clients", backendtest.Failure{Status: http.StatusServiceUnavailable, Message: "maintenance"})
	if _, err := c.Select(ctx, "clients", backend.Query{}); err == nil || err.Error() != "maintenance" {
		t.Errorf("Select() error = %v, want maintenance", err)
	}
	srv.Recover(http.MethodGet, "clients")
	if _, err := c.Select(ctx, "clients", backend.Query{}); err != nil {
		t.Errorf("Select() after Recover error = %v", err)
	}
}
