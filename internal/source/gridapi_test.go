package source

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/djlord-it/checkin/internal/testutil"
)

func newGridAPIServer(t *testing.T, handler http.HandlerFunc) (*GridAPIClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewGridAPIClient("tok-123", 2*time.Second).WithBaseURL(srv.URL)
	return client, srv
}

func TestGridAPIClient_GetGrid(t *testing.T) {
	client, _ := newGridAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sheets/987" {
			t.Errorf("path = %s, want /sheets/987", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"columns": []map[string]any{
				{"id": 7000000000000001, "title": "Tech Name"},
				{"id": 7000000000000002, "title": "24 Hour Call"},
			},
			"rows": []map[string]any{
				{"id": 4000000000000001, "rowNumber": 1, "cells": []map[string]any{
					{"columnId": 7000000000000001, "value": "Dana"},
					{"columnId": 7000000000000002, "value": true},
				}},
			},
		})
	})

	grid, err := client.GetGrid(testutil.TestContext(t), "987")
	if err != nil {
		t.Fatalf("GetGrid() error = %v", err)
	}

	if len(grid.Columns) != 2 || len(grid.Rows) != 1 {
		t.Fatalf("grid = %d columns, %d rows; want 2 and 1", len(grid.Columns), len(grid.Rows))
	}
	if grid.Columns[0].ID != "7000000000000001" || grid.Columns[0].Title != "Tech Name" {
		t.Errorf("column[0] = %+v", grid.Columns[0])
	}
	row := grid.Rows[0]
	if row.ID != "4000000000000001" || row.Number != 1 {
		t.Errorf("row id/number = %s/%d", row.ID, row.Number)
	}
	if row.Cells[0].Value != "Dana" {
		t.Errorf("cell value = %v, want Dana", row.Cells[0].Value)
	}
	if row.Cells[1].Value != true {
		t.Errorf("flag cell value = %v, want true", row.Cells[1].Value)
	}
}

func TestGridAPIClient_UpdateCellsGroupsByRow(t *testing.T) {
	var body []apiRow
	client, _ := newGridAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if r.URL.Path != "/sheets/987/rows" {
			t.Errorf("path = %s, want /sheets/987/rows", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	updates := []CellUpdate{
		{RowID: "41", ColumnID: "71", Value: true},
		{RowID: "42", ColumnID: "71", Value: true},
		{RowID: "41", ColumnID: "72", Value: "done"},
	}
	if err := client.UpdateCells(testutil.TestContext(t), "987", updates); err != nil {
		t.Fatalf("UpdateCells() error = %v", err)
	}

	if len(body) != 2 {
		t.Fatalf("request rows = %d, want 2 (updates grouped per row)", len(body))
	}
	if body[0].ID != 41 || len(body[0].Cells) != 2 {
		t.Errorf("row[0] = id %d with %d cells, want id 41 with 2 cells", body[0].ID, len(body[0].Cells))
	}
	if body[1].ID != 42 || len(body[1].Cells) != 1 {
		t.Errorf("row[1] = id %d with %d cells, want id 42 with 1 cell", body[1].ID, len(body[1].Cells))
	}
}

func TestGridAPIClient_UpdateCellsRejectsBadIDs(t *testing.T) {
	client, _ := newGridAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for unparseable ids")
	})

	err := client.UpdateCells(testutil.TestContext(t), "987", []CellUpdate{{RowID: "not-a-number", ColumnID: "71"}})
	if err == nil || !strings.Contains(err.Error(), "bad row id") {
		t.Errorf("UpdateCells() error = %v, want bad row id", err)
	}
}

func TestGridAPIClient_Discussions(t *testing.T) {
	var created map[string]any
	client, _ := newGridAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/sheets/987/rows/41/discussions":
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"id": 5001, "title": "Check-in correction WM#111"}},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/sheets/987/discussions/5001/comments":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/sheets/987/rows/41/discussions":
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Errorf("decode create body: %v", err)
			}
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := testutil.TestContext(t)

	discussions, err := client.ListDiscussions(ctx, "987", "41")
	if err != nil {
		t.Fatalf("ListDiscussions() error = %v", err)
	}
	if len(discussions) != 1 || discussions[0].ID != "5001" {
		t.Fatalf("discussions = %+v, want one with id 5001", discussions)
	}

	if err := client.AddComment(ctx, "987", "5001", "disputed time"); err != nil {
		t.Errorf("AddComment() error = %v", err)
	}

	if err := client.CreateDiscussion(ctx, "987", "41", "Check-in correction WM#222", "disputed date"); err != nil {
		t.Fatalf("CreateDiscussion() error = %v", err)
	}
	if created["title"] != "Check-in correction WM#222" {
		t.Errorf("created title = %v", created["title"])
	}
	comment, _ := created["comment"].(map[string]any)
	if comment["text"] != "disputed date" {
		t.Errorf("created comment = %v", created["comment"])
	}
}

func TestGridAPIClient_ErrorIncludesBody(t *testing.T) {
	client, _ := newGridAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errorCode":1004,"message":"not authorized"}`))
	})

	_, err := client.GetGrid(testutil.TestContext(t), "987")
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if !strings.Contains(err.Error(), "status 403") || !strings.Contains(err.Error(), "not authorized") {
		t.Errorf("error = %v, want status and body snippet", err)
	}
}
