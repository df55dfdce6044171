package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const defaultGridAPIBase = "https://api.smartsheet.com/2.0"

// GridAPIClient talks to the hosted spreadsheet service over HTTP. It
// implements both Client and DiscussionClient against the same token.
type GridAPIClient struct {
	base  string
	token string
	http  *http.Client
}

func NewGridAPIClient(token string, timeout time.Duration) *GridAPIClient {
	return &GridAPIClient{
		base:  defaultGridAPIBase,
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

// WithBaseURL overrides the API endpoint. Used in tests.
func (c *GridAPIClient) WithBaseURL(base string) *GridAPIClient {
	c.base = base
	return c
}

type apiCell struct {
	ColumnID int64 `json:"columnId"`
	Value    any   `json:"value,omitempty"`
}

type apiRow struct {
	ID        int64     `json:"id"`
	RowNumber int       `json:"rowNumber,omitempty"`
	Cells     []apiCell `json:"cells"`
}

type apiColumn struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type apiSheet struct {
	Columns []apiColumn `json:"columns"`
	Rows    []apiRow    `json:"rows"`
}

func (c *GridAPIClient) GetGrid(ctx context.Context, collectionID string) (Grid, error) {
	var sheet apiSheet
	url := fmt.Sprintf("%s/sheets/%s", c.base, collectionID)
	if err := c.do(ctx, http.MethodGet, url, nil, &sheet); err != nil {
		return Grid{}, fmt.Errorf("get sheet %s: %w", collectionID, err)
	}

	grid := Grid{
		Columns: make([]Column, 0, len(sheet.Columns)),
		Rows:    make([]GridRow, 0, len(sheet.Rows)),
	}
	for _, col := range sheet.Columns {
		grid.Columns = append(grid.Columns, Column{
			ID:    strconv.FormatInt(col.ID, 10),
			Title: col.Title,
		})
	}
	for _, row := range sheet.Rows {
		gr := GridRow{
			ID:     strconv.FormatInt(row.ID, 10),
			Number: row.RowNumber,
			Cells:  make([]Cell, 0, len(row.Cells)),
		}
		for _, cell := range row.Cells {
			gr.Cells = append(gr.Cells, Cell{
				ColumnID: strconv.FormatInt(cell.ColumnID, 10),
				Value:    cell.Value,
			})
		}
		grid.Rows = append(grid.Rows, gr)
	}
	return grid, nil
}

func (c *GridAPIClient) UpdateCells(ctx context.Context, collectionID string, updates []CellUpdate) error {
	// One request row per distinct row ID, preserving update order.
	byRow := make(map[string]*apiRow)
	var order []string
	for _, u := range updates {
		row, ok := byRow[u.RowID]
		if !ok {
			id, err := strconv.ParseInt(u.RowID, 10, 64)
			if err != nil {
				return fmt.Errorf("update sheet %s: bad row id %q", collectionID, u.RowID)
			}
			row = &apiRow{ID: id}
			byRow[u.RowID] = row
			order = append(order, u.RowID)
		}
		colID, err := strconv.ParseInt(u.ColumnID, 10, 64)
		if err != nil {
			return fmt.Errorf("update sheet %s: bad column id %q", collectionID, u.ColumnID)
		}
		row.Cells = append(row.Cells, apiCell{ColumnID: colID, Value: u.Value})
	}

	body := make([]apiRow, 0, len(order))
	for _, id := range order {
		body = append(body, *byRow[id])
	}

	url := fmt.Sprintf("%s/sheets/%s/rows", c.base, collectionID)
	if err := c.do(ctx, http.MethodPut, url, body, nil); err != nil {
		return fmt.Errorf("update sheet %s: %w", collectionID, err)
	}
	return nil
}

func (c *GridAPIClient) ListDiscussions(ctx context.Context, collectionID, rowID string) ([]Discussion, error) {
	var resp struct {
		Data []struct {
			ID    int64  `json:"id"`
			Title string `json:"title"`
		} `json:"data"`
	}
	url := fmt.Sprintf("%s/sheets/%s/rows/%s/discussions", c.base, collectionID, rowID)
	if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, fmt.Errorf("list discussions sheet %s row %s: %w", collectionID, rowID, err)
	}

	out := make([]Discussion, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, Discussion{ID: strconv.FormatInt(d.ID, 10), Title: d.Title})
	}
	return out, nil
}

func (c *GridAPIClient) AddComment(ctx context.Context, collectionID, discussionID, comment string) error {
	body := map[string]string{"text": comment}
	url := fmt.Sprintf("%s/sheets/%s/discussions/%s/comments", c.base, collectionID, discussionID)
	if err := c.do(ctx, http.MethodPost, url, body, nil); err != nil {
		return fmt.Errorf("add comment sheet %s discussion %s: %w", collectionID, discussionID, err)
	}
	return nil
}

func (c *GridAPIClient) CreateDiscussion(ctx context.Context, collectionID, rowID, title, comment string) error {
	body := map[string]any{
		"title":   title,
		"comment": map[string]string{"text": comment},
	}
	url := fmt.Sprintf("%s/sheets/%s/rows/%s/discussions", c.base, collectionID, rowID)
	if err := c.do(ctx, http.MethodPost, url, body, nil); err != nil {
		return fmt.Errorf("create discussion sheet %s row %s: %w", collectionID, rowID, err)
	}
	return nil
}

func (c *GridAPIClient) do(ctx context.Context, method, url string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

var (
	_ Client           = (*GridAPIClient)(nil)
	_ DiscussionClient = (*GridAPIClient)(nil)
)
