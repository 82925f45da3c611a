// Package client is the HTTP facade over the presence API. Every call maps
// to one endpoint; nothing is retried here.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"presence/internal/model"
	"presence/internal/stats"
)

// RemoteError is returned for transport failures and non-2xx responses.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message == "" {
		return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsUnreachable reports whether err means the API could not be reached or
// could not serve the request, as opposed to rejecting it.
func IsUnreachable(err error) bool {
	var re *RemoteError
	if !errors.As(err, &re) {
		return false
	}
	return re.StatusCode == 0 || re.StatusCode >= 500
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// Client calls the presence API.
type Client struct {
	BaseURL string
	Token   string
	// TokenSource, when set, is asked for a token on every request and wins
	// over Token when it returns one. Long-running processes use it to pick
	// up a login made after they started.
	TokenSource func() string
	HTTP        *http.Client
}

// New creates a client with a request timeout.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) token() string {
	if c.TokenSource != nil {
		if tok := c.TokenSource(); tok != "" {
			return tok
		}
	}
	return c.Token
}

type errorBody struct {
	Error  string `json:"error"`
	Fields []struct {
		Field string `json:"field"`
		Error string `json:"error"`
	} `json:"fields"`
}

func (c *Client) send(ctx context.Context, op, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, &RemoteError{Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &RemoteError{Op: op, Err: err}
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := strings.TrimSpace(string(raw))
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			msg = eb.Error
			for _, f := range eb.Fields {
				msg += "; " + f.Error
			}
		}
		return nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: msg, Err: errors.New(resp.Status)}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &RemoteError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	resp, err := c.send(ctx, op, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// Health checks that the API answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/api/healthz", nil, nil)
}

// Login exchanges the shared passphrase for a session token and keeps it
// on the client.
func (c *Client) Login(ctx context.Context, passphrase string) (model.Session, error) {
	var s model.Session
	err := c.do(ctx, "login", http.MethodPost, "/api/session", map[string]string{"passphrase": passphrase}, &s)
	if err != nil {
		return model.Session{}, err
	}
	c.Token = s.Token
	return s, nil
}

func (c *Client) ListStudents(ctx context.Context) ([]model.Student, error) {
	var out []model.Student
	return out, c.do(ctx, "list students", http.MethodGet, "/api/students", nil, &out)
}

func (c *Client) CreateStudent(ctx context.Context, ns model.NewStudent) (model.Student, error) {
	var out model.Student
	return out, c.do(ctx, "create student", http.MethodPost, "/api/students", ns, &out)
}

func (c *Client) UpdateStudent(ctx context.Context, id string, upd model.StudentUpdate) (model.Student, error) {
	body := struct {
		ID string `json:"id"`
		model.StudentUpdate
	}{ID: id, StudentUpdate: upd}
	var out model.Student
	return out, c.do(ctx, "update student", http.MethodPatch, "/api/students", body, &out)
}

func (c *Client) DeleteStudent(ctx context.Context, id string) error {
	return c.do(ctx, "delete student", http.MethodDelete, "/api/students?id="+url.QueryEscape(id), nil, nil)
}

func (c *Client) ListRecords(ctx context.Context) ([]model.AttendanceRecord, error) {
	var out []model.AttendanceRecord
	return out, c.do(ctx, "list records", http.MethodGet, "/api/records", nil, &out)
}

// SaveAttendance replaces the sheet of a session for a date.
func (c *Client) SaveAttendance(ctx context.Context, day model.DaySave) ([]model.AttendanceRecord, error) {
	var out []model.AttendanceRecord
	return out, c.do(ctx, "save attendance", http.MethodPost, "/api/records", day, &out)
}

func (c *Client) Settings(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	return out, c.do(ctx, "list settings", http.MethodGet, "/api/settings", nil, &out)
}

// UpsertSetting reports whether the key was created.
func (c *Client) UpsertSetting(ctx context.Context, s model.Setting) (bool, error) {
	var out struct {
		Created bool `json:"created"`
	}
	err := c.do(ctx, "save setting", http.MethodPost, "/api/settings", s, &out)
	return out.Created, err
}

func (c *Client) GlobalStats(ctx context.Context) (stats.GlobalStats, error) {
	var out stats.GlobalStats
	return out, c.do(ctx, "global stats", http.MethodGet, "/api/stats/global", nil, &out)
}

func (c *Client) ClassStats(ctx context.Context, classID model.ClassID) (stats.ClassStats, error) {
	var out stats.ClassStats
	return out, c.do(ctx, "class stats", http.MethodGet, "/api/stats/class/"+url.PathEscape(string(classID)), nil, &out)
}

func (c *Client) TodayStats(ctx context.Context, classID model.ClassID) (stats.TodaySummary, error) {
	var out stats.TodaySummary
	return out, c.do(ctx, "today stats", http.MethodGet, "/api/stats/today/"+url.PathEscape(string(classID)), nil, &out)
}

func (c *Client) StudentStats(ctx context.Context, id string) (stats.StudentStats, error) {
	var out stats.StudentStats
	return out, c.do(ctx, "student stats", http.MethodGet, "/api/stats/student/"+url.PathEscape(id), nil, &out)
}

func (c *Client) AtRisk(ctx context.Context, limit int) ([]stats.StudentStats, error) {
	var out []stats.StudentStats
	return out, c.do(ctx, "at-risk stats", http.MethodGet, "/api/stats/at-risk?limit="+strconv.Itoa(limit), nil, &out)
}

// Export streams an xlsx export into w. kind is "students" or "summary";
// class narrows the students export and may be empty.
func (c *Client) Export(ctx context.Context, w io.Writer, kind string, class model.ClassID) error {
	path := "/api/export/" + url.PathEscape(kind)
	if class != "" {
		path += "?class=" + url.QueryEscape(string(class))
	}
	op := "export " + kind
	resp, err := c.send(ctx, op, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

// ImportStudents uploads a spreadsheet of students.
func (c *Client) ImportStudents(ctx context.Context, filename string, r io.Reader) (model.ImportSummary, error) {
	const op = "import students"
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return model.ImportSummary{}, &RemoteError{Op: op, Err: err}
	}
	if _, err := io.Copy(part, r); err != nil {
		return model.ImportSummary{}, &RemoteError{Op: op, Err: err}
	}
	if err := mw.Close(); err != nil {
		return model.ImportSummary{}, &RemoteError{Op: op, Err: err}
	}

	resp, err := c.send(ctx, op, http.MethodPost, "/api/students/import", &buf, mw.FormDataContentType())
	if err != nil {
		return model.ImportSummary{}, err
	}
	defer resp.Body.Close()
	var out model.ImportSummary
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.ImportSummary{}, &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return out, nil
}
