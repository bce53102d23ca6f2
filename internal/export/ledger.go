package export

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"weektally/internal/fault"
	"weektally/internal/log"
	"weektally/internal/model"
)

// Ledger actions understood by the submission backend.
const (
	actionSubmitRecords     = "submitRecords"
	actionSubmittedRecords  = "getSubmittedRecords"
	actionUpdateCourseCache = "updateUserCourseCache"
)

// Ledger is the client for the weekly submission backend. Submission is a
// single request with no client-side retry: on failure the categorization
// store is untouched and the user retries manually.
type Ledger struct {
	client *http.Client
	url    string
	email  string
}

// NewLedger builds a Ledger client. email identifies the submitting account
// on the backend side.
func NewLedger(endpoint, email string) *Ledger {
	return &Ledger{
		client: &http.Client{Timeout: 30 * time.Second},
		url:    endpoint,
		email:  email,
	}
}

type ledgerResponse struct {
	Success         bool           `json:"success"`
	Message         string         `json:"message"`
	Error           string         `json:"error"`
	BatchID         string         `json:"batchId"`
	NewRecords      int            `json:"newRecords"`
	MarkedAsInvalid int            `json:"markedAsInvalid"`
	Data            []model.Record `json:"data"`
	Count           int            `json:"count"`
}

// Submit posts a batch of records for the given week id (YYYY-WW). The
// backend invalidates the week's previous batch and returns counts.
func (l *Ledger) Submit(ctx context.Context, weekID string, records []model.Record) (model.SubmitResult, error) {
	if err := validateRecords(records); err != nil {
		return model.SubmitResult{}, err
	}

	payload := map[string]any{
		"action":  actionSubmitRecords,
		"email":   l.email,
		"week":    weekID,
		"records": records,
	}

	resp, err := l.post(ctx, payload)
	if err != nil {
		return model.SubmitResult{}, err
	}

	log.Info("batch submitted",
		"week", weekID, "records", len(records),
		"new", resp.NewRecords, "invalidated", resp.MarkedAsInvalid, "batch", resp.BatchID)

	return model.SubmitResult{
		Message:         resp.Message,
		NewRecords:      resp.NewRecords,
		MarkedAsInvalid: resp.MarkedAsInvalid,
		BatchID:         resp.BatchID,
	}, nil
}

// SubmittedRecords fetches the records previously submitted for a week,
// along with their batch id.
func (l *Ledger) SubmittedRecords(ctx context.Context, weekID string) ([]model.Record, string, error) {
	resp, err := l.get(ctx, actionSubmittedRecords, url.Values{"week": {weekID}})
	if err != nil {
		return nil, "", err
	}
	return resp.Data, resp.BatchID, nil
}

// UpdateCourseCache pushes the selected entity ids to the backend so other
// surfaces see the same working set.
func (l *Ledger) UpdateCourseCache(ctx context.Context, entityIDs []string) error {
	payload := map[string]any{
		"action":    actionUpdateCourseCache,
		"email":     l.email,
		"courseIds": entityIDs,
	}
	_, err := l.post(ctx, payload)
	return err
}

// validateRecords rejects a malformed batch before it leaves the process.
// Calendar records must carry both boundaries; manual records must not rely
// on them.
func validateRecords(records []model.Record) error {
	for i, rec := range records {
		if rec.EventName == "" || rec.EventType == "" || rec.MasterEntityID == "" {
			return fault.Validationf("record %d is missing required fields", i+1)
		}
		if rec.EventType == model.RecordCalendar && (rec.StartTime == "" || rec.EndTime == "") {
			return fault.Validationf("record %d (calendar) is missing startTime or endTime", i+1)
		}
	}
	return nil
}

func (l *Ledger) post(ctx context.Context, payload map[string]any) (*ledgerResponse, error) {
	if l.email == "" {
		return nil, fault.Authf("no account email configured for the ledger")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return l.do(req)
}

func (l *Ledger) get(ctx context.Context, action string, params url.Values) (*ledgerResponse, error) {
	if l.email == "" {
		return nil, fault.Authf("no account email configured for the ledger")
	}

	params.Set("action", action)
	params.Set("email", l.email)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return l.do(req)
}

func (l *Ledger) do(req *http.Request) (*ledgerResponse, error) {
	httpResp, err := l.client.Do(req)
	if err != nil {
		return nil, fault.Submissionf("ledger unreachable: %v", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fault.Submissionf("ledger returned %s", httpResp.Status)
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fault.Submissionf("reading ledger response: %v", err)
	}

	var resp ledgerResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fault.Submissionf("malformed ledger response: %v", err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		return nil, fault.Submissionf("%s", msg)
	}
	return &resp, nil
}
