package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"tourbook/internal/events"
	"tourbook/internal/worker"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// statusColumn holds the settlement status in the payout ledger.
const statusColumn = "M"

var payoutHeaders = []interface{}{
	"Settlement ID", "Reference", "Merchant ID", "Period Start", "Period End",
	"Bookings", "Revenue", "Platform Fee", "Merchant Payout",
	"Adjustments", "Adjustment Payout", "Net Payout", "Status", "Updated At",
}

// PayoutSheet mirrors settlements into a Google spreadsheet, one row per settlement.
type PayoutSheet struct {
	service       *sheets.Service
	spreadsheetID string
	sheet         string
	rowCache      map[int64]int
	cacheMu       sync.RWMutex
}

func NewPayoutSheet(ctx context.Context, credentialsFile, spreadsheetID, sheet string) (*PayoutSheet, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return NewPayoutSheetWithService(srv, spreadsheetID, sheet), nil
}

// NewPayoutSheetWithService wraps an already configured Sheets client.
func NewPayoutSheetWithService(srv *sheets.Service, spreadsheetID, sheet string) *PayoutSheet {
	if sheet == "" {
		sheet = "Payouts"
	}
	return &PayoutSheet{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheet:         sheet,
		rowCache:      make(map[int64]int),
	}
}

func (p *PayoutSheet) Name() string { return worker.TargetSheets }

func (p *PayoutSheet) Accepts(eventType string) bool {
	return eventType == events.EventSettlementCreated || eventType == events.EventSettlementPaidOut
}

func (p *PayoutSheet) Deliver(ctx context.Context, eventType string, payload []byte) error {
	var s events.SettlementEventPayload
	if err := json.Unmarshal(payload, &s); err != nil {
		return fmt.Errorf("decode settlement payload: %w", err)
	}
	if s.SettlementID == 0 {
		return fmt.Errorf("%s payload has no settlement_id", eventType)
	}
	return p.UpsertSettlement(ctx, &s)
}

// TestConnection reads the header cell of the payout sheet.
func (p *PayoutSheet) TestConnection(ctx context.Context) error {
	_, err := p.service.Spreadsheets.Values.Get(p.spreadsheetID, p.sheet+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// EnsureHeader writes the column titles into the first row.
func (p *PayoutSheet) EnsureHeader(ctx context.Context) error {
	rangeData := fmt.Sprintf("%s!A1:N1", p.sheet)
	_, err := p.service.Spreadsheets.Values.Update(p.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{payoutHeaders},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// WarmUpCache indexes existing rows by settlement ID from column A.
func (p *PayoutSheet) WarmUpCache(ctx context.Context) error {
	resp, err := p.service.Spreadsheets.Values.Get(p.spreadsheetID, p.sheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.rowCache = make(map[int64]int)

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		var id int64
		switch v := row[0].(type) {
		case float64:
			id = int64(v)
		case string:
			_, _ = fmt.Sscanf(v, "%d", &id)
		}
		if id > 0 {
			p.rowCache[id] = i + 1
		}
	}
	return nil
}

// UpsertSettlement rewrites the settlement's row when known, otherwise appends it.
func (p *PayoutSheet) UpsertSettlement(ctx context.Context, s *events.SettlementEventPayload) error {
	if row, ok := p.getCachedRow(s.SettlementID); ok {
		rangeData := fmt.Sprintf("%s!A%d:N%d", p.sheet, row, row)
		_, err := p.service.Spreadsheets.Values.Update(p.spreadsheetID, rangeData, &sheets.ValueRange{
			Values: [][]interface{}{settlementRow(s)},
		}).ValueInputOption("RAW").Context(ctx).Do()
		return err
	}
	return p.appendSettlement(ctx, s)
}

// UpdateStatus changes only the status cell of a known settlement row.
func (p *PayoutSheet) UpdateStatus(ctx context.Context, settlementID int64, status string) error {
	row, ok := p.getCachedRow(settlementID)
	if !ok {
		return fmt.Errorf("settlement %d not found in payout sheet", settlementID)
	}
	rangeData := fmt.Sprintf("%s!%s%d", p.sheet, statusColumn, row)
	_, err := p.service.Spreadsheets.Values.Update(p.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{{status}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (p *PayoutSheet) appendSettlement(ctx context.Context, s *events.SettlementEventPayload) error {
	resp, err := p.service.Spreadsheets.Values.Append(p.spreadsheetID, p.sheet+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{settlementRow(s)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}

	if resp.Updates != nil {
		if row, ok := parseRowFromRange(resp.Updates.UpdatedRange); ok {
			p.setCachedRow(s.SettlementID, row)
		}
	}
	return nil
}

func settlementRow(s *events.SettlementEventPayload) []interface{} {
	return []interface{}{
		s.SettlementID,
		s.Reference,
		s.MerchantID,
		s.PeriodStart,
		s.PeriodEnd,
		s.BookingCount,
		s.TotalRevenue,
		s.TotalPlatformFee,
		s.TotalMerchantPayout,
		s.AdjustmentCount,
		s.AdjustmentPayout,
		s.NetPayout,
		s.Status,
		time.Now().UTC().Format("2006-01-02 15:04:05"),
	}
}

// parseRowFromRange extracts the first row number from ranges like "Payouts!A10:N10".
func parseRowFromRange(updated string) (int, bool) {
	if i := strings.LastIndex(updated, "!"); i >= 0 {
		updated = updated[i+1:]
	}
	if i := strings.Index(updated, ":"); i >= 0 {
		updated = updated[:i]
	}
	row, err := strconv.Atoi(strings.TrimLeft(updated, "ABCDEFGHIJKLMNOPQRSTUVWXYZ$"))
	if err != nil || row <= 0 {
		return 0, false
	}
	return row, true
}

func (p *PayoutSheet) getCachedRow(id int64) (int, bool) {
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	row, ok := p.rowCache[id]
	return row, ok
}

func (p *PayoutSheet) setCachedRow(id int64, row int) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.rowCache[id] = row
}
