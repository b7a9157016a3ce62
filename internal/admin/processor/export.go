package processor

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"funnel-server/internal/store"
)

// exportBatchSize bounds each page pulled while streaming the CSV.
const exportBatchSize = 500

var leadExportHeader = []string{
	"id", "name", "email", "phone", "source", "status",
	"utm_source", "utm_medium", "utm_campaign", "affiliate_code",
	"download_count", "created_at", "converted_at",
}

// ExportLeadsCSV streams every lead matching the filters as CSV. The writer
// receives a UTF-8 BOM first so Excel pt-BR opens it with accents intact.
func (p *AdminProcessor) ExportLeadsCSV(ctx context.Context, w io.Writer, params store.ListLeadsParams) error {
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(leadExportHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	params.Limit = exportBatchSize
	params.Offset = 0
	for {
		leads, total, err := p.store.ListLeads(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to list leads for export: %w", err)
		}
		for _, lead := range leads {
			if err := cw.Write(leadExportRow(lead)); err != nil {
				return fmt.Errorf("failed to write csv row: %w", err)
			}
		}
		params.Offset += len(leads)
		if len(leads) == 0 || params.Offset >= total {
			break
		}
	}

	cw.Flush()
	return cw.Error()
}

func leadExportRow(lead store.Lead) []string {
	row := []string{
		lead.ID.String(),
		lead.Name,
		lead.Email,
		deref(lead.Phone),
		lead.Source,
		lead.Status,
		"", "", "",
		deref(lead.AffiliateCode),
		fmt.Sprintf("%d", lead.DownloadCount),
		lead.CreatedAt.UTC().Format(time.RFC3339),
		"",
	}
	if lead.UTM.LastTouch != nil {
		row[6] = lead.UTM.LastTouch.Source
		row[7] = lead.UTM.LastTouch.Medium
		row[8] = lead.UTM.LastTouch.Campaign
	}
	if lead.ConvertedAt != nil {
		row[12] = lead.ConvertedAt.UTC().Format(time.RFC3339)
	}
	return row
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
