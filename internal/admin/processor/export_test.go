package processor

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"funnel-server/internal/attribution"
	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

func TestExportLeadsCSV(t *testing.T) {
	adminStore := new(MockAdminStore)
	p := New(adminStore, new(MockProvisioner), nil, observability.NewLogger())

	phone := "+5511999990000"
	convertedAt := time.Date(2025, 3, 2, 9, 30, 0, 0, time.UTC)
	leads := []store.Lead{
		{
			ID:     uuid.New(),
			Name:   "João Silva",
			Email:  "joao@example.com",
			Phone:  &phone,
			Source: "ebook",
			Status: store.LeadStatusConverted,
			UTM: attribution.Record{
				LastTouch: &attribution.Touch{Source: "instagram", Medium: "social", Campaign: "lancamento"},
			},
			DownloadCount: 2,
			CreatedAt:     time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
			ConvertedAt:   &convertedAt,
		},
		{
			ID:        uuid.New(),
			Name:      "Maria Souza",
			Email:     "maria@example.com",
			Source:    "ebook",
			Status:    store.LeadStatusNew,
			CreatedAt: time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC),
		},
	}

	adminStore.On("ListLeads", mock.Anything, mock.MatchedBy(func(params store.ListLeadsParams) bool {
		return params.Limit == exportBatchSize && params.Offset == 0
	})).Return(leads, 2, nil)

	var buf bytes.Buffer
	err := p.ExportLeadsCSV(context.Background(), &buf, store.ListLeadsParams{})
	assert.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\xEF\xBB\xBF"), "export should start with a UTF-8 BOM")

	records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(out, "\xEF\xBB\xBF"))).ReadAll()
	assert.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, leadExportHeader, records[0])

	assert.Equal(t, "João Silva", records[1][1])
	assert.Equal(t, "instagram", records[1][6])
	assert.Equal(t, "lancamento", records[1][8])
	assert.Equal(t, "2", records[1][10])
	assert.Equal(t, "2025-03-02T09:30:00Z", records[1][12])

	assert.Equal(t, "maria@example.com", records[2][2])
	assert.Equal(t, "", records[2][6])
	assert.Equal(t, "", records[2][12])
}

func TestExportLeadsCSVPaginates(t *testing.T) {
	adminStore := new(MockAdminStore)
	p := New(adminStore, new(MockProvisioner), nil, observability.NewLogger())

	firstPage := make([]store.Lead, exportBatchSize)
	for i := range firstPage {
		firstPage[i] = store.Lead{ID: uuid.New(), Email: "bulk@example.com", CreatedAt: time.Now()}
	}
	secondPage := []store.Lead{{ID: uuid.New(), Email: "last@example.com", CreatedAt: time.Now()}}
	total := exportBatchSize + 1

	adminStore.On("ListLeads", mock.Anything, mock.MatchedBy(func(params store.ListLeadsParams) bool {
		return params.Offset == 0
	})).Return(firstPage, total, nil).Once()
	adminStore.On("ListLeads", mock.Anything, mock.MatchedBy(func(params store.ListLeadsParams) bool {
		return params.Offset == exportBatchSize
	})).Return(secondPage, total, nil).Once()

	var buf bytes.Buffer
	err := p.ExportLeadsCSV(context.Background(), &buf, store.ListLeadsParams{})

	assert.NoError(t, err)
	assert.Equal(t, total+1, strings.Count(buf.String(), "\n"))
	adminStore.AssertExpectations(t)
}
