package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadray/backoffice/internal/repository"
)

type recordingInserter struct {
	inserted []repository.Application
}

func (r *recordingInserter) Insert(_ context.Context, a repository.Application) (uint64, error) {
	r.inserted = append(r.inserted, a)
	return uint64(len(r.inserted)), nil
}

func TestHandleMessageInsertsApplication(t *testing.T) {
	ins := &recordingInserter{}
	body := []byte(`{
		"telegram_id": 123456,
		"username": "lead42",
		"first_name": "Lena",
		"phone": "+491700000000",
		"age": 28,
		"citizenship": "DE",
		"source": "landing",
		"campaign_id": 7,
		"submitted_at": "2025-05-01T10:30:00Z"
	}`)

	require.NoError(t, handleMessage(body, ins))
	require.Len(t, ins.inserted, 1)

	a := ins.inserted[0]
	assert.Equal(t, int64(123456), a.TelegramID)
	require.NotNil(t, a.Username)
	assert.Equal(t, "lead42", *a.Username)
	assert.Equal(t, "+491700000000", a.Phone)
	require.NotNil(t, a.CampaignID)
	assert.Equal(t, uint64(7), *a.CampaignID)
	assert.Equal(t, time.Date(2025, 5, 1, 10, 30, 0, 0, time.UTC), a.SubmittedAt)
}

func TestHandleMessageWithoutTimestampUsesNow(t *testing.T) {
	ins := &recordingInserter{}
	body := []byte(`{"telegram_id": 1, "phone": "+1", "age": 30, "citizenship": "PL"}`)

	require.NoError(t, handleMessage(body, ins))
	require.Len(t, ins.inserted, 1)
	assert.WithinDuration(t, time.Now().UTC(), ins.inserted[0].SubmittedAt, time.Minute)
}

func TestHandleMessageRejectsBadPayloads(t *testing.T) {
	ins := &recordingInserter{}

	assert.Error(t, handleMessage([]byte(`not json`), ins))
	assert.Error(t, handleMessage([]byte(`{"phone":"+1"}`), ins))
	assert.Error(t, handleMessage([]byte(`{"telegram_id":5}`), ins))
	assert.Error(t, handleMessage([]byte(`{"telegram_id":5,"phone":"+1","submitted_at":"yesterday"}`), ins))
	assert.Empty(t, ins.inserted)
}
